package domain

import "time"

// EventType names a progress stream event.
type EventType string

const (
	EventProgress EventType = "campaign_progress"
	EventStatus   EventType = "campaign_status"
	EventError    EventType = "campaign_error"
)

// Event is one entry of a campaign's progress stream. Data holds a Progress,
// StatusUpdate or ErrorNotice matching Type.
type Event struct {
	Type       EventType `json:"type"`
	CampaignID string    `json:"campaignId"`
	Data       any       `json:"data"`
}

// Progress is the payload of campaign_progress.
type Progress struct {
	CampaignID string    `json:"campaignId"`
	Sent       int       `json:"sent"`
	Total      int       `json:"total"`
	Progress   int       `json:"progress"`
	Errors     int       `json:"errors"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusUpdate is the payload of campaign_status.
type StatusUpdate struct {
	CampaignID    string         `json:"campaignId"`
	Status        CampaignStatus `json:"status"`
	Message       string         `json:"message,omitempty"`
	TotalContacts int            `json:"totalContacts,omitempty"`
	SentCount     int            `json:"sentCount,omitempty"`
	ErrorCount    int            `json:"errorCount,omitempty"`
}

// ErrorNotice is the payload of campaign_error.
type ErrorNotice struct {
	CampaignID string `json:"campaignId"`
	Error      string `json:"error"`
	ErrorType  string `json:"errorType"`
}
