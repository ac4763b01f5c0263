package domain

import "time"

// MessageStatus is the outcome of one contact's send.
type MessageStatus string

const (
	MessageSent   MessageStatus = "sent"
	MessageFailed MessageStatus = "failed"
)

// MessageLogEntry is the durable record of one contact's send outcome.
// Exactly one entry exists per contact per campaign.
type MessageLogEntry struct {
	ID                string        `json:"id" db:"id"`
	CampaignID        string        `json:"campaign_id" db:"campaign_id"`
	Position          int           `json:"position" db:"position"`
	Phone             string        `json:"phone" db:"phone"`
	Status            MessageStatus `json:"status" db:"status"`
	ProviderMessageID string        `json:"provider_message_id,omitempty" db:"provider_message_id"`
	ErrorCategory     ErrorCategory `json:"error_category,omitempty" db:"error_category"`
	ErrorMessage      string        `json:"error_message,omitempty" db:"error_message"`
	Attempts          int           `json:"attempts" db:"attempts"`
	Body              string        `json:"body,omitempty" db:"body"`
	SentAt            time.Time     `json:"sent_at" db:"sent_at"`
}
