package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignQueued              CampaignStatus = "queued"
	CampaignProcessing          CampaignStatus = "processing"
	CampaignPaused              CampaignStatus = "paused"
	CampaignCompleted           CampaignStatus = "completed"
	CampaignCompletedWithErrors CampaignStatus = "completed_with_errors"
	CampaignFailed              CampaignStatus = "failed"
)

// IsTerminal returns true for the three final outcomes.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCompletedWithErrors || s == CampaignFailed
}

// ChannelType is the outbound messaging class. Each class carries its own
// provider-imposed throughput cap.
type ChannelType string

const (
	ChannelMarketing ChannelType = "marketing"
	ChannelUtility   ChannelType = "utility"
)

// Campaign is one batch-send unit.
type Campaign struct {
	ID               string         `json:"id" db:"id"`
	TenantID         string         `json:"tenant_id" db:"tenant_id"`
	UserID           string         `json:"user_id" db:"user_id"`
	Name             string         `json:"name" db:"name"`
	TemplateID       string         `json:"template_id" db:"template_id"`
	ChannelType      ChannelType    `json:"channel_type" db:"channel_type"`
	Status           CampaignStatus `json:"status" db:"status"`
	TotalContacts    int            `json:"total_contacts" db:"total_contacts"`
	SentCount        int            `json:"sent_count" db:"sent_count"`
	ErrorCount       int            `json:"error_count" db:"error_count"`
	BlacklistedCount int            `json:"blacklisted_count" db:"blacklisted_count"`
	FailureReason    string         `json:"failure_reason,omitempty" db:"failure_reason"`
	ScheduleID       *string        `json:"schedule_id,omitempty" db:"schedule_id"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// ProgressPct returns the integer percentage of processed sendable contacts.
func (c *Campaign) ProgressPct() int {
	return ProgressPct(c.SentCount+c.ErrorCount, c.TotalContacts-c.BlacklistedCount)
}

// ProgressPct computes done/total as a 0-100 integer.
func ProgressPct(done, total int) int {
	if total <= 0 {
		return 100
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}
	return pct
}

// CanTransition reports whether a campaign may move from one status to
// another. Status is monotonic except processing -> paused -> processing.
func CanTransition(from, to CampaignStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case CampaignProcessing:
		return from == CampaignQueued || from == CampaignPaused || from == CampaignProcessing
	case CampaignPaused:
		return from == CampaignQueued || from == CampaignProcessing
	case CampaignCompleted, CampaignCompletedWithErrors:
		return from == CampaignProcessing
	case CampaignFailed:
		return true
	}
	return false
}

// FinalStatus derives the terminal status of a finished dispatch pass.
func FinalStatus(sent, errors int, tripped bool) CampaignStatus {
	switch {
	case tripped:
		return CampaignFailed
	case errors == 0:
		return CampaignCompleted
	case sent == 0:
		return CampaignFailed
	default:
		return CampaignCompletedWithErrors
	}
}

// TransitionSources lists every status from which a campaign may move to
// the given status. Repositories use it for conditional updates.
func TransitionSources(to CampaignStatus) []CampaignStatus {
	all := []CampaignStatus{CampaignQueued, CampaignProcessing, CampaignPaused}
	var out []CampaignStatus
	for _, from := range all {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
