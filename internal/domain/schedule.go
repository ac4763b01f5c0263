package domain

import "time"

// ScheduleStatus enumerates the states of a deferred campaign.
type ScheduleStatus string

const (
	ScheduleScheduled ScheduleStatus = "scheduled"
	ScheduleExecuted  ScheduleStatus = "executed"
	ScheduleCancelled ScheduleStatus = "cancelled"
	ScheduleFailed    ScheduleStatus = "failed"
	ScheduleExpired   ScheduleStatus = "expired"
)

// IsTerminal is true for every state except scheduled.
func (s ScheduleStatus) IsTerminal() bool {
	return s != ScheduleScheduled
}

// ScheduledCampaign is a campaign deferred to a future trigger time.
type ScheduledCampaign struct {
	ID            string          `json:"id" db:"id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	CreatedBy     string          `json:"created_by" db:"created_by"`
	TargetAt      time.Time       `json:"target_at" db:"target_at"`
	Payload       CampaignRequest `json:"payload" db:"payload"`
	Status        ScheduleStatus  `json:"status" db:"status"`
	CampaignID    *string         `json:"campaign_id,omitempty" db:"campaign_id"`
	FailureReason string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty" db:"executed_at"`
}
