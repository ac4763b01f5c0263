package domain

import "time"

// BlacklistSource records how a number was suppressed.
type BlacklistSource string

const (
	SourceAdmin      BlacklistSource = "admin"
	SourceUserReport BlacklistSource = "user_report"
	SourceSystemAuto BlacklistSource = "system_auto"
)

// BlacklistStatus is active until soft-deleted.
type BlacklistStatus string

const (
	BlacklistActive  BlacklistStatus = "active"
	BlacklistRemoved BlacklistStatus = "removed"
)

// BlacklistEntry is a suppressed phone number. Entries are never hard-deleted.
type BlacklistEntry struct {
	ID        string          `json:"id" db:"id"`
	Phone     string          `json:"phone" db:"phone"`
	Reason    string          `json:"reason" db:"reason"`
	Source    BlacklistSource `json:"source" db:"source"`
	Status    BlacklistStatus `json:"status" db:"status"`
	AddedBy   string          `json:"added_by" db:"added_by"`
	RemovedBy *string         `json:"removed_by,omitempty" db:"removed_by"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	RemovedAt *time.Time      `json:"removed_at,omitempty" db:"removed_at"`
}

// ReportStatus tracks whether an abuse report counts toward auto-suppression.
type ReportStatus string

const (
	ReportConfirmed       ReportStatus = "confirmed"
	ReportDuplicate       ReportStatus = "duplicate"
	ReportAutoBlacklisted ReportStatus = "auto_blacklisted"
)

// Counts reports whether the report contributes to the confirmed tally.
func (s ReportStatus) Counts() bool {
	return s == ReportConfirmed || s == ReportAutoBlacklisted
}

// AbuseReport is one complaint against a phone number.
type AbuseReport struct {
	ID         string       `json:"id" db:"id"`
	Phone      string       `json:"phone" db:"phone"`
	Reason     string       `json:"reason" db:"reason"`
	ReporterID string       `json:"reporter_id" db:"reporter_id"`
	Status     ReportStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}

// Actor identifies who performs a mutating operation.
type Actor struct {
	ID         string `json:"id"`
	Privileged bool   `json:"privileged"`
}
