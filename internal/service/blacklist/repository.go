package blacklist

import (
	"context"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// Repository defines the data access contract for the blacklist and its
// abuse reports. Phones are always passed in normalized form.
type Repository interface {
	// FindActive returns the active entry for a phone, or ErrNotFound.
	FindActive(ctx context.Context, phone string) (*domain.BlacklistEntry, error)

	// Insert creates an entry. Returns ErrAlreadyBlacklisted if an active
	// entry for the phone exists.
	Insert(ctx context.Context, e *domain.BlacklistEntry) error

	// MarkRemoved soft-deletes the active entry. Returns ErrNotFound if none.
	MarkRemoved(ctx context.Context, phone, removedBy string, at time.Time) error

	// List returns entries matching the filter and the total match count.
	List(ctx context.Context, filter ListFilter) ([]domain.BlacklistEntry, int, error)

	// Stats aggregates entry counts.
	Stats(ctx context.Context) (*Stats, error)

	// InsertReport records an abuse report.
	InsertReport(ctx context.Context, r *domain.AbuseReport) error

	// HasReported reports whether reporterID already filed a counted report
	// against phone.
	HasReported(ctx context.Context, phone, reporterID string) (bool, error)

	// CountConfirmedReports counts reports that contribute to escalation.
	CountConfirmedReports(ctx context.Context, phone string) (int, error)

	// UpdateReportStatus changes the status of one report.
	UpdateReportStatus(ctx context.Context, id string, status domain.ReportStatus) error

	// ListReports returns every report for a phone, oldest first.
	ListReports(ctx context.Context, phone string) ([]domain.AbuseReport, error)
}

// ListFilter controls pagination and filtering for blacklist listings.
type ListFilter struct {
	Status string
	Source string
	Search string
	Limit  int
	Offset int
}

// Stats returns aggregate counts grouped by source and reason.
type Stats struct {
	TotalActive  int            `json:"total_active"`
	TotalRemoved int            `json:"total_removed"`
	BySource     map[string]int `json:"by_source"`
	ByReason     map[string]int `json:"by_reason"`
}
