package campaign

import (
	"context"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// Repository defines the data access contract for campaigns and their
// message logs. Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a campaign. Returns ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, c *domain.Campaign) error

	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns a tenant's campaigns, newest first, and the match count.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.Campaign, int, error)

	// Transition moves a campaign to status `to` if domain.CanTransition
	// allows it from the current status, otherwise ErrInvalidTransition.
	// started_at is stamped on the first move to processing and
	// completed_at on a terminal status. A non-empty reason is stored as the
	// failure reason.
	Transition(ctx context.Context, id string, to domain.CampaignStatus, reason string, at time.Time) error

	// SetTotals records the outcome of validation and filtering. The error
	// count is set to the number of rejected rows.
	SetTotals(ctx context.Context, id string, t Totals) error

	// RecordMessage inserts the log entry for one contact and atomically
	// increments the campaign's sent or error count. It is idempotent per
	// (campaign, position): a repeat returns false and changes nothing.
	RecordMessage(ctx context.Context, e *domain.MessageLogEntry) (bool, error)

	// Messages returns a campaign's log entries in position order.
	Messages(ctx context.Context, campaignID string, limit, offset int) ([]domain.MessageLogEntry, error)
}

// TemplateStore is read-only access to approved message templates.
type TemplateStore interface {
	Get(ctx context.Context, tenantID, id string) (*domain.Template, error)
}

// Totals are the per-campaign counts known after validation.
type Totals struct {
	Total       int
	Rejected    int
	Blacklisted int
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}
