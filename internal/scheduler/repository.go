package scheduler

import (
	"context"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// Repository persists deferred campaigns. The store, not in-process timers,
// is the source of truth for what is due.
type Repository interface {
	// Create inserts a schedule in status scheduled.
	Create(ctx context.Context, s *domain.ScheduledCampaign) error

	// Get returns one schedule, or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.ScheduledCampaign, error)

	// List returns a tenant's schedules, soonest target first.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]domain.ScheduledCampaign, int, error)

	// Due returns pending schedules whose target is after `after` and at or
	// before `before`, oldest target first. A zero `after` has no lower bound.
	Due(ctx context.Context, after, before time.Time, limit int) ([]domain.ScheduledCampaign, error)

	// Finish moves a pending schedule to a terminal status. It returns
	// ErrNotPending if the schedule already left status scheduled, which
	// makes every transition happen at most once.
	Finish(ctx context.Context, id string, to domain.ScheduleStatus, campaignID *string, reason string, at time.Time) error
}

// ListFilter controls pagination and filtering for schedule lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}
