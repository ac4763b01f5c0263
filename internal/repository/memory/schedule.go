package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/scheduler"
)

// ScheduleRepo implements scheduler.Repository.
type ScheduleRepo struct {
	mu        sync.Mutex
	schedules map[string]*domain.ScheduledCampaign
}

// NewScheduleRepo creates an empty schedule repository.
func NewScheduleRepo() *ScheduleRepo {
	return &ScheduleRepo{schedules: make(map[string]*domain.ScheduledCampaign)}
}

func (r *ScheduleRepo) Create(_ context.Context, s *domain.ScheduledCampaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.schedules[s.ID] = &cp
	return nil
}

func (r *ScheduleRepo) Get(_ context.Context, id string) (*domain.ScheduledCampaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, scheduler.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *ScheduleRepo) List(_ context.Context, tenantID string, f scheduler.ListFilter) ([]domain.ScheduledCampaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ScheduledCampaign
	for _, s := range r.schedules {
		if tenantID != "" && s.TenantID != tenantID {
			continue
		}
		if f.Status != "" && string(s.Status) != f.Status {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].TargetAt.Before(out[b].TargetAt) })
	total := len(out)
	return page(out, f.Limit, f.Offset), total, nil
}

func (r *ScheduleRepo) Due(_ context.Context, after, before time.Time, limit int) ([]domain.ScheduledCampaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ScheduledCampaign
	for _, s := range r.schedules {
		if s.Status != domain.ScheduleScheduled || s.TargetAt.After(before) {
			continue
		}
		if !after.IsZero() && !s.TargetAt.After(after) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].TargetAt.Before(out[b].TargetAt) })
	return page(out, limit, 0), nil
}

func (r *ScheduleRepo) Finish(_ context.Context, id string, to domain.ScheduleStatus, campaignID *string, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedules[id]
	if !ok {
		return scheduler.ErrNotFound
	}
	if s.Status != domain.ScheduleScheduled {
		return scheduler.ErrNotPending
	}
	s.Status = to
	s.CampaignID = campaignID
	s.FailureReason = reason
	s.UpdatedAt = at
	if to == domain.ScheduleExecuted {
		t := at
		s.ExecutedAt = &t
	}
	return nil
}
