// Package memory provides in-process implementations of every repository
// interface. They back the "memory" storage driver for local runs and drive
// the service and worker tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
)

type logKey struct {
	campaignID string
	position   int
}

// CampaignRepo implements campaign.Repository.
type CampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	logs      map[string][]domain.MessageLogEntry // campaign ID -> entries in insert order
	logged    map[logKey]bool
}

// NewCampaignRepo creates an empty campaign repository.
func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{
		campaigns: make(map[string]*domain.Campaign),
		logs:      make(map[string][]domain.MessageLogEntry),
		logged:    make(map[logKey]bool),
	}
}

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[c.ID]; ok {
		return campaign.ErrAlreadyExists
	}
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *CampaignRepo) Get(_ context.Context, id string) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) List(_ context.Context, tenantID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Campaign
	for _, c := range r.campaigns {
		if tenantID != "" && c.TenantID != tenantID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	total := len(out)
	return page(out, f.Limit, f.Offset), total, nil
}

func (r *CampaignRepo) Transition(_ context.Context, id string, to domain.CampaignStatus, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if !domain.CanTransition(c.Status, to) {
		return campaign.ErrInvalidTransition
	}
	c.Status = to
	c.UpdatedAt = at
	if reason != "" {
		c.FailureReason = reason
	}
	if to == domain.CampaignProcessing && c.StartedAt == nil {
		t := at
		c.StartedAt = &t
	}
	if to.IsTerminal() {
		t := at
		c.CompletedAt = &t
	}
	return nil
}

func (r *CampaignRepo) SetTotals(_ context.Context, id string, t campaign.Totals) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.TotalContacts = t.Total
	c.ErrorCount = t.Rejected
	c.BlacklistedCount = t.Blacklisted
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CampaignRepo) RecordMessage(_ context.Context, e *domain.MessageLogEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[e.CampaignID]
	if !ok {
		return false, campaign.ErrNotFound
	}
	key := logKey{e.CampaignID, e.Position}
	if r.logged[key] {
		return false, nil
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	r.logged[key] = true
	r.logs[e.CampaignID] = append(r.logs[e.CampaignID], *e)

	if e.Status == domain.MessageSent {
		c.SentCount++
	} else {
		c.ErrorCount++
	}
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *CampaignRepo) Messages(_ context.Context, campaignID string, limit, offset int) ([]domain.MessageLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]domain.MessageLogEntry(nil), r.logs[campaignID]...)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Position < out[b].Position })
	return page(out, limit, offset), nil
}

// LogOrder returns the phones of a campaign's entries in insert order.
func (r *CampaignRepo) LogOrder(campaignID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.logs[campaignID] {
		out = append(out, e.Phone)
	}
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
