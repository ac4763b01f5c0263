package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/service/blacklist"
)

// BlacklistRepo implements blacklist.Repository.
type BlacklistRepo struct {
	mu      sync.RWMutex
	entries []*domain.BlacklistEntry
	reports []*domain.AbuseReport
}

// NewBlacklistRepo creates an empty blacklist repository.
func NewBlacklistRepo() *BlacklistRepo {
	return &BlacklistRepo{}
}

func (r *BlacklistRepo) FindActive(_ context.Context, phone string) (*domain.BlacklistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.active(phone); e != nil {
		cp := *e
		return &cp, nil
	}
	return nil, blacklist.ErrNotFound
}

// active returns the active entry for phone. Caller holds r.mu.
func (r *BlacklistRepo) active(phone string) *domain.BlacklistEntry {
	for _, e := range r.entries {
		if e.Phone == phone && e.Status == domain.BlacklistActive {
			return e
		}
	}
	return nil
}

func (r *BlacklistRepo) Insert(_ context.Context, e *domain.BlacklistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active(e.Phone) != nil {
		return blacklist.ErrAlreadyBlacklisted
	}
	cp := *e
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *BlacklistRepo) MarkRemoved(_ context.Context, phone, removedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.active(phone)
	if e == nil {
		return blacklist.ErrNotFound
	}
	e.Status = domain.BlacklistRemoved
	e.RemovedBy = &removedBy
	e.RemovedAt = &at
	return nil
}

func (r *BlacklistRepo) List(_ context.Context, f blacklist.ListFilter) ([]domain.BlacklistEntry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.BlacklistEntry
	for _, e := range r.entries {
		if f.Status != "" && string(e.Status) != f.Status {
			continue
		}
		if f.Source != "" && string(e.Source) != f.Source {
			continue
		}
		if f.Search != "" && !strings.Contains(e.Phone, f.Search) {
			continue
		}
		out = append(out, *e)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	total := len(out)
	return page(out, f.Limit, f.Offset), total, nil
}

func (r *BlacklistRepo) Stats(_ context.Context) (*blacklist.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := &blacklist.Stats{BySource: map[string]int{}, ByReason: map[string]int{}}
	for _, e := range r.entries {
		if e.Status == domain.BlacklistRemoved {
			st.TotalRemoved++
			continue
		}
		st.TotalActive++
		st.BySource[string(e.Source)]++
		st.ByReason[e.Reason]++
	}
	return st, nil
}

func (r *BlacklistRepo) InsertReport(_ context.Context, rep *domain.AbuseReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rep
	r.reports = append(r.reports, &cp)
	return nil
}

func (r *BlacklistRepo) HasReported(_ context.Context, phone, reporterID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rep := range r.reports {
		if rep.Phone == phone && rep.ReporterID == reporterID && rep.Status.Counts() {
			return true, nil
		}
	}
	return false, nil
}

func (r *BlacklistRepo) CountConfirmedReports(_ context.Context, phone string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, rep := range r.reports {
		if rep.Phone == phone && rep.Status.Counts() {
			n++
		}
	}
	return n, nil
}

func (r *BlacklistRepo) UpdateReportStatus(_ context.Context, id string, status domain.ReportStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.reports {
		if rep.ID == id {
			rep.Status = status
			return nil
		}
	}
	return blacklist.ErrNotFound
}

func (r *BlacklistRepo) ListReports(_ context.Context, phone string) ([]domain.AbuseReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.AbuseReport
	for _, rep := range r.reports {
		if rep.Phone == phone {
			out = append(out, *rep)
		}
	}
	return out, nil
}
