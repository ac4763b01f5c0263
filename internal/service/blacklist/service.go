package blacklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/phone"
	"github.com/ignite/whatsapp-dispatch/internal/pkg/logger"
)

// SystemActor is recorded as the adder of automatic entries.
const SystemActor = "system"

// ReasonLookupUnavailable is reported by strict lookups when the store fails.
const ReasonLookupUnavailable = "lookup_unavailable"

// Options tunes the service. Zero values are replaced with defaults.
type Options struct {
	CacheTTL          time.Duration // default 5m
	AutoThreshold     int           // confirmed reports that trigger system_auto; default 3
	LookupConcurrency int           // parallel store lookups in ValidateBatch; default 8
	// StrictLookups makes a failing store block the number instead of
	// letting it through.
	StrictLookups bool
}

// Lookup is the result of a single blacklist check.
type Lookup struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// BlockedPhone pairs a blocked number with its reason.
type BlockedPhone struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason,omitempty"`
}

// BatchResult partitions a batch of phones, preserving input order.
type BatchResult struct {
	Valid   []string       `json:"valid"`
	Blocked []BlockedPhone `json:"blocked"`
}

// ReportResult is returned by ReportAbuse.
type ReportResult struct {
	Report          *domain.AbuseReport `json:"report"`
	ConfirmedCount  int                 `json:"confirmed_count"`
	AutoBlacklisted bool                `json:"auto_blacklisted"`
}

// Service implements blacklist business logic. It is safe for concurrent use.
type Service struct {
	repo       Repository
	normalizer *phone.Normalizer
	cache      *gocache.Cache
	opts       Options

	// serializes the count-then-escalate step of ReportAbuse
	reportMu sync.Mutex
}

// NewService creates a blacklist service backed by the given repository.
func NewService(repo Repository, normalizer *phone.Normalizer, opts Options) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.AutoThreshold <= 0 {
		opts.AutoThreshold = 3
	}
	if opts.LookupConcurrency <= 0 {
		opts.LookupConcurrency = 8
	}
	return &Service{
		repo:       repo,
		normalizer: normalizer,
		cache:      gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
		opts:       opts,
	}
}

func (s *Service) key(raw string) string {
	if n, err := s.normalizer.Normalize(raw); err == nil {
		return n
	}
	return strings.TrimSpace(raw)
}

// IsBlacklisted checks a single number, cache first.
func (s *Service) IsBlacklisted(ctx context.Context, rawPhone string) Lookup {
	p := s.key(rawPhone)
	if v, ok := s.cache.Get(p); ok {
		return v.(Lookup)
	}

	entry, err := s.repo.FindActive(ctx, p)
	switch {
	case errors.Is(err, ErrNotFound):
		res := Lookup{}
		s.cache.SetDefault(p, res)
		return res
	case err != nil:
		// Not cached, so the next lookup retries the store.
		if s.opts.StrictLookups {
			logger.Warn("blacklist lookup failed, blocking", "phone", p, "error", err)
			return Lookup{Blocked: true, Reason: ReasonLookupUnavailable}
		}
		logger.Warn("blacklist lookup failed, allowing", "phone", p, "error", err)
		return Lookup{}
	}

	res := Lookup{Blocked: true, Reason: entry.Reason}
	s.cache.SetDefault(p, res)
	return res
}

// ValidateBatch runs IsBlacklisted over phones with bounded concurrency.
func (s *Service) ValidateBatch(ctx context.Context, phones []string) BatchResult {
	results := make([]Lookup, len(phones))

	var g errgroup.Group
	g.SetLimit(s.opts.LookupConcurrency)
	for i, p := range phones {
		i, p := i, p
		g.Go(func() error {
			results[i] = s.IsBlacklisted(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Valid: make([]string, 0, len(phones))}
	for i, p := range phones {
		if results[i].Blocked {
			out.Blocked = append(out.Blocked, BlockedPhone{Phone: p, Reason: results[i].Reason})
			continue
		}
		out.Valid = append(out.Valid, p)
	}
	return out
}

// Add blacklists a number. Privileged actors create admin entries, everyone
// else creates user_report entries.
func (s *Service) Add(ctx context.Context, rawPhone, reason string, actor domain.Actor) (*domain.BlacklistEntry, error) {
	p, err := s.normalizer.Normalize(rawPhone)
	if err != nil {
		return nil, ErrInvalidPhone
	}

	source := domain.SourceUserReport
	if actor.Privileged {
		source = domain.SourceAdmin
	}
	entry, err := s.insert(ctx, p, strings.TrimSpace(reason), source, actor.ID)
	if err != nil {
		return nil, err
	}
	logger.Info("phone blacklisted", "phone", p, "source", source, "actor", actor.ID)
	return entry, nil
}

func (s *Service) insert(ctx context.Context, p, reason string, source domain.BlacklistSource, addedBy string) (*domain.BlacklistEntry, error) {
	defer s.cache.Flush()

	if _, err := s.repo.FindActive(ctx, p); err == nil {
		return nil, ErrAlreadyBlacklisted
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check existing entry: %w", err)
	}

	entry := &domain.BlacklistEntry{
		ID:        uuid.New().String(),
		Phone:     p,
		Reason:    reason,
		Source:    source,
		Status:    domain.BlacklistActive,
		AddedBy:   addedBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Remove soft-deletes the active entry for a number. Only the original adder
// or a privileged actor may remove it.
func (s *Service) Remove(ctx context.Context, rawPhone string, actor domain.Actor) error {
	p, err := s.normalizer.Normalize(rawPhone)
	if err != nil {
		return ErrInvalidPhone
	}
	defer s.cache.Flush()

	entry, err := s.repo.FindActive(ctx, p)
	if err != nil {
		return err
	}
	if !actor.Privileged && entry.AddedBy != actor.ID {
		return ErrNotAuthorized
	}
	if err := s.repo.MarkRemoved(ctx, p, actor.ID, time.Now().UTC()); err != nil {
		return err
	}
	logger.Info("phone removed from blacklist", "phone", p, "actor", actor.ID)
	return nil
}

// ReportAbuse records a complaint. Reports are distinct per reporter; a repeat
// report from the same reporter is stored as duplicate and not counted. The
// report that brings the confirmed count to exactly the threshold creates a
// system_auto entry and is marked auto_blacklisted.
func (s *Service) ReportAbuse(ctx context.Context, rawPhone, reason, reporterID string) (*ReportResult, error) {
	p, err := s.normalizer.Normalize(rawPhone)
	if err != nil {
		return nil, ErrInvalidPhone
	}
	if strings.TrimSpace(reporterID) == "" {
		return nil, ErrReporterRequired
	}

	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	defer s.cache.Flush()

	dup, err := s.repo.HasReported(ctx, p, reporterID)
	if err != nil {
		return nil, fmt.Errorf("check prior report: %w", err)
	}

	report := &domain.AbuseReport{
		ID:         uuid.New().String(),
		Phone:      p,
		Reason:     strings.TrimSpace(reason),
		ReporterID: reporterID,
		Status:     domain.ReportConfirmed,
		CreatedAt:  time.Now().UTC(),
	}
	if dup {
		report.Status = domain.ReportDuplicate
	}
	if err := s.repo.InsertReport(ctx, report); err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}

	count, err := s.repo.CountConfirmedReports(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("count reports: %w", err)
	}
	res := &ReportResult{Report: report, ConfirmedCount: count}
	if dup || count != s.opts.AutoThreshold {
		return res, nil
	}

	reasonText := fmt.Sprintf("auto: %d confirmed abuse reports", count)
	if _, err := s.insert(ctx, p, reasonText, domain.SourceSystemAuto, SystemActor); err != nil {
		if errors.Is(err, ErrAlreadyBlacklisted) {
			return res, nil
		}
		return nil, fmt.Errorf("auto blacklist: %w", err)
	}
	if err := s.repo.UpdateReportStatus(ctx, report.ID, domain.ReportAutoBlacklisted); err != nil {
		return nil, fmt.Errorf("mark report: %w", err)
	}
	report.Status = domain.ReportAutoBlacklisted
	res.AutoBlacklisted = true
	logger.Info("phone auto-blacklisted", "phone", p, "reports", count)
	return res, nil
}

// ListReports returns every report filed against a number.
func (s *Service) ListReports(ctx context.Context, rawPhone string) ([]domain.AbuseReport, error) {
	p, err := s.normalizer.Normalize(rawPhone)
	if err != nil {
		return nil, ErrInvalidPhone
	}
	return s.repo.ListReports(ctx, p)
}

// List returns blacklist entries matching the given filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.BlacklistEntry, int, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Search != "" {
		filter.Search = s.key(filter.Search)
	}
	return s.repo.List(ctx, filter)
}

// GetStats returns aggregate blacklist counts.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx)
}
