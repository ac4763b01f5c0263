// Package scheduler defers campaigns to a future time. Pending schedules
// live in the repository, and a periodic pass fires the due ones, so a
// restart loses nothing and no per-schedule timers are kept in memory.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/whatsapp-dispatch/internal/contacts"
	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/metrics"
	"github.com/ignite/whatsapp-dispatch/internal/pkg/distlock"
	"github.com/ignite/whatsapp-dispatch/internal/pkg/logger"
	"github.com/ignite/whatsapp-dispatch/internal/quota"
)

// Failure reasons stored on schedules.
const (
	ReasonQuotaExceeded   = "quota_exceeded"
	ReasonNoValidContacts = "no_valid_contacts"
	ReasonMissedWindow    = "missed_execution_window"
)

// campaignNamespace seeds the deterministic campaign IDs of schedules.
var campaignNamespace = uuid.MustParse("4f1c7d2e-8a43-4b8e-9d55-2f0c6e7a9b31")

// CampaignIDFor returns the campaign ID a schedule fires as. Every attempt to
// fire the same schedule creates the same campaign, which Launch treats as a
// no-op after the first.
func CampaignIDFor(scheduleID string) string {
	return uuid.NewSHA1(campaignNamespace, []byte(scheduleID)).String()
}

// Launcher creates and enqueues a campaign under a given ID.
type Launcher interface {
	Launch(ctx context.Context, campaignID, scheduleID string, req domain.CampaignRequest) (*domain.Campaign, error)
}

// Options configure timing.
type Options struct {
	// Interval is how often due schedules are fired.
	Interval time.Duration
	// ReconcileInterval is how often overdue schedules are settled.
	ReconcileInterval time.Duration
	// Grace is how late a schedule may still fire.
	Grace time.Duration
	// Horizon is the furthest a schedule may be set in the future.
	Horizon time.Duration
	// BatchSize caps schedules handled per pass.
	BatchSize int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = time.Hour
	}
	if o.Grace <= 0 {
		o.Grace = 10 * time.Minute
	}
	if o.Horizon <= 0 {
		o.Horizon = 365 * 24 * time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	return o
}

// PassResult counts what one pass did.
type PassResult struct {
	Executed int `json:"executed"`
	Expired  int `json:"expired"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// Scheduler holds and fires deferred campaigns.
type Scheduler struct {
	repo     Repository
	launcher Launcher
	opts     Options
	now      func() time.Time
	newLock  func() distlock.DistLock
	metrics  *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates a scheduler. Passes are guarded by an in-process lock until
// SetLocker installs a distributed one.
func New(repo Repository, launcher Launcher, opts Options) *Scheduler {
	return &Scheduler{
		repo:     repo,
		launcher: launcher,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		newLock:  func() distlock.DistLock { return distlock.NewLocalLock("scheduler") },
	}
}

// SetLocker sets the factory for the lock that keeps passes single-flight
// across processes.
func (s *Scheduler) SetLocker(f func() distlock.DistLock) { s.newLock = f }

// SetMetrics enables outcome counters.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Schedule persists a request to be launched at `at`.
func (s *Scheduler) Schedule(ctx context.Context, req domain.CampaignRequest, at time.Time, createdBy string) (*domain.ScheduledCampaign, error) {
	now := s.now()
	if !at.After(now) {
		return nil, fmt.Errorf("%w: target time must be in the future", ErrInvalidSchedule)
	}
	if at.After(now.Add(s.opts.Horizon)) {
		return nil, fmt.Errorf("%w: target time beyond %s", ErrInvalidSchedule, s.opts.Horizon)
	}

	sc := &domain.ScheduledCampaign{
		ID:        uuid.New().String(),
		TenantID:  req.TenantID,
		CreatedBy: createdBy,
		TargetAt:  at.UTC(),
		Payload:   req,
		Status:    domain.ScheduleScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, sc); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	logger.Info("campaign scheduled", "schedule_id", sc.ID, "tenant_id", sc.TenantID, "target_at", sc.TargetAt)
	return sc, nil
}

// Get returns a tenant's schedule.
func (s *Scheduler) Get(ctx context.Context, tenantID, id string) (*domain.ScheduledCampaign, error) {
	sc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenantID != "" && sc.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return sc, nil
}

// List returns a tenant's schedules.
func (s *Scheduler) List(ctx context.Context, tenantID string, f ListFilter) ([]domain.ScheduledCampaign, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.repo.List(ctx, tenantID, f)
}

// Cancel withdraws a pending schedule. Only its creator or a privileged
// actor may cancel it.
func (s *Scheduler) Cancel(ctx context.Context, tenantID, id string, actor domain.Actor) error {
	sc, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if actor.ID != sc.CreatedBy && !actor.Privileged {
		return ErrNotAuthorized
	}
	if sc.Status != domain.ScheduleScheduled {
		return ErrNotPending
	}
	if err := s.repo.Finish(ctx, id, domain.ScheduleCancelled, nil, "cancelled by "+actor.ID, s.now()); err != nil {
		return err
	}
	s.metrics.Schedule(string(domain.ScheduleCancelled))
	log.Printf("[Scheduler] Schedule %s cancelled by %s", id, actor.ID)
	return nil
}

// RunDue fires every pending schedule whose target has passed and is still
// within the grace window. Older ones are never loaded here, so a backlog of
// stale schedules cannot crowd out fresh ones; Reconcile expires them.
func (s *Scheduler) RunDue(ctx context.Context) (PassResult, error) {
	return s.pass(ctx, false)
}

// Reconcile settles every overdue schedule: within the grace window it
// fires, beyond it the schedule is expired. Re-running it never fires or
// expires a schedule twice.
func (s *Scheduler) Reconcile(ctx context.Context) (PassResult, error) {
	return s.pass(ctx, true)
}

// ReloadPending is the startup pass that catches schedules missed while no
// process was running.
func (s *Scheduler) ReloadPending(ctx context.Context) (PassResult, error) {
	res, err := s.Reconcile(ctx)
	if err == nil {
		log.Printf("[Scheduler] Reload: executed=%d expired=%d failed=%d pending=%d",
			res.Executed, res.Expired, res.Failed, res.Pending)
	}
	return res, err
}

// pass drains due schedules batch by batch. It stops at a short batch, or
// at a batch that settled nothing, since those rows would only be loaded
// again.
func (s *Scheduler) pass(ctx context.Context, expire bool) (PassResult, error) {
	var res PassResult

	lock := s.newLock()
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return res, fmt.Errorf("scheduler lock: %w", err)
	}
	if !ok {
		return res, nil
	}
	defer lock.Release(context.WithoutCancel(ctx))

	now := s.now()
	var after time.Time
	if !expire {
		after = now.Add(-s.opts.Grace)
	}

	for {
		due, err := s.repo.Due(ctx, after, now, s.opts.BatchSize)
		if err != nil {
			return res, fmt.Errorf("load due schedules: %w", err)
		}
		batch, err := s.settle(ctx, now, due)
		res.Executed += batch.Executed
		res.Expired += batch.Expired
		res.Failed += batch.Failed
		res.Pending += batch.Pending
		if err != nil {
			return res, err
		}
		if len(due) < s.opts.BatchSize || batch.Executed+batch.Expired+batch.Failed == 0 {
			return res, nil
		}
	}
}

func (s *Scheduler) settle(ctx context.Context, now time.Time, due []domain.ScheduledCampaign) (PassResult, error) {
	var res PassResult
	for i := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		sc := &due[i]
		if late := now.Sub(sc.TargetAt); late > s.opts.Grace {
			reason := fmt.Sprintf("%s: %s late", ReasonMissedWindow, late.Truncate(time.Second))
			if s.finish(ctx, sc, domain.ScheduleExpired, nil, reason) {
				res.Expired++
			}
			continue
		}

		switch status := s.fire(ctx, sc); status {
		case domain.ScheduleExecuted:
			res.Executed++
		case domain.ScheduleFailed:
			res.Failed++
		default:
			res.Pending++
		}
	}
	return res, nil
}

// fire launches one schedule and records the outcome. Transient launch
// errors leave the schedule pending for the next pass.
func (s *Scheduler) fire(ctx context.Context, sc *domain.ScheduledCampaign) domain.ScheduleStatus {
	campaignID := CampaignIDFor(sc.ID)
	c, err := s.launcher.Launch(ctx, campaignID, sc.ID, sc.Payload)
	switch {
	case err == nil:
		if s.finish(ctx, sc, domain.ScheduleExecuted, &c.ID, "") {
			logger.Info("scheduled campaign launched", "schedule_id", sc.ID, "campaign_id", c.ID)
			return domain.ScheduleExecuted
		}
	case errors.Is(err, quota.ErrInsufficient):
		if s.finish(ctx, sc, domain.ScheduleFailed, nil, ReasonQuotaExceeded) {
			return domain.ScheduleFailed
		}
	case errors.Is(err, contacts.ErrNoValidContacts):
		if s.finish(ctx, sc, domain.ScheduleFailed, nil, ReasonNoValidContacts) {
			return domain.ScheduleFailed
		}
	default:
		logger.Warn("scheduled launch failed, will retry", "schedule_id", sc.ID, "error", err)
	}
	return domain.ScheduleScheduled
}

// finish reports whether this call made the transition.
func (s *Scheduler) finish(ctx context.Context, sc *domain.ScheduledCampaign, to domain.ScheduleStatus, campaignID *string, reason string) bool {
	err := s.repo.Finish(ctx, sc.ID, to, campaignID, reason, s.now())
	switch {
	case errors.Is(err, ErrNotPending):
		return false
	case err != nil:
		log.Printf("[Scheduler] Error finishing schedule %s as %s: %v", sc.ID, to, err)
		return false
	}
	s.metrics.Schedule(string(to))
	if to != domain.ScheduleExecuted {
		logger.Warn("schedule closed", "schedule_id", sc.ID, "status", to, "reason", reason)
	}
	return true
}

// Start runs ReloadPending and then the due and reconcile loops until ctx
// is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.ReloadPending(ctx); err != nil {
		log.Printf("[Scheduler] Reload error: %v", err)
	}

	log.Printf("[Scheduler] Starting (interval=%s reconcile=%s grace=%s)",
		s.opts.Interval, s.opts.ReconcileInterval, s.opts.Grace)
	s.wg.Add(2)
	go s.loop(ctx, s.opts.Interval, s.RunDue)
	go s.loop(ctx, s.opts.ReconcileInterval, s.Reconcile)
}

// Stop halts the loops and waits for an in-flight pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Printf("[Scheduler] Stopped")
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, run func(context.Context) (PassResult, error)) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := run(ctx)
			if err != nil && ctx.Err() == nil {
				log.Printf("[Scheduler] Pass error: %v", err)
				continue
			}
			if res.Executed+res.Expired+res.Failed > 0 {
				log.Printf("[Scheduler] Pass: executed=%d expired=%d failed=%d pending=%d",
					res.Executed, res.Expired, res.Failed, res.Pending)
			}
		}
	}
}
