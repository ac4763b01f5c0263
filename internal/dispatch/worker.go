// Package dispatch runs campaign jobs: it validates and filters a job's
// contact list, sends one templated message per contact through the rate
// limiter, records every outcome, and settles the campaign's final status.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/contacts"
	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/metrics"
	"github.com/ignite/whatsapp-dispatch/internal/pkg/logger"
	"github.com/ignite/whatsapp-dispatch/internal/provider/whatsapp"
	"github.com/ignite/whatsapp-dispatch/internal/queue"
	"github.com/ignite/whatsapp-dispatch/internal/quota"
	"github.com/ignite/whatsapp-dispatch/internal/ratelimit"
	"github.com/ignite/whatsapp-dispatch/internal/service/blacklist"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
	"github.com/ignite/whatsapp-dispatch/internal/templating"
)

// Reporter receives the progress stream of the campaigns a worker runs.
type Reporter interface {
	EmitProgress(p domain.Progress)
	EmitStatus(u domain.StatusUpdate)
	EmitError(n domain.ErrorNotice)
}

// BlacklistFilter partitions phones into sendable and blocked.
type BlacklistFilter interface {
	ValidateBatch(ctx context.Context, phones []string) blacklist.BatchResult
}

// Options tune the send loop.
type Options struct {
	// SendRetries is how many times a retryable send failure is retried in
	// place before the contact is logged as failed.
	SendRetries int
	// SendRetryBackoff is the first in-place retry delay; it doubles.
	SendRetryBackoff time.Duration
	// SendTimeout bounds one provider call.
	SendTimeout time.Duration
	// AcquireTimeout bounds one rate limiter wait.
	AcquireTimeout time.Duration
	// ProgressEvery is the number of successful sends between progress events.
	ProgressEvery int
	// BreakerRatio trips the circuit breaker when errors exceed this share
	// of the campaign's total contacts.
	BreakerRatio float64
}

func (o Options) withDefaults() Options {
	if o.SendRetries < 0 {
		o.SendRetries = 0
	}
	if o.SendRetryBackoff <= 0 {
		o.SendRetryBackoff = time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 15 * time.Second
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 30 * time.Second
	}
	if o.ProgressEvery <= 0 || o.ProgressEvery > 100 {
		o.ProgressEvery = 10
	}
	if o.BreakerRatio <= 0 || o.BreakerRatio > 1 {
		o.BreakerRatio = 0.5
	}
	return o
}

// Outcome is how a Process call ended when it did not return an error.
type Outcome string

const (
	// OutcomeFinished means the campaign reached a terminal status.
	OutcomeFinished Outcome = "finished"
	// OutcomeParked means the campaign was paused between contacts.
	OutcomeParked Outcome = "parked"
	// OutcomeInterrupted means the worker is shutting down.
	OutcomeInterrupted Outcome = "interrupted"
)

// Result summarises one Process call.
type Result struct {
	Outcome Outcome
	Status  domain.CampaignStatus
	Sent    int
	Errors  int
}

// Worker processes campaign jobs. One Worker is shared by every goroutine
// of a Pool; all per-job state lives on the stack and in the job payload.
type Worker struct {
	repo      campaign.Repository
	queue     queue.Queue
	parser    *contacts.Parser
	blacklist BlacklistFilter
	limiter   ratelimit.Limiter
	sender    whatsapp.Sender
	quota     quota.Checker
	reporter  Reporter
	renderer  *templating.Renderer
	metrics   *metrics.Metrics
	opts      Options

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewWorker creates a worker. Quota, reporting and metrics are optional and
// set through their setters.
func NewWorker(repo campaign.Repository, q queue.Queue, parser *contacts.Parser, bl BlacklistFilter,
	limiter ratelimit.Limiter, sender whatsapp.Sender, opts Options) *Worker {
	return &Worker{
		repo:      repo,
		queue:     q,
		parser:    parser,
		blacklist: bl,
		limiter:   limiter,
		sender:    sender,
		quota:     quota.Unlimited{},
		reporter:  nopReporter{},
		renderer:  templating.NewRenderer(),
		opts:      opts.withDefaults(),
		sleep:     sleepCtx,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetQuota sets the allowance checker used before sending and charged on
// completion.
func (w *Worker) SetQuota(c quota.Checker) {
	if c != nil {
		w.quota = c
	}
}

// SetReporter sets the progress sink.
func (w *Worker) SetReporter(r Reporter) {
	if r != nil {
		w.reporter = r
	}
}

// SetMetrics enables Prometheus counters.
func (w *Worker) SetMetrics(m *metrics.Metrics) { w.metrics = m }

// Handle processes a claimed job and settles it with the queue.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) {
	res, err := w.Process(ctx, job)
	settle := context.WithoutCancel(ctx)

	if errors.Is(err, queue.ErrLeaseLost) {
		log.Printf("[DispatchWorker] Lost lease on job %s (campaign %s), abandoning", job.ID, job.CampaignID)
		w.metrics.Job("lease_lost")
		return
	}

	if err != nil {
		w.failJob(settle, job, err)
		return
	}

	switch res.Outcome {
	case OutcomeParked:
		if perr := w.queue.Park(settle, job); perr != nil {
			log.Printf("[DispatchWorker] Park job %s: %v", job.ID, perr)
			return
		}
		w.metrics.Job("parked")
		w.unparkIfResumed(settle, job.CampaignID)
	case OutcomeInterrupted:
		if rerr := w.queue.Release(settle, job); rerr != nil {
			log.Printf("[DispatchWorker] Release job %s: %v", job.ID, rerr)
			return
		}
		w.metrics.Job("released")
	default:
		if aerr := w.queue.Ack(settle, job); aerr != nil {
			log.Printf("[DispatchWorker] Ack job %s: %v", job.ID, aerr)
			return
		}
		w.metrics.Job("completed")
	}
}

// unparkIfResumed closes the race where a campaign is resumed between the
// worker seeing it paused and parking the job.
func (w *Worker) unparkIfResumed(ctx context.Context, campaignID string) {
	c, err := w.repo.Get(ctx, campaignID)
	if err != nil || c.Status == domain.CampaignPaused {
		return
	}
	if _, err := w.queue.ResumeCampaign(ctx, campaignID); err != nil {
		log.Printf("[DispatchWorker] Unpark campaign %s: %v", campaignID, err)
	}
}

func (w *Worker) failJob(ctx context.Context, job *queue.Job, cause error) {
	kind := KindOf(cause)
	state, err := w.queue.Fail(ctx, job, cause, kind.Retryable())
	if err != nil {
		log.Printf("[DispatchWorker] Fail job %s: %v", job.ID, err)
		return
	}
	if state != queue.StateFailed {
		w.metrics.Job("retried")
		logger.Warn("campaign job will be retried", "job_id", job.ID, "campaign_id", job.CampaignID,
			"attempt", job.Attempts, "max_attempts", job.MaxAttempts, "error", cause)
		return
	}
	w.metrics.Job("failed")
	w.FailCampaign(ctx, job.CampaignID, kind, cause)
}

// FailCampaign moves a campaign to failed after its job can no longer run
// and tells observers why. A campaign already in a terminal status keeps it.
func (w *Worker) FailCampaign(ctx context.Context, campaignID string, kind domain.JobErrorKind, cause error) {
	err := w.repo.Transition(ctx, campaignID, domain.CampaignFailed, string(kind), w.now())
	if err != nil && !errors.Is(err, campaign.ErrInvalidTransition) {
		log.Printf("[DispatchWorker] Mark campaign %s failed: %v", campaignID, err)
		return
	}

	w.reporter.EmitError(domain.ErrorNotice{CampaignID: campaignID, Error: cause.Error(), ErrorType: string(kind)})
	if err == nil {
		u := domain.StatusUpdate{CampaignID: campaignID, Status: domain.CampaignFailed, Message: string(kind)}
		if c, gerr := w.repo.Get(ctx, campaignID); gerr == nil {
			u.TotalContacts, u.SentCount, u.ErrorCount = c.TotalContacts, c.SentCount, c.ErrorCount
		}
		w.reporter.EmitStatus(u)
	}
	logger.Error("campaign failed", "campaign_id", campaignID, "kind", kind, "error", cause)
}

// Process runs one attempt of a job. It returns a *JobError for failures the
// queue must see, queue.ErrLeaseLost if another worker owns the job, and a
// Result otherwise.
func (w *Worker) Process(ctx context.Context, job *queue.Job) (*Result, error) {
	c, err := w.repo.Get(ctx, job.CampaignID)
	if errors.Is(err, campaign.ErrNotFound) {
		return nil, jobErr(domain.JobValidationFailure, err)
	}
	if err != nil {
		return nil, jobErr(domain.JobSystemError, fmt.Errorf("load campaign: %w", err))
	}

	switch {
	case c.Status.IsTerminal():
		return &Result{Outcome: OutcomeFinished, Status: c.Status, Sent: c.SentCount, Errors: c.ErrorCount}, nil
	case c.Status == domain.CampaignPaused:
		return &Result{Outcome: OutcomeParked, Status: c.Status}, nil
	}

	if !job.Payload.Prepared {
		if err := w.prepare(ctx, job); err != nil {
			return nil, err
		}
	}

	if c, err = w.repo.Get(ctx, c.ID); err != nil {
		return nil, jobErr(domain.JobSystemError, fmt.Errorf("reload campaign: %w", err))
	}
	switch c.Status {
	case domain.CampaignPaused:
		return &Result{Outcome: OutcomeParked, Status: c.Status}, nil
	case domain.CampaignQueued:
		if err := w.repo.Transition(ctx, c.ID, domain.CampaignProcessing, "", w.now()); err != nil {
			return nil, jobErr(domain.JobSystemError, fmt.Errorf("start campaign: %w", err))
		}
		c.Status = domain.CampaignProcessing
	}
	if c.Status.IsTerminal() {
		return &Result{Outcome: OutcomeFinished, Status: c.Status, Sent: c.SentCount, Errors: c.ErrorCount}, nil
	}
	w.reporter.EmitStatus(statusOf(c, "processing"))

	outcome, tripped, err := w.sendLoop(ctx, job, c)
	if err != nil {
		return nil, err
	}
	if outcome != OutcomeFinished {
		return &Result{Outcome: outcome, Status: domain.CampaignPaused}, nil
	}
	return w.finalize(ctx, job, tripped)
}

// prepare validates and filters the contact list once per job and
// checkpoints the send list so later attempts skip both phases.
func (w *Worker) prepare(ctx context.Context, job *queue.Job) error {
	p := &job.Payload
	req := p.Request

	parsed, err := w.parser.Parse(req.Contacts)
	if err != nil {
		return jobErr(domain.JobValidationFailure, err)
	}

	phones := make([]string, len(parsed.Valid))
	for i, c := range parsed.Valid {
		phones[i] = c.NormalizedPhone
	}
	batch := w.blacklist.ValidateBatch(ctx, phones)
	blocked := make(map[string]bool, len(batch.Blocked))
	for _, b := range batch.Blocked {
		blocked[b.Phone] = true
	}

	send := make([]domain.Contact, 0, len(parsed.Valid))
	for _, c := range parsed.Valid {
		if !blocked[c.NormalizedPhone] {
			send = append(send, c)
		}
	}

	if err := quota.Require(ctx, w.quota, req.TenantID, len(send)); err != nil {
		if errors.Is(err, quota.ErrInsufficient) {
			return jobErr(domain.JobQuotaExceeded, err)
		}
		return jobErr(domain.JobSystemError, err)
	}

	totals := campaign.Totals{Total: parsed.Total, Rejected: len(parsed.Rejected), Blacklisted: len(blocked)}
	if err := w.repo.SetTotals(ctx, p.CampaignID, totals); err != nil {
		return jobErr(domain.JobSystemError, fmt.Errorf("set totals: %w", err))
	}

	p.Prepared = true
	p.Contacts = send
	p.Offset = 0
	if err := w.checkpoint(ctx, job); err != nil {
		return err
	}

	logger.Info("campaign prepared", "campaign_id", p.CampaignID, "total", parsed.Total,
		"rejected", len(parsed.Rejected), "blacklisted", len(blocked), "sendable", len(send))
	return nil
}

// sendLoop sends from the checkpointed offset and returns early when the
// campaign is paused or the worker shuts down. The breaker stops it while
// contacts remain unsent and the campaign's error count exceeds
// BreakerRatio of its total contacts.
func (w *Worker) sendLoop(ctx context.Context, job *queue.Job, c *domain.Campaign) (Outcome, bool, error) {
	p := &job.Payload
	req := p.Request
	total := len(p.Contacts)
	sent, failed := c.SentCount, c.ErrorCount
	limit := w.opts.BreakerRatio * float64(c.TotalContacts)
	sinceProgress := 0

	for p.Offset < total {
		if ctx.Err() != nil {
			return OutcomeInterrupted, false, w.advance(context.WithoutCancel(ctx), job)
		}
		// Rejected rows are in the error count from the start, so a list
		// already over the threshold trips before its first send.
		if float64(failed) > limit {
			logger.Warn("circuit breaker tripped", "campaign_id", c.ID, "errors", failed,
				"total", c.TotalContacts, "remaining", total-p.Offset)
			return OutcomeFinished, true, nil
		}
		if paused, err := w.isPaused(ctx, c.ID); err != nil {
			return "", false, err
		} else if paused {
			log.Printf("[DispatchWorker] Campaign %s paused at contact %d/%d", c.ID, p.Offset, total)
			return OutcomeParked, false, w.advance(ctx, job)
		}

		contact := p.Contacts[p.Offset]
		entry, err := w.sendOne(ctx, c, req, contact, p.Offset)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeInterrupted, false, w.advance(context.WithoutCancel(ctx), job)
			}
			if aerr := w.advance(ctx, job); errors.Is(aerr, queue.ErrLeaseLost) {
				return "", false, aerr
			} else if aerr != nil {
				log.Printf("[DispatchWorker] Checkpoint campaign %s at contact %d after send error: %v", c.ID, p.Offset, aerr)
			}
			return "", false, jobErr(domain.JobSystemError, err)
		}

		inserted, err := w.repo.RecordMessage(ctx, entry)
		if err != nil {
			return "", false, jobErr(domain.JobSystemError, fmt.Errorf("record message: %w", err))
		}
		if inserted {
			if entry.Status == domain.MessageSent {
				sent++
				sinceProgress++
			} else {
				failed++
			}
			w.metrics.Message(string(c.ChannelType), string(entry.Status))
		}

		p.Offset++
		if err := w.advance(ctx, job); err != nil {
			return "", false, err
		}

		if entry.Status == domain.MessageFailed || sinceProgress >= w.opts.ProgressEvery || p.Offset == total {
			w.reporter.EmitProgress(domain.Progress{
				CampaignID: c.ID,
				Sent:       sent,
				Total:      c.TotalContacts,
				Progress:   domain.ProgressPct(sent+failed, c.TotalContacts-c.BlacklistedCount),
				Errors:     failed,
				Timestamp:  w.now(),
			})
			sinceProgress = 0
		}
	}
	return OutcomeFinished, false, nil
}

func (w *Worker) isPaused(ctx context.Context, campaignID string) (bool, error) {
	c, err := w.repo.Get(ctx, campaignID)
	if err != nil {
		return false, jobErr(domain.JobSystemError, fmt.Errorf("check campaign status: %w", err))
	}
	return c.Status == domain.CampaignPaused, nil
}

// sendOne produces the log entry for one contact. Retryable failures are
// retried in place, each retry taking a fresh limiter slot. An error is
// returned only when no outcome could be produced.
func (w *Worker) sendOne(ctx context.Context, c *domain.Campaign, req domain.CampaignRequest, contact domain.Contact, position int) (*domain.MessageLogEntry, error) {
	tmpl := req.Template
	clog := logger.With("campaign_id", c.ID, "phone", contact.NormalizedPhone)
	vars := templating.ResolveVariables(tmpl.Variables, contact, req.VariableMappings, req.DefaultValues)
	body, err := w.renderer.Render(tmpl.ID, tmpl.Body, vars)
	if err != nil {
		clog.Warn("template render failed", "template_id", tmpl.ID, "error", err)
	}

	msg := whatsapp.Message{
		From:         req.From,
		To:           contact.NormalizedPhone,
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		Language:     tmpl.Language,
		Variables:    vars,
		Order:        tmpl.Variables,
	}
	entry := &domain.MessageLogEntry{
		CampaignID: c.ID,
		Position:   position,
		Phone:      contact.NormalizedPhone,
		Body:       body,
	}

	backoff := w.opts.SendRetryBackoff
	for {
		entry.Attempts++
		if err := w.acquire(ctx, c.ChannelType); err != nil {
			return nil, err
		}

		sctx, cancel := context.WithTimeout(ctx, w.opts.SendTimeout)
		start := time.Now()
		id, err := w.sender.Send(sctx, msg)
		cancel()
		w.metrics.SendDuration(string(c.ChannelType), time.Since(start))

		if err == nil {
			entry.Status = domain.MessageSent
			entry.ProviderMessageID = id
			entry.SentAt = w.now()
			return entry, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		cat := Classify(err)
		w.metrics.SendError(string(cat))
		if cat.Retryable() && entry.Attempts <= w.opts.SendRetries {
			clog.Debug("retrying send", "category", cat, "attempt", entry.Attempts)
			if err := w.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			continue
		}

		entry.Status = domain.MessageFailed
		entry.ErrorCategory = cat
		entry.ErrorMessage = err.Error()
		entry.SentAt = w.now()
		clog.Info("send failed", "category", cat, "attempts", entry.Attempts, "error", err)
		return entry, nil
	}
}

func (w *Worker) acquire(ctx context.Context, channel domain.ChannelType) error {
	actx, cancel := context.WithTimeout(ctx, w.opts.AcquireTimeout)
	defer cancel()
	start := time.Now()
	err := w.limiter.Acquire(actx, channel)
	w.metrics.LimiterWait(string(channel), time.Since(start))
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("rate limiter acquire for %s timed out after %s", channel, w.opts.AcquireTimeout)
	}
	return err
}

// finalize settles the terminal status, charges the tenant for what was
// sent and publishes the final events.
func (w *Worker) finalize(ctx context.Context, job *queue.Job, tripped bool) (*Result, error) {
	id := job.CampaignID
	c, err := w.repo.Get(ctx, id)
	if err != nil {
		return nil, jobErr(domain.JobSystemError, fmt.Errorf("reload campaign: %w", err))
	}
	if c.Status == domain.CampaignPaused {
		// Paused after the last contact; nothing is left to pause.
		if err := w.repo.Transition(ctx, id, domain.CampaignProcessing, "", w.now()); err != nil {
			return nil, jobErr(domain.JobSystemError, fmt.Errorf("unpause finished campaign: %w", err))
		}
	}

	status := domain.FinalStatus(c.SentCount, c.ErrorCount, tripped)
	reason := ""
	switch {
	case tripped:
		reason = string(domain.JobCircuitBreakerTripped)
	case status == domain.CampaignFailed:
		reason = "all messages failed"
	}

	if err := w.repo.Transition(ctx, id, status, reason, w.now()); err != nil {
		return nil, jobErr(domain.JobSystemError, fmt.Errorf("finish campaign: %w", err))
	}
	if c.SentCount > 0 {
		if err := w.quota.Consume(ctx, c.TenantID, c.SentCount); err != nil {
			logger.Error("quota consume failed", "campaign_id", id, "tenant_id", c.TenantID,
				"messages", c.SentCount, "error", err)
		}
	}

	c.Status = status
	w.reporter.EmitStatus(statusOf(c, reason))
	logger.Info("campaign finished", "campaign_id", id, "status", status,
		"sent", c.SentCount, "errors", c.ErrorCount, "blacklisted", c.BlacklistedCount)

	if tripped {
		return nil, jobErr(domain.JobCircuitBreakerTripped, ErrTooManyErrors)
	}
	return &Result{Outcome: OutcomeFinished, Status: status, Sent: c.SentCount, Errors: c.ErrorCount}, nil
}

// checkpoint persists the whole payload; advance persists only the offset.
func (w *Worker) checkpoint(ctx context.Context, job *queue.Job) error {
	return persistErr(w.queue.Checkpoint(ctx, job))
}

func (w *Worker) advance(ctx context.Context, job *queue.Job) error {
	return persistErr(w.queue.Advance(ctx, job))
}

func persistErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrLeaseLost):
		return err
	default:
		return jobErr(domain.JobSystemError, fmt.Errorf("checkpoint: %w", err))
	}
}

func statusOf(c *domain.Campaign, msg string) domain.StatusUpdate {
	return domain.StatusUpdate{
		CampaignID:    c.ID,
		Status:        c.Status,
		Message:       msg,
		TotalContacts: c.TotalContacts,
		SentCount:     c.SentCount,
		ErrorCount:    c.ErrorCount,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopReporter struct{}

func (nopReporter) EmitProgress(domain.Progress)   {}
func (nopReporter) EmitStatus(domain.StatusUpdate) {}
func (nopReporter) EmitError(domain.ErrorNotice)   {}
