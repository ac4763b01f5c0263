// Package queue defines the campaign job queue: at-least-once delivery with
// priorities, delayed start, bounded retries with exponential backoff and
// lease-based exclusive ownership.
//
// A job moves waiting -> active -> completed/failed. A claimed job carries a
// lease token; Ack, Fail, Checkpoint, Advance, Park and Release are rejected with
// ErrLeaseLost once the lease has been reclaimed, so a job never has two
// active consumers. Paused jobs sit outside the waiting set until resumed.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// Sentinel errors.
var (
	ErrEmpty     = errors.New("no job ready")
	ErrNotFound  = errors.New("job not found")
	ErrLeaseLost = errors.New("job lease lost")
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Defaults applied to zero-valued Options and Policy fields.
const (
	DefaultAttempts          = 3
	DefaultBackoff           = 5 * time.Second
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultRetainCompleted   = 100
	DefaultRetainFailed      = 500
)

// Options are per-enqueue settings.
type Options struct {
	// Priority: lower numbers are dequeued first.
	Priority int
	// Delay before the first attempt.
	Delay time.Duration
	// Attempts is the maximum number of attempts.
	Attempts int
	// Backoff is the base retry delay, doubled per attempt.
	Backoff time.Duration
}

// Policy is the queue-wide behavior.
type Policy struct {
	VisibilityTimeout time.Duration
	DefaultAttempts   int
	DefaultBackoff    time.Duration
	RetainCompleted   int
	RetainFailed      int
}

// WithDefaults fills zero fields with the package defaults.
func (p Policy) WithDefaults() Policy {
	if p.VisibilityTimeout <= 0 {
		p.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if p.DefaultAttempts <= 0 {
		p.DefaultAttempts = DefaultAttempts
	}
	if p.DefaultBackoff <= 0 {
		p.DefaultBackoff = DefaultBackoff
	}
	if p.RetainCompleted <= 0 {
		p.RetainCompleted = DefaultRetainCompleted
	}
	if p.RetainFailed <= 0 {
		p.RetainFailed = DefaultRetainFailed
	}
	return p
}

// Resolve applies the policy defaults to per-enqueue options.
func (p Policy) Resolve(o Options) Options {
	if o.Attempts <= 0 {
		o.Attempts = p.DefaultAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = p.DefaultBackoff
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// Job is a queue-visible unit of work wrapping one campaign.
type Job struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaign_id"`
	Payload     domain.JobPayload `json:"payload"`
	State       State             `json:"state"`
	Priority    int               `json:"priority"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	Backoff     time.Duration     `json:"backoff"`
	NotBefore   time.Time         `json:"not_before"`
	LeaseToken  string            `json:"-"`
	LeaseUntil  *time.Time        `json:"lease_until,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
}

// Stats counts jobs per state.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Queue is the campaign job queue. Implementations must be safe for
// concurrent use by many workers.
type Queue interface {
	// Enqueue adds a job for a campaign.
	Enqueue(ctx context.Context, campaignID string, payload domain.JobPayload, opts Options) (*Job, error)

	// Dequeue claims the next ready job: lowest priority number first, then
	// earliest not-before. Returns ErrEmpty when nothing is ready.
	Dequeue(ctx context.Context) (*Job, error)

	// Ack completes a claimed job.
	Ack(ctx context.Context, job *Job) error

	// Fail records a failed attempt. A retryable failure with attempts left
	// is rescheduled after backoff; otherwise the job is failed. The
	// resulting state is returned.
	Fail(ctx context.Context, job *Job, cause error, retryable bool) (State, error)

	// Checkpoint persists the job payload and extends its lease.
	Checkpoint(ctx context.Context, job *Job) error

	// Advance persists only the payload's send offset and extends the
	// lease. It is the per-contact write; the rest of the payload must be
	// unchanged since the last Checkpoint.
	Advance(ctx context.Context, job *Job) error

	// Park moves a claimed job to paused, keeping its payload. The attempt
	// is not counted.
	Park(ctx context.Context, job *Job) error

	// Release returns a claimed job to waiting without counting the attempt.
	Release(ctx context.Context, job *Job) error

	// PauseCampaign parks every waiting job of a campaign.
	PauseCampaign(ctx context.Context, campaignID string) (int, error)

	// ResumeCampaign returns every paused job of a campaign to waiting.
	ResumeCampaign(ctx context.Context, campaignID string) (int, error)

	// JobsForCampaign lists the jobs of a campaign, newest first.
	JobsForCampaign(ctx context.Context, campaignID string) ([]Job, error)

	// Stats counts jobs per state.
	Stats(ctx context.Context) (Stats, error)

	// Reclaim returns jobs with expired leases to waiting, or fails them
	// when their attempts are exhausted. The exhausted jobs are returned.
	Reclaim(ctx context.Context) (requeued int, exhausted []Job, err error)

	// Prune trims completed and failed history to the retention bounds.
	Prune(ctx context.Context) (int, error)
}

// RetryDelay returns the wait before the next attempt after `attempts`
// attempts have been made: base, 2*base, 4*base, ...
func RetryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 20 {
		attempts = 20
	}
	return base * time.Duration(1<<(attempts-1))
}
