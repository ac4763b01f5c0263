package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// Memory is an in-process Queue used in dev mode and tests. It is not
// durable across restarts.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	policy Policy
	now    func() time.Time
}

// NewMemory creates an empty in-memory queue.
func NewMemory(policy Policy) *Memory {
	return &Memory{
		jobs:   make(map[string]*Job),
		policy: policy.WithDefaults(),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Enqueue(_ context.Context, campaignID string, payload domain.JobPayload, opts Options) (*Job, error) {
	opts = m.policy.Resolve(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	j := &Job{
		ID:          uuid.New().String(),
		CampaignID:  campaignID,
		Payload:     payload,
		State:       StateWaiting,
		Priority:    opts.Priority,
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		NotBefore:   now.Add(opts.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.jobs[j.ID] = j
	return cloneJob(j), nil
}

func (m *Memory) Dequeue(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var next *Job
	for _, j := range m.jobs {
		if j.State != StateWaiting || j.NotBefore.After(now) {
			continue
		}
		if next == nil || less(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, ErrEmpty
	}

	lease := now.Add(m.policy.VisibilityTimeout)
	next.State = StateActive
	next.Attempts++
	next.LeaseToken = uuid.New().String()
	next.LeaseUntil = &lease
	next.UpdatedAt = now
	return cloneJob(next), nil
}

func less(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.NotBefore.Equal(b.NotBefore) {
		return a.NotBefore.Before(b.NotBefore)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// owned returns the stored job if the caller still holds its lease.
// Caller holds m.mu.
func (m *Memory) owned(job *Job) (*Job, error) {
	j, ok := m.jobs[job.ID]
	if !ok {
		return nil, ErrNotFound
	}
	if j.State != StateActive || j.LeaseToken != job.LeaseToken {
		return nil, ErrLeaseLost
	}
	return j, nil
}

func (m *Memory) Ack(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(job)
	if err != nil {
		return err
	}
	now := m.now()
	j.Payload = job.Payload
	j.State = StateCompleted
	j.LeaseToken = ""
	j.LeaseUntil = nil
	j.FinishedAt = &now
	j.UpdatedAt = now
	job.State = StateCompleted
	return nil
}

func (m *Memory) Fail(_ context.Context, job *Job, cause error, retryable bool) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(job)
	if err != nil {
		return "", err
	}
	now := m.now()
	j.Payload = job.Payload
	j.LeaseToken = ""
	j.LeaseUntil = nil
	j.UpdatedAt = now
	if cause != nil {
		j.LastError = cause.Error()
	}
	if retryable && j.Attempts < j.MaxAttempts {
		j.State = StateWaiting
		j.NotBefore = now.Add(RetryDelay(j.Backoff, j.Attempts))
	} else {
		j.State = StateFailed
		j.FinishedAt = &now
	}
	job.State = j.State
	return j.State, nil
}

func (m *Memory) Checkpoint(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(job)
	if err != nil {
		return err
	}
	now := m.now()
	lease := now.Add(m.policy.VisibilityTimeout)
	j.Payload = job.Payload
	j.LeaseUntil = &lease
	j.UpdatedAt = now
	job.LeaseUntil = &lease
	return nil
}

func (m *Memory) Advance(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(job)
	if err != nil {
		return err
	}
	now := m.now()
	lease := now.Add(m.policy.VisibilityTimeout)
	j.Payload.Offset = job.Payload.Offset
	j.LeaseUntil = &lease
	j.UpdatedAt = now
	job.LeaseUntil = &lease
	return nil
}

func (m *Memory) Park(_ context.Context, job *Job) error {
	return m.unclaim(job, StatePaused)
}

func (m *Memory) Release(_ context.Context, job *Job) error {
	return m.unclaim(job, StateWaiting)
}

func (m *Memory) unclaim(job *Job, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(job)
	if err != nil {
		return err
	}
	now := m.now()
	j.Payload = job.Payload
	j.State = to
	j.Attempts--
	j.LeaseToken = ""
	j.LeaseUntil = nil
	j.NotBefore = now
	j.UpdatedAt = now
	job.State = to
	return nil
}

func (m *Memory) PauseCampaign(_ context.Context, campaignID string) (int, error) {
	return m.move(campaignID, StateWaiting, StatePaused), nil
}

func (m *Memory) ResumeCampaign(_ context.Context, campaignID string) (int, error) {
	return m.move(campaignID, StatePaused, StateWaiting), nil
}

func (m *Memory) move(campaignID string, from, to State) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, j := range m.jobs {
		if j.CampaignID != campaignID || j.State != from {
			continue
		}
		j.State = to
		j.UpdatedAt = now
		if to == StateWaiting && j.NotBefore.Before(now) {
			j.NotBefore = now
		}
		n++
	}
	return n
}

func (m *Memory) JobsForCampaign(_ context.Context, campaignID string) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Job
	for _, j := range m.jobs {
		if j.CampaignID == campaignID {
			out = append(out, *cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, j := range m.jobs {
		switch j.State {
		case StateWaiting:
			s.Waiting++
		case StateActive:
			s.Active++
		case StatePaused:
			s.Paused++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (m *Memory) Reclaim(_ context.Context) (int, []Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	requeued := 0
	var exhausted []Job
	for _, j := range m.jobs {
		if j.State != StateActive || j.LeaseUntil == nil || j.LeaseUntil.After(now) {
			continue
		}
		j.LeaseToken = ""
		j.LeaseUntil = nil
		j.UpdatedAt = now
		if j.Attempts < j.MaxAttempts {
			j.State = StateWaiting
			j.NotBefore = now
			requeued++
			continue
		}
		j.State = StateFailed
		j.LastError = fmt.Sprintf("lease expired after %d attempts", j.Attempts)
		j.FinishedAt = &now
		exhausted = append(exhausted, *cloneJob(j))
	}
	return requeued, exhausted, nil
}

func (m *Memory) Prune(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.trim(StateCompleted, m.policy.RetainCompleted)
	removed += m.trim(StateFailed, m.policy.RetainFailed)
	return removed, nil
}

// trim keeps the newest `keep` finished jobs in a state. Caller holds m.mu.
func (m *Memory) trim(state State, keep int) int {
	var finished []*Job
	for _, j := range m.jobs {
		if j.State == state {
			finished = append(finished, j)
		}
	}
	if len(finished) <= keep {
		return 0
	}
	sort.Slice(finished, func(a, b int) bool {
		return finishedAt(finished[a]).After(finishedAt(finished[b]))
	})
	for _, j := range finished[keep:] {
		delete(m.jobs, j.ID)
	}
	return len(finished) - keep
}

func finishedAt(j *Job) time.Time {
	if j.FinishedAt != nil {
		return *j.FinishedAt
	}
	return j.UpdatedAt
}

func cloneJob(j *Job) *Job {
	cp := *j
	cp.Payload.Contacts = append([]domain.Contact(nil), j.Payload.Contacts...)
	if j.LeaseUntil != nil {
		t := *j.LeaseUntil
		cp.LeaseUntil = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
