package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(p Policy) (*Memory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q := NewMemory(p)
	q.SetClock(clock.Now)
	return q, clock
}

func payload(id string) domain.JobPayload {
	return domain.JobPayload{CampaignID: id}
}

func TestDequeueOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(Policy{})

	_, err := q.Enqueue(ctx, "free", payload("free"), Options{Priority: domain.PriorityFree})
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	_, err = q.Enqueue(ctx, "ent", payload("ent"), Options{Priority: domain.PriorityEnterprise})
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	_, err = q.Enqueue(ctx, "std", payload("std"), Options{Priority: domain.PriorityStandard})
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		j, err := q.Dequeue(ctx)
		require.NoError(t, err)
		order = append(order, j.CampaignID)
	}
	assert.Equal(t, []string{"ent", "std", "free"}, order)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDelayedJobNotVisibleEarly(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(Policy{})

	_, err := q.Enqueue(ctx, "c1", payload("c1"), Options{Delay: time.Minute})
	require.NoError(t, err)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrEmpty)

	clock.Advance(time.Minute)
	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, StateActive, j.State)
}

func TestFailRetriesWithExponentialBackoff(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(Policy{})
	_, err := q.Enqueue(ctx, "c1", payload("c1"), Options{Attempts: 3, Backoff: 5 * time.Second})
	require.NoError(t, err)

	boom := errors.New("boom")

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	state, err := q.Fail(ctx, j, boom, true)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, state)

	clock.Advance(4 * time.Second)
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrEmpty, "first retry waits the base delay")
	clock.Advance(time.Second)
	j, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, j.Attempts)

	state, err = q.Fail(ctx, j, boom, true)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, state)

	clock.Advance(9 * time.Second)
	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrEmpty, "second retry waits twice the base delay")
	clock.Advance(time.Second)
	j, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, j.Attempts)

	state, err = q.Fail(ctx, j, boom, true)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state, "attempts exhausted")

	jobs, err := q.JobsForCampaign(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "boom", jobs[0].LastError)
	assert.NotNil(t, jobs[0].FinishedAt)
}

func TestNonRetryableFailFailsImmediately(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(Policy{})
	_, err := q.Enqueue(ctx, "c1", payload("c1"), Options{})
	require.NoError(t, err)

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	state, err := q.Fail(ctx, j, errors.New("no valid contacts"), false)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
}

func TestReclaimExpiredLease(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(Policy{VisibilityTimeout: time.Minute})
	_, err := q.Enqueue(ctx, "c1", payload("c1"), Options{Attempts: 2})
	require.NoError(t, err)

	stale, err := q.Dequeue(ctx)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	requeued, exhausted, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Empty(t, exhausted)

	fresh, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, stale.ID, fresh.ID)

	// The crashed worker's handle no longer owns the job.
	assert.ErrorIs(t, q.Ack(ctx, stale), ErrLeaseLost)
	assert.ErrorIs(t, q.Checkpoint(ctx, stale), ErrLeaseLost)

	clock.Advance(2 * time.Minute)
	requeued, exhausted, err = q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "c1", exhausted[0].CampaignID)
	assert.ErrorIs(t, q.Ack(ctx, fresh), ErrLeaseLost)
}

func TestCheckpointExtendsLeaseAndPersistsPayload(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(Policy{VisibilityTimeout: time.Minute})
	_, err := q.Enqueue(ctx, "c1", payload("c1"), Options{})
	require.NoError(t, err)

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)

	clock.Advance(50 * time.Second)
	j.Payload.Offset = 7
	require.NoError(t, q.Checkpoint(ctx, j))

	clock.Advance(50 * time.Second)
	requeued, _, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued, "checkpoint extended the lease")

	jobs, err := q.JobsForCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 7, jobs[0].Payload.Offset)
}

func TestAdvanceKeepsPayloadAndMovesOffset(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(Policy{VisibilityTimeout: time.Minute})
	_, err := q.Enqueue(ctx, "c1", payload("c1"), Options{})
	require.NoError(t, err)

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	j.Payload.Prepared = true
	require.NoError(t, q.Checkpoint(ctx, j))

	clock.Advance(50 * time.Second)
	j.Payload.Offset = 3
	j.Payload.Prepared = false
	require.NoError(t, q.Advance(ctx, j))

	clock.Advance(50 * time.Second)
	requeued, _, err := q.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued, "advance extended the lease")

	jobs, err := q.JobsForCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, jobs[0].Payload.Offset)
	assert.True(t, jobs[0].Payload.Prepared, "only the offset is written")
}

func TestParkAndResumeKeepsOffset(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(Policy{})
	_, err := q.Enqueue(ctx, "c1", payload("c1"), Options{})
	require.NoError(t, err)

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	j.Payload.Prepared = true
	j.Payload.Offset = 5
	require.NoError(t, q.Park(ctx, j))

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrEmpty, "paused jobs are not dequeued")

	n, err := q.ResumeCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resumed, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, resumed.Payload.Offset)
	assert.True(t, resumed.Payload.Prepared)
	assert.Equal(t, 1, resumed.Attempts, "a pause is not a failed attempt")
}

func TestPauseCampaignParksWaitingJobs(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(Policy{})
	_, err := q.Enqueue(ctx, "c1", payload("c1"), Options{})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "c2", payload("c2"), Options{})
	require.NoError(t, err)

	n, err := q.PauseCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Waiting: 1, Paused: 1}, stats)

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c2", j.CampaignID)
}

func TestPruneRetainsNewest(t *testing.T) {
	ctx := context.Background()
	q, clock := newTestQueue(Policy{RetainCompleted: 2, RetainFailed: 1})

	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(ctx, "done", payload("done"), Options{})
		require.NoError(t, err)
		j, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, j))
		clock.Advance(time.Second)
	}
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, "bad", payload("bad"), Options{})
		require.NoError(t, err)
		j, err := q.Dequeue(ctx)
		require.NoError(t, err)
		_, err = q.Fail(ctx, j, errors.New("x"), false)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	removed, err := q.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
}

func TestConcurrentDequeueClaimsOnce(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(Policy{})
	for i := 0; i < 50; i++ {
		_, err := q.Enqueue(ctx, "c", payload("c"), Options{})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := q.Dequeue(ctx)
				if errors.Is(err, ErrEmpty) {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, RetryDelay(5*time.Second, 1))
	assert.Equal(t, 10*time.Second, RetryDelay(5*time.Second, 2))
	assert.Equal(t, 20*time.Second, RetryDelay(5*time.Second, 3))
	assert.Equal(t, 5*time.Second, RetryDelay(5*time.Second, 0))
}
