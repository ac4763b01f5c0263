package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/queue"
)

// JobQueue implements queue.Queue on a Postgres table. Dequeue claims with
// FOR UPDATE SKIP LOCKED so any number of worker processes can poll the
// same table; every later write is conditioned on the claim's lease token.
//
// The send offset lives in its own column so per-contact progress is a
// narrow update; the payload column is rewritten only when the job is
// prepared or settled. On read the column overrides payload.offset.
type JobQueue struct {
	db     *sql.DB
	policy queue.Policy
	now    func() time.Time
}

// NewJobQueue creates a Postgres-backed job queue.
func NewJobQueue(db *sql.DB, policy queue.Policy) *JobQueue {
	return &JobQueue{
		db:     db,
		policy: policy.WithDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

const jobColumns = `id, campaign_id, payload, state, priority, attempts, max_attempts, backoff_ms,
	not_before, lease_token, lease_until, last_error, created_at, updated_at, finished_at, send_offset`

func scanJob(s scanner) (*queue.Job, error) {
	j := &queue.Job{}
	var (
		payload   []byte
		backoffMS int64
		token     sql.NullString
		offset    int
	)
	if err := s.Scan(&j.ID, &j.CampaignID, &payload, &j.State, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&backoffMS, &j.NotBefore, &token, &j.LeaseUntil, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
		&j.FinishedAt, &offset); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	j.Payload.Offset = offset
	j.Backoff = time.Duration(backoffMS) * time.Millisecond
	j.LeaseToken = token.String
	return j, nil
}

func (q *JobQueue) Enqueue(ctx context.Context, campaignID string, payload domain.JobPayload, opts queue.Options) (*queue.Job, error) {
	opts = q.policy.Resolve(opts)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}

	now := q.now()
	j := &queue.Job{
		ID:          uuid.New().String(),
		CampaignID:  campaignID,
		Payload:     payload,
		State:       queue.StateWaiting,
		Priority:    opts.Priority,
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		NotBefore:   now.Add(opts.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO whatsapp_campaign_jobs
			(id, campaign_id, payload, state, priority, attempts, max_attempts, backoff_ms,
			 not_before, created_at, updated_at, send_offset)
		VALUES ($1, $2, $3, 'waiting', $4, 0, $5, $6, $7, $8, $8, $9)
	`, j.ID, campaignID, body, j.Priority, j.MaxAttempts, j.Backoff.Milliseconds(), j.NotBefore, now, payload.Offset)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return j, nil
}

func (q *JobQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	now := q.now()
	j, err := scanJob(q.db.QueryRowContext(ctx, `
		UPDATE whatsapp_campaign_jobs
		SET state = 'active', attempts = attempts + 1, lease_token = $1, lease_until = $2, updated_at = $3
		WHERE id = (
			SELECT id FROM whatsapp_campaign_jobs
			WHERE state = 'waiting' AND not_before <= $3
			ORDER BY priority, not_before, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		uuid.New().String(), now.Add(q.policy.VisibilityTimeout), now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return j, nil
}

func (q *JobQueue) Ack(ctx context.Context, job *queue.Job) error {
	body, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE whatsapp_campaign_jobs
		SET state = 'completed', payload = $3, send_offset = $5, lease_token = NULL, lease_until = NULL,
		    finished_at = $4, updated_at = $4
		WHERE id = $1 AND state = 'active' AND lease_token = $2
	`, job.ID, job.LeaseToken, body, now, job.Payload.Offset)
	if err := q.owned(ctx, job.ID, res, err); err != nil {
		return err
	}
	job.State = queue.StateCompleted
	return nil
}

func (q *JobQueue) Fail(ctx context.Context, job *queue.Job, cause error, retryable bool) (queue.State, error) {
	body, err := json.Marshal(job.Payload)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	now := q.now()
	state := queue.StateFailed
	notBefore := job.NotBefore
	var finished *time.Time
	if retryable && job.Attempts < job.MaxAttempts {
		state = queue.StateWaiting
		notBefore = now.Add(queue.RetryDelay(job.Backoff, job.Attempts))
	} else {
		finished = &now
	}
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE whatsapp_campaign_jobs
		SET state = $3, payload = $4, last_error = $5, not_before = $6, finished_at = $7,
		    lease_token = NULL, lease_until = NULL, updated_at = $8, send_offset = $9
		WHERE id = $1 AND state = 'active' AND lease_token = $2
	`, job.ID, job.LeaseToken, string(state), body, lastErr, notBefore, finished, now, job.Payload.Offset)
	if err := q.owned(ctx, job.ID, res, err); err != nil {
		return "", err
	}
	job.State = state
	return state, nil
}

func (q *JobQueue) Checkpoint(ctx context.Context, job *queue.Job) error {
	body, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	now := q.now()
	lease := now.Add(q.policy.VisibilityTimeout)
	res, err := q.db.ExecContext(ctx, `
		UPDATE whatsapp_campaign_jobs
		SET payload = $3, send_offset = $6, lease_until = $4, updated_at = $5
		WHERE id = $1 AND state = 'active' AND lease_token = $2
	`, job.ID, job.LeaseToken, body, lease, now, job.Payload.Offset)
	if err := q.owned(ctx, job.ID, res, err); err != nil {
		return err
	}
	job.LeaseUntil = &lease
	return nil
}

func (q *JobQueue) Advance(ctx context.Context, job *queue.Job) error {
	now := q.now()
	lease := now.Add(q.policy.VisibilityTimeout)
	res, err := q.db.ExecContext(ctx, `
		UPDATE whatsapp_campaign_jobs
		SET send_offset = $3, lease_until = $4, updated_at = $5
		WHERE id = $1 AND state = 'active' AND lease_token = $2
	`, job.ID, job.LeaseToken, job.Payload.Offset, lease, now)
	if err := q.owned(ctx, job.ID, res, err); err != nil {
		return err
	}
	job.LeaseUntil = &lease
	return nil
}

func (q *JobQueue) Park(ctx context.Context, job *queue.Job) error {
	return q.unclaim(ctx, job, queue.StatePaused)
}

func (q *JobQueue) Release(ctx context.Context, job *queue.Job) error {
	return q.unclaim(ctx, job, queue.StateWaiting)
}

// unclaim gives the job up without counting the attempt.
func (q *JobQueue) unclaim(ctx context.Context, job *queue.Job, to queue.State) error {
	body, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE whatsapp_campaign_jobs
		SET state = $3, payload = $4, send_offset = $6, attempts = attempts - 1, not_before = $5,
		    lease_token = NULL, lease_until = NULL, updated_at = $5
		WHERE id = $1 AND state = 'active' AND lease_token = $2
	`, job.ID, job.LeaseToken, string(to), body, now, job.Payload.Offset)
	if err := q.owned(ctx, job.ID, res, err); err != nil {
		return err
	}
	job.State = to
	return nil
}

// owned turns a zero-row conditional update into ErrNotFound or
// ErrLeaseLost.
func (q *JobQueue) owned(ctx context.Context, id string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := q.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM whatsapp_campaign_jobs WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check job %s: %w", id, err)
	}
	if !exists {
		return queue.ErrNotFound
	}
	return queue.ErrLeaseLost
}

func (q *JobQueue) PauseCampaign(ctx context.Context, campaignID string) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE whatsapp_campaign_jobs SET state = 'paused', updated_at = $2
		WHERE campaign_id = $1 AND state = 'waiting'
	`, campaignID, q.now())
	if err != nil {
		return 0, fmt.Errorf("pause jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *JobQueue) ResumeCampaign(ctx context.Context, campaignID string) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE whatsapp_campaign_jobs
		SET state = 'waiting', not_before = GREATEST(not_before, $2), updated_at = $2
		WHERE campaign_id = $1 AND state = 'paused'
	`, campaignID, q.now())
	if err != nil {
		return 0, fmt.Errorf("resume jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *JobQueue) JobsForCampaign(ctx context.Context, campaignID string) ([]queue.Job, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM whatsapp_campaign_jobs WHERE campaign_id = $1 ORDER BY created_at DESC`,
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]queue.Job, error) {
	var out []queue.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (q *JobQueue) Stats(ctx context.Context) (queue.Stats, error) {
	var st queue.Stats
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM whatsapp_campaign_jobs GROUP BY state`)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state queue.State
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return st, fmt.Errorf("scan queue stats: %w", err)
		}
		switch state {
		case queue.StateWaiting:
			st.Waiting = n
		case queue.StateActive:
			st.Active = n
		case queue.StatePaused:
			st.Paused = n
		case queue.StateCompleted:
			st.Completed = n
		case queue.StateFailed:
			st.Failed = n
		}
	}
	return st, rows.Err()
}

func (q *JobQueue) Reclaim(ctx context.Context) (int, []queue.Job, error) {
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE whatsapp_campaign_jobs
		SET state = 'waiting', not_before = $1, lease_token = NULL, lease_until = NULL, updated_at = $1
		WHERE state = 'active' AND lease_until <= $1 AND attempts < max_attempts
	`, now)
	if err != nil {
		return 0, nil, fmt.Errorf("requeue expired jobs: %w", err)
	}
	requeued, _ := res.RowsAffected()

	rows, err := q.db.QueryContext(ctx, `
		UPDATE whatsapp_campaign_jobs
		SET state = 'failed', lease_token = NULL, lease_until = NULL,
		    last_error = 'lease expired after ' || attempts || ' attempts',
		    finished_at = $1, updated_at = $1
		WHERE state = 'active' AND lease_until <= $1 AND attempts >= max_attempts
		RETURNING `+jobColumns, now)
	if err != nil {
		return int(requeued), nil, fmt.Errorf("fail exhausted jobs: %w", err)
	}
	defer rows.Close()
	exhausted, err := collectJobs(rows)
	return int(requeued), exhausted, err
}

func (q *JobQueue) Prune(ctx context.Context) (int, error) {
	total := 0
	for _, r := range []struct {
		state queue.State
		keep  int
	}{
		{queue.StateCompleted, q.policy.RetainCompleted},
		{queue.StateFailed, q.policy.RetainFailed},
	} {
		res, err := q.db.ExecContext(ctx, `
			DELETE FROM whatsapp_campaign_jobs
			WHERE id IN (
				SELECT id FROM whatsapp_campaign_jobs
				WHERE state = $1
				ORDER BY COALESCE(finished_at, updated_at) DESC
				OFFSET $2
			)
		`, string(r.state), r.keep)
		if err != nil {
			return total, fmt.Errorf("prune %s jobs: %w", r.state, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}
