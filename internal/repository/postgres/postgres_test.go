package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/queue"
	"github.com/ignite/whatsapp-dispatch/internal/scheduler"
	"github.com/ignite/whatsapp-dispatch/internal/service/blacklist"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var ts = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func campaignRow(status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "user_id", "name", "template_id", "channel_type", "status",
		"total_contacts", "sent_count", "error_count", "blacklisted_count",
		"failure_reason", "schedule_id", "created_at", "started_at", "completed_at", "updated_at",
	}).AddRow("c1", "t1", "u1", "promo", "tpl", "marketing", status,
		10, 4, 1, 2, "", nil, ts, ts, nil, ts)
}

func TestCampaignRepo_Get(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectQuery("SELECT .* FROM whatsapp_campaigns WHERE id = \\$1").
		WithArgs("c1").
		WillReturnRows(campaignRow("processing"))

	c, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignProcessing, c.Status)
	assert.Equal(t, 10, c.TotalContacts)
	assert.Equal(t, 2, c.BlacklistedCount)
	assert.Nil(t, c.ScheduleID)
	assert.Nil(t, c.CompletedAt)
	require.NotNil(t, c.StartedAt)
}

func TestCampaignRepo_GetNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("SELECT .* FROM whatsapp_campaigns").WillReturnError(sql.ErrNoRows)

	_, err := NewCampaignRepo(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCampaignRepo_CreateDuplicate(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectExec("INSERT INTO whatsapp_campaigns").
		WillReturnError(&pq.Error{Code: "23505"})

	err := NewCampaignRepo(db).Create(context.Background(), &domain.Campaign{ID: "c1", Status: domain.CampaignQueued})
	assert.ErrorIs(t, err, campaign.ErrAlreadyExists)
}

func TestCampaignRepo_Transition(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectExec("UPDATE whatsapp_campaigns").
		WithArgs("c1", "completed", "", ts, false, true, pq.Array([]string{"processing"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Transition(context.Background(), "c1", domain.CampaignCompleted, "", ts))
}

func TestCampaignRepo_TransitionRejected(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectExec("UPDATE whatsapp_campaigns").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.Transition(context.Background(), "c1", domain.CampaignPaused, "", ts)
	assert.ErrorIs(t, err, campaign.ErrInvalidTransition)

	mock.ExpectExec("UPDATE whatsapp_campaigns").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err = repo.Transition(context.Background(), "nope", domain.CampaignPaused, "", ts)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestCampaignRepo_RecordMessage(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO whatsapp_message_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE whatsapp_campaigns SET sent_count = sent_count \\+ 1").
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := repo.RecordMessage(context.Background(), &domain.MessageLogEntry{
		CampaignID: "c1", Position: 0, Phone: "+573001234567", Status: domain.MessageSent, Attempts: 1,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestCampaignRepo_RecordMessageDuplicate(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO whatsapp_message_log").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	inserted, err := repo.RecordMessage(context.Background(), &domain.MessageLogEntry{
		CampaignID: "c1", Position: 3, Status: domain.MessageFailed, ErrorCategory: domain.ErrBlocked,
	})
	require.NoError(t, err)
	assert.False(t, inserted, "a replayed position must not count twice")
}

func TestCampaignRepo_RecordFailureIncrementsErrors(t *testing.T) {
	db, mock := setupTestDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO whatsapp_message_log").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE whatsapp_campaigns SET error_count = error_count \\+ 1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := NewCampaignRepo(db).RecordMessage(context.Background(), &domain.MessageLogEntry{
		CampaignID: "c1", Position: 1, Status: domain.MessageFailed,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestBlacklistRepo_InsertDuplicate(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectExec("INSERT INTO whatsapp_blacklist").
		WillReturnError(&pq.Error{Code: "23505"})

	err := NewBlacklistRepo(db).Insert(context.Background(), &domain.BlacklistEntry{
		Phone: "+573001234567", Source: domain.SourceAdmin, CreatedAt: ts,
	})
	assert.ErrorIs(t, err, blacklist.ErrAlreadyBlacklisted)
}

func TestBlacklistRepo_FindAndRemove(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewBlacklistRepo(db)

	mock.ExpectQuery("SELECT .* FROM whatsapp_blacklist WHERE phone = \\$1 AND status = 'active'").
		WithArgs("+573001234567").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "phone", "reason", "source", "status", "added_by", "removed_by", "created_at", "removed_at",
		}).AddRow("b1", "+573001234567", "opt-out", "admin", "active", "admin-1", nil, ts, nil))

	e, err := repo.FindActive(context.Background(), "+573001234567")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceAdmin, e.Source)
	assert.Nil(t, e.RemovedBy)

	mock.ExpectExec("UPDATE whatsapp_blacklist").
		WithArgs("+573009999999", "admin-1", ts).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.MarkRemoved(context.Background(), "+573009999999", "admin-1", ts)
	assert.ErrorIs(t, err, blacklist.ErrNotFound)
}

func TestBlacklistRepo_Stats(t *testing.T) {
	db, mock := setupTestDB(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FILTER").
		WillReturnRows(sqlmock.NewRows([]string{"active", "removed"}).AddRow(3, 1))
	mock.ExpectQuery("SELECT source, reason, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"source", "reason", "count"}).
			AddRow("admin", "opt-out", 2).
			AddRow("system_auto", "abuse", 1))

	st, err := NewBlacklistRepo(db).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalActive)
	assert.Equal(t, 1, st.TotalRemoved)
	assert.Equal(t, map[string]int{"admin": 2, "system_auto": 1}, st.BySource)
	assert.Equal(t, 2, st.ByReason["opt-out"])
}

func TestScheduleRepo_FinishNotPending(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewScheduleRepo(db)

	payload, _ := json.Marshal(domain.CampaignRequest{TenantID: "t1", Name: "later"})
	mock.ExpectExec("UPDATE whatsapp_scheduled_campaigns").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT .* FROM whatsapp_scheduled_campaigns WHERE id = \\$1").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "created_by", "target_at", "payload", "status", "campaign_id",
			"failure_reason", "created_at", "updated_at", "executed_at",
		}).AddRow("s1", "t1", "u1", ts, payload, "cancelled", nil, "", ts, ts, nil))

	err := repo.Finish(context.Background(), "s1", domain.ScheduleExecuted, nil, "", ts)
	assert.ErrorIs(t, err, scheduler.ErrNotPending)
}

func TestScheduleRepo_Due(t *testing.T) {
	db, mock := setupTestDB(t)

	payload, _ := json.Marshal(domain.CampaignRequest{TenantID: "t1", Name: "later"})
	mock.ExpectQuery("SELECT .* FROM whatsapp_scheduled_campaigns\\s+WHERE status = 'scheduled'").
		WithArgs(ts, nil, 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "created_by", "target_at", "payload", "status", "campaign_id",
			"failure_reason", "created_at", "updated_at", "executed_at",
		}).AddRow("s1", "t1", "u1", ts.Add(-time.Minute), payload, "scheduled", nil, "", ts, ts, nil))

	repo := NewScheduleRepo(db)
	due, err := repo.Due(context.Background(), time.Time{}, ts, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "later", due[0].Payload.Name)

	// A lower bound keeps schedules past the grace window out of the batch.
	mock.ExpectQuery("target_at > \\$2").
		WithArgs(ts, ts.Add(-10*time.Minute), 5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	due, err = repo.Due(context.Background(), ts.Add(-10*time.Minute), ts, 5)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestTemplateStore_Get(t *testing.T) {
	db, mock := setupTestDB(t)
	store := NewTemplateStore(db)

	mock.ExpectQuery("SELECT .* FROM whatsapp_templates").
		WithArgs("tpl", "t1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "name", "language", "category", "body", "variables", "status",
		}).AddRow("tpl", "", "promo", "es", "MARKETING", "Hola {{1}}", "{1,2}", "approved"))

	tpl, err := store.Get(context.Background(), "t1", "tpl")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, tpl.Variables)
	assert.Equal(t, domain.ChannelMarketing, tpl.ChannelType())

	mock.ExpectQuery("SELECT .* FROM whatsapp_templates").WillReturnError(sql.ErrNoRows)
	_, err = store.Get(context.Background(), "t1", "other")
	assert.ErrorIs(t, err, campaign.ErrTemplateNotFound)
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "campaign_id", "payload", "state", "priority", "attempts", "max_attempts", "backoff_ms",
		"not_before", "lease_token", "lease_until", "last_error", "created_at", "updated_at", "finished_at",
		"send_offset",
	})
}

func TestJobQueue_DequeueEmpty(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("UPDATE whatsapp_campaign_jobs").WillReturnError(sql.ErrNoRows)

	_, err := NewJobQueue(db, queue.Policy{}).Dequeue(context.Background())
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestJobQueue_DequeueClaims(t *testing.T) {
	db, mock := setupTestDB(t)
	q := NewJobQueue(db, queue.Policy{})

	payload, _ := json.Marshal(domain.JobPayload{CampaignID: "c1", Prepared: true, Offset: 1})
	mock.ExpectQuery("UPDATE whatsapp_campaign_jobs .* FOR UPDATE SKIP LOCKED").
		WillReturnRows(jobRows().AddRow("j1", "c1", payload, "active", 1, 1, 3, 5000,
			ts, "lease-1", ts.Add(5*time.Minute), "", ts, ts, nil, 4))

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.StateActive, job.State)
	assert.Equal(t, "lease-1", job.LeaseToken)
	assert.Equal(t, 5*time.Second, job.Backoff)
	assert.Equal(t, 4, job.Payload.Offset, "send_offset column wins over the payload copy")
	assert.True(t, job.Payload.Prepared)
}

func TestJobQueue_FailSchedulesRetry(t *testing.T) {
	db, mock := setupTestDB(t)
	q := NewJobQueue(db, queue.Policy{})
	q.now = func() time.Time { return ts }

	job := &queue.Job{ID: "j1", LeaseToken: "lease-1", Attempts: 2, MaxAttempts: 3, Backoff: time.Second}
	mock.ExpectExec("UPDATE whatsapp_campaign_jobs").
		WithArgs("j1", "lease-1", "waiting", sqlmock.AnyArg(), "boom", ts.Add(2*time.Second), nil, ts, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	state, err := q.Fail(context.Background(), job, errors.New("boom"), true)
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, state)
	assert.Equal(t, queue.StateWaiting, job.State)
}

func TestJobQueue_AckLeaseLost(t *testing.T) {
	db, mock := setupTestDB(t)
	q := NewJobQueue(db, queue.Policy{})

	mock.ExpectExec("UPDATE whatsapp_campaign_jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("j1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := q.Ack(context.Background(), &queue.Job{ID: "j1", LeaseToken: "stale"})
	assert.ErrorIs(t, err, queue.ErrLeaseLost)
}

func TestJobQueue_AdvanceWritesOnlyOffset(t *testing.T) {
	db, mock := setupTestDB(t)
	q := NewJobQueue(db, queue.Policy{VisibilityTimeout: time.Minute})
	q.now = func() time.Time { return ts }

	job := &queue.Job{ID: "j1", LeaseToken: "lease-1", Payload: domain.JobPayload{
		CampaignID: "c1",
		Prepared:   true,
		Contacts:   []domain.Contact{{NormalizedPhone: "+573001234567"}},
		Offset:     9,
	}}
	mock.ExpectExec("UPDATE whatsapp_campaign_jobs\\s+SET send_offset = \\$3, lease_until = \\$4, updated_at = \\$5\\s+WHERE").
		WithArgs("j1", "lease-1", 9, ts.Add(time.Minute), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Advance(context.Background(), job))
	require.NotNil(t, job.LeaseUntil)
	assert.Equal(t, ts.Add(time.Minute), *job.LeaseUntil)
}

func TestJobQueue_AdvanceLeaseLost(t *testing.T) {
	db, mock := setupTestDB(t)
	q := NewJobQueue(db, queue.Policy{})

	mock.ExpectExec("SET send_offset").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("j1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := q.Advance(context.Background(), &queue.Job{ID: "j1", LeaseToken: "stale"})
	assert.ErrorIs(t, err, queue.ErrLeaseLost)
}

func TestJobQueue_CheckpointStoresPayloadAndOffset(t *testing.T) {
	db, mock := setupTestDB(t)
	q := NewJobQueue(db, queue.Policy{VisibilityTimeout: time.Minute})
	q.now = func() time.Time { return ts }

	job := &queue.Job{ID: "j1", LeaseToken: "lease-1", Payload: domain.JobPayload{CampaignID: "c1", Prepared: true}}
	mock.ExpectExec("SET payload = \\$3, send_offset = \\$6").
		WithArgs("j1", "lease-1", sqlmock.AnyArg(), ts.Add(time.Minute), ts, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, q.Checkpoint(context.Background(), job))
}

func TestJobQueue_ReclaimReturnsExhausted(t *testing.T) {
	db, mock := setupTestDB(t)
	q := NewJobQueue(db, queue.Policy{})

	payload, _ := json.Marshal(domain.JobPayload{CampaignID: "c2"})
	mock.ExpectExec("UPDATE whatsapp_campaign_jobs\\s+SET state = 'waiting'").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("UPDATE whatsapp_campaign_jobs\\s+SET state = 'failed'").
		WillReturnRows(jobRows().AddRow("j2", "c2", payload, "failed", 3, 3, 3, 5000,
			ts, nil, nil, "lease expired after 3 attempts", ts, ts, ts, 0))

	requeued, exhausted, err := q.Reclaim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, requeued)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "c2", exhausted[0].CampaignID)
	assert.Empty(t, exhausted[0].LeaseToken)
}

func TestJobQueue_Stats(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("SELECT state, COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"state", "count"}).
			AddRow("waiting", 4).AddRow("active", 1).AddRow("failed", 2))

	st, err := NewJobQueue(db, queue.Policy{}).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{Waiting: 4, Active: 1, Failed: 2}, st)
}
