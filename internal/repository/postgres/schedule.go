package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/scheduler"
)

// ScheduleRepo implements scheduler.Repository against PostgreSQL. The
// campaign request is stored as JSONB.
type ScheduleRepo struct{ db *sql.DB }

// NewScheduleRepo creates a Postgres-backed schedule repository.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

const scheduleColumns = `id, tenant_id, created_by, target_at, payload, status, campaign_id,
	failure_reason, created_at, updated_at, executed_at`

func scanSchedule(s scanner) (*domain.ScheduledCampaign, error) {
	sc := &domain.ScheduledCampaign{}
	var payload []byte
	if err := s.Scan(&sc.ID, &sc.TenantID, &sc.CreatedBy, &sc.TargetAt, &payload, &sc.Status,
		&sc.CampaignID, &sc.FailureReason, &sc.CreatedAt, &sc.UpdatedAt, &sc.ExecutedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &sc.Payload); err != nil {
		return nil, fmt.Errorf("decode schedule payload: %w", err)
	}
	return sc, nil
}

func (r *ScheduleRepo) Create(ctx context.Context, s *domain.ScheduledCampaign) error {
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return fmt.Errorf("encode schedule payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO whatsapp_scheduled_campaigns
			(id, tenant_id, created_by, target_at, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.TenantID, s.CreatedBy, s.TargetAt, payload, s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepo) Get(ctx context.Context, id string) (*domain.ScheduledCampaign, error) {
	sc, err := scanSchedule(r.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM whatsapp_scheduled_campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scheduler.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sc, nil
}

func (r *ScheduleRepo) List(ctx context.Context, tenantID string, f scheduler.ListFilter) ([]domain.ScheduledCampaign, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if f.Status != "" {
		where += ` AND status = $2`
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM whatsapp_scheduled_campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + scheduleColumns + ` FROM whatsapp_scheduled_campaigns` + where +
		fmt.Sprintf(` ORDER BY target_at LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	out, err := r.query(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}
	return out, total, nil
}

func (r *ScheduleRepo) Due(ctx context.Context, after, before time.Time, limit int) ([]domain.ScheduledCampaign, error) {
	if limit <= 0 {
		limit = 100
	}
	var lower interface{}
	if !after.IsZero() {
		lower = after
	}
	out, err := r.query(ctx, `
		SELECT `+scheduleColumns+`
		FROM whatsapp_scheduled_campaigns
		WHERE status = 'scheduled' AND target_at <= $1
		  AND ($2::timestamptz IS NULL OR target_at > $2)
		ORDER BY target_at
		LIMIT $3
	`, before, lower, limit)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	return out, nil
}

func (r *ScheduleRepo) query(ctx context.Context, q string, args ...interface{}) ([]domain.ScheduledCampaign, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScheduledCampaign
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// Finish only matches a row still in status scheduled, so two schedulers
// racing on the same row settle it once.
func (r *ScheduleRepo) Finish(ctx context.Context, id string, to domain.ScheduleStatus, campaignID *string, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE whatsapp_scheduled_campaigns
		SET status = $2, campaign_id = $3, failure_reason = $4, updated_at = $5,
		    executed_at = CASE WHEN $2 = 'executed' THEN $5 ELSE executed_at END
		WHERE id = $1 AND status = 'scheduled'
	`, id, string(to), campaignID, reason, at)
	if err != nil {
		return fmt.Errorf("finish schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return scheduler.ErrNotPending
}
