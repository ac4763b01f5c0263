package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, tenant_id, user_id, name, template_id, channel_type, status,
	total_contacts, sent_count, error_count, blacklisted_count,
	failure_reason, schedule_id, created_at, started_at, completed_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(s scanner) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := s.Scan(
		&c.ID, &c.TenantID, &c.UserID, &c.Name, &c.TemplateID, &c.ChannelType, &c.Status,
		&c.TotalContacts, &c.SentCount, &c.ErrorCount, &c.BlacklistedCount,
		&c.FailureReason, &c.ScheduleID, &c.CreatedAt, &c.StartedAt, &c.CompletedAt, &c.UpdatedAt,
	)
	return c, err
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO whatsapp_campaigns
			(id, tenant_id, user_id, name, template_id, channel_type, status,
			 total_contacts, schedule_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.TenantID, c.UserID, c.Name, c.TemplateID, c.ChannelType, c.Status,
		c.TotalContacts, c.ScheduleID, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return campaign.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM whatsapp_campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, tenantID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if f.Status != "" {
		where += ` AND status = $2`
		args = append(args, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM whatsapp_campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM whatsapp_campaigns` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// Transition is a single conditional UPDATE: the WHERE clause only matches
// rows whose current status may move to `to`, so concurrent writers cannot
// skip a state.
func (r *CampaignRepo) Transition(ctx context.Context, id string, to domain.CampaignStatus, reason string, at time.Time) error {
	sources := make([]string, 0, 3)
	for _, s := range domain.TransitionSources(to) {
		sources = append(sources, string(s))
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE whatsapp_campaigns
		SET status = $2,
		    failure_reason = CASE WHEN $3 <> '' THEN $3 ELSE failure_reason END,
		    started_at = CASE WHEN $5 THEN COALESCE(started_at, $4) ELSE started_at END,
		    completed_at = CASE WHEN $6 THEN $4 ELSE completed_at END,
		    updated_at = $4
		WHERE id = $1 AND status = ANY($7)
	`, id, string(to), reason, at, to == domain.CampaignProcessing, to.IsTerminal(), pq.Array(sources))
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM whatsapp_campaigns WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	if !exists {
		return campaign.ErrNotFound
	}
	return campaign.ErrInvalidTransition
}

func (r *CampaignRepo) SetTotals(ctx context.Context, id string, t campaign.Totals) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE whatsapp_campaigns
		SET total_contacts = $2, error_count = $3, blacklisted_count = $4, updated_at = NOW()
		WHERE id = $1
	`, id, t.Total, t.Rejected, t.Blacklisted)
	if err != nil {
		return fmt.Errorf("set campaign totals: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// RecordMessage inserts the entry and bumps the matching counter in one
// transaction. ON CONFLICT makes a replayed contact a no-op.
func (r *CampaignRepo) RecordMessage(ctx context.Context, e *domain.MessageLogEntry) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.SentAt.IsZero() {
		e.SentAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO whatsapp_message_log
			(id, campaign_id, position, phone, status, provider_message_id,
			 error_category, error_message, attempts, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (campaign_id, position) DO NOTHING
	`, e.ID, e.CampaignID, e.Position, e.Phone, e.Status, e.ProviderMessageID,
		e.ErrorCategory, e.ErrorMessage, e.Attempts, e.Body, e.SentAt)
	if err != nil {
		return false, fmt.Errorf("insert message log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	counter := "error_count"
	if e.Status == domain.MessageSent {
		counter = "sent_count"
	}
	res, err = tx.ExecContext(ctx,
		`UPDATE whatsapp_campaigns SET `+counter+` = `+counter+` + 1, updated_at = NOW() WHERE id = $1`,
		e.CampaignID)
	if err != nil {
		return false, fmt.Errorf("increment %s: %w", counter, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, campaign.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (r *CampaignRepo) Messages(ctx context.Context, campaignID string, limit, offset int) ([]domain.MessageLogEntry, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, position, phone, status, provider_message_id,
		       error_category, error_message, attempts, body, sent_at
		FROM whatsapp_message_log
		WHERE campaign_id = $1
		ORDER BY position
		LIMIT $2 OFFSET $3
	`, campaignID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.MessageLogEntry
	for rows.Next() {
		var e domain.MessageLogEntry
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.Position, &e.Phone, &e.Status, &e.ProviderMessageID,
			&e.ErrorCategory, &e.ErrorMessage, &e.Attempts, &e.Body, &e.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
