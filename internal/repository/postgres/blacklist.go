package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/service/blacklist"
)

// BlacklistRepo implements blacklist.Repository against PostgreSQL.
type BlacklistRepo struct{ db *sql.DB }

// NewBlacklistRepo creates a Postgres-backed blacklist repository.
func NewBlacklistRepo(db *sql.DB) *BlacklistRepo { return &BlacklistRepo{db: db} }

const blacklistColumns = `id, phone, reason, source, status, added_by, removed_by, created_at, removed_at`

func scanEntry(s scanner) (*domain.BlacklistEntry, error) {
	e := &domain.BlacklistEntry{}
	err := s.Scan(&e.ID, &e.Phone, &e.Reason, &e.Source, &e.Status, &e.AddedBy,
		&e.RemovedBy, &e.CreatedAt, &e.RemovedAt)
	return e, err
}

func (r *BlacklistRepo) FindActive(ctx context.Context, phone string) (*domain.BlacklistEntry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx,
		`SELECT `+blacklistColumns+` FROM whatsapp_blacklist WHERE phone = $1 AND status = 'active'`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blacklist.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find blacklist entry: %w", err)
	}
	return e, nil
}

// Insert relies on the partial unique index over active phones.
func (r *BlacklistRepo) Insert(ctx context.Context, e *domain.BlacklistEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO whatsapp_blacklist (id, phone, reason, source, status, added_by, created_at)
		VALUES ($1, $2, $3, $4, 'active', $5, $6)
	`, e.ID, e.Phone, e.Reason, e.Source, e.AddedBy, e.CreatedAt)
	if isUniqueViolation(err) {
		return blacklist.ErrAlreadyBlacklisted
	}
	if err != nil {
		return fmt.Errorf("insert blacklist entry: %w", err)
	}
	return nil
}

func (r *BlacklistRepo) MarkRemoved(ctx context.Context, phone, removedBy string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE whatsapp_blacklist
		SET status = 'removed', removed_by = $2, removed_at = $3
		WHERE phone = $1 AND status = 'active'
	`, phone, removedBy, at)
	if err != nil {
		return fmt.Errorf("remove blacklist entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return blacklist.ErrNotFound
	}
	return nil
}

func (r *BlacklistRepo) List(ctx context.Context, f blacklist.ListFilter) ([]domain.BlacklistEntry, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	add := func(cond string, val interface{}) {
		args = append(args, val)
		where += fmt.Sprintf(" AND "+cond, len(args))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Search != "" {
		add("phone LIKE $%d", "%"+f.Search+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM whatsapp_blacklist`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count blacklist: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + blacklistColumns + ` FROM whatsapp_blacklist` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	var out []domain.BlacklistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan blacklist entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, total, rows.Err()
}

func (r *BlacklistRepo) Stats(ctx context.Context) (*blacklist.Stats, error) {
	st := &blacklist.Stats{BySource: map[string]int{}, ByReason: map[string]int{}}
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'removed')
		FROM whatsapp_blacklist
	`).Scan(&st.TotalActive, &st.TotalRemoved); err != nil {
		return nil, fmt.Errorf("blacklist totals: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT source, reason, COUNT(*)
		FROM whatsapp_blacklist
		WHERE status = 'active'
		GROUP BY source, reason
	`)
	if err != nil {
		return nil, fmt.Errorf("blacklist breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source, reason string
		var n int
		if err := rows.Scan(&source, &reason, &n); err != nil {
			return nil, fmt.Errorf("scan blacklist breakdown: %w", err)
		}
		st.BySource[source] += n
		st.ByReason[reason] += n
	}
	return st, rows.Err()
}

func (r *BlacklistRepo) InsertReport(ctx context.Context, rep *domain.AbuseReport) error {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO whatsapp_abuse_reports (id, phone, reason, reporter_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rep.ID, rep.Phone, rep.Reason, rep.ReporterID, rep.Status, rep.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert abuse report: %w", err)
	}
	return nil
}

func (r *BlacklistRepo) HasReported(ctx context.Context, phone, reporterID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM whatsapp_abuse_reports
			WHERE phone = $1 AND reporter_id = $2 AND status IN ('confirmed', 'auto_blacklisted'))
	`, phone, reporterID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check abuse report: %w", err)
	}
	return exists, nil
}

func (r *BlacklistRepo) CountConfirmedReports(ctx context.Context, phone string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM whatsapp_abuse_reports
		WHERE phone = $1 AND status IN ('confirmed', 'auto_blacklisted')
	`, phone).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count abuse reports: %w", err)
	}
	return n, nil
}

func (r *BlacklistRepo) UpdateReportStatus(ctx context.Context, id string, status domain.ReportStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE whatsapp_abuse_reports SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update abuse report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return blacklist.ErrNotFound
	}
	return nil
}

func (r *BlacklistRepo) ListReports(ctx context.Context, phone string) ([]domain.AbuseReport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, phone, reason, reporter_id, status, created_at
		FROM whatsapp_abuse_reports
		WHERE phone = $1
		ORDER BY created_at
	`, phone)
	if err != nil {
		return nil, fmt.Errorf("list abuse reports: %w", err)
	}
	defer rows.Close()

	var out []domain.AbuseReport
	for rows.Next() {
		var rep domain.AbuseReport
		if err := rows.Scan(&rep.ID, &rep.Phone, &rep.Reason, &rep.ReporterID, &rep.Status, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan abuse report: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}
