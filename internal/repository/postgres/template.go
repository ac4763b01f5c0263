package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
)

// TemplateStore implements campaign.TemplateStore. Templates with an empty
// tenant are shared by every tenant.
type TemplateStore struct{ db *sql.DB }

// NewTemplateStore creates a Postgres-backed template store.
func NewTemplateStore(db *sql.DB) *TemplateStore { return &TemplateStore{db: db} }

func (s *TemplateStore) Get(ctx context.Context, tenantID, id string) (*domain.Template, error) {
	t := &domain.Template{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, language, category, body, variables, status
		FROM whatsapp_templates
		WHERE id = $1 AND (tenant_id = $2 OR tenant_id = '')
	`, id, tenantID).Scan(&t.ID, &t.TenantID, &t.Name, &t.Language, &t.Category, &t.Body,
		pq.Array(&t.Variables), &t.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}
