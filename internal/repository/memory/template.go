package memory

import (
	"context"
	"sync"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
)

// TemplateStore implements campaign.TemplateStore.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]domain.Template
}

// NewTemplateStore creates a store seeded with templates.
func NewTemplateStore(templates ...domain.Template) *TemplateStore {
	s := &TemplateStore{templates: make(map[string]domain.Template)}
	for _, t := range templates {
		s.Put(t)
	}
	return s
}

// Put adds or replaces a template.
func (s *TemplateStore) Put(t domain.Template) {
	s.mu.Lock()
	s.templates[t.ID] = t
	s.mu.Unlock()
}

func (s *TemplateStore) Get(_ context.Context, tenantID, id string) (*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok || (t.TenantID != "" && t.TenantID != tenantID) {
		return nil, campaign.ErrTemplateNotFound
	}
	t.Variables = append([]string(nil), t.Variables...)
	return &t, nil
}
