package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/whatsapp-dispatch/internal/contacts"
	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/pkg/logger"
	"github.com/ignite/whatsapp-dispatch/internal/queue"
	"github.com/ignite/whatsapp-dispatch/internal/quota"
	"github.com/ignite/whatsapp-dispatch/internal/templating"
)

// Deferrer holds a campaign request until a future time.
type Deferrer interface {
	Schedule(ctx context.Context, req domain.CampaignRequest, at time.Time, createdBy string) (*domain.ScheduledCampaign, error)
}

// SourceLoader opens a contact list stored outside the request, such as an
// s3:// object.
type SourceLoader interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// StatusNotifier receives lifecycle changes made outside a dispatch worker.
type StatusNotifier interface {
	EmitStatus(u domain.StatusUpdate)
}

// Options are the job policy applied to every enqueued campaign.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	// PreviewLimit caps the number of rendered preview messages.
	PreviewLimit int
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo      Repository
	templates TemplateStore
	queue     queue.Queue
	parser    *contacts.Parser
	quota     quota.Checker
	renderer  *templating.Renderer
	opts      Options

	deferrer Deferrer
	loader   SourceLoader
	notifier StatusNotifier
}

// NewService creates a campaign service.
func NewService(repo Repository, templates TemplateStore, q queue.Queue, parser *contacts.Parser, checker quota.Checker, opts Options) *Service {
	if checker == nil {
		checker = quota.Unlimited{}
	}
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = 5
	}
	return &Service{
		repo:      repo,
		templates: templates,
		queue:     q,
		parser:    parser,
		quota:     checker,
		renderer:  templating.NewRenderer(),
		opts:      opts,
	}
}

// SetDeferrer enables scheduled submissions.
func (s *Service) SetDeferrer(d Deferrer) { s.deferrer = d }

// SetSourceLoader enables URI contact sources.
func (s *Service) SetSourceLoader(l SourceLoader) { s.loader = l }

// SetNotifier sets the receiver of pause/resume status events.
func (s *Service) SetNotifier(n StatusNotifier) { s.notifier = n }

// ContactSource is exactly one of inline CSV text, a storage URI or an
// already tabular list.
type ContactSource struct {
	CSV   string               `json:"csv,omitempty"`
	URI   string               `json:"uri,omitempty"`
	Table *domain.ContactTable `json:"table,omitempty"`
}

// SubmitInput is the submitCampaign request.
type SubmitInput struct {
	TenantID         string            `json:"-"`
	UserID           string            `json:"-"`
	Tier             string            `json:"-"`
	Name             string            `json:"name"`
	TemplateID       string            `json:"template_id"`
	From             string            `json:"from,omitempty"`
	Contacts         ContactSource     `json:"contacts"`
	VariableMappings map[string]string `json:"variable_mappings,omitempty"`
	DefaultValues    map[string]string `json:"default_values,omitempty"`
	// ScheduleAt defers the campaign; nil sends immediately.
	ScheduleAt *time.Time `json:"schedule_at,omitempty"`
}

// SubmitResult is returned by Submit.
type SubmitResult struct {
	CampaignID    string               `json:"campaign_id,omitempty"`
	ScheduleID    string               `json:"schedule_id,omitempty"`
	Status        string               `json:"status"`
	TotalContacts int                  `json:"total_contacts"`
	ValidContacts int                  `json:"valid_contacts"`
	Rejected      []domain.RejectedRow `json:"rejected,omitempty"`
}

// Submit validates a campaign request and enqueues or schedules it.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	req, parsed, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	res := &SubmitResult{
		TotalContacts: parsed.Total,
		ValidContacts: len(parsed.Valid),
		Rejected:      parsed.Rejected,
	}

	if in.ScheduleAt != nil {
		if s.deferrer == nil {
			return nil, ErrSchedulingUnavailable
		}
		sc, err := s.deferrer.Schedule(ctx, req, *in.ScheduleAt, in.UserID)
		if err != nil {
			return nil, err
		}
		res.ScheduleID = sc.ID
		res.Status = string(sc.Status)
		return res, nil
	}

	c, err := s.create(ctx, uuid.New().String(), "", req, parsed)
	if err != nil {
		return nil, err
	}
	res.CampaignID = c.ID
	res.Status = string(c.Status)
	return res, nil
}

// Launch creates and enqueues a campaign with a caller-chosen ID for the
// given schedule. It is idempotent: if the campaign already exists it is
// returned unchanged. The scheduler uses it to fire deferred campaigns
// exactly once.
func (s *Service) Launch(ctx context.Context, campaignID, scheduleID string, req domain.CampaignRequest) (*domain.Campaign, error) {
	if existing, err := s.repo.Get(ctx, campaignID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup campaign: %w", err)
	}

	parsed, err := s.parse(req.Contacts)
	if err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, req.TenantID, len(parsed.Valid)); err != nil {
		return nil, err
	}
	c, err := s.create(ctx, campaignID, scheduleID, req, parsed)
	if errors.Is(err, ErrAlreadyExists) {
		return s.repo.Get(ctx, campaignID)
	}
	return c, err
}

func (s *Service) prepare(ctx context.Context, in SubmitInput) (domain.CampaignRequest, *contacts.Result, error) {
	var req domain.CampaignRequest
	if strings.TrimSpace(in.Name) == "" {
		return req, nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.TemplateID == "" {
		return req, nil, fmt.Errorf("%w: template_id is required", ErrInvalidInput)
	}
	if in.TenantID == "" {
		return req, nil, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}

	tmpl, err := s.template(ctx, in.TenantID, in.TemplateID)
	if err != nil {
		return req, nil, err
	}

	table, err := s.resolveSource(ctx, in.Contacts)
	if err != nil {
		return req, nil, err
	}
	parsed, err := s.parse(table)
	if err != nil {
		return req, nil, err
	}
	if err := s.checkQuota(ctx, in.TenantID, len(parsed.Valid)); err != nil {
		return req, nil, err
	}

	req = domain.CampaignRequest{
		TenantID:         in.TenantID,
		UserID:           in.UserID,
		Tier:             in.Tier,
		Name:             strings.TrimSpace(in.Name),
		From:             in.From,
		Template:         *tmpl,
		Contacts:         table,
		VariableMappings: in.VariableMappings,
		DefaultValues:    in.DefaultValues,
	}
	return req, parsed, nil
}

func (s *Service) template(ctx context.Context, tenantID, id string) (*domain.Template, error) {
	tmpl, err := s.templates.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if tmpl.Status != domain.TemplateApproved {
		return nil, ErrTemplateNotApproved
	}
	return tmpl, nil
}

func (s *Service) resolveSource(ctx context.Context, src ContactSource) (domain.ContactTable, error) {
	switch {
	case src.Table != nil:
		return *src.Table, nil
	case strings.TrimSpace(src.CSV) != "":
		return s.readCSV(strings.NewReader(src.CSV))
	case src.URI != "":
		if s.loader == nil {
			return domain.ContactTable{}, fmt.Errorf("%w: %s", ErrUnsupportedSource, src.URI)
		}
		rc, err := s.loader.Open(ctx, src.URI)
		if err != nil {
			return domain.ContactTable{}, fmt.Errorf("open contact source: %w", err)
		}
		defer rc.Close()
		return s.readCSV(rc)
	}
	return domain.ContactTable{}, fmt.Errorf("%w: contacts are required", ErrInvalidInput)
}

func (s *Service) readCSV(r io.Reader) (domain.ContactTable, error) {
	table, err := contacts.ReadCSV(r)
	if err != nil {
		return table, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return table, nil
}

func (s *Service) parse(table domain.ContactTable) (*contacts.Result, error) {
	res, err := s.parser.Parse(table)
	switch {
	case errors.Is(err, contacts.ErrNoValidContacts):
		return nil, fmt.Errorf("%w: %w", ErrNoValidContacts, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return res, nil
}

func (s *Service) checkQuota(ctx context.Context, tenantID string, n int) error {
	err := quota.Require(ctx, s.quota, tenantID, n)
	if errors.Is(err, quota.ErrInsufficient) {
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	}
	return err
}

func (s *Service) create(ctx context.Context, id, scheduleID string, req domain.CampaignRequest, parsed *contacts.Result) (*domain.Campaign, error) {
	now := time.Now().UTC()
	c := &domain.Campaign{
		ID:            id,
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		Name:          req.Name,
		TemplateID:    req.Template.ID,
		ChannelType:   req.Template.ChannelType(),
		Status:        domain.CampaignQueued,
		TotalContacts: parsed.Total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if scheduleID != "" {
		c.ScheduleID = &scheduleID
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	payload := domain.JobPayload{CampaignID: c.ID, Request: req}
	_, err := s.queue.Enqueue(ctx, c.ID, payload, queue.Options{
		Priority: domain.TierPriority(req.Tier),
		Attempts: s.opts.MaxAttempts,
		Backoff:  s.opts.Backoff,
	})
	if err != nil {
		if rbErr := s.repo.Transition(ctx, c.ID, domain.CampaignFailed, string(domain.JobSystemError), time.Now().UTC()); rbErr != nil {
			log.Printf("[campaign.Service] rollback failed: %v", rbErr)
		}
		return nil, fmt.Errorf("enqueue campaign: %w", err)
	}

	logger.Info("campaign queued", "campaign_id", c.ID, "tenant_id", c.TenantID,
		"contacts", parsed.Total, "valid", len(parsed.Valid), "priority", domain.TierPriority(req.Tier))
	return c, nil
}

// Get returns a tenant's campaign.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenantID != "" && c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns a tenant's campaigns.
func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.repo.List(ctx, tenantID, f)
}

// Messages returns a campaign's per-contact log.
func (s *Service) Messages(ctx context.Context, tenantID, id string, limit, offset int) ([]domain.MessageLogEntry, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return s.repo.Messages(ctx, id, limit, offset)
}

// Pause stops a queued or processing campaign. Waiting jobs are parked now;
// an active job is parked by its worker before the next contact.
func (s *Service) Pause(ctx context.Context, tenantID, id string) error {
	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Transition(ctx, id, domain.CampaignPaused, "", time.Now().UTC()); err != nil {
		return err
	}
	n, err := s.queue.PauseCampaign(ctx, id)
	if err != nil {
		return fmt.Errorf("park jobs: %w", err)
	}
	log.Printf("[campaign.Service] Campaign %s paused (%d waiting jobs parked)", id, n)
	s.notify(c, domain.CampaignPaused, "paused by user")
	return nil
}

// Resume restarts a paused campaign from its checkpoint.
func (s *Service) Resume(ctx context.Context, tenantID, id string) error {
	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignPaused {
		return ErrInvalidTransition
	}
	if err := s.repo.Transition(ctx, id, domain.CampaignProcessing, "", time.Now().UTC()); err != nil {
		return err
	}
	n, err := s.queue.ResumeCampaign(ctx, id)
	if err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}
	log.Printf("[campaign.Service] Campaign %s resumed (%d jobs returned to queue)", id, n)
	s.notify(c, domain.CampaignProcessing, "resumed")
	return nil
}

// Jobs lists the queue jobs of a campaign.
func (s *Service) Jobs(ctx context.Context, tenantID, id string) ([]queue.Job, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.queue.JobsForCampaign(ctx, id)
}

func (s *Service) notify(c *domain.Campaign, status domain.CampaignStatus, msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.EmitStatus(domain.StatusUpdate{
		CampaignID:    c.ID,
		Status:        status,
		Message:       msg,
		TotalContacts: c.TotalContacts,
		SentCount:     c.SentCount,
		ErrorCount:    c.ErrorCount,
	})
}

// PreviewInput renders a template against the head of a contact list.
type PreviewInput struct {
	TenantID         string            `json:"-"`
	TemplateID       string            `json:"template_id"`
	Contacts         ContactSource     `json:"contacts"`
	VariableMappings map[string]string `json:"variable_mappings,omitempty"`
	DefaultValues    map[string]string `json:"default_values,omitempty"`
	Limit            int               `json:"limit,omitempty"`
}

// PreviewMessage is one rendered message.
type PreviewMessage struct {
	Row       int               `json:"row"`
	Phone     string            `json:"phone"`
	Variables map[string]string `json:"variables"`
	Body      string            `json:"body"`
}

// Preview renders the template for the first valid contacts.
func (s *Service) Preview(ctx context.Context, in PreviewInput) ([]PreviewMessage, error) {
	tmpl, err := s.template(ctx, in.TenantID, in.TemplateID)
	if err != nil {
		return nil, err
	}
	table, err := s.resolveSource(ctx, in.Contacts)
	if err != nil {
		return nil, err
	}
	parsed, err := s.parse(table)
	if err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit <= 0 || limit > s.opts.PreviewLimit {
		limit = s.opts.PreviewLimit
	}
	if limit > len(parsed.Valid) {
		limit = len(parsed.Valid)
	}

	out := make([]PreviewMessage, 0, limit)
	for _, c := range parsed.Valid[:limit] {
		vars := templating.ResolveVariables(tmpl.Variables, c, in.VariableMappings, in.DefaultValues)
		body, err := s.renderer.Render(tmpl.ID, tmpl.Body, vars)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		out = append(out, PreviewMessage{Row: c.Row, Phone: c.NormalizedPhone, Variables: vars, Body: body})
	}
	return out, nil
}
