package campaign_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/whatsapp-dispatch/internal/contacts"
	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/phone"
	"github.com/ignite/whatsapp-dispatch/internal/queue"
	"github.com/ignite/whatsapp-dispatch/internal/quota"
	"github.com/ignite/whatsapp-dispatch/internal/repository/memory"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
)

var promo = domain.Template{
	ID:        "tpl-promo",
	TenantID:  "t1",
	Name:      "promo",
	Language:  "es",
	Category:  "MARKETING",
	Body:      "Hola {{1}}",
	Variables: []string{"1"},
	Status:    domain.TemplateApproved,
}

// failingQueue refuses every enqueue.
type failingQueue struct {
	*queue.Memory
}

func (failingQueue) Enqueue(context.Context, string, domain.JobPayload, queue.Options) (*queue.Job, error) {
	return nil, errors.New("queue unavailable")
}

type statusLog struct {
	mu      sync.Mutex
	updates []domain.StatusUpdate
}

func (l *statusLog) EmitStatus(u domain.StatusUpdate) {
	l.mu.Lock()
	l.updates = append(l.updates, u)
	l.mu.Unlock()
}

type fixture struct {
	repo   *memory.CampaignRepo
	queue  *queue.Memory
	ledger *quota.Ledger
	status *statusLog
	svc    *campaign.Service
}

func newFixture(t *testing.T, q queue.Queue) *fixture {
	t.Helper()
	f := &fixture{
		repo:   memory.NewCampaignRepo(),
		queue:  queue.NewMemory(queue.Policy{}),
		ledger: quota.NewLedger(map[string]int{"t1": 10}),
		status: &statusLog{},
	}
	if q == nil {
		q = f.queue
	}
	parser := contacts.NewParser(phone.NewNormalizer("57", []string{"3"}))
	f.svc = campaign.NewService(f.repo, memory.NewTemplateStore(promo), q, parser, f.ledger, campaign.Options{})
	f.svc.SetNotifier(f.status)
	return f
}

func request() domain.CampaignRequest {
	return domain.CampaignRequest{
		TenantID: "t1",
		UserID:   "u1",
		Name:     "spring sale",
		Template: promo,
		Contacts: domain.ContactTable{
			Header: []string{"nombre", "celular"},
			Rows:   [][]string{{"Ana", "3001234567"}, {"Luis", "3007654321"}},
		},
	}
}

func submitInput() campaign.SubmitInput {
	return campaign.SubmitInput{
		TenantID:   "t1",
		UserID:     "u1",
		Name:       "spring sale",
		TemplateID: promo.ID,
		Contacts:   campaign.ContactSource{CSV: "nombre,celular\nAna,3001234567\n"},
	}
}

func (f *fixture) jobs(t *testing.T, id string) []queue.Job {
	t.Helper()
	jobs, err := f.queue.JobsForCampaign(context.Background(), id)
	require.NoError(t, err)
	return jobs
}

func TestLaunchIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Launch(ctx, "camp-1", "sched-1", request())
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignQueued, first.Status)
	require.NotNil(t, first.ScheduleID)
	assert.Equal(t, "sched-1", *first.ScheduleID)

	// A second fire of the same schedule returns the existing campaign even
	// when the tenant could no longer afford it.
	f.ledger.Set("t1", 0)
	second, err := f.svc.Launch(ctx, "camp-1", "sched-1", request())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.jobs(t, "camp-1"), 1)
}

func TestLaunchChecksQuota(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.Set("t1", 1)

	_, err := f.svc.Launch(context.Background(), "camp-1", "sched-1", request())
	assert.ErrorIs(t, err, campaign.ErrQuotaExceeded)
	assert.ErrorIs(t, err, quota.ErrInsufficient)

	_, err = f.repo.Get(context.Background(), "camp-1")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestSubmitEnqueueFailureMarksCampaignFailed(t *testing.T) {
	f := newFixture(t, failingQueue{queue.NewMemory(queue.Policy{})})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, submitInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue campaign")

	list, total, err := f.repo.List(ctx, "t1", campaign.ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.CampaignFailed, list[0].Status)
	assert.Equal(t, string(domain.JobSystemError), list[0].FailureReason)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	in := submitInput()
	in.Name = "  "
	_, err := f.svc.Submit(ctx, in)
	assert.ErrorIs(t, err, campaign.ErrInvalidInput)

	in = submitInput()
	in.Contacts = campaign.ContactSource{CSV: "nombre,celular\nAna,12345\n"}
	_, err = f.svc.Submit(ctx, in)
	assert.ErrorIs(t, err, campaign.ErrNoValidContacts)

	in = submitInput()
	in.Contacts = campaign.ContactSource{URI: "s3://lists/a.csv"}
	_, err = f.svc.Submit(ctx, in)
	assert.ErrorIs(t, err, campaign.ErrUnsupportedSource)

	in = submitInput()
	at := time.Now().Add(time.Hour)
	in.ScheduleAt = &at
	_, err = f.svc.Submit(ctx, in)
	assert.ErrorIs(t, err, campaign.ErrSchedulingUnavailable)

	st, _ := f.queue.Stats(ctx)
	assert.Zero(t, st.Waiting)
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.svc.Submit(ctx, submitInput())
	require.NoError(t, err)
	id := res.CampaignID

	assert.ErrorIs(t, f.svc.Resume(ctx, "t1", id), campaign.ErrInvalidTransition, "only paused campaigns resume")

	require.NoError(t, f.svc.Pause(ctx, "t1", id))
	assert.Equal(t, queue.StatePaused, f.jobs(t, id)[0].State)

	require.NoError(t, f.svc.Resume(ctx, "t1", id))
	assert.Equal(t, queue.StateWaiting, f.jobs(t, id)[0].State)

	c, err := f.svc.Get(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignProcessing, c.Status)

	require.Len(t, f.status.updates, 2)
	assert.Equal(t, domain.CampaignPaused, f.status.updates[0].Status)
	assert.Equal(t, domain.CampaignProcessing, f.status.updates[1].Status)
}

func TestPauseAndResumeRejectTerminalCampaigns(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.svc.Submit(ctx, submitInput())
	require.NoError(t, err)
	id := res.CampaignID

	now := time.Now().UTC()
	require.NoError(t, f.repo.Transition(ctx, id, domain.CampaignProcessing, "", now))
	require.NoError(t, f.repo.Transition(ctx, id, domain.CampaignCompleted, "", now))

	assert.ErrorIs(t, f.svc.Pause(ctx, "t1", id), campaign.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.Resume(ctx, "t1", id), campaign.ErrInvalidTransition)
	assert.Empty(t, f.status.updates)

	c, _ := f.svc.Get(ctx, "t1", id)
	assert.Equal(t, domain.CampaignCompleted, c.Status)
}

func TestOtherTenantCannotSeeOrControlCampaign(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	res, err := f.svc.Submit(ctx, submitInput())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, "t2", res.CampaignID)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
	assert.ErrorIs(t, f.svc.Pause(ctx, "t2", res.CampaignID), campaign.ErrNotFound)
	_, err = f.svc.Jobs(ctx, "t2", res.CampaignID)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}
