package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Deliver(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, n int) []domain.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.snapshot()
}

func TestEmitReachesSubscribersInOrder(t *testing.T) {
	b := NewBroadcaster(0)
	a, c := &recorder{}, &recorder{}
	subA := b.Subscribe("c1", a)
	subC := b.Subscribe("c1", c)
	defer b.Unsubscribe(subA)
	defer b.Unsubscribe(subC)

	for i := 1; i <= 20; i++ {
		b.EmitProgress(domain.Progress{CampaignID: "c1", Sent: i, Total: 20})
	}
	b.EmitStatus(domain.StatusUpdate{CampaignID: "c1", Status: domain.CampaignCompleted})

	for _, r := range []*recorder{a, c} {
		got := r.waitFor(t, 21)
		for i := 0; i < 20; i++ {
			assert.Equal(t, i+1, got[i].Data.(domain.Progress).Sent)
		}
		assert.Equal(t, domain.EventStatus, got[20].Type)
	}
}

func TestOtherCampaignsAreIsolated(t *testing.T) {
	b := NewBroadcaster(0)
	r := &recorder{}
	sub := b.Subscribe("c1", r)
	defer b.Unsubscribe(sub)

	b.EmitProgress(domain.Progress{CampaignID: "c2", Sent: 1})
	b.EmitProgress(domain.Progress{CampaignID: "c1", Sent: 7})

	got := r.waitFor(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].CampaignID)
}

func TestLateSubscriberGetsSnapshot(t *testing.T) {
	b := NewBroadcaster(0)
	b.EmitProgress(domain.Progress{CampaignID: "c1", Sent: 3, Total: 10, Progress: 30})
	b.EmitProgress(domain.Progress{CampaignID: "c1", Sent: 5, Total: 10, Progress: 50})
	b.EmitStatus(domain.StatusUpdate{CampaignID: "c1", Status: domain.CampaignProcessing})

	r := &recorder{}
	sub := b.Subscribe("c1", r)
	defer b.Unsubscribe(sub)

	got := r.waitFor(t, 2)
	assert.Equal(t, domain.EventProgress, got[0].Type)
	assert.Equal(t, 5, got[0].Data.(domain.Progress).Sent)
	assert.Equal(t, domain.CampaignProcessing, got[1].Data.(domain.StatusUpdate).Status)
}

func TestSnapshotLoaderFallback(t *testing.T) {
	b := NewBroadcaster(0)
	b.SetSnapshotLoader(func(_ context.Context, id string) (*domain.Campaign, error) {
		if id != "stored" {
			return nil, errors.New("not found")
		}
		return &domain.Campaign{ID: id, Status: domain.CampaignPaused, TotalContacts: 4, SentCount: 2}, nil
	})

	r := &recorder{}
	sub := b.Subscribe("stored", r)
	defer b.Unsubscribe(sub)
	got := r.waitFor(t, 2)
	assert.Equal(t, 50, got[0].Data.(domain.Progress).Progress)
	assert.Equal(t, domain.CampaignPaused, got[1].Data.(domain.StatusUpdate).Status)

	empty := &recorder{}
	sub2 := b.Subscribe("missing", empty)
	b.Unsubscribe(sub2)
	assert.Empty(t, empty.snapshot())
}

func TestEventDuringSnapshotLoadWinsOverLoadedState(t *testing.T) {
	b := NewBroadcaster(0)
	b.SetSnapshotLoader(func(_ context.Context, id string) (*domain.Campaign, error) {
		// The worker reports progress while the store read is in flight.
		b.EmitProgress(domain.Progress{CampaignID: id, Sent: 5, Total: 10, Progress: 50})
		return &domain.Campaign{ID: id, Status: domain.CampaignProcessing, TotalContacts: 10, SentCount: 2}, nil
	})

	r := &recorder{}
	sub := b.Subscribe("c1", r)
	defer b.Unsubscribe(sub)

	got := r.waitFor(t, 2)
	require.Len(t, got, 2)
	assert.Equal(t, 5, got[0].Data.(domain.Progress).Sent)
	assert.Equal(t, domain.CampaignProcessing, got[1].Data.(domain.StatusUpdate).Status)
}

func TestPanickingObserverIsIsolated(t *testing.T) {
	b := NewBroadcaster(0)
	bad := b.Subscribe("c1", ObserverFunc(func(domain.Event) { panic("boom") }))
	defer b.Unsubscribe(bad)
	good := &recorder{}
	sub := b.Subscribe("c1", good)
	defer b.Unsubscribe(sub)

	assert.NotPanics(t, func() {
		b.EmitProgress(domain.Progress{CampaignID: "c1", Sent: 1})
		b.EmitProgress(domain.Progress{CampaignID: "c1", Sent: 2})
	})
	assert.Len(t, good.waitFor(t, 2), 2)
}

func TestSlowObserverNeverBlocksEmitter(t *testing.T) {
	b := NewBroadcaster(2)
	release := make(chan struct{})
	sub := b.Subscribe("c1", ObserverFunc(func(domain.Event) { <-release }))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.EmitProgress(domain.Progress{CampaignID: "c1", Sent: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emitter blocked on a slow observer")
	}
	close(release)
	b.Unsubscribe(sub)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster(0)
	r := &recorder{}
	sub := b.Subscribe("c1", r)
	b.EmitProgress(domain.Progress{CampaignID: "c1", Sent: 1})
	b.Unsubscribe(sub)
	assert.Zero(t, b.Subscribers("c1"))

	b.EmitProgress(domain.Progress{CampaignID: "c1", Sent: 2})
	assert.Len(t, r.snapshot(), 1)
}

func TestRedisRelayBetweenProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		return c
	}

	worker := NewBroadcaster(0)
	workerRelay := NewRedisRelay(newClient())
	wsub := workerRelay.Attach(worker)
	defer worker.Unsubscribe(wsub)

	api := NewBroadcaster(0)
	apiRelay := NewRedisRelay(newClient())
	asub := apiRelay.Attach(api)
	defer api.Unsubscribe(asub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go apiRelay.Forward(ctx, api)
	require.Eventually(t, func() bool {
		return mr.PubSubNumPat() > 0
	}, 2*time.Second, 5*time.Millisecond)

	r := &recorder{}
	sub := api.Subscribe("c9", r)
	defer api.Unsubscribe(sub)

	worker.EmitProgress(domain.Progress{CampaignID: "c9", Sent: 4, Total: 8, Progress: 50})
	worker.EmitError(domain.ErrorNotice{CampaignID: "c9", Error: "boom", ErrorType: "system_error"})

	got := r.waitFor(t, 2)
	assert.Equal(t, 4, got[0].Data.(domain.Progress).Sent)
	assert.Equal(t, "boom", got[1].Data.(domain.ErrorNotice).Error)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, _, err := decode(`{"origin":"x","type":"nope","campaignId":"c","data":{}}`)
	assert.Error(t, err)
}
