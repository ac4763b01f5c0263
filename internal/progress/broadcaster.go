// Package progress fans campaign progress events out to observers.
//
// Delivery is fire-and-forget: each subscriber owns a buffered queue drained
// by its own goroutine, so a slow or panicking observer loses events but
// never blocks the emitter or other observers. Events of one campaign reach
// each observer in emission order.
package progress

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/metrics"
)

const (
	defaultBuffer      = 64
	snapshotTTL        = 2 * time.Hour
	snapshotCleanup    = 10 * time.Minute
	snapshotLoadBudget = 2 * time.Second
)

// Observer receives events. Deliver runs on the subscription's goroutine.
type Observer interface {
	Deliver(ev domain.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev domain.Event)

func (f ObserverFunc) Deliver(ev domain.Event) { f(ev) }

// SnapshotLoader returns the stored state of a campaign for observers that
// join before any event was emitted in this process.
type SnapshotLoader func(ctx context.Context, campaignID string) (*domain.Campaign, error)

// Subscription identifies one registered observer.
type Subscription struct {
	ID         uint64
	CampaignID string
}

type subscriber struct {
	Subscription
	obs  Observer
	ch   chan domain.Event
	done chan struct{}
}

type snapshot struct {
	progress *domain.Progress
	status   *domain.StatusUpdate
}

// Broadcaster is the in-process progress hub.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[string]map[uint64]*subscriber
	all     map[uint64]*subscriber
	nextID  uint64
	buffer  int
	snaps   *cache.Cache
	loader  SnapshotLoader
	metrics *metrics.Metrics
}

// NewBroadcaster creates a hub whose subscribers buffer up to buffer events.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[string]map[uint64]*subscriber),
		all:    make(map[uint64]*subscriber),
		buffer: buffer,
		snaps:  cache.New(snapshotTTL, snapshotCleanup),
	}
}

// SetSnapshotLoader sets the fallback used when no snapshot is cached.
func (b *Broadcaster) SetSnapshotLoader(l SnapshotLoader) { b.loader = l }

// SetMetrics enables the dropped-event counter.
func (b *Broadcaster) SetMetrics(m *metrics.Metrics) { b.metrics = m }

// Subscribe registers obs for one campaign. The campaign's latest known
// progress and status are queued to it before any later event.
func (b *Broadcaster) Subscribe(campaignID string, obs Observer) Subscription {
	snap := b.snapshot(campaignID)

	b.mu.Lock()
	defer b.mu.Unlock()
	// Events emitted while the loader ran are newer than what it returned.
	cur := b.cached(campaignID)
	if cur.progress != nil {
		snap.progress = cur.progress
	}
	if cur.status != nil {
		snap.status = cur.status
	}
	s := b.newSubscriber(campaignID, obs)
	if snap.progress != nil {
		b.offer(s, domain.Event{Type: domain.EventProgress, CampaignID: campaignID, Data: *snap.progress})
	}
	if snap.status != nil {
		b.offer(s, domain.Event{Type: domain.EventStatus, CampaignID: campaignID, Data: *snap.status})
	}
	if b.subs[campaignID] == nil {
		b.subs[campaignID] = make(map[uint64]*subscriber)
	}
	b.subs[campaignID][s.ID] = s
	go s.run()
	return s.Subscription
}

// SubscribeAll registers obs for every campaign's locally emitted events.
func (b *Broadcaster) SubscribeAll(obs Observer) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.newSubscriber("", obs)
	b.all[s.ID] = s
	go s.run()
	return s.Subscription
}

// Unsubscribe removes a subscription and waits for its goroutine to drain
// the events already buffered.
func (b *Broadcaster) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	var s *subscriber
	if sub.CampaignID == "" {
		s = b.all[sub.ID]
		delete(b.all, sub.ID)
	} else if m := b.subs[sub.CampaignID]; m != nil {
		s = m[sub.ID]
		delete(m, sub.ID)
		if len(m) == 0 {
			delete(b.subs, sub.CampaignID)
		}
	}
	b.mu.Unlock()

	if s != nil {
		close(s.ch)
		<-s.done
	}
}

// Subscribers returns how many observers follow a campaign.
func (b *Broadcaster) Subscribers(campaignID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[campaignID])
}

// EmitProgress publishes a campaign_progress event.
func (b *Broadcaster) EmitProgress(p domain.Progress) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	b.emit(domain.Event{Type: domain.EventProgress, CampaignID: p.CampaignID, Data: p}, true)
}

// EmitStatus publishes a campaign_status event.
func (b *Broadcaster) EmitStatus(u domain.StatusUpdate) {
	b.emit(domain.Event{Type: domain.EventStatus, CampaignID: u.CampaignID, Data: u}, true)
}

// EmitError publishes a campaign_error event.
func (b *Broadcaster) EmitError(n domain.ErrorNotice) {
	b.emit(domain.Event{Type: domain.EventError, CampaignID: n.CampaignID, Data: n}, true)
}

// Inject delivers an event received from another process. It reaches
// campaign subscribers only, so relays never echo it back.
func (b *Broadcaster) Inject(ev domain.Event) {
	b.emit(ev, false)
}

func (b *Broadcaster) emit(ev domain.Event, local bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remember(ev)
	for _, s := range b.subs[ev.CampaignID] {
		b.offer(s, ev)
	}
	if local {
		for _, s := range b.all {
			b.offer(s, ev)
		}
	}
}

// offer never blocks. Caller holds b.mu.
func (b *Broadcaster) offer(s *subscriber, ev domain.Event) {
	select {
	case s.ch <- ev:
	default:
		b.metrics.ProgressDropped()
	}
}

// newSubscriber allocates a subscriber. Caller holds b.mu.
func (b *Broadcaster) newSubscriber(campaignID string, obs Observer) *subscriber {
	b.nextID++
	return &subscriber{
		Subscription: Subscription{ID: b.nextID, CampaignID: campaignID},
		obs:          obs,
		ch:           make(chan domain.Event, b.buffer),
		done:         make(chan struct{}),
	}
}

// remember updates the campaign snapshot. Caller holds b.mu.
func (b *Broadcaster) remember(ev domain.Event) {
	snap := b.cached(ev.CampaignID)
	switch d := ev.Data.(type) {
	case domain.Progress:
		snap.progress = &d
	case domain.StatusUpdate:
		snap.status = &d
	default:
		return
	}
	b.snaps.SetDefault(ev.CampaignID, snap)
}

func (b *Broadcaster) cached(campaignID string) snapshot {
	if v, ok := b.snaps.Get(campaignID); ok {
		return v.(snapshot)
	}
	return snapshot{}
}

func (b *Broadcaster) snapshot(campaignID string) snapshot {
	if v, ok := b.snaps.Get(campaignID); ok {
		return v.(snapshot)
	}
	if b.loader == nil {
		return snapshot{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotLoadBudget)
	defer cancel()
	c, err := b.loader(ctx, campaignID)
	if err != nil || c == nil {
		return snapshot{}
	}
	p := domain.Progress{
		CampaignID: c.ID,
		Sent:       c.SentCount,
		Total:      c.TotalContacts,
		Progress:   c.ProgressPct(),
		Errors:     c.ErrorCount,
		Timestamp:  c.UpdatedAt,
	}
	st := domain.StatusUpdate{
		CampaignID:    c.ID,
		Status:        c.Status,
		Message:       c.FailureReason,
		TotalContacts: c.TotalContacts,
		SentCount:     c.SentCount,
		ErrorCount:    c.ErrorCount,
	}
	return snapshot{progress: &p, status: &st}
}

func (s *subscriber) run() {
	defer close(s.done)
	for ev := range s.ch {
		s.deliver(ev)
	}
}

func (s *subscriber) deliver(ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[progress] Observer %d for campaign %q panicked: %v", s.ID, s.CampaignID, r)
		}
	}()
	s.obs.Deliver(ev)
}
