package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// ChannelPrefix is prepended to the campaign ID to form the pub/sub channel.
const ChannelPrefix = "campaign:progress:"

// envelope is the wire form of a relayed event.
type envelope struct {
	Origin     string           `json:"origin"`
	Type       domain.EventType `json:"type"`
	CampaignID string           `json:"campaignId"`
	Data       json.RawMessage  `json:"data"`
}

// RedisRelay exports local events to Redis pub/sub and imports events
// published by other processes, so an SSE client connected to the API sees
// progress from a worker running elsewhere.
type RedisRelay struct {
	client *redis.Client
	origin string
}

// NewRedisRelay creates a relay with a fresh origin ID.
func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{client: client, origin: uuid.New().String()}
}

// Attach subscribes the relay to every local event of b.
func (r *RedisRelay) Attach(b *Broadcaster) Subscription {
	return b.SubscribeAll(r)
}

// Deliver publishes one event. Failures are logged and dropped.
func (r *RedisRelay) Deliver(ev domain.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		log.Printf("[RedisRelay] marshal %s: %v", ev.Type, err)
		return
	}
	msg, err := json.Marshal(envelope{Origin: r.origin, Type: ev.Type, CampaignID: ev.CampaignID, Data: data})
	if err != nil {
		log.Printf("[RedisRelay] marshal envelope: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotLoadBudget)
	defer cancel()
	if err := r.client.Publish(ctx, ChannelPrefix+ev.CampaignID, msg).Err(); err != nil {
		log.Printf("[RedisRelay] publish %s: %v", ev.CampaignID, err)
	}
}

// Forward injects events published by other processes into b until ctx is
// cancelled. Events from this relay's own origin are skipped.
func (r *RedisRelay) Forward(ctx context.Context, b *Broadcaster) error {
	sub := r.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	log.Printf("[RedisRelay] Forwarding %s* (origin %s)", ChannelPrefix, r.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			ev, origin, err := decode(m.Payload)
			if err != nil {
				log.Printf("[RedisRelay] decode from %s: %v", m.Channel, err)
				continue
			}
			if origin == r.origin {
				continue
			}
			if ev.CampaignID == "" {
				ev.CampaignID = strings.TrimPrefix(m.Channel, ChannelPrefix)
			}
			b.Inject(ev)
		}
	}
}

func decode(payload string) (domain.Event, string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return domain.Event{}, "", err
	}
	ev := domain.Event{Type: env.Type, CampaignID: env.CampaignID}

	var err error
	switch env.Type {
	case domain.EventProgress:
		var p domain.Progress
		err = json.Unmarshal(env.Data, &p)
		ev.Data = p
	case domain.EventStatus:
		var u domain.StatusUpdate
		err = json.Unmarshal(env.Data, &u)
		ev.Data = u
	case domain.EventError:
		var n domain.ErrorNotice
		err = json.Unmarshal(env.Data, &n)
		ev.Data = n
	default:
		err = fmt.Errorf("unknown event type %q", env.Type)
	}
	return ev, env.Origin, err
}
