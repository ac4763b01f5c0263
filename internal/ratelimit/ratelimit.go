// Package ratelimit throttles outbound sends per channel type with a hard
// fixed one-second window.
//
// At most cap acquisitions succeed inside any window. A caller arriving at a
// full window sleeps until the window boundary and re-evaluates, so the
// ceiling is exact rather than a smoothed average.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// ErrUnknownChannel is returned for a channel type without a configured cap.
var ErrUnknownChannel = errors.New("unknown channel type")

// Window is the fixed window length.
const Window = time.Second

// Limiter is shared by every dispatch worker in a process.
type Limiter interface {
	// Acquire blocks until a slot in the current window is granted, or ctx
	// is done.
	Acquire(ctx context.Context, channel domain.ChannelType) error
}

type window struct {
	start time.Time
	count int
	cap   int
}

// FixedWindow is an in-process Limiter.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[domain.ChannelType]*window
	now     func() time.Time
}

// NewFixedWindow creates a limiter with one window per channel type.
func NewFixedWindow(caps map[domain.ChannelType]int) *FixedWindow {
	l := &FixedWindow{
		windows: make(map[domain.ChannelType]*window, len(caps)),
		now:     time.Now,
	}
	for ch, c := range caps {
		l.windows[ch] = &window{cap: c}
	}
	return l
}

// CapsFromConfig converts the config map into typed channel caps.
func CapsFromConfig(m map[string]int) map[domain.ChannelType]int {
	out := make(map[domain.ChannelType]int, len(m))
	for k, v := range m {
		out[domain.ChannelType(k)] = v
	}
	return out
}

// TryAcquire takes a slot if one is free. Otherwise it returns the time
// remaining until the current window closes.
func (l *FixedWindow) TryAcquire(channel domain.ChannelType) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[channel]
	if !ok {
		return false, 0, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	now := l.now()
	if now.Sub(w.start) >= Window {
		w.start = now
		w.count = 0
	}
	if w.count < w.cap {
		w.count++
		return true, 0, nil
	}
	return false, w.start.Add(Window).Sub(now), nil
}

// Acquire implements Limiter.
func (l *FixedWindow) Acquire(ctx context.Context, channel domain.ChannelType) error {
	return acquireLoop(ctx, func() (bool, time.Duration, error) {
		return l.TryAcquire(channel)
	})
}

func acquireLoop(ctx context.Context, try func() (bool, time.Duration, error)) error {
	for {
		ok, wait, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if wait <= 0 {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
