package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/metrics"
	"github.com/ignite/whatsapp-dispatch/internal/queue"
)

const (
	// DefaultPollInterval is the idle wait after an empty dequeue.
	DefaultPollInterval = time.Second

	// DefaultRecoveryInterval is how often expired leases are reclaimed.
	DefaultRecoveryInterval = time.Minute
)

// PoolOptions size and pace the pool.
type PoolOptions struct {
	Workers          int
	PollInterval     time.Duration
	RecoveryInterval time.Duration
}

// Pool runs a fixed number of goroutines that each pull one job at a time,
// plus a recovery loop that reclaims jobs of crashed workers and trims the
// queue's history.
type Pool struct {
	worker  *Worker
	queue   queue.Queue
	opts    PoolOptions
	id      string
	metrics *metrics.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPool creates a pool around a worker.
func NewPool(w *Worker, q queue.Queue, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RecoveryInterval <= 0 {
		opts.RecoveryInterval = DefaultRecoveryInterval
	}
	host, _ := os.Hostname()
	return &Pool{
		worker: w,
		queue:  q,
		opts:   opts,
		id:     fmt.Sprintf("dispatch-%s-%d", host, os.Getpid()),
	}
}

// SetMetrics enables the queue gauges.
func (p *Pool) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// Start launches the workers and the recovery loop.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("dispatch pool already running")
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)

	log.Printf("[DispatchPool] %s starting %d workers (poll=%s recovery=%s)",
		p.id, p.opts.Workers, p.opts.PollInterval, p.opts.RecoveryInterval)

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.wg.Add(1)
	go p.recoveryLoop(ctx)
	return nil
}

// Stop cancels the workers and waits for them. A job in flight is
// checkpointed and returned to the queue by its worker.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	log.Printf("[DispatchPool] Stopping...")
	cancel()
	p.wg.Wait()
	log.Printf("[DispatchPool] Stopped")
}

func (p *Pool) run(ctx context.Context, n int) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[DispatchPool] worker %d panicked: %v", n, r)
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(ctx)
		switch {
		case errors.Is(err, queue.ErrEmpty):
			if sleepCtx(ctx, p.opts.PollInterval) != nil {
				return
			}
			continue
		case err != nil:
			if ctx.Err() == nil {
				log.Printf("[DispatchPool] worker %d dequeue error: %v", n, err)
			}
			if sleepCtx(ctx, p.opts.PollInterval) != nil {
				return
			}
			continue
		}

		log.Printf("[DispatchPool] worker %d claimed job %s (campaign %s, attempt %d/%d)",
			n, job.ID, job.CampaignID, job.Attempts, job.MaxAttempts)
		p.worker.Handle(ctx, job)
	}
}

func (p *Pool) recoveryLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Recover(ctx)
		}
	}
}

// Recover reclaims jobs whose lease expired, fails the campaigns of jobs
// that ran out of attempts, and prunes finished history.
func (p *Pool) Recover(ctx context.Context) {
	requeued, exhausted, err := p.queue.Reclaim(ctx)
	if err != nil {
		log.Printf("[DispatchPool] reclaim error: %v", err)
	} else if requeued > 0 || len(exhausted) > 0 {
		log.Printf("[DispatchPool] reclaimed %d jobs, %d exhausted", requeued, len(exhausted))
	}
	for _, j := range exhausted {
		cause := errors.New("worker lease expired with no attempts left")
		if j.LastError != "" {
			cause = fmt.Errorf("worker lease expired with no attempts left: %s", j.LastError)
		}
		p.worker.FailCampaign(ctx, j.CampaignID, domain.JobSystemError, cause)
	}

	if n, err := p.queue.Prune(ctx); err != nil {
		log.Printf("[DispatchPool] prune error: %v", err)
	} else if n > 0 {
		log.Printf("[DispatchPool] pruned %d finished jobs", n)
	}

	if st, err := p.queue.Stats(ctx); err == nil {
		p.metrics.QueueStats(st)
	}
}
