package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/whatsapp-dispatch/internal/queue"
)

// Component and aggregate states.
const (
	StateUp       = "up"
	StateDown     = "down"
	StateDegraded = "degraded"
	StateDisabled = "disabled"

	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string                    `json:"status"`
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the outcome of one probe.
type ComponentCheck struct {
	Status   string `json:"status"`
	Latency  string `json:"latency,omitempty"`
	Message  string `json:"message,omitempty"`
	Critical bool   `json:"critical,omitempty"`
}

// probe returns a message and whether the dependency is degraded. A nil
// fn marks the dependency as not configured.
type probe struct {
	name     string
	critical bool
	timeout  time.Duration
	slow     time.Duration
	fn       func(ctx context.Context) (msg string, degraded bool, err error)
}

// HealthChecker probes the pipeline's backends: Postgres, Redis, the
// contact-list bucket and the campaign queue. Postgres and the queue are
// critical; a campaign cannot be accepted or dispatched without them.
type HealthChecker struct {
	probes    []probe
	startTime time.Time
}

// NewHealthChecker builds the probe set. Nil dependencies report disabled.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, s3Client *s3.Client, s3Bucket string, q queue.Queue) *HealthChecker {
	hc := &HealthChecker{startTime: time.Now()}

	pg := probe{name: "database", critical: true, timeout: 3 * time.Second, slow: time.Second}
	if db != nil {
		pg.fn = func(ctx context.Context) (string, bool, error) {
			return "connected", false, db.PingContext(ctx)
		}
	}

	rd := probe{name: "redis", timeout: 2 * time.Second, slow: 500 * time.Millisecond}
	if redisClient != nil {
		rd.fn = func(ctx context.Context) (string, bool, error) {
			return "connected", false, redisClient.Ping(ctx).Err()
		}
	}

	bucket := probe{name: "s3", timeout: 3 * time.Second}
	if s3Client != nil && s3Bucket != "" {
		bucket.fn = func(ctx context.Context) (string, bool, error) {
			_, err := s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s3Bucket})
			return fmt.Sprintf("bucket %q reachable", s3Bucket), false, err
		}
	}

	jobs := probe{name: "queue", critical: true, timeout: 3 * time.Second}
	if q != nil {
		jobs.fn = queueProbe(q, 100)
	}

	hc.probes = []probe{pg, rd, bucket, jobs}
	return hc
}

// queueProbe degrades once more than backlog jobs are waiting, which means
// the dispatch pool is not keeping up.
func queueProbe(q queue.Queue, backlog int) func(context.Context) (string, bool, error) {
	return func(ctx context.Context) (string, bool, error) {
		st, err := q.Stats(ctx)
		if err != nil {
			return "", false, err
		}
		if st.Waiting > backlog {
			return fmt.Sprintf("backlog of %d waiting jobs", st.Waiting), true, nil
		}
		return fmt.Sprintf("%d waiting, %d active, %d paused", st.Waiting, st.Active, st.Paused), false, nil
	}
}

func (p probe) run(ctx context.Context) ComponentCheck {
	if p.fn == nil {
		return ComponentCheck{Status: StateDisabled, Message: "not configured", Critical: p.critical}
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	msg, degraded, err := p.fn(ctx)
	latency := time.Since(start)

	c := ComponentCheck{Status: StateUp, Latency: latency.String(), Message: msg, Critical: p.critical}
	switch {
	case err != nil:
		c.Status, c.Message = StateDown, err.Error()
	case degraded:
		c.Status = StateDegraded
	case p.slow > 0 && latency > p.slow:
		c.Status, c.Message = StateDegraded, "slow response"
	}
	return c
}

// Check runs every probe concurrently.
func (hc *HealthChecker) Check(ctx context.Context) (string, map[string]ComponentCheck) {
	var mu sync.Mutex
	checks := make(map[string]ComponentCheck, len(hc.probes))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range hc.probes {
		p := p
		g.Go(func() error {
			c := p.run(gctx)
			mu.Lock()
			checks[p.name] = c
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return overallStatus(checks), checks
}

// overallStatus is unhealthy when a critical dependency is down, degraded
// when anything else is down or slow.
func overallStatus(checks map[string]ComponentCheck) string {
	status := Healthy
	for _, c := range checks {
		switch c.Status {
		case StateDown:
			if c.Critical {
				return Unhealthy
			}
			status = Degraded
		case StateDegraded:
			status = Degraded
		}
	}
	return status
}

// HandleHealth always answers 200; probes that need a 503 use /health/ready.
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, checks := hc.Check(r.Context())
	respondJSON(w, http.StatusOK, HealthStatus{
		Status: status,
		Uptime: time.Since(hc.startTime).Truncate(time.Second).String(),
		Checks: checks,
	})
}

// HandleLiveness answers 200 while the process runs.
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(hc.startTime).Truncate(time.Second).String(),
	})
}

// HandleReadiness answers 503 while a critical dependency is down.
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	status, checks := hc.Check(r.Context())
	code := http.StatusOK
	if status == Unhealthy {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"ready":  code == http.StatusOK,
		"status": status,
		"checks": checks,
	})
}
