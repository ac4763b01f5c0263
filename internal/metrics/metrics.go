// Package metrics exposes Prometheus collectors for the dispatch pipeline.
// Every method is safe to call on a nil *Metrics so components can run
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ignite/whatsapp-dispatch/internal/queue"
)

// Metrics groups the pipeline's collectors.
type Metrics struct {
	messages      *prometheus.CounterVec
	sendErrors    *prometheus.CounterVec
	sendDuration  *prometheus.HistogramVec
	jobs          *prometheus.CounterVec
	queueJobs     *prometheus.GaugeVec
	limiterWait   *prometheus.HistogramVec
	schedules     *prometheus.CounterVec
	progressDrops prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_messages_total",
			Help: "Per-contact send outcomes.",
		}, []string{"channel", "status"}),
		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whatsapp_send_errors_total",
			Help: "Failed send attempts by error category.",
		}, []string{"category"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whatsapp_send_duration_seconds",
			Help:    "Provider call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_jobs_total",
			Help: "Campaign job outcomes.",
		}, []string{"outcome"}),
		queueJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "campaign_queue_jobs",
			Help: "Jobs in the campaign queue by state.",
		}, []string{"state"}),
		limiterWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratelimit_wait_seconds",
			Help:    "Time spent waiting for a send slot.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"channel"}),
		schedules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduled_campaigns_total",
			Help: "Scheduled campaigns by final status.",
		}, []string{"status"}),
		progressDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progress_events_dropped_total",
			Help: "Progress events dropped for slow subscribers.",
		}),
	}
	reg.MustRegister(m.messages, m.sendErrors, m.sendDuration, m.jobs,
		m.queueJobs, m.limiterWait, m.schedules, m.progressDrops)
	return m
}

func (m *Metrics) Message(channel, status string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) SendError(category string) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(category).Inc()
}

func (m *Metrics) SendDuration(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// Job counts a job outcome: completed, retried, failed, parked or released.
func (m *Metrics) Job(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QueueStats(st queue.Stats) {
	if m == nil {
		return
	}
	m.queueJobs.WithLabelValues(string(queue.StateWaiting)).Set(float64(st.Waiting))
	m.queueJobs.WithLabelValues(string(queue.StateActive)).Set(float64(st.Active))
	m.queueJobs.WithLabelValues(string(queue.StatePaused)).Set(float64(st.Paused))
	m.queueJobs.WithLabelValues(string(queue.StateCompleted)).Set(float64(st.Completed))
	m.queueJobs.WithLabelValues(string(queue.StateFailed)).Set(float64(st.Failed))
}

func (m *Metrics) LimiterWait(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.limiterWait.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) Schedule(status string) {
	if m == nil {
		return
	}
	m.schedules.WithLabelValues(status).Inc()
}

func (m *Metrics) ProgressDropped() {
	if m == nil {
		return
	}
	m.progressDrops.Inc()
}
