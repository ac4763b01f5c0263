// Package app assembles the dispatch pipeline from configuration. The
// server and worker binaries share it so both run exactly the same
// components; the storage driver decides between Postgres and in-memory
// repositories, and a configured Redis switches the limiter, the scheduler
// lock and the progress relay to their distributed forms.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/ignite/whatsapp-dispatch/internal/api"
	"github.com/ignite/whatsapp-dispatch/internal/config"
	"github.com/ignite/whatsapp-dispatch/internal/contacts"
	"github.com/ignite/whatsapp-dispatch/internal/dispatch"
	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/metrics"
	"github.com/ignite/whatsapp-dispatch/internal/phone"
	"github.com/ignite/whatsapp-dispatch/internal/pkg/distlock"
	"github.com/ignite/whatsapp-dispatch/internal/pkg/logger"
	"github.com/ignite/whatsapp-dispatch/internal/progress"
	"github.com/ignite/whatsapp-dispatch/internal/provider/whatsapp"
	"github.com/ignite/whatsapp-dispatch/internal/queue"
	"github.com/ignite/whatsapp-dispatch/internal/quota"
	"github.com/ignite/whatsapp-dispatch/internal/ratelimit"
	"github.com/ignite/whatsapp-dispatch/internal/repository/memory"
	"github.com/ignite/whatsapp-dispatch/internal/repository/postgres"
	"github.com/ignite/whatsapp-dispatch/internal/scheduler"
	"github.com/ignite/whatsapp-dispatch/internal/service/blacklist"
	"github.com/ignite/whatsapp-dispatch/internal/service/campaign"
	"github.com/ignite/whatsapp-dispatch/internal/storage"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const schedulerLockKey = "whatsapp:scheduler:pass"

// App holds every wired component. Fields are nil when not configured.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Redis    *redis.Client
	S3       *s3.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Queue     queue.Queue
	Campaigns *campaign.Service
	Blacklist *blacklist.Service
	Scheduler *scheduler.Scheduler
	Progress  *progress.Broadcaster
	Relay     *progress.RedisRelay
	Limiter   ratelimit.Limiter
	Worker    *dispatch.Worker
	Pool      *dispatch.Pool

	campaignRepo campaign.Repository

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type repositories struct {
	campaigns campaign.Repository
	templates campaign.TemplateStore
	blacklist blacklist.Repository
	schedules scheduler.Repository
	queue     queue.Queue
}

// New connects to the configured backends and wires the pipeline. Nothing
// runs until StartBackground.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	ok := false
	defer func() {
		if !ok {
			a.closeClients()
		}
	}()

	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	repos, err := a.repositories()
	if err != nil {
		return nil, err
	}
	a.Queue = repos.queue
	a.campaignRepo = repos.campaigns

	normalizer := phone.NewNormalizer(cfg.Phone.DefaultCountryCode, cfg.Phone.MobilePrefixes)
	parser := contacts.NewParser(normalizer)
	checker := a.quota()

	a.Blacklist = blacklist.NewService(repos.blacklist, normalizer, blacklist.Options{
		CacheTTL:          cfg.Blacklist.CacheTTL(),
		AutoThreshold:     cfg.Blacklist.AutoThreshold,
		LookupConcurrency: cfg.Blacklist.LookupConcurrency,
		StrictLookups:     cfg.Blacklist.StrictLookups,
	})

	a.Progress = progress.NewBroadcaster(0)
	a.Progress.SetMetrics(a.Metrics)
	a.Progress.SetSnapshotLoader(repos.campaigns.Get)
	if a.Redis != nil {
		a.Relay = progress.NewRedisRelay(a.Redis)
		a.Relay.Attach(a.Progress)
	}

	a.Campaigns = campaign.NewService(repos.campaigns, repos.templates, repos.queue, parser, checker, campaign.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff:     cfg.Queue.BaseBackoff(),
	})
	a.Campaigns.SetNotifier(a.Progress)

	if cfg.Storage.S3Bucket != "" {
		client, err := storage.NewS3Client(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.S3 = client
		a.Campaigns.SetSourceLoader(storage.NewS3Loader(client, cfg.Storage.S3Bucket))
		log.Printf("[App] s3:// contact sources enabled for bucket %s", cfg.Storage.S3Bucket)
	}

	a.Scheduler = scheduler.New(repos.schedules, a.Campaigns, scheduler.Options{
		Interval:          cfg.Scheduler.Interval(),
		ReconcileInterval: cfg.Scheduler.ReconcileInterval(),
		Grace:             cfg.Scheduler.Grace(),
		Horizon:           cfg.Scheduler.Horizon(),
	})
	a.Scheduler.SetMetrics(a.Metrics)
	a.Scheduler.SetLocker(func() distlock.DistLock {
		return distlock.NewLock(a.Redis, a.DB, schedulerLockKey, cfg.Scheduler.Interval())
	})
	a.Campaigns.SetDeferrer(a.Scheduler)

	caps := ratelimit.CapsFromConfig(cfg.RateLimits)
	if a.Redis != nil {
		a.Limiter = ratelimit.NewRedisFixedWindow(a.Redis, caps)
	} else {
		a.Limiter = ratelimit.NewFixedWindow(caps)
	}

	sender, err := a.sender()
	if err != nil {
		return nil, err
	}

	a.Worker = dispatch.NewWorker(repos.campaigns, repos.queue, parser, a.Blacklist, a.Limiter, sender, dispatch.Options{
		SendRetries:      cfg.Dispatch.SendRetries,
		SendRetryBackoff: cfg.Dispatch.SendRetryBackoff(),
		SendTimeout:      cfg.WhatsApp.Timeout(),
		AcquireTimeout:   cfg.Dispatch.AcquireTimeout(),
		ProgressEvery:    cfg.Dispatch.ProgressEvery,
		BreakerRatio:     cfg.Dispatch.BreakerRatio,
	})
	a.Worker.SetQuota(checker)
	a.Worker.SetReporter(a.Progress)
	a.Worker.SetMetrics(a.Metrics)

	a.Pool = dispatch.NewPool(a.Worker, repos.queue, dispatch.PoolOptions{
		Workers:          cfg.Dispatch.Workers,
		PollInterval:     cfg.Dispatch.PollInterval(),
		RecoveryInterval: cfg.Queue.RecoveryInterval(),
	})
	a.Pool.SetMetrics(a.Metrics)

	ok = true
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.Storage.Driver == DriverPostgres {
		if cfg.Database.URL == "" {
			return fmt.Errorf("storage driver %q requires database.url", DriverPostgres)
		}
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())
		a.DB = db

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		log.Println("[App] Connected to database")
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		log.Println("[App] Connected to Redis")
	}
	return nil
}

func (a *App) repositories() (repositories, error) {
	cfg := a.Config
	policy := queue.Policy{
		VisibilityTimeout: cfg.Queue.VisibilityTimeout(),
		DefaultAttempts:   cfg.Queue.MaxAttempts,
		DefaultBackoff:    cfg.Queue.BaseBackoff(),
		RetainCompleted:   cfg.Queue.RetainCompleted,
		RetainFailed:      cfg.Queue.RetainFailed,
	}

	switch cfg.Storage.Driver {
	case DriverPostgres:
		return repositories{
			campaigns: postgres.NewCampaignRepo(a.DB),
			templates: postgres.NewTemplateStore(a.DB),
			blacklist: postgres.NewBlacklistRepo(a.DB),
			schedules: postgres.NewScheduleRepo(a.DB),
			queue:     postgres.NewJobQueue(a.DB, policy),
		}, nil
	case DriverMemory:
		templates, err := LoadTemplates(cfg.Storage.SeedTemplates)
		if err != nil {
			return repositories{}, err
		}
		log.Printf("[App] In-memory storage (%d seeded templates); state is lost on exit", len(templates))
		return repositories{
			campaigns: memory.NewCampaignRepo(),
			templates: memory.NewTemplateStore(templates...),
			blacklist: memory.NewBlacklistRepo(),
			schedules: memory.NewScheduleRepo(),
			queue:     queue.NewMemory(policy),
		}, nil
	}
	return repositories{}, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func (a *App) quota() quota.Checker {
	q := a.Config.Quota
	if q.BaseURL == "" {
		log.Println("[App] No quota service configured; allowance is unlimited")
		return quota.Unlimited{}
	}
	return quota.NewClient(q.BaseURL, q.APIKey, q.Timeout(), q.MaxRetries)
}

func (a *App) sender() (whatsapp.Sender, error) {
	w := a.Config.WhatsApp
	if w.AccessToken == "" {
		log.Println("[App] WHATSAPP_TOKEN not set; messages are sent in dry-run mode")
		return whatsapp.DryRun{}, nil
	}
	client, err := whatsapp.NewClient(w.BaseURL, w.APIVersion, w.PhoneNumberID, w.AccessToken, w.Timeout())
	if err != nil {
		return nil, fmt.Errorf("whatsapp client: %w", err)
	}
	return client, nil
}

// APIDeps returns the dependencies of the HTTP surface.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Campaigns: a.Campaigns,
		Blacklist: a.Blacklist,
		Scheduler: a.Scheduler,
		Queue:     a.Queue,
		Progress:  a.Progress,
		Gatherer:  a.Registry,
		Health:    api.NewHealthChecker(a.DB, a.Redis, a.S3, a.Config.Storage.S3Bucket, a.Queue),
	}
}

// StartBackground runs the dispatch pool, the scheduler and, with Redis,
// the inbound progress relay.
func (a *App) StartBackground(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app already started")
	}
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.Pool.Start(ctx); err != nil {
		a.cancel()
		return err
	}
	a.Scheduler.Start(ctx)

	if a.Relay != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.Relay.Forward(ctx, a.Progress); err != nil {
				log.Printf("[App] Progress relay stopped: %v", err)
			}
		}()
	}
	a.started = true
	return nil
}

// Close stops the background loops and closes every client.
func (a *App) Close() {
	a.mu.Lock()
	started := a.started
	a.started = false
	cancel := a.cancel
	a.mu.Unlock()

	if started {
		a.Scheduler.Stop()
		a.Pool.Stop()
		cancel()
		a.wg.Wait()
	}
	a.closeClients()
}

func (a *App) closeClients() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// seedTemplate is the YAML form of a template.
type seedTemplate struct {
	ID        string   `yaml:"id"`
	TenantID  string   `yaml:"tenant_id"`
	Name      string   `yaml:"name"`
	Language  string   `yaml:"language"`
	Category  string   `yaml:"category"`
	Body      string   `yaml:"body"`
	Variables []string `yaml:"variables"`
	Status    string   `yaml:"status"`
}

// LoadTemplates reads a YAML list of templates. An empty path yields none.
// Templates without a status are approved.
func LoadTemplates(path string) ([]domain.Template, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var seeds []seedTemplate
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}

	out := make([]domain.Template, 0, len(seeds))
	for i, s := range seeds {
		if s.ID == "" || s.Body == "" {
			return nil, fmt.Errorf("template %d in %s: id and body are required", i, path)
		}
		status := domain.TemplateStatus(s.Status)
		if status == "" {
			status = domain.TemplateApproved
		}
		out = append(out, domain.Template{
			ID:        s.ID,
			TenantID:  s.TenantID,
			Name:      s.Name,
			Language:  s.Language,
			Category:  s.Category,
			Body:      s.Body,
			Variables: s.Variables,
			Status:    status,
		})
	}
	return out, nil
}
