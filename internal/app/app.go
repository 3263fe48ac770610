// Package app builds the service graph from configuration and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/api"
	"github.com/JakeFAU/catalog-ingest/internal/catalog"
	"github.com/JakeFAU/catalog-ingest/internal/config"
	"github.com/JakeFAU/catalog-ingest/internal/dispatcher"
	"github.com/JakeFAU/catalog-ingest/internal/events"
	eventspubsub "github.com/JakeFAU/catalog-ingest/internal/events/pubsub"
	"github.com/JakeFAU/catalog-ingest/internal/id/uuid"
	"github.com/JakeFAU/catalog-ingest/internal/importer"
	"github.com/JakeFAU/catalog-ingest/internal/product"
	queueMemory "github.com/JakeFAU/catalog-ingest/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/catalog-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-ingest/internal/storage/local"
	memoryStorage "github.com/JakeFAU/catalog-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-ingest/internal/storage/postgres"
	redisstore "github.com/JakeFAU/catalog-ingest/internal/storage/redis"
	"github.com/JakeFAU/catalog-ingest/internal/webhook"
	"github.com/JakeFAU/catalog-ingest/internal/worker"
)

const abandonedOnShutdown = "server shutting down"

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	bus       *events.Bus
	status    catalog.StatusStore
	products  catalog.ProductStore
	registry  catalog.WebhookRegistry
	uploads   catalog.UploadStore
	engine    *product.Engine
	queue     *queueMemory.Queue
	importer  *importer.Importer
	submitter *importer.Submitter
	imports   *dispatcher.Dispatcher
	webhooks  *webhook.Dispatcher
	apiServer *api.Server
	ready     []api.ReadinessCheck

	janitor      *localstorage.Janitor
	pgPool       *pgxpool.Pool
	redis        *goredis.Client
	storage      *storage.Client
	pubsubClient *pubsub.Client
	mirror       *eventspubsub.Mirror

	closeOnce sync.Once
}

// Build creates the application's dependencies. Partially built resources are released on
// error.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.logger.Info("building application dependencies",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("status_backend", cfg.Status.Backend),
		zap.String("upload_backend", cfg.Upload.Backend),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	a.bus = events.NewBus(logger)

	if err = a.setupStatus(ctx); err != nil {
		return nil, err
	}
	if err = a.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if err = a.setupUploads(ctx); err != nil {
		return nil, err
	}
	if err = a.setupMirror(ctx); err != nil {
		return nil, err
	}

	a.engine = product.NewEngine(a.products, a.bus, logger)
	a.setupWebhooks()
	a.setupImports()

	a.apiServer = api.NewServer(api.Dependencies{
		Submitter: a.submitter,
		Status:    a.status,
		Products:  a.engine,
		Webhooks:  a.registry,
		Tester:    a.webhooks,
		Ready:     a.ready,
	}, cfg, logger)

	return a, nil
}

func (a *App) setupStatus(ctx context.Context) error {
	if a.cfg.Status.Backend != config.BackendRedis {
		a.logger.Info("using in-memory status store")
		a.status = memoryStorage.NewStatusStore(nil)
		return nil
	}
	a.redis = goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	a.status = redisstore.NewStatusStore(a.redis, redisstore.WithTTL(a.cfg.StatusTTL()))
	a.ready = append(a.ready, api.ReadinessCheck{
		Name:  "redis",
		Check: func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
	})
	a.logger.Info("using redis status store", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Storage.Backend != config.BackendPostgres {
		a.logger.Info("using in-memory product and webhook stores")
		a.products = memoryStorage.NewProductStore(nil)
		a.registry = memoryStorage.NewWebhookStore(nil)
		return nil
	}
	var err error
	a.pgPool, err = pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DBMaxConnLifetime(),
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	if a.cfg.DB.AutoMigrate {
		if err := pgstore.EnsureSchema(ctx, a.pgPool); err != nil {
			return fmt.Errorf("postgres schema init failed: %w", err)
		}
	}
	products, err := pgstore.NewProductStore(a.pgPool)
	if err != nil {
		return fmt.Errorf("product store init failed: %w", err)
	}
	registry, err := pgstore.NewWebhookStore(a.pgPool)
	if err != nil {
		return fmt.Errorf("webhook store init failed: %w", err)
	}
	a.products, a.registry = products, registry
	a.ready = append(a.ready, api.ReadinessCheck{Name: "postgres", Check: a.pgPool.Ping})
	a.logger.Info("using postgres product and webhook stores")
	return nil
}

func (a *App) setupUploads(ctx context.Context) error {
	if a.cfg.Upload.Backend == config.BackendGCS {
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.uploads, err = gcsstorage.NewUploadStore(a.storage, gcsstorage.Config{
			Bucket: a.cfg.Upload.GCSBucket,
			Prefix: a.cfg.Upload.Prefix,
		}, uuid.New())
		if err != nil {
			return fmt.Errorf("gcs upload store init failed: %w", err)
		}
		a.logger.Info("using GCS upload store", zap.String("bucket", a.cfg.Upload.GCSBucket))
		return nil
	}
	uploads, err := localstorage.NewUploadStore(localstorage.Config{Dir: a.cfg.Upload.Dir})
	if err != nil {
		return fmt.Errorf("local upload store init failed: %w", err)
	}
	a.uploads = uploads
	a.janitor, err = localstorage.NewJanitor(uploads, a.cfg.Upload.JanitorSchedule, a.cfg.UploadMaxAge(), a.logger)
	if err != nil {
		return fmt.Errorf("upload janitor init failed: %w", err)
	}
	a.logger.Info("using local upload store", zap.String("dir", uploads.Dir()))
	return nil
}

func (a *App) setupMirror(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled() {
		a.logger.Info("no Pub/Sub topic configured, event mirror disabled")
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.mirror = eventspubsub.New(a.pubsubClient.Topic(a.cfg.PubSub.TopicName), a.logger)
	a.bus.Subscribe("pubsub", a.mirror)
	a.logger.Info("Pub/Sub event mirror initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupWebhooks() {
	initial, maxDelay := a.cfg.WebhookBackoff()
	a.webhooks = webhook.New(a.registry, nil, webhook.Config{
		Workers:        a.cfg.Webhook.Workers,
		QueueSize:      a.cfg.Webhook.QueueSize,
		Timeout:        a.cfg.WebhookTimeout(),
		MaxAttempts:    a.cfg.Webhook.MaxAttempts,
		BackoffInitial: initial,
		BackoffMax:     maxDelay,
		UserAgent:      a.cfg.Webhook.UserAgent,
		HostRPS:        a.cfg.Webhook.HostRPS,
		HostBurst:      a.cfg.Webhook.HostBurst,
		SigningSecret:  a.cfg.Webhook.SigningSecret,
	}, a.logger)
	a.bus.Subscribe("webhooks", a.webhooks)
}

func (a *App) setupImports() {
	a.queue = queueMemory.NewQueue(a.cfg.Import.QueueDepth)
	a.importer = importer.New(a.status, a.uploads, a.engine, a.bus, importer.Config{
		ProgressEvery: a.cfg.Import.ProgressEvery,
		MaxErrors:     a.cfg.Import.MaxErrors,
		RowEvents:     a.cfg.Import.RowEvents == config.RowEventsAll,
	}, a.logger)
	workers := make([]*worker.Worker, 0, a.cfg.Import.Workers)
	for i := 0; i < a.cfg.Import.Workers; i++ {
		workers = append(workers, worker.New(i, a.queue, a.importer, a.logger))
	}
	a.imports = dispatcher.New(a.queue, workers)
	a.submitter = importer.NewSubmitter(a.status, a.uploads, a.imports, uuid.New(), a.logger)
	a.logger.Info("import pipeline configured",
		zap.Int("workers", a.cfg.Import.Workers),
		zap.Int("queue_depth", a.cfg.Import.QueueDepth),
		zap.String("row_events", a.cfg.Import.RowEvents),
	)
}

// Submitter returns the upload intake used by the API and the import command.
func (a *App) Submitter() *importer.Submitter { return a.submitter }

// Status returns the task status store.
func (a *App) Status() catalog.StatusStore { return a.status }

// ImportInline stages the file and runs the import on the calling goroutine, bypassing the
// queue. It returns the terminal task record.
func (a *App) ImportInline(ctx context.Context, filename string, r io.Reader) (catalog.Task, error) {
	task, job, err := a.submitter.Stage(ctx, filename, r)
	if err != nil {
		return catalog.Task{}, err
	}
	if err := a.importer.Import(ctx, job); err != nil {
		return task, fmt.Errorf("import %s: %w", filename, err)
	}
	return a.status.Get(ctx, task.ID)
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// StartBackground runs the import workers, webhook delivery pool and upload janitor until ctx
// is canceled. The returned function blocks until they have stopped.
func (a *App) StartBackground(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.logger.Info("import workers started")
		a.imports.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.logger.Info("webhook dispatcher started")
		a.webhooks.Run(ctx)
	}()
	if a.janitor != nil {
		a.janitor.Start()
	}
	return wg.Wait
}

// Run starts the background pipeline and HTTP server and blocks until the context is canceled
// or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wait := a.StartBackground(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	waitOrTimeout(shutdownCtx, wait, a.logger)
	return a.Close(shutdownCtx)
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.ShutdownTimeout(); d > 0 {
		return d
	}
	return 30 * time.Second
}

func waitOrTimeout(ctx context.Context, wait func(), logger *zap.Logger) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("background workers did not stop before the shutdown deadline")
	}
}

// abandonQueued fails imports still buffered when the queue closed so their status does not sit
// at pending forever. It runs before the stores are closed.
func (a *App) abandonQueued(ctx context.Context) {
	jobs := a.queue.Drain()
	if len(jobs) == 0 {
		return
	}
	abandonCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, job := range jobs {
		if err := a.importer.Abandon(abandonCtx, job, abandonedOnShutdown); err != nil {
			a.logger.Warn("failed to abandon queued import", zap.String("task_id", job.TaskID), zap.Error(err))
		}
	}
	a.logger.Info("abandoned queued imports", zap.Int("count", len(jobs)))
}

// Close releases every resource the App opened. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
			a.abandonQueued(ctx)
		}
		if a.janitor != nil {
			a.janitor.Stop(ctx)
		}
		if a.mirror != nil {
			a.mirror.Close()
		}
		if a.pubsubClient != nil {
			if err := a.pubsubClient.Close(); err != nil {
				a.logger.Warn("pubsub client close failed", zap.Error(err))
			}
		}
		if a.storage != nil {
			if err := a.storage.Close(); err != nil {
				a.logger.Warn("gcs client close failed", zap.Error(err))
			}
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.logger.Warn("redis close failed", zap.Error(err))
			}
		}
		if a.pgPool != nil {
			a.pgPool.Close()
		}
		a.logger.Info("shutdown complete")
	})
	return nil
}
