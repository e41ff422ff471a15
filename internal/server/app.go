// Package server builds the service's dependencies and runs the HTTP server and workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/note-autopublisher/internal/accounts"
	"github.com/JakeFAU/note-autopublisher/internal/api"
	"github.com/JakeFAU/note-autopublisher/internal/automation"
	"github.com/JakeFAU/note-autopublisher/internal/clock/system"
	"github.com/JakeFAU/note-autopublisher/internal/config"
	"github.com/JakeFAU/note-autopublisher/internal/dispatcher"
	"github.com/JakeFAU/note-autopublisher/internal/enqueuer"
	"github.com/JakeFAU/note-autopublisher/internal/hash/sha256"
	"github.com/JakeFAU/note-autopublisher/internal/id/uuid"
	"github.com/JakeFAU/note-autopublisher/internal/jobs"
	"github.com/JakeFAU/note-autopublisher/internal/metrics"
	"github.com/JakeFAU/note-autopublisher/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/note-autopublisher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/note-autopublisher/internal/publisher/pubsub"
	"github.com/JakeFAU/note-autopublisher/internal/runner"
	gcsstorage "github.com/JakeFAU/note-autopublisher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/note-autopublisher/internal/storage/local"
	memorystorage "github.com/JakeFAU/note-autopublisher/internal/storage/memory"
	pgstore "github.com/JakeFAU/note-autopublisher/internal/storage/postgres"
	"github.com/JakeFAU/note-autopublisher/internal/vault"
	"github.com/JakeFAU/note-autopublisher/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	runner    api.Runner
	chrome    *automation.Chrome
	pgStore   *pgstore.Store
	gcs       *gcsstorage.BlobStore
	pubsub    *gcppublisher.Publisher
}

// Build creates the application's dependencies. Anything already opened is
// released when a later step fails.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("worker_enabled", cfg.Worker.Enabled),
		zap.Int("worker_concurrency", cfg.Worker.Concurrency),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	metrics.Init()

	v, err := vault.New(cfg.Vault.Key)
	if err != nil {
		return fmt.Errorf("vault init failed: %w", err)
	}

	store, ready, err := a.setupStore(ctx)
	if err != nil {
		return err
	}
	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	a.chrome, err = automation.NewChrome(automation.ChromeConfig{
		Headless:    cfg.Automation.Headless,
		UserAgent:   cfg.Automation.UserAgent,
		MaxParallel: cfg.Automation.MaxParallel,
		NoSandbox:   cfg.Automation.NoSandbox,
	}, logger.Named("chrome"))
	if err != nil {
		return fmt.Errorf("chrome init failed: %w", err)
	}
	driver, err := automation.NewDriver(a.chrome, automation.Config{
		BaseURL:          cfg.Automation.BaseURL,
		Timeout:          cfg.AutomationTimeout(),
		LookupTimeout:    cfg.LookupTimeout(),
		CaptureArtifacts: cfg.Automation.CaptureArtifacts,
	}, logger.Named("automation"))
	if err != nil {
		return fmt.Errorf("automation driver init failed: %w", err)
	}

	var throttle jobs.Throttle
	if cfg.Automation.PublishQPS > 0 {
		throttle = ratelimit.New(ratelimit.Config{
			RPS:   cfg.Automation.PublishQPS,
			Burst: cfg.Automation.PublishBurst,
		})
		logger.Info("publish throttle enabled", zap.Float64("qps", cfg.Automation.PublishQPS))
	}

	clock := system.New()
	ids := uuid.New()
	a.runner = runner.New(
		store,
		v,
		driver,
		blobStore,
		publisher,
		throttle,
		sha256.New(),
		clock,
		runner.Config{
			JobDeadline:    cfg.JobDeadline(),
			ArtifactPrefix: cfg.Storage.Prefix,
			Topic:          cfg.PubSub.TopicName,
			ThrottleKey:    cfg.Automation.BaseURL,
		},
		logger.Named("runner"),
	)

	var workers []dispatcher.Worker
	if cfg.Worker.Enabled {
		for i := range cfg.Worker.Concurrency {
			workers = append(workers, worker.New(a.runner, worker.Config{
				IdleDelay:   cfg.IdleDelay(),
				ActiveDelay: cfg.ActiveDelay(),
			}, logger.Named("worker").With(zap.Int("index", i))))
		}
	}
	a.dispatch = dispatcher.New(workers)

	a.apiServer = api.NewServer(
		enqueuer.New(store, ids, clock, logger.Named("enqueuer")),
		store,
		accounts.NewService(driver, store, v, ids, clock, logger.Named("accounts")),
		a.runner,
		ready,
		api.Config{
			APIKey:         cfg.Auth.APIKey,
			RunnerSecret:   cfg.Auth.RunnerSecret,
			RequestTimeout: cfg.RequestTimeout(),
		},
		logger.Named("api"),
	)
	return nil
}

func (a *App) setupStore(ctx context.Context) (jobs.Store, api.Pinger, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory job store")
		return memorystorage.NewStore(a.cfg.Worker.MaxAttempts), nil, nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.MaxConnLifetime(),
		MaxAttempts:     a.cfg.Worker.MaxAttempts,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pgStore = store
	if a.cfg.DB.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		a.logger.Info("database migrations applied")
	}
	a.logger.Info("postgres job store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return store, store, nil
}

func (a *App) setupStorage(ctx context.Context) (jobs.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS artifact storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		store, err := gcsstorage.Connect(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = store
		return store, nil
	case config.StorageLocal:
		a.logger.Info("using local artifact storage", zap.String("path", a.cfg.Storage.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		a.logger.Info("using in-memory artifact storage")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (jobs.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	publisher, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsub = publisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunOnce executes a single runner cycle and releases resources. Cancellation of
// ctx does not abort a publish that is already in progress.
func (a *App) RunOnce(ctx context.Context) (jobs.RunResult, error) {
	defer a.Close()
	result, err := a.runner.RunOnce(context.WithoutCancel(ctx))
	if err != nil {
		return jobs.RunResult{}, fmt.Errorf("run once: %w", err)
	}
	return result, nil
}

// Run starts the HTTP server and workers and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	// Workers finish their in-flight job before returning.
	<-dispatchDone
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases infrastructure clients.
func (a *App) Close() {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.chrome != nil {
		a.chrome.Close()
		a.chrome = nil
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcs = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}
