// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/webaudit/internal/api"
	"github.com/JakeFAU/webaudit/internal/audit"
	"github.com/JakeFAU/webaudit/internal/clock/system"
	"github.com/JakeFAU/webaudit/internal/config"
	"github.com/JakeFAU/webaudit/internal/dispatcher"
	"github.com/JakeFAU/webaudit/internal/id/uuid"
	"github.com/JakeFAU/webaudit/internal/metrics"
	"github.com/JakeFAU/webaudit/internal/policy/blocklist"
	memorypublisher "github.com/JakeFAU/webaudit/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/webaudit/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/webaudit/internal/queue/memory"
	"github.com/JakeFAU/webaudit/internal/service"
	gcsstorage "github.com/JakeFAU/webaudit/internal/storage/gcs"
	localstorage "github.com/JakeFAU/webaudit/internal/storage/local"
	memorystorage "github.com/JakeFAU/webaudit/internal/storage/memory"
	pgstore "github.com/JakeFAU/webaudit/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/webaudit/internal/storage/sqlite"
	"github.com/JakeFAU/webaudit/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	apiServer *api.Server
	service   *service.Service
	dispatch  *dispatcher.Dispatcher
	queue     *queuememory.Queue
	pipeline  *Pipeline
	artifacts http.Handler
	running   atomic.Bool

	// closers run in reverse order on shutdown.
	closers []func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("database_driver", cfg.Database.Driver),
	)

	reports, jobs, err := app.setupStores(ctx)
	if err != nil {
		app.closeAll(ctx)
		return nil, err
	}
	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		app.closeAll(ctx)
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeAll(ctx)
		return nil, err
	}

	app.pipeline, err = NewPipeline(ctx, cfg, PipelineDeps{Blobs: blobs, Metrics: app.metrics}, logger)
	if err != nil {
		app.closeAll(ctx)
		return nil, err
	}
	app.closers = append(app.closers, func(context.Context) error {
		app.pipeline.Close()
		return nil
	})

	clock := system.New()
	ids := uuid.New()
	app.queue = queuememory.NewQueue(cfg.Worker.QueueDepth)
	app.dispatch = dispatcher.New(app.queue, nil)
	app.service = service.New(service.Deps{
		Reports: reports,
		Jobs:    jobs,
		Queue:   app.dispatch,
		IDs:     ids,
		Clock:   clock,
		Hosts:   blocklist.New(cfg.Audit.BlockedHosts),
		Metrics: app.metrics,
	}, logger.Named("service"))

	for i := 0; i < cfg.Worker.Concurrency; i++ {
		app.dispatch.Add(app.pipeline.Worker(worker.Deps{
			Queue:     app.queue,
			Reports:   reports,
			Jobs:      jobs,
			Publisher: publisher,
			Notifier:  app.service,
			IDs:       ids,
			Clock:     clock,
		}, cfg.PubSub.TopicName, logger.Named("worker").With(zap.Int("index", i))))
	}
	logger.Info("worker pool configured",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Int("queue_depth", cfg.Worker.QueueDepth),
	)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.service, api.Config{
		Origin:         cfg.Server.Origin,
		APIKey:         apiKey,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout(),
	}, api.Options{
		Metrics:   app.metrics,
		Artifacts: app.artifacts,
		Ready:     app.ready,
	}, logger.Named("api"))

	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.running.Store(true)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
		a.running.Store(false)
	}()

	// Unfinished jobs go back on the queue before new submissions arrive.
	if n, err := a.service.Resume(ctx); err != nil {
		a.logger.Error("resume unfinished jobs failed", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("resumed unfinished jobs", zap.Int("jobs", n))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}

	a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every resource acquired by Build.
func (a *App) Close(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeAll(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeAll(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) ready(context.Context) error {
	if !a.running.Load() {
		return errors.New("dispatcher not running")
	}
	return nil
}

func (a *App) setupStores(ctx context.Context) (audit.ReportStore, audit.JobStore, error) {
	db := a.cfg.Database
	switch db.Driver {
	case config.DriverPostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:          db.DSN,
			ReportsTable: db.ReportsTable,
			JobsTable:    db.JobsTable,
			MaxConns:     int32(db.MaxConns),
			MinConns:     int32(db.MinConns),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("using postgres store", zap.String("reports_table", db.ReportsTable))
		return store, store, nil
	case config.DriverSQLite:
		store, err := sqlitestore.Open(db.DSN, sqlitestore.Options{EnableWAL: db.SQLiteWAL})
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		a.logger.Info("using sqlite store", zap.String("path", db.DSN))
		return store, store, nil
	default:
		a.logger.Warn("using in-memory store; reports are lost on restart")
		return memorystorage.NewReportStore(), memorystorage.NewJobStore(), nil
	}
}

func (a *App) setupBlobStore(ctx context.Context) (audit.BlobStore, error) {
	st := a.cfg.Storage
	switch st.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:       st.Bucket,
			Prefix:       st.Prefix,
			CacheControl: st.CacheControl,
			PublicURL:    st.PublicURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		if err := blobs.CheckBucket(ctx); err != nil {
			return nil, err
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", st.Bucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(localstorage.Config{
			BaseDir:   st.LocalDir,
			PublicURL: a.cfg.Server.Origin + "/artifacts",
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.artifacts = blobs.Handler()
		a.logger.Info("using local storage backend", zap.String("path", st.LocalDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (audit.Publisher, error) {
	ps := a.cfg.PubSub
	if ps.TopicName == "" || ps.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	pub, err := gcppublisher.New(client, ps.TopicName)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		pub.Close()
		return nil
	})
	if err := pub.CheckTopic(ctx); err != nil {
		return nil, err
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return pub, nil
}
