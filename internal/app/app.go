// Package app initializes and runs the tagmesh daemon. It wires storage,
// the content store, services and the coordinator, handles graceful
// shutdown, and drives the background sync and cache maintenance loops.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/config"
	"github.com/tagmesh/tagmesh/internal/contentstore"
	"github.com/tagmesh/tagmesh/internal/coordinator"
	"github.com/tagmesh/tagmesh/internal/handler"
	"github.com/tagmesh/tagmesh/internal/identity"
	"github.com/tagmesh/tagmesh/internal/logging"
	"github.com/tagmesh/tagmesh/internal/metrics"
	"github.com/tagmesh/tagmesh/internal/repository/cache"
	"github.com/tagmesh/tagmesh/internal/repository/subscriptions"
	"github.com/tagmesh/tagmesh/internal/repository/syncstates"
	"github.com/tagmesh/tagmesh/internal/repository/tags"
	"github.com/tagmesh/tagmesh/internal/repository/users"
	"github.com/tagmesh/tagmesh/internal/service"
	"github.com/tagmesh/tagmesh/internal/storage"
)

const staleInProgressAge = 10 * time.Minute

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	registry *prometheus.Registry
	coord    *coordinator.Coordinator
	cacheSvc service.CacheService
	queueSvc service.SyncService
	handler  *handler.Handler
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel),
	})))

	db, err := storage.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	store, names, err := buildContentStore(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	userSvc := service.NewUserService(users.NewSQLiteRepository(db))
	tagSvc := service.NewTagService(tags.NewSQLiteRepository(db))
	subSvc := service.NewSubscriptionService(subscriptions.NewSQLiteRepository(db))
	queueSvc := service.NewSyncService(syncstates.NewSQLiteRepository(db), collector)
	cacheSvc := service.NewCacheService(cache.NewSQLiteEntryRepository(db), cache.NewSQLiteBlockRepository(db), collector)

	coord := coordinator.New(coordinator.Deps{
		Logger:        logger,
		Users:         userSvc,
		Tags:          tagSvc,
		Subscriptions: subSvc,
		Queue:         queueSvc,
		Cache:         cacheSvc,
		Store:         store,
		Names:         names,
		Metrics:       collector,
	})

	h := handler.New(handler.Deps{
		Logger:        logger,
		Coordinator:   coord,
		Users:         userSvc,
		Tags:          tagSvc,
		Subscriptions: subSvc,
		Queue:         queueSvc,
		KeystorePath:  cfg.KeystorePath,
	})

	return &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: registry,
		coord:    coord,
		cacheSvc: cacheSvc,
		queueSvc: queueSvc,
		handler:  h,
	}, nil
}

func slogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildContentStore selects the S3-compatible store when a bucket is
// configured and the in-memory store otherwise.
func buildContentStore(ctx context.Context, cfg *config.Config) (contentstore.ContentStore, contentstore.NameResolver, error) {
	if cfg.S3Bucket == "" {
		mem := contentstore.NewMemoryStore()
		return mem, mem, nil
	}
	s3, err := contentstore.NewS3Store(ctx, contentstore.S3Options{
		Region:       cfg.S3Region,
		Bucket:       cfg.S3Bucket,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("content store init error: %w", err)
	}
	return s3, s3, nil
}

// Unlock loads the keystore and installs the signing keypair. Called at
// startup when a passphrase is provided on the terminal.
func (app *App) Unlock(passphrase string) error {
	ks, err := identity.LoadKeystore(app.config.KeystorePath)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrNoIdentity
		}
		return err
	}
	kp, err := identity.UnlockKeystore(ks, passphrase)
	if err != nil {
		return err
	}
	app.coord.SetKeypair(kp)
	app.logger.Info(context.Background(), "identity unlocked", "did", ks.DID, "handle", ks.Handle)
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:    app.config.ListenAddr,
		Handler: app.handler.Router(app.registry),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "serving message API", "addr", app.config.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "http server error", "error", err)
		cancelFunc()
	}
}

// runTicker runs fn every interval until the context ends.
func (app *App) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (app *App) processPending(ctx context.Context) {
	if !app.coord.Unlocked() {
		return
	}
	if n, err := app.coord.ProcessPending(ctx); err != nil {
		app.logger.Error(ctx, "processing pending sync operations", "error", err)
	} else if n > 0 {
		app.logger.Info(ctx, "processed pending sync operations", "completed", n)
	}
}

func (app *App) processRetryable(ctx context.Context) {
	if !app.coord.Unlocked() {
		return
	}
	if n, err := app.coord.ProcessRetryable(ctx); err != nil {
		app.logger.Error(ctx, "processing retryable sync operations", "error", err)
	} else if n > 0 {
		app.logger.Info(ctx, "retried sync operations", "completed", n)
	}

	// Stuck in-progress operations go back to the queue.
	cutoff := time.Now().Add(-staleInProgressAge).UnixMilli()
	if n, err := app.queueSvc.RequeueStale(ctx, cutoff); err != nil {
		app.logger.Error(ctx, "requeueing stale sync operations", "error", err)
	} else if n > 0 {
		app.logger.Warn(ctx, "requeued stale sync operations", "count", n)
	}
}

func (app *App) refreshSubscriptions(ctx context.Context) {
	if n, err := app.coord.RefreshSubscriptions(ctx, app.config.RefreshInterval); err != nil {
		app.logger.Error(ctx, "refreshing subscriptions", "error", err)
	} else if n > 0 {
		app.logger.Info(ctx, "refreshed subscriptions", "count", n)
	}
}

func (app *App) maintainCache(ctx context.Context) {
	entries, blocks, err := app.cacheSvc.SweepExpired(ctx)
	if err != nil {
		app.logger.Error(ctx, "sweeping caches", "error", err)
	} else if entries+blocks > 0 {
		app.logger.Info(ctx, "swept expired cache data", "entries", entries, "blocks", blocks)
	}

	reclaimed, err := app.cacheSvc.Prune(ctx, app.config.CacheTargetBytes)
	if err != nil {
		app.logger.Error(ctx, "pruning block cache", "error", err)
	} else if reclaimed > 0 {
		app.logger.Info(ctx, "pruned block cache", "bytes", reclaimed)
	}

	if purged, err := app.queueSvc.PurgeCompleted(ctx); err != nil {
		app.logger.Error(ctx, "purging completed sync operations", "error", err)
	} else if purged > 0 {
		app.logger.Info(ctx, "purged completed sync operations", "count", purged)
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting tagmesh daemon")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runTicker(ctx, app.config.PendingInterval, app.processPending)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runTicker(ctx, app.config.RetryInterval, app.processRetryable)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runTicker(ctx, app.config.RefreshInterval, app.refreshSubscriptions)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runTicker(ctx, app.config.SweepInterval, app.maintainCache)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err)
	}
	app.logger.Info(ctx, "daemon stopped")
}
