// Package server initializes and runs the changeset server.
// It wires storage, settings, authorization and the publish scheduler,
// handles graceful shutdown and starts the REST and gRPC endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/logging"
	"github.com/dmitrijs2005/changesetd/internal/server/archive"
	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"github.com/dmitrijs2005/changesetd/internal/server/config"
	"github.com/dmitrijs2005/changesetd/internal/server/httpapi"
	"github.com/dmitrijs2005/changesetd/internal/server/repositories/changesets"
	"github.com/dmitrijs2005/changesetd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/changesetd/internal/server/services"
	"github.com/dmitrijs2005/changesetd/internal/server/settings"
	"github.com/dmitrijs2005/changesetd/internal/server/validation"

	gs "github.com/dmitrijs2005/changesetd/internal/server/grpc"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	manager    repomanager.RepositoryManager
	authorizer *authz.Service
	changesets *services.ChangesetService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(c.LogLevel)

	manager, err := openStorage(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	registry := settings.NewDefaultRegistry()
	if c.SettingsPath != "" {
		if err := registry.LoadFile(c.SettingsPath); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("settings init error: %w", err)
		}
	}

	az, err := authz.NewService(authz.Config{PolicyPath: c.PolicyPath, Logger: logger})
	if err != nil {
		_ = manager.Close()
		return nil, fmt.Errorf("authz init error: %w", err)
	}

	engine := validation.NewEngine(registry, az,
		validation.WithAllowUnrecognized(c.AllowUnrecognized),
		validation.WithLogger(logger),
	)

	opts := []services.Option{services.WithLogger(logger)}
	if c.S3Bucket != "" {
		a, err := archive.NewS3Archiver(ctx, archive.Config{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
		})
		if err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("archive init error: %w", err)
		}
		opts = append(opts, services.WithArchiver(a))
	}

	cs := services.NewChangesetService(manager, registry, engine, az, opts...)

	return &App{config: c, logger: logger, manager: manager, authorizer: az, changesets: cs}, nil
}

func openStorage(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	policy := changesets.Policy{RejectEmptyContent: c.RejectEmptyContent}

	switch c.Storage {
	case config.StorageMemory:
		return repomanager.NewMemoryRepositoryManager(policy), nil
	case config.StoragePostgres:
		m, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN, policy)
		if err != nil {
			return nil, err
		}
		if err := m.RunMigrations(ctx); err != nil {
			_ = m.Close()
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", c.Storage)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.changesets, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr: app.config.EndpointAddrHTTP,
		Handler: httpapi.NewRouter(app.changesets, httpapi.Config{
			SecretKey:   []byte(app.config.SecretKey),
			CORSOrigins: app.config.CORSOrigins,
			Logger:      app.logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) watchPolicy(ctx context.Context) {
	if app.config.PolicyPath == "" {
		return
	}
	errs, err := app.authorizer.Watch(ctx)
	if err != nil {
		app.logger.Warn(ctx, "policy watch disabled", "error", err)
		return
	}
	for err := range errs {
		if err == nil {
			app.logger.Info(ctx, "policy reloaded", "path", app.config.PolicyPath)
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "storage", app.config.Storage)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	for _, run := range []func(){
		func() { app.startGRPCServer(ctx, cancelFunc) },
		func() { app.startHTTPServer(ctx, cancelFunc) },
		func() { app.changesets.RunScheduler(ctx, app.config.PublishInterval) },
		func() { app.watchPolicy(ctx) },
	} {
		run := run
		wg.Add(1)
		go func() {
			defer wg.Done()
			run()
		}()
	}

	wg.Wait()

	if err := app.manager.Close(); err != nil {
		app.logger.Error(context.Background(), "storage close failed", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
