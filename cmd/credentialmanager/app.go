package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/credentialmanager/internal/controller"
	"github.com/nkiryanov/credentialmanager/internal/credentialmanager"
	"github.com/nkiryanov/credentialmanager/internal/handlers"
	"github.com/nkiryanov/credentialmanager/internal/identityprovider"
	"github.com/nkiryanov/credentialmanager/internal/logger"
	"github.com/nkiryanov/credentialmanager/internal/repository"
	"github.com/nkiryanov/credentialmanager/internal/repository/file"
	"github.com/nkiryanov/credentialmanager/internal/repository/gcpsecret"
	"github.com/nkiryanov/credentialmanager/internal/repository/memory"
	"github.com/nkiryanov/credentialmanager/internal/repository/postgres"
	"github.com/nkiryanov/credentialmanager/internal/repository/sqlite"
	"github.com/nkiryanov/credentialmanager/internal/service/state"
)

type storageKind int

const (
	storageMemory storageKind = iota
	storageFile
	storagePostgres
	storageSQLite
	storageGCPSecret
)

// parseStorageDSN picks storage backend by scheme or file extension
func parseStorageDSN(dsn string) (storageKind, string, error) {
	switch {
	case dsn == "memory://":
		return storageMemory, "", nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return storagePostgres, dsn, nil
	case strings.HasPrefix(dsn, "gcpsecret://"):
		return storageGCPSecret, strings.TrimPrefix(dsn, "gcpsecret://"), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return storageSQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"), dsn == ":memory:":
		return storageSQLite, dsn, nil
	case strings.HasPrefix(dsn, "file://"):
		return storageFile, strings.TrimPrefix(dsn, "file://"), nil
	case strings.HasSuffix(dsn, ".json"):
		return storageFile, dsn, nil
	default:
		return 0, "", fmt.Errorf("unsupported storage %q", dsn)
	}
}

// openStorage returns storage and function releasing its resources, the latter may be nil
func openStorage(ctx context.Context, cfg *Config, log logger.Logger) (repository.Storage, func() error, error) {
	kind, target, err := parseStorageDSN(cfg.StorageDSN)
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case storagePostgres:
		pool, err := postgres.Open(ctx, target)
		if err != nil {
			return nil, nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		return postgres.NewStorage(pool), func() error { pool.Close(); return nil }, nil

	case storageSQLite:
		s, err := sqlite.NewStorage(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case storageGCPSecret:
		client, err := gcpsecret.NewClient(ctx, cfg.GCPCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		s, err := gcpsecret.NewStorage(ctx, client, target, gcpsecret.WithLogger(log))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, client.Close, nil

	case storageFile:
		var opts []file.Option
		if cfg.SecretKey != "" {
			opts = append(opts, file.WithSecretKey(cfg.SecretKey))
		}
		s, err := file.NewStorage(target, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	default:
		return memory.NewStorage(), nil, nil
	}
}

type controllerFactory func(cfg *Config, log logger.Logger) controller.Controller

func newDummyController(_ *Config, log logger.Logger) controller.Controller {
	return controller.NewDummy(log)
}

func newDeviceFlowController(cfg *Config, log logger.Logger) controller.Controller {
	return controller.NewDeviceFlow(controller.DeviceFlowConfig{
		MaxExpiresIn: cfg.DeviceMaxExpiresIn,
		Logger:       log,
	})
}

func newRefreshingController(cfg *Config, log logger.Logger) controller.Controller {
	return controller.NewRefreshing(controller.RefreshingConfig{
		Delegate:    newDeviceFlowController(cfg, log),
		MinInterval: cfg.RefreshMinInterval,
		Logger:      log,
	})
}

type App struct {
	cfg     *Config
	logger  logger.Logger
	manager *credentialmanager.Manager
	closers []func() error
}

func NewApp(ctx context.Context, cfg *Config, newController controllerFactory) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &App{cfg: cfg, logger: log}

	var providers []identityprovider.IdentityProvider
	if cfg.ProvidersFile != "" {
		loaded, err := identityprovider.LoadProviders(cfg.ProvidersFile, log)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			providers = append(providers, p)
		}
	}

	storage, closeStorage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if closeStorage != nil {
		app.closers = append(app.closers, closeStorage)
	}

	manager, err := credentialmanager.New(ctx,
		credentialmanager.WithStorage(storage),
		credentialmanager.WithController(newController(cfg, log)),
		credentialmanager.WithLogger(log),
		credentialmanager.WithIdentityProviders(providers...),
	)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.manager = manager

	return app, nil
}

// Close stops controller, then releases storage
func (a *App) Close() error {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Serve runs HTTP API and closes gracefully on context cancellation
// Credentials are saved once server is stopped
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.SecretKey == "" {
		return errors.New("secret key is required to sign oauth2 state, generate one with the gensecret command")
	}

	states, err := state.New(state.Config{SecretKey: a.cfg.SecretKey})
	if err != nil {
		return fmt.Errorf("error while creating state manager: %w", err)
	}

	router := handlers.NewRouter(
		handlers.RouterConfig{AdminToken: a.cfg.AdminToken, CallbackURL: a.cfg.CallbackURL},
		a.manager,
		states,
		a.logger,
	)

	httpServer := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			a.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		a.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	a.logger.Info("Starting server", "address", a.cfg.ListenAddr, "credentials", len(a.manager.Credentials()))
	err = httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	if saveErr := a.manager.Save(context.Background()); saveErr != nil {
		a.logger.Error("Failed to save credentials on shutdown", "error", saveErr)
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
