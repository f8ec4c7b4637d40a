package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/najoast/esgo/codec"
	"github.com/najoast/esgo/config"
	"github.com/najoast/esgo/entity"
	"github.com/najoast/esgo/host"
	"github.com/najoast/esgo/logging"
	"github.com/najoast/esgo/storage"
	"github.com/najoast/esgo/storage/memory"
	"github.com/najoast/esgo/storage/postgres"
	esredis "github.com/najoast/esgo/storage/redis"
	ess3 "github.com/najoast/esgo/storage/s3"
	"github.com/najoast/esgo/storage/sqlite"
	"github.com/najoast/esgo/telemetry"
)

// EventLog is an event store that producers can append to.
type EventLog[K comparable] interface {
	entity.EventStorage[K]
	Append(ctx context.Context, id K, version uint64, occurredAt time.Time, env codec.Envelope) error
}

// Option configures an App.
type Option func(*appOptions)

type appOptions struct {
	configFile string
	kind       string
	logWriter  io.Writer
}

// WithConfigFile watches path and applies log level changes while running.
func WithConfigFile(path string) Option {
	return func(o *appOptions) {
		o.configFile = path
	}
}

// WithKind names the entity type in logs and metrics.
func WithKind(kind string) Option {
	return func(o *appOptions) {
		o.kind = kind
	}
}

// WithLogWriter sends logs to w instead of the configured output.
func WithLogWriter(w io.Writer) Option {
	return func(o *appOptions) {
		o.logWriter = w
	}
}

// App is a configured esgo application hosting one entity type.
type App[K comparable, S entity.State[K]] struct {
	cfg       *config.Config
	opts      appOptions
	logger    *logging.Logger
	telemetry *telemetry.Provider
	serial    codec.Serializer
	events    EventLog[K]
	host      *host.Host[K, S]
	lifecycle *DefaultLifecycleManager

	mutex   sync.Mutex
	running bool
	watcher *config.Watcher
}

// New builds the logger, telemetry, stores and host described by cfg.
// Nothing runs until Run or Start.
func New[K comparable, S entity.State[K]](ctx context.Context, cfg *config.Config, behavior entity.Behavior[K, S], registry *codec.Registry, opts ...Option) (_ *App[K, S], err error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}
	if behavior == nil {
		return nil, entity.ErrBehaviorRequired
	}
	if registry == nil {
		return nil, &ApplicationError{Operation: "configure", Err: errors.New("type registry is required")}
	}

	var o appOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	app := &App[K, S]{cfg: cfg, opts: o}

	if o.logWriter != nil {
		app.logger = logging.NewWithWriter(cfg.Log, o.logWriter)
	} else if app.logger, err = logging.New(cfg.Log); err != nil {
		return nil, &ApplicationError{Operation: "configure", Service: "logging", Err: err}
	}
	defer func() {
		if err == nil {
			return
		}
		if app.telemetry != nil {
			_ = app.telemetry.Stop(context.Background())
		}
		_ = app.logger.Close()
	}()
	logger := app.logger.With("app", cfg.App.Name)
	app.lifecycle = NewLifecycleManager(logger)
	if cfg.App.ShutdownTimeout > 0 {
		app.lifecycle.SetTimeout(cfg.App.ShutdownTimeout)
	}

	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceName = cfg.ServiceName()
	if app.telemetry, err = telemetry.Setup(ctx, telemetryCfg, logger); err != nil {
		return nil, &ApplicationError{Operation: "configure", Service: "telemetry", Err: err}
	}

	if app.serial, err = codec.NewSerializer(cfg.Storage.Serializer); err != nil {
		return nil, &ApplicationError{Operation: "configure", Service: "storage", Err: err}
	}
	decoder, err := codec.NewDecoder(registry, app.serial)
	if err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}

	stores, err := openStores[K, S](ctx, cfg.Storage, decoder, app.serial, func() S {
		var zero K
		return behavior.NewState(zero)
	})
	if err != nil {
		return nil, &ApplicationError{Operation: "configure", Service: "storage", Err: err}
	}
	app.events = stores.events

	hostOpts := []host.Option{
		host.WithLogger(logger),
		host.WithMetrics(app.telemetry.Metrics()),
	}
	if o.kind != "" {
		hostOpts = append(hostOpts, host.WithKind(o.kind))
	}
	app.host, err = host.New(behavior, entity.Deps[K, S]{
		Decoder: decoder,
		Events:  stores.events,
		States:  stores.states,
	}, cfg.Entity, hostOpts...)
	if err != nil {
		_ = stores.Stop(ctx)
		return nil, &ApplicationError{Operation: "configure", Service: "host", Err: err}
	}

	for _, reg := range []struct {
		service Service
		deps    []string
	}{
		{app.telemetry, nil},
		{stores, nil},
		{&hostService[K, S]{host: app.host}, []string{app.telemetry.Name(), stores.Name()}},
	} {
		if err := app.lifecycle.Register(reg.service.Name(), reg.service, reg.deps...); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Config returns the configuration the App was built with.
func (app *App[K, S]) Config() *config.Config {
	return app.cfg
}

// Logger returns the application logger.
func (app *App[K, S]) Logger() *slog.Logger {
	return app.logger.Logger
}

// Host returns the entity host.
func (app *App[K, S]) Host() *host.Host[K, S] {
	return app.host
}

// Events returns the configured event store.
func (app *App[K, S]) Events() EventLog[K] {
	return app.events
}

// Serializer returns the payload serializer selected by storage.serializer.
func (app *App[K, S]) Serializer() codec.Serializer {
	return app.serial
}

// Lifecycle returns the lifecycle manager, so callers can register their
// own services before Start.
func (app *App[K, S]) Lifecycle() LifecycleManager {
	return app.lifecycle
}

// Health returns the health status of all services.
func (app *App[K, S]) Health(ctx context.Context) map[string]HealthStatus {
	return app.lifecycle.Health(ctx)
}

// Start starts all services and, when configured, the config watcher.
func (app *App[K, S]) Start(ctx context.Context) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return fmt.Errorf("application is already running")
	}
	if err := app.lifecycle.Start(ctx); err != nil {
		return err
	}
	if app.opts.configFile != "" {
		if err := app.watchConfig(); err != nil {
			app.logger.Warn("config watcher disabled", "file", app.opts.configFile, "error", err)
		}
	}
	app.running = true
	app.logger.Info("application started",
		"app", app.cfg.App.Name,
		"version", app.cfg.App.Version,
		"environment", app.cfg.App.Environment,
		"driver", app.cfg.Storage.Driver,
		"state_driver", app.cfg.Storage.StateDriver,
	)
	return nil
}

// Run starts the application and blocks until ctx is done or the process
// receives SIGINT or SIGTERM, then shuts down.
func (app *App[K, S]) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	app.logger.Info("shutting down", "cause", context.Cause(sigCtx))

	return app.Shutdown(context.Background())
}

// Shutdown stops the config watcher and every service in reverse order.
func (app *App[K, S]) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil
	}
	app.running = false
	watcher := app.watcher
	app.watcher = nil
	app.mutex.Unlock()

	if app.cfg.App.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.cfg.App.ShutdownTimeout)
		defer cancel()
	}

	var errs []error
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := app.lifecycle.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	app.logger.Info("application stopped")
	if err := app.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// watchConfig hot-reloads the log level. Other settings need a restart.
func (app *App[K, S]) watchConfig() error {
	watcher, err := config.NewWatcher(app.opts.configFile, nil, app.logger.Logger)
	if err != nil {
		return err
	}
	watcher.OnChange(func(c config.Change) {
		if c.LogLevelChanged() {
			app.logger.SetLevel(c.New.Log.Level)
			app.logger.Info("log level changed", "from", c.Old.Log.Level, "to", c.New.Log.Level)
		}
	})
	if err := watcher.Start(); err != nil {
		_ = watcher.Stop()
		return err
	}
	app.watcher = watcher
	return nil
}

// hostService stops the host, deactivating resident entities.
type hostService[K comparable, S entity.State[K]] struct {
	host *host.Host[K, S]
}

func (s *hostService[K, S]) Name() string { return "host" }

func (s *hostService[K, S]) Start(context.Context) error { return nil }

func (s *hostService[K, S]) Stop(ctx context.Context) error {
	return s.host.Shutdown(ctx)
}

func (s *hostService[K, S]) Health(context.Context) (HealthStatus, error) {
	active := len(s.host.Active())
	return HealthStatus{
		State: HealthHealthy,
		Data:  map[string]any{"active_entities": active},
	}, nil
}

// storeService owns the storage connections.
type storeService[K comparable, S entity.State[K]] struct {
	events  EventLog[K]
	states  entity.StateStorage[K, S]
	pingers []func(context.Context) error
	closers []func() error
}

func (s *storeService[K, S]) Name() string { return "storage" }

func (s *storeService[K, S]) Start(context.Context) error { return nil }

func (s *storeService[K, S]) Stop(context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *storeService[K, S]) Health(ctx context.Context) (HealthStatus, error) {
	for _, ping := range s.pingers {
		if err := ping(ctx); err != nil {
			return HealthStatus{State: HealthUnhealthy, Message: err.Error()}, nil
		}
	}
	return HealthStatus{State: HealthHealthy}, nil
}

// openStores builds the event store for cfg.Driver and the state store for
// cfg.StateDriver.
func openStores[K comparable, S entity.State[K]](ctx context.Context, cfg config.StorageConfig, decoder *codec.Decoder, serial codec.Serializer, newState func() S) (_ *storeService[K, S], err error) {
	s := &storeService[K, S]{}
	defer func() {
		if err != nil {
			_ = s.Stop(ctx)
		}
	}()

	stateCodec, err := storage.NewStateCodec[K, S](serial, newState)
	if err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case config.DriverMemory:
		if s.events, err = memory.NewEventLog[K](decoder); err != nil {
			return nil, err
		}
		if cfg.StateDriver == config.StateDriverSQL {
			if s.states, err = memory.NewStateStore[K, S](stateCodec); err != nil {
				return nil, err
			}
		}

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.pingers = append(s.pingers, db.SQL().PingContext)
		if s.events, err = sqlite.NewEventLog[K](db, decoder, nil); err != nil {
			return nil, err
		}
		if cfg.StateDriver == config.StateDriverSQL {
			if s.states, err = sqlite.NewStateStore[K, S](db, stateCodec, nil); err != nil {
				return nil, err
			}
		}

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.pingers = append(s.pingers, db.PingContext)
		if s.events, err = postgres.NewEventLog[K](db, decoder, nil); err != nil {
			return nil, err
		}
		if cfg.StateDriver == config.StateDriverSQL {
			if s.states, err = postgres.NewStateStore[K, S](db, stateCodec, nil); err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidStorageDriver, cfg.Driver)
	}

	switch cfg.StateDriver {
	case config.StateDriverSQL:
	case config.StateDriverRedis:
		client, err := esredis.NewClient(esredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		s.pingers = append(s.pingers, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		if s.states, err = esredis.NewStateStore[K, S](client, stateCodec, cfg.Redis.Prefix, nil); err != nil {
			return nil, err
		}

	case config.StateDriverS3:
		s3cfg := ess3.Config{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
			Prefix:   cfg.S3.Prefix,
		}
		client, err := ess3.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		if s.states, err = ess3.NewStateStore[K, S](client, stateCodec, s3cfg, nil); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidStorageDriver, cfg.StateDriver)
	}

	return s, nil
}
