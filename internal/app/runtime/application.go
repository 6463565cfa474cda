// Package runtime wires configuration, storage and the HTTP server into a
// runnable process.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/lib/pq"

	app "github.com/R3E-Network/marcasino/internal/app"
	"github.com/R3E-Network/marcasino/internal/app/events"
	"github.com/R3E-Network/marcasino/internal/app/httpapi"
	"github.com/R3E-Network/marcasino/internal/app/storage"
	"github.com/R3E-Network/marcasino/internal/app/storage/memory"
	"github.com/R3E-Network/marcasino/internal/app/storage/postgres"
	"github.com/R3E-Network/marcasino/internal/config"
	"github.com/R3E-Network/marcasino/internal/platform/migrations"
	"github.com/R3E-Network/marcasino/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	engine     *app.Application
	httpServer *http.Server
	db         *sql.DB
	redis      *events.RedisPublisher
	cancel     context.CancelFunc
}

// NewApplication constructs the engine from cfg. The returned application
// owns its database and redis connections until Shutdown.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log := logger.New(cfg.Logging)

	store, db, err := buildStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}

	var opts []app.Option
	var redisPub *events.RedisPublisher
	if cfg.Redis.Addr != "" {
		redisPub, err = events.NewRedisPublisher(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			closeDB(db, log)
			return nil, err
		}
		opts = append(opts, app.WithPublisher(redisPub))
		log.Infof("publishing events to redis channel %s", cfg.Redis.Channel)
	}

	engine, err := app.New(ctx, cfg, app.Stores{Store: store}, log, opts...)
	if err != nil {
		closeDB(db, log)
		if redisPub != nil {
			_ = redisPub.Close()
		}
		return nil, fmt.Errorf("build engine: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	handler, err := httpapi.NewHandler(bgCtx, engine, httpapi.Options{
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		CORSOrigins: cfg.Server.CORSOrigins,
		AuditFile:   cfg.Server.AuditFile,
		Log:         log,
	})
	if err != nil {
		cancel()
		closeDB(db, log)
		if redisPub != nil {
			_ = redisPub.Close()
		}
		return nil, fmt.Errorf("build http handler: %w", err)
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		engine: engine,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		db:     db,
		redis:  redisPub,
		cancel: cancel,
	}, nil
}

// Engine exposes the wired services.
func (a *Application) Engine() *app.Application {
	return a.engine
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts background services and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, background services and
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.engine.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("services: %w", err))
	}
	a.cancel()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	closeDB(a.db, a.log)
	return errors.Join(errs...)
}

func buildStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, *sql.DB, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return memory.New(), nil, nil
	case "postgres":
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.Apply(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		return postgres.New(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func closeDB(db *sql.DB, log *logger.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("error closing database connection")
	}
}
