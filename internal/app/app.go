// Package app assembles the tenant service from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/auth"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/cache"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/config"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/credential"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/db"
	httpserver "github.com/WailSalutem-Health-Care/tenant-service/internal/http"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/messaging"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/organization"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/store"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/store/memstore"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/store/mongo"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/store/postgres"
	"github.com/WailSalutem-Health-Care/tenant-service/internal/telemetry"
)

// App holds the wired service. Publisher, Redis and Metrics are nil when
// their backends are not configured.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     store.Store
	Tokens    *auth.TokenAuthority
	Manager   *organization.Manager
	Service   *organization.Service
	Publisher messaging.PublisherInterface
	Redis     *redis.Client
	Metrics   *telemetry.Metrics

	closers []func(ctx context.Context) error
}

// OpenStore connects the backend selected by cfg.Store.Driver. Postgres
// migrations run first when cfg.Database.Migrate is set.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory store; data is lost on exit")
		return memstore.New(), nil

	case config.DriverPostgres:
		conn, err := db.Connect(ctx, db.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Name:     cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := db.RunMigrations(conn, "up"); err != nil {
				conn.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			if version, dirty, err := db.MigrationVersion(conn); err == nil {
				logger.Info("Database schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
			}
		}
		return postgres.New(conn), nil

	case config.DriverMongo:
		st, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to MongoDB", zap.String("database", cfg.Mongo.Database))
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// New connects every configured backend and builds the manager and service.
// metrics may be nil. Optional backends that fail to connect are logged and
// skipped; the store and token authority are required.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *telemetry.Metrics) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics}

	tokens, err := auth.NewTokenAuthority(auth.Config{
		Secret:    cfg.Auth.JWTSecret,
		Algorithm: cfg.Auth.JWTAlgorithm,
		TokenTTL:  cfg.Auth.TokenTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("token authority: %w", err)
	}
	a.Tokens = tokens

	hasher, err := credential.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("credential hasher: %w", err)
	}

	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	opts := []organization.ManagerOption{}
	if metrics != nil {
		opts = append(opts, organization.WithMetrics(metrics))
	}

	if cfg.RabbitMQ.Enabled() {
		pub, err := messaging.NewPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("Event publishing disabled", zap.Error(err))
		} else {
			a.Publisher = pub
			opts = append(opts, organization.WithPublisher(pub))
			a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
		}
	}

	if cfg.Redis.Enabled() {
		client, err := cache.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, using in-process cache", zap.Error(err))
		} else {
			a.Redis = client
			a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		}
	}
	if a.Redis != nil {
		opts = append(opts, organization.WithCache(cache.NewRedisCache(a.Redis, cfg.Cache.TTL, logger)))
	} else {
		opts = append(opts, organization.WithCache(organization.NewMemoryCache(cfg.Cache.TTL)))
	}

	a.Manager = organization.NewManager(st, hasher, logger, opts...)
	if metrics != nil {
		a.Service = organization.NewServiceWithMetrics(a.Manager, tokens, logger, metrics)
	} else {
		a.Service = organization.NewService(a.Manager, tokens, logger)
	}
	return a, nil
}

// Router returns the HTTP routes with CORS applied by the caller.
func (a *App) Router() *mux.Router {
	deps := httpserver.Dependencies{
		Handler: organization.NewHandler(a.Service, a.Logger),
		Tokens:  a.Tokens,
		Health:  a.Store,
		Logger:  a.Logger,
		Metrics: a.Metrics,
	}
	if a.Redis != nil {
		trusted, err := httpserver.ParseTrustedProxies(a.Config.RateLimit.TrustedProxies)
		if err != nil {
			a.Logger.Warn("Ignoring trusted proxies", zap.Error(err))
			trusted = nil
		}
		deps.LoginLimiter = httpserver.NewLoginLimiter(a.Redis, a.Config.RateLimit.LoginPerMinute, a.Logger,
			httpserver.WithTrustedProxies(trusted))
	}
	return httpserver.SetupRouter(deps)
}

// Sweeper returns an orphan namespace sweeper over the app's store.
func (a *App) Sweeper() *organization.Sweeper {
	s := organization.NewSweeper(a.Store, a.Logger)
	if a.Config.Sweeper.Grace > 0 {
		s.Grace = a.Config.Sweeper.Grace
	}
	if a.Publisher != nil {
		s.WithPublisher(a.Publisher)
	}
	if a.Metrics != nil {
		s.WithMetrics(a.Metrics)
	}
	return s
}

// Close releases every backend in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errs
}
