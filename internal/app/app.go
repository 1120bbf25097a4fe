// Package app assembles the core services from configuration. The server and
// the operator CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"tenantcore/internal/caching"
	"tenantcore/internal/config"
	"tenantcore/internal/identity"
	"tenantcore/internal/logger"
	"tenantcore/internal/metrics"
	"tenantcore/internal/repositories"
	"tenantcore/internal/services"
	"tenantcore/pkg/database"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// App holds the wired dependencies of a running process.
type App struct {
	Config  *config.Config
	Log     logger.Logger
	Metrics *metrics.Metrics

	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Cache    caching.CacheService
	Bus      *identity.RedisBus
	Notifier identity.Notifier
	Storage  services.MinioService

	Provider  *identity.LocalProvider
	Verifier  identity.TokenVerifier
	Directory *services.UserDirectoryService
	Tenants   services.TenantRegistry

	closers []func() error
}

// Build connects to every backing service and wires the core. Storage and
// the message broker are optional; their absence is logged.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger, m *metrics.Metrics) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: m}

	pool, err := database.NewPool(ctx, cfg.Database.URL, database.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	a.Redis = caching.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	a.closers = append(a.closers, a.Redis.Close)
	a.Cache = caching.NewRedisCacheService(a.Redis)
	if err := a.Cache.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a.Bus = identity.NewRedisBus(a.Redis, cfg.Identity.EventsChannel, log)
	if err := a.Bus.Start(context.Background()); err != nil {
		a.Close()
		return nil, fmt.Errorf("subscribe identity events: %w", err)
	}
	a.closers = append(a.closers, a.Bus.Close)

	a.Notifier = identity.NewLogNotifier(log)
	if cfg.RabbitMQ.URL != "" {
		amqpNotifier, err := identity.NewAMQPNotifier(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			log.Warn("RabbitMQ unavailable, notifications are only logged", logger.Error(err))
		} else {
			a.Notifier = amqpNotifier
			a.closers = append(a.closers, amqpNotifier.Close)
		}
	}

	if cfg.Minio.Endpoint != "" {
		storage, err := services.NewMinioService(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err == nil {
			err = storage.EnsureBucketExists(ctx)
		}
		if err != nil {
			log.Warn("Object storage unavailable, tenant logos are disabled", logger.Error(err))
		} else {
			a.Storage = storage
		}
	}

	tenantRepo := repositories.NewCachedTenantRepo(repositories.NewTenantRepo(pool), a.Cache, cfg.Redis.CacheTTL, log)
	userRepo := repositories.NewCachedUserRepo(repositories.NewUserRepo(pool), a.Cache, cfg.Redis.CacheTTL, log)

	a.Provider = identity.NewLocalProvider(repositories.NewCredentialRepo(pool), a.Cache, a.Bus, a.Notifier, identity.LocalProviderConfig{
		Secret:    cfg.JWT.Secret,
		Issuer:    cfg.JWT.Issuer,
		TokenTTL:  cfg.JWT.TokenTTL,
		InviteTTL: cfg.Identity.InviteTTL,
		ResetTTL:  cfg.Identity.ResetTTL,
		SetupURL:  cfg.Identity.SetupURL,
	}, log)
	a.Verifier = a.Provider
	if cfg.JWT.JWKSURL != "" {
		jwks, err := identity.NewJWKSVerifier(cfg.JWT.JWKSURL, cfg.JWT.Issuer, cfg.Identity.JWKSRefresh, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load jwks: %w", err)
		}
		a.Verifier = jwks
		a.closers = append(a.closers, func() error { jwks.Close(); return nil })
	}

	a.Directory = services.NewUserDirectory(services.UserDirectoryDeps{
		Users:    userRepo,
		Tenants:  tenantRepo,
		Identity: a.Provider,
		Log:      log,
	})
	registryDeps := services.TenantRegistryDeps{
		Tenants:  tenantRepo,
		Users:    userRepo,
		Events:   repositories.NewEventRepo(pool),
		Tx:       repositories.NewTxManager(pool),
		Identity: a.Provider,
		Log:      log,
	}
	if a.Storage != nil {
		registryDeps.Storage = a.Storage
	}
	a.Tenants = services.NewTenantRegistry(registryDeps)
	return a, nil
}

// NewSession builds a session manager bound to the wired core.
func (a *App) NewSession(followEvents bool) *services.SessionManager {
	return services.NewSessionManager(services.SessionManagerDeps{
		Identity:  a.Provider,
		Directory: a.Directory,
		Users:     a.Directory,
		Tenants:   a.Tenants,
		Metrics:   a.Metrics,
		Log:       a.Log,
	}, services.SessionManagerConfig{
		ResolveTimeout: a.Config.Session.ResolveTimeout,
		FollowEvents:   followEvents,
	})
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
