package di

import (
	"context"
	"fmt"
	"time"

	"music-stream/backend/internal/presence"
	"music-stream/backend/internal/service"
	"music-stream/backend/internal/ws"
	"music-stream/backend/pkg/cache"
	"music-stream/backend/pkg/config"
	"music-stream/backend/pkg/health"
	"music-stream/backend/pkg/jwt"
	"music-stream/backend/pkg/logger"
	"music-stream/backend/pkg/resilience"
	"music-stream/backend/pkg/secrets"
	"music-stream/backend/shared/redis"

	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const meterName = "music-stream/realtime"

// Container holds all the dependencies for the application
type Container struct {
	Config         *config.Config
	DB             *gorm.DB
	Logger         *logger.Logger
	Secrets        *secrets.VaultManager
	JWTService     *jwt.Service
	Redis          *redis.RedisClient
	LocalCache     *cache.Cache
	UserService    *service.UserService
	MessageService *service.MessageService
	MessageStore   *service.MessageStoreAdapter
	Presence       *presence.Registry
	Hub            *ws.Hub
	Health         *health.Checker
}

// New wires every component from cfg. When db is nil a PostgreSQL
// connection is opened with the password resolved through the secrets
// manager.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, db *gorm.DB) (*Container, error) {
	if log == nil {
		log = logger.GetGlobal()
	}

	secretManager, err := secrets.NewVaultManager(secrets.VaultConfig{
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		SecretsPath: cfg.Vault.SecretsPath,
		Enabled:     cfg.Vault.Enabled,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}

	if db == nil {
		password := secretManager.GetSecretWithDefault(ctx, secrets.KeyDBPassword, cfg.Database.Password)
		db, err = config.NewDB(cfg, password)
		if err != nil {
			secretManager.Close()
			return nil, err
		}
	}

	c := &Container{
		Config:  cfg,
		DB:      db,
		Logger:  log,
		Secrets: secretManager,
	}

	jwtSecret := secretManager.GetSecretWithDefault(ctx, secrets.KeyJWTSecret, cfg.JWT.Secret)
	c.JWTService = jwt.NewService(jwtSecret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	var profileCache service.Cache
	if cfg.Redis.URL != "" {
		c.Redis, err = redis.NewRedisClient(redis.Options{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		profileCache = c.Redis
	} else {
		c.LocalCache = cache.NewCache(cfg.Cache.TTL, cfg.Cache.PurgeWindow, cfg.Cache.MaxSize)
		profileCache = c.LocalCache
	}

	c.UserService = service.NewUserService(db, profileCache, cfg.Cache.TTL, log)
	c.MessageService = service.NewMessageService(db)

	breakerCfg := resilience.DefaultCircuitBreakerConfig("message-store")
	if cfg.Breaker.Failures > 0 {
		breakerCfg.FailureThreshold = cfg.Breaker.Failures
	}
	if cfg.Breaker.RetryTimeout > 0 {
		breakerCfg.RetryTimeout = cfg.Breaker.RetryTimeout
	}
	breaker := resilience.NewCircuitBreaker(breakerCfg, log)
	c.MessageStore = service.NewMessageStoreAdapter(c.MessageService, breaker)

	c.Presence = presence.NewRegistry()
	c.Hub = ws.NewHub(c.Presence, c.MessageStore, c.JWTService, log, ws.Options{
		RequireAuth:    cfg.Realtime.RequireAuth,
		AllowedOrigins: cfg.Security.AllowedOrigins,
		StoreTimeout:   cfg.Realtime.StoreTimeout,
		EventRate:      rate.Limit(cfg.Realtime.EventRate),
		EventBurst:     cfg.Realtime.EventBurst,
		SendBuffer:     cfg.Realtime.SendBuffer,
		MaxMessageSize: cfg.Realtime.MaxFrameBytes,
		Meter:          otel.GetMeterProvider().Meter(meterName),
	})

	c.Health = health.NewChecker(log, 30*time.Second)
	c.Health.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	if c.Redis != nil {
		c.Health.RegisterRedisCheck(c.Redis.Ping)
	}
	c.Health.RegisterBreakerCheck(breaker)
	c.Health.RegisterRealtimeCheck(c.Hub)

	return c, nil
}

// Close releases the cache, secrets and database resources
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.LogError(err, "failed to close redis client")
		}
	}
	if c.LocalCache != nil {
		c.LocalCache.Close()
	}
	if c.Secrets != nil {
		c.Secrets.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
