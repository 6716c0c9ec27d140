package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/storelink/meli-auth/internal/adapter/cache"
	"github.com/storelink/meli-auth/internal/adapter/meli"
	"github.com/storelink/meli-auth/internal/bootstrap"
	"github.com/storelink/meli-auth/internal/config"
	"github.com/storelink/meli-auth/internal/crypto"
	httptransport "github.com/storelink/meli-auth/internal/http"
	"github.com/storelink/meli-auth/internal/http/handler"
	apimiddleware "github.com/storelink/meli-auth/internal/middleware"
	"github.com/storelink/meli-auth/internal/repository"
	"github.com/storelink/meli-auth/internal/server"
	"github.com/storelink/meli-auth/internal/service"
	"github.com/storelink/meli-auth/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newCipher,
			newTokenRepository,
			newUserRepository,
			newRedisClient,
			newAuthStateStore,
			newMeliClient,
			newRateLimiter,
			newTokenService,
			newTokenHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureSchema, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newCipher(cfg config.Config) (*crypto.Cipher, error) {
	return crypto.NewFromBase64(cfg.TokenEncryptionKey)
}

func newTokenRepository(pool *pgxpool.Pool, cipher *crypto.Cipher, node *snowflake.Node) repository.TokenRepository {
	return repository.NewPostgresTokenRepo(pool, cipher, node)
}

func newUserRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool, node)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newAuthStateStore(client redis.UniversalClient, cfg config.Config) repository.AuthStateStore {
	return cacheadapter.NewRedisStateStore(client, cfg.AuthStateTTL)
}

func newMeliClient(cfg config.Config, logger *zap.Logger) meli.Client {
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	return meli.NewHTTPClient(cfg.MeliBaseURL, httpClient, logger)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newTokenService(
	tokens repository.TokenRepository,
	users repository.UserRepository,
	stateStore repository.AuthStateStore,
	client meli.Client,
	cfg config.Config,
	logger *zap.Logger,
) service.TokenService {
	return service.NewTokenService(tokens, users, stateStore, client, cfg, logger)
}

func newTokenHandler(tokens service.TokenService, cfg config.Config, logger *zap.Logger) *handler.TokenHandler {
	return handler.NewTokenHandler(tokens, cfg, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
