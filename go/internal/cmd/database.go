package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/config"
	"github.com/mcdev12/watchparty/go/internal/dbconfig"
	"github.com/mcdev12/watchparty/go/internal/syncstore"
	"github.com/mcdev12/watchparty/go/internal/syncstore/pgstore"
	"github.com/mcdev12/watchparty/go/internal/syncstore/redisstore"
)

// setupStore opens the configured sync store. The returned func releases it.
func setupStore(ctx context.Context, cfg *config.Config) (syncstore.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return setupPostgresStore(ctx, cfg)
	case config.DriverRedis:
		return setupRedisStore(ctx, cfg)
	}
	log.Warn().Msg("using in-memory sync store; rooms are not shared across processes")
	return syncstore.NewMemoryStore(nil), func() {}, nil
}

func setupPostgresStore(ctx context.Context, cfg *config.Config) (syncstore.Store, func(), error) {
	dbCfg := dbconfig.NewConfigFromEnv()
	dsn := dbCfg.DSN()

	if cfg.Store.Migrate {
		if err := pgstore.MigrateUp(dsn); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	poolCfg, err := dbCfg.PoolConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	listenerCfg := pgstore.DefaultListenerConfig()
	listenerCfg.DatabaseURL = dsn
	dispatcher, err := pgstore.NewDispatcher(listenerCfg)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to start change listener: %w", err)
	}
	go func() {
		if err := dispatcher.Start(ctx); err != nil {
			log.Error().Err(err).Msg("change listener stopped")
		}
	}()

	log.Info().
		Str("dsn", dbCfg.Redacted()).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("connected to database")
	return pgstore.New(pool, dispatcher), pool.Close, nil
}

func setupRedisStore(ctx context.Context, cfg *config.Config) (syncstore.Store, func(), error) {
	opts, err := redis.ParseURL(cfg.Store.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("connected to redis")
	return redisstore.New(client, cfg.Store.RedisPrefix), func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close redis client")
		}
	}, nil
}
