// Package store opens the request store selected by the configuration.
package store

import (
	"context"
	"fmt"

	"xrplbridge/bridge"
	"xrplbridge/config"
	"xrplbridge/postgres"
	"xrplbridge/redis"
	"xrplbridge/types"
)

type Store interface {
	bridge.Store
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and checks it answers. Postgres
// migrations are applied when migrate is set.
func Open(ctx context.Context, cfg *config.Configuration, migrate bool) (Store, error) {
	var s Store
	switch cfg.Store.Backend {
	case config.BACKEND_REDIS:
		s = redis.New(redis.NewPool(cfg.Store.RedisHost, cfg.Store.RedisPort))
	case config.BACKEND_POSTGRES:
		pool, err := postgres.Connect(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("can't connect to postgres: %w", err)
		}
		pg := postgres.New(pool)
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("can't migrate postgres: %w", err)
			}
		}
		s = pg
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", types.ErrValidation, cfg.Store.Backend)
	}

	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%s store is unreachable: %w", cfg.Store.Backend, err)
	}
	return s, nil
}
