package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/auth"
	"github.com/xenking/paygate/internal/domain/order"
	"github.com/xenking/paygate/internal/storage/memory"
	"github.com/xenking/paygate/internal/storage/postgres"
	"github.com/xenking/paygate/internal/storage/redis"
)

// Backend is the selected order store with its optional key repository
// and health probe.
type Backend struct {
	Store order.Store
	// APIKeys is set for stores that keep an api_keys table.
	APIKeys *postgres.APIKeyRepository
	// Ping is nil for the in-memory store.
	Ping  func(context.Context) error
	Close func()
}

// OpenBackend connects the store selected by cfg.Driver. Postgres
// migrations are applied on open.
func OpenBackend(ctx context.Context, lg *zap.Logger, cfg StorageConfig) (*Backend, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		lg.Info("Using postgres order store")
		return &Backend{
			Store:   postgres.NewOrderStore(pool),
			APIKeys: postgres.NewAPIKeyRepository(pool),
			Ping:    pool.Ping,
			Close:   pool.Close,
		}, nil
	case DriverRedis:
		rdb, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		s := redis.New(rdb, redis.WithPrefix(cfg.RedisPrefix))
		lg.Info("Using redis order store", zap.String("prefix", cfg.RedisPrefix))
		return &Backend{
			Store: s,
			Ping:  s.Ping,
			Close: func() {
				if err := rdb.Close(); err != nil {
					lg.Warn("Close redis", zap.Error(err))
				}
			},
		}, nil
	default:
		lg.Warn("Using in-memory order store, orders are lost on restart")
		return &Backend{Store: memory.New(), Close: func() {}}, nil
	}
}

// keyRepository combines configured key hashes with the stored ones.
func (b *Backend) keyRepository(hashes []string) auth.Repository {
	static := auth.NewStaticRepository(hashes)
	if b.APIKeys == nil {
		return static
	}
	return auth.Chain{static, b.APIKeys}
}
