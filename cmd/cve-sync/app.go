package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/cve-sync/pkg/client"
	"github.com/Sternrassler/cve-sync/pkg/config"
	"github.com/Sternrassler/cve-sync/pkg/logging"
	"github.com/Sternrassler/cve-sync/pkg/pagination"
	"github.com/Sternrassler/cve-sync/pkg/ratelimit"
	"github.com/Sternrassler/cve-sync/pkg/store"
	"github.com/Sternrassler/cve-sync/pkg/store/memstore"
	"github.com/Sternrassler/cve-sync/pkg/store/postgres"
	"github.com/Sternrassler/cve-sync/pkg/store/redisstore"
	"github.com/Sternrassler/cve-sync/pkg/store/sqlite"
	"github.com/Sternrassler/cve-sync/pkg/syncer"
)

// app holds the components of one run, built explicitly from the config.
type app struct {
	limiter   *ratelimit.Limiter
	client    *client.Client
	paginator *pagination.Paginator
	store     store.Store
	syncer    *syncer.Syncer
	closers   []func()
}

// Close releases store connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, progress pagination.Progress) (*app, error) {
	a := &app{}

	profile := cfg.RateLimitProfile()
	limiter, err := ratelimit.NewLimiter(profile, logging.NewLogger("ratelimit"))
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	a.limiter = limiter

	nvd, err := client.New(cfg.ClientConfig("cve-sync/"+Version), limiter, logging.NewLogger("client"))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	a.client = nvd

	a.paginator = pagination.NewPaginator(nvd, cfg.PaginationConfig(), logging.NewLogger("paginator"))

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st

	opts := []syncer.Option{}
	if progress != nil {
		opts = append(opts, syncer.WithProgress(progress))
	} else {
		opts = append(opts, syncer.WithProgress(pagination.NewLogProgress(logging.NewLogger("progress"))))
	}
	s, err := syncer.New(cfg.SyncerConfig(), a.paginator, st, logging.NewLogger("syncer"), opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.syncer = s

	cliLog := logging.NewLogger("cli")
	cliLog.Info().
		Bool("api_key", cfg.HasAPIKey()).
		Int("max_calls", profile.MaxCalls).
		Dur("window", profile.Window).
		Str("driver", cfg.Store.Driver).
		Str("checkpoint_backend", cfg.Store.CheckpointBackend).
		Msg("Components ready")

	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var st store.Store

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewDB(ctx, cfg.Store.DSN, int32(cfg.NVD.MaxThreads))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
		st = postgres.NewStore(pool)

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		st = db

	case config.DriverMemory:
		st = memstore.New()

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Store.CheckpointBackend == config.CheckpointRedis {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { rc.Close() })
		if err := rc.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		st = store.Compose(st, redisstore.New(rc))
	}

	return st, nil
}
