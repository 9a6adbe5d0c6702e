package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/photo-drop/internal/drops"
	"github.com/sells-group/photo-drop/internal/geoindex"
	"github.com/sells-group/photo-drop/internal/imagestore"
	"github.com/sells-group/photo-drop/internal/store"
)

// appEnv holds the shared stores and services built from config.
type appEnv struct {
	Store  store.Store
	Index  *geoindex.Index
	Images *imagestore.Images
	Drops  *drops.Service
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "photodrop.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "redis":
		return store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv opens the store, applies migrations and wires the services.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	index := geoindex.New(st, geoindex.Options{
		Precision:   cfg.GeoIndex.Precision,
		MaxCells:    cfg.GeoIndex.MaxCells,
		ScanTimeout: cfg.GeoIndex.ScanTimeout,
	})
	images := imagestore.New(st, imagestore.Options{
		CacheEntries:  cfg.ImageStore.CacheEntries,
		CacheTTL:      cfg.ImageStore.CacheTTL,
		RetryAttempts: cfg.Proximity.RetryAttempts,
	})

	zap.L().Debug("environment ready", zap.String("driver", cfg.Store.Driver))
	return &appEnv{
		Store:  st,
		Index:  index,
		Images: images,
		Drops:  drops.New(images, index),
	}, nil
}

func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}
