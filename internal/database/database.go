package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnshRaj112/techphono-security/internal/config"
)

// Open builds the key-value store selected by cfg.StoreBackend. The returned
// close function releases the backend's connections.
func Open(cfg *config.Config, logger *slog.Logger) (KeyValueStore, func() error, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("using in-memory store; security state will not survive restart")
		return NewMemoryStore(), func() error { return nil }, nil

	case config.StoreSQLite:
		store, err := OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to sqlite store", "path", cfg.StorePath)
		return store, store.Close, nil

	case config.StoreRedis:
		client, err := ConnectRedis(cfg.RedisURI)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to redis store", "prefix", cfg.KeyPrefix)
		store := NewRedisStore(client, cfg.KeyPrefix)
		return store, store.Close, nil

	case config.StorePostgres:
		db, err := ConnectPostgres(cfg.StoreDatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := InitStoreTables(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("connected to postgres store", "prefix", cfg.KeyPrefix)
		return Namespace(NewPostgresStore(db), cfg.KeyPrefix), db.Close, nil

	case config.StoreMongo:
		client, db, err := ConnectMongo(cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to mongo store", "database", db.Name(), "prefix", cfg.KeyPrefix)
		closeFn := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		}
		return Namespace(NewMongoStore(db), cfg.KeyPrefix), closeFn, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
