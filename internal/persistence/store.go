package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/config"
	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/repository"
)

// Store is the opened record store: both partitions behind a router plus
// the backend's change feed.
type Store struct {
	Driver   string
	Router   *repository.Router
	Feed     repository.ChangeFeed
	Postgres *Postgres
	Mongo    *Mongo
}

// OpenStore connects the backend selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	store := &Store{Driver: cfg.Store.Driver}
	var external, internal repository.FeedbackRepository

	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("store driver %q: %w", cfg.Store.Driver, err)
		}
		store.Postgres = pg
		if cfg.Postgres.RunMigrations {
			if err := RunMigrations(ctx, pg.Pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				pg.Close()
				return nil, err
			}
		}
		external = repository.NewPostgresFeedbackRepository(pg.Pool, domain.PartitionExternal)
		internal = repository.NewPostgresFeedbackRepository(pg.Pool, domain.PartitionInternal)
		store.Feed = repository.NewPostgresChangeFeed(pg.Pool, logger)

	case config.StoreDriverMongo:
		m, err := NewMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		store.Mongo = m
		if err := repository.EnsureMongoIndexes(ctx, m.DB); err != nil {
			m.Close(context.Background())
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		external = repository.NewMongoFeedbackRepository(m.DB, domain.PartitionExternal)
		internal = repository.NewMongoFeedbackRepository(m.DB, domain.PartitionInternal)
		store.Feed = repository.NewMongoChangeFeed(m.DB, logger)

	case config.StoreDriverMemory:
		feed := repository.NewMemoryChangeFeed()
		external = repository.NewMemoryRepository(domain.PartitionExternal, feed)
		internal = repository.NewMemoryRepository(domain.PartitionInternal, feed)
		store.Feed = feed
		logger.Warn("using in-memory store; records are lost on exit")

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	router, err := repository.NewRouter(external, internal)
	if err != nil {
		store.Close(context.Background())
		return nil, err
	}
	store.Router = router
	return store, nil
}

// Close releases backend connections.
func (s *Store) Close(ctx context.Context) {
	if s == nil {
		return
	}
	s.Postgres.Close()
	s.Mongo.Close(ctx)
}
