package store

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Collection

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"gps-relay/internal/config"
	"gps-relay/internal/models"
)

// ErrEmptyInsert is returned by InsertMany when there is nothing to insert.
var ErrEmptyInsert = errors.New("store: insert of zero documents")

type InsertOneResult struct {
	InsertedID string
}

type InsertManyResult struct {
	InsertedIDs []string
}

// Collection is an append-only set of documents of one type.
// InsertMany is a single call against the backend; implementations must not
// split it into per-document round trips.
type Collection[T any] interface {
	InsertOne(ctx context.Context, doc T) (InsertOneResult, error)
	InsertMany(ctx context.Context, docs []T) (InsertManyResult, error)
}

// Store exposes the two collections the relay writes to.
type Store interface {
	Fixes() Collection[models.LocationRecord]
	Geo() Collection[models.GeoProjection]
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverSurreal:
		return OpenSurreal(ctx, cfg, logger)
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg, logger)
	case config.DriverMemory:
		logger.Warn().Msg("store: using in-memory backend, records are not persisted")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
