package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"gps-relay/internal/config"
	"gps-relay/internal/models"
)

// Postgres keeps each collection as a table of JSONB documents, so the
// records have the same shape as in the document store.
type Postgres struct {
	pool  *pgxpool.Pool
	fixes *pgCollection[models.LocationRecord]
	geo   *pgCollection[models.GeoProjection]
}

const createCollectionSQL = `CREATE TABLE IF NOT EXISTS %s (
	id          UUID PRIMARY KEY,
	doc         JSONB NOT NULL,
	inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

func OpenPostgres(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	p := &Postgres{
		pool:  pool,
		fixes: &pgCollection[models.LocationRecord]{pool: pool, table: pgx.Identifier{cfg.FixCollection}.Sanitize()},
		geo:   &pgCollection[models.GeoProjection]{pool: pool, table: pgx.Identifier{cfg.GeoCollection}.Sanitize()},
	}

	for _, table := range []string{p.fixes.table, p.geo.table} {
		if _, err := pool.Exec(ctx, fmt.Sprintf(createCollectionSQL, table)); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres create %s: %w", table, err)
		}
	}

	logger.Info().
		Str("fix_table", cfg.FixCollection).
		Str("geo_table", cfg.GeoCollection).
		Msg("store: connected to PostgreSQL")

	return p, nil
}

func (p *Postgres) Fixes() Collection[models.LocationRecord] { return p.fixes }
func (p *Postgres) Geo() Collection[models.GeoProjection]    { return p.geo }
func (p *Postgres) Ping(ctx context.Context) error           { return p.pool.Ping(ctx) }

func (p *Postgres) Close(context.Context) error {
	p.pool.Close()
	return nil
}

type pgCollection[T any] struct {
	pool  *pgxpool.Pool
	table string
}

func (c *pgCollection[T]) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (id, doc) VALUES ($1, $2)", c.table)
}

func (c *pgCollection[T]) InsertOne(ctx context.Context, doc T) (InsertOneResult, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return InsertOneResult{}, fmt.Errorf("encode document: %w", err)
	}
	id := uuid.New()
	if _, err := c.pool.Exec(ctx, c.insertSQL(), id, body); err != nil {
		return InsertOneResult{}, fmt.Errorf("postgres insert into %s: %w", c.table, err)
	}
	return InsertOneResult{InsertedID: id.String()}, nil
}

// InsertMany queues every row in one batch inside a transaction: either all
// documents are stored or none.
func (c *pgCollection[T]) InsertMany(ctx context.Context, docs []T) (InsertManyResult, error) {
	if len(docs) == 0 {
		return InsertManyResult{}, ErrEmptyInsert
	}

	batch := &pgx.Batch{}
	ids := make([]string, len(docs))
	query := c.insertSQL()
	for i, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return InsertManyResult{}, fmt.Errorf("encode document %d: %w", i, err)
		}
		id := uuid.New()
		ids[i] = id.String()
		batch.Queue(query, id, body)
	}

	err := pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return InsertManyResult{}, fmt.Errorf("postgres insert %d into %s: %w", len(docs), c.table, err)
	}
	return InsertManyResult{InsertedIDs: ids}, nil
}
