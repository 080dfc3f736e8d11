package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gps-relay/internal/envelope"
	"gps-relay/internal/models"
	"gps-relay/internal/observability"
	"gps-relay/internal/store"
)

var (
	// ErrStore wraps any failure returned by the store adapter.
	ErrStore = errors.New("pipeline: store error")
	// ErrNotIngestible is returned for envelopes that carry no fixes.
	ErrNotIngestible = errors.New("pipeline: envelope is not a fix or batch")
)

// PositionCache receives the records of every successful ingest.
type PositionCache interface {
	Update(ctx context.Context, records []models.LocationRecord) error
}

// EventPublisher receives the records of every successful ingest.
type EventPublisher interface {
	Publish(records []models.LocationRecord) error
}

type Result struct {
	Saved int
	IDs   []string
}

type Pipeline struct {
	fixes  store.Collection[models.LocationRecord]
	geo    store.Collection[models.GeoProjection]
	cache  PositionCache
	events EventPublisher
	now    func() time.Time
	log    zerolog.Logger
}

type Option func(*Pipeline)

// WithGeo enables the geospatial projection into c.
func WithGeo(c store.Collection[models.GeoProjection]) Option {
	return func(p *Pipeline) { p.geo = c }
}

func WithCache(c PositionCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

func WithPublisher(e EventPublisher) Option {
	return func(p *Pipeline) { p.events = e }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l.With().Str("component", "pipeline").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(fixes store.Collection[models.LocationRecord], opts ...Option) (*Pipeline, error) {
	if fixes == nil {
		return nil, errors.New("pipeline: fix collection is required")
	}
	p := &Pipeline{
		fixes: fixes,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest stores a Fix with InsertOne or a Batch with a single InsertMany,
// then the matching projections. Store errors are returned wrapped in
// ErrStore and are not retried. Cache and event failures are only logged.
func (p *Pipeline) Ingest(ctx context.Context, env envelope.Envelope) (Result, error) {
	if (env.Kind != envelope.KindFix && env.Kind != envelope.KindBatch) || len(env.Fixes) == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrNotIngestible, env.Kind)
	}
	defer observability.ObserveIngestLatency(time.Now())

	records := BuildRecords(env.Fixes, p.now())

	var res Result
	if env.Kind == envelope.KindFix {
		inserted, err := p.fixes.InsertOne(ctx, records[0])
		if err != nil {
			return Result{}, p.storeFailed("insert fix", err)
		}
		res = Result{Saved: 1, IDs: []string{inserted.InsertedID}}
	} else {
		inserted, err := p.fixes.InsertMany(ctx, records)
		if err != nil {
			return Result{}, p.storeFailed("insert batch", err)
		}
		res = Result{Saved: len(records), IDs: inserted.InsertedIDs}
	}
	observability.RecordsStored.WithLabelValues("fixes").Add(float64(res.Saved))

	if p.geo != nil {
		if err := p.project(ctx, env.Kind, records); err != nil {
			return res, err
		}
	}

	p.notify(ctx, records)

	p.log.Debug().
		Str("kind", env.Kind.String()).
		Int("saved", res.Saved).
		Msg("fixes stored")
	return res, nil
}

func (p *Pipeline) project(ctx context.Context, kind envelope.Kind, records []models.LocationRecord) error {
	geos := BuildProjections(records)
	if kind == envelope.KindFix {
		if _, err := p.geo.InsertOne(ctx, geos[0]); err != nil {
			return p.storeFailed("insert projection", err)
		}
	} else {
		if _, err := p.geo.InsertMany(ctx, geos); err != nil {
			return p.storeFailed("insert projections", err)
		}
	}
	observability.RecordsStored.WithLabelValues("geo").Add(float64(len(geos)))
	return nil
}

func (p *Pipeline) notify(ctx context.Context, records []models.LocationRecord) {
	if p.cache != nil {
		if err := p.cache.Update(ctx, records); err != nil {
			observability.SinkErrors.WithLabelValues("cache").Inc()
			p.log.Warn().Err(err).Msg("position cache update failed")
		}
	}
	if p.events != nil {
		if err := p.events.Publish(records); err != nil {
			observability.SinkErrors.WithLabelValues("events").Inc()
			p.log.Warn().Err(err).Msg("fix publish failed")
		}
	}
}

func (p *Pipeline) storeFailed(op string, err error) error {
	observability.StoreErrors.Inc()
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
