package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	surrealdb "github.com/surrealdb/surrealdb.go"
	sdbmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"gps-relay/internal/config"
	"gps-relay/internal/models"
)

// Surreal stores fixes as documents in two SurrealDB tables.
type Surreal struct {
	db    *surrealdb.DB
	fixes *surrealCollection[models.LocationRecord, surrealFix]
	geo   *surrealCollection[models.GeoProjection, surrealGeo]
}

// surrealFix mirrors models.LocationRecord with SurrealDB datetimes.
// No omitempty: schemaful tables reject missing fields.
type surrealFix struct {
	IMEI      string                    `json:"imei"`
	Latitude  float64                   `json:"latitude"`
	Longitude float64                   `json:"longitude"`
	CreatedAt *sdbmodels.CustomDateTime `json:"createdAt"`
	UpdatedAt *sdbmodels.CustomDateTime `json:"updatedAt"`
}

// surrealGeo stores the position as a native geometry point so the table
// can carry a geospatial index.
type surrealGeo struct {
	Name       string                    `json:"name"`
	Position   *sdbmodels.GeometryPoint  `json:"position"`
	ReceivedAt *sdbmodels.CustomDateTime `json:"receivedAt"`
}

type insertedRecord struct {
	ID *sdbmodels.RecordID `json:"id"`
}

func toSurrealFix(r models.LocationRecord) surrealFix {
	return surrealFix{
		IMEI:      r.DeviceID,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		CreatedAt: &sdbmodels.CustomDateTime{Time: r.CreatedAt},
		UpdatedAt: &sdbmodels.CustomDateTime{Time: r.UpdatedAt},
	}
}

func toSurrealGeo(g models.GeoProjection) surrealGeo {
	// Named fields: the wire order is [longitude, latitude].
	point := sdbmodels.GeometryPoint{Longitude: g.Longitude(), Latitude: g.Latitude()}
	return surrealGeo{
		Name:       g.DeviceID,
		Position:   &point,
		ReceivedAt: &sdbmodels.CustomDateTime{Time: g.ReceivedAt},
	}
}

func OpenSurreal(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (*Surreal, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.SurrealURL)
	if err != nil {
		return nil, fmt.Errorf("surreal connect %s: %w", cfg.SurrealURL, err)
	}

	if err := db.Use(ctx, cfg.SurrealNamespace, cfg.SurrealDatabase); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("surreal use %s/%s: %w", cfg.SurrealNamespace, cfg.SurrealDatabase, err)
	}

	if cfg.SurrealUser != "" {
		token, err := db.SignIn(ctx, &surrealdb.Auth{
			Username: cfg.SurrealUser,
			Password: cfg.SurrealPass,
		})
		if err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("surreal sign in: %w", err)
		}
		if err := db.Authenticate(ctx, token); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("surreal authenticate: %w", err)
		}
	}

	logger.Info().
		Str("url", cfg.SurrealURL).
		Str("namespace", cfg.SurrealNamespace).
		Str("database", cfg.SurrealDatabase).
		Msg("store: connected to SurrealDB")

	return &Surreal{
		db:    db,
		fixes: &surrealCollection[models.LocationRecord, surrealFix]{db: db, table: cfg.FixCollection, toDoc: toSurrealFix},
		geo:   &surrealCollection[models.GeoProjection, surrealGeo]{db: db, table: cfg.GeoCollection, toDoc: toSurrealGeo},
	}, nil
}

func (s *Surreal) Fixes() Collection[models.LocationRecord] { return s.fixes }
func (s *Surreal) Geo() Collection[models.GeoProjection]    { return s.geo }

func (s *Surreal) Ping(ctx context.Context) error {
	_, err := surrealdb.Query[any](ctx, s.db, "RETURN true", nil)
	return err
}

func (s *Surreal) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

type surrealCollection[T any, D any] struct {
	db    *surrealdb.DB
	table string
	toDoc func(T) D
}

func (c *surrealCollection[T, D]) InsertOne(ctx context.Context, doc T) (InsertOneResult, error) {
	inserted, err := surrealdb.Insert[insertedRecord](ctx, c.db, sdbmodels.Table(c.table), c.toDoc(doc))
	if err != nil {
		return InsertOneResult{}, fmt.Errorf("surreal insert into %s: %w", c.table, err)
	}
	ids := recordIDs(inserted)
	if len(ids) == 0 {
		return InsertOneResult{}, fmt.Errorf("surreal insert into %s: no record returned", c.table)
	}
	return InsertOneResult{InsertedID: ids[0]}, nil
}

// InsertMany sends every document in one INSERT statement.
func (c *surrealCollection[T, D]) InsertMany(ctx context.Context, docs []T) (InsertManyResult, error) {
	if len(docs) == 0 {
		return InsertManyResult{}, ErrEmptyInsert
	}
	data := make([]D, len(docs))
	for i, doc := range docs {
		data[i] = c.toDoc(doc)
	}
	inserted, err := surrealdb.Insert[insertedRecord](ctx, c.db, sdbmodels.Table(c.table), data)
	if err != nil {
		return InsertManyResult{}, fmt.Errorf("surreal insert %d into %s: %w", len(docs), c.table, err)
	}
	return InsertManyResult{InsertedIDs: recordIDs(inserted)}, nil
}

func recordIDs(inserted *[]insertedRecord) []string {
	if inserted == nil {
		return nil
	}
	ids := make([]string, 0, len(*inserted))
	for _, rec := range *inserted {
		if rec.ID == nil {
			continue
		}
		ids = append(ids, fmt.Sprintf("%s:%v", rec.ID.Table, rec.ID.ID))
	}
	return ids
}
