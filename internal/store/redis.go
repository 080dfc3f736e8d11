package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gps-relay/internal/models"
)

// PositionCache keeps the last known position of each device in Redis,
// one hash per device with a TTL.
type PositionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func NewPositionCache(rdb *redis.Client, ttl time.Duration) *PositionCache {
	return &PositionCache{rdb: rdb, ttl: ttl}
}

func positionKey(deviceID string) string {
	return "dev:" + deviceID + ":pos"
}

// Update writes the last record of each device in one pipelined round trip.
// Records are applied in order so the latest one per device wins.
func (c *PositionCache) Update(ctx context.Context, records []models.LocationRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			key := positionKey(r.DeviceID)
			pipe.HSet(ctx, key,
				"lat", strconv.FormatFloat(r.Latitude, 'f', -1, 64),
				"lon", strconv.FormatFloat(r.Longitude, 'f', -1, 64),
				"at", r.CreatedAt.UTC().Format(time.RFC3339Nano),
			)
			if c.ttl > 0 {
				pipe.Expire(ctx, key, c.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis position update: %w", err)
	}
	return nil
}
