package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"gps-relay/internal/models"
)

// MemoryCollection keeps documents in insertion order. Fail, when set, is
// returned by every insert without storing anything.
type MemoryCollection[T any] struct {
	mu    sync.Mutex
	docs  []T
	ids   []string
	calls int
	Fail  error
}

func (c *MemoryCollection[T]) InsertOne(_ context.Context, doc T) (InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.Fail != nil {
		return InsertOneResult{}, c.Fail
	}
	id := uuid.NewString()
	c.docs = append(c.docs, doc)
	c.ids = append(c.ids, id)
	return InsertOneResult{InsertedID: id}, nil
}

func (c *MemoryCollection[T]) InsertMany(_ context.Context, docs []T) (InsertManyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if len(docs) == 0 {
		return InsertManyResult{}, ErrEmptyInsert
	}
	if c.Fail != nil {
		return InsertManyResult{}, c.Fail
	}
	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = uuid.NewString()
	}
	c.docs = append(c.docs, docs...)
	c.ids = append(c.ids, ids...)
	return InsertManyResult{InsertedIDs: ids}, nil
}

// All returns a copy of the stored documents.
func (c *MemoryCollection[T]) All() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.docs))
	copy(out, c.docs)
	return out
}

// Calls counts insert calls, failed ones included.
func (c *MemoryCollection[T]) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type Memory struct {
	FixDocs *MemoryCollection[models.LocationRecord]
	GeoDocs *MemoryCollection[models.GeoProjection]
}

func NewMemory() *Memory {
	return &Memory{
		FixDocs: &MemoryCollection[models.LocationRecord]{},
		GeoDocs: &MemoryCollection[models.GeoProjection]{},
	}
}

func (m *Memory) Fixes() Collection[models.LocationRecord] { return m.FixDocs }
func (m *Memory) Geo() Collection[models.GeoProjection]    { return m.GeoDocs }
func (m *Memory) Ping(context.Context) error                { return nil }
func (m *Memory) Close(context.Context) error               { return nil }
