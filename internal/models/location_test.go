package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectPutsLongitudeFirst(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	rec := NewLocationRecord("Volvic", 45.55, 3.09, now)

	geo := rec.Project()

	assert.Equal(t, "Point", geo.Position.Type)
	assert.Equal(t, [2]float64{3.09, 45.55}, geo.Position.Coordinates)
	assert.Equal(t, 3.09, geo.Longitude())
	assert.Equal(t, 45.55, geo.Latitude())
	assert.Equal(t, "Volvic", geo.DeviceID)
	assert.Equal(t, now, geo.ReceivedAt)
}

func TestLocationRecordTimestamps(t *testing.T) {
	now := time.Now()
	rec := NewLocationRecord("A", 1, 2, now)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
}

func TestDocumentKeys(t *testing.T) {
	rec := NewLocationRecord("356307042441013", 48.85, 2.35, time.Unix(0, 0).UTC())

	flat, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"imei": "356307042441013",
		"latitude": 48.85,
		"longitude": 2.35,
		"createdAt": "1970-01-01T00:00:00Z",
		"updatedAt": "1970-01-01T00:00:00Z"
	}`, string(flat))

	geo, err := json.Marshal(rec.Project())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "356307042441013",
		"position": {"type": "Point", "coordinates": [2.35, 48.85]},
		"receivedAt": "1970-01-01T00:00:00Z"
	}`, string(geo))
}
