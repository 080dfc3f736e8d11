package pipeline

import (
	"time"

	"gps-relay/internal/envelope"
	"gps-relay/internal/models"
)

// BuildRecords turns fixes into LocationRecords stamped with now, keeping order.
func BuildRecords(fixes []envelope.Fix, now time.Time) []models.LocationRecord {
	out := make([]models.LocationRecord, len(fixes))
	for i, f := range fixes {
		out[i] = models.NewLocationRecord(f.DeviceID, f.Latitude, f.Longitude, now)
	}
	return out
}

// BuildProjections derives one GeoProjection per record, in the same order.
func BuildProjections(records []models.LocationRecord) []models.GeoProjection {
	out := make([]models.GeoProjection, len(records))
	for i, r := range records {
		out[i] = r.Project()
	}
	return out
}
