package models

import "time"

// LocationRecord is the flat document stored once per fix. The device id is
// kept under "imei", the key the dashboard API queries on.
type LocationRecord struct {
	DeviceID  string    `json:"imei"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GeoPoint is a GeoJSON point. Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// GeoProjection is the geospatial view of a LocationRecord.
type GeoProjection struct {
	DeviceID   string    `json:"name"`
	Position   GeoPoint  `json:"position"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func NewLocationRecord(deviceID string, lat, lon float64, now time.Time) LocationRecord {
	return LocationRecord{
		DeviceID:  deviceID,
		Latitude:  lat,
		Longitude: lon,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Project derives the GeoProjection for r.
func (r LocationRecord) Project() GeoProjection {
	return GeoProjection{
		DeviceID: r.DeviceID,
		Position: GeoPoint{
			Type:        "Point",
			Coordinates: [2]float64{r.Longitude, r.Latitude},
		},
		ReceivedAt: r.CreatedAt,
	}
}

func (g GeoProjection) Longitude() float64 { return g.Position.Coordinates[0] }
func (g GeoProjection) Latitude() float64  { return g.Position.Coordinates[1] }
