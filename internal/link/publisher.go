// Package link forwards stored fixes to downstream consumers over NATS.
package link

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"gps-relay/internal/models"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher emits one message per stored fix on <prefix>.<device>.fix.
type Publisher struct {
	conn   Conn
	prefix string
	log    zerolog.Logger
}

// fixEvent is the wire form of a fix on the bus.
type fixEvent struct {
	DeviceID   string    `json:"imei"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	ReceivedAt time.Time `json:"dt"`
}

func NewPublisher(conn Conn, prefix string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		log:    logger.With().Str("component", "link").Logger(),
	}
}

// Connect dials NATS with endless reconnects; the relay keeps running while
// the bus is down.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	lg := logger.With().Str("component", "link").Logger()
	nc, err := nats.Connect(url,
		nats.Name("gps-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			lg.Warn().Err(err).Msg("link: disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			lg.Info().Str("url", c.ConnectedUrl()).Msg("link: reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	lg.Info().Str("url", nc.ConnectedUrl()).Msg("link: connected")
	return nc, nil
}

// Subject returns the subject for deviceID. NATS token separators and
// wildcards in the id are replaced.
func (p *Publisher) Subject(deviceID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, deviceID)
	return p.prefix + "." + token + ".fix"
}

// Publish sends every record and returns the first error after trying all.
func (p *Publisher) Publish(records []models.LocationRecord) error {
	var firstErr error
	for _, r := range records {
		data, err := json.Marshal(fixEvent{
			DeviceID:   r.DeviceID,
			Latitude:   r.Latitude,
			Longitude:  r.Longitude,
			ReceivedAt: r.CreatedAt,
		})
		if err == nil {
			err = p.conn.Publish(p.Subject(r.DeviceID), data)
		}
		if err != nil {
			p.log.Warn().Err(err).Str("imei", r.DeviceID).Msg("link: publish fix failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("publish fix %s: %w", r.DeviceID, err)
			}
		}
	}
	return firstErr
}
