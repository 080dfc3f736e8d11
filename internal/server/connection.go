package server

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gps-relay/internal/observability"
)

// Role is fixed by the first valid envelope a connection sends.
type Role int

const (
	RoleUnclassified Role = iota
	RoleControl
	RoleDevice
)

func (r Role) String() string {
	switch r {
	case RoleControl:
		return "control"
	case RoleDevice:
		return "device"
	default:
		return "unclassified"
	}
}

// Connection is one accepted peer. Its role is only touched by its own
// handler goroutine; writes may come from any goroutine.
type Connection struct {
	id   string
	conn net.Conn
	role Role
	log  zerolog.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newConnection(conn net.Conn, writeTimeout time.Duration, logger zerolog.Logger) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		log: logger.With().
			Str("conn", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

func (c *Connection) ID() string { return c.id }

// Send writes frame in full under the write deadline.
func (c *Connection) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write(frame)
	return err
}

func (c *Connection) classify(r Role) {
	c.role = r
	observability.ConnectionRoles.WithLabelValues(r.String()).Inc()
	c.log.Info().Str("role", r.String()).Msg("connection classified")
}
