package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gps-relay/internal/codec"
	"gps-relay/internal/config"
	"gps-relay/internal/dispatcher"
	"gps-relay/internal/envelope"
	"gps-relay/internal/observability"
	"gps-relay/internal/pipeline"
)

// Ingester stores the fixes of a Fix or Batch envelope.
type Ingester interface {
	Ingest(ctx context.Context, env envelope.Envelope) (pipeline.Result, error)
}

// Ack error codes sent back to peers.
const (
	ackDecode  = "decode"
	ackInvalid = "invalid"
	ackRole    = "role"
	ackStore   = "store"
)

const readBufferSize = 2048

type TCPServer struct {
	cfg     config.RelayConfig
	mailbox *dispatcher.Mailbox
	ingest  Ingester
	log     zerolog.Logger

	mu    sync.Mutex
	conns map[*Connection]struct{}
	wg    sync.WaitGroup
}

func New(cfg config.RelayConfig, mailbox *dispatcher.Mailbox, ingest Ingester, logger zerolog.Logger) *TCPServer {
	return &TCPServer{
		cfg:     cfg,
		mailbox: mailbox,
		ingest:  ingest,
		log:     logger.With().Str("component", "tcp").Logger(),
		conns:   make(map[*Connection]struct{}),
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled. A bind
// failure is returned immediately.
func (s *TCPServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error starting TCP server: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// open connection and waits for their handlers.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("TCP server listening")

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeAll()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.closeAll()
				s.wg.Wait()
				s.log.Info().Msg("TCP server stopped")
				return nil
			}
			s.log.Error().Err(err).Msg("accept error")
			continue
		}

		c := s.track(conn)
		if c == nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, c)
		}()
	}
}

func (s *TCPServer) track(conn net.Conn) *Connection {
	c := newConnection(conn, s.cfg.WriteTimeout, s.log)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		_ = conn.Close()
		return nil
	}
	s.conns[c] = struct{}{}
	return c
}

func (s *TCPServer) untrack(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *TCPServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.conn.Close()
	}
	s.conns = nil
}

func (s *TCPServer) handleConnection(ctx context.Context, c *Connection) {
	observability.TCPConnections.Inc()
	observability.ActiveConnections.Inc()
	defer func() {
		s.mailbox.Detach(c)
		_ = c.conn.Close()
		s.untrack(c)
		observability.ActiveConnections.Dec()
		c.log.Info().Str("role", c.role.String()).Msg("connection closed")
	}()

	if tcpConn, ok := c.conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(60 * time.Second)
	}
	c.log.Info().Msg("connection accepted")

	buffer := make([]byte, readBufferSize)
	var pending []byte
	for {
		s.armFrameDeadline(c, len(pending) > 0)

		n, err := c.conn.Read(buffer)
		if n > 0 {
			c.log.Trace().Hex("raw", buffer[:n]).Msg("read")
			pending = append(pending, buffer[:n]...)
			pending = s.drain(ctx, c, pending)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if len(pending) > 0 {
					observability.DecodeErrors.Inc()
					c.log.Warn().Int("bytes", len(pending)).Msg("partial item timed out, dropped")
					s.reject(c, ackDecode)
					pending = nil
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Warn().Err(err).Msg("read error")
			return
		}
	}
}

// armFrameDeadline bounds the wait for the rest of a partial item. Idle
// connections with nothing buffered have no read deadline.
func (s *TCPServer) armFrameDeadline(c *Connection, partial bool) {
	if s.cfg.FrameTimeout <= 0 {
		return
	}
	var deadline time.Time
	if partial {
		deadline = time.Now().Add(s.cfg.FrameTimeout)
	}
	_ = c.conn.SetReadDeadline(deadline)
}

// drain handles every complete item at the front of buf and returns the
// unconsumed tail.
func (s *TCPServer) drain(ctx context.Context, c *Connection, buf []byte) []byte {
	for len(buf) > 0 {
		v, rest, err := codec.DecodeFirst(buf)
		switch {
		case errors.Is(err, codec.ErrIncomplete):
			if len(buf) > s.cfg.MaxFrameBytes {
				observability.DecodeErrors.Inc()
				c.log.Warn().Int("bytes", len(buf)).Msg("partial item exceeds frame limit, dropped")
				s.reject(c, ackDecode)
				return nil
			}
			return buf
		case err != nil:
			observability.DecodeErrors.Inc()
			c.log.Warn().Err(err).Int("dropped", len(buf)-len(rest)).Msg("decode error")
			s.reject(c, ackDecode)
		default:
			s.handleItem(ctx, c, v)
		}
		buf = rest
	}
	return nil
}

func (s *TCPServer) handleItem(ctx context.Context, c *Connection, v any) {
	env := envelope.Classify(v)
	observability.Envelopes.WithLabelValues(env.Kind.String()).Inc()

	switch env.Kind {
	case envelope.KindCommand:
		s.handleCommand(c, env)
	case envelope.KindFix, envelope.KindBatch:
		s.handleFixes(ctx, c, env)
	default:
		c.log.Warn().Err(env.Err).Msg("item rejected")
		s.reject(c, ackInvalid)
	}
}

func (s *TCPServer) handleCommand(c *Connection, env envelope.Envelope) {
	switch c.role {
	case RoleDevice:
		c.log.Warn().Msg("command from device connection ignored")
		s.reject(c, ackRole)
		return
	case RoleUnclassified:
		c.classify(RoleControl)
	}

	delivered := s.mailbox.SetPending(env.Command)
	s.reply(c, map[string]any{"ok": true, "queued": true, "delivered": delivered})
}

func (s *TCPServer) handleFixes(ctx context.Context, c *Connection, env envelope.Envelope) {
	switch c.role {
	case RoleControl:
		c.log.Warn().Str("kind", env.Kind.String()).Msg("fixes from control connection ignored")
		s.reject(c, ackRole)
		return
	case RoleUnclassified:
		c.classify(RoleDevice)
		if env.Kind == envelope.KindFix {
			// The pending command reaches the device before its data is stored.
			s.mailbox.Attach(c)
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	res, err := s.ingest.Ingest(storeCtx, env)
	cancel()
	if err != nil {
		c.log.Error().Err(err).Str("kind", env.Kind.String()).Int("fixes", len(env.Fixes)).Msg("ingest failed")
		s.reject(c, ackStore)
		return
	}
	s.reply(c, map[string]any{"ok": true, "saved": res.Saved})
}

func (s *TCPServer) reject(c *Connection, reason string) {
	observability.Rejects.WithLabelValues(reason).Inc()
	s.reply(c, map[string]any{"ok": false, "error": reason})
}

func (s *TCPServer) reply(c *Connection, ack map[string]any) {
	if !s.cfg.AckEnabled {
		return
	}
	frame, err := codec.Encode(ack)
	if err != nil {
		c.log.Error().Err(err).Msg("ack encode failed")
		return
	}
	if err := c.Send(frame); err != nil {
		c.log.Warn().Err(err).Msg("ack write failed")
	}
}
