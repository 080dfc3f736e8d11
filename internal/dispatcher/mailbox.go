package dispatcher

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gps-relay/internal/codec"
	"gps-relay/internal/observability"
)

// ErrDelivery marks a command that could not be written to a device.
var ErrDelivery = errors.New("dispatcher: delivery failed")

// Target is a device connection able to receive relayed commands.
type Target interface {
	ID() string
	Send(frame []byte) error
}

type Command struct {
	Payload  map[string]any
	QueuedAt time.Time
}

// Mailbox holds at most one command for the current device target.
// A newer command replaces an undelivered one. One Mailbox is shared by
// every connection of a server.
type Mailbox struct {
	mu      sync.Mutex
	pending *Command
	target  Target
	log     zerolog.Logger
	now     func() time.Time
}

func NewMailbox(logger zerolog.Logger) *Mailbox {
	return &Mailbox{
		log: logger.With().Str("component", "mailbox").Logger(),
		now: time.Now,
	}
}

// SetPending stores payload, replacing any pending command, and flushes it
// to the attached target if there is one. It reports whether the command
// was delivered.
func (m *Mailbox) SetPending(payload map[string]any) bool {
	m.mu.Lock()
	if m.pending != nil {
		observability.CommandsReplaced.Inc()
		m.log.Info().Time("queued_at", m.pending.QueuedAt).Msg("pending command replaced")
	}
	cmd := &Command{Payload: payload, QueuedAt: m.now()}
	m.pending = cmd
	target := m.target
	observability.CommandsQueued.Inc()
	observability.PendingCommand.Set(1)
	m.mu.Unlock()

	if target == nil {
		m.log.Info().Msg("no device connected, command pending")
		return false
	}
	return m.deliver(cmd, target) == nil
}

// TryFlush writes the pending command to t. It returns false when nothing
// is pending or the write failed; a failed command stays pending.
func (m *Mailbox) TryFlush(t Target) bool {
	m.mu.Lock()
	cmd := m.pending
	m.mu.Unlock()

	if cmd == nil {
		return false
	}
	return m.deliver(cmd, t) == nil
}

// Attach makes t the delivery target, replacing any previous one, and
// flushes the pending command to it.
func (m *Mailbox) Attach(t Target) bool {
	m.mu.Lock()
	if m.target != nil && m.target != t {
		m.log.Info().Str("previous", m.target.ID()).Str("conn", t.ID()).Msg("device target replaced")
	}
	m.target = t
	cmd := m.pending
	m.mu.Unlock()

	if cmd == nil {
		return false
	}
	return m.deliver(cmd, t) == nil
}

// Detach forgets t if it is the current target.
func (m *Mailbox) Detach(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.target == t {
		m.target = nil
	}
}

func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Mailbox) Pending() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Command{}, false
	}
	return *m.pending, true
}

// Target returns the current delivery target, nil when none is attached.
func (m *Mailbox) Target() Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

func (m *Mailbox) clearLocked() {
	m.pending = nil
	observability.PendingCommand.Set(0)
}

// deliver writes cmd to t without holding the mailbox lock, so a slow
// device only blocks its own caller. cmd is cleared only if it is still the
// pending command once the write returns.
func (m *Mailbox) deliver(cmd *Command, t Target) error {
	frame, err := codec.Encode(cmd.Payload)
	if err != nil {
		observability.DeliveryErrors.Inc()
		m.log.Error().Err(err).Str("conn", t.ID()).Msg("command encode failed")
		return fmt.Errorf("%w: encode: %v", ErrDelivery, err)
	}

	if err := t.Send(frame); err != nil {
		observability.DeliveryErrors.Inc()
		m.log.Error().Err(err).Str("conn", t.ID()).Msg("command send failed, kept pending")
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	m.mu.Lock()
	if m.pending == cmd {
		m.clearLocked()
	}
	m.mu.Unlock()

	observability.CommandsDelivered.Inc()
	m.log.Info().
		Str("conn", t.ID()).
		Dur("waited", m.now().Sub(cmd.QueuedAt)).
		Int("bytes", len(frame)).
		Msg("command sent")
	return nil
}
