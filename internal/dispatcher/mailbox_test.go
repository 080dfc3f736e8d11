package dispatcher

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gps-relay/internal/codec"
)

type fakeTarget struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	fail   error
}

func (f *fakeTarget) ID() string { return f.id }

func (f *fakeTarget) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTarget) received(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, frame := range f.frames {
		v, err := codec.Decode(frame)
		require.NoError(t, err)
		m, ok := v.(map[string]any)
		require.True(t, ok)
		out = append(out, m)
	}
	return out
}

func command(action string) map[string]any {
	return map[string]any{"start": true, "action": action}
}

func TestSetPendingWithoutTargetStaysPending(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())

	delivered := mb.SetPending(command("a"))
	assert.False(t, delivered)

	cmd, ok := mb.Pending()
	require.True(t, ok)
	assert.Equal(t, "a", cmd.Payload["action"])
	assert.False(t, cmd.QueuedAt.IsZero())
}

func TestNewestCommandWins(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())
	mb.SetPending(command("a"))
	mb.SetPending(command("b"))

	device := &fakeTarget{id: "dev"}
	assert.True(t, mb.Attach(device))

	got := device.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0]["action"])

	_, ok := mb.Pending()
	assert.False(t, ok)
}

func TestSetPendingFlushesToAttachedTarget(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())
	device := &fakeTarget{id: "dev"}
	assert.False(t, mb.Attach(device))

	assert.True(t, mb.SetPending(command("reboot")))

	got := device.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, command("reboot"), got[0])

	_, ok := mb.Pending()
	assert.False(t, ok)
}

func TestFailedSendKeepsCommand(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())
	broken := &fakeTarget{id: "broken", fail: errors.New("broken pipe")}
	mb.Attach(broken)

	assert.False(t, mb.SetPending(command("a")))
	_, ok := mb.Pending()
	require.True(t, ok)

	mb.Detach(broken)
	next := &fakeTarget{id: "next"}
	assert.True(t, mb.Attach(next))
	assert.Len(t, next.received(t), 1)
}

func TestLastAttachedTargetWins(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())
	first := &fakeTarget{id: "first"}
	second := &fakeTarget{id: "second"}
	mb.Attach(first)
	mb.Attach(second)

	mb.SetPending(command("a"))

	assert.Empty(t, first.received(t))
	assert.Len(t, second.received(t), 1)
	assert.Equal(t, second, mb.Target())
}

func TestDetachOnlyRemovesCurrentTarget(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())
	old := &fakeTarget{id: "old"}
	current := &fakeTarget{id: "current"}
	mb.Attach(old)
	mb.Attach(current)

	mb.Detach(old)
	assert.Equal(t, current, mb.Target())

	mb.Detach(current)
	assert.Nil(t, mb.Target())

	assert.False(t, mb.SetPending(command("a")))
}

func TestTryFlush(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())
	device := &fakeTarget{id: "dev"}

	assert.False(t, mb.TryFlush(device), "nothing pending")

	mb.SetPending(command("a"))
	assert.True(t, mb.TryFlush(device))
	assert.False(t, mb.TryFlush(device), "already delivered")
	assert.Len(t, device.received(t), 1)
}

func TestClear(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())
	mb.SetPending(command("a"))
	mb.Clear()

	_, ok := mb.Pending()
	assert.False(t, ok)

	device := &fakeTarget{id: "dev"}
	assert.False(t, mb.Attach(device))
	assert.Empty(t, device.received(t))
}

func TestConcurrentSetPendingDeliversEachOnce(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())
	device := &fakeTarget{id: "dev"}
	mb.Attach(device)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mb.SetPending(command("x"))
		}()
	}
	wg.Wait()

	assert.Len(t, device.received(t), 50)
	_, ok := mb.Pending()
	assert.False(t, ok)
}

// blockingTarget holds every Send until release is closed.
type blockingTarget struct {
	fakeTarget
	started chan struct{}
	release chan struct{}
}

func newBlockingTarget(id string) *blockingTarget {
	return &blockingTarget{
		fakeTarget: fakeTarget{id: id},
		started:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
}

func (b *blockingTarget) Send(frame []byte) error {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release
	return b.fakeTarget.Send(frame)
}

func TestSlowDeviceDoesNotBlockMailbox(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())
	mb.SetPending(command("a"))

	slow := newBlockingTarget("slow")
	defer close(slow.release)
	go mb.Attach(slow)

	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("write to slow device never started")
	}

	fast := &fakeTarget{id: "fast"}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := mb.Pending()
		assert.True(t, ok, "command stays pending while the write is in flight")
		assert.True(t, mb.Attach(fast))
		assert.True(t, mb.SetPending(command("b")))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mailbox blocked behind a slow device write")
	}

	got := fast.received(t)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0]["action"])
	assert.Equal(t, "b", got[1]["action"])
	_, ok := mb.Pending()
	assert.False(t, ok)
}

func TestStaleWriteDoesNotClearNewerCommand(t *testing.T) {
	mb := NewMailbox(zerolog.Nop())
	mb.SetPending(command("a"))

	slow := newBlockingTarget("slow")
	attached := make(chan bool, 1)
	go func() { attached <- mb.Attach(slow) }()
	<-slow.started

	// Replace the in-flight command while no target can take it.
	mb.Detach(slow)
	assert.False(t, mb.SetPending(command("b")))

	close(slow.release)
	assert.True(t, <-attached)

	cmd, ok := mb.Pending()
	require.True(t, ok)
	assert.Equal(t, "b", cmd.Payload["action"])
}
