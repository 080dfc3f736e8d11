package link

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gps-relay/internal/models"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs    []published
	failFor string
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.failFor != "" && subject == f.failFor {
		return errors.New("nats: connection closed")
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

func TestSubject(t *testing.T) {
	p := NewPublisher(&fakeConn{}, "gps.", zerolog.Nop())

	assert.Equal(t, "gps.356307042441013.fix", p.Subject("356307042441013"))
	assert.Equal(t, "gps.a_b_c_d.fix", p.Subject("a.b*c>d"))
	assert.Equal(t, "gps.Mont_Blanc.fix", p.Subject("Mont Blanc"))
}

func TestPublishOneMessagePerRecord(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "gps", zerolog.Nop())
	now := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)

	err := p.Publish([]models.LocationRecord{
		models.NewLocationRecord("A", 45.55, 3.09, now),
		models.NewLocationRecord("B", 48.85, 2.35, now),
	})
	require.NoError(t, err)
	require.Len(t, conn.msgs, 2)

	assert.Equal(t, "gps.A.fix", conn.msgs[0].subject)
	assert.Equal(t, "gps.B.fix", conn.msgs[1].subject)

	var ev fixEvent
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &ev))
	assert.Equal(t, "A", ev.DeviceID)
	assert.Equal(t, 45.55, ev.Latitude)
	assert.Equal(t, 3.09, ev.Longitude)
	assert.True(t, now.Equal(ev.ReceivedAt))
}

func TestPublishContinuesAfterFailure(t *testing.T) {
	conn := &fakeConn{failFor: "gps.A.fix"}
	p := NewPublisher(conn, "gps", zerolog.Nop())

	err := p.Publish([]models.LocationRecord{
		models.NewLocationRecord("A", 1, 2, time.Now()),
		models.NewLocationRecord("B", 3, 4, time.Now()),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A")
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "gps.B.fix", conn.msgs[0].subject)
}
