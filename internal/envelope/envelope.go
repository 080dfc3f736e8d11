// Package envelope tags decoded CBOR values as commands, location fixes,
// fix batches or invalid input.
package envelope

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrRejected marks a value that decoded fine but matches no envelope shape.
var ErrRejected = errors.New("envelope: rejected")

type Kind int

const (
	KindInvalid Kind = iota
	KindCommand
	KindFix
	KindBatch
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindFix:
		return "fix"
	case KindBatch:
		return "batch"
	default:
		return "invalid"
	}
}

// Fix is one location report.
type Fix struct {
	DeviceID  string
	Latitude  float64
	Longitude float64
}

// Envelope is the classified form of one decoded item. Command is set for
// KindCommand, Fixes holds one element for KindFix and every element for
// KindBatch, Err explains a KindInvalid result.
type Envelope struct {
	Kind    Kind
	Command map[string]any
	Fixes   []Fix
	Err     error
}

// Invalid builds a rejected envelope wrapping cause.
func Invalid(cause error) Envelope {
	return Envelope{Kind: KindInvalid, Err: cause}
}

// Identity keys in lookup order; devices send "name".
var identityKeys = []string{"name", "imei", "deviceId"}

var (
	latitudeKeys  = []string{"latitude", "lat"}
	longitudeKeys = []string{"longitude", "lon", "lng"}
)

// Classify applies the rules in priority order: command, batch, fix.
func Classify(v any) Envelope {
	switch val := v.(type) {
	case map[string]any:
		if start, ok := val["start"].(bool); ok && start {
			return Envelope{Kind: KindCommand, Command: val}
		}
		fix, err := parseFix(val)
		if err != nil {
			return Invalid(err)
		}
		return Envelope{Kind: KindFix, Fixes: []Fix{fix}}

	case []any:
		if len(val) == 0 {
			return Invalid(fmt.Errorf("%w: empty batch", ErrRejected))
		}
		fixes := make([]Fix, 0, len(val))
		for i, item := range val {
			m, ok := item.(map[string]any)
			if !ok {
				return Invalid(fmt.Errorf("%w: batch item %d is %T", ErrRejected, i, item))
			}
			fix, err := parseFix(m)
			if err != nil {
				return Invalid(fmt.Errorf("batch item %d: %w", i, err))
			}
			fixes = append(fixes, fix)
		}
		return Envelope{Kind: KindBatch, Fixes: fixes}

	default:
		return Invalid(fmt.Errorf("%w: unexpected %T", ErrRejected, v))
	}
}

func parseFix(m map[string]any) (Fix, error) {
	id, ok := identity(m)
	if !ok {
		return Fix{}, fmt.Errorf("%w: missing identity", ErrRejected)
	}

	pos, ok := m["position"].(map[string]any)
	if !ok {
		return Fix{}, fmt.Errorf("%w: missing position", ErrRejected)
	}

	lat, err := coordinate(pos, latitudeKeys)
	if err != nil {
		return Fix{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := coordinate(pos, longitudeKeys)
	if err != nil {
		return Fix{}, fmt.Errorf("longitude: %w", err)
	}

	return Fix{DeviceID: id, Latitude: lat, Longitude: lon}, nil
}

func identity(m map[string]any) (string, bool) {
	for _, key := range identityKeys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func coordinate(pos map[string]any, keys []string) (float64, error) {
	for _, key := range keys {
		raw, ok := pos[key]
		if !ok {
			continue
		}
		f, err := ParseCoordinate(raw)
		if err != nil {
			return 0, err
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: missing", ErrRejected)
}

// ParseCoordinate accepts any CBOR number or a numeric string. NaN and
// infinities are rejected.
func ParseCoordinate(raw any) (float64, error) {
	var f float64
	switch n := raw.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrRejected, n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrRejected, raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: not a finite number", ErrRejected)
	}
	return f, nil
}
