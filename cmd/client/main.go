// Command client sends a fix, a batch or a command to a relay and prints
// every frame the relay writes back.
package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"

	"gps-relay/internal/codec"
)

func main() {
	addr := pflag.String("addr", "localhost:4000", "relay address")
	mode := pflag.String("mode", "fix", "what to send: fix, batch or command")
	name := pflag.String("name", "demo-device", "device name for fixes")
	lat := pflag.Float64("lat", 45.55, "latitude")
	lon := pflag.Float64("lon", 3.09, "longitude")
	wait := pflag.Duration("wait", 2*time.Second, "how long to wait for replies")
	pflag.Parse()

	payload, err := buildPayload(*mode, *name, *lat, *lon)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := send(*addr, payload, *wait); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildPayload(mode, name string, lat, lon float64) (any, error) {
	switch mode {
	case "fix":
		return position(name, lat, lon), nil
	case "batch":
		return []any{
			position(name, lat, lon),
			position(name+"-2", 48.85, 2.35),
		}, nil
	case "command":
		return map[string]any{"start": true, "sentAt": time.Now().UTC()}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func position(name string, lat, lon float64) map[string]any {
	return map[string]any{
		"name":     name,
		"position": map[string]any{"latitude": lat, "longitude": lon},
	}
}

func send(addr string, payload any, wait time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Printf("sent %v\n", payload)

	_ = conn.SetReadDeadline(time.Now().Add(wait))
	dec := codec.NewDecoder(conn)
	for {
		var v any
		if err := dec.Decode(&v); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("recv %v\n", v)
	}
}
