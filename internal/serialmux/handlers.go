package serialmux

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/banshee-data/rssi.locate/internal/monitoring"
	"github.com/banshee-data/rssi.locate/internal/rssi"
)

// Sink receives measurements parsed from scan lines.
type Sink interface {
	Ingest(m rssi.Measurement)
}

// DeviceState holds the latest status values reported by the scanner.
type DeviceState struct {
	mu     sync.Mutex
	values map[string]any
}

// Values returns a copy of the reported status values.
func (d *DeviceState) Values() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]any, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// HandleStatus merges a JSON status line into state.
func HandleStatus(state *DeviceState, payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %v", err)
	}
	state.mu.Lock()
	if state.values == nil {
		state.values = make(map[string]any)
	}
	for k, v := range values {
		state.values[k] = v
	}
	state.mu.Unlock()
	monitoring.Logf("[serialmux] scanner status: %s", payload)
	return nil
}

// HandleEvent routes one scanner line to sink or state.
func HandleEvent(sink Sink, state *DeviceState, payload string, nowMs int64) error {
	switch ClassifyPayload(payload) {
	case EventTypeScan:
		m, err := ParseScanLine(payload, nowMs)
		if err != nil {
			return fmt.Errorf("failed to handle scan line: %w", err)
		}
		sink.Ingest(m)
	case EventTypeStatus:
		if err := HandleStatus(state, payload); err != nil {
			return fmt.Errorf("failed to handle status line: %w", err)
		}
	default:
		monitoring.Debugf("[serialmux] unknown line: %q", payload)
	}
	return nil
}

// Consume subscribes to mux and handles lines until ctx is done or the mux
// closes the subscription.
func Consume(ctx context.Context, mux SerialMuxInterface, sink Sink, state *DeviceState, nowMs func() int64) {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := HandleEvent(sink, state, line, nowMs()); err != nil {
				monitoring.Logf("[serialmux] %v", err)
			}
		}
	}
}
