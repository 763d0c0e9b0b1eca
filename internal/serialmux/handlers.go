package serialmux

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"maps"
	"sync"
)

// PacketHandler accepts one encoded metadata batch.
// network.Ingestor implements it.
type PacketHandler interface {
	HandlePacket(payload []byte) error
}

// DeviceState holds the latest configuration values reported by the
// device.
type DeviceState struct {
	mu     sync.Mutex
	values map[string]any
}

// Merge records every key of a JSON object line.
func (d *DeviceState) Merge(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = make(map[string]any)
	}
	maps.Copy(d.values, values)
	return nil
}

// Values returns a copy of the recorded configuration.
func (d *DeviceState) Values() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.values)
}

// HandleEvent routes one line by its event type.
func HandleEvent(h PacketHandler, state *DeviceState, payload string) error {
	switch ClassifyPayload(payload) {
	case EventTypeBatch:
		if err := h.HandlePacket([]byte(payload)); err != nil {
			return fmt.Errorf("failed to handle batch: %w", err)
		}
	case EventTypeConfig:
		if state == nil {
			return nil
		}
		if err := state.Merge(payload); err != nil {
			return fmt.Errorf("failed to handle config response: %w", err)
		}
		log.Printf("Config Line: %+v", payload)
	default:
		log.Printf("unknown event type: %s", payload)
	}
	return nil
}

// Consume subscribes to m and hands every line to HandleEvent until ctx is
// done or m closes the subscription.
func Consume(ctx context.Context, m SerialMuxInterface, h PacketHandler, state *DeviceState) {
	id, c := m.Subscribe()
	defer m.Unsubscribe(id)
	for {
		select {
		case payload, ok := <-c:
			if !ok {
				return
			}
			if err := HandleEvent(h, state, payload); err != nil {
				log.Printf("error handling event: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
