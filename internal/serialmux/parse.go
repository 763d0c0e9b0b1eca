package serialmux

import "strings"

const (
	EventTypeBatch   = "batch"
	EventTypeConfig  = "config"
	EventTypeUnknown = "unknown"
)

// ClassifyPayload returns the event type of one device line. Any JSON
// object carrying "frames" or "frame_num" is a metadata batch; any other
// JSON object is a configuration report.
func ClassifyPayload(payload string) string {
	p := strings.TrimSpace(payload)
	if !strings.HasPrefix(p, "{") {
		return EventTypeUnknown
	}
	if strings.Contains(p, `"frames"`) || strings.Contains(p, `"frame_num"`) {
		return EventTypeBatch
	}
	return EventTypeConfig
}
