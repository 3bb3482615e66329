package relay

import (
	"context"
	"io"
	"time"

	"PRelay/logger"

	"go.uber.org/zap"
)

// TelemetryEvent is one routed device report handed to the telemetry sinks.
type TelemetryEvent struct {
	DeviceID   string                 `json:"device_id" bson:"device_id"`
	Kind       string                 `json:"kind" bson:"kind"`
	ReceivedAt time.Time              `json:"received_at" bson:"received_at"`
	Fields     map[string]interface{} `json:"fields" bson:"fields"`
}

// TelemetrySink consumes structured telemetry events. Implementations must be
// safe for concurrent use; a failing sink never affects the connection that
// produced the event.
type TelemetrySink interface {
	Publish(ctx context.Context, ev TelemetryEvent) error
}

// MediaSink stores binary payloads pushed by devices and returns the stored
// name.
type MediaSink interface {
	StoreCapture(deviceID string, data []byte, timestamp string) (string, error)
	StoreVideo(camera, timestamp string, r io.Reader) (string, error)
}

// Presence mirrors register/unregister into an external liveness store. Both
// calls are best effort; the connection path never waits on them.
type Presence interface {
	Online(deviceID, addr string)
	Offline(deviceID string)
}

// LogSink writes every event to the process log. Always installed.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, ev TelemetryEvent) error {
	logger.Info("telemetry",
		zap.String("device_id", ev.DeviceID),
		zap.String("kind", ev.Kind),
		zap.Any("fields", ev.Fields),
	)
	return nil
}

// MultiSink fans an event out to every configured sink. A failing sink is
// logged and does not stop the fan-out.
type MultiSink []TelemetrySink

func (m MultiSink) Publish(ctx context.Context, ev TelemetryEvent) error {
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			logger.Errorf("[telemetry] sink %T: %v", s, err)
		}
	}
	return nil
}
