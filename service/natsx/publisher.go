package natsx

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"PRelay/service/relay"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Publisher fans telemetry events out over core NATS subjects of the form
// relay.telemetry.<device_id>, one event per message, JSON-encoded.
type Publisher struct {
	nc *nats.Conn
}

type Config struct {
	URL  string
	Name string
}

func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url missing")
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.MaxReconnects(-1),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &Publisher{nc: nc}, nil
}

func (p *Publisher) Publish(_ context.Context, ev relay.TelemetryEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode telemetry event")
	}
	subject := "relay.telemetry." + sanitizeToken(ev.DeviceID)
	return errors.Wrap(p.nc.Publish(subject, b), "publish "+subject)
}

// Close drains pending publishes before disconnecting.
func (p *Publisher) Close() {
	_ = p.nc.Drain()
}

// sanitizeToken makes a device-supplied id safe as a subject token. Device
// ids are opaque strings; dots and wildcards would change subject semantics.
func sanitizeToken(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, s)
}
