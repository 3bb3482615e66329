package storage

import (
	"context"
	"encoding/json"
	"time"

	"PRelay/logger"
	"PRelay/service/relay"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const opTimeout = 2 * time.Second

// Store wraps the redis client used for device presence and the telemetry
// stream.
type Store struct {
	rdb         *redis.Client
	presenceTTL time.Duration
}

type Config struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

func NewStore(c Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}
	ttl := c.PresenceTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{rdb: rdb, presenceTTL: ttl}, nil
}

// presence key: relay:presence:<device>
// Value is the peer address; the TTL bounds staleness if the relay dies
// without cleaning up.
func presenceKey(deviceID string) string { return "relay:presence:" + deviceID }

func streamKey(deviceID string) string { return "relay:telemetry:" + deviceID }

// Online marks the device as connected. Best effort: a down redis must not
// stall the connection path.
func (s *Store) Online(deviceID, addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.rdb.Set(ctx, presenceKey(deviceID), addr, s.presenceTTL).Err(); err != nil {
		logger.Warnf("[redis] presence online device=%s err=%v", deviceID, err)
	}
}

// Offline clears the device's presence key. Best effort.
func (s *Store) Offline(deviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.rdb.Del(ctx, presenceKey(deviceID)).Err(); err != nil {
		logger.Warnf("[redis] presence offline device=%s err=%v", deviceID, err)
	}
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

// StreamSink appends telemetry events to a per-device redis stream with an
// approximate rolling cap, so a chatty device cannot grow the keyspace
// without bound.
type StreamSink struct {
	store  *Store
	maxLen int64
}

func NewStreamSink(store *Store) *StreamSink {
	return &StreamSink{store: store, maxLen: 100_000}
}

func (s *StreamSink) Publish(ctx context.Context, ev relay.TelemetryEvent) error {
	fields, err := json.Marshal(ev.Fields)
	if err != nil {
		return errors.Wrap(err, "encode telemetry fields")
	}
	args := &redis.XAddArgs{
		Stream: streamKey(ev.DeviceID),
		Approx: true,
		MaxLen: s.maxLen,
		Values: map[string]interface{}{
			"kind":        ev.Kind,
			"received_at": ev.ReceivedAt.Format(time.RFC3339),
			"fields":      fields,
		},
	}
	return errors.Wrap(s.store.rdb.XAdd(ctx, args).Err(), "xadd telemetry")
}
