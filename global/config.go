package global

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig is resolved once at startup from the environment. Cloud platforms
// inject PORT/HOST; everything else has a local-friendly default. The
// optional collaborators (redis, nats, mongo) stay disabled until their
// address is set.
type AppConfig struct {
	Host      string
	Port      int
	UploadDir string
	NodeID    int64

	HandshakeTimeout time.Duration
	BacklogLimit     int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NatsURL string

	MongoURI      string
	MongoDatabase string
}

func Load() AppConfig {
	return AppConfig{
		Host:      envString("HOST", "0.0.0.0"),
		Port:      envInt("PORT", 8080),
		UploadDir: envString("UPLOAD_DIR", "uploads"),
		NodeID:    int64(envInt("NODE_ID", 1)),

		HandshakeTimeout: envDuration("HANDSHAKE_TIMEOUT", 10*time.Second),
		BacklogLimit:     envInt("QUEUE_LIMIT", 1000),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		NatsURL: os.Getenv("NATS_URL"),

		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: envString("MONGO_DB", "relay"),
	}
}

// Addr is the HTTP/WebSocket listen address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
