package mgo

import (
	"context"
	"time"

	"PRelay/service/relay"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Archive inserts telemetry events into MongoDB for later operator review.
// It is one sink among several; insert failures are the caller's to log, not
// to retry.
type Archive struct {
	client *mongo.Client
	col    *mongo.Collection
}

type Config struct {
	URI        string
	Database   string
	Collection string
}

func NewArchive(cfg Config) (*Archive, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri missing")
	}
	if cfg.Collection == "" {
		cfg.Collection = "telemetry_events"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "mongo ping")
	}

	return &Archive{
		client: client,
		col:    client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func (a *Archive) Publish(ctx context.Context, ev relay.TelemetryEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := a.col.InsertOne(ctx, ev)
	return errors.Wrap(err, "insert telemetry event")
}

func (a *Archive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
