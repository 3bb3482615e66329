package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PRelay/global"
	"PRelay/logger"
	"PRelay/middleware"
	"PRelay/service/media"
	"PRelay/service/mgo"
	"PRelay/service/natsx"
	"PRelay/service/relay"
	"PRelay/service/storage"
	"PRelay/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

func main() {
	cfg := global.Load()
	ids.SetNodeID(cfg.NodeID)

	store, err := media.NewFileStore(cfg.UploadDir)
	if err != nil {
		logger.Errorf("media store: %v", err)
		os.Exit(1)
	}

	// The log sink is always on; redis/nats/mongo join the fan-out when
	// configured.
	sinks := relay.MultiSink{relay.LogSink{}}
	var presence relay.Presence

	if cfg.RedisAddr != "" {
		rs, err := storage.NewStore(storage.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Errorf("redis: %v", err)
			os.Exit(1)
		}
		defer func() { _ = rs.Close() }()
		presence = rs
		sinks = append(sinks, storage.NewStreamSink(rs))
		logger.Infof("[init] redis presence + telemetry stream enabled addr=%s", cfg.RedisAddr)
	}

	if cfg.NatsURL != "" {
		pub, err := natsx.NewPublisher(natsx.Config{URL: cfg.NatsURL, Name: "device-relay"})
		if err != nil {
			logger.Errorf("nats: %v", err)
			os.Exit(1)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
		logger.Infof("[init] nats telemetry fan-out enabled url=%s", cfg.NatsURL)
	}

	if cfg.MongoURI != "" {
		arc, err := mgo.NewArchive(mgo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
		if err != nil {
			logger.Errorf("mongo: %v", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = arc.Close(ctx)
		}()
		sinks = append(sinks, arc)
		logger.Infof("[init] mongo telemetry archive enabled db=%s", cfg.MongoDatabase)
	}

	srv := relay.NewServer(relay.Config{
		HandshakeTimeout: cfg.HandshakeTimeout,
		BacklogLimit:     cfg.BacklogLimit,
	}, sinks, store, presence)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.CORS())
	srv.Routes(r)

	httpSrv := &http.Server{Addr: cfg.Addr(), Handler: r}
	go func() {
		logger.Infof("[HTTP] listening on %s (device endpoint ws://%s/ws)", cfg.Addr(), cfg.Addr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("[shutdown] closing sessions")
	srv.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	_ = logger.Sync()
}
