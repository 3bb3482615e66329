package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"PRelay/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const maxFrameSize = 1 << 20 // 1MB, screen captures arrive base64-encoded

// Config carries the tunables of the relay core.
type Config struct {
	HandshakeTimeout time.Duration
	BacklogLimit     int
}

// Server owns the relay core: registry, queue, dispatcher and router. One
// Server serves every device connection plus the operator API.
type Server struct {
	cfg        Config
	registry   *Registry
	queue      *CommandQueue
	dispatcher *Dispatcher
	router     *Router
	telemetry  TelemetrySink
	media      MediaSink
	presence   Presence
	upgrader   websocket.Upgrader
}

// NewServer wires the core together. presence may be nil; telemetry defaults
// to the log sink.
func NewServer(cfg Config, telemetry TelemetrySink, media MediaSink, presence Presence) *Server {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if telemetry == nil {
		telemetry = LogSink{}
	}
	registry := NewRegistry()
	queue := NewCommandQueue(cfg.BacklogLimit)
	return &Server{
		cfg:        cfg,
		registry:   registry,
		queue:      queue,
		dispatcher: NewDispatcher(registry, queue),
		router:     NewRouter(telemetry, media),
		telemetry:  telemetry,
		media:      media,
		presence:   presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Dispatch exposes the operator dispatch operation.
func (s *Server) Dispatch(deviceID, command string, params map[string]interface{}) Outcome {
	return s.dispatcher.Dispatch(deviceID, command, params)
}

// Shutdown closes every live session, best effort. Queued commands do not
// survive the process.
func (s *Server) Shutdown() {
	s.registry.CloseAll()
}

// HandleWS upgrades a device connection and walks it through its lifecycle:
// registration, backlog replay, telemetry routing, teardown. One goroutine
// runs this read side per connection; the session's write pump is the other.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] upgrade failed remote=%s err=%v", c.ClientIP(), err)
		return
	}

	state := stateAwaitingRegistration
	var sess *Session
	defer func() {
		// Teardown runs exactly once regardless of which stage the
		// connection died in. Only active sessions ever touched the
		// registry.
		if state == stateActive {
			if s.registry.Unregister(sess) && s.presence != nil {
				s.presence.Offline(sess.DeviceID)
			}
			sess.Close()
			logger.Infof("[ws] device disconnected device=%s remote=%s", sess.DeviceID, sess.Remote)
		} else {
			_ = ws.Close()
		}
	}()

	deviceID, err := awaitRegistration(ws, s.cfg.HandshakeTimeout)
	if err != nil {
		state = stateClosed
		logger.Infof("[ws] registration failed remote=%v err=%v", ws.RemoteAddr(), err)
		return
	}

	sess = NewSession(deviceID, ws.RemoteAddr().String(), ws)
	state = stateActive
	if old := s.registry.Register(sess); old != nil {
		logger.Warnf("[ws] superseded stale session device=%s old_remote=%s", deviceID, old.Remote)
	}
	if s.presence != nil {
		s.presence.Online(deviceID, sess.Remote)
	}
	logger.Infof("[ws] device connected device=%s remote=%s", deviceID, sess.Remote)

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go sess.writeLoop()

	// Replay the backlog before reading anything further: commands queued
	// while the device was offline must be flushed ahead of new traffic.
	if backlog := s.queue.Drain(deviceID); len(backlog) > 0 {
		for _, cmd := range backlog {
			payload, err := json.Marshal(buildCommandMessage(cmd.Command, cmd.Params, cmd.EnqueuedAt))
			if err != nil {
				logger.Errorf("[ws] backlog encode device=%s command=%s err=%v", deviceID, cmd.Command, err)
				continue
			}
			if err := sess.Send(payload); err != nil {
				logger.Warnf("[ws] backlog replay aborted device=%s err=%v", deviceID, err)
				return
			}
		}
		logger.Infof("[ws] replayed %d queued commands device=%s", len(backlog), deviceID)
	}

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed device=%s", deviceID)
			} else {
				logger.Infof("[ws] read error device=%s err=%v", deviceID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.router.Route(context.Background(), sess, data)
	}
}
