package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"PRelay/tools/ids"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second

	// sendQueueSize bounds the per-session outbound buffer. A device that
	// stops reading fills it up and further sends fail, which callers treat
	// as a dead session.
	sendQueueSize = 256
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("session send buffer full")
)

// Session is the live, registered state of one connected device. Exactly one
// goroutine (the write pump) touches the write side of the conn; everyone
// else hands frames to Send.
type Session struct {
	ID          string
	DeviceID    string
	Remote      string
	ConnectedAt time.Time

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    atomic.Bool
}

func NewSession(deviceID, remote string, conn *websocket.Conn) *Session {
	return &Session{
		ID:          ids.GenerateString(),
		DeviceID:    deviceID,
		Remote:      remote,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, sendQueueSize),
	}
}

// Send queues one framed text message for delivery. It never blocks: a full
// buffer or a closed session returns an error instead.
func (s *Session) Send(payload []byte) (err error) {
	// Close can race the channel send below; recover instead of paying for a
	// lock on every frame.
	defer func() {
		if recover() != nil {
			err = ErrSessionClosed
		}
	}()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close marks the session dead and wakes the write pump, exactly once. Safe
// to call from any goroutine and from multiple places during teardown.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.send)
	})
}

func (s *Session) Closed() bool { return s.closed.Load() }

// writeLoop owns the connection's write side: queued frames, keepalive pings
// and the final close frame. Frames buffered before Close are still flushed.
func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				s.Close()
				return
			}
		}
	}
}
