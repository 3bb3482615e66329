package relay

import (
	"encoding/json"
	"time"

	"PRelay/tools/ids"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// connState tracks where a connection is in its lifecycle. A connection that
// never leaves awaitingRegistration is torn down without ever touching the
// registry.
type connState int

const (
	stateAwaitingRegistration connState = iota
	stateActive
	stateClosed
)

// DefaultHandshakeTimeout is how long a fresh connection has to send its
// registration frame.
const DefaultHandshakeTimeout = 10 * time.Second

var errFirstFrameNotText = errors.New("handshake: first frame must be a text frame")

// awaitRegistration runs the registration phase of a new connection: the
// first frame must arrive within timeout and be a JSON text frame. The
// returned device id is never empty; a device that omits it is assigned a
// generated one, which is unique but not something callers can address
// reliably.
func awaitRegistration(conn *websocket.Conn, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", errors.Wrap(err, "handshake deadline")
	}

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return "", errors.Wrap(err, "handshake read")
	}
	if mt != websocket.TextMessage {
		return "", errFirstFrameNotText
	}

	var reg RegisterFrame
	if err := json.Unmarshal(data, &reg); err != nil {
		return "", errors.Wrap(err, "handshake frame")
	}
	if reg.DeviceID == "" {
		reg.DeviceID = "device_" + ids.GenerateString()
	}
	return reg.DeviceID, nil
}
