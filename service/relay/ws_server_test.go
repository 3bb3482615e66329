package relay

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type testRelay struct {
	srv       *Server
	http      *httptest.Server
	telemetry *fakeTelemetry
	media     *fakeMedia
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ft := &fakeTelemetry{}
	fm := &fakeMedia{}
	srv := NewServer(Config{HandshakeTimeout: 500 * time.Millisecond, BacklogLimit: 16}, ft, fm, nil)

	engine := gin.New()
	srv.Routes(engine)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Shutdown)

	return &testRelay{srv: srv, http: ts, telemetry: ft, media: fm}
}

func (tr *testRelay) wsURL() string {
	return "ws" + strings.TrimPrefix(tr.http.URL, "http") + "/ws"
}

func (tr *testRelay) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(tr.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials and completes the registration handshake, waiting until the
// session is visible in the registry.
func (tr *testRelay) connect(t *testing.T, deviceID string) *websocket.Conn {
	t.Helper()
	conn := tr.dial(t)
	if err := conn.WriteJSON(RegisterFrame{DeviceID: deviceID}); err != nil {
		t.Fatalf("register write: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		_, ok := tr.srv.registry.Lookup(deviceID)
		return ok
	})
	return conn
}

func (tr *testRelay) postJSON(t *testing.T, path string, body interface{}) map[string]interface{} {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(tr.http.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func readCommand(t *testing.T, conn *websocket.Conn) CommandMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg CommandMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode command: %v (raw %q)", err, data)
	}
	return msg
}

// The spec's end-to-end scenario: direct dispatch while connected, queued
// dispatch while offline, automatic replay on reconnect.
func TestEndToEndDispatchQueueAndReplay(t *testing.T) {
	tr := newTestRelay(t)

	conn := tr.connect(t, "D1")

	resp := tr.postJSON(t, "/api/command", map[string]interface{}{
		"device_id": "D1", "command": "lock_screen", "params": map[string]interface{}{},
	})
	if resp["status"] != "sent" {
		t.Fatalf("dispatch while connected: %v", resp)
	}
	msg := readCommand(t, conn)
	if msg.Type != TypeRemoteCommand || msg.Command != "lock_screen" {
		t.Fatalf("unexpected command: %+v", msg)
	}

	_ = conn.Close()
	waitFor(t, 2*time.Second, func() bool {
		_, ok := tr.srv.registry.Lookup("D1")
		return !ok
	})

	resp = tr.postJSON(t, "/api/command", map[string]interface{}{
		"device_id": "D1", "command": "take_photo", "params": map[string]interface{}{},
	})
	if resp["status"] != "queued" {
		t.Fatalf("dispatch while offline: %v", resp)
	}

	conn2 := tr.connect(t, "D1")
	msg = readCommand(t, conn2)
	if msg.Command != "take_photo" {
		t.Fatalf("first frame after reconnect = %q, want take_photo", msg.Command)
	}
}

func TestBacklogReplayKeepsOrder(t *testing.T) {
	tr := newTestRelay(t)

	for _, cmd := range []string{"c1", "c2", "c3"} {
		resp := tr.postJSON(t, "/api/command", map[string]interface{}{
			"device_id": "D2", "command": cmd,
		})
		if resp["status"] != "queued" {
			t.Fatalf("expected queued for %s: %v", cmd, resp)
		}
	}

	conn := tr.connect(t, "D2")
	for _, want := range []string{"c1", "c2", "c3"} {
		if msg := readCommand(t, conn); msg.Command != want {
			t.Fatalf("replay order: got %q, want %q", msg.Command, want)
		}
	}
}

func TestHandshakeTimeoutClosesConnection(t *testing.T) {
	tr := newTestRelay(t)
	conn := tr.dial(t)

	// Send nothing; the server must drop us after the handshake window.
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection survived the handshake timeout")
	}
	if n := tr.srv.registry.Len(); n != 0 {
		t.Fatalf("registry has %d sessions, want 0", n)
	}
}

func TestHandshakeRejectsBinaryFirstFrame(t *testing.T) {
	tr := newTestRelay(t)
	conn := tr.dial(t)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection survived a binary registration frame")
	}
	if n := tr.srv.registry.Len(); n != 0 {
		t.Fatalf("registry has %d sessions, want 0", n)
	}
}

func TestHandshakeFallbackDeviceID(t *testing.T) {
	tr := newTestRelay(t)
	conn := tr.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return tr.srv.registry.Len() == 1 })

	snap := tr.srv.registry.Snapshot()
	if !strings.HasPrefix(snap[0].DeviceID, "device_") {
		t.Fatalf("fallback id = %q, want device_ prefix", snap[0].DeviceID)
	}
}

func TestDuplicateRegistrationSupersedes(t *testing.T) {
	tr := newTestRelay(t)

	conn1 := tr.connect(t, "DUP")
	sess1, _ := tr.srv.registry.Lookup("DUP")

	tr.connect(t, "DUP")
	waitFor(t, 2*time.Second, func() bool {
		cur, ok := tr.srv.registry.Lookup("DUP")
		return ok && cur != sess1
	})

	if n := tr.srv.registry.Len(); n != 1 {
		t.Fatalf("registry has %d sessions for one device id, want 1", n)
	}

	// The superseded connection gets closed by the relay.
	_ = conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn1.ReadMessage(); err == nil {
		t.Fatal("superseded connection still open")
	}
}

func TestMalformedFrameKeepsConnectionAlive(t *testing.T) {
	tr := newTestRelay(t)
	conn := tr.connect(t, "D3")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"unknown_xyz"}`)); err != nil {
		t.Fatalf("write unknown: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"flashlight","status":true}`)); err != nil {
		t.Fatalf("write flashlight: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		for _, ev := range tr.telemetry.all() {
			if ev.Kind == TypeFlashlight && ev.DeviceID == "D3" {
				return true
			}
		}
		return false
	})
}

func TestIndexAndDeviceListing(t *testing.T) {
	tr := newTestRelay(t)
	tr.connect(t, "LIST-1")

	resp, err := http.Get(tr.http.URL + "/")
	if err != nil {
		t.Fatalf("get /: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var index map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if index["status"] != "online" || index["clients"] != float64(1) {
		t.Fatalf("unexpected index payload: %v", index)
	}

	resp2, err := http.Get(tr.http.URL + "/api/devices")
	if err != nil {
		t.Fatalf("get devices: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	var listing struct {
		Devices []SessionInfo `json:"devices"`
		Count   int           `json:"count"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&listing); err != nil {
		t.Fatalf("decode devices: %v", err)
	}
	if listing.Count != 1 || listing.Devices[0].DeviceID != "LIST-1" {
		t.Fatalf("unexpected listing: %+v", listing)
	}
}

func TestNotificationEndpoint(t *testing.T) {
	tr := newTestRelay(t)

	resp := tr.postJSON(t, "/api/notification", map[string]interface{}{
		"device_id": "D4", "package": "com.app", "title": "T", "text": "X",
	})
	if resp["status"] != "received" {
		t.Fatalf("unexpected response: %v", resp)
	}

	events := tr.telemetry.all()
	if len(events) != 1 || events[0].Kind != TypeNotification || events[0].DeviceID != "D4" {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestVideoUpload(t *testing.T) {
	tr := newTestRelay(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("video", "clip.mp4")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte("mp4-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = w.WriteField("camera_type", "front")
	_ = w.WriteField("timestamp", "20260901-1200")
	_ = w.Close()

	resp, err := http.Post(tr.http.URL+"/api/upload/video", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post upload: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "uploaded" || out["filename"] != "video_front_20260901-1200.mp4" {
		t.Fatalf("unexpected response: %v", out)
	}
	if len(tr.media.videos) != 1 {
		t.Fatalf("media sink saw %d videos, want 1", len(tr.media.videos))
	}
}
