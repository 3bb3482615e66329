package relay

import (
	"sync"
	"time"
)

// SessionInfo is the listing shape returned by Snapshot.
type SessionInfo struct {
	DeviceID    string    `json:"device_id"`
	ConnectedAt time.Time `json:"connected_at"`
	Address     string    `json:"address"`
}

// Registry maps a device id to its single live session. A second registration
// under the same id supersedes the first: flaky mobile networks reconnect
// without a clean close, so last writer wins and the stale connection is
// closed.
type Registry struct {
	mu       sync.RWMutex
	byDevice map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{byDevice: make(map[string]*Session)}
}

// Register stores s under its device id and returns the session it replaced,
// if any. The superseded session is closed outside the lock.
func (r *Registry) Register(s *Session) *Session {
	r.mu.Lock()
	old := r.byDevice[s.DeviceID]
	r.byDevice[s.DeviceID] = s
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return old
}

// Unregister removes s only while it is still the stored session for its
// device id. A disconnect handler racing a reconnect must not evict the newer
// session that replaced it. Reports whether an entry was removed.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byDevice[s.DeviceID]; ok && cur == s {
		delete(r.byDevice, s.DeviceID)
		return true
	}
	return false
}

// Lookup returns the live session for deviceID, if any. No side effects.
func (r *Registry) Lookup(deviceID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byDevice[deviceID]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDevice)
}

// Snapshot copies the current sessions into summaries. Copy under the read
// lock, iterate outside it; listing must not stall register/unregister.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byDevice))
	for _, s := range r.byDevice {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			DeviceID:    s.DeviceID,
			ConnectedAt: s.ConnectedAt,
			Address:     s.Remote,
		})
	}
	return out
}

// CloseAll evicts and closes every session, for process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.byDevice))
	for _, s := range r.byDevice {
		all = append(all, s)
	}
	r.byDevice = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
