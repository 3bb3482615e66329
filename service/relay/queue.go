package relay

import (
	"sync"
	"time"
)

// DefaultBacklogLimit caps a single device's backlog when no limit is
// configured. Past the cap the oldest command is dropped, the in-memory
// equivalent of an LPUSH+LTRIM rolling window.
const DefaultBacklogLimit = 1000

// QueuedCommand is one undelivered command waiting for its device to connect.
type QueuedCommand struct {
	Command    string
	Params     map[string]interface{}
	EnqueuedAt time.Time
}

type backlog struct {
	mu   sync.Mutex
	cmds []QueuedCommand
}

// CommandQueue keeps a FIFO backlog per device id. The outer map is only
// touched to find or create a device's backlog; enqueue and drain contend on
// that backlog's own lock, so traffic for different devices does not
// serialize.
type CommandQueue struct {
	mu       sync.RWMutex
	limit    int
	byDevice map[string]*backlog
}

func NewCommandQueue(limit int) *CommandQueue {
	if limit <= 0 {
		limit = DefaultBacklogLimit
	}
	return &CommandQueue{limit: limit, byDevice: make(map[string]*backlog)}
}

func (q *CommandQueue) backlogFor(deviceID string) *backlog {
	q.mu.RLock()
	b := q.byDevice[deviceID]
	q.mu.RUnlock()
	if b != nil {
		return b
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if b = q.byDevice[deviceID]; b == nil {
		b = &backlog{}
		q.byDevice[deviceID] = b
	}
	return b
}

// Enqueue appends a command to the tail of the device's backlog, dropping the
// oldest entries once the backlog exceeds the limit. Never fails.
func (q *CommandQueue) Enqueue(deviceID, command string, params map[string]interface{}) {
	b := q.backlogFor(deviceID)
	b.mu.Lock()
	b.cmds = append(b.cmds, QueuedCommand{
		Command:    command,
		Params:     params,
		EnqueuedAt: time.Now(),
	})
	if over := len(b.cmds) - q.limit; over > 0 {
		b.cmds = append([]QueuedCommand(nil), b.cmds[over:]...)
	}
	b.mu.Unlock()
}

// Drain removes and returns the device's entire backlog in FIFO order. An
// enqueue racing a drain lands either in the returned batch or in a fresh
// backlog, never both and never neither.
func (q *CommandQueue) Drain(deviceID string) []QueuedCommand {
	q.mu.RLock()
	b := q.byDevice[deviceID]
	q.mu.RUnlock()
	if b == nil {
		return nil
	}

	b.mu.Lock()
	cmds := b.cmds
	b.cmds = nil
	b.mu.Unlock()
	return cmds
}

// Pending reports how many commands are queued for the device.
func (q *CommandQueue) Pending(deviceID string) int {
	q.mu.RLock()
	b := q.byDevice[deviceID]
	q.mu.RUnlock()
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cmds)
}
