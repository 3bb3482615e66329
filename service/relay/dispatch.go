package relay

import (
	"encoding/json"

	"PRelay/logger"
)

// Outcome reports how a dispatched command left the relay.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeQueued Outcome = "queued"
)

// Dispatcher delivers operator commands to devices: immediately over the live
// session when one exists, via the backlog otherwise.
type Dispatcher struct {
	registry *Registry
	queue    *CommandQueue
}

func NewDispatcher(registry *Registry, queue *CommandQueue) *Dispatcher {
	return &Dispatcher{registry: registry, queue: queue}
}

// Dispatch sends command to the device or queues it for the next connect. A
// send failure means the session is dead: it is evicted and the command joins
// the backlog instead of being dropped. A device connecting between the
// lookup miss and the enqueue picks the command up on its drain; the command
// may arrive late but is never lost.
func (d *Dispatcher) Dispatch(deviceID, command string, params map[string]interface{}) Outcome {
	sess, ok := d.registry.Lookup(deviceID)
	if !ok {
		d.queue.Enqueue(deviceID, command, params)
		logger.Infof("[dispatch] device offline, queued device=%s command=%s", deviceID, command)
		return OutcomeQueued
	}

	payload, err := json.Marshal(BuildCommandMessage(command, params))
	if err != nil {
		logger.Errorf("[dispatch] encode device=%s command=%s err=%v", deviceID, command, err)
		d.queue.Enqueue(deviceID, command, params)
		return OutcomeQueued
	}

	if err := sess.Send(payload); err != nil {
		logger.Warnf("[dispatch] send failed, evicting and queueing device=%s command=%s err=%v",
			deviceID, command, err)
		d.registry.Unregister(sess)
		sess.Close()
		d.queue.Enqueue(deviceID, command, params)
		return OutcomeQueued
	}

	logger.Infof("[dispatch] sent device=%s command=%s", deviceID, command)
	return OutcomeSent
}
