package relay

import (
	"time"
)

// Wire shapes shared with the device client. Everything on the socket is
// framed JSON text discriminated by a "type" field, except the very first
// frame, which is the registration message.

// RegisterFrame is the first frame a device must send after connect. Other
// fields are ignored.
type RegisterFrame struct {
	DeviceID string `json:"device_id"`
}

// Inbound telemetry frame types.
const (
	TypeScreenCapture   = "screen_capture"
	TypeNotification    = "notification"
	TypeFlashlight      = "flashlight"
	TypeCommandResponse = "command_response"
)

// TypeRemoteCommand is the server→device command envelope type, used both for
// immediate dispatch and backlog replay.
const TypeRemoteCommand = "remote_command"

type CommandMessage struct {
	Type      string                 `json:"type"`
	Command   string                 `json:"command"`
	Params    map[string]interface{} `json:"params"`
	Timestamp string                 `json:"timestamp"`
}

// BuildCommandMessage stamps a fresh command envelope. The timestamp is the
// moment the relay accepted the command, not the delivery time; replayed
// backlog entries keep their enqueue timestamp instead.
func BuildCommandMessage(command string, params map[string]interface{}) CommandMessage {
	return buildCommandMessage(command, params, time.Now())
}

func buildCommandMessage(command string, params map[string]interface{}, ts time.Time) CommandMessage {
	if params == nil {
		params = map[string]interface{}{}
	}
	return CommandMessage{
		Type:      TypeRemoteCommand,
		Command:   command,
		Params:    params,
		Timestamp: ts.Format(time.RFC3339),
	}
}

type ScreenCaptureFrame struct {
	Data      string `json:"data" mapstructure:"data"`
	Timestamp string `json:"timestamp" mapstructure:"timestamp"`
}

type NotificationFrame struct {
	Package string `json:"package" mapstructure:"package"`
	Title   string `json:"title" mapstructure:"title"`
	Text    string `json:"text" mapstructure:"text"`
}

type FlashlightFrame struct {
	Status bool `json:"status" mapstructure:"status"`
}

type CommandResponseFrame struct {
	Command string `json:"command" mapstructure:"command"`
	Status  string `json:"status" mapstructure:"status"`
}
