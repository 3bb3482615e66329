package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"PRelay/logger"

	"github.com/mitchellh/mapstructure"
)

// Router classifies inbound frames from an active session and forwards them
// to the sinks. Payloads that fail to parse or decode are logged and
// swallowed; only transport errors end a connection, and those belong to the
// read loop, not here.
type Router struct {
	telemetry TelemetrySink
	media     MediaSink
}

func NewRouter(telemetry TelemetrySink, media MediaSink) *Router {
	return &Router{telemetry: telemetry, media: media}
}

// Route handles one inbound frame from sess.
func (r *Router) Route(ctx context.Context, sess *Session, raw []byte) {
	var frame map[string]interface{}
	if err := json.Unmarshal(raw, &frame); err != nil {
		sample := raw
		if len(sample) > 256 {
			sample = sample[:256]
		}
		logger.Warnf("[router] invalid frame device=%s err=%v sample=%q", sess.DeviceID, err, sample)
		return
	}

	kind, _ := frame["type"].(string)
	switch kind {
	case TypeScreenCapture:
		r.routeScreenCapture(sess, frame)

	case TypeNotification:
		var n NotificationFrame
		if err := mapstructure.Decode(frame, &n); err != nil {
			logger.Warnf("[router] bad notification device=%s err=%v", sess.DeviceID, err)
			return
		}
		r.publish(ctx, sess.DeviceID, kind, map[string]interface{}{
			"package": n.Package,
			"title":   n.Title,
			"text":    n.Text,
		})

	case TypeFlashlight:
		var f FlashlightFrame
		if err := mapstructure.Decode(frame, &f); err != nil {
			logger.Warnf("[router] bad flashlight device=%s err=%v", sess.DeviceID, err)
			return
		}
		r.publish(ctx, sess.DeviceID, kind, map[string]interface{}{
			"status": f.Status,
		})

	case TypeCommandResponse:
		var cr CommandResponseFrame
		if err := mapstructure.Decode(frame, &cr); err != nil {
			logger.Warnf("[router] bad command_response device=%s err=%v", sess.DeviceID, err)
			return
		}
		r.publish(ctx, sess.DeviceID, kind, map[string]interface{}{
			"command": cr.Command,
			"status":  cr.Status,
		})

	default:
		logger.Debugf("[router] unhandled frame type=%q device=%s", kind, sess.DeviceID)
	}
}

func (r *Router) routeScreenCapture(sess *Session, frame map[string]interface{}) {
	var sc ScreenCaptureFrame
	if err := mapstructure.Decode(frame, &sc); err != nil {
		logger.Warnf("[router] bad screen_capture device=%s err=%v", sess.DeviceID, err)
		return
	}
	img, err := base64.StdEncoding.DecodeString(sc.Data)
	if err != nil {
		logger.Warnf("[router] capture decode device=%s err=%v", sess.DeviceID, err)
		return
	}
	name, err := r.media.StoreCapture(sess.DeviceID, img, sc.Timestamp)
	if err != nil {
		logger.Errorf("[router] capture store device=%s err=%v", sess.DeviceID, err)
		return
	}
	logger.Infof("[capture] saved %s (%d bytes)", name, len(img))
}

func (r *Router) publish(ctx context.Context, deviceID, kind string, fields map[string]interface{}) {
	ev := TelemetryEvent{
		DeviceID:   deviceID,
		Kind:       kind,
		ReceivedAt: time.Now(),
		Fields:     fields,
	}
	if err := r.telemetry.Publish(ctx, ev); err != nil {
		logger.Errorf("[router] telemetry publish device=%s kind=%s err=%v", deviceID, kind, err)
	}
}
