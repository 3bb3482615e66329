package relay

import (
	"net/http"
	"time"

	"PRelay/logger"

	"github.com/gin-gonic/gin"
)

// Routes mounts the operator surface and the device WebSocket endpoint. The
// paths mirror the deployed dashboard's expectations.
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/", s.handleIndex)
	r.GET("/ws", s.HandleWS)

	api := r.Group("/api")
	api.GET("/devices", s.handleListDevices)
	api.POST("/command", s.handleCommand)
	api.POST("/notification", s.handleNotification)
	api.POST("/upload/video", s.handleUploadVideo)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"clients":   s.registry.Len(),
		"devices":   s.registry.Snapshot(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleListDevices(c *gin.Context) {
	devices := s.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

type commandRequest struct {
	DeviceID string                 `json:"device_id"`
	Command  string                 `json:"command"`
	Params   map[string]interface{} `json:"params"`
}

func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = "default"
	}
	outcome := s.dispatcher.Dispatch(req.DeviceID, req.Command, req.Params)
	c.JSON(http.StatusOK, gin.H{"status": string(outcome), "command": req.Command})
}

type notificationRequest struct {
	DeviceID string `json:"device_id"`
	NotificationFrame
}

// handleNotification is the HTTP path for notification telemetry; devices
// that cannot hold a socket open post here instead. Same sink as the WS
// notification frame.
func (s *Server) handleNotification(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev := TelemetryEvent{
		DeviceID:   req.DeviceID,
		Kind:       TypeNotification,
		ReceivedAt: time.Now(),
		Fields: map[string]interface{}{
			"package": req.Package,
			"title":   req.Title,
			"text":    req.Text,
		},
	}
	if err := s.telemetry.Publish(c.Request.Context(), ev); err != nil {
		logger.Errorf("[http] notification publish err=%v", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func (s *Server) handleUploadVideo(c *gin.Context) {
	file, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file"})
		return
	}
	camera := c.DefaultPostForm("camera_type", "unknown")
	timestamp := c.PostForm("timestamp")

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = src.Close() }()

	name, err := s.media.StoreVideo(camera, timestamp, src)
	if err != nil {
		logger.Errorf("[http] video upload err=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[upload] stored %s camera=%s size=%d", name, camera, file.Size)
	c.JSON(http.StatusOK, gin.H{"status": "uploaded", "filename": name})
}
