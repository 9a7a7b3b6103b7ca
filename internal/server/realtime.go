package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/notify"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	realtimeEventReady     = "ready"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "agora-backend"
	heartbeatInterval      = 25 * time.Second
)

type realtimeStatus struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// handleEvents streams the viewer's notifications as server-sent events.
// With ?projectId= (id or slug) the stream also carries every event of that project.
func (h *httpHandler) handleEvents(c *gin.Context) {
	actor := actorFrom(c)
	ctx := c.Request.Context()

	userStream, userCleanup := h.realtime.Subscribe(ctx, notify.UserTopic(actor.UserID))
	defer userCleanup()

	var projectStream <-chan notify.Event
	if projectRef := strings.TrimSpace(c.Query("projectId")); projectRef != "" {
		view, err := h.reader.ReadProject(ctx, projectRef, 0, actor)
		if err != nil {
			h.respondError(c, err)
			return
		}
		// Events are published under the project id, never the slug.
		stream, cleanup := h.realtime.Subscribe(ctx, notify.ProjectTopic(view.ID))
		defer cleanup()
		projectStream = stream
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventReady, realtimeStatus{Source: realtimeSourceBackend, Timestamp: time.Now().UTC()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Debug("realtime stream opened", zap.String("user_id", actor.UserID))
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-userStream:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case event, ok := <-projectStream:
			if !ok {
				return false
			}
			// Events addressed to the viewer already arrive on the user topic.
			if event.RecipientID != actor.UserID {
				c.SSEvent(string(event.Type), event)
			}
			return true
		case now := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, realtimeStatus{Source: realtimeSourceBackend, Timestamp: now.UTC()})
			return true
		}
	})
	h.logger.Debug("realtime stream closed", zap.String("user_id", actor.UserID))
}
