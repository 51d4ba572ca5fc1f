package web

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/costdesk/internal/chat"
)

// heartbeatInterval is how often an idle event stream sends a heartbeat.
var heartbeatInterval = 15 * time.Second

// snapshotEvent is the payload of every "snapshot" SSE event.
type snapshotEvent struct {
	Kind    chat.EventKind `json:"kind"`
	Session chat.Session   `json:"session"`
}

// events streams session snapshots until the client disconnects or the
// session ends.
func (h *handlers) events(c *gin.Context) {
	ctrl := controller(c)
	updates, cancel := ctrl.Subscribe(0)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "snapshot", snapshotEvent{Kind: "connected", Session: ctrl.Snapshot()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case evt, ok := <-updates:
			if !ok {
				writeSSE(c.Writer, "closed", map[string]string{"key": ctrl.Key()})
				c.Writer.Flush()
				return
			}
			writeSSE(c.Writer, "snapshot", snapshotEvent{Kind: evt.Kind, Session: evt.Session})
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
