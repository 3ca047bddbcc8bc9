package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ninho/pkg/api/types"
	"github.com/urmzd/ninho/pkg/device"
)

const (
	heartbeatInterval = 30 * time.Second
	wsWriteWait       = 5 * time.Second
	// clientBuffer is how many messages a slow client may fall behind
	// before readings are dropped for it.
	clientBuffer = 64
)

// EventsHandler streams telemetry and the device console
type EventsHandler struct {
	subscriber device.EventSubscriber
	upgrader   websocket.Upgrader
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(subscriber device.EventSubscriber) *EventsHandler {
	return &EventsHandler{
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge only listens for a local UI.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Latest handles GET /telemetry/latest
// @Summary      Latest telemetry
// @Description  Returns the most recent reading, or null before the first one
// @Tags         telemetry
// @Produce      json
// @Success      200  {object}  types.TelemetryResponse
// @Router       /telemetry/latest [get]
func (h *EventsHandler) Latest(c *gin.Context) {
	var resp types.TelemetryResponse
	if t, ok := h.subscriber.LatestTelemetry(); ok {
		resp.Telemetry = &t
	}
	c.JSON(http.StatusOK, resp)
}

// Telemetry handles GET /telemetry/events (SSE stream)
// @Summary      Subscribe to telemetry
// @Description  Server-Sent Events stream of decoded telemetry readings
// @Tags         telemetry
// @Produce      text/event-stream
// @Success      200  {string}  string  "SSE event stream"
// @Router       /telemetry/events [get]
func (h *EventsHandler) Telemetry(c *gin.Context) {
	ch := make(chan device.Telemetry, clientBuffer)
	unsubscribe := h.subscriber.SubscribeTelemetry(func(t device.Telemetry) {
		select {
		case ch <- t:
		default:
		}
	})
	defer unsubscribe()

	startSSE(c)
	sendSSEEvent(c.Writer, "connected", map[string]any{
		"timestamp": time.Now(),
		"message":   "Connected to telemetry stream",
	})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return
		case t := <-ch:
			sendSSEEvent(c.Writer, "telemetry", t)
			c.Writer.Flush()
		case <-ticker.C:
			sendSSEEvent(c.Writer, "heartbeat", map[string]any{"timestamp": time.Now()})
			c.Writer.Flush()
		}
	}
}

// Logs handles GET /logs/events (SSE stream)
// @Summary      Subscribe to the device console
// @Description  Server-Sent Events stream of console lines. Buffered history is replayed first.
// @Tags         telemetry
// @Produce      text/event-stream
// @Success      200  {string}  string  "SSE event stream"
// @Router       /logs/events [get]
func (h *EventsHandler) Logs(c *gin.Context) {
	ch := make(chan device.LogLine, clientBuffer)
	unsubscribe := h.subscriber.SubscribeLogs(func(l device.LogLine) {
		select {
		case ch <- l:
		default:
		}
	})
	defer unsubscribe()

	startSSE(c)

	// Lines that arrived between subscribing and replaying are already in
	// the history; skip them on the live side.
	var cutoff time.Time
	for _, l := range h.subscriber.RecentLogs() {
		sendSSEEvent(c.Writer, "log", l)
		cutoff = l.Time
	}
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return
		case l := <-ch:
			if !l.Time.After(cutoff) {
				continue
			}
			sendSSEEvent(c.Writer, "log", l)
			c.Writer.Flush()
		case <-ticker.C:
			sendSSEEvent(c.Writer, "heartbeat", map[string]any{"timestamp": time.Now()})
			c.Writer.Flush()
		}
	}
}

// TelemetryWS handles GET /telemetry/ws
// @Summary      Telemetry over WebSocket
// @Description  Pushes every telemetry reading as a JSON text message. Slow clients miss readings rather than stall the board.
// @Tags         telemetry
// @Success      101  {string}  string  "Switching protocols"
// @Router       /telemetry/ws [get]
func (h *EventsHandler) TelemetryWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	send := make(chan []byte, clientBuffer)
	unsubscribe := h.subscriber.SubscribeTelemetry(func(t device.Telemetry) {
		data, err := json.Marshal(t)
		if err != nil {
			return
		}
		select {
		case send <- data:
		default:
		}
	})
	defer unsubscribe()

	log.Debug().Str("client", c.ClientIP()).Msg("Telemetry WebSocket client connected")

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			log.Debug().Str("client", c.ClientIP()).Msg("Telemetry WebSocket client disconnected")
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func startSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

// sendSSEEvent writes an SSE event to the response
func sendSSEEvent(w io.Writer, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: "+string(jsonData)+"\n\n")
}
