package analysis

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bizpulse-backend/internal/notify"
	"bizpulse-backend/internal/shared/telemetry"
)

const wsReadLimit = 64 << 10

// WSHandler serves the live analysis channel. A client connects with a
// correlation key, receives a snapshot of the current run state, then every
// event published for that key. Frames sent by the client are treated as
// trigger requests.
type WSHandler struct {
	Svc      *Service
	Notifier notify.Broker

	upgrader websocket.Upgrader
}

// NewWSHandler constructs a WSHandler.
func NewWSHandler(svc *Service, notifier notify.Broker) *WSHandler {
	return &WSHandler{
		Svc:      svc,
		Notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes attaches the websocket route to the engine.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/analysis/:session_id", h.serve)
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (h *WSHandler) serve(c *gin.Context) {
	key := c.Param("session_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		telemetry.Warn("ws.upgrade_failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ws := &wsConn{conn: conn}

	// Subscribe before taking the snapshot so no event published in between
	// is lost. Malformed keys subscribe too, so a later trigger on this
	// socket still delivers.
	events, cancel := h.Notifier.Subscribe(key)
	defer cancel()

	if _, err := uuid.Parse(key); err != nil {
		_ = ws.writeJSON(gin.H{"type": "status", "status": "not_found"})
	} else {
		h.sendSnapshot(c, ws, key)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range events {
			if err := ws.writeJSON(event); err != nil {
				return
			}
		}
	}()

	h.readLoop(c, ws, key)
	cancel()
	<-done
}

// sendSnapshot reports the current state of the run for the key, including
// the result or error frame for terminal runs.
func (h *WSHandler) sendSnapshot(c *gin.Context, ws *wsConn, key string) {
	run, err := h.Svc.Snapshot(c.Request.Context(), key)
	if err != nil {
		status := "not_found"
		if errors.Is(err, ErrNotCompleted) {
			status = "not_completed"
		} else if !errors.Is(err, ErrNotFound) {
			telemetry.Error("ws.snapshot", map[string]any{"key": key, "error": err.Error()})
			status = "not_found"
		}
		_ = ws.writeJSON(gin.H{"type": "status", "status": status})
		return
	}

	sessionID := run.TargetSessionID()
	snapshot := notify.Event{Type: notify.TypeStatus, Status: run.Status, SessionID: &sessionID}
	if run.ReviewSessionID != "" {
		reviewSessionID := run.ReviewSessionID
		snapshot.ReviewSessionID = &reviewSessionID
	}
	if run.Status == StatusFailed {
		snapshot.Error = run.Error
	}
	_ = ws.writeJSON(snapshot)

	switch run.Status {
	case StatusSucceeded:
		if run.Dashboard != nil {
			_ = ws.writeJSON(notify.Event{Type: notify.TypeResult, Data: run.Dashboard})
		}
	case StatusFailed:
		if run.Error != nil {
			_ = ws.writeJSON(notify.Event{Type: notify.TypeError, Message: *run.Error})
		}
	}
}

// readLoop consumes client frames until the connection drops. Every
// non-blank frame is treated as a trigger request.
func (h *WSHandler) readLoop(c *gin.Context, ws *wsConn, key string) {
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		h.handleTrigger(c, ws, key, data)
	}
}

func (h *WSHandler) handleTrigger(c *gin.Context, ws *wsConn, key string, data []byte) {
	var payload startPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		_ = ws.writeJSON(gin.H{"type": "error", "message": "invalid payload"})
		return
	}
	// An empty payload re-triggers the connection's own key.
	if payload.ReviewSessionID == "" && len(payload.Answers) == 0 {
		payload.ReviewSessionID = key
	}

	in, verr := payload.toStartInput()
	if verr != "" {
		_ = ws.writeJSON(gin.H{"type": "error", "message": verr})
		return
	}

	// Inline-answer runs are pinned to the connection key so their events
	// publish on the channel this socket is subscribed to, and repeated
	// triggers reset the same row.
	if in.ReviewSessionID == "" {
		if _, err := uuid.Parse(key); err != nil {
			_ = ws.writeJSON(gin.H{"type": "error", "message": "channel key must be a valid uuid"})
			return
		}
		in.RunID = key
	}

	run, _, err := h.Svc.StartOrReset(c.Request.Context(), in)
	if err != nil {
		_ = ws.writeJSON(gin.H{"type": "error", "message": triggerErrorMessage(err)})
		return
	}
	_ = ws.writeJSON(gin.H{
		"type":       "accepted",
		"run_id":     run.ID,
		"session_id": run.TargetSessionID(),
	})
}

func triggerErrorMessage(err error) string {
	var inputErr *InputError
	switch {
	case errors.Is(err, ErrNotFound):
		return "review session not found"
	case errors.Is(err, ErrNotCompleted):
		return "review session is not completed"
	case errors.As(err, &inputErr):
		return inputErr.Msg
	}
	return "failed to start analysis"
}
