package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oicur0t/rpsmon/internal/monitor"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Handler handles HTTP requests
type Handler struct {
	diag   *monitor.Diagnostics
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(diag *monitor.Diagnostics, hub *Hub, logger *zap.Logger) *Handler {
	return &Handler{
		diag:   diag,
		hub:    hub,
		logger: logger,
	}
}

// Health reports liveness together with the cumulative error counters
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":      "healthy",
		"counters":    h.diag.Counters(),
		"subscribers": h.hub.Subscribers(),
	}
	if last, ok := h.diag.Last(); ok {
		resp["last_report"] = last.Time
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Report returns the most recent cycle report
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	last, ok := h.diag.Last()
	if !ok {
		http.Error(w, "No report yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(last); err != nil {
		h.logger.Error("Failed to encode report", zap.Error(err))
	}
}

// Stream upgrades to a websocket and pushes every new report as JSON
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	// Reads only serve to notice the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if last, ok := h.diag.Last(); ok {
		msg, err := json.Marshal(last)
		if err == nil && h.write(conn, msg) != nil {
			return
		}
	}

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-updates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := h.write(conn, msg); err != nil {
				h.logger.Debug("Websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}
