// Package ws streams tracker snapshots to dashboard clients over websocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/autotrade/tasktracker/internal/tracker"
)

const writeTimeout = 5 * time.Second

// Tracker is the part of *tracker.Tracker the hub needs.
type Tracker interface {
	Snapshot() tracker.Snapshot
	Subscribe(fn func(tracker.Snapshot)) (unsubscribe func())
	Cancel(ctx context.Context) error
}

type client struct {
	id      string
	updates chan tracker.Snapshot
}

// offer queues s, replacing any snapshot the client has not picked up yet.
func (c *client) offer(s tracker.Snapshot) {
	for {
		select {
		case c.updates <- s:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}

// Hub fans tracker snapshots out to every connected dashboard. Slow clients
// only ever see the latest snapshot.
type Hub struct {
	tracker     Tracker
	logger      *zap.Logger
	unsubscribe func()

	clientsMu sync.RWMutex
	clients   map[string]*client
}

func NewHub(t Tracker, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		tracker: t,
		logger:  logger,
		clients: make(map[string]*client),
	}
	h.unsubscribe = t.Subscribe(h.publish)
	return h
}

// Close stops listening to the tracker. Connected clients stay open until
// they disconnect.
func (h *Hub) Close() {
	h.unsubscribe()
}

// Clients returns the number of connected dashboards.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(s tracker.Snapshot) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, c := range h.clients {
		c.offer(s)
	}
}

func (h *Hub) HandleTracker(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("WebSocket accept error", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "goodbye")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &client{id: uuid.NewString(), updates: make(chan tracker.Snapshot, 1)}
	ack := AckMessage{Type: "ack", ClientID: c.id, Message: "Welcome!"}
	if err := h.write(ctx, conn, ack); err != nil {
		h.logger.Warn("Failed to send ack", zap.Error(err))
		return
	}

	h.clientsMu.Lock()
	h.clients[c.id] = c
	h.clientsMu.Unlock()
	c.offer(h.tracker.Snapshot())
	h.logger.Info("Dashboard connected", zap.String("client_id", c.id))

	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, c.id)
		h.clientsMu.Unlock()
		h.logger.Info("Dashboard disconnected", zap.String("client_id", c.id))
	}()

	go h.writeLoop(ctx, cancel, conn, c)
	h.handleMessages(ctx, conn, c)
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-c.updates:
			if err := h.write(ctx, conn, SnapshotMessage{Type: "snapshot", Snapshot: s}); err != nil {
				if ctx.Err() == nil {
					h.logger.Warn("Failed to send snapshot", zap.String("client_id", c.id), zap.Error(err))
				}
				return
			}
		}
	}
}

func (h *Hub) handleMessages(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("WebSocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}

		var msg BaseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("Invalid message format", zap.Error(err))
			_ = h.write(ctx, conn, ErrorMessage{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "heartbeat":
			_ = h.write(ctx, conn, HeartbeatMessage{Type: "heartbeat", Timestamp: time.Now().UTC()})

		case "cancel":
			var cancelMsg CancelMessage
			_ = json.Unmarshal(data, &cancelMsg)
			if err := h.cancel(ctx, cancelMsg.JobID); err != nil {
				_ = h.write(ctx, conn, ErrorMessage{Type: "error", Error: err.Error()})
			}

		case "quit":
			return

		default:
			h.logger.Debug("Unknown message type", zap.String("type", msg.Type))
			_ = h.write(ctx, conn, ErrorMessage{Type: "error", Error: "unknown message type: " + msg.Type})
		}
	}
}

var errJobMismatch = errors.New("job is not the one being tracked")

func (h *Hub) cancel(ctx context.Context, jobID string) error {
	if jobID != "" && h.tracker.Snapshot().JobID != jobID {
		return errJobMismatch
	}
	h.logger.Info("Cancel requested from dashboard", zap.String("job_id", jobID))
	return h.tracker.Cancel(ctx)
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
