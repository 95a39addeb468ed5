package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/testorch/internal/aggregation"
	"github.com/R3E-Network/testorch/internal/logging"
)

const pollInterval = 2 * time.Second

// DashboardCounts is the payload broadcast over /ws/dashboard.
type DashboardCounts struct {
	RunningCount int `json:"runningCount"`
	QueuedCount  int `json:"queuedCount"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans DashboardCounts updates out to every connected websocket client.
// Best-effort: a client that never connects, or whose send buffer is full,
// loses nothing the polling dashboard endpoints don't already provide.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan DashboardCounts
	log     *logging.Logger
}

// NewHub builds an empty Hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan DashboardCounts), log: log}
}

// RunPoller periodically recomputes active run counts and broadcasts them,
// so a run's status change reaches connected clients even when it happens
// inside the queue or executor rather than through an HTTP request (the
// createRun/cancelRun handlers also broadcast directly, for lower latency
// on caller-initiated transitions). Exits when ctx is cancelled.
func (h *Hub) RunPoller(ctx context.Context, agg *aggregation.Aggregator) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last DashboardCounts
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active, err := agg.ActiveRuns(ctx)
			if err != nil {
				h.log.WithContext(ctx).WithError(err).Warn("dashboard poll failed to refresh active run counts")
				continue
			}
			counts := DashboardCounts{RunningCount: active.Running, QueuedCount: active.Queued}
			if first || counts != last {
				h.Broadcast(counts)
				last = counts
				first = false
			}
		}
	}
}

// Broadcast pushes counts to every connected client without blocking on a
// slow reader.
func (h *Hub) Broadcast(counts DashboardCounts) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- counts:
		default:
		}
	}
}

// ServeWS upgrades the request to a websocket connection and registers it
// with the hub until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("websocket upgrade failed")
		return
	}

	ch := make(chan DashboardCounts, 4)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close()
	}()

	done := make(chan struct{})
	go h.discardIncoming(conn, done)

	for {
		select {
		case counts := <-ch:
			if err := conn.WriteJSON(counts); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// discardIncoming drains client-sent frames so gorilla/websocket's control
// message handling (ping/pong, close) keeps working, and closes done once
// the client disconnects; the dashboard stream is one-directional and never
// reads application data from the client.
func (h *Hub) discardIncoming(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
