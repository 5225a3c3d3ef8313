// Package realtime broadcasts table change events to websocket subscribers.
//
// Each subscriber names one table when it connects and receives only the
// events of that table. Events are fanned out by a single loop; a slow or
// broken subscriber is dropped rather than stalling the others.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dmitrijs2005/balancesync/internal/logging"
	"github.com/dmitrijs2005/balancesync/internal/server/models"
)

const (
	writeTimeout = 5 * time.Second
	queueSize    = 100
)

type subscriber struct {
	conn     *websocket.Conn
	resource string
}

// Hub tracks subscribers and broadcasts published events to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}

	broadcast chan models.ChangeEvent
	logger    logging.Logger
}

func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		clients:   make(map[*subscriber]struct{}),
		broadcast: make(chan models.ChangeEvent, queueSize),
		logger:    logger.With("component", "realtime"),
	}
}

// Publish queues ev for delivery. The event is dropped when the queue is
// full.
func (h *Hub) Publish(ev models.ChangeEvent) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn(context.Background(), "broadcast queue full, dropping event", "table", ev.Table, "type", ev.Type)
	}
}

// Run delivers queued events until ctx is done, then disconnects every
// subscriber.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-h.broadcast:
			h.deliver(ctx, ev)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, ev models.ChangeEvent) {
	if ev.CommitTimestamp.IsZero() {
		ev.CommitTimestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error(ctx, "failed to marshal event", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.clients))
	for s := range h.clients {
		if s.resource == ev.Table {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := s.conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Warn(ctx, "failed to send to subscriber", "table", s.resource, "error", err)
			h.remove(s, websocket.StatusGoingAway)
		}
	}
}

// Serve upgrades the request and keeps the subscription open until the
// peer disconnects or the hub stops.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, resource string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	s := &subscriber{conn: conn, resource: resource}
	h.mu.Lock()
	h.clients[s] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug(r.Context(), "subscriber connected", "table", resource, "total", n)

	defer h.remove(s, websocket.StatusNormalClosure)
	for {
		// Subscribers do not send anything; reading detects disconnects.
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (h *Hub) remove(s *subscriber, code websocket.StatusCode) {
	h.mu.Lock()
	_, ok := h.clients[s]
	delete(h.clients, s)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = s.conn.Close(code, "")
	h.logger.Debug(context.Background(), "subscriber disconnected", "table", s.resource, "total", n)
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	all := make([]*subscriber, 0, len(h.clients))
	for s := range h.clients {
		all = append(all, s)
	}
	h.mu.RUnlock()
	for _, s := range all {
		h.remove(s, websocket.StatusGoingAway)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
