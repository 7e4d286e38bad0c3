// Package ws streams job transition events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// replayCount is how many recent events a new client receives.
	replayCount = 50

	resubscribeMin = time.Second
	resubscribeMax = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS and auth middleware in front of /ws.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// History is implemented by buses that keep recent payloads.
type History interface {
	Recent(ctx context.Context, channel string, n int) ([][]byte, error)
}

// Hub relays every payload on domain.ChannelResolution to connected
// clients. A client may narrow its feed to specific request ids.
type Hub struct {
	bus       domain.SignalBus
	agent     string
	logger    *slog.Logger
	startedAt time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	// Bounds of the backoff between subscribe attempts.
	retryMin time.Duration
	retryMax time.Duration
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, agent string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		agent:      agent,
		logger:     logger.With(slog.String("component", "ws")),
		startedAt:  time.Now().UTC(),
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		retryMin:   resubscribeMin,
		retryMax:   resubscribeMax,
	}
}

// Run subscribes to the bus and serves clients until ctx is cancelled. A
// failed or closed subscription is retried with backoff while connected
// clients stay attached, so Run only returns once ctx is done and its error
// is always nil.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	var (
		events <-chan []byte
		retry  <-chan time.Time
		wait   = h.retryMin
	)
	scheduleRetry := func() {
		retry = time.After(wait)
		wait = min(wait*2, h.retryMax)
	}
	subscribe := func() {
		ch, err := h.bus.Subscribe(ctx, domain.ChannelResolution)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn("bus subscribe failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", wait),
			)
			scheduleRetry()
			return
		}
		events, retry, wait = ch, nil, h.retryMin
	}
	subscribe()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return nil

		case <-retry:
			retry = nil
			subscribe()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case payload, ok := <-events:
			if !ok {
				events = nil
				if ctx.Err() != nil {
					continue
				}
				h.logger.Warn("bus subscription closed", slog.Duration("retry_in", wait))
				scheduleRetry()
				continue
			}
			h.fanOut(payload)
		}
	}
}

func (h *Hub) fanOut(payload []byte) {
	id := eventRequestID(payload)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(id) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the connection.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		ids:  make(map[string]bool),
	}

	c.queue(h.statusMessage())
	h.replay(r.Context(), c)

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) statusMessage() []byte {
	msg, _ := json.Marshal(map[string]any{
		"type": "agent_status",
		"payload": map[string]any{
			"agent":          h.agent,
			"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
			"channel":        domain.ChannelResolution,
		},
	})
	return msg
}

func (h *Hub) replay(ctx context.Context, c *client) {
	hist, ok := h.bus.(History)
	if !ok {
		return
	}
	payloads, err := hist.Recent(ctx, domain.ChannelResolution, replayCount)
	if err != nil {
		h.logger.Warn("replay history", slog.String("error", err.Error()))
		return
	}
	for _, p := range payloads {
		c.queue(p)
	}
}

// eventRequestID pulls job.request_id out of a JobEvent payload.
func eventRequestID(payload []byte) string {
	var ev struct {
		Job struct {
			RequestID string `json:"request_id"`
		} `json:"job"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ""
	}
	return ev.Job.RequestID
}
