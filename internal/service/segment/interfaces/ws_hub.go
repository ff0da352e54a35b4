package interfaces

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"storepulse/internal/pkg/httpx"
	"storepulse/internal/pkg/logger"
	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/segment/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsSendBuffer = 64
)

// SegmentFeedHub pushes segment.recalculated events to the dashboards of the same tenant
// connected to this node. Every node consumes the topic with its own consumer group.
type SegmentFeedHub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*feedClient]struct{} // tenant key -> sockets
}

type feedClient struct {
	hub  *SegmentFeedHub
	key  string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewSegmentFeedHub accepts upgrades from allowedOrigins; an empty list allows any origin.
func NewSegmentFeedHub(allowedOrigins []string) *SegmentFeedHub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return &SegmentFeedHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
		clients: make(map[string]map[*feedClient]struct{}),
	}
}

// ServeWS upgrades the request. The tenant comes only from the gateway headers, as on the REST routes.
func (h *SegmentFeedHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	scope, err := tenant.FromRequest(r)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &feedClient{hub: h, key: scope.Key(), conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.register(c)
	go c.writePump()
	go c.readPump()
}

func (h *SegmentFeedHub) register(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.key]
	if !ok {
		set = make(map[*feedClient]struct{})
		h.clients[c.key] = set
	}
	set[c] = struct{}{}
}

func (h *SegmentFeedHub) unregister(c *feedClient) {
	h.mu.Lock()
	if set, ok := h.clients[c.key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.key)
		}
	}
	h.mu.Unlock()
	c.close()
}

// Broadcast queues payload for every socket of the tenant. Sockets whose buffer is full are dropped.
func (h *SegmentFeedHub) Broadcast(scope tenant.Scope, payload []byte) int {
	h.mu.RLock()
	targets := make([]*feedClient, 0, len(h.clients[scope.Key()]))
	for c := range h.clients[scope.Key()] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		switch c.trySend(payload) {
		case sendOK:
			delivered++
		case sendFull:
			h.unregister(c)
		}
	}
	return delivered
}

// Connections reports how many sockets the tenant has open on this node.
func (h *SegmentFeedHub) Connections(scope tenant.Scope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[scope.Key()])
}

// HandleEvent has the mq.HandlerFunc signature.
func (h *SegmentFeedHub) HandleEvent(ctx context.Context, msg kafka.Message) error {
	var evt domain.SegmentRecalculated
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("decode segment event: %w", err)
	}
	scope := tenant.Scope{UserID: evt.UserID, OrganizationID: evt.OrganizationID}
	if n := h.Broadcast(scope, msg.Value); n > 0 {
		logger.Ctx(ctx).Debug().Str("segment_id", evt.SegmentID).Int("sockets", n).Msg("segment event pushed")
	}
	return nil
}

// Close disconnects every socket.
func (h *SegmentFeedHub) Close() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*feedClient]struct{})
	h.mu.Unlock()
	for _, set := range all {
		for c := range set {
			c.close()
		}
	}
}

type sendResult int

const (
	sendOK sendResult = iota
	sendFull
	sendClosed
)

func (c *feedClient) trySend(payload []byte) sendResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return sendClosed
	}
	select {
	case c.send <- payload:
		return sendOK
	default:
		return sendFull
	}
}

func (c *feedClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *feedClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; dashboards never send data.
func (c *feedClient) readPump() {
	defer c.hub.unregister(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
