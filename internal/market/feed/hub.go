// Package feed transmite o ciclo de vida dos mercados para clientes WebSocket.
package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/betting-house/internal/journal"
	"github.com/radieske/betting-house/internal/projection"
)

const (
	Name         = "market-feed"
	writeTimeout = 2 * time.Second
)

// client serializa as escritas: os workers das tags fazem broadcast em paralelo
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, b)
}

// Hub gerencia conexões e assinaturas por mercado
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	// marketID -> clientes inscritos
	subs map[string]map[*client]struct{}
}

// NewHub cria o hub com a política de origem recebida (CORS)
func NewHub(log *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS atende uma conexão até o cliente desconectar
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	c := &client{conn: conn}

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			h.mu.Lock()
			if _, ok := h.subs[msg.MarketID]; !ok {
				h.subs[msg.MarketID] = make(map[*client]struct{})
			}
			h.subs[msg.MarketID][c] = struct{}{}
			h.mu.Unlock()
			ack, _ := json.Marshal(map[string]string{"type": "subscribed", "marketId": msg.MarketID})
			_ = c.write(websocket.TextMessage, ack)
		case "unsubscribe":
			h.unsubscribe(c, msg.MarketID)
		case "ping":
			_ = c.write(websocket.TextMessage, []byte(`{"type":"pong"}`))
		}
	}

	// remove a conexão de todas as assinaturas ao desconectar
	h.mu.Lock()
	for id, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(c *client, marketID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.subs[marketID]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, marketID)
		}
	}
}

// Subscribers devolve quantos clientes acompanham o mercado
func (h *Hub) Subscribers(marketID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[marketID])
}

// Broadcast envia o evento para os inscritos no mercado; devolve quantos receberam
func (h *Hub) Broadcast(ev projection.MarketEvent) int {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.subs[ev.MarketID]))
	for c := range h.subs[ev.MarketID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return 0
	}

	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("encode market event", zap.Error(err))
		return 0
	}
	sent := 0
	for _, c := range conns {
		if err := c.write(websocket.TextMessage, b); err != nil {
			h.log.Debug("websocket write failed", zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// Name e Apply fazem do hub uma projeção at-least-once do journal
func (h *Hub) Name() string { return Name }

func (h *Hub) Apply(_ context.Context, r journal.Record) error {
	if ev, ok := projection.MarketEventFrom(r); ok {
		h.Broadcast(ev)
	}
	return nil
}
