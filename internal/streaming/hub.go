// Package streaming provides WebSocket fan-out of forecast and market
// events to subscribed clients. Adapted from
// pkg/trader/streaming/hub.go (register/unregister/broadcast channel loop,
// per-client subscription filter, ping/pong keepalive) and retargeted from
// trading-signal/position events to forecast-session and market-book
// events.
package streaming

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phenomenon0/forecastmarket/internal/logging"
)

// EventType names one kind of broadcast event.
type EventType string

const (
	EventForecastPhaseDone     EventType = "forecast.phase_done"
	EventForecastCompleted     EventType = "forecast.completed"
	EventForecastFailed        EventType = "forecast.failed"
	EventMarketTrade           EventType = "market.trade"
	EventMarketOrderBookChange EventType = "market.order_book_changed"
	EventMarketSettled         EventType = "market.settled"
	EventHeartbeat             EventType = "heartbeat"
)

// Event is one message broadcast to subscribed clients.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Hub manages WebSocket connections and fans out events to subscribers.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	upgrader websocket.Upgrader
	log      *logging.Logger
}

// Client is one subscribed WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subscriptions map[EventType]bool
	subMu         sync.RWMutex
}

// NewHub builds an empty Hub. Call Run in its own goroutine before serving
// any /ws connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logging.New("streaming"),
	}
}

// Run drives the hub's event loop; it never returns.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-heartbeat.C:
			h.Broadcast(Event{Type: EventHeartbeat, Data: map[string]any{"clients": h.ClientCount()}})
		}
	}
}

func (h *Hub) broadcastEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Errorf("marshal event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.isSubscribed(event.Type) {
			continue
		}
		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Broadcast queues event for fan-out; the call never blocks, dropping the
// event if the internal buffer is full.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warnf("broadcast buffer full, dropping %s event", event.Type)
	}
}

// BroadcastPhaseDone announces one orchestrator phase's completion.
func (h *Hub) BroadcastPhaseDone(sessionID, phase string, durationSeconds float64) {
	h.Broadcast(Event{Type: EventForecastPhaseDone, SessionID: sessionID, Data: map[string]any{"phase": phase, "duration_seconds": durationSeconds}})
}

// BroadcastForecastCompleted announces a session's final prediction.
func (h *Hub) BroadcastForecastCompleted(sessionID string, result any) {
	h.Broadcast(Event{Type: EventForecastCompleted, SessionID: sessionID, Data: result})
}

// BroadcastForecastFailed announces a session failure.
func (h *Hub) BroadcastForecastFailed(sessionID string, err error) {
	h.Broadcast(Event{Type: EventForecastFailed, SessionID: sessionID, Data: map[string]any{"error": err.Error()}})
}

// BroadcastTrades announces newly executed trades against a market.
func (h *Hub) BroadcastTrades(sessionID string, trades any) {
	h.Broadcast(Event{Type: EventMarketTrade, SessionID: sessionID, Data: trades})
}

// BroadcastOrderBookChanged announces a book snapshot change.
func (h *Hub) BroadcastOrderBookChanged(sessionID string, snapshot any) {
	h.Broadcast(Event{Type: EventMarketOrderBookChange, SessionID: sessionID, Data: snapshot})
}

// BroadcastSettled announces a market settlement's payouts.
func (h *Hub) BroadcastSettled(sessionID string, payouts any) {
	h.Broadcast(Event{Type: EventMarketSettled, SessionID: sessionID, Data: payouts})
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a WebSocket connection subscribed to
// every event type by default.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[EventType]bool),
	}
	for _, t := range []EventType{
		EventForecastPhaseDone, EventForecastCompleted, EventForecastFailed,
		EventMarketTrade, EventMarketOrderBookChange, EventMarketSettled, EventHeartbeat,
	} {
		client.subscriptions[t] = true
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) isSubscribed(t EventType) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[t]
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg struct {
		Type   string      `json:"type"`
		Events []EventType `json:"events"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	switch msg.Type {
	case "subscribe":
		for _, e := range msg.Events {
			c.subscriptions[e] = true
		}
	case "unsubscribe":
		for _, e := range msg.Events {
			delete(c.subscriptions, e)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
