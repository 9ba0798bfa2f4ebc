package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024

	// Size of the send buffer for each client.
	sendBufferSize = 256
)

// Event types broadcast to WebSocket clients.
const (
	EventTypeSweepPending   = "sweep.pending"
	EventTypeSweepRunning   = "sweep.running"
	EventTypeSweepProgress  = "sweep.progress"
	EventTypeSweepCompleted = "sweep.completed"
	EventTypeSweepFailed    = "sweep.failed"
	EventTypeSweepCancelled = "sweep.cancelled"
)

// WSMessage represents a WebSocket message sent to clients.
type WSMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// SubscriptionMessage is sent by clients to filter what they receive.
// Empty filters receive everything.
type SubscriptionMessage struct {
	Action     string   `json:"action"` // "subscribe" or "unsubscribe"
	EventTypes []string `json:"event_types"`
	RunIDs     []string `json:"run_ids"`
}

// SweepUpdate is the payload of every sweep event.
type SweepUpdate struct {
	RunID     uuid.UUID          `json:"run_id"`
	Symbol    string             `json:"symbol"`
	Timeframe domain.Timeframe   `json:"timeframe"`
	Status    domain.SweepStatus `json:"status"`
	Progress  domain.Progress    `json:"progress"`
	Error     *string            `json:"error,omitempty"`

	BestParams  *domain.StrategyParams `json:"best_params,omitempty"`
	BestMetrics *domain.MetricsSummary `json:"best_metrics,omitempty"`
	BestScore   *float64               `json:"best_score,omitempty"`
	Partial     bool                   `json:"partial,omitempty"`
}

// outbound is one encoded message and the run it concerns.
type outbound struct {
	eventType string
	runID     string
	payload   []byte
}

// Client represents a WebSocket client connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	mu         sync.RWMutex
	eventTypes map[string]bool
	runIDs     map[string]bool

	logger *zap.Logger
}

// Hub maintains the set of active clients and broadcasts sweep updates to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new Hub instance.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.Named("ws"),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.fanOut(msg)

		case <-h.done:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Debug("Client unregistered", zap.Int("total_clients", len(h.clients)))
	}
}

// fanOut delivers msg to every interested client. Slow clients are dropped.
func (h *Hub) fanOut(msg outbound) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !client.wants(msg.eventType, msg.runID) {
			continue
		}
		select {
		case client.send <- msg.payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Dropping slow WebSocket client")
		h.remove(client)
	}
}

// RunUpdated broadcasts a sweep run snapshot.
func (h *Hub) RunUpdated(run domain.SweepRun) {
	update := SweepUpdate{
		RunID:     run.ID,
		Symbol:    run.Request.Symbol,
		Timeframe: run.Request.Timeframe,
		Status:    run.Status,
		Progress:  run.Progress,
		Error:     run.Error,
	}
	if run.Result != nil {
		update.BestParams = &run.Result.BestParams
		update.BestMetrics = &run.Result.BestMetrics
		update.BestScore = &run.Result.BestScore
		update.Partial = run.Result.Partial
	}
	h.BroadcastEvent(eventType(run), run.ID.String(), update)
}

func eventType(run domain.SweepRun) string {
	switch run.Status {
	case domain.SweepStatusPending:
		return EventTypeSweepPending
	case domain.SweepStatusRunning:
		if run.Progress.Total > 0 {
			return EventTypeSweepProgress
		}
		return EventTypeSweepRunning
	case domain.SweepStatusCompleted:
		return EventTypeSweepCompleted
	case domain.SweepStatusCancelled:
		return EventTypeSweepCancelled
	default:
		return EventTypeSweepFailed
	}
}

// BroadcastEvent broadcasts an event about runID to all connected clients.
func (h *Hub) BroadcastEvent(eventType, runID string, data interface{}) {
	payload, err := json.Marshal(WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err), zap.String("event_type", eventType))
		return
	}

	select {
	case h.broadcast <- outbound{eventType: eventType, runID: runID, payload: payload}:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", zap.String("event_type", eventType))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown stops the hub and closes all clients.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
	h.clients = make(map[*Client]bool)
}

// wants reports whether the client's filters admit the message.
func (c *Client) wants(eventType, runID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.eventTypes) > 0 && !c.eventTypes[eventType] {
		return false
	}
	if len(c.runIDs) > 0 && !c.runIDs[runID] {
		return false
	}
	return true
}

func (c *Client) apply(msg SubscriptionMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.EventTypes {
			c.eventTypes[t] = true
		}
		for _, id := range msg.RunIDs {
			c.runIDs[id] = true
		}
	case "unsubscribe":
		for _, t := range msg.EventTypes {
			delete(c.eventTypes, t)
		}
		for _, id := range msg.RunIDs {
			delete(c.runIDs, id)
		}
	default:
		c.logger.Debug("Unknown subscription action", zap.String("action", msg.Action))
		return
	}

	c.logger.Debug("Subscriptions updated",
		zap.String("action", msg.Action),
		zap.Strings("event_types", msg.EventTypes),
		zap.Strings("run_ids", msg.RunIDs),
	)
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var sub SubscriptionMessage
		if err := json.Unmarshal(message, &sub); err != nil {
			c.logger.Debug("Ignoring non-JSON message")
			continue
		}
		c.apply(sub)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and registers a client. The optional run_id
// query parameter pre-subscribes the client to one run.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(h, conn, h.logger.With(zap.String("remote_addr", r.RemoteAddr)))
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		client.runIDs[runID] = true
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func newClient(h *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		eventTypes: make(map[string]bool),
		runIDs:     make(map[string]bool),
		logger:     logger,
	}
}
