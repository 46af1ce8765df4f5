package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/infrastructure/config"
	"github.com/wagerline/wagerline-core/internal/infrastructure/logging"
)

// Frame types on the event feed.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound frame buffer.
	wsSendBufferSize = 256
)

// WSMessage is one frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

var errBadChannels = errors.New("payload must be {\"channels\": [...]}")

// Hub tracks connected clients by account and fans events out to them.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	accounts map[string]map[*WSClient]struct{}
	count    int
}

// WSClient is one connection, bound to the account and role of the ticket
// that opened it.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	closed        bool

	accountID string
	role      auth.Role
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		accounts: make(map[string]map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	var all []*WSClient
	for _, set := range h.accounts {
		for c := range set {
			all = append(all, c)
		}
	}
	h.accounts = make(map[string]map[*WSClient]struct{})
	h.count = 0
	h.mu.Unlock()

	for _, c := range all {
		c.shutdown()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client under its account.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	set, ok := h.accounts[c.accountID]
	if !ok {
		set = make(map[*WSClient]struct{})
		h.accounts[c.accountID] = set
	}
	if _, dup := set[c]; !dup {
		set[c] = struct{}{}
		h.count++
	}
	n := h.count
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "account_id", c.accountID, "clients", n)
}

// Unregister removes a client and closes its send channel. Calling it twice
// is harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	set := h.accounts[c.accountID]
	_, found := set[c]
	if found {
		delete(set, c)
		h.count--
		if len(set) == 0 {
			delete(h.accounts, c.accountID)
		}
	}
	n := h.count
	h.mu.Unlock()

	if found {
		c.shutdown()
		h.logger.Debug("websocket client disconnected", "account_id", c.accountID, "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Broadcast sends an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	h.deliver(h.clients(""), channel, payload)
}

// SendToAccount sends an event to the account's clients subscribed to channel.
func (h *Hub) SendToAccount(accountID, channel string, payload any) {
	if accountID == "" {
		return
	}
	h.deliver(h.clients(accountID), channel, payload)
}

// clients snapshots the clients of accountID, or of every account when
// accountID is empty.
func (h *Hub) clients(accountID string) []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if accountID != "" {
		out := make([]*WSClient, 0, len(h.accounts[accountID]))
		for c := range h.accounts[accountID] {
			out = append(out, c)
		}
		return out
	}
	out := make([]*WSClient, 0, h.count)
	for _, set := range h.accounts {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) deliver(targets []*WSClient, channel string, payload any) {
	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	sent, dropped := 0, 0
	for _, c := range targets {
		if !c.isSubscribed(channel) {
			continue
		}
		if c.push(data) {
			sent++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket event dropped for slow clients", "channel", channel, "dropped", dropped)
	}
	if sent > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "recipients", sent)
	}
}

// handleWebSocket upgrades a request carrying a single-use ticket from
// POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	accountID, role, ok, err := s.takeTicket(r.Context(), ticket)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to check ticket")
		return
	}
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		accountID:     accountID,
		role:          role,
	}
	s.hub.Register(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "account_id", c.accountID, "error", err)
			}
			return
		}
		// Application frames count as liveness too.
		extend() //nolint:errcheck // see above
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error is checked instead
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		channels, err := channelsOf(msg)
		if err != nil {
			c.replyError(msg.ID, err.Error())
			return
		}
		granted, denied := c.subscribe(channels)
		resp := map[string]any{"subscribed": granted}
		if len(denied) > 0 {
			resp["denied"] = denied
		}
		c.reply(msg.ID, WSTypeResponse, resp)
	case WSTypeUnsubscribe:
		channels, err := channelsOf(msg)
		if err != nil {
			c.replyError(msg.ID, err.Error())
			return
		}
		c.unsubscribe(channels)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.replyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// channelsOf decodes the channel list of a subscribe or unsubscribe frame.
func channelsOf(msg WSMessage) ([]string, error) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, errBadChannels
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, errBadChannels
	}
	return sub.Channels, nil
}

func (c *WSClient) subscribe(channels []string) (granted, denied []string) {
	granted = make([]string, 0, len(channels))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if !c.mayJoin(ch) {
			denied = append(denied, ch)
			continue
		}
		c.subscriptions[ch] = struct{}{}
		granted = append(granted, ch)
	}
	return granted, denied
}

func (c *WSClient) unsubscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
}

// mayJoin reports whether the client's role may receive events on channel.
func (c *WSClient) mayJoin(channel string) bool {
	switch channel {
	case ChannelRequestCreated, ChannelRequestReviewed:
		return auth.HasPermission(c.role, auth.PermRequestReview)
	case ChannelSessionRevoked:
		return true
	default:
		return false
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// push queues data without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *WSClient) push(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel once, which stops writePump.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.push(data)
}

func (c *WSClient) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
