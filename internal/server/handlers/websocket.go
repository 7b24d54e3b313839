package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caseloom/caseloom/internal/auth"
	"github.com/caseloom/caseloom/internal/catalog"
	"github.com/caseloom/caseloom/internal/logfields"
	"github.com/caseloom/caseloom/internal/progress"
)

const (
	// Time allowed to write a message to the peer.
	socketWriteWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	socketPongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than socketPongWait.
	socketPingPeriod = (socketPongWait * 9) / 10
	// Subscription messages are tiny; anything larger is a broken client.
	socketMaxMessageSize = 512
)

// Client subscription message types.
const (
	msgSubscribeCase   = "subscribe-case-file"
	msgUnsubscribeCase = "unsubscribe-case-file"
)

// clientMessage is a subscription control frame sent by the client.
type clientMessage struct {
	Type       string `json:"type"`
	CaseFileID string `json:"caseFileId"`
}

// serverFrame wraps one progress event for delivery.
type serverFrame struct {
	Event string         `json:"event"`
	Data  progress.Event `json:"data"`
}

func frameFor(e progress.Event) serverFrame {
	name := "document:progress"
	if e.IsSummary() {
		name = "summary:progress"
	}
	return serverFrame{Event: name, Data: e}
}

// SocketHandlers upgrades websocket connections and bridges them onto the
// progress hub. Each connection may subscribe to any number of cases owned
// by the authenticated user.
type SocketHandlers struct {
	hub      *progress.Hub
	catalog  *catalog.Catalog
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewSocketHandlers creates the websocket handler module.
func NewSocketHandlers(hub *progress.Hub, cat *catalog.Catalog, logger *slog.Logger) *SocketHandlers {
	return &SocketHandlers{
		hub:     hub,
		catalog: cat,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Bearer auth happens before the upgrade; the API is not
			// cookie-authenticated, so cross-origin pages gain nothing.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleSocket upgrades the connection and serves it until the client
// disconnects.
func (h *SocketHandlers) HandleSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error response.
		h.logger.WarnContext(r.Context(), "Websocket upgrade failed", logfields.Error(err))
		return
	}

	client := &socketClient{
		conn:    conn,
		hub:     h.hub,
		catalog: h.catalog,
		logger:  h.logger,
		userID:  identity.UserID,
		send:    make(chan serverFrame, 64),
		done:    make(chan struct{}),
		subs:    make(map[string]*progress.Subscription),
	}
	go client.writePump()
	client.readPump(r)
}

// socketClient is one live websocket connection and its subscription set.
type socketClient struct {
	conn    *websocket.Conn
	hub     *progress.Hub
	catalog *catalog.Catalog
	logger  *slog.Logger
	userID  string

	send chan serverFrame
	done chan struct{}

	mu   sync.Mutex
	subs map[string]*progress.Subscription
}

// readPump consumes subscription messages until the connection drops, then
// tears the client down.
func (c *socketClient) readPump(r *http.Request) {
	defer c.shutdown()

	c.conn.SetReadLimit(socketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(socketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(socketPongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.DebugContext(r.Context(), "Websocket closed unexpectedly", logfields.Error(err))
			}
			return
		}
		switch msg.Type {
		case msgSubscribeCase:
			c.subscribe(r, msg.CaseFileID)
		case msgUnsubscribeCase:
			c.unsubscribe(msg.CaseFileID)
		default:
			c.logger.DebugContext(r.Context(), "Ignoring unknown websocket message type",
				slog.String("type", msg.Type))
		}
	}
}

// subscribe registers the connection for one case's events. Subscriptions to
// cases the user does not own are ignored. Subscribing twice is a no-op.
func (c *socketClient) subscribe(r *http.Request, caseID string) {
	if caseID == "" {
		return
	}
	cs, err := c.catalog.GetCase(r.Context(), caseID)
	if err != nil || cs.UserID != c.userID {
		c.logger.WarnContext(r.Context(), "Ignoring subscription to unavailable case",
			logfields.CaseID(caseID))
		return
	}

	c.mu.Lock()
	if _, exists := c.subs[caseID]; exists {
		c.mu.Unlock()
		return
	}
	sub := c.hub.Subscribe(caseID)
	c.subs[caseID] = sub
	c.mu.Unlock()

	go c.forward(sub)
}

// unsubscribe drops one case subscription. Unsubscribing twice is a no-op.
func (c *socketClient) unsubscribe(caseID string) {
	c.mu.Lock()
	sub, ok := c.subs[caseID]
	if ok {
		delete(c.subs, caseID)
	}
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// forward pushes one subscription's events into the outbound queue. It ends
// when the subscription's channel closes or the client goes away.
func (c *socketClient) forward(sub *progress.Subscription) {
	for e := range sub.Events() {
		select {
		case c.send <- frameFor(e):
		case <-c.done:
			return
		}
	}
}

// writePump serializes all writes to the connection and keeps the peer alive
// with pings.
func (c *socketClient) writePump() {
	ticker := time.NewTicker(socketPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// shutdown closes every subscription and stops the write pump. Runs exactly
// once, from readPump's defer.
func (c *socketClient) shutdown() {
	c.mu.Lock()
	subs := make([]*progress.Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[string]*progress.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	close(c.done)
	c.conn.Close()
}
