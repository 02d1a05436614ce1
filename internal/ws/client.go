package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pliu/chatty/internal/live"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	authWait    = 10 * time.Second
	maxFrameLen = 4096
)

const invalidAuthentication = "Invalid authentication"

var ErrClientClosed = errors.New("client closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Authenticator resolves the first frame a client sends into a username.
type Authenticator interface {
	AuthenticateFrame(ctx context.Context, frame string) (string, error)
}

// BindFunc attaches live queries to a freshly authenticated client. When it
// fails the client is disconnected after whatever it already queued.
type BindFunc func(ctx context.Context, c *Client) error

// Client is a middleman between the websocket connection and the live
// queries it is bound to.
type Client struct {
	ID       string
	Username string

	log  *slog.Logger
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	subs   []*live.Subscription
}

func newClient(hub *Hub, conn *websocket.Conn, username string) *Client {
	id := uuid.NewString()
	return &Client{
		ID:       id,
		Username: username,
		log:      hub.log.With("client", id, "username", username),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.bufferSize),
	}
}

// Deliver queues payload for the client without blocking. It reports false
// when the payload was dropped because the client is gone or saturated.
func (c *Client) Deliver(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// DeliverJSON encodes v and queues it.
func (c *Client) DeliverJSON(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		c.log.Error("Failed to encode live update", "error", err)
		return false
	}
	return c.Deliver(payload)
}

// Bind subscribes the client to q. Every emitted value is sent as JSON.
func Bind[T any](c *Client, e *live.Engine, q live.Query[T]) error {
	return attach(c, e, q, func(v T) {
		if !c.DeliverJSON(v) {
			c.log.Debug("Dropped live update", "query", q.Key)
		}
	})
}

// Watch keeps the client connected only while allow accepts the values of
// q. The first rejected value closes the client. Nothing is sent to the
// client for q itself.
func Watch[T any](c *Client, e *live.Engine, q live.Query[T], allow func(T) bool) error {
	return attach(c, e, q, func(v T) {
		if !allow(v) {
			c.log.Info("Closing client", "query", q.Key)
			c.Close()
		}
	})
}

func attach[T any](c *Client, e *live.Engine, q live.Query[T], deliver func(T)) error {
	sub, err := live.Subscribe(e, q, deliver)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Unsubscribe()
		return ErrClientClosed
	}
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Close disconnects the client with a normal close frame once its queued
// frames are written. It never blocks, so it is safe to call from a live
// query callback.
func (c *Client) Close() {
	go c.hub.leave(c)
}

// release drops every subscription and stops the write pump. Safe to call
// more than once.
func (c *Client) release() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	close(c.send)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// readPump discards inbound frames and only serves to notice disconnects and
// pongs.
func (c *Client) readPump() {
	defer c.hub.leave(c)

	c.conn.SetReadLimit(maxFrameLen)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Warn("Websocket read failed", "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request, authenticates the first frame and hands the
// client to bind. Clients that fail authentication get a single
// "Invalid authentication" frame before the connection closes.
func ServeWs(hub *Hub, authn Authenticator, bind BindFunc, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	username, err := authenticate(r.Context(), conn, authn)
	if err != nil {
		hub.log.Debug("Websocket authentication failed", "error", err)
		reject(conn)
		return
	}

	client := newClient(hub, conn, username)
	if !hub.join(client) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	go client.writePump()

	if err := bind(r.Context(), client); err != nil {
		client.log.Debug("Websocket bind failed", "error", err)
		hub.leave(client)
		return
	}
	client.readPump()
}

func authenticate(ctx context.Context, conn *websocket.Conn, authn Authenticator) (string, error) {
	conn.SetReadLimit(maxFrameLen)
	_ = conn.SetReadDeadline(time.Now().Add(authWait))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	return authn.AuthenticateFrame(ctx, string(frame))
}

func reject(conn *websocket.Conn) {
	deadline := time.Now().Add(writeWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteMessage(websocket.TextMessage, []byte(invalidAuthentication))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, invalidAuthentication), deadline)
	conn.Close()
}
