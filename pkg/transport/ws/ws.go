// Package ws carries requests and responses as JSON text messages over a
// websocket, for nodes hosted on another machine.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/transport"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is the caller side of a websocket transport.
type Client struct {
	conn *websocket.Conn
	mux  *transport.Mux

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// Dial connects to a websocket endpoint served by Handler.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %v", domain.ErrTransportDisconnected, err)
	}
	c := &Client{conn: conn, done: make(chan struct{})}
	c.mux = transport.NewMux(c.send)
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

func (c *Client) send(_ context.Context, req domain.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(req)
}

func (c *Client) readLoop() {
	defer close(c.done)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var resp domain.Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = nil
			}
			c.mux.Fail(err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.mux.Deliver(resp)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// RoundTrip implements ports.Transport.
func (c *Client) RoundTrip(ctx context.Context, req domain.Request) (domain.Response, error) {
	return c.mux.RoundTrip(ctx, req)
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close sends a close frame and tears down the connection.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.mux.Fail(nil)
	})
	return err
}

// Conn is the dispatcher side of a websocket transport.
type Conn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Receive implements ports.Conn.
func (c *Conn) Receive(ctx context.Context) (domain.Request, error) {
	if err := ctx.Err(); err != nil {
		return domain.Request{}, err
	}
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return domain.Request{}, fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
		}
		var req domain.Request
		if err := json.Unmarshal(data, &req); err != nil {
			rpcErr := domain.NewRPCError(fmt.Errorf("%w: malformed request: %v", domain.ErrInvalidArgs, err), nil)
			if werr := c.Reply(ctx, domain.Response{Error: rpcErr}); werr != nil {
				return domain.Request{}, werr
			}
			continue
		}
		return req, nil
	}
}

// Reply implements ports.Conn.
func (c *Conn) Reply(_ context.Context, resp domain.Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(resp); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
	}
	return nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Handler upgrades HTTP requests to websocket connections and passes each one
// to serve. serve returns when the connection should be closed.
func Handler(serve func(ctx context.Context, conn *Conn), opts ...HandlerOption) http.Handler {
	h := &handler{serve: serve, upgrader: websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandlerOption configures Handler.
type HandlerOption func(*handler)

// WithOriginCheck overrides the default same-origin check of the upgrader.
func WithOriginCheck(fn func(r *http.Request) bool) HandlerOption {
	return func(h *handler) { h.upgrader.CheckOrigin = fn }
}

type handler struct {
	serve    func(ctx context.Context, conn *Conn)
	upgrader websocket.Upgrader
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		return
	}
	conn := &Conn{conn: wsConn}
	defer conn.Close()

	ctx := r.Context()
	stop := context.AfterFunc(ctx, func() { _ = wsConn.Close() })
	defer stop()
	h.serve(ctx, conn)
}
