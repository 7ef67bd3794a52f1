// Package memory provides an in-process Transport backed by channels.
package memory

import (
	"context"
	"sync"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/transport"
)

// Pipe returns the two ends of a connected in-memory transport.
func Pipe() (*Client, *Conn) {
	p := &pipe{
		requests: make(chan domain.Request),
		closed:   make(chan struct{}),
	}
	c := &Client{p: p}
	c.mux = transport.NewMux(c.send)
	p.mux = c.mux
	return c, &Conn{p: p}
}

type pipe struct {
	requests chan domain.Request
	mux      *transport.Mux

	once   sync.Once
	closed chan struct{}
}

func (p *pipe) close() {
	p.once.Do(func() {
		close(p.closed)
		p.mux.Fail(nil)
	})
}

// Client is the caller side of a Pipe.
type Client struct {
	p   *pipe
	mux *transport.Mux
}

func (c *Client) send(ctx context.Context, req domain.Request) error {
	select {
	case c.p.requests <- req:
		return nil
	case <-c.p.closed:
		return domain.ErrTransportDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoundTrip implements ports.Transport.
func (c *Client) RoundTrip(ctx context.Context, req domain.Request) (domain.Response, error) {
	return c.mux.RoundTrip(ctx, req)
}

// Close disconnects both ends.
func (c *Client) Close() error {
	c.p.close()
	return nil
}

// Conn is the dispatcher side of a Pipe.
type Conn struct {
	p *pipe
}

// Receive implements ports.Conn.
func (c *Conn) Receive(ctx context.Context) (domain.Request, error) {
	select {
	case req := <-c.p.requests:
		return req, nil
	case <-c.p.closed:
		return domain.Request{}, domain.ErrTransportDisconnected
	case <-ctx.Done():
		return domain.Request{}, ctx.Err()
	}
}

// Reply implements ports.Conn.
func (c *Conn) Reply(_ context.Context, resp domain.Response) error {
	select {
	case <-c.p.closed:
		return domain.ErrTransportDisconnected
	default:
	}
	c.p.mux.Deliver(resp)
	return nil
}

// Close disconnects both ends.
func (c *Conn) Close() error {
	c.p.close()
	return nil
}
