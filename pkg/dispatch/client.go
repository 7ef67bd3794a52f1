package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
)

// Client performs typed calls over a Transport. A client may be scoped to a
// path so its calls reach a node below the one serving the transport.
type Client struct {
	t    ports.Transport
	path []string
}

// NewClient creates a client for the node at path below the transport's server.
func NewClient(t ports.Transport, path ...string) *Client {
	return &Client{t: t, path: path}
}

// Sub returns a client for the child id of this client's node. Both share the
// transport.
func (c *Client) Sub(id string) *Client {
	path := make([]string, 0, len(c.path)+1)
	path = append(path, c.path...)
	return &Client{t: c.t, path: append(path, id)}
}

// Path returns the routing path of the client.
func (c *Client) Path() []string { return c.path }

// Transport returns the underlying transport.
func (c *Client) Transport() ports.Transport { return c.t }

// Call invokes method with args and decodes the result into out, which may be
// nil. Remote failures come back as *domain.RPCError, so errors.Is against the
// domain sentinels works.
func (c *Client) Call(ctx context.Context, method string, args any, out any) error {
	req := domain.Request{Path: c.path, Method: method}
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("%w: encode %s args: %v", domain.ErrInvalidArgs, method, err)
		}
		req.Args = b
	}

	resp, err := c.t.RoundTrip(ctx, req)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil || len(resp.Result) == 0 || bytes.Equal(resp.Result, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", domain.ErrInternal, method, err)
	}
	return nil
}

// Forward implements Forwarder by sending req further down this client's path.
func (c *Client) Forward(ctx context.Context, req domain.Request) domain.Response {
	full := req
	full.Path = append(append([]string(nil), c.path...), req.Path...)
	resp, err := c.t.RoundTrip(ctx, full)
	if err != nil {
		return domain.Response{ID: req.ID, Error: domain.NewRPCError(err, map[string]string{"method": req.Method})}
	}
	resp.ID = req.ID
	return resp
}

// Close closes the transport.
func (c *Client) Close() error {
	return c.t.Close()
}
