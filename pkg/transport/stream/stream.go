// Package stream carries requests and responses as newline-delimited JSON over
// any byte stream, typically a unix socket or a subprocess pipe.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/transport"
)

// MaxFrameSize bounds a single JSON line.
const MaxFrameSize = 16 << 20

// writer serializes frames onto w.
type writer struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

func newWriter(w io.Writer) *writer {
	return &writer{w: w, enc: json.NewEncoder(w)}
}

// write encodes v followed by a newline.
func (w *writer) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), MaxFrameSize)
	return sc
}

// Client is the caller side of a stream transport.
type Client struct {
	rwc io.ReadWriteCloser
	w   *writer
	mux *transport.Mux

	once sync.Once
	done chan struct{}
}

// NewClient starts reading responses from rwc. The client owns rwc.
func NewClient(rwc io.ReadWriteCloser) *Client {
	c := &Client{rwc: rwc, w: newWriter(rwc), done: make(chan struct{})}
	c.mux = transport.NewMux(func(_ context.Context, req domain.Request) error {
		return c.w.write(req)
	})
	go c.readLoop()
	return c
}

// Dial connects to a stream server, e.g. Dial(ctx, "unix", "/path/node.sock").
func Dial(ctx context.Context, network, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrTransportDisconnected, address, err)
	}
	return NewClient(conn), nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	sc := newScanner(c.rwc)
	for sc.Scan() {
		var resp domain.Response
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			c.mux.Fail(fmt.Errorf("malformed response frame: %w", err))
			_ = c.rwc.Close()
			return
		}
		c.mux.Deliver(resp)
	}
	c.mux.Fail(sc.Err())
}

// RoundTrip implements ports.Transport.
func (c *Client) RoundTrip(ctx context.Context, req domain.Request) (domain.Response, error) {
	return c.mux.RoundTrip(ctx, req)
}

// Done is closed once the peer has gone away.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close closes the underlying stream and fails in-flight calls.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		err = c.rwc.Close()
		c.mux.Fail(nil)
	})
	return err
}

// Conn is the dispatcher side of a stream transport.
type Conn struct {
	rwc io.ReadWriteCloser
	sc  *bufio.Scanner
	w   *writer

	// Receive is called from a single goroutine; the scanner is not shared.
	recvMu sync.Mutex
}

// NewConn wraps rwc. The conn owns rwc.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{rwc: rwc, sc: newScanner(rwc), w: newWriter(rwc)}
}

// Receive implements ports.Conn. A malformed line is answered with an
// invalid-arguments response and skipped, keeping the stream usable.
func (c *Conn) Receive(ctx context.Context) (domain.Request, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return domain.Request{}, err
		}
		if !c.sc.Scan() {
			if err := c.sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
				return domain.Request{}, fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
			}
			return domain.Request{}, domain.ErrTransportDisconnected
		}
		line := c.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var req domain.Request
		if err := json.Unmarshal(line, &req); err != nil {
			rpcErr := domain.NewRPCError(fmt.Errorf("%w: malformed request: %v", domain.ErrInvalidArgs, err), nil)
			if werr := c.w.write(domain.Response{Error: rpcErr}); werr != nil {
				return domain.Request{}, fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, werr)
			}
			continue
		}
		return req, nil
	}
}

// Reply implements ports.Conn.
func (c *Conn) Reply(_ context.Context, resp domain.Response) error {
	if err := c.w.write(resp); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
	}
	return nil
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.rwc.Close()
}

// Serve accepts connections on ln and hands each one to handle in its own
// goroutine until ctx is done or ln is closed.
func Serve(ctx context.Context, ln net.Listener, handle func(context.Context, *Conn)) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := NewConn(nc)
			defer conn.Close()
			// Receive blocks in a read; closing the stream unblocks it.
			stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer stop()
			handle(ctx, conn)
		}()
	}
}
