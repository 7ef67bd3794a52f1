// Package transport holds the pieces shared by Transport implementations:
// request id assignment and routing of responses back to their callers.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/max/pkg/domain"
)

// SendFunc writes one request frame to the peer.
type SendFunc func(ctx context.Context, req domain.Request) error

// Mux correlates responses with in-flight requests by id. Responses may arrive
// in any order.
type Mux struct {
	send SendFunc

	mu      sync.Mutex
	next    uint64
	pending map[uint64]chan domain.Response
	err     error // set once the peer is gone
}

// NewMux creates a multiplexer writing through send.
func NewMux(send SendFunc) *Mux {
	return &Mux{send: send, pending: make(map[uint64]chan domain.Response)}
}

// RoundTrip assigns a fresh id to req, sends it and waits for the matching response.
func (m *Mux) RoundTrip(ctx context.Context, req domain.Request) (domain.Response, error) {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return domain.Response{}, err
	}
	m.next++
	req.ID = m.next
	ch := make(chan domain.Response, 1)
	m.pending[req.ID] = ch
	m.mu.Unlock()

	if err := m.send(ctx, req); err != nil {
		m.forget(req.ID)
		return domain.Response{}, fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return domain.Response{}, m.Err()
		}
		return resp, nil
	case <-ctx.Done():
		m.forget(req.ID)
		return domain.Response{}, ctx.Err()
	}
}

// Deliver hands a response to its waiting caller. Responses nobody waits for
// (late replies to canceled calls) are dropped and reported as false.
func (m *Mux) Deliver(resp domain.Response) bool {
	m.mu.Lock()
	ch, ok := m.pending[resp.ID]
	delete(m.pending, resp.ID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// Fail marks the peer as gone and releases every waiting caller with
// domain.ErrTransportDisconnected. Later calls fail immediately.
func (m *Mux) Fail(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return
	}
	if cause == nil {
		m.err = domain.ErrTransportDisconnected
	} else {
		m.err = fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, cause)
	}
	for id, ch := range m.pending {
		close(ch)
		delete(m.pending, id)
	}
}

// Err returns the disconnect error, or nil while the peer is connected.
func (m *Mux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Pending returns the number of calls awaiting a response.
func (m *Mux) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mux) forget(id uint64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}
