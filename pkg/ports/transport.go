package ports

import (
	"context"

	"github.com/aretw0/max/pkg/domain"
)

// Transport is the client end of a request/response channel.
// Implementations own framing, timeouts and reconnection.
type Transport interface {
	// RoundTrip sends req and waits for its response. A lost peer is reported as
	// domain.ErrTransportDisconnected.
	RoundTrip(ctx context.Context, req domain.Request) (domain.Response, error)
	Close() error
}

// Conn is the server end of a Transport.
type Conn interface {
	// Receive blocks until the next request arrives. It returns
	// domain.ErrTransportDisconnected once the peer has gone away.
	Receive(ctx context.Context) (domain.Request, error)
	// Reply sends the response of a previously received request. It is safe for
	// concurrent use.
	Reply(ctx context.Context, resp domain.Response) error
	Close() error
}
