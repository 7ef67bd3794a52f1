package subprocess

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/aretw0/max/pkg/dispatch"
	"github.com/aretw0/max/pkg/transport/stream"
)

// ServeSocket serves d on a unix socket at path until ctx is done. A leftover
// socket file is replaced.
func ServeSocket(ctx context.Context, path string, d *dispatch.Dispatcher) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return err
	}
	defer os.Remove(path)
	return stream.Serve(ctx, ln, func(ctx context.Context, conn *stream.Conn) {
		_ = d.Serve(ctx, conn)
	})
}
