package execution

import (
	"context"
	"sync"

	"github.com/aretw0/max/pkg/domain"
)

// Handle tracks one sync run.
type Handle struct {
	e  *Executor
	id string

	mu  sync.Mutex
	rec *domain.SyncRecord

	cancel context.CancelCauseFunc
	done   chan struct{}
}

func finished(e *Executor, rec *domain.SyncRecord) *Handle {
	done := make(chan struct{})
	close(done)
	return &Handle{e: e, id: rec.ID, rec: rec, cancel: func(error) {}, done: done}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Installation() domain.InstallationID { return h.e.installation }

// Done is closed once the run reached a final status.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Status returns a snapshot of the run.
func (h *Handle) Status(context.Context) (*domain.SyncRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec.Clone(), nil
}

// Wait blocks until the run finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*domain.SyncRecord, error) {
	select {
	case <-h.done:
		return h.Status(ctx)
	case <-ctx.Done():
		rec, _ := h.Status(ctx)
		return rec, ctx.Err()
	}
}

// Cancel stops the run at the next page boundary. Cancelling a finished run
// does nothing.
func (h *Handle) Cancel(context.Context) error {
	h.cancel(errCancelled)
	return nil
}

func (h *Handle) update(rec *domain.SyncRecord) {
	snap := rec.Clone()
	h.mu.Lock()
	h.rec = snap
	h.mu.Unlock()
}
