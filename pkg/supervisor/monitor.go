package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
)

// Run inspects the children every probe interval until ctx is done. Children that
// implement ports.Prober are probed first; Failed children are handled according
// to the restart policy.
func (s *Supervisor[T, ID, C]) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.probeInterval)
	defer ticker.Stop()

	s.logger.Debug("Monitor started", "interval", s.cfg.probeInterval, "policy", string(s.cfg.policy))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check runs one monitoring pass over every child.
func (s *Supervisor[T, ID, C]) Check(ctx context.Context) {
	for _, id := range s.snapshot() {
		if ctx.Err() != nil {
			return
		}
		s.checkOne(ctx, id)
	}
}

func (s *Supervisor[T, ID, C]) checkOne(ctx context.Context, id ID) {
	c, err := s.lookup(id)
	if err != nil {
		return
	}

	if p, ok := any(c.node).(ports.Prober); ok {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.probeTimeout)
		if _, err := p.Probe(pctx); err != nil {
			s.logger.Debug("Probe failed", "node_id", fmt.Sprint(id), "err", err)
		}
		cancel()
	}

	h := c.node.Health()
	if h.State != domain.StateFailed {
		if h.State == domain.StateRunning {
			c.mu.Lock()
			c.attempts = 0
			c.escalated = false
			c.mu.Unlock()
		}
		return
	}

	switch s.cfg.policy {
	case RestartAlways:
		s.autoRestart(ctx, id, c)
	case RestartEscalate:
		s.escalate(ctx, id, c, h)
	}
}

func (s *Supervisor[T, ID, C]) autoRestart(ctx context.Context, id ID, c *child[T, C]) {
	_ = s.withLock(ctx, id, func(ctx context.Context) error {
		// Another caller may have handled it while we waited for the lock.
		if c.node.Health().State != domain.StateFailed {
			return nil
		}
		now := time.Now()
		c.mu.Lock()
		if now.Before(c.nextTry) || !c.limiter.Allow() {
			c.mu.Unlock()
			return nil
		}
		c.attempts++
		attempt := c.attempts
		c.nextTry = now.Add(s.cfg.backoff.NextDelay(attempt))
		c.mu.Unlock()

		st, err := s.restartLocked(ctx, c)
		s.logger.Info("Restarted failed child",
			"node_id", fmt.Sprint(id),
			"attempt", attempt,
			"state", st.String(),
			"err", err,
		)
		s.emitRestart(ctx, id, attempt, false)
		return nil
	})
}

func (s *Supervisor[T, ID, C]) escalate(ctx context.Context, id ID, c *child[T, C], h domain.Health) {
	c.mu.Lock()
	already := c.escalated
	c.escalated = true
	c.mu.Unlock()
	if already {
		return
	}
	s.logger.Warn("Escalating failed child", "node_id", fmt.Sprint(id), "err", h.Error)
	if s.cfg.onEscalate != nil {
		s.cfg.onEscalate(ctx, fmt.Sprint(id), h)
	}
	s.emitRestart(ctx, id, 0, true)
}

func (s *Supervisor[T, ID, C]) emitRestart(ctx context.Context, id ID, attempt int, escalated bool) {
	if s.cfg.hooks.OnRestart == nil {
		return
	}
	s.cfg.hooks.OnRestart(ctx, &domain.RestartEvent{
		EventBase: domain.EventBase{
			Timestamp: time.Now(),
			Type:      domain.EventRestart,
			NodeID:    fmt.Sprint(id),
			Kind:      s.cfg.kind,
		},
		Attempt:   attempt,
		Escalated: escalated,
	})
}
