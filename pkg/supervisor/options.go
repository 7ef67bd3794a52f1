package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/aretw0/max/internal/logging"
	"github.com/aretw0/max/pkg/domain"
	"github.com/aretw0/max/pkg/ports"
	"golang.org/x/time/rate"
)

// RestartPolicy decides what the monitor loop does with a Failed child.
type RestartPolicy string

const (
	// RestartManual only reports failures. The owner calls Restart.
	RestartManual RestartPolicy = "manual"
	// RestartAlways restarts failed children with backoff and a rate limit.
	RestartAlways RestartPolicy = "always"
	// RestartEscalate hands failures to the escalation callback once per failure.
	RestartEscalate RestartPolicy = "escalate"
)

// ParseRestartPolicy accepts the policy names used in configuration files.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch p := RestartPolicy(s); p {
	case "":
		return RestartManual, nil
	case RestartManual, RestartAlways, RestartEscalate:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown restart policy %q", domain.ErrInvalidArgs, s)
}

// EscalateFunc receives the id and health of a child that failed under RestartEscalate.
type EscalateFunc func(ctx context.Context, id string, h domain.Health)

// BackoffConfig shapes the delay between automatic restarts of one child.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultBackoff returns 1s doubling up to 5 minutes, with jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2,
		Jitter:       true,
	}
}

// NextDelay returns the delay before attempt N (1-based).
func (cfg BackoffConfig) NextDelay(attempt int) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return max(cfg.InitialDelay, 0)
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		delay *= 0.5 + rand.Float64()
	}
	return time.Duration(delay)
}

type config struct {
	kind   domain.NodeKind
	logger *slog.Logger
	hooks  domain.LifecycleHooks

	locker     ports.DistributedLocker
	lockPrefix string
	lockTTL    time.Duration

	policy        RestartPolicy
	backoff       BackoffConfig
	restartRate   rate.Limit
	restartBurst  int
	probeInterval time.Duration
	probeTimeout  time.Duration
	onEscalate    EscalateFunc
}

func defaultConfig() config {
	return config{
		logger:        logging.NewNop(),
		lockTTL:       30 * time.Second,
		policy:        RestartManual,
		backoff:       DefaultBackoff(),
		restartRate:   rate.Every(time.Minute),
		restartBurst:  5,
		probeInterval: 5 * time.Second,
		probeTimeout:  2 * time.Second,
	}
}

// Option configures the Supervisor.
type Option func(*config)

// WithLogger configures a logger for the Supervisor.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithKind names the level of the children, for logs and events.
func WithKind(kind domain.NodeKind) Option {
	return func(c *config) { c.kind = kind }
}

// WithHooks registers restart callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(c *config) { c.hooks = h }
}

// WithLocker enables distributed locking of lifecycle calls. Keys are prefix+id.
func WithLocker(locker ports.DistributedLocker, prefix string, ttl time.Duration) Option {
	return func(c *config) {
		c.locker = locker
		c.lockPrefix = prefix
		if ttl > 0 {
			c.lockTTL = ttl
		}
	}
}

// WithRestartPolicy sets the policy applied by Run.
func WithRestartPolicy(p RestartPolicy) Option {
	return func(c *config) { c.policy = p }
}

// WithBackoff sets the delay between automatic restarts.
func WithBackoff(b BackoffConfig) Option {
	return func(c *config) { c.backoff = b }
}

// WithRestartLimit caps automatic restarts of one child to r per second with burst b.
func WithRestartLimit(r rate.Limit, b int) Option {
	return func(c *config) {
		c.restartRate = r
		c.restartBurst = b
	}
}

// WithProbeInterval sets how often Run inspects the children.
func WithProbeInterval(every, timeout time.Duration) Option {
	return func(c *config) {
		if every > 0 {
			c.probeInterval = every
		}
		if timeout > 0 {
			c.probeTimeout = timeout
		}
	}
}

// WithEscalation sets the callback used by RestartEscalate.
func WithEscalation(fn EscalateFunc) Option {
	return func(c *config) { c.onEscalate = fn }
}
