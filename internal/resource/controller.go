package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// DefaultMaxConcurrentFetches is used when Config.MaxConcurrentFetches is 0.
const DefaultMaxConcurrentFetches = 16

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for cached bytes.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxConcurrentFetches is the maximum number of blob reads in flight.
	// If 0, defaults to DefaultMaxConcurrentFetches.
	MaxConcurrentFetches int64

	// FetchBytesPerSec is the maximum fetch throughput. If 0, unlimited.
	FetchBytesPerSec int64
}

// Controller enforces the limits of a Config. It is safe for concurrent use.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	fetchSem *semaphore.Weighted
	inFlight atomic.Int64

	limiter *rate.Limiter // nil if unlimited
	burst   int
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}

	c := &Controller{
		cfg:      cfg,
		fetchSem: semaphore.NewWeighted(cfg.MaxConcurrentFetches),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.FetchBytesPerSec > 0 {
		c.burst = int(min(cfg.FetchBytesPerSec, 1<<30))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.FetchBytesPerSec), c.burst)
	}

	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// AcquireMemory reserves memory without blocking.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}
	c.memUsed.Add(bytes)
	return nil
}

// TryAcquireMemory is AcquireMemory reporting success as a bool.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	return c.AcquireMemory(bytes) == nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// InFlight returns the number of fetches currently running.
func (c *Controller) InFlight() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}

// Fetch runs fn while holding a fetch slot, after the rate limiter admitted
// expectBytes. expectBytes may be 0 when the size is not known up front.
func (c *Controller) Fetch(ctx context.Context, expectBytes int64, fn func(context.Context) error) error {
	if c == nil {
		return fn(ctx)
	}
	if err := c.fetchSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.fetchSem.Release(1)

	if err := c.waitBytes(ctx, expectBytes); err != nil {
		return err
	}

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	return fn(ctx)
}

// waitBytes blocks until the limiter admits n bytes. Requests above the burst
// size are admitted in burst-sized steps.
func (c *Controller) waitBytes(ctx context.Context, n int64) error {
	if c.limiter == nil {
		return nil
	}
	for n > 0 {
		step := min(n, int64(c.burst))
		if err := c.limiter.WaitN(ctx, int(step)); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
