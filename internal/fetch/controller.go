package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxAttempts caps fetch attempts per location.
	DefaultMaxAttempts = 3

	// DefaultDelayFloor is the minimum delay between requests issued from
	// one worker slot. Applied per slot, not globally, so throughput scales
	// with concurrency while any single connection path stays rate-limited.
	DefaultDelayFloor = time.Second

	// NoDelayFloor disables the per-slot delay floor entirely. A zero
	// delayFloor means unset and takes the default.
	NoDelayFloor time.Duration = -1
)

// Controller wraps a fetch engine with retry and per-slot rate limiting.
// One Controller serves all workers of a job; each worker holds its own Slot.
type Controller struct {
	engine      Engine
	maxAttempts uint64
	delayFloor  time.Duration
	logger      *slog.Logger
}

// NewController creates a fetch controller over the given engine.
func NewController(engine Engine, maxAttempts int, delayFloor time.Duration, logger *slog.Logger) *Controller {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if delayFloor == 0 {
		delayFloor = DefaultDelayFloor
	}
	if delayFloor < 0 {
		delayFloor = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		engine:      engine,
		maxAttempts: uint64(maxAttempts),
		delayFloor:  delayFloor,
		logger:      logger,
	}
}

// Slot is one worker's handle on the controller. It enforces the per-slot
// delay floor between consecutive requests.
type Slot struct {
	c    *Controller
	last time.Time
}

// Slot returns a new worker slot.
func (c *Controller) Slot() *Slot { return &Slot{c: c} }

// Fetch retrieves a location, retrying transient failures with bounded
// exponential backoff. Permanent failures return immediately. The per-slot
// delay floor is applied before the first attempt.
func (s *Slot) Fetch(ctx context.Context, location string) (*Result, error) {
	if wait := s.c.delayFloor - time.Since(s.last); wait > 0 && !s.last.IsZero() {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.last = time.Now()

	var result *Result
	operation := func() error {
		r, err := s.c.engine.Fetch(ctx, location)
		if err != nil {
			if IsTransient(err) {
				s.c.logger.Debug("transient fetch failure, will retry", "location", location, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, s.c.maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}
