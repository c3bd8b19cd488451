// Package admission gatekeeps the number of concurrently active sessions.
//
// The controller is shared by every session task; all state lives in
// atomics so concurrent admits linearize without a lock. A rejected
// admission is an expected, reported outcome, not an error condition for
// the server.
package admission

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/voicegate/types"
)

// Controller tracks admission slots against a configured maximum.
type Controller struct {
	max    int64
	active atomic.Int64

	// Lifetime counters.
	peak     atomic.Int64
	granted  atomic.Int64
	rejected atomic.Int64

	logger *zap.Logger
}

// NewController creates a controller permitting up to max concurrent
// sessions. max must be positive.
func NewController(max int, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		max:    int64(max),
		logger: logger.With(zap.String("component", "admission")),
	}
}

// TryAdmit attempts to claim one admission slot. It never blocks. On
// success it returns a release token; on rejection it returns a retryable
// CAPACITY_EXCEEDED error and leaves all counters consistent.
//
// The CAS loop guarantees that concurrent callers can never jointly
// observe room and overshoot the maximum.
func (c *Controller) TryAdmit() (*Slot, error) {
	for {
		cur := c.active.Load()
		if cur >= c.max {
			c.rejected.Add(1)
			c.logger.Warn("session rejected, server at capacity",
				zap.Int64("active", cur),
				zap.Int64("max", c.max))
			return nil, types.CapacityExceeded(cur, c.max)
		}
		if c.active.CompareAndSwap(cur, cur+1) {
			c.granted.Add(1)
			c.updatePeak(cur + 1)
			return &Slot{ctrl: c}, nil
		}
	}
}

func (c *Controller) updatePeak(current int64) {
	for {
		peak := c.peak.Load()
		if current <= peak || c.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}

// release decrements the active count. Called exactly once per slot; the
// idempotency guard lives on the Slot.
func (c *Controller) release() {
	if c.active.Add(-1) < 0 {
		// Counter corruption would mean a slot was released without being
		// granted. Repair and record the defect.
		c.active.Store(0)
		c.logger.DPanic("admission counter went negative")
	}
}

// Max returns the configured session limit.
func (c *Controller) Max() int64 {
	return c.max
}

// Snapshot returns a read-only view of the admission counters.
func (c *Controller) Snapshot() Stats {
	return Stats{
		Active:   c.active.Load(),
		Peak:     c.peak.Load(),
		Granted:  c.granted.Load(),
		Rejected: c.rejected.Load(),
		Max:      c.max,
	}
}

// Stats is a read-only snapshot of the admission counters.
type Stats struct {
	Active   int64 `json:"active"`
	Peak     int64 `json:"peak"`
	Granted  int64 `json:"granted"`
	Rejected int64 `json:"rejected"`
	Max      int64 `json:"max"`
}

// Slot is a claimed unit of session capacity. It must be released exactly
// once, when the owning session ends.
type Slot struct {
	ctrl     *Controller
	released atomic.Bool
}

// Release returns the slot. Releasing twice is a programming defect: the
// second call is a logged no-op and the counters are not touched again.
func (s *Slot) Release() {
	if s.released.Swap(true) {
		s.ctrl.logger.Error("admission slot released twice")
		return
	}
	s.ctrl.release()
}
