// Package pool manages the bounded, per-kind collections of AI stage
// instances that sessions borrow while a modality needs them.
//
// Each kind has an independent fixed-capacity free list with lazy growth:
// a free instance is handed over in O(1) with no re-initialization; when
// the free list is empty and the built count is below the cap, a new
// instance is constructed on demand. Beyond that the caller either fails
// fast (session creation) or waits with a bounded timeout (mid-session
// mode change).
package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/voicegate/stage"
	"github.com/BaSui01/voicegate/types"
)

// Factory constructs a new instance of the given kind.
type Factory func(kind stage.Kind) (stage.Instance, error)

// Config configures per-kind capacities and the mid-session wait bound.
type Config struct {
	// Capacity is the hard per-kind instance limit.
	Capacity map[stage.Kind]int `yaml:"capacity" json:"capacity"`
	// AcquireTimeout bounds AcquireWait when every instance is leased.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	// Prewarm instances per kind are built eagerly at startup.
	Prewarm int `yaml:"prewarm" json:"prewarm"`
}

// DefaultConfig returns sensible defaults: five instances per kind, the
// same bound the original deployment ran with.
func DefaultConfig() Config {
	return Config{
		Capacity: map[stage.Kind]int{
			stage.KindRecognizer:  5,
			stage.KindGenerator:   5,
			stage.KindSynthesizer: 5,
		},
		AcquireTimeout: 5 * time.Second,
		Prewarm:        2,
	}
}

// Pool owns the per-kind instance buckets.
type Pool struct {
	factory  Factory
	buckets  map[stage.Kind]*bucket
	timeout  time.Duration
	draining atomic.Bool
	// inflight counts outstanding leases. Drain polls it rather than
	// waiting on a WaitGroup so a lease granted concurrently with the
	// draining flag flip can never race an in-progress Wait.
	inflight atomic.Int64
	logger   *zap.Logger
}

type bucket struct {
	kind   stage.Kind
	cap    int
	free   chan stage.Instance
	built  atomic.Int32
	leased atomic.Int32
}

// New creates a pool. Kinds missing from cfg.Capacity get capacity zero
// and always report exhaustion.
func New(cfg Config, factory Factory, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		factory: factory,
		buckets: make(map[stage.Kind]*bucket, len(stage.Kinds())),
		timeout: cfg.AcquireTimeout,
		logger:  logger.With(zap.String("component", "resource_pool")),
	}
	for _, kind := range stage.Kinds() {
		capacity := cfg.Capacity[kind]
		p.buckets[kind] = &bucket{
			kind: kind,
			cap:  capacity,
			free: make(chan stage.Instance, max(capacity, 1)),
		}
	}
	return p
}

// Prewarm eagerly builds up to n instances per kind, bounded by each
// kind's capacity. Used at server startup to avoid first-session latency.
func (p *Pool) Prewarm(n int) error {
	for _, b := range p.buckets {
		target := min(n, b.cap)
		for i := 0; i < target; i++ {
			inst, err := p.build(b)
			if err != nil {
				return fmt.Errorf("prewarm %s: %w", b.kind, err)
			}
			b.free <- inst
		}
	}
	return nil
}

// Acquire obtains an instance without blocking. Policy: used at session
// creation, where failing fast keeps rejection latency low under load
// instead of stalling the admission queue.
func (p *Pool) Acquire(ctx context.Context, kind stage.Kind, sessionID string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, lease, err := p.tryAcquire(kind, sessionID)
	if err != nil || lease != nil {
		return lease, err
	}
	p.logger.Debug("pool exhausted",
		zap.String("kind", string(kind)),
		zap.String("session_id", sessionID),
		zap.Int32("built", b.built.Load()))
	return nil, types.ResourceUnavailable(string(kind))
}

// AcquireWait obtains an instance, blocking up to the configured acquire
// timeout when the kind is exhausted. Policy: used mid-session by mode
// changes, where a short wait beats rejecting the switch outright.
func (p *Pool) AcquireWait(ctx context.Context, kind stage.Kind, sessionID string) (*Lease, error) {
	b, lease, err := p.tryAcquire(kind, sessionID)
	if err != nil || lease != nil {
		return lease, err
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case inst := <-b.free:
		return p.lease(b, inst, sessionID)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		p.logger.Debug("acquire wait timed out",
			zap.String("kind", string(kind)),
			zap.String("session_id", sessionID),
			zap.Duration("timeout", p.timeout))
		return nil, types.ResourceUnavailable(string(kind))
	}
}

// tryAcquire performs the non-blocking part shared by both policies:
// free instance first, then lazy construction below the cap.
func (p *Pool) tryAcquire(kind stage.Kind, sessionID string) (*bucket, *Lease, error) {
	b, ok := p.buckets[kind]
	if !ok {
		return nil, nil, types.NewError(types.ErrInternalError,
			fmt.Sprintf("unknown resource kind %q", kind))
	}
	if p.draining.Load() {
		return b, nil, types.ResourceUnavailable(string(kind))
	}

	select {
	case inst := <-b.free:
		lease, err := p.lease(b, inst, sessionID)
		return b, lease, err
	default:
	}

	for {
		built := b.built.Load()
		if built >= int32(b.cap) {
			return b, nil, nil
		}
		if !b.built.CompareAndSwap(built, built+1) {
			continue
		}
		inst, err := p.factory(kind)
		if err != nil {
			b.built.Add(-1)
			return b, nil, types.NewError(types.ErrResourceUnavailable,
				fmt.Sprintf("failed to construct %s instance", kind)).
				WithCause(err).WithRetryable(true)
		}
		p.logger.Debug("built instance",
			zap.String("kind", string(kind)),
			zap.Int32("built", built+1))
		lease, err := p.lease(b, inst, sessionID)
		return b, lease, err
	}
}

// lease wraps inst for exclusive use. The draining flag is re-checked
// after the in-flight count is bumped, closing the window where an
// acquisition slips past a concurrently starting Drain.
func (p *Pool) lease(b *bucket, inst stage.Instance, sessionID string) (*Lease, error) {
	b.leased.Add(1)
	p.inflight.Add(1)
	if p.draining.Load() {
		b.leased.Add(-1)
		p.inflight.Add(-1)
		if err := inst.Close(); err != nil {
			p.logger.Warn("closing drained instance failed", zap.Error(err))
		}
		b.built.Add(-1)
		return nil, types.ResourceUnavailable(string(b.kind))
	}
	return &Lease{pool: p, bucket: b, instance: inst, sessionID: sessionID}, nil
}

// Drain stops handing out leases and waits for outstanding leases to be
// released. If ctx expires first, still-outstanding leases are abandoned:
// their eventual release closes the instance instead of recycling it.
func (p *Pool) Drain(ctx context.Context) error {
	p.draining.Store(true)

	var drainErr error
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
wait:
	for p.inflight.Load() > 0 {
		select {
		case <-ctx.Done():
			drainErr = ctx.Err()
			p.logger.Warn("pool drain timed out, abandoning outstanding leases")
			break wait
		case <-ticker.C:
		}
	}

	// Close everything sitting on the free lists.
	g := new(errgroup.Group)
	for _, b := range p.buckets {
		b := b
		g.Go(func() error {
			for {
				select {
				case inst := <-b.free:
					if err := inst.Close(); err != nil {
						return fmt.Errorf("close %s instance: %w", b.kind, err)
					}
				default:
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Error("error closing pooled instances", zap.Error(err))
		if drainErr == nil {
			drainErr = err
		}
	}
	return drainErr
}

// Stats returns a per-kind utilization snapshot.
func (p *Pool) Stats() map[stage.Kind]KindStats {
	stats := make(map[stage.Kind]KindStats, len(p.buckets))
	for kind, b := range p.buckets {
		stats[kind] = KindStats{
			Built:  int(b.built.Load()),
			Free:   len(b.free),
			Leased: int(b.leased.Load()),
			Cap:    b.cap,
		}
	}
	return stats
}

// KindStats describes one kind's utilization.
type KindStats struct {
	Built  int `json:"built"`
	Free   int `json:"free"`
	Leased int `json:"leased"`
	Cap    int `json:"cap"`
}

func (p *Pool) build(b *bucket) (stage.Instance, error) {
	inst, err := p.factory(b.kind)
	if err != nil {
		return nil, err
	}
	b.built.Add(1)
	return inst, nil
}

// Lease is temporary exclusive ownership of one pooled instance by one
// session. A lease is held by at most one session at a time.
type Lease struct {
	pool      *Pool
	bucket    *bucket
	instance  stage.Instance
	sessionID string
	released  atomic.Bool
}

// Instance returns the leased stage instance.
func (l *Lease) Instance() stage.Instance {
	return l.instance
}

// Kind returns the leased resource kind.
func (l *Lease) Kind() stage.Kind {
	return l.bucket.kind
}

// SessionID returns the owning session's id.
func (l *Lease) SessionID() string {
	return l.sessionID
}

// Release returns the instance to the free list. Releasing twice is a
// programming defect: the second call is a logged no-op. During drain the
// instance is closed instead of recycled.
func (l *Lease) Release() {
	if l.released.Swap(true) {
		l.pool.logger.Error("lease released twice",
			zap.String("kind", string(l.bucket.kind)),
			zap.String("session_id", l.sessionID))
		return
	}
	l.bucket.leased.Add(-1)

	if l.pool.draining.Load() {
		if err := l.instance.Close(); err != nil {
			l.pool.logger.Warn("closing drained instance failed", zap.Error(err))
		}
		l.bucket.built.Add(-1)
		l.pool.inflight.Add(-1)
		return
	}

	select {
	case l.bucket.free <- l.instance:
	default:
		// Free list full: only possible if built-count accounting broke.
		l.pool.logger.DPanic("free list overflow",
			zap.String("kind", string(l.bucket.kind)))
	}
	l.pool.inflight.Add(-1)
}
