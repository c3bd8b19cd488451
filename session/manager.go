package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/voicegate/conversation"
	"github.com/BaSui01/voicegate/internal/admission"
	"github.com/BaSui01/voicegate/internal/metrics"
	"github.com/BaSui01/voicegate/internal/pool"
	"github.com/BaSui01/voicegate/stage"
	"github.com/BaSui01/voicegate/types"
)

// IdleAction selects what the idle monitor does when a session crosses
// the idle threshold.
type IdleAction string

const (
	// IdleNotify marks the session Idle and invokes the idle callback.
	IdleNotify IdleAction = "notify"
	// IdleCancel additionally terminates the session immediately.
	IdleCancel IdleAction = "cancel"
)

// Config controls the session manager.
type Config struct {
	// MaxSessions caps concurrently active sessions.
	MaxSessions int `yaml:"max_sessions" json:"max_sessions"`
	// IdleTimeout is the quiet period after which a session is marked idle.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	// IdleAction is what to do with idle sessions: notify or cancel.
	IdleAction IdleAction `yaml:"idle_action" json:"idle_action"`
	// CheckInterval is how often the idle monitor sweeps.
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
	// DrainTimeout bounds how long a graceful end waits for buffered frames.
	DrainTimeout time.Duration `yaml:"drain_timeout" json:"drain_timeout"`
	// HistoryLimit caps messages kept per session; 0 means unlimited.
	// The system message is always retained.
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions:   25,
		IdleTimeout:   5 * time.Minute,
		IdleAction:    IdleNotify,
		CheckInterval: 15 * time.Second,
		DrainTimeout:  10 * time.Second,
		HistoryLimit:  0,
	}
}

// IdleFunc is invoked by the idle monitor, once per idle transition.
type IdleFunc func(s *Session)

// Manager owns the session registry. It brackets every session's lifetime
// with an admission slot and the stage leases its mode requires, and runs
// the idle monitor over the registry.
type Manager struct {
	cfg       Config
	admission *admission.Controller
	pool      *pool.Pool

	mu       sync.RWMutex
	sessions map[string]*Session

	idleFunc IdleFunc

	monitorCtx    context.Context
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}

	logger    *zap.Logger
	collector *metrics.Collector
}

// NewManager creates a session manager over the given stage pool. The
// collector may be nil.
func NewManager(cfg Config, p *pool.Pool, collector *metrics.Collector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultConfig().MaxSessions
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if cfg.IdleAction == "" {
		cfg.IdleAction = IdleNotify
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:           cfg,
		admission:     admission.NewController(cfg.MaxSessions, logger),
		pool:          p,
		sessions:      make(map[string]*Session),
		monitorCtx:    ctx,
		monitorCancel: cancel,
		monitorDone:   make(chan struct{}),
		logger:        logger.With(zap.String("component", "session_manager")),
		collector:     collector,
	}
	go m.monitor()
	return m
}

// OnIdle registers the callback the idle monitor invokes. Must be called
// before sessions are created.
func (m *Manager) OnIdle(fn IdleFunc) {
	m.idleFunc = fn
}

// Create admits, provisions, and registers a new session. The order is
// fixed: admission slot first, then mode validation, then one fail-fast
// pool acquisition per kind the mode requires. Any failure unwinds
// everything already taken, so a rejected request leaves no trace.
func (m *Manager) Create(ctx context.Context, agent types.AgentConfig, mode conversation.Mode) (*Session, error) {
	slot, err := m.admission.TryAdmit()
	if err != nil {
		m.collector.RecordSessionRejected()
		return nil, err
	}

	if err := mode.Validate(); err != nil {
		slot.Release()
		m.collector.RecordSessionRejected()
		return nil, err
	}

	id := uuid.NewString()
	leases := make(map[stage.Kind]*pool.Lease)
	for _, kind := range mode.Requires() {
		lease, acqErr := m.pool.Acquire(ctx, kind, id)
		m.recordAcquire(kind, acqErr)
		if acqErr != nil {
			for _, l := range leases {
				l.Release()
			}
			slot.Release()
			m.collector.RecordSessionRejected()
			m.logger.Warn("session creation rejected",
				zap.String("session_id", id),
				zap.String("kind", string(kind)),
				zap.Error(acqErr))
			return nil, acqErr
		}
		leases[kind] = lease
	}

	s := newSession(id, agent, mode, slot, leases, m.pool, m.cfg.HistoryLimit, m.logger, m.collector)
	s.requestEnd = func(graceful bool) {
		go func() {
			_ = m.End(id, graceful)
		}()
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go s.run()
	m.collector.RecordSessionStart()
	m.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("agent_id", agent.ID),
		zap.String("mode", mode.String()))
	return s, nil
}

func (m *Manager) recordAcquire(kind stage.Kind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "exhausted"
	}
	m.collector.RecordPoolAcquire(string(kind), outcome)
}

// Get returns a registered session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, types.SessionNotFound(id)
	}
	return s, nil
}

// List returns a snapshot of every registered session.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Snapshot())
	}
	m.mu.RUnlock()
	return infos
}

// End removes the session from the registry and tears it down. A graceful
// end drains buffered frames first; an immediate one stops in-flight work.
// Ending an unknown or already-ended id returns SESSION_NOT_FOUND.
func (m *Manager) End(id string, graceful bool) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return types.SessionNotFound(id)
	}

	s.shutdown(graceful, m.cfg.DrainTimeout)
	m.collector.RecordSessionEnd(time.Since(s.CreatedAt))
	return nil
}

// Stats is a point-in-time view of the manager, its admission controller,
// and the stage pool.
type Stats struct {
	Admission admission.Stats               `json:"admission"`
	Pool      map[stage.Kind]pool.KindStats `json:"pool"`
	Sessions  []Info                        `json:"sessions"`
}

// Snapshot returns the manager's current Stats.
func (m *Manager) Snapshot() Stats {
	return Stats{
		Admission: m.admission.Snapshot(),
		Pool:      m.pool.Stats(),
		Sessions:  m.List(),
	}
}

// Close stops the idle monitor and ends every registered session
// immediately. Used during server shutdown, before the pool drains.
func (m *Manager) Close() {
	m.monitorCancel()
	<-m.monitorDone

	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		remaining = append(remaining, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range remaining {
		s.shutdown(false, m.cfg.DrainTimeout)
		m.collector.RecordSessionEnd(time.Since(s.CreatedAt))
	}
	m.logger.Info("session manager closed", zap.Int("sessions_ended", len(remaining)))
}
