package session

import (
	"time"

	"go.uber.org/zap"
)

// monitor sweeps the registry on the configured interval, marks quiet
// sessions Idle exactly once per quiet period, and applies the configured
// idle action. It also refreshes the pool gauges so the stage pool is
// observable without its own goroutine.
func (m *Manager) monitor() {
	defer close(m.monitorDone)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.monitorCtx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	for kind, ks := range m.pool.Stats() {
		m.collector.RecordPoolGauges(string(kind), ks.Leased, ks.Built)
	}
	if m.cfg.IdleTimeout <= 0 {
		return
	}

	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, s := range candidates {
		quiet := now.Sub(s.LastActivity())
		if quiet < m.cfg.IdleTimeout || s.State() != StateActive {
			continue
		}
		// Latch before transitioning so a concurrent activity event that
		// swaps the latch back also restores the Active state.
		if s.idleLatched.Swap(true) {
			continue
		}
		if !s.transition(StateIdle) {
			s.idleLatched.Store(false)
			continue
		}
		m.collector.RecordIdleTimeout()
		s.logger.Info("session idle",
			zap.Duration("quiet", quiet),
			zap.String("action", string(m.cfg.IdleAction)))
		if m.idleFunc != nil {
			m.idleFunc(s)
		}
		if m.cfg.IdleAction == IdleCancel {
			_ = m.End(s.ID, false)
		}
	}
}
