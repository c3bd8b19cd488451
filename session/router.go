package session

import (
	"go.uber.org/zap"

	"github.com/BaSui01/voicegate/conversation"
	"github.com/BaSui01/voicegate/internal/pool"
	"github.com/BaSui01/voicegate/stage"
	"github.com/BaSui01/voicegate/types"
)

// Route accepts one inbound frame. Frames for a disabled input modality
// are dropped here, before they reach the processing loop, and the drop
// is recorded; control frames trigger termination and are never queued.
//
// Routing is non-blocking: if the session's input buffer is full the
// frame is rejected with a retryable error rather than stalling the
// caller's read loop.
func (s *Session) Route(frame conversation.Frame) error {
	if !s.accepting.Load() {
		return types.NewError(types.ErrSessionEnded, "session is no longer accepting input")
	}

	mode := s.Mode()
	switch frame.Category {
	case conversation.FrameAudioInput:
		if !mode.VoiceInput {
			s.dropFrame(frame, "voice input disabled")
			return nil
		}
	case conversation.FrameTextInput:
		if !mode.TextInput {
			s.dropFrame(frame, "text input disabled")
			return nil
		}
	case conversation.FrameControl:
		s.collector.RecordFrameRouted(string(frame.Category), "forwarded")
		if s.requestEnd != nil {
			s.requestEnd(frame.Control != conversation.ControlEndImmediate)
		}
		return nil
	default:
		s.dropFrame(frame, "unknown category")
		return nil
	}

	select {
	case s.inbox <- frame:
		s.collector.RecordFrameRouted(string(frame.Category), "forwarded")
		return nil
	case <-s.ctx.Done():
		return types.NewError(types.ErrSessionEnded, "session is no longer accepting input")
	default:
		s.collector.RecordFrameRouted(string(frame.Category), "rejected")
		return types.NewError(types.ErrInternalError, "session input buffer full").WithRetryable(true)
	}
}

// ChangeMode atomically switches the session to the requested mode. The
// resources the new mode needs beyond the current one are acquired first,
// waiting a bounded time for a free instance; only once every acquisition
// has succeeded is the mode swapped and the obsolete leases returned. On
// any failure the session keeps its previous mode and lease set intact.
//
// Concurrent calls are serialized, and the swap itself is serialized
// against frame processing: if a frame is mid-flight the swap waits for
// it, so an obsolete instance is only returned to the pool once this
// session is provably no longer inside it. Frames queued behind the
// change run entirely under the new mode.
func (s *Session) ChangeMode(next conversation.Mode) error {
	if err := next.Validate(); err != nil {
		s.collector.RecordModeChange("invalid")
		return err
	}

	s.modeMu.Lock()
	defer s.modeMu.Unlock()

	if !s.accepting.Load() {
		s.collector.RecordModeChange("rejected")
		return types.NewError(types.ErrSessionEnded, "session is no longer accepting input")
	}

	prev := s.Mode()
	if prev.Equal(next) {
		s.collector.RecordModeChange("noop")
		return nil
	}

	toAcquire, toRelease := prev.Delta(next)
	acquired := make([]*pool.Lease, 0, len(toAcquire))
	for _, kind := range toAcquire {
		lease, err := s.pool.AcquireWait(s.ctx, kind, s.ID)
		if err != nil {
			for _, l := range acquired {
				l.Release()
			}
			s.collector.RecordModeChange("rejected")
			s.logger.Warn("mode change rejected",
				zap.String("requested", next.String()),
				zap.String("kind", string(kind)),
				zap.Error(err))
			return err
		}
		acquired = append(acquired, lease)
	}

	// Wait out any frame the processing loop is inside before touching
	// the lease set. Acquisition already happened, so the loop is never
	// stalled behind a pool wait.
	s.procMu.Lock()
	s.leaseMu.Lock()
	if s.closed {
		s.leaseMu.Unlock()
		s.procMu.Unlock()
		for _, l := range acquired {
			l.Release()
		}
		s.collector.RecordModeChange("rejected")
		return types.NewError(types.ErrSessionEnded, "session is no longer accepting input")
	}
	for _, l := range acquired {
		s.leases[l.Kind()] = l
	}
	released := make([]*pool.Lease, 0, len(toRelease))
	for _, kind := range toRelease {
		if l := s.leases[kind]; l != nil {
			released = append(released, l)
			delete(s.leases, kind)
		}
	}
	s.mode.Store(&next)
	s.leaseMu.Unlock()
	s.procMu.Unlock()

	for _, l := range released {
		l.Release()
	}
	for _, sig := range conversation.Signals(prev, next) {
		s.emit(conversation.ControlOutput(sig))
	}

	s.collector.RecordModeChange("ok")
	s.logger.Info("mode changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.Int("acquired", len(acquired)),
		zap.Int("released", len(released)))
	return nil
}

// kindsHeld reports the stage kinds the session currently holds leases
// for, used by tests and the stats endpoint.
func (s *Session) kindsHeld() []stage.Kind {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	kinds := make([]stage.Kind, 0, len(s.leases))
	for k := range s.leases {
		kinds = append(kinds, k)
	}
	return kinds
}
