package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voicegate/conversation"
	"github.com/BaSui01/voicegate/internal/admission"
	"github.com/BaSui01/voicegate/internal/metrics"
	"github.com/BaSui01/voicegate/internal/pool"
	"github.com/BaSui01/voicegate/stage"
	"github.com/BaSui01/voicegate/types"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateActive is the normal operating state.
	StateActive State = "active"
	// StateIdle means no activity for at least the configured idle timeout.
	// A frame arriving on an idle session returns it to Active.
	StateIdle State = "idle"
	// StateEnding means termination has begun; no new input is accepted.
	StateEnding State = "ending"
	// StateEnded is terminal: all resources released, slot returned.
	StateEnded State = "ended"
)

// legal state transitions; anything else is ignored.
var stateTransitions = map[State][]State{
	StateActive: {StateIdle, StateEnding},
	StateIdle:   {StateActive, StateEnding},
	StateEnding: {StateEnded},
}

const (
	defaultInboxSize  = 64
	defaultOutboxSize = 64
)

// Session holds the isolated state of one conversation: its agent
// configuration, history, active mode, and the stage leases the mode
// requires. All fields are safe for concurrent access.
type Session struct {
	ID        string
	CreatedAt time.Time

	agent atomic.Pointer[types.AgentConfig]
	mode  atomic.Pointer[conversation.Mode]

	historyMu    sync.Mutex
	history      []types.Message
	historyLimit int

	stateMu sync.Mutex
	state   State

	// leaseMu guards leases and closed. closed flips once, at the start
	// of teardown, so a concurrent mode change can never install a lease
	// that teardown would miss.
	leaseMu sync.Mutex
	leases  map[stage.Kind]*pool.Lease
	closed  bool

	// modeMu serializes mode changes so concurrent change requests are
	// applied one at a time against a consistent lease set.
	modeMu sync.Mutex

	// procMu serializes frame processing with mode swaps. While a frame
	// is mid-flight the mode and lease set are frozen, so an instance is
	// never returned to the pool while this session is still inside it.
	procMu sync.Mutex

	slot *admission.Slot
	pool *pool.Pool

	lastActivity atomic.Int64
	idleLatched  atomic.Bool

	accepting atomic.Bool
	inbox     chan conversation.Frame
	outputs   chan conversation.Output
	draining  chan struct{}
	loopDone  chan struct{}
	endOnce   sync.Once

	// requestEnd is installed by the manager so control frames routed
	// through the session can trigger a registry-aware termination.
	requestEnd func(graceful bool)

	ctx    context.Context
	cancel context.CancelFunc

	logger    *zap.Logger
	collector *metrics.Collector
}

func newSession(id string, agent types.AgentConfig, mode conversation.Mode, slot *admission.Slot, leases map[stage.Kind]*pool.Lease, p *pool.Pool, historyLimit int, logger *zap.Logger, collector *metrics.Collector) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:           id,
		CreatedAt:    time.Now(),
		history:      []types.Message{types.NewSystemMessage(agent.SystemPrompt())},
		historyLimit: historyLimit,
		state:        StateActive,
		leases:       leases,
		slot:         slot,
		pool:         p,
		inbox:        make(chan conversation.Frame, defaultInboxSize),
		outputs:      make(chan conversation.Output, defaultOutboxSize),
		draining:     make(chan struct{}),
		loopDone:     make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With(zap.String("session_id", id)),
		collector:    collector,
	}
	s.agent.Store(&agent)
	s.mode.Store(&mode)
	s.accepting.Store(true)
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) transition(to State) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	for _, allowed := range stateTransitions[s.state] {
		if allowed == to {
			s.state = to
			return true
		}
	}
	return false
}

// Mode returns the session's current conversation mode.
func (s *Session) Mode() conversation.Mode {
	return *s.mode.Load()
}

// Agent returns the session's current agent configuration.
func (s *Session) Agent() types.AgentConfig {
	return *s.agent.Load()
}

// SetInstructions replaces the agent's initial instructions without
// touching the accumulated conversation history.
func (s *Session) SetInstructions(instructions string) {
	next := s.agent.Load().WithInstructions(instructions)
	s.agent.Store(&next)
	s.logger.Info("agent instructions updated")
}

// History returns a copy of the conversation history, system message first.
func (s *Session) History() []types.Message {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// appendMessage adds a message and trims the oldest non-system entries
// once the history limit is exceeded.
func (s *Session) appendMessage(msg types.Message) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history = append(s.history, msg)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		overflow := len(s.history) - s.historyLimit
		trimmed := make([]types.Message, 0, s.historyLimit)
		trimmed = append(trimmed, s.history[0])
		trimmed = append(trimmed, s.history[1+overflow:]...)
		s.history = trimmed
	}
}

// LastActivity reports when the session last completed an output.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// touch records an activity event and wakes the session from Idle.
func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
	if s.idleLatched.Swap(false) {
		if s.transition(StateActive) {
			s.logger.Info("session resumed from idle")
		}
	}
}

// Outputs returns the stream of outbound items for this session. The
// channel is never closed; consumers should also select on Done.
func (s *Session) Outputs() <-chan conversation.Output {
	return s.outputs
}

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) emit(out conversation.Output) {
	select {
	case s.outputs <- out:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("output buffer full, dropping item",
			zap.String("type", string(out.Type)))
	}
}

func (s *Session) lease(kind stage.Kind) *pool.Lease {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	return s.leases[kind]
}

func (s *Session) recognizer() stage.Recognizer {
	if l := s.lease(stage.KindRecognizer); l != nil {
		return l.Instance().(stage.Recognizer)
	}
	return nil
}

func (s *Session) generator() stage.Generator {
	if l := s.lease(stage.KindGenerator); l != nil {
		return l.Instance().(stage.Generator)
	}
	return nil
}

func (s *Session) synthesizer() stage.Synthesizer {
	if l := s.lease(stage.KindSynthesizer); l != nil {
		return l.Instance().(stage.Synthesizer)
	}
	return nil
}

// run is the session's single processing goroutine. Buffered frames are
// drained before a graceful-end request is honored.
func (s *Session) run() {
	defer close(s.loopDone)
	for {
		select {
		case frame := <-s.inbox:
			s.processFrame(frame)
			continue
		default:
		}
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.inbox:
			s.processFrame(frame)
		case <-s.draining:
			for {
				select {
				case frame := <-s.inbox:
					s.processFrame(frame)
				default:
					return
				}
			}
		}
	}
}

// processFrame evaluates one frame entirely under the mode captured at
// entry. procMu keeps a concurrent ChangeMode from swapping the mode or
// releasing a lease while the frame is inside a stage call; mode changes
// take effect from the next frame.
func (s *Session) processFrame(frame conversation.Frame) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	mode := s.Mode()
	switch frame.Category {
	case conversation.FrameAudioInput:
		if !mode.VoiceInput {
			s.dropFrame(frame, "voice input disabled")
			return
		}
		text, err := s.recognizer().Transcribe(s.ctx, frame.Audio)
		if err != nil {
			s.reportStageError("transcription failed", err)
			return
		}
		if text == "" {
			return
		}
		s.runTurn(mode, text)
	case conversation.FrameTextInput:
		if !mode.TextInput {
			s.dropFrame(frame, "text input disabled")
			return
		}
		s.runTurn(mode, frame.Text)
	default:
		s.dropFrame(frame, "unhandled category")
	}
}

// runTurn takes one user utterance through generation and, mode
// permitting, synthesis. The whole turn runs under the mode the frame
// was admitted with, never a mix of pre- and post-change flags. The
// stage leases cannot vanish mid-turn: the caller holds procMu.
func (s *Session) runTurn(mode conversation.Mode, userText string) {
	if mode.TextOutput {
		s.emit(conversation.TranscriptOutput(userText))
	}
	s.appendMessage(types.NewUserMessage(userText))

	reply, err := s.generator().Generate(s.ctx, s.agent.Load().SystemPrompt(), s.History())
	if err != nil {
		s.reportStageError("generation failed", err)
		return
	}
	s.appendMessage(types.NewAssistantMessage(reply))
	s.touch()

	if mode.TextOutput {
		s.emit(conversation.AssistantOutput(reply))
	}
	if mode.VoiceOutput {
		audio, err := s.synthesizer().Synthesize(s.ctx, reply)
		if err != nil {
			s.reportStageError("synthesis failed", err)
			return
		}
		s.emit(conversation.AudioOutput(audio))
		s.touch()
	}
}

func (s *Session) dropFrame(frame conversation.Frame, reason string) {
	s.collector.RecordFrameRouted(string(frame.Category), "dropped")
	s.logger.Debug("frame dropped",
		zap.String("category", string(frame.Category)),
		zap.String("reason", reason))
}

func (s *Session) reportStageError(msg string, err error) {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Error(msg, zap.Error(err))
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternalError
	}
	s.emit(conversation.ErrorOutput(string(code), msg))
}

// shutdown tears the session down exactly once. A graceful shutdown lets
// the processing loop drain buffered frames, up to drainTimeout, before
// the context is cancelled; an immediate one cancels right away.
func (s *Session) shutdown(graceful bool, drainTimeout time.Duration) {
	s.endOnce.Do(func() {
		s.accepting.Store(false)
		s.transition(StateEnding)
		s.logger.Info("session ending", zap.Bool("graceful", graceful))

		if graceful {
			close(s.draining)
			timer := time.NewTimer(drainTimeout)
			select {
			case <-s.loopDone:
				timer.Stop()
			case <-timer.C:
				s.logger.Warn("drain timeout exceeded, forcing stop")
				s.cancel()
				<-s.loopDone
			}
		} else {
			s.cancel()
			<-s.loopDone
		}
		s.cancel()

		s.leaseMu.Lock()
		s.closed = true
		released := make([]*pool.Lease, 0, len(s.leases))
		for _, l := range s.leases {
			released = append(released, l)
		}
		s.leases = map[stage.Kind]*pool.Lease{}
		s.leaseMu.Unlock()
		for _, l := range released {
			l.Release()
		}

		s.slot.Release()
		s.transition(StateEnded)
		s.logger.Info("session ended",
			zap.Duration("lifetime", time.Since(s.CreatedAt)))
	})
}

// Info is a point-in-time snapshot of a session, used by the stats and
// listing endpoints.
type Info struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	State        State     `json:"state"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Messages     int       `json:"messages"`
}

// Snapshot returns the session's current Info.
func (s *Session) Snapshot() Info {
	s.historyMu.Lock()
	messages := len(s.history)
	s.historyMu.Unlock()
	return Info{
		ID:           s.ID,
		AgentID:      s.agent.Load().ID,
		State:        s.State(),
		Mode:         s.Mode().String(),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity(),
		Messages:     messages,
	}
}
