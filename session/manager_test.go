package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/voicegate/conversation"
	"github.com/BaSui01/voicegate/internal/pool"
	"github.com/BaSui01/voicegate/stage"
	"github.com/BaSui01/voicegate/types"
)

func testAgent() types.AgentConfig {
	return types.AgentConfig{
		ID:           "agent-1",
		Name:         "test agent",
		Instructions: "You are a helpful assistant.",
	}
}

func testPool(t *testing.T, capacity int) *pool.Pool {
	t.Helper()
	cfg := pool.Config{
		Capacity: map[stage.Kind]int{
			stage.KindRecognizer:  capacity,
			stage.KindGenerator:   capacity,
			stage.KindSynthesizer: capacity,
		},
		AcquireTimeout: 100 * time.Millisecond,
	}
	return pool.New(cfg, stage.SimFactory(stage.SimConfig{}), zap.NewNop())
}

func newTestManager(t *testing.T, cfg Config, poolCapacity int) *Manager {
	t.Helper()
	m := NewManager(cfg, testPool(t, poolCapacity), nil, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func waitForMessages(t *testing.T, s *Session, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.History()) >= want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_CreateAndGet(t *testing.T) {
	m := newTestManager(t, DefaultConfig(), 5)

	s, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	info := s.Snapshot()
	assert.Equal(t, "agent-1", info.AgentID)
	assert.Equal(t, StateActive, info.State)
	assert.Equal(t, "text_to_text", info.Mode)
	assert.Equal(t, 1, info.Messages) // seeded system message
}

func TestManager_CreateLeasesOnlyRequiredKinds(t *testing.T) {
	m := newTestManager(t, DefaultConfig(), 5)

	s, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.NoError(t, err)

	assert.ElementsMatch(t, []stage.Kind{stage.KindGenerator}, s.kindsHeld())
	stats := m.pool.Stats()
	assert.Equal(t, 0, stats[stage.KindRecognizer].Leased)
	assert.Equal(t, 1, stats[stage.KindGenerator].Leased)
	assert.Equal(t, 0, stats[stage.KindSynthesizer].Leased)
}

func TestManager_CreateRejectsInvalidMode(t *testing.T) {
	m := newTestManager(t, DefaultConfig(), 5)

	_, err := m.Create(context.Background(), testAgent(), conversation.Mode{TextInput: true})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidMode, types.GetErrorCode(err))

	// the admission slot taken before validation must be returned
	assert.Equal(t, int64(0), m.Snapshot().Admission.Active)
}

func TestManager_CreateUnwindsOnPoolExhaustion(t *testing.T) {
	m := newTestManager(t, DefaultConfig(), 1)

	first, err := m.Create(context.Background(), testAgent(), conversation.FullDuplex())
	require.NoError(t, err)

	_, err = m.Create(context.Background(), testAgent(), conversation.FullDuplex())
	require.Error(t, err)
	assert.Equal(t, types.ErrResourceUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	// the failed creation must leave no slot and no partial leases behind
	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.Admission.Active)
	for _, kind := range stage.Kinds() {
		assert.Equal(t, 1, snap.Pool[kind].Leased, kind)
	}
	_ = first
}

func TestManager_CreateRejectsAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	m := newTestManager(t, cfg, 5)

	_, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.NoError(t, err)

	_, err = m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.Error(t, err)
	assert.Equal(t, types.ErrCapacityExceeded, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, int64(1), m.Snapshot().Admission.Rejected)
}

func TestManager_ConcurrentCreateAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSessions = 1
	m := newTestManager(t, cfg, 5)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		if err == nil {
			ok++
		} else {
			require.Equal(t, types.ErrCapacityExceeded, types.GetErrorCode(err))
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, rejected)
}

func TestManager_EndReleasesEverything(t *testing.T) {
	m := newTestManager(t, DefaultConfig(), 2)

	s, err := m.Create(context.Background(), testAgent(), conversation.FullDuplex())
	require.NoError(t, err)

	require.NoError(t, m.End(s.ID, true))
	assert.Equal(t, StateEnded, s.State())

	snap := m.Snapshot()
	assert.Equal(t, int64(0), snap.Admission.Active)
	for _, kind := range stage.Kinds() {
		assert.Equal(t, 0, snap.Pool[kind].Leased, kind)
	}

	_, err = m.Get(s.ID)
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))

	err = m.End(s.ID, true)
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))
}

func TestManager_GracefulEndDrainsBufferedFrames(t *testing.T) {
	m := newTestManager(t, DefaultConfig(), 2)

	s, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Route(conversation.TextFrame(fmt.Sprintf("msg %d", i))))
	}
	require.NoError(t, m.End(s.ID, true))

	// system + 3 user + 3 assistant
	assert.Len(t, s.History(), 7)
}

func TestManager_ImmediateEndSkipsBufferedFrames(t *testing.T) {
	m := newTestManager(t, DefaultConfig(), 2)

	s, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.NoError(t, err)

	require.NoError(t, m.End(s.ID, false))
	assert.Equal(t, StateEnded, s.State())

	err = s.Route(conversation.TextFrame("too late"))
	assert.Equal(t, types.ErrSessionEnded, types.GetErrorCode(err))
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m := newTestManager(t, DefaultConfig(), 5)

	a, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.NoError(t, err)
	b, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.NoError(t, err)

	require.NoError(t, a.Route(conversation.TextFrame("for a")))
	waitForMessages(t, a, 3)

	histA := a.History()
	histB := b.History()
	assert.Len(t, histA, 3)
	assert.Len(t, histB, 1)
	assert.Equal(t, "for a", histA[1].Content)
}

func TestManager_HistoryLimitKeepsSystemMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 4
	m := newTestManager(t, cfg, 5)

	s, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Route(conversation.TextFrame(fmt.Sprintf("turn %d", i))))
	}
	require.NoError(t, m.End(s.ID, true))

	hist := s.History()
	require.Len(t, hist, 4)
	assert.Equal(t, types.RoleSystem, hist[0].Role)
	assert.Equal(t, types.RoleAssistant, hist[len(hist)-1].Role)
	assert.Equal(t, "echo: turn 4", hist[len(hist)-1].Content)
}

func TestManager_SetInstructionsPreservesHistory(t *testing.T) {
	m := newTestManager(t, DefaultConfig(), 5)

	s, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.NoError(t, err)

	require.NoError(t, s.Route(conversation.TextFrame("hello")))
	waitForMessages(t, s, 3)

	s.SetInstructions("Answer in French.")
	assert.Equal(t, "Answer in French.", s.Agent().Instructions)
	assert.Len(t, s.History(), 3)
}

func TestManager_CloseEndsAllSessions(t *testing.T) {
	p := testPool(t, 5)
	m := NewManager(DefaultConfig(), p, nil, zap.NewNop())

	a, err := m.Create(context.Background(), testAgent(), conversation.TextOnly())
	require.NoError(t, err)
	b, err := m.Create(context.Background(), testAgent(), conversation.FullDuplex())
	require.NoError(t, err)

	m.Close()

	assert.Equal(t, StateEnded, a.State())
	assert.Equal(t, StateEnded, b.State())
	assert.Empty(t, m.List())
	assert.Equal(t, int64(0), m.Snapshot().Admission.Active)
	for _, ks := range p.Stats() {
		assert.Equal(t, 0, ks.Leased)
	}
}
