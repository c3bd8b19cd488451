package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/voicegate/conversation"
	"github.com/BaSui01/voicegate/internal/pool"
	"github.com/BaSui01/voicegate/session"
	"github.com/BaSui01/voicegate/stage"
	"github.com/BaSui01/voicegate/transport"
	"github.com/BaSui01/voicegate/types"
)

func newTestMux(t *testing.T, maxSessions int) (*http.ServeMux, *session.Manager) {
	t.Helper()
	cfg := pool.Config{
		Capacity: map[stage.Kind]int{
			stage.KindRecognizer:  maxSessions,
			stage.KindGenerator:   maxSessions,
			stage.KindSynthesizer: maxSessions,
		},
		AcquireTimeout: 100 * time.Millisecond,
	}
	p := pool.New(cfg, stage.SimFactory(stage.SimConfig{}), zap.NewNop())

	mcfg := session.DefaultConfig()
	mcfg.MaxSessions = maxSessions
	m := session.NewManager(mcfg, p, nil, zap.NewNop())
	t.Cleanup(m.Close)

	resolver := &transport.StaticResolver{
		Default: types.AgentConfig{ID: "default", Instructions: "You are a helpful assistant."},
	}
	mux := http.NewServeMux()
	NewSessionHandler(m, resolver, zap.NewNop()).Register(mux)
	return mux, m
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func createSession(t *testing.T, mux *http.ServeMux, body interface{}) session.Info {
	t.Helper()
	rec, resp := doJSON(t, mux, http.MethodPost, "/api/v1/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeInfo(t, resp.Data)
}

func decodeInfo(t *testing.T, data interface{}) session.Info {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	var info session.Info
	require.NoError(t, json.Unmarshal(raw, &info))
	return info
}

func TestSessions_CreateWithPreset(t *testing.T) {
	mux, m := newTestMux(t, 5)

	info := createSession(t, mux, map[string]string{"preset": "text"})
	assert.Equal(t, "text_to_text", info.Mode)
	assert.Equal(t, "default", info.AgentID)

	_, err := m.Get(info.ID)
	require.NoError(t, err)
}

func TestSessions_CreateDefaultsToFullDuplex(t *testing.T) {
	mux, _ := newTestMux(t, 5)

	info := createSession(t, mux, map[string]string{})
	assert.Equal(t, conversation.FullDuplex().String(), info.Mode)
}

func TestSessions_CreateInvalidMode(t *testing.T) {
	mux, _ := newTestMux(t, 5)

	rec, resp := doJSON(t, mux, http.MethodPost, "/api/v1/sessions",
		map[string]interface{}{"mode": map[string]bool{"text_input": true}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInvalidMode), resp.Error.Code)
}

func TestSessions_CreateAtCapacity(t *testing.T) {
	mux, _ := newTestMux(t, 1)
	createSession(t, mux, map[string]string{"preset": "text"})

	rec, resp := doJSON(t, mux, http.MethodPost, "/api/v1/sessions",
		map[string]string{"preset": "text"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrCapacityExceeded), resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
}

func TestSessions_GetAndList(t *testing.T) {
	mux, _ := newTestMux(t, 5)
	info := createSession(t, mux, map[string]string{"preset": "text"})

	rec, resp := doJSON(t, mux, http.MethodGet, "/api/v1/sessions/"+info.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, info.ID, decodeInfo(t, resp.Data).ID)

	rec, resp = doJSON(t, mux, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)
}

func TestSessions_GetUnknown(t *testing.T) {
	mux, _ := newTestMux(t, 5)

	rec, resp := doJSON(t, mux, http.MethodGet, "/api/v1/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrSessionNotFound), resp.Error.Code)
}

func TestSessions_MessageAndHistory(t *testing.T) {
	mux, m := newTestMux(t, 5)
	info := createSession(t, mux, map[string]string{"preset": "text"})

	rec, _ := doJSON(t, mux, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/messages", info.ID),
		map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	s, err := m.Get(info.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(s.History()) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	rec, resp := doJSON(t, mux, http.MethodGet,
		fmt.Sprintf("/api/v1/sessions/%s/history", info.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var history []types.Message
	require.NoError(t, json.Unmarshal(raw, &history))
	require.Len(t, history, 3)
	assert.Equal(t, types.RoleUser, history[1].Role)
	assert.Equal(t, "hello", history[1].Content)
	assert.Equal(t, "echo: hello", history[2].Content)
}

func TestSessions_MessageEmptyText(t *testing.T) {
	mux, _ := newTestMux(t, 5)
	info := createSession(t, mux, map[string]string{"preset": "text"})

	rec, resp := doJSON(t, mux, http.MethodPost,
		fmt.Sprintf("/api/v1/sessions/%s/messages", info.ID),
		map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestSessions_ChangeMode(t *testing.T) {
	mux, m := newTestMux(t, 5)
	info := createSession(t, mux, map[string]string{"preset": "text"})

	rec, resp := doJSON(t, mux, http.MethodPut,
		fmt.Sprintf("/api/v1/sessions/%s/mode", info.ID),
		map[string]string{"preset": "full"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conversation.FullDuplex().String(), decodeInfo(t, resp.Data).Mode)

	s, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.FullDuplex(), s.Mode())
}

func TestSessions_ChangeModeMissingBody(t *testing.T) {
	mux, _ := newTestMux(t, 5)
	info := createSession(t, mux, map[string]string{"preset": "text"})

	rec, resp := doJSON(t, mux, http.MethodPut,
		fmt.Sprintf("/api/v1/sessions/%s/mode", info.ID),
		map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestSessions_UpdatePrompt(t *testing.T) {
	mux, m := newTestMux(t, 5)
	info := createSession(t, mux, map[string]string{"preset": "text"})

	rec, _ := doJSON(t, mux, http.MethodPut,
		fmt.Sprintf("/api/v1/sessions/%s/prompt", info.ID),
		map[string]string{"instructions": "Answer briefly."})
	require.Equal(t, http.StatusOK, rec.Code)

	s, err := m.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "Answer briefly.", s.Agent().Instructions)
}

func TestSessions_Delete(t *testing.T) {
	mux, m := newTestMux(t, 5)
	info := createSession(t, mux, map[string]string{"preset": "text"})

	rec, _ := doJSON(t, mux, http.MethodDelete, "/api/v1/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := m.Get(info.ID)
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))

	rec, resp := doJSON(t, mux, http.MethodDelete, "/api/v1/sessions/"+info.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrSessionNotFound), resp.Error.Code)
}

func TestSessions_Stats(t *testing.T) {
	mux, _ := newTestMux(t, 5)
	createSession(t, mux, map[string]string{"preset": "text"})

	rec, resp := doJSON(t, mux, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var stats session.Stats
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, int64(1), stats.Admission.Active)
	assert.Len(t, stats.Sessions, 1)
	assert.Equal(t, 1, stats.Pool[stage.KindGenerator].Leased)
}
