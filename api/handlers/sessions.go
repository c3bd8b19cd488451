package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/voicegate/conversation"
	"github.com/BaSui01/voicegate/session"
	"github.com/BaSui01/voicegate/transport"
	"github.com/BaSui01/voicegate/types"
)

// SessionHandler serves the session management endpoints.
type SessionHandler struct {
	manager *session.Manager
	agents  transport.AgentResolver
	logger  *zap.Logger
}

// NewSessionHandler creates a session REST handler.
func NewSessionHandler(manager *session.Manager, agents transport.AgentResolver, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		manager: manager,
		agents:  agents,
		logger:  logger.With(zap.String("component", "session_handler")),
	}
}

// Register mounts the session routes on mux.
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions", h.HandleList)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.HandleDelete)
	mux.HandleFunc("GET /api/v1/sessions/{id}/history", h.HandleHistory)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", h.HandleMessage)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/mode", h.HandleMode)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/prompt", h.HandlePrompt)
	mux.HandleFunc("GET /api/v1/stats", h.HandleStats)
}

type createRequest struct {
	AgentID string             `json:"agent_id,omitempty"`
	Mode    *conversation.Mode `json:"mode,omitempty"`
	Preset  string             `json:"preset,omitempty"`
}

// resolveMode picks the requested mode: an explicit mode object wins, then
// a preset name, then the full-duplex default.
func resolveMode(mode *conversation.Mode, preset string) (conversation.Mode, error) {
	switch {
	case mode != nil:
		return *mode, nil
	case preset != "":
		m, ok := conversation.Preset(preset)
		if !ok {
			return conversation.Mode{}, types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("unknown mode preset %q", preset))
		}
		return m, nil
	default:
		return conversation.DefaultMode(), nil
	}
}

// HandleCreate creates a session without a live connection attached, for
// clients that drive the conversation over REST.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	mode, err := resolveMode(req.Mode, req.Preset)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	agent, err := h.agents.Resolve(r.Context(), req.AgentID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	s, err := h.manager.Create(r.Context(), agent, mode)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusCreated, s.Snapshot())
}

// HandleList returns every registered session.
func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.manager.List())
}

// HandleGet returns one session snapshot.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, s.Snapshot())
}

// HandleDelete ends a session. Termination is graceful unless the request
// asks otherwise with ?graceful=false.
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	graceful := r.URL.Query().Get("graceful") != "false"
	if err := h.manager.End(r.PathValue("id"), graceful); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]bool{"ended": true})
}

// HandleHistory returns the session's conversation history.
func (h *SessionHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, s.History())
}

type messageRequest struct {
	Text string `json:"text"`
}

// HandleMessage routes a text message into the session. The reply arrives
// on the session's output stream, so the response only acknowledges
// acceptance.
func (h *SessionHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if req.Text == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "text must not be empty"), h.logger)
		return
	}

	if err := s.Route(conversation.TextFrame(req.Text)); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteStatus(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type modeRequest struct {
	Mode   *conversation.Mode `json:"mode,omitempty"`
	Preset string             `json:"preset,omitempty"`
}

// HandleMode changes the session's conversation mode.
func (h *SessionHandler) HandleMode(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	var req modeRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if req.Mode == nil && req.Preset == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "request carries no mode"), h.logger)
		return
	}

	mode, err := resolveMode(req.Mode, req.Preset)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if err := s.ChangeMode(mode); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, s.Snapshot())
}

type promptRequest struct {
	Instructions string `json:"instructions"`
}

// HandlePrompt replaces the agent's instructions mid-session. History is
// preserved; the next generation uses the new system prompt.
func (h *SessionHandler) HandlePrompt(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	var req promptRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if req.Instructions == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "instructions must not be empty"), h.logger)
		return
	}

	s.SetInstructions(req.Instructions)
	WriteSuccess(w, s.Snapshot())
}

// HandleStats returns the admission, pool, and session snapshot.
func (h *SessionHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.manager.Snapshot())
}
