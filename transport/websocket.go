package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/voicegate/conversation"
	"github.com/BaSui01/voicegate/session"
	"github.com/BaSui01/voicegate/types"
)

const writeTimeout = 10 * time.Second

// AgentResolver looks up the agent configuration a connection asked for.
// An empty id selects the resolver's default agent.
type AgentResolver interface {
	Resolve(ctx context.Context, agentID string) (types.AgentConfig, error)
}

// StaticResolver serves a fixed set of agent configurations.
type StaticResolver struct {
	Default types.AgentConfig
	Agents  map[string]types.AgentConfig
}

// Resolve returns the agent for id, or the default when id is empty.
func (r *StaticResolver) Resolve(_ context.Context, agentID string) (types.AgentConfig, error) {
	if agentID == "" {
		return r.Default, nil
	}
	if agent, ok := r.Agents[agentID]; ok {
		return agent, nil
	}
	return types.AgentConfig{}, types.NewError(types.ErrInvalidRequest,
		fmt.Sprintf("unknown agent %q", agentID))
}

// Handler upgrades HTTP requests to WebSocket sessions.
type Handler struct {
	manager *session.Manager
	agents  AgentResolver
	logger  *zap.Logger

	// InsecureSkipVerify disables origin checking, for tests and
	// same-host tooling.
	InsecureSkipVerify bool
}

// NewHandler creates a WebSocket handler over the session manager.
func NewHandler(manager *session.Manager, agents AgentResolver, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		agents:  agents,
		logger:  logger.With(zap.String("component", "ws_transport")),
	}
}

// conn wraps a WebSocket connection with a write mutex, since the
// underlying connection does not support concurrent writes.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// ServeHTTP performs the handshake: accept the socket, resolve the agent,
// pick the initial mode from the "mode" query parameter, and create the
// session. A rejected creation is reported as a structured error envelope
// before the socket closes, so the client can tell capacity exhaustion
// apart from network failure.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.InsecureSkipVerify,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	c := &conn{ws: ws}

	mode := conversation.DefaultMode()
	if name := r.URL.Query().Get("mode"); name != "" {
		preset, ok := conversation.Preset(name)
		if !ok {
			h.reject(r.Context(), c, types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("unknown mode preset %q", name)))
			return
		}
		mode = preset
	}

	agent, err := h.agents.Resolve(r.Context(), r.URL.Query().Get("agent_id"))
	if err != nil {
		h.reject(r.Context(), c, err)
		return
	}

	sess, err := h.manager.Create(r.Context(), agent, mode)
	if err != nil {
		h.reject(r.Context(), c, err)
		return
	}

	logger := h.logger.With(zap.String("session_id", sess.ID))
	logger.Info("connection established", zap.String("mode", mode.String()))

	if err := c.send(r.Context(), sessionReadyMessage(sess.ID, mode)); err != nil {
		logger.Warn("session ready write failed", zap.Error(err))
		_ = h.manager.End(sess.ID, false)
		_ = ws.Close(websocket.StatusInternalError, "write failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readPump(ctx, c, sess, logger) })
	g.Go(func() error { return h.writePump(ctx, c, sess) })
	err = g.Wait()

	// a dropped connection ends its session immediately
	if endErr := h.manager.End(sess.ID, false); endErr == nil {
		logger.Info("connection dropped, session ended", zap.Error(err))
	}
	_ = ws.Close(websocket.StatusNormalClosure, "session ended")
}

func (h *Handler) reject(ctx context.Context, c *conn, err error) {
	_ = c.send(ctx, errorMessage(err))
	status := websocket.StatusPolicyViolation
	if types.IsRetryable(err) {
		status = websocket.StatusTryAgainLater
	}
	_ = c.ws.Close(status, string(types.GetErrorCode(err)))
}

// readPump decodes client envelopes into frames. Recoverable failures
// (an invalid envelope, a full input buffer, a rejected mode change) are
// reported back as error envelopes without dropping the connection.
func (h *Handler) readPump(ctx context.Context, c *conn, sess *session.Session, logger *zap.Logger) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.send(ctx, errorMessage(types.NewError(types.ErrInvalidRequest,
				"malformed envelope").WithCause(err)))
			continue
		}

		switch msg.Type {
		case ClientAudio:
			err = sess.Route(conversation.AudioFrame(msg.Data))
		case ClientText:
			err = sess.Route(conversation.TextFrame(msg.Text))
		case ClientModeChange:
			err = h.changeMode(ctx, c, sess, msg)
		case ClientEnd:
			// keep reading after an end request: the write pump flushes
			// the drained outputs and tears the connection down once the
			// session reports done
			graceful := msg.Graceful == nil || *msg.Graceful
			kind := conversation.ControlEndGraceful
			if !graceful {
				kind = conversation.ControlEndImmediate
			}
			err = sess.Route(conversation.ControlFrame(kind))
		default:
			err = types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("unknown envelope type %q", msg.Type))
		}

		if err != nil {
			var verr *types.Error
			if errors.As(err, &verr) && verr.Code == types.ErrSessionEnded {
				return err
			}
			logger.Debug("envelope rejected",
				zap.String("type", msg.Type), zap.Error(err))
			if sendErr := c.send(ctx, errorMessage(err)); sendErr != nil {
				return sendErr
			}
		}
	}
}

func (h *Handler) changeMode(ctx context.Context, c *conn, sess *session.Session, msg ClientMessage) error {
	var next conversation.Mode
	switch {
	case msg.Mode != nil:
		next = *msg.Mode
	case msg.Preset != "":
		preset, ok := conversation.Preset(msg.Preset)
		if !ok {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("unknown mode preset %q", msg.Preset))
		}
		next = preset
	default:
		return types.NewError(types.ErrInvalidRequest, "mode_change carries no mode")
	}

	if err := sess.ChangeMode(next); err != nil {
		return err
	}
	return c.send(ctx, modeChangedMessage(next))
}

// writePump forwards session outputs to the socket. When the session ends
// it flushes whatever is already buffered, then returns.
func (h *Handler) writePump(ctx context.Context, c *conn, sess *session.Session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-sess.Outputs():
			if err := c.send(ctx, outputMessage(out)); err != nil {
				return err
			}
		case <-sess.Done():
			for {
				select {
				case out := <-sess.Outputs():
					if err := c.send(ctx, outputMessage(out)); err != nil {
						return err
					}
				default:
					return types.NewError(types.ErrSessionEnded, "session ended")
				}
			}
		}
	}
}
