package transport

import (
	"time"

	"github.com/BaSui01/voicegate/conversation"
	"github.com/BaSui01/voicegate/types"
)

// Client envelope types.
const (
	ClientAudio      = "audio"
	ClientText       = "text_message"
	ClientModeChange = "mode_change"
	ClientEnd        = "end_session"
)

// Server envelope types.
const (
	ServerSessionReady = "session_ready"
	ServerTranscript   = "transcript"
	ServerAssistant    = "assistant_response"
	ServerAudio        = "audio"
	ServerModeChanged  = "mode_changed"
	ServerControl      = "control"
	ServerError        = "error"
)

// ClientMessage is one inbound JSON envelope. Data carries base64 audio
// for "audio" envelopes; exactly one of Mode and Preset selects the target
// mode for "mode_change" envelopes.
type ClientMessage struct {
	Type     string             `json:"type"`
	Data     []byte             `json:"data,omitempty"`
	Text     string             `json:"text,omitempty"`
	Mode     *conversation.Mode `json:"mode,omitempty"`
	Preset   string             `json:"preset,omitempty"`
	Graceful *bool              `json:"graceful,omitempty"`
}

// ServerMessage is one outbound JSON envelope.
type ServerMessage struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Text      string             `json:"text,omitempty"`
	Data      []byte             `json:"data,omitempty"`
	Mode      *conversation.Mode `json:"mode,omitempty"`
	Signal    string             `json:"signal,omitempty"`
	Code      string             `json:"code,omitempty"`
	Error     string             `json:"error,omitempty"`
	Retryable bool               `json:"retryable,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func sessionReadyMessage(id string, mode conversation.Mode) ServerMessage {
	return ServerMessage{
		Type:      ServerSessionReady,
		SessionID: id,
		Mode:      &mode,
		Timestamp: time.Now(),
	}
}

func modeChangedMessage(mode conversation.Mode) ServerMessage {
	return ServerMessage{
		Type:      ServerModeChanged,
		Mode:      &mode,
		Timestamp: time.Now(),
	}
}

func errorMessage(err error) ServerMessage {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternalError
	}
	return ServerMessage{
		Type:      ServerError,
		Code:      string(code),
		Error:     err.Error(),
		Retryable: types.IsRetryable(err),
		Timestamp: time.Now(),
	}
}

// outputMessage translates a session output into its wire envelope.
func outputMessage(out conversation.Output) ServerMessage {
	msg := ServerMessage{Timestamp: out.Timestamp}
	switch out.Type {
	case conversation.OutputTranscript:
		msg.Type = ServerTranscript
		msg.Text = out.Text
	case conversation.OutputAssistant:
		msg.Type = ServerAssistant
		msg.Text = out.Text
	case conversation.OutputAudio:
		msg.Type = ServerAudio
		msg.Data = out.Audio
	case conversation.OutputControl:
		msg.Type = ServerControl
		msg.Signal = string(out.Signal)
	case conversation.OutputError:
		msg.Type = ServerError
		msg.Code = out.Code
		msg.Error = out.Err
	}
	return msg
}
