package conversation

import "time"

// FrameCategory classifies an inbound frame at the transport boundary.
type FrameCategory string

const (
	FrameAudioInput FrameCategory = "audio_input"
	FrameTextInput  FrameCategory = "text_input"
	FrameControl    FrameCategory = "control"
)

// ControlKind identifies a control frame delivered by the transport.
type ControlKind string

const (
	ControlEndGraceful  ControlKind = "end_graceful"
	ControlEndImmediate ControlKind = "end_immediate"
)

// Frame is one unit of inbound traffic: an audio chunk, a text message, or
// a control event. Exactly one payload field is meaningful per category.
type Frame struct {
	Category  FrameCategory `json:"category"`
	Audio     []byte        `json:"audio,omitempty"`
	Text      string        `json:"text,omitempty"`
	Control   ControlKind   `json:"control,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// AudioFrame builds an audio-input frame.
func AudioFrame(audio []byte) Frame {
	return Frame{Category: FrameAudioInput, Audio: audio, Timestamp: time.Now()}
}

// TextFrame builds a text-input frame.
func TextFrame(text string) Frame {
	return Frame{Category: FrameTextInput, Text: text, Timestamp: time.Now()}
}

// ControlFrame builds a control frame.
func ControlFrame(kind ControlKind) Frame {
	return Frame{Category: FrameControl, Control: kind, Timestamp: time.Now()}
}

// OutputType classifies outbound traffic handed back to the transport.
type OutputType string

const (
	OutputTranscript OutputType = "transcript"         // recognized or echoed user text
	OutputAssistant  OutputType = "assistant_response" // generated reply text
	OutputAudio      OutputType = "audio"              // synthesized reply audio
	OutputControl    OutputType = "control"            // stream start/stop signal
	OutputError      OutputType = "error"              // structured recoverable error
)

// Signal instructs the transport to start or stop producing a stream after
// a mode change toggled the corresponding output modality.
type Signal string

const (
	SignalStartAudioOut Signal = "start_audio_out"
	SignalStopAudioOut  Signal = "stop_audio_out"
	SignalStartTextOut  Signal = "start_text_out"
	SignalStopTextOut   Signal = "stop_text_out"
)

// Output is one unit of outbound traffic from a session to its transport.
type Output struct {
	Type      OutputType `json:"type"`
	Text      string     `json:"text,omitempty"`
	Audio     []byte     `json:"audio,omitempty"`
	Signal    Signal     `json:"signal,omitempty"`
	Code      string     `json:"code,omitempty"`
	Err       string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// TranscriptOutput builds a transcript output.
func TranscriptOutput(text string) Output {
	return Output{Type: OutputTranscript, Text: text, Timestamp: time.Now()}
}

// AssistantOutput builds an assistant text output.
func AssistantOutput(text string) Output {
	return Output{Type: OutputAssistant, Text: text, Timestamp: time.Now()}
}

// AudioOutput builds a synthesized audio output.
func AudioOutput(audio []byte) Output {
	return Output{Type: OutputAudio, Audio: audio, Timestamp: time.Now()}
}

// ControlOutput builds a control signal output.
func ControlOutput(sig Signal) Output {
	return Output{Type: OutputControl, Signal: sig, Timestamp: time.Now()}
}

// ErrorOutput builds a structured error output.
func ErrorOutput(code, msg string) Output {
	return Output{Type: OutputError, Code: code, Err: msg, Timestamp: time.Now()}
}

// Signals returns the control signals to emit after switching from prev to
// next, covering every output stream whose enablement changed.
func Signals(prev, next Mode) []Signal {
	var sigs []Signal
	switch {
	case next.VoiceOutput && !prev.VoiceOutput:
		sigs = append(sigs, SignalStartAudioOut)
	case !next.VoiceOutput && prev.VoiceOutput:
		sigs = append(sigs, SignalStopAudioOut)
	}
	switch {
	case next.TextOutput && !prev.TextOutput:
		sigs = append(sigs, SignalStartTextOut)
	case !next.TextOutput && prev.TextOutput:
		sigs = append(sigs, SignalStopTextOut)
	}
	return sigs
}
