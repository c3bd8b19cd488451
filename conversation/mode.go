package conversation

import (
	"strings"

	"github.com/BaSui01/voicegate/stage"
	"github.com/BaSui01/voicegate/types"
)

// Mode describes which input and output modalities are active for a
// session, plus whether the user may interrupt in-flight speech output.
type Mode struct {
	VoiceInput    bool `json:"voice_input" yaml:"voice_input"`
	TextInput     bool `json:"text_input" yaml:"text_input"`
	VoiceOutput   bool `json:"voice_output" yaml:"voice_output"`
	TextOutput    bool `json:"text_output" yaml:"text_output"`
	Interruptions bool `json:"enable_interruptions" yaml:"enable_interruptions"`
}

// DefaultMode returns the full-duplex mode with interruptions enabled.
func DefaultMode() Mode {
	return FullDuplex()
}

// VoiceOnly enables voice input and voice output only.
func VoiceOnly() Mode {
	return Mode{VoiceInput: true, VoiceOutput: true, Interruptions: true}
}

// TextOnly enables text input and text output only.
func TextOnly() Mode {
	return Mode{TextInput: true, TextOutput: true}
}

// VoiceToText enables voice input with text output.
func VoiceToText() Mode {
	return Mode{VoiceInput: true, TextOutput: true}
}

// TextToVoice enables text input with voice output.
func TextToVoice() Mode {
	return Mode{TextInput: true, VoiceOutput: true, Interruptions: true}
}

// FullDuplex enables all four modalities.
func FullDuplex() Mode {
	return Mode{VoiceInput: true, TextInput: true, VoiceOutput: true, TextOutput: true, Interruptions: true}
}

// Preset returns the named mode preset. Recognized names are "voice",
// "text", "voice_to_text", "text_to_voice", "full" and "default".
func Preset(name string) (Mode, bool) {
	switch name {
	case "voice":
		return VoiceOnly(), true
	case "text":
		return TextOnly(), true
	case "voice_to_text":
		return VoiceToText(), true
	case "text_to_voice":
		return TextToVoice(), true
	case "full", "default":
		return DefaultMode(), true
	}
	return Mode{}, false
}

// Validate checks the mode invariant: at least one input and at least one
// output must be active. An invalid mode is rejected before any side
// effect and is never installed on a session.
func (m Mode) Validate() error {
	hasInput := m.VoiceInput || m.TextInput
	hasOutput := m.VoiceOutput || m.TextOutput
	switch {
	case !hasInput && !hasOutput:
		return types.NewError(types.ErrInvalidMode, "mode has no active inputs or outputs")
	case !hasInput:
		return types.NewError(types.ErrInvalidMode, "mode has no active inputs")
	case !hasOutput:
		return types.NewError(types.ErrInvalidMode, "mode has no active outputs")
	}
	return nil
}

// Equal reports whether two modes select identical flags.
func (m Mode) Equal(other Mode) bool {
	return m == other
}

// String returns a descriptive mode string such as "voice+text_to_voice".
func (m Mode) String() string {
	var inputs, outputs []string
	if m.VoiceInput {
		inputs = append(inputs, "voice")
	}
	if m.TextInput {
		inputs = append(inputs, "text")
	}
	if m.VoiceOutput {
		outputs = append(outputs, "voice")
	}
	if m.TextOutput {
		outputs = append(outputs, "text")
	}
	in := "none"
	if len(inputs) > 0 {
		in = strings.Join(inputs, "+")
	}
	out := "none"
	if len(outputs) > 0 {
		out = strings.Join(outputs, "+")
	}
	return in + "_to_" + out
}

// Requires returns the resource kinds a session needs while this mode is
// installed. Generation is always required: every valid mode has at least
// one input and one output, and every turn flows through the generator.
func (m Mode) Requires() []stage.Kind {
	kinds := []stage.Kind{stage.KindGenerator}
	if m.VoiceInput {
		kinds = append(kinds, stage.KindRecognizer)
	}
	if m.VoiceOutput {
		kinds = append(kinds, stage.KindSynthesizer)
	}
	return kinds
}

// Delta computes which resource kinds must be newly acquired and which can
// be released when switching from m to next.
func (m Mode) Delta(next Mode) (acquire, release []stage.Kind) {
	cur := make(map[stage.Kind]bool)
	for _, k := range m.Requires() {
		cur[k] = true
	}
	want := make(map[stage.Kind]bool)
	for _, k := range next.Requires() {
		want[k] = true
	}
	for _, k := range stage.Kinds() {
		switch {
		case want[k] && !cur[k]:
			acquire = append(acquire, k)
		case cur[k] && !want[k]:
			release = append(release, k)
		}
	}
	return acquire, release
}
