package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/voicegate/stage"
	"github.com/BaSui01/voicegate/types"
)

func TestMode_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mode    Mode
		wantErr bool
	}{
		{"full duplex", FullDuplex(), false},
		{"voice only", VoiceOnly(), false},
		{"text only", TextOnly(), false},
		{"voice to text", VoiceToText(), false},
		{"text to voice", TextToVoice(), false},
		{"all flags false", Mode{}, true},
		{"no inputs", Mode{VoiceOutput: true, TextOutput: true}, true},
		{"no outputs", Mode{VoiceInput: true, TextInput: true}, true},
		{"single input single output", Mode{TextInput: true, VoiceOutput: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mode.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrInvalidMode, types.GetErrorCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "voice+text_to_voice+text", FullDuplex().String())
	assert.Equal(t, "voice_to_voice", VoiceOnly().String())
	assert.Equal(t, "text_to_text", TextOnly().String())
	assert.Equal(t, "voice_to_text", VoiceToText().String())
	assert.Equal(t, "none_to_none", Mode{}.String())
}

func TestMode_Requires(t *testing.T) {
	assert.ElementsMatch(t,
		[]stage.Kind{stage.KindGenerator},
		TextOnly().Requires())
	assert.ElementsMatch(t,
		[]stage.Kind{stage.KindGenerator, stage.KindRecognizer, stage.KindSynthesizer},
		VoiceOnly().Requires())
	assert.ElementsMatch(t,
		[]stage.Kind{stage.KindGenerator, stage.KindRecognizer},
		VoiceToText().Requires())
	assert.ElementsMatch(t,
		[]stage.Kind{stage.KindGenerator, stage.KindSynthesizer},
		TextToVoice().Requires())
}

func TestMode_Delta(t *testing.T) {
	acquire, release := TextOnly().Delta(VoiceOnly())
	assert.ElementsMatch(t, []stage.Kind{stage.KindRecognizer, stage.KindSynthesizer}, acquire)
	assert.Empty(t, release)

	acquire, release = VoiceOnly().Delta(TextOnly())
	assert.Empty(t, acquire)
	assert.ElementsMatch(t, []stage.Kind{stage.KindRecognizer, stage.KindSynthesizer}, release)

	// The generator is required by every mode, so it never moves.
	acquire, release = FullDuplex().Delta(TextOnly())
	assert.NotContains(t, acquire, stage.KindGenerator)
	assert.NotContains(t, release, stage.KindGenerator)

	acquire, release = FullDuplex().Delta(FullDuplex())
	assert.Empty(t, acquire)
	assert.Empty(t, release)
}

func TestMode_Equal(t *testing.T) {
	assert.True(t, TextOnly().Equal(TextOnly()))
	assert.False(t, TextOnly().Equal(VoiceOnly()))

	// Interruptions flag participates in equality: toggling it alone is
	// still a mode change, just one with an empty resource delta.
	a := TextOnly()
	b := TextOnly()
	b.Interruptions = true
	assert.False(t, a.Equal(b))
}

func TestSignals(t *testing.T) {
	sigs := Signals(TextOnly(), VoiceOnly())
	assert.ElementsMatch(t, []Signal{SignalStartAudioOut, SignalStopTextOut}, sigs)

	sigs = Signals(VoiceOnly(), FullDuplex())
	assert.ElementsMatch(t, []Signal{SignalStartTextOut}, sigs)

	assert.Empty(t, Signals(FullDuplex(), FullDuplex()))
}
