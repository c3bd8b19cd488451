package stage

import (
	"context"

	"github.com/BaSui01/voicegate/types"
)

// Kind identifies a pooled resource kind.
type Kind string

const (
	KindRecognizer  Kind = "recognizer"
	KindGenerator   Kind = "generator"
	KindSynthesizer Kind = "synthesizer"
)

// Kinds lists every resource kind, in pipeline order.
func Kinds() []Kind {
	return []Kind{KindRecognizer, KindGenerator, KindSynthesizer}
}

// Instance is the common contract of a pooled stage instance. An instance
// is exclusively owned by at most one session at a time, for the duration
// of a pool lease.
type Instance interface {
	// Kind returns the resource kind of this instance.
	Kind() Kind
	// Close releases backend resources held by the instance. Called when
	// the pool invalidates instances during drain, never mid-lease.
	Close() error
}

// Recognizer converts audio input into text.
type Recognizer interface {
	Instance
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Generator produces an assistant reply from the conversation history.
type Generator interface {
	Instance
	Generate(ctx context.Context, system string, history []types.Message) (string, error)
}

// Synthesizer converts assistant text into audio output.
type Synthesizer interface {
	Instance
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
