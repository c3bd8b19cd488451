package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/voicegate/types"
)

// SimConfig configures the simulated stages.
type SimConfig struct {
	// Latency is slept inside every stage call, interruptible by context.
	Latency time.Duration `yaml:"latency" json:"latency"`
}

// simulate waits for the configured latency or the context, whichever
// comes first.
func simulate(ctx context.Context, latency time.Duration) error {
	if latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SimRecognizer is a simulated speech recognizer. It treats the audio
// payload as UTF-8 text, which makes routing behaviour observable in tests.
type SimRecognizer struct {
	cfg    SimConfig
	closed bool
}

// NewSimRecognizer creates a simulated recognizer.
func NewSimRecognizer(cfg SimConfig) *SimRecognizer {
	return &SimRecognizer{cfg: cfg}
}

func (r *SimRecognizer) Kind() Kind   { return KindRecognizer }
func (r *SimRecognizer) Close() error { r.closed = true; return nil }

func (r *SimRecognizer) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if r.closed {
		return "", fmt.Errorf("recognizer closed")
	}
	if err := simulate(ctx, r.cfg.Latency); err != nil {
		return "", err
	}
	return string(audio), nil
}

// SimGenerator is a simulated language model. It echoes the last user
// message so tests can assert on which input reached generation.
type SimGenerator struct {
	cfg    SimConfig
	closed bool
}

// NewSimGenerator creates a simulated generator.
func NewSimGenerator(cfg SimConfig) *SimGenerator {
	return &SimGenerator{cfg: cfg}
}

func (g *SimGenerator) Kind() Kind   { return KindGenerator }
func (g *SimGenerator) Close() error { g.closed = true; return nil }

func (g *SimGenerator) Generate(ctx context.Context, system string, history []types.Message) (string, error) {
	if g.closed {
		return "", fmt.Errorf("generator closed")
	}
	if err := simulate(ctx, g.cfg.Latency); err != nil {
		return "", err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == types.RoleUser {
			return "echo: " + history[i].Content, nil
		}
	}
	return "hello", nil
}

// SimSynthesizer is a simulated speech synthesizer returning the text
// bytes as the audio payload.
type SimSynthesizer struct {
	cfg    SimConfig
	closed bool
}

// NewSimSynthesizer creates a simulated synthesizer.
func NewSimSynthesizer(cfg SimConfig) *SimSynthesizer {
	return &SimSynthesizer{cfg: cfg}
}

func (s *SimSynthesizer) Kind() Kind   { return KindSynthesizer }
func (s *SimSynthesizer) Close() error { s.closed = true; return nil }

func (s *SimSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.closed {
		return nil, fmt.Errorf("synthesizer closed")
	}
	if err := simulate(ctx, s.cfg.Latency); err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// SimFactory builds simulated instances for every kind. It satisfies the
// pool's factory contract.
func SimFactory(cfg SimConfig) func(kind Kind) (Instance, error) {
	return func(kind Kind) (Instance, error) {
		switch kind {
		case KindRecognizer:
			return NewSimRecognizer(cfg), nil
		case KindGenerator:
			return NewSimGenerator(cfg), nil
		case KindSynthesizer:
			return NewSimSynthesizer(cfg), nil
		default:
			return nil, fmt.Errorf("unknown resource kind %q", kind)
		}
	}
}
