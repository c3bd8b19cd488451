package types

import "strings"

// AgentConfig is an immutable snapshot of an agent's instruction set,
// supplied at session creation by the external configuration store.
// Two sessions created from the same AgentConfig share no mutable state.
type AgentConfig struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Instructions     string   `json:"instructions"`
	ContextModifiers []string `json:"context_modifiers,omitempty"`
}

// SystemPrompt joins the initial instructions with the ordered context
// modifiers into the system message that seeds a session's history.
func (a AgentConfig) SystemPrompt() string {
	if len(a.ContextModifiers) == 0 {
		return a.Instructions
	}
	parts := make([]string, 0, len(a.ContextModifiers)+1)
	parts = append(parts, a.Instructions)
	parts = append(parts, a.ContextModifiers...)
	return strings.Join(parts, "\n\n")
}

// WithInstructions returns a copy with replaced initial instructions.
// Context modifiers are preserved; the receiver is not mutated.
func (a AgentConfig) WithInstructions(instructions string) AgentConfig {
	a.Instructions = instructions
	return a
}
