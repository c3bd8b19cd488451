package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := NewError(ErrInvalidMode, "mode has no inputs")
	assert.Equal(t, "[INVALID_MODE] mode has no inputs", err.Error())

	withCause := NewError(ErrInternalError, "teardown failed").WithCause(fmt.Errorf("boom"))
	assert.Contains(t, withCause.Error(), "boom")
	assert.ErrorContains(t, withCause, "INTERNAL_ERROR")
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	err := NewError(ErrInternalError, "write failed").WithCause(cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestError_IsMatchesByCode(t *testing.T) {
	a := CapacityExceeded(25, 25)
	b := NewError(ErrCapacityExceeded, "different text")
	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, NewError(ErrInvalidMode, ""))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(CapacityExceeded(1, 1)))
	assert.True(t, IsRetryable(ResourceUnavailable("recognizer")))
	assert.False(t, IsRetryable(SessionNotFound("abc")))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrSessionNotFound, GetErrorCode(SessionNotFound("x")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(fmt.Errorf("plain")))
}

func TestAgentConfig_SystemPrompt(t *testing.T) {
	plain := AgentConfig{Instructions: "You are a helpful assistant."}
	assert.Equal(t, "You are a helpful assistant.", plain.SystemPrompt())

	modified := AgentConfig{
		Instructions:     "You are a helpful assistant.",
		ContextModifiers: []string{"Answer briefly.", "Use plain language."},
	}
	assert.Equal(t,
		"You are a helpful assistant.\n\nAnswer briefly.\n\nUse plain language.",
		modified.SystemPrompt())
}

func TestAgentConfig_WithInstructionsDoesNotMutate(t *testing.T) {
	orig := AgentConfig{ID: "a1", Instructions: "old", ContextModifiers: []string{"mod"}}
	updated := orig.WithInstructions("new")

	assert.Equal(t, "old", orig.Instructions)
	assert.Equal(t, "new", updated.Instructions)
	assert.Equal(t, orig.ContextModifiers, updated.ContextModifiers)
}
