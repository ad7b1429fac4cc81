package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Tool.Execute", ErrToolNotFound, "tool 'foo'")
	want := "Tool.Execute: tool 'foo': tool not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Agent.Run", ErrMaxIterations, "")
	want := "Agent.Run: agent reached max iterations"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Sandbox.Validate", ErrPathOutsideSandbox, "/etc/passwd")
	if !errors.Is(err, ErrPathOutsideSandbox) {
		t.Error("errors.Is should match ErrPathOutsideSandbox")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("Cron.Add", ErrInvalidSchedule, "bad expr"))
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "Cron.Add" {
		t.Errorf("Op = %q, want %q", de.Op, "Cron.Add")
	}
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("op", nil))
	err := WrapOp("Store.Save", ErrNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Store.Save: not found", err.Error())
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeToolNotFound, ErrorCodeOf(ErrToolNotFound))
	assert.Equal(t, CodeJobNotFound, ErrorCodeOf(ErrJobNotFound))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("Cron.Add", ErrInvalidSchedule, "every_ms must be positive")
	assert.Equal(t, CodeInvalidSchedule, ErrorCodeOf(err))
	assert.Equal(t, CodeInvalidSchedule, err.Code())
}

func TestErrorCodeOf_PrefersSpecificSentinel(t *testing.T) {
	err := NewDomainError("LLM.Chat", fmt.Errorf("%w: %w", ErrProviderError, ErrRateLimit), "")
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(err))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(fmt.Errorf("x: %w", ErrRateLimit)))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
}
