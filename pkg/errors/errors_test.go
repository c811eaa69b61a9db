package errors

import (
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeMountFailed, "backend refused").
		WithComponent("mount").
		WithOperation("Mount")
	got := err.Error()
	want := "[mount:Mount] MOUNT_FAILED: backend refused"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorIncludesCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := NewError(ErrCodeConnectionFailed, "connecting").WithCause(cause)
	if got := err.Error(); got != "CONNECTION_FAILED: connecting: dial tcp: refused" {
		t.Errorf("Error() = %q", got)
	}
	if Unwrap(err) != cause {
		t.Error("Unwrap did not return cause")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := NewError(ErrCodeUnmountRefused, "busy").WithComponent("mount")
	if !Is(err, Sentinel(ErrCodeUnmountRefused)) {
		t.Error("Is failed to match same code")
	}
	if Is(err, Sentinel(ErrCodeUnmountFailed)) {
		t.Error("Is matched a different code")
	}
}

func TestIsMatchesThroughWrapping(t *testing.T) {
	inner := NewError(ErrCodeObjectNotFound, "gone")
	wrapped := fmt.Errorf("while reading: %w", inner)
	if !Is(wrapped, Sentinel(ErrCodeObjectNotFound)) {
		t.Error("Is failed through fmt.Errorf wrapping")
	}
}

func TestGetCategory(t *testing.T) {
	tests := map[ErrorCode]ErrorCategory{
		ErrCodeInvalidConfig:         CategoryConfiguration,
		ErrCodeNoApplicableProvider:  CategoryMount,
		ErrCodeUnsupportedCapability: CategoryMount,
		ErrCodeMountFailed:           CategoryMount,
		ErrCodeUnmountRefused:        CategoryMount,
		ErrCodePathInvalid:           CategoryFilesystem,
		ErrCodeStorageRead:           CategoryFilesystem,
		ErrCodeConnectionTimeout:     CategoryConnection,
		ErrCodeInvalidState:          CategoryState,
		ErrCodeRetryExhausted:        CategoryOperation,
		ErrCodeInternalError:         CategoryInternal,
	}
	for code, want := range tests {
		if got := GetCategory(code); got != want {
			t.Errorf("GetCategory(%s) = %s, want %s", code, got, want)
		}
	}
}

func TestRetryableDefaults(t *testing.T) {
	if !IsRetryableByDefault(ErrCodeNetworkError) {
		t.Error("network errors should be retryable")
	}
	if IsRetryableByDefault(ErrCodeUnmountRefused) {
		t.Error("unmount refusal should not be retryable")
	}
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewError(ErrCodeConfigLoad, "x"))
	if got := CodeOf(err); got != ErrCodeConfigLoad {
		t.Errorf("CodeOf = %s", got)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != ErrCodeInternalError {
		t.Errorf("CodeOf(plain) = %s", got)
	}
}
