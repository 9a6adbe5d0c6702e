package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("store overloaded"))
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
}

func TestIsTransient_WrappedByEris(t *testing.T) {
	err := eris.Wrap(NewTransientError(errors.New("busy")), "store: put image")
	if !IsTransient(err) {
		t.Error("expected eris-wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	if IsTransient(errors.New("UNIQUE constraint failed: images.key")) {
		t.Error("constraint violation should not be transient")
	}
}

func TestIsTransient_ContextErrorsAreFinal(t *testing.T) {
	if IsTransient(fmt.Errorf("query: %w", context.DeadlineExceeded)) {
		t.Error("deadline exceeded should not be transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("canceled should not be transient")
	}
}

func TestIsTransient_ConnectionReset(t *testing.T) {
	err := fmt.Errorf("write tcp: %w", syscall.ECONNRESET)
	if !IsTransient(err) {
		t.Error("ECONNRESET should be transient")
	}
}

func TestIsTransient_SQLiteLocked(t *testing.T) {
	err := errors.New("sqlite: exec: database is locked (5) (SQLITE_BUSY)")
	if !IsTransient(err) {
		t.Error("sqlite lock contention should be transient")
	}
}
