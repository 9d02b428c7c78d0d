package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := New(KindStorageUnavailable, "ping failed").
		WithCause(root)

	if KindOf(err) != KindStorageUnavailable {
		t.Fatalf("expected kind %s, got %s", KindStorageUnavailable, KindOf(err))
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WithField(t *testing.T) {
	t.Parallel()

	err := Validation("must not be empty").WithField("user_id")
	if err.Field != "user_id" {
		t.Fatalf("expected field user_id, got %q", err.Field)
	}
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation kind")
	}
}

func TestIs(t *testing.T) {
	t.Parallel()

	if !Is(NotFound("agent missing"), KindNotFound) {
		t.Fatalf("expected Is to match not-found")
	}
	if Is(errors.New("plain"), KindNotFound) {
		t.Fatalf("expected Is to reject a non-domain error")
	}
}

func TestAs_UnwrapsChain(t *testing.T) {
	t.Parallel()

	inner := Conflict("second borrow")
	wrapped := fmt.Errorf("wrapped: %w", inner)

	de, ok := As(wrapped)
	if !ok || de.Kind != KindConflict {
		t.Fatalf("expected conflict kind, got %v ok=%v", de, ok)
	}
}
