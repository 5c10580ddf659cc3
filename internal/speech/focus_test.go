package speech

import (
	"context"
	"errors"
	"testing"
)

func TestExclusiveFocus(t *testing.T) {
	t.Parallel()
	f := NewExclusiveFocus()
	ctx := context.Background()

	release, err := f.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("Acquire(a): %v", err)
	}
	if !f.Held() || f.Owner() != "a" {
		t.Fatalf("Held() = %v, Owner() = %q, want held by a", f.Held(), f.Owner())
	}

	if _, err := f.Acquire(ctx, "b"); !errors.Is(err, ErrFocusDenied) {
		t.Fatalf("Acquire(b) error = %v, want ErrFocusDenied", err)
	}

	release()
	if f.Held() {
		t.Fatal("focus held after release")
	}

	releaseB, err := f.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("Acquire(b) after release: %v", err)
	}
	defer releaseB()

	// A stale release must not free b's grant.
	release()
	if f.Owner() != "b" {
		t.Errorf("Owner() = %q after stale release, want b", f.Owner())
	}
}

func TestExclusiveFocus_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewExclusiveFocus().Acquire(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
