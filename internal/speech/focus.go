package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrFocusDenied is returned by [ExclusiveFocus.Acquire] while another owner
// holds the output.
var ErrFocusDenied = errors.New("speech: output focus denied")

// Compile-time interface assertion.
var _ Focus = (*ExclusiveFocus)(nil)

// ExclusiveFocus is an in-process output resource held by at most one owner.
// Acquire fails fast instead of waiting.
type ExclusiveFocus struct {
	mu    sync.Mutex
	owner string
	held  bool
	token uint64
}

// NewExclusiveFocus returns a free focus.
func NewExclusiveFocus() *ExclusiveFocus {
	return &ExclusiveFocus{}
}

// Acquire grants the focus to owner. It returns [ErrFocusDenied] when the
// focus is held. The release func only frees the grant it belongs to.
func (f *ExclusiveFocus) Acquire(ctx context.Context, owner string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil, fmt.Errorf("%w: held by %q", ErrFocusDenied, f.owner)
	}
	f.held = true
	f.owner = owner
	f.token++
	token := f.token

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.held && f.token == token {
				f.held = false
				f.owner = ""
			}
		})
	}, nil
}

// Owner returns the current holder, or "" when the focus is free.
func (f *ExclusiveFocus) Owner() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}

// Held reports whether someone holds the focus.
func (f *ExclusiveFocus) Held() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}
