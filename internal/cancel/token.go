// Package cancel provides cooperative cancellation tokens and the per-session
// registry of the token that is currently active for each conversation.
package cancel

import (
	"context"
	"sync"
)

// Token marks one outer operation (a send, a group round, an autonomous tick)
// as abortable. Tokens are never reused across operations.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	callbacks []func()

	ctx  context.Context
	stop context.CancelFunc
}

// New returns a fresh, uncancelled token.
func New() *Token {
	ctx, stop := context.WithCancel(context.Background())
	return &Token{ctx: ctx, stop: stop}
}

// Cancel marks the token cancelled and runs every dependent callback exactly
// once, synchronously. Cancelling twice is a no-op.
func (t *Token) Cancel() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	t.stop()
	for _, fn := range callbacks {
		fn()
	}
}

// IsCancelled reports whether Cancel has been called.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Commit runs fn unless the token is cancelled and reports whether it ran.
// Cancel waits for a running fn, so once Cancel returns nothing more is
// committed. fn must not call back into the token.
func (t *Token) Commit(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	fn()
	return true
}

// OnCancel registers fn to run when the token is cancelled. If the token is
// already cancelled fn runs immediately.
func (t *Token) OnCancel(fn func()) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}

// Context returns a context that is done once the token is cancelled.
// Outbound requests made on behalf of the operation should use it so that a
// stop aborts them at the transport level.
func (t *Token) Context() context.Context {
	return t.ctx
}
