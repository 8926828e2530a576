package cancel

import (
	"errors"
	"sync"
)

// ErrBusy is returned by Begin when the session already has an active token.
var ErrBusy = errors.New("session is busy")

// Registry tracks the single active token of every session. A session is
// busy exactly while it has an active token.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Token
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Token)}
}

// Begin creates the active token for a new operation on sessionID.
func (r *Registry) Begin(sessionID string) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[sessionID]; ok {
		return nil, ErrBusy
	}
	tok := New()
	r.active[sessionID] = tok
	return tok, nil
}

// End releases the session if tok is still its active token. It reports
// whether tok was active; false means the operation was stopped (and the
// session possibly reused) in the meantime.
func (r *Registry) End(sessionID string, tok *Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[sessionID] != tok {
		return false
	}
	delete(r.active, sessionID)
	return true
}

// Active returns the active token for sessionID, if any.
func (r *Registry) Active(sessionID string) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.active[sessionID]
	return tok, ok
}

// Busy reports whether sessionID has an operation in flight.
func (r *Registry) Busy(sessionID string) bool {
	_, ok := r.Active(sessionID)
	return ok
}

// Cancel cancels and releases the active token of sessionID. It returns false
// when the session was idle.
func (r *Registry) Cancel(sessionID string) bool {
	r.mu.Lock()
	tok, ok := r.active[sessionID]
	delete(r.active, sessionID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	tok.Cancel()
	return true
}
