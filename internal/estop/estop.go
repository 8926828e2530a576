// Package estop is the process-wide emergency stop: every window that has
// work in flight registers a stop callback here, and StopAll halts them all.
package estop

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// StopFunc halts whatever a session is doing.
type StopFunc func() error

// Coordinator holds one stop callback per session.
type Coordinator struct {
	mu        sync.Mutex
	callbacks map[string]StopFunc
	logger    *slog.Logger
}

func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		callbacks: make(map[string]StopFunc),
		logger:    logger,
	}
}

// Register sets the stop callback for sessionID, replacing any previous one.
func (c *Coordinator) Register(sessionID string, fn StopFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[sessionID] = fn
}

// Unregister drops the callback for sessionID without invoking it.
func (c *Coordinator) Unregister(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.callbacks, sessionID)
}

// Registered reports whether sessionID has a stop callback.
func (c *Coordinator) Registered(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.callbacks[sessionID]
	return ok
}

// Sessions returns the ids with a registered callback, sorted.
func (c *Coordinator) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.callbacks))
	for id := range c.callbacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopOne invokes and removes the callback for sessionID. An idle session is
// a no-op.
func (c *Coordinator) StopOne(sessionID string) error {
	c.mu.Lock()
	fn, ok := c.callbacks[sessionID]
	delete(c.callbacks, sessionID)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := invoke(fn); err != nil {
		c.logger.Warn("stop callback failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("stop %s: %w", sessionID, err)
	}
	return nil
}

// StopAll invokes every registered callback and empties the registry. A
// failing or panicking callback does not prevent the others from running.
func (c *Coordinator) StopAll() error {
	c.mu.Lock()
	callbacks := c.callbacks
	c.callbacks = make(map[string]StopFunc)
	c.mu.Unlock()

	ids := make([]string, 0, len(callbacks))
	for id := range callbacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := invoke(callbacks[id]); err != nil {
			c.logger.Warn("stop callback failed", "session_id", id, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
		}
	}
	c.logger.Info("emergency stop", "sessions", len(ids), "failures", len(errs))
	return errors.Join(errs...)
}

func invoke(fn StopFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
