// Package history is the append-only message log, keyed by conversation: an
// agent id for one-to-one windows, a group session id for group chats.
package history

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a stored, immutable log entry.
type Message struct {
	ID        int64
	Key       string
	Role      Role
	AgentID   string // empty for user messages
	Content   string
	CreatedAt time.Time
	Media     string // optional attached media reference
}

// Draft is what callers hand to Append; the log assigns ID and CreatedAt.
type Draft struct {
	Role    Role
	AgentID string
	Content string
	Media   string
}

// Persister mirrors the log to durable storage. Its failures never surface
// to log callers.
type Persister interface {
	SaveMessage(m Message) error
	DeleteConversation(key string) error
	DeleteAll() error
}

// Log holds every conversation in memory, in append order.
type Log struct {
	// wmu orders writes so the persister sees them in the same order as
	// memory. mu alone guards the maps, so readers never wait on storage.
	wmu     sync.Mutex
	mu      sync.RWMutex
	logs    map[string][]Message
	lastID  int64
	persist Persister
	now     func() time.Time
	logger  *slog.Logger
}

func New(persist Persister, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		logs:    make(map[string][]Message),
		persist: persist,
		now:     time.Now,
		logger:  logger,
	}
}

// Restore seeds the log with previously persisted messages. Messages must be
// in ID order; the ID sequence continues after the highest one.
func (l *Log) Restore(msgs []Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range msgs {
		l.logs[m.Key] = append(l.logs[m.Key], m)
		if m.ID > l.lastID {
			l.lastID = m.ID
		}
	}
}

// Append stores a message under key and returns the stored record.
func (l *Log) Append(key string, d Draft) Message {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	l.mu.Lock()
	l.lastID++
	m := Message{
		ID:        l.lastID,
		Key:       key,
		Role:      d.Role,
		AgentID:   d.AgentID,
		Content:   d.Content,
		CreatedAt: l.now(),
		Media:     d.Media,
	}
	l.logs[key] = append(l.logs[key], m)
	l.mu.Unlock()

	if l.persist != nil {
		if err := l.persist.SaveMessage(m); err != nil {
			l.logger.Warn("persist message failed", "key", key, "message_id", m.ID, "error", err)
		}
	}
	return m
}

// Read returns a copy of every message under key, oldest first.
func (l *Log) Read(key string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msgs := l.logs[key]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Recent returns at most the last n messages under key, oldest first.
func (l *Log) Recent(key string, n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msgs := l.logs[key]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Last returns the most recent message under key.
func (l *Log) Last(key string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msgs := l.logs[key]
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Len returns the number of messages under key.
func (l *Log) Len(key string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.logs[key])
}

// Keys returns every conversation key that has messages, sorted.
func (l *Log) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make([]string, 0, len(l.logs))
	for k, msgs := range l.logs {
		if len(msgs) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clear removes the whole log for key.
func (l *Log) Clear(key string) {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	l.mu.Lock()
	delete(l.logs, key)
	l.mu.Unlock()

	if l.persist != nil {
		if err := l.persist.DeleteConversation(key); err != nil {
			l.logger.Warn("persist clear failed", "key", key, "error", err)
		}
	}
}

// ClearAll empties every log.
func (l *Log) ClearAll() {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	l.mu.Lock()
	l.logs = make(map[string][]Message)
	l.mu.Unlock()

	if l.persist != nil {
		if err := l.persist.DeleteAll(); err != nil {
			l.logger.Warn("persist clear all failed", "error", err)
		}
	}
}
