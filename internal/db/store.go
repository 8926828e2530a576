// Package db persists conversation logs to SQLite.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ensemble/internal/history"
)

type Store struct {
	db *sql.DB
}

// Conversation describes a persisted conversation window.
type Conversation struct {
	Key          string
	Title        string
	Kind         string // single, group
	Participants []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Open opens the database at path, or at the default data location when path
// is empty.
func Open(path string) (*Store, error) {
	if path == "" {
		dir, err := dataDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "conversations.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Writes arrive from many goroutines; one connection keeps SQLite happy.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func dataDir() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "ensemble"), nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		key TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'single',
		participants TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY,
		conversation_key TEXT NOT NULL,
		role TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		media TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_key);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage writes one log entry, keeping the ID the log assigned.
func (s *Store) SaveMessage(m history.Message) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_key, role, agent_id, content, media, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Key, string(m.Role), m.AgentID, m.Content, m.Media, m.CreatedAt,
	)
	if err != nil {
		return err
	}

	s.db.Exec(`UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE key = ?`, m.Key)
	return nil
}

// DeleteConversation removes every message stored under key.
func (s *Store) DeleteConversation(key string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE conversation_key = ?`, key)
	return err
}

// DeleteAll removes every stored message.
func (s *Store) DeleteAll() error {
	_, err := s.db.Exec(`DELETE FROM messages`)
	return err
}

// LoadMessages returns every stored message in ID order.
func (s *Store) LoadMessages() ([]history.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_key, role, agent_id, content, media, created_at
		 FROM messages ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []history.Message
	for rows.Next() {
		var m history.Message
		var role string
		if err := rows.Scan(&m.ID, &m.Key, &role, &m.AgentID, &m.Content, &m.Media, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = history.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpsertConversation records a conversation window's metadata.
func (s *Store) UpsertConversation(c Conversation) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (key, title, kind, participants) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			title = excluded.title,
			kind = excluded.kind,
			participants = excluded.participants,
			updated_at = CURRENT_TIMESTAMP`,
		c.Key, c.Title, c.Kind, strings.Join(c.Participants, ","),
	)
	return err
}

// GetConversation retrieves a conversation by key.
func (s *Store) GetConversation(key string) (*Conversation, error) {
	row := s.db.QueryRow(
		`SELECT key, title, kind, participants, created_at, updated_at
		 FROM conversations WHERE key = ?`, key,
	)

	var c Conversation
	var participants string
	if err := row.Scan(&c.Key, &c.Title, &c.Kind, &participants, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Participants = splitParticipants(participants)
	return &c, nil
}

// ListConversations returns all conversations ordered by update time.
func (s *Store) ListConversations() ([]Conversation, error) {
	rows, err := s.db.Query(
		`SELECT key, title, kind, participants, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC, key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		var participants string
		if err := rows.Scan(&c.Key, &c.Title, &c.Kind, &participants, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Participants = splitParticipants(participants)
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func splitParticipants(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
