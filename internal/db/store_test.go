package db

import (
	"path/filepath"
	"testing"
	"time"

	"ensemble/internal/history"
)

func TestStore(t *testing.T) {
	// Use temp dir for test
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	store, err := Open("")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()

	// Test upsert conversation
	err = store.UpsertConversation(Conversation{
		Key:          "group-1",
		Title:        "Salon",
		Kind:         "group",
		Participants: []string{"luna", "rex", "ivy"},
	})
	if err != nil {
		t.Fatalf("UpsertConversation() failed: %v", err)
	}

	conv, err := store.GetConversation("group-1")
	if err != nil {
		t.Fatalf("GetConversation() failed: %v", err)
	}
	if conv.Title != "Salon" {
		t.Errorf("Expected title 'Salon', got %s", conv.Title)
	}
	if len(conv.Participants) != 3 || conv.Participants[1] != "rex" {
		t.Errorf("Expected participants [luna rex ivy], got %v", conv.Participants)
	}

	// Test save messages
	now := time.Now()
	msgs := []history.Message{
		{ID: 1, Key: "group-1", Role: history.RoleUser, Content: "topic?", CreatedAt: now},
		{ID: 2, Key: "group-1", Role: history.RoleAgent, AgentID: "luna", Content: "stars", CreatedAt: now},
		{ID: 3, Key: "rex", Role: history.RoleUser, Content: "hi", CreatedAt: now},
	}
	for _, m := range msgs {
		if err := store.SaveMessage(m); err != nil {
			t.Fatalf("SaveMessage(%d) failed: %v", m.ID, err)
		}
	}

	loaded, err := store.LoadMessages()
	if err != nil {
		t.Fatalf("LoadMessages() failed: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(loaded))
	}
	if loaded[1].AgentID != "luna" || loaded[1].Role != history.RoleAgent {
		t.Errorf("Unexpected second message: %+v", loaded[1])
	}

	// Test delete conversation
	if err := store.DeleteConversation("group-1"); err != nil {
		t.Fatalf("DeleteConversation() failed: %v", err)
	}
	loaded, err = store.LoadMessages()
	if err != nil {
		t.Fatalf("LoadMessages() after delete failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Key != "rex" {
		t.Errorf("Expected only rex's message to remain, got %+v", loaded)
	}

	// Test list conversations
	conversations, err := store.ListConversations()
	if err != nil {
		t.Fatalf("ListConversations() failed: %v", err)
	}
	if len(conversations) != 1 {
		t.Errorf("Expected 1 conversation, got %d", len(conversations))
	}

	// Test delete all
	if err := store.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll() failed: %v", err)
	}
	loaded, _ = store.LoadMessages()
	if len(loaded) != 0 {
		t.Errorf("Expected no messages after DeleteAll, got %d", len(loaded))
	}
}

func TestStoreBacksHistoryLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	log := history.New(store, nil)
	log.Append("luna", history.Draft{Role: history.RoleUser, Content: "hello"})
	log.Append("luna", history.Draft{Role: history.RoleAgent, AgentID: "luna", Content: "hi there"})
	store.Close()

	// Reopen and restore into a fresh log.
	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	msgs, err := store.LoadMessages()
	if err != nil {
		t.Fatalf("LoadMessages() failed: %v", err)
	}
	restored := history.New(store, nil)
	restored.Restore(msgs)

	got := restored.Read("luna")
	if len(got) != 2 || got[1].Content != "hi there" {
		t.Fatalf("restored log = %+v", got)
	}
	next := restored.Append("luna", history.Draft{Role: history.RoleUser, Content: "again"})
	if next.ID != 3 {
		t.Errorf("next ID after restore = %d, want 3", next.ID)
	}
}
