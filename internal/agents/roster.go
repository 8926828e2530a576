// Package agents holds the personified agents available to chat windows.
package agents

import (
	"ensemble/internal/config"
)

// Agent is read-only to the conversation core.
type Agent struct {
	ID           string
	Name         string // Display name
	Personality  string
	Mood         string
	Color        string // Hex color for UI
	VoiceProfile string
	Voice        bool // Replies can be spoken
	Image        bool // Can answer image requests
	Internet     bool // Prompts may embed search results
}

// Roster holds all agents, in configuration order.
type Roster struct {
	agents map[string]Agent
	order  []string // Preserve order for consistent display
}

// NewRoster creates a roster from config.
func NewRoster(cfg *config.Config) *Roster {
	r := &Roster{
		agents: make(map[string]Agent),
		order:  []string{},
	}
	for _, a := range cfg.Agents {
		r.Add(Agent{
			ID:           a.ID,
			Name:         a.Name,
			Personality:  a.Personality,
			Mood:         a.Mood,
			Color:        a.Color,
			VoiceProfile: a.VoiceProfile,
			Voice:        a.Voice,
			Image:        a.Image,
			Internet:     a.Internet,
		})
	}
	return r
}

// NewRosterOf builds a roster directly from agents.
func NewRosterOf(list ...Agent) *Roster {
	r := &Roster{agents: make(map[string]Agent)}
	for _, a := range list {
		r.Add(a)
	}
	return r
}

// Add registers an agent, replacing any agent with the same ID in place.
func (r *Roster) Add(a Agent) {
	if _, exists := r.agents[a.ID]; !exists {
		r.order = append(r.order, a.ID)
	}
	r.agents[a.ID] = a
}

// Get returns an agent by ID.
func (r *Roster) Get(id string) (Agent, bool) {
	a, ok := r.agents[id]
	return a, ok
}

// Names maps agent IDs to display names, skipping unknown IDs.
func (r *Roster) Names(ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.agents[id]; ok {
			names = append(names, a.Name)
		}
	}
	return names
}

// All returns all agents in order.
func (r *Roster) All() []Agent {
	result := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		if a, ok := r.agents[id]; ok {
			result = append(result, a)
		}
	}
	return result
}

// IDs returns agent IDs in order.
func (r *Roster) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Count returns number of agents.
func (r *Roster) Count() int {
	return len(r.order)
}
