package escalation

import (
	"fmt"
	"strings"
)

// Tier is one of the progressively simpler prompt constructions.
type Tier int

const (
	TierNone Tier = iota
	TierEnriched
	TierBasic
	TierMinimal
)

func (t Tier) String() string {
	switch t {
	case TierEnriched:
		return "enriched"
	case TierBasic:
		return "basic"
	case TierMinimal:
		return "minimal"
	default:
		return "none"
	}
}

var tiers = []Tier{TierEnriched, TierBasic, TierMinimal}

// buildPrompt renders req for tier. augmentation is only used by the
// enriched tier.
func buildPrompt(tier Tier, req Request, augmentation string) string {
	switch tier {
	case TierEnriched:
		return enrichedPrompt(req, augmentation)
	case TierBasic:
		return basicPrompt(req)
	default:
		return minimalPrompt(req)
	}
}

func enrichedPrompt(req Request, augmentation string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are %s, a character in a multi-agent chat.\n", req.AgentName))
	if req.Personality != "" {
		sb.WriteString(fmt.Sprintf("Personality: %s\n", req.Personality))
	}
	if req.Mood != "" {
		sb.WriteString(fmt.Sprintf("Current mood: %s\n", req.Mood))
	}
	if len(req.Peers) > 0 {
		sb.WriteString(fmt.Sprintf("Also in this conversation: %s. ", strings.Join(req.Peers, ", ")))
		sb.WriteString("React to what the others said and address them by name when it fits.\n")
	}
	sb.WriteString("Stay in character and keep your reply to a few sentences.\n\n")

	if len(req.History) > 0 {
		sb.WriteString("=== RECENT CONVERSATION ===\n")
		for _, line := range req.History {
			sb.WriteString(fmt.Sprintf("[%s]: %s\n", line.Speaker, line.Text))
		}
		sb.WriteString("=== END CONVERSATION ===\n\n")
	}

	if augmentation != "" {
		sb.WriteString("=== BACKGROUND (web search) ===\n")
		sb.WriteString(augmentation)
		if !strings.HasSuffix(augmentation, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("=== END BACKGROUND ===\n\n")
	}

	sb.WriteString("Message to respond to:\n")
	sb.WriteString(req.Message)
	return sb.String()
}

func basicPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are %s.", req.AgentName))
	if req.Personality != "" {
		sb.WriteString(" " + req.Personality)
	}
	if req.Mood != "" {
		sb.WriteString(fmt.Sprintf(" You feel %s.", req.Mood))
	}
	sb.WriteString("\nReply in character to:\n")
	sb.WriteString(req.Message)
	return sb.String()
}

func minimalPrompt(req Request) string {
	return "Respond briefly and helpfully to the following message:\n\n" + req.Message
}
