package escalation

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"ensemble/internal/models"
)

// Kind classifies why a model call failed.
type Kind int

const (
	KindNone Kind = iota
	KindContentPolicy
	KindNetworkOrProtocol
	KindBadRequest
	KindInvalidOrEmptyResponse
	KindServiceUnavailable
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindContentPolicy:
		return "content_policy"
	case KindNetworkOrProtocol:
		return "network_or_protocol"
	case KindBadRequest:
		return "bad_request"
	case KindInvalidOrEmptyResponse:
		return "invalid_or_empty_response"
	case KindServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

// Fallbacks are the user-facing sentences shown instead of raw errors.
var Fallbacks = map[Kind]string{
	KindContentPolicy:          "Let's keep things within the guidelines. Could we talk about something else?",
	KindNetworkOrProtocol:      "I'm having trouble reaching my thoughts right now. Please try again in a moment.",
	KindBadRequest:             "I couldn't quite make sense of that request. Could you rephrase it?",
	KindInvalidOrEmptyResponse: "I lost my train of thought there. Could you say that again?",
	KindServiceUnavailable:     "I'm not available right now; the model service isn't running.",
	KindUnknown:                "Something went wrong on my side. Let's try that again.",
}

// CancelledText is the text of a cancelled result. It is never stored.
const CancelledText = "Reply cancelled."

// Fallback returns the canned sentence for kind.
func Fallback(kind Kind) string {
	if s, ok := Fallbacks[kind]; ok {
		return s
	}
	return Fallbacks[KindUnknown]
}

var (
	policyMarkers = []string{
		"content policy", "content_policy", "policy violation", "violates",
		"jailbreak", "filtered", "content filter", "content_filter",
		"moderation", "safety system",
	}
	unavailableMarkers = []string{
		"model service unavailable", "not installed", "model not found", "no such model",
	}
	badRequestMarkers = []string{
		"bad request", "invalid request", "malformed",
	}
	invalidMarkers = []string{
		"empty", "invalid response", "non-string", "unexpected response",
	}
	networkMarkers = []string{
		"network", "protocol", "fetch", "timeout", "timed out", "deadline exceeded",
		"connection", "eof", "dial tcp", "no such host", "tls", "rate limit",
		"bad gateway", "gateway timeout", "server busy",
	}
	// Matched last: a bare "unavailable" with no network wording means the
	// runtime is missing.
	absentMarkers = []string{"unavailable", "not available"}

	status400 = regexp.MustCompile(`\b400\b`)
)

// Classify maps a model error to a Kind. The model client's sentinels are
// matched first; anything else is classified by its wording, from most to
// least specific.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch {
	case errors.Is(err, models.ErrUnavailable):
		return KindServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, models.ErrRateLimit),
		errors.Is(err, models.ErrServerBusy),
		errors.Is(err, models.ErrBadGateway),
		errors.Is(err, models.ErrGatewayTimeout):
		return KindNetworkOrProtocol
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, policyMarkers):
		return KindContentPolicy
	case containsAny(msg, unavailableMarkers):
		return KindServiceUnavailable
	case status400.MatchString(msg) || containsAny(msg, badRequestMarkers):
		return KindBadRequest
	case containsAny(msg, invalidMarkers):
		return KindInvalidOrEmptyResponse
	case containsAny(msg, networkMarkers):
		return KindNetworkOrProtocol
	case containsAny(msg, absentMarkers):
		return KindServiceUnavailable
	default:
		return KindUnknown
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
