// Package escalation turns one reply request into agent text. It tries an
// enriched prompt, then a basic one, then a minimal one, and falls back to a
// canned sentence when every tier fails. Reply never returns an error.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ensemble/internal/cancel"
)

// Caller is the remote model.
type Caller interface {
	Call(ctx context.Context, prompt, model string) (string, error)
}

// Augmenter supplies background text (e.g. search snippets) for enriched
// prompts.
type Augmenter interface {
	Augment(ctx context.Context, query string) (string, error)
}

// Line is one entry of the conversation window embedded in enriched prompts.
type Line struct {
	Speaker string
	Text    string
}

// Request is everything needed to produce one agent reply.
type Request struct {
	Message     string
	AgentName   string
	Personality string
	Mood        string
	Enrich      bool // embed search results when an augmenter is configured
	History     []Line
	Peers       []string // other participants' display names
	Token       *cancel.Token
}

type Status int

const (
	StatusOK Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Result is the outcome of Reply. Text is never empty. Cancelled results
// must not be stored as messages.
type Result struct {
	Text     string
	Status   Status
	Kind     Kind // failure class of the last failed attempt
	Tier     Tier // tier that produced Text, or the last tier tried
	Attempts int  // outbound model calls made
}

// WasFallback reports whether Text is a canned fallback sentence.
func (r Result) WasFallback() bool { return r.Status == StatusFailed }

// Cancelled reports whether the enclosing operation was cancelled.
func (r Result) Cancelled() bool { return r.Status == StatusCancelled }

// attempt is the tagged outcome of one tier.
type attempt struct {
	status Status
	text   string
	kind   Kind
	err    error
}

type Pipeline struct {
	caller  Caller
	model   string
	timeout time.Duration
	augment Augmenter
	logger  *slog.Logger
}

type Option func(*Pipeline)

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithAugmenter enables background enrichment for requests that ask for it.
func WithAugmenter(a Augmenter) Option {
	return func(p *Pipeline) { p.augment = a }
}

func New(caller Caller, model string, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		caller: caller,
		model:  model,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reply produces the agent's answer to req. At most three model calls are
// made. A content-policy rejection ends escalation immediately.
func (p *Pipeline) Reply(ctx context.Context, req Request) Result {
	tok := req.Token
	if tok == nil {
		tok = cancel.New()
	}
	log := p.logger.With("agent", req.AgentName)

	if tok.IsCancelled() {
		return cancelledResult(TierNone, 0)
	}

	augmentation := p.augmentation(ctx, tok, req, log)

	var (
		lastKind Kind
		last     Tier
		calls    int
	)
	for _, tier := range tiers {
		if tok.IsCancelled() || ctx.Err() != nil {
			return cancelledResult(last, calls)
		}
		last = tier

		a := p.try(ctx, tok, buildPrompt(tier, req, augmentation))
		calls++

		switch a.status {
		case StatusOK:
			if tier != TierEnriched {
				log.Info("reply recovered on degraded tier", "tier", tier.String(), "attempts", calls)
			}
			return Result{Text: a.text, Status: StatusOK, Tier: tier, Attempts: calls}
		case StatusCancelled:
			return cancelledResult(tier, calls)
		}

		lastKind = a.kind
		log.Warn("model call failed", "tier", tier.String(), "kind", a.kind.String(), "error", a.err)

		if a.kind == KindContentPolicy {
			break
		}
	}

	return Result{
		Text:     Fallback(lastKind),
		Status:   StatusFailed,
		Kind:     lastKind,
		Tier:     last,
		Attempts: calls,
	}
}

func (p *Pipeline) augmentation(ctx context.Context, tok *cancel.Token, req Request, log *slog.Logger) string {
	if !req.Enrich || p.augment == nil {
		return ""
	}
	callCtx, done := p.callContext(ctx, tok)
	defer done()

	text, err := p.augment.Augment(callCtx, req.Message)
	if err != nil {
		log.Warn("augmentation failed", "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// try runs one model call. The call is aborted when tok is cancelled, and a
// result that arrives after cancellation is discarded.
func (p *Pipeline) try(ctx context.Context, tok *cancel.Token, prompt string) (a attempt) {
	if p.caller == nil {
		return attempt{status: StatusFailed, kind: KindServiceUnavailable, err: fmt.Errorf("no model configured")}
	}

	defer func() {
		if r := recover(); r != nil {
			a = attempt{status: StatusFailed, kind: KindUnknown, err: fmt.Errorf("model call panicked: %v", r)}
		}
	}()

	callCtx, done := p.callContext(ctx, tok)
	defer done()

	text, err := p.caller.Call(callCtx, prompt, p.model)
	if tok.IsCancelled() || ctx.Err() != nil {
		return attempt{status: StatusCancelled}
	}
	if err != nil {
		return attempt{status: StatusFailed, kind: Classify(err), err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return attempt{status: StatusFailed, kind: KindInvalidOrEmptyResponse, err: fmt.Errorf("empty response")}
	}
	return attempt{status: StatusOK, text: text}
}

// callContext derives a context that ends with ctx, with tok, or after the
// configured timeout, whichever comes first.
func (p *Pipeline) callContext(ctx context.Context, tok *cancel.Token) (context.Context, func()) {
	callCtx, cancelCall := context.WithCancel(ctx)
	stop := context.AfterFunc(tok.Context(), cancelCall)

	if p.timeout > 0 {
		var cancelTimeout context.CancelFunc
		callCtx, cancelTimeout = context.WithTimeout(callCtx, p.timeout)
		return callCtx, func() {
			cancelTimeout()
			stop()
			cancelCall()
		}
	}
	return callCtx, func() {
		stop()
		cancelCall()
	}
}

func cancelledResult(tier Tier, calls int) Result {
	return Result{Text: CancelledText, Status: StatusCancelled, Tier: tier, Attempts: calls}
}
