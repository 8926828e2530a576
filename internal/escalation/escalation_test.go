package escalation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"ensemble/internal/cancel"
	"ensemble/internal/models"
)

// MockCaller answers each call with the next scripted step.
type MockCaller struct {
	mu      sync.Mutex
	steps   []func(ctx context.Context, prompt string) (string, error)
	prompts []string
}

func (m *MockCaller) Call(ctx context.Context, prompt, model string) (string, error) {
	m.mu.Lock()
	i := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if i >= len(m.steps) {
		return "", errors.New("unexpected call")
	}
	return m.steps[i](ctx, prompt)
}

func (m *MockCaller) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *MockCaller) Prompt(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[i]
}

func reply(text string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) { return text, nil }
}

func fail(msg string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) { return "", errors.New(msg) }
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseRequest() Request {
	return Request{
		Message:     "hello",
		AgentName:   "Luna",
		Personality: "A dreamy astronomer.",
		Mood:        "curious",
	}
}

func TestReply_FirstTierSucceeds(t *testing.T) {
	caller := &MockCaller{steps: []func(context.Context, string) (string, error){reply("hi there")}}
	p := New(caller, "m", quietLogger())

	res := p.Reply(context.Background(), baseRequest())
	if res.Status != StatusOK || res.Text != "hi there" {
		t.Fatalf("Reply() = %+v", res)
	}
	if res.Tier != TierEnriched || res.Attempts != 1 || res.WasFallback() {
		t.Errorf("Reply() tier=%s attempts=%d fallback=%v", res.Tier, res.Attempts, res.WasFallback())
	}
}

func TestReply_NetworkErrorEscalates(t *testing.T) {
	caller := &MockCaller{steps: []func(context.Context, string) (string, error){
		fail("network error: connection reset by peer"),
		reply("hi there"),
	}}
	p := New(caller, "m", quietLogger())

	res := p.Reply(context.Background(), baseRequest())
	if res.Text != "hi there" || res.Tier != TierBasic || res.Attempts != 2 {
		t.Fatalf("Reply() = %+v", res)
	}
}

func TestReply_ContentPolicyShortCircuitsAtEveryTier(t *testing.T) {
	for failAt := 0; failAt < 3; failAt++ {
		steps := []func(context.Context, string) (string, error){}
		for i := 0; i < failAt; i++ {
			steps = append(steps, fail("API error 502: bad gateway"))
		}
		steps = append(steps, fail("request blocked: content policy violation"))
		steps = append(steps, reply("should never be reached"))

		caller := &MockCaller{steps: steps}
		res := New(caller, "m", quietLogger()).Reply(context.Background(), baseRequest())

		if caller.Calls() != failAt+1 {
			t.Errorf("policy at tier %d: made %d calls, want %d", failAt+1, caller.Calls(), failAt+1)
		}
		if res.Text != Fallback(KindContentPolicy) || res.Kind != KindContentPolicy || !res.WasFallback() {
			t.Errorf("policy at tier %d: Reply() = %+v", failAt+1, res)
		}
	}
}

func TestReply_NonPolicyErrorAttemptsNextTier(t *testing.T) {
	for failAt := 0; failAt < 2; failAt++ {
		steps := []func(context.Context, string) (string, error){}
		for i := 0; i <= failAt; i++ {
			steps = append(steps, fail("fetch failed"))
		}
		steps = append(steps, reply("recovered"))

		caller := &MockCaller{steps: steps}
		res := New(caller, "m", quietLogger()).Reply(context.Background(), baseRequest())

		if res.Text != "recovered" || caller.Calls() != failAt+2 {
			t.Errorf("failure at tier %d: Reply() = %+v after %d calls", failAt+1, res, caller.Calls())
		}
	}
}

func TestReply_AllTiersFailUsesFallbackTable(t *testing.T) {
	tests := []struct {
		last string
		want Kind
	}{
		{"Failed to fetch", KindNetworkOrProtocol},
		{"API error 400 Bad Request: missing field", KindBadRequest},
		{"invalid response: empty completion", KindInvalidOrEmptyResponse},
		{"model service unavailable", KindServiceUnavailable},
		{"the spoon bent", KindUnknown},
	}

	for _, tt := range tests {
		caller := &MockCaller{steps: []func(context.Context, string) (string, error){
			fail("network error: timeout"), fail("network error: timeout"), fail(tt.last),
		}}
		res := New(caller, "m", quietLogger()).Reply(context.Background(), baseRequest())

		if caller.Calls() != 3 {
			t.Errorf("%q: made %d calls, want 3", tt.last, caller.Calls())
		}
		if res.Kind != tt.want || res.Text != Fallback(tt.want) || res.Tier != TierMinimal {
			t.Errorf("%q: Reply() = %+v, want kind %s", tt.last, res, tt.want)
		}
		if strings.Contains(res.Text, tt.last) {
			t.Errorf("%q: fallback leaks the raw error", tt.last)
		}
	}
}

func TestReply_EmptyTextIsInvalidResponse(t *testing.T) {
	caller := &MockCaller{steps: []func(context.Context, string) (string, error){
		reply("   "), reply(""), reply("\n"),
	}}
	res := New(caller, "m", quietLogger()).Reply(context.Background(), baseRequest())

	if res.Kind != KindInvalidOrEmptyResponse || res.Text == "" {
		t.Errorf("Reply() = %+v", res)
	}
}

func TestReply_PanickingCallerStillResolves(t *testing.T) {
	caller := &MockCaller{steps: []func(context.Context, string) (string, error){
		func(context.Context, string) (string, error) { panic("boom") },
		reply("calm again"),
	}}
	res := New(caller, "m", quietLogger()).Reply(context.Background(), baseRequest())
	if res.Text != "calm again" {
		t.Errorf("Reply() = %+v", res)
	}
}

func TestReply_NilCallerIsServiceUnavailable(t *testing.T) {
	res := New(nil, "m", quietLogger()).Reply(context.Background(), baseRequest())
	if res.Kind != KindServiceUnavailable || res.Text != Fallback(KindServiceUnavailable) {
		t.Errorf("Reply() = %+v", res)
	}
}

func TestReply_AlreadyCancelledMakesNoCalls(t *testing.T) {
	caller := &MockCaller{}
	tok := cancel.New()
	tok.Cancel()

	req := baseRequest()
	req.Token = tok
	res := New(caller, "m", quietLogger()).Reply(context.Background(), req)

	if !res.Cancelled() || res.Text == "" {
		t.Errorf("Reply() = %+v, want non-empty cancelled result", res)
	}
	if caller.Calls() != 0 {
		t.Errorf("made %d calls on a cancelled token", caller.Calls())
	}
}

func TestReply_CancelDuringCallDiscardsResult(t *testing.T) {
	tok := cancel.New()
	started := make(chan struct{})
	caller := &MockCaller{steps: []func(context.Context, string) (string, error){
		func(ctx context.Context, _ string) (string, error) {
			close(started)
			<-ctx.Done()
			// A late answer that must be discarded.
			return "too late", nil
		},
	}}

	req := baseRequest()
	req.Token = tok

	done := make(chan Result, 1)
	go func() { done <- New(caller, "m", quietLogger()).Reply(context.Background(), req) }()

	<-started
	tok.Cancel()

	select {
	case res := <-done:
		if !res.Cancelled() {
			t.Errorf("Reply() = %+v, want cancelled", res)
		}
		if caller.Calls() != 1 {
			t.Errorf("made %d calls, want 1", caller.Calls())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reply() did not return after cancellation")
	}
}

func TestReply_TimeoutCountsAsNetworkError(t *testing.T) {
	hang := func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	caller := &MockCaller{steps: []func(context.Context, string) (string, error){hang, reply("quick")}}
	p := New(caller, "m", quietLogger(), WithTimeout(20*time.Millisecond))

	res := p.Reply(context.Background(), baseRequest())
	if res.Text != "quick" || res.Tier != TierBasic {
		t.Errorf("Reply() = %+v", res)
	}
}

type stubAugmenter struct {
	text string
	err  error
	hits int
}

func (s *stubAugmenter) Augment(ctx context.Context, query string) (string, error) {
	s.hits++
	return s.text, s.err
}

func TestReply_PromptTiers(t *testing.T) {
	aug := &stubAugmenter{text: "Saturn has 146 known moons."}
	caller := &MockCaller{steps: []func(context.Context, string) (string, error){
		fail("network error"), fail("network error"), reply("ok"),
	}}
	p := New(caller, "m", quietLogger(), WithAugmenter(aug))

	req := baseRequest()
	req.Enrich = true
	req.Peers = []string{"Rex", "Ivy"}
	req.History = []Line{{Speaker: "Rex", Text: "Moons are overrated."}}
	p.Reply(context.Background(), req)

	enriched := caller.Prompt(0)
	for _, want := range []string{"Luna", "dreamy astronomer", "curious", "Rex, Ivy", "Moons are overrated.", "146 known moons", "hello"} {
		if !strings.Contains(enriched, want) {
			t.Errorf("enriched prompt missing %q:\n%s", want, enriched)
		}
	}

	basic := caller.Prompt(1)
	if !strings.Contains(basic, "Luna") || !strings.Contains(basic, "curious") || !strings.Contains(basic, "hello") {
		t.Errorf("basic prompt incomplete:\n%s", basic)
	}
	if strings.Contains(basic, "146 known moons") || strings.Contains(basic, "overrated") {
		t.Errorf("basic prompt should not carry context:\n%s", basic)
	}

	minimal := caller.Prompt(2)
	if strings.Contains(minimal, "Luna") || !strings.HasSuffix(minimal, "hello") {
		t.Errorf("minimal prompt should only carry the message:\n%s", minimal)
	}
	if aug.hits != 1 {
		t.Errorf("augmenter called %d times, want 1", aug.hits)
	}
}

func TestReply_AugmentFailureIsNotFatal(t *testing.T) {
	aug := &stubAugmenter{err: errors.New("search down")}
	caller := &MockCaller{steps: []func(context.Context, string) (string, error){reply("fine")}}

	req := baseRequest()
	req.Enrich = true
	res := New(caller, "m", quietLogger(), WithAugmenter(aug)).Reply(context.Background(), req)

	if res.Text != "fine" || res.Attempts != 1 {
		t.Errorf("Reply() = %+v", res)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{errors.New("Your request was flagged as a jailbreak attempt"), KindContentPolicy},
		{errors.New("output filtered"), KindContentPolicy},
		{errors.New("API error 400 Bad Request: rejected (content_policy_violation)"), KindContentPolicy},
		{fmt.Errorf("network error: %w", fmt.Errorf("after 2 attempts: %w", models.ErrServerBusy)), KindNetworkOrProtocol},
		{errors.New("network error: after 3 attempts: service unavailable (503)"), KindNetworkOrProtocol},
		{fmt.Errorf("after 3 attempts: %w", models.ErrRateLimit), KindNetworkOrProtocol},
		{models.ErrUnavailable, KindServiceUnavailable},
		{errors.New("ollama: model not found"), KindServiceUnavailable},
		{errors.New("runtime unavailable"), KindServiceUnavailable},
		{errors.New("API error 400 Bad Request: messages must not be empty"), KindBadRequest},
		{errors.New("protocol error"), KindNetworkOrProtocol},
		{errors.New("TypeError: Failed to fetch"), KindNetworkOrProtocol},
		{context.DeadlineExceeded, KindNetworkOrProtocol},
		{errors.New("response was a non-string value"), KindInvalidOrEmptyResponse},
		{errors.New("context has 4000 tokens"), KindUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
