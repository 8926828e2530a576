package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ensemble/internal/app"
	"ensemble/internal/config"
)

type blockingCaller struct {
	started chan struct{}
}

func (b *blockingCaller) Call(ctx context.Context, prompt, model string) (string, error) {
	if b.started != nil {
		close(b.started)
		b.started = nil
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "sounds good", nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, caller *blockingCaller) (*httptest.Server, *app.App) {
	t.Helper()
	t.Setenv("ENSEMBLE_TEST_DB", filepath.Join(t.TempDir(), "api.db"))
	cfg, err := config.Parse([]byte(`
storage:
  path: ${ENSEMBLE_TEST_DB}
groups:
  - id: club
    participants: [luna, rex, ivy]
`))
	if err != nil {
		t.Fatalf("config.Parse() failed: %v", err)
	}

	a, err := app.New(cfg, quietLogger(), app.WithCaller(caller))
	if err != nil {
		t.Fatalf("app.New() failed: %v", err)
	}
	srv := httptest.NewServer(NewHandler(a, quietLogger()).Router())
	t.Cleanup(func() {
		srv.Close()
		a.Shutdown()
	})
	return srv, a
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &blockingCaller{})
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d", resp.StatusCode)
	}
}

func TestSessionMessageAndConversation(t *testing.T) {
	srv, _ := newTestServer(t, &blockingCaller{})

	resp := post(t, srv.URL+"/sessions/luna/messages", `{"text":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST messages = %d", resp.StatusCode)
	}
	var sent struct {
		Reply     MessageView `json:"reply"`
		Cancelled bool        `json:"cancelled"`
	}
	decode(t, resp, &sent)
	if sent.Cancelled || sent.Reply.Content != "sounds good" || sent.Reply.AgentID != "luna" {
		t.Errorf("send response = %+v", sent)
	}

	resp, err := http.Get(srv.URL + "/conversations/luna")
	if err != nil {
		t.Fatal(err)
	}
	var conv struct {
		Title    string        `json:"title"`
		Messages []MessageView `json:"messages"`
	}
	decode(t, resp, &conv)
	if conv.Title != "Luna" || len(conv.Messages) != 2 || conv.Messages[0].Role != "user" {
		t.Errorf("conversation = %+v", conv)
	}

	resp, err = http.Get(srv.URL + "/conversations/luna/export")
	if err != nil {
		t.Fatal(err)
	}
	md, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(md), "# Luna") || !strings.Contains(resp.Header.Get("Content-Type"), "markdown") {
		t.Errorf("export = %s", md)
	}
}

func TestSendValidation(t *testing.T) {
	srv, _ := newTestServer(t, &blockingCaller{})

	tests := []struct {
		url  string
		body string
		want int
	}{
		{"/sessions/luna/messages", `not json`, http.StatusBadRequest},
		{"/sessions/luna/messages", `{"text":""}`, http.StatusBadRequest},
		{"/sessions/nobody/messages", `{"text":"hi"}`, http.StatusNotFound},
		{"/groups/nope/messages", `{"text":"hi"}`, http.StatusNotFound},
		{"/groups/nope/autonomous", `{"enabled":true}`, http.StatusNotFound},
		{"/sessions/nobody/stop", ``, http.StatusNotFound},
	}
	for _, tt := range tests {
		resp := post(t, srv.URL+tt.url, tt.body)
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("POST %s %q = %d, want %d", tt.url, tt.body, resp.StatusCode, tt.want)
		}
	}
}

func TestGroupRound(t *testing.T) {
	srv, _ := newTestServer(t, &blockingCaller{})

	resp := post(t, srv.URL+"/groups/club/messages", `{"text":"topic?"}`)
	var round struct {
		Replies []MessageView `json:"replies"`
	}
	decode(t, resp, &round)

	if len(round.Replies) != 3 {
		t.Fatalf("got %d replies, want 3", len(round.Replies))
	}
	for i, want := range []string{"luna", "rex", "ivy"} {
		if round.Replies[i].AgentID != want {
			t.Errorf("reply %d from %s, want %s", i, round.Replies[i].AgentID, want)
		}
	}
}

func TestAutonomousToggle(t *testing.T) {
	srv, a := newTestServer(t, &blockingCaller{})

	resp := post(t, srv.URL+"/groups/club/autonomous", `{"enabled":true}`)
	var state map[string]bool
	decode(t, resp, &state)
	if !state["autonomous"] || !a.Groups.Autonomous("club") {
		t.Fatalf("autonomous not started: %v", state)
	}

	resp = post(t, srv.URL+"/groups/club/autonomous", `{"enabled":false}`)
	decode(t, resp, &state)
	if state["autonomous"] {
		t.Error("autonomous still on")
	}
}

func TestBusySessionConflictsAndStop(t *testing.T) {
	caller := &blockingCaller{started: make(chan struct{})}
	started := caller.started
	srv, a := newTestServer(t, caller)

	done := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/sessions/rex/messages", "application/json", strings.NewReader(`{"text":"long one"}`))
		if err != nil {
			t.Error(err)
		}
		done <- resp
	}()
	<-started

	resp := post(t, srv.URL+"/sessions/rex/messages", `{"text":"again"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second send = %d, want 409", resp.StatusCode)
	}

	resp = post(t, srv.URL+"/stop", ``)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("POST /stop = %d", resp.StatusCode)
	}

	select {
	case first := <-done:
		var out struct {
			Cancelled bool `json:"cancelled"`
		}
		decode(t, first, &out)
		if !out.Cancelled {
			t.Error("first send not cancelled")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("first send did not return after emergency stop")
	}

	if n := a.Log.Len("rex"); n != 1 {
		t.Errorf("rex log has %d messages, want only the user message", n)
	}
}

func TestClearConversation(t *testing.T) {
	srv, a := newTestServer(t, &blockingCaller{})
	post(t, srv.URL+"/sessions/ivy/messages", `{"text":"hi"}`).Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/conversations/ivy", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || a.Log.Len("ivy") != 0 {
		t.Errorf("DELETE = %d, log len %d", resp.StatusCode, a.Log.Len("ivy"))
	}
}

func TestServeShutsDownWithContext(t *testing.T) {
	_, a := newTestServer(t, &blockingCaller{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- NewHandler(a, quietLogger()).serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		if resp, err = http.Get(url); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never answered: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("serve() = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serve() did not return after cancel")
	}
}
