// Package session drives one-to-one conversation windows: one user, one
// agent, one reply in flight at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ensemble/internal/agents"
	"ensemble/internal/cancel"
	"ensemble/internal/escalation"
	"ensemble/internal/estop"
	"ensemble/internal/history"
)

var ErrUnknownSession = errors.New("unknown session")

// Replier produces agent replies.
type Replier interface {
	Reply(ctx context.Context, req escalation.Request) escalation.Result
}

// Speaker plays replies aloud. Stop halts any playback.
type Speaker interface {
	Speak(ctx context.Context, text, profile string, onLevel func(level float64)) error
	Stop()
}

// Poster mirrors replies to a chat bridge.
type Poster interface {
	SendMessage(ctx context.Context, text, displayName string) error
}

// Imager answers image requests with a media reference.
type Imager interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Session is one open one-to-one window. Its conversation key is the agent ID.
type Session struct {
	ID       string
	AgentID  string
	Voice    bool
	Discord  bool
	speaking bool
}

// Outcome is the result of one Send. Reply is nil when the send was stopped.
type Outcome struct {
	User   history.Message
	Reply  *history.Message
	Result escalation.Result
}

func (o Outcome) Cancelled() bool { return o.Reply == nil }

type Controller struct {
	mu       sync.Mutex
	sessions map[string]*Session

	roster  *agents.Roster
	log     *history.Log
	replier Replier
	tokens  *cancel.Registry
	stops   *estop.Coordinator
	logger  *slog.Logger

	voice    Speaker
	discord  Poster
	images   Imager
	classify func(text string) (prompt string, ok bool)
	onLevel  func(sessionID string, level float64)
	window   int

	wg sync.WaitGroup
}

type Option func(*Controller)

func WithVoice(s Speaker) Option { return func(c *Controller) { c.voice = s } }

func WithDiscord(p Poster) Option { return func(c *Controller) { c.discord = p } }

// WithImages routes messages that classify reports as image requests to im,
// for agents with the image capability.
func WithImages(im Imager, classify func(string) (string, bool)) Option {
	return func(c *Controller) {
		c.images = im
		c.classify = classify
	}
}

// WithLevels receives voice levels during playback (for lip-sync).
func WithLevels(fn func(sessionID string, level float64)) Option {
	return func(c *Controller) { c.onLevel = fn }
}

// WithHistoryWindow sets how many earlier messages are embedded in prompts.
func WithHistoryWindow(n int) Option { return func(c *Controller) { c.window = n } }

func NewController(
	roster *agents.Roster,
	log *history.Log,
	replier Replier,
	tokens *cancel.Registry,
	stops *estop.Coordinator,
	logger *slog.Logger,
	opts ...Option,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		sessions: make(map[string]*Session),
		roster:   roster,
		log:      log,
		replier:  replier,
		tokens:   tokens,
		stops:    stops,
		logger:   logger,
		window:   10,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open opens (or returns the already open) window for agentID.
func (c *Controller) Open(agentID string) (*Session, error) {
	agent, ok := c.roster.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: no agent %q", ErrUnknownSession, agentID)
	}

	c.mu.Lock()
	sess, exists := c.sessions[agentID]
	if !exists {
		sess = &Session{
			ID:      agentID,
			AgentID: agentID,
			Voice:   agent.Voice && c.voice != nil,
			Discord: c.discord != nil,
		}
		c.sessions[agentID] = sess
	}
	snapshot := *sess
	c.mu.Unlock()

	if !exists {
		c.stops.Register(agentID, c.stopFunc(agentID))
		c.logger.Info("session opened", "session_id", agentID)
	}
	return &snapshot, nil
}

// Close stops any work in flight and forgets the window. The log is kept.
func (c *Controller) Close(id string) {
	c.mu.Lock()
	_, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	c.halt(id)
	c.stops.Unregister(id)

	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
	c.logger.Info("session closed", "session_id", id)
}

// Get returns a snapshot of the session.
func (c *Controller) Get(id string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Sessions returns the IDs of all open sessions.
func (c *Controller) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Busy reports whether a reply is in flight for the session.
func (c *Controller) Busy(id string) bool {
	return c.tokens.Busy(id)
}

// SetVoice toggles spoken replies for the session.
func (c *Controller) SetVoice(id string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	sess.Voice = on && c.voice != nil
	return nil
}

// SetDiscord toggles mirroring replies to Discord for the session.
func (c *Controller) SetDiscord(id string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		return ErrUnknownSession
	}
	sess.Discord = on && c.discord != nil
	return nil
}

// Send appends text as a user message and the agent's reply after it. It
// fails with cancel.ErrBusy while a previous send is still in flight.
func (c *Controller) Send(ctx context.Context, id, text string) (Outcome, error) {
	sess, ok := c.Get(id)
	if !ok {
		return Outcome{}, ErrUnknownSession
	}
	agent, ok := c.roster.Get(sess.AgentID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: agent %q left the roster", ErrUnknownSession, sess.AgentID)
	}

	tok, err := c.tokens.Begin(id)
	if err != nil {
		return Outcome{}, err
	}
	defer c.tokens.End(id, tok)
	// A previous StopOne removes the hook; every send puts it back.
	c.stops.Register(id, c.stopFunc(id))

	log := c.logger.With("session_id", id, "agent_id", agent.ID)

	earlier := c.log.Recent(id, c.window)
	out := Outcome{User: c.log.Append(id, history.Draft{Role: history.RoleUser, Content: text})}

	var media string
	if prompt, isImage := c.imageRequest(agent, text); isImage {
		out.Result, media = c.generateImage(ctx, tok, agent, prompt, log)
	} else {
		out.Result = c.replier.Reply(ctx, escalation.Request{
			Message:     text,
			AgentName:   agent.Name,
			Personality: agent.Personality,
			Mood:        agent.Mood,
			Enrich:      agent.Internet,
			History:     c.lines(earlier),
			Token:       tok,
		})
	}

	var reply history.Message
	stored := !out.Result.Cancelled() && tok.Commit(func() {
		reply = c.log.Append(id, history.Draft{
			Role:    history.RoleAgent,
			AgentID: agent.ID,
			Content: out.Result.Text,
			Media:   media,
		})
	})
	if !stored {
		log.Info("send stopped, reply discarded")
		return out, nil
	}
	out.Reply = &reply
	log.Info("reply stored", "tier", out.Result.Tier.String(), "fallback", out.Result.WasFallback())

	c.forward(sess, agent, out.Result.Text)
	return out, nil
}

// Stop halts the session's reply in flight and any voice playback.
func (c *Controller) Stop(id string) error {
	return c.stops.StopOne(id)
}

// Wait blocks until background voice and Discord forwarding has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) stopFunc(id string) estop.StopFunc {
	return func() error {
		c.halt(id)
		return nil
	}
}

func (c *Controller) halt(id string) {
	if c.tokens.Cancel(id) {
		c.logger.Info("session stopped", "session_id", id)
	}

	c.mu.Lock()
	sess, ok := c.sessions[id]
	speaking := ok && sess.speaking
	if speaking {
		sess.speaking = false
	}
	c.mu.Unlock()

	if speaking && c.voice != nil {
		c.voice.Stop()
	}
}

func (c *Controller) imageRequest(agent agents.Agent, text string) (string, bool) {
	if !agent.Image || c.images == nil || c.classify == nil {
		return "", false
	}
	return c.classify(text)
}

func (c *Controller) generateImage(ctx context.Context, tok *cancel.Token, agent agents.Agent, prompt string, log *slog.Logger) (escalation.Result, string) {
	callCtx, done := context.WithCancel(ctx)
	defer done()
	stop := context.AfterFunc(tok.Context(), done)
	defer stop()

	ref, err := c.images.Generate(callCtx, prompt)
	if tok.IsCancelled() {
		return escalation.Result{Text: escalation.CancelledText, Status: escalation.StatusCancelled}, ""
	}
	if err != nil {
		kind := escalation.Classify(err)
		log.Warn("image generation failed", "kind", kind.String(), "error", err)
		return escalation.Result{Text: escalation.Fallback(kind), Status: escalation.StatusFailed, Kind: kind}, ""
	}
	return escalation.Result{
		Text:   fmt.Sprintf("Here's what I made of %q.", prompt),
		Status: escalation.StatusOK,
	}, ref
}

// forward hands the reply to voice and Discord without holding up the send.
func (c *Controller) forward(sess Session, agent agents.Agent, text string) {
	if sess.Voice && c.voice != nil {
		c.mu.Lock()
		if live, ok := c.sessions[sess.ID]; ok {
			live.speaking = true
		}
		c.mu.Unlock()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer c.setSpeaking(sess.ID, false)

			var onLevel func(float64)
			if c.onLevel != nil {
				onLevel = func(level float64) { c.onLevel(sess.ID, level) }
			}
			if err := c.voice.Speak(context.Background(), text, agent.VoiceProfile, onLevel); err != nil {
				c.logger.Warn("voice playback failed", "session_id", sess.ID, "error", err)
			}
		}()
	}

	if sess.Discord && c.discord != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.discord.SendMessage(context.Background(), text, agent.Name); err != nil {
				c.logger.Warn("discord mirror failed", "session_id", sess.ID, "error", err)
			}
		}()
	}
}

func (c *Controller) setSpeaking(id string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[id]; ok {
		sess.speaking = on
	}
}

func (c *Controller) lines(msgs []history.Message) []escalation.Line {
	lines := make([]escalation.Line, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, escalation.Line{Speaker: c.speaker(m), Text: m.Content})
	}
	return lines
}

func (c *Controller) speaker(m history.Message) string {
	if m.Role == history.RoleUser {
		return "User"
	}
	if a, ok := c.roster.Get(m.AgentID); ok {
		return a.Name
	}
	return m.AgentID
}
