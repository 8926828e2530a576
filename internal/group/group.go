// Package group runs multi-agent conversations. A manual round asks every
// participant, in stored order, to answer the same trigger. Autonomous mode
// lets one randomly picked participant answer the latest message on every
// tick of a timer.
package group

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"ensemble/internal/agents"
	"ensemble/internal/cancel"
	"ensemble/internal/escalation"
	"ensemble/internal/estop"
	"ensemble/internal/history"
)

var (
	ErrUnknownGroup         = errors.New("unknown group")
	ErrTooFewParticipants   = errors.New("a group needs at least two participants")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrDuplicateParticipant = errors.New("duplicate participant")
	ErrReservedID           = errors.New("group id is taken by an agent")
)

// opener is the trigger used when autonomous mode starts on an empty log.
const opener = "Start a conversation with the group about anything on your mind."

// Replier produces agent replies.
type Replier interface {
	Reply(ctx context.Context, req escalation.Request) escalation.Result
}

// TickerFunc starts a repeating timer. The returned func stops it.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Group struct {
	ID           string
	Title        string
	Participants []string // stored order is the manual round order
	Autonomous   bool
}

// Round is what one manual round or autonomous tick produced.
type Round struct {
	User      *history.Message
	Replies   []history.Message
	Cancelled bool
}

type state struct {
	group    Group
	autoQuit chan struct{} // non-nil while autonomous mode is on
}

type Scheduler struct {
	mu     sync.Mutex
	groups map[string]*state

	roster  *agents.Roster
	log     *history.Log
	replier Replier
	tokens  *cancel.Registry
	stops   *estop.Coordinator
	logger  *slog.Logger

	window    int
	interval  time.Duration
	newTicker TickerFunc
	pick      func(n int) int

	wg sync.WaitGroup
}

type Option func(*Scheduler)

// WithHistoryWindow sets how many recent messages each prompt embeds.
func WithHistoryWindow(n int) Option { return func(s *Scheduler) { s.window = n } }

// WithInterval sets the autonomous tick interval.
func WithInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

func WithTicker(fn TickerFunc) Option { return func(s *Scheduler) { s.newTicker = fn } }

// WithPicker replaces the uniform random participant choice.
func WithPicker(fn func(n int) int) Option { return func(s *Scheduler) { s.pick = fn } }

func NewScheduler(
	roster *agents.Roster,
	log *history.Log,
	replier Replier,
	tokens *cancel.Registry,
	stops *estop.Coordinator,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		groups:    make(map[string]*state),
		roster:    roster,
		log:       log,
		replier:   replier,
		tokens:    tokens,
		stops:     stops,
		logger:    logger,
		window:    10,
		interval:  8 * time.Second,
		newTicker: realTicker,
		pick:      rand.Intn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a group. An empty id gets a generated one. Opening an id that
// is already open returns the existing group. Agent ids are reserved for
// one-to-one conversations.
func (s *Scheduler) Open(id, title string, participants []string) (Group, error) {
	if _, ok := s.roster.Get(id); ok {
		return Group{}, fmt.Errorf("%w: %q", ErrReservedID, id)
	}
	if len(participants) < 2 {
		return Group{}, ErrTooFewParticipants
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if _, ok := s.roster.Get(p); !ok {
			return Group{}, fmt.Errorf("%w: %q", ErrUnknownParticipant, p)
		}
		if seen[p] {
			return Group{}, fmt.Errorf("%w: %q", ErrDuplicateParticipant, p)
		}
		seen[p] = true
	}
	if id == "" {
		id = uuid.NewString()
	}
	if title == "" {
		title = "Group chat"
	}

	s.mu.Lock()
	if st, ok := s.groups[id]; ok {
		g := st.snapshot()
		s.mu.Unlock()
		return g, nil
	}
	st := &state{group: Group{
		ID:           id,
		Title:        title,
		Participants: append([]string(nil), participants...),
	}}
	s.groups[id] = st
	g := st.snapshot()
	s.mu.Unlock()

	s.stops.Register(id, s.stopFunc(id))
	s.logger.Info("group opened", "group_id", id, "participants", participants)
	return g, nil
}

// Close stops the group's autonomous loop and any round in flight, then
// forgets it. The log is kept.
func (s *Scheduler) Close(id string) {
	s.mu.Lock()
	_, ok := s.groups[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	s.halt(id)
	s.stops.Unregister(id)

	s.mu.Lock()
	delete(s.groups, id)
	s.mu.Unlock()
	s.logger.Info("group closed", "group_id", id)
}

func (s *Scheduler) Get(id string) (Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.groups[id]
	if !ok {
		return Group{}, false
	}
	return st.snapshot(), true
}

// Groups returns snapshots of all open groups.
func (s *Scheduler) Groups() []Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Group, 0, len(s.groups))
	for _, st := range s.groups {
		out = append(out, st.snapshot())
	}
	return out
}

// Busy reports whether a round is in flight for the group.
func (s *Scheduler) Busy(id string) bool {
	return s.tokens.Busy(id)
}

// Send appends text as a user message and runs a manual round on it.
func (s *Scheduler) Send(ctx context.Context, id, text string) (Round, error) {
	return s.run(ctx, id, text, true)
}

// RunRound runs a manual round on trigger without storing a user message.
func (s *Scheduler) RunRound(ctx context.Context, id, trigger string) (Round, error) {
	return s.run(ctx, id, trigger, false)
}

func (s *Scheduler) run(ctx context.Context, id, text string, storeUser bool) (Round, error) {
	g, ok := s.Get(id)
	if !ok {
		return Round{}, ErrUnknownGroup
	}

	tok, err := s.tokens.Begin(id)
	if err != nil {
		return Round{}, err
	}
	defer s.tokens.End(id, tok)
	s.stops.Register(id, s.stopFunc(id))

	var round Round
	if storeUser {
		msg := s.log.Append(id, history.Draft{Role: history.RoleUser, Content: text})
		round.User = &msg
	}

	for _, agentID := range g.Participants {
		if tok.IsCancelled() {
			round.Cancelled = true
			break
		}
		msg, ok := s.turn(ctx, tok, g, agentID, text)
		if !ok {
			round.Cancelled = true
			break
		}
		round.Replies = append(round.Replies, msg)
	}

	s.logger.Info("round finished",
		"group_id", id,
		"replies", len(round.Replies),
		"cancelled", round.Cancelled,
	)
	return round, nil
}

// turn asks one participant to answer trigger and stores the reply. It
// returns false when the round was cancelled before the reply was stored.
func (s *Scheduler) turn(ctx context.Context, tok *cancel.Token, g Group, agentID, trigger string) (history.Message, bool) {
	agent, ok := s.roster.Get(agentID)
	if !ok {
		agent = agents.Agent{ID: agentID, Name: agentID}
	}

	res := s.replier.Reply(ctx, escalation.Request{
		Message:     trigger,
		AgentName:   agent.Name,
		Personality: agent.Personality,
		Mood:        agent.Mood,
		Enrich:      agent.Internet,
		History:     s.lines(g.ID),
		Peers:       s.roster.Names(without(g.Participants, agentID)),
		Token:       tok,
	})
	if res.Cancelled() {
		return history.Message{}, false
	}

	var msg history.Message
	stored := tok.Commit(func() {
		msg = s.log.Append(g.ID, history.Draft{
			Role:    history.RoleAgent,
			AgentID: agentID,
			Content: res.Text,
		})
	})
	if stored && res.WasFallback() {
		s.logger.Warn("participant fell back", "group_id", g.ID, "agent_id", agentID, "kind", res.Kind.String())
	}
	return msg, stored
}

// StartAutonomous starts the group's discussion timer. Starting it twice is a
// no-op.
func (s *Scheduler) StartAutonomous(id string) error {
	s.mu.Lock()
	st, ok := s.groups[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownGroup
	}
	if st.autoQuit != nil {
		s.mu.Unlock()
		return nil
	}
	quit := make(chan struct{})
	st.autoQuit = quit
	s.mu.Unlock()

	s.stops.Register(id, s.stopFunc(id))

	ticks, stopTicker := s.newTicker(s.interval)
	s.wg.Add(1)
	go s.autonomousLoop(id, quit, ticks, stopTicker)

	s.logger.Info("autonomous mode started", "group_id", id, "interval", s.interval.String())
	return nil
}

// StopAutonomous clears the timer and cancels any round in flight.
func (s *Scheduler) StopAutonomous(id string) error {
	s.mu.Lock()
	if _, ok := s.groups[id]; !ok {
		s.mu.Unlock()
		return ErrUnknownGroup
	}
	s.mu.Unlock()

	s.halt(id)
	return nil
}

// Autonomous reports whether the group's discussion timer is running.
func (s *Scheduler) Autonomous(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.groups[id]
	return ok && st.autoQuit != nil
}

// Stop halts the group's round in flight and its autonomous loop.
func (s *Scheduler) Stop(id string) error {
	return s.stops.StopOne(id)
}

// Wait blocks until every autonomous loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) autonomousLoop(id string, quit <-chan struct{}, ticks <-chan time.Time, stopTicker func()) {
	defer s.wg.Done()
	defer stopTicker()

	for {
		select {
		case <-quit:
			return
		case <-ticks:
			select {
			case <-quit:
				return
			default:
			}
			s.tick(id, quit)
		}
	}
}

// tick runs one autonomous turn unless the group is busy.
func (s *Scheduler) tick(id string, quit <-chan struct{}) {
	g, ok := s.Get(id)
	if !ok || len(g.Participants) == 0 {
		return
	}

	tok, err := s.tokens.Begin(id)
	if err != nil {
		s.logger.Debug("autonomous tick skipped, group busy", "group_id", id)
		return
	}
	defer s.tokens.End(id, tok)

	select {
	case <-quit:
		return
	default:
	}

	trigger := opener
	if last, ok := s.log.Last(id); ok {
		trigger = last.Content
	}
	agentID := g.Participants[s.pick(len(g.Participants))]

	if _, ok := s.turn(context.Background(), tok, g, agentID, trigger); ok {
		s.logger.Info("autonomous turn", "group_id", id, "agent_id", agentID)
	}
}

func (s *Scheduler) stopFunc(id string) estop.StopFunc {
	return func() error {
		s.halt(id)
		return nil
	}
}

func (s *Scheduler) halt(id string) {
	s.mu.Lock()
	var quit chan struct{}
	if st, ok := s.groups[id]; ok {
		quit = st.autoQuit
		st.autoQuit = nil
	}
	s.mu.Unlock()

	if quit != nil {
		close(quit)
		s.logger.Info("autonomous mode stopped", "group_id", id)
	}
	if s.tokens.Cancel(id) {
		s.logger.Info("round stopped", "group_id", id)
	}
}

func (s *Scheduler) lines(id string) []escalation.Line {
	recent := s.log.Recent(id, s.window)
	lines := make([]escalation.Line, 0, len(recent))
	for _, m := range recent {
		speaker := "User"
		if m.Role == history.RoleAgent {
			speaker = m.AgentID
			if a, ok := s.roster.Get(m.AgentID); ok {
				speaker = a.Name
			}
		}
		lines = append(lines, escalation.Line{Speaker: speaker, Text: m.Content})
	}
	return lines
}

func (st *state) snapshot() Group {
	g := st.group
	g.Participants = append([]string(nil), st.group.Participants...)
	g.Autonomous = st.autoQuit != nil
	return g
}

func without(ids []string, skip string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			out = append(out, id)
		}
	}
	return out
}
