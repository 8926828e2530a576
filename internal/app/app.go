// Package app wires the conversation core, its collaborators and storage
// into one object shared by the TUI and the HTTP API.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ensemble/internal/agents"
	"ensemble/internal/cancel"
	"ensemble/internal/config"
	"ensemble/internal/db"
	"ensemble/internal/discord"
	"ensemble/internal/escalation"
	"ensemble/internal/estop"
	"ensemble/internal/export"
	"ensemble/internal/group"
	"ensemble/internal/history"
	"ensemble/internal/imagegen"
	"ensemble/internal/models"
	"ensemble/internal/search"
	"ensemble/internal/session"
	"ensemble/internal/voice"
)

var ErrUnknownConversation = errors.New("unknown conversation")

const (
	KindSingle = "single"
	KindGroup  = "group"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Roster   *agents.Roster
	Log      *history.Log
	Store    *db.Store
	Tokens   *cancel.Registry
	Stops    *estop.Coordinator
	Sessions *session.Controller
	Groups   *group.Scheduler
}

type options struct {
	caller    escalation.Caller
	groupOpts []group.Option
	levels    func(sessionID string, level float64)
}

type Option func(*options)

// WithCaller replaces the HTTP model client.
func WithCaller(c escalation.Caller) Option { return func(o *options) { o.caller = c } }

// WithGroupOptions passes extra options to the group scheduler.
func WithGroupOptions(opts ...group.Option) Option {
	return func(o *options) { o.groupOpts = append(o.groupOpts, opts...) }
}

// WithVoiceLevels receives voice levels while a reply is spoken.
func WithVoiceLevels(fn func(sessionID string, level float64)) Option {
	return func(o *options) { o.levels = fn }
}

// New opens storage, restores persisted messages and builds every service.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store, err := db.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	persisted, err := store.LoadMessages()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load messages: %w", err)
	}

	log := history.New(store, logger.With("component", "history"))
	log.Restore(persisted)

	a := &App{
		Config: cfg,
		Logger: logger,
		Roster: agents.NewRoster(cfg),
		Log:    log,
		Store:  store,
		Tokens: cancel.NewRegistry(),
		Stops:  estop.New(logger.With("component", "estop")),
	}

	retry := models.RetryConfig{
		MaxAttempts: cfg.Defaults.RetryAttempts,
		BaseDelay:   cfg.RetryDelay(),
		MaxDelay:    10 * time.Second,
	}
	caller := o.caller
	if caller == nil {
		caller = models.NewClient(cfg.Model.BaseURL, cfg.Model.APIKey, retry)
	}

	pipelineOpts := []escalation.Option{escalation.WithTimeout(cfg.ModelTimeout())}
	if cfg.Search.Enabled {
		pipelineOpts = append(pipelineOpts, escalation.WithAugmenter(search.NewClient(cfg.Search.Endpoint)))
	}
	pipeline := escalation.New(caller, cfg.Model.Name, logger.With("component", "escalation"), pipelineOpts...)

	sessionOpts := []session.Option{session.WithHistoryWindow(cfg.Defaults.HistoryWindow)}
	if cfg.Voice.Enabled {
		sessionOpts = append(sessionOpts, session.WithVoice(voice.NewClient(cfg.Voice.Endpoint, logger.With("component", "voice"))))
	}
	if cfg.Discord.Enabled {
		dc := discord.NewClient(discord.Config{
			WebhookURL: cfg.Discord.WebhookURL,
			BotToken:   cfg.Discord.BotToken,
			ChannelID:  cfg.Discord.ChannelID,
		})
		if dc.Configured() {
			sessionOpts = append(sessionOpts, session.WithDiscord(dc))
		} else {
			logger.Warn("discord enabled but neither webhook nor bot channel configured")
		}
	}
	if cfg.Image.Enabled {
		ic := imagegen.NewClient(cfg.Image.BaseURL, cfg.Image.APIKey, cfg.Image.Model, retry)
		sessionOpts = append(sessionOpts, session.WithImages(ic, imagegen.Classify))
	}
	if o.levels != nil {
		sessionOpts = append(sessionOpts, session.WithLevels(o.levels))
	}
	a.Sessions = session.NewController(a.Roster, log, pipeline, a.Tokens, a.Stops,
		logger.With("component", "session"), sessionOpts...)

	groupOpts := append([]group.Option{
		group.WithHistoryWindow(cfg.Defaults.HistoryWindow),
		group.WithInterval(cfg.AutonomousInterval()),
	}, o.groupOpts...)
	a.Groups = group.NewScheduler(a.Roster, log, pipeline, a.Tokens, a.Stops,
		logger.With("component", "group"), groupOpts...)

	for _, gc := range cfg.Groups {
		if _, err := a.OpenGroup(gc.ID, gc.Title, gc.Participants); err != nil {
			logger.Warn("configured group not opened", "group_id", gc.ID, "error", err)
		}
	}

	logger.Info("ensemble ready",
		"agents", a.Roster.Count(),
		"restored_messages", len(persisted),
		"model", cfg.Model.Name,
	)
	return a, nil
}

// OpenSession opens a one-to-one window and records it.
func (a *App) OpenSession(agentID string) (*session.Session, error) {
	sess, err := a.Sessions.Open(agentID)
	if err != nil {
		return nil, err
	}
	agent, _ := a.Roster.Get(agentID)
	a.record(db.Conversation{Key: sess.ID, Title: agent.Name, Kind: KindSingle, Participants: []string{agentID}})
	return sess, nil
}

// OpenGroup opens a group window and records it.
func (a *App) OpenGroup(id, title string, participants []string) (group.Group, error) {
	g, err := a.Groups.Open(id, title, participants)
	if err != nil {
		return group.Group{}, err
	}
	a.record(db.Conversation{Key: g.ID, Title: g.Title, Kind: KindGroup, Participants: g.Participants})
	return g, nil
}

func (a *App) record(c db.Conversation) {
	if err := a.Store.UpsertConversation(c); err != nil {
		a.Logger.Warn("record conversation failed", "key", c.Key, "error", err)
	}
}

// Close closes the window for key, whichever kind it is.
func (a *App) Close(key string) error {
	if _, ok := a.Sessions.Get(key); ok {
		a.Sessions.Close(key)
		return nil
	}
	if _, ok := a.Groups.Get(key); ok {
		a.Groups.Close(key)
		return nil
	}
	return ErrUnknownConversation
}

// Stop halts whatever the window for key has in flight.
func (a *App) Stop(key string) error {
	if _, ok := a.Sessions.Get(key); ok {
		return a.Sessions.Stop(key)
	}
	if _, ok := a.Groups.Get(key); ok {
		return a.Groups.Stop(key)
	}
	return ErrUnknownConversation
}

// StopAll is the emergency stop: every window halts.
func (a *App) StopAll() error {
	return a.Stops.StopAll()
}

// Busy reports whether the window for key has a reply in flight.
func (a *App) Busy(key string) bool {
	return a.Tokens.Busy(key)
}

// Clear empties one conversation log.
func (a *App) Clear(key string) {
	a.Log.Clear(key)
}

// ClearAll empties every conversation log.
func (a *App) ClearAll() {
	a.Log.ClearAll()
}

// Conversation assembles key's log for export or display.
func (a *App) Conversation(key string) (*export.Conversation, error) {
	conv := &export.Conversation{
		Key:      key,
		Title:    key,
		Names:    make(map[string]string),
		Messages: a.Log.Read(key),
	}
	for _, ag := range a.Roster.All() {
		conv.Names[ag.ID] = ag.Name
	}

	known := len(conv.Messages) > 0
	if rec, err := a.Store.GetConversation(key); err == nil {
		known = true
		conv.Title = rec.Title
		conv.Group = rec.Kind == KindGroup
		conv.Participants = rec.Participants
		conv.CreatedAt = rec.CreatedAt
	} else if ag, ok := a.Roster.Get(key); ok {
		known = true
		conv.Title = ag.Name
		conv.Participants = []string{ag.ID}
	}
	if !known {
		return nil, ErrUnknownConversation
	}
	if conv.CreatedAt.IsZero() && len(conv.Messages) > 0 {
		conv.CreatedAt = conv.Messages[0].CreatedAt
	}
	return conv, nil
}

// Export writes key's conversation to markdown. An empty path writes into the
// data directory next to the database.
func (a *App) Export(key, path string) (string, error) {
	conv, err := a.Conversation(key)
	if err != nil {
		return "", err
	}
	if path != "" {
		if err := export.WriteTo(conv, expandHome(path)); err != nil {
			return "", err
		}
		return path, nil
	}
	return export.Write(conv, a.exportDir())
}

func (a *App) exportDir() string {
	if a.Config.Storage.Path != "" {
		return filepath.Dir(a.Config.Storage.Path)
	}
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "ensemble")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "ensemble")
}

// Shutdown stops everything in flight, waits for background work and closes
// storage.
func (a *App) Shutdown() error {
	stopErr := a.StopAll()
	for _, g := range a.Groups.Groups() {
		a.Groups.Close(g.ID)
	}
	a.Groups.Wait()
	a.Sessions.Wait()
	return errors.Join(stopErr, a.Store.Close())
}

func expandHome(path string) string {
	if len(path) > 1 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
