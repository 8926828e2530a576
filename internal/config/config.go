package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig describes one personified agent.
type AgentConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Personality  string `yaml:"personality"`
	Mood         string `yaml:"mood,omitempty"`
	Color        string `yaml:"color,omitempty"`
	VoiceProfile string `yaml:"voice_profile,omitempty"`
	Voice        bool   `yaml:"voice"`
	Image        bool   `yaml:"image"`
	Internet     bool   `yaml:"internet"`
}

// GroupConfig describes a group chat opened at startup.
type GroupConfig struct {
	ID           string   `yaml:"id"`
	Title        string   `yaml:"title,omitempty"`
	Participants []string `yaml:"participants"`
}

type Config struct {
	Model struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key,omitempty"`
		Name    string `yaml:"name"`
	} `yaml:"model"`
	Agents   []AgentConfig `yaml:"agents"`
	Groups   []GroupConfig `yaml:"groups,omitempty"`
	Defaults struct {
		ModelTimeout       int `yaml:"model_timeout"`       // seconds
		HistoryWindow      int `yaml:"history_window"`      // messages embedded in group prompts
		AutonomousInterval int `yaml:"autonomous_interval"` // seconds between autonomous turns
		RetryAttempts      int `yaml:"retry_attempts"`
		RetryDelay         int `yaml:"retry_delay"` // milliseconds
	} `yaml:"defaults"`
	Voice struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint,omitempty"`
	} `yaml:"voice"`
	Discord struct {
		Enabled    bool   `yaml:"enabled"`
		WebhookURL string `yaml:"webhook_url,omitempty"`
		BotToken   string `yaml:"bot_token,omitempty"`
		ChannelID  string `yaml:"channel_id,omitempty"`
	} `yaml:"discord"`
	Image struct {
		Enabled bool   `yaml:"enabled"`
		BaseURL string `yaml:"base_url,omitempty"`
		APIKey  string `yaml:"api_key,omitempty"`
		Model   string `yaml:"model,omitempty"`
	} `yaml:"image"`
	Search struct {
		Enabled  bool   `yaml:"enabled"`
		Endpoint string `yaml:"endpoint,omitempty"`
	} `yaml:"search"`
	Storage struct {
		Path string `yaml:"path,omitempty"` // empty = $XDG_DATA_HOME/ensemble/conversations.db
	} `yaml:"storage"`
	API struct {
		Addr string `yaml:"addr,omitempty"` // empty disables the HTTP API
	} `yaml:"api"`
	Log struct {
		Level string `yaml:"level,omitempty"`
		Path  string `yaml:"path,omitempty"`
	} `yaml:"log"`
}

// Load reads the config file, falling back to defaults when none exists.
func Load() (*Config, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		// Return defaults if no config file
		return defaultConfig(), nil
	}
	return Parse(data)
}

// Parse decodes YAML config data, expanding environment variables first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Agents) == 0 {
		cfg.Agents = defaultAgents()
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks agent and group definitions for consistency.
func (c *Config) Validate() error {
	ids := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent %d has no id", i)
		}
		if ids[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		ids[a.ID] = true
	}
	groups := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		// Agent ids key one-to-one conversations, so a group may not reuse one.
		if ids[g.ID] {
			return fmt.Errorf("group id %q is already an agent id", g.ID)
		}
		if g.ID != "" && groups[g.ID] {
			return fmt.Errorf("duplicate group id %q", g.ID)
		}
		groups[g.ID] = true
		if len(g.Participants) < 2 {
			return fmt.Errorf("group %q needs at least 2 participants", g.ID)
		}
		for _, p := range g.Participants {
			if !ids[p] {
				return fmt.Errorf("group %q references unknown agent %q", g.ID, p)
			}
		}
	}
	return nil
}

func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Defaults.ModelTimeout) * time.Second
}

func (c *Config) AutonomousInterval() time.Duration {
	return time.Duration(c.Defaults.AutonomousInterval) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Defaults.RetryDelay) * time.Millisecond
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Model.BaseURL = "http://127.0.0.1:11434/v1"
	cfg.Model.Name = "llama3.2:3b"
	cfg.Agents = defaultAgents()
	cfg.Defaults.ModelTimeout = 60
	cfg.Defaults.HistoryWindow = 10
	cfg.Defaults.AutonomousInterval = 8
	cfg.Defaults.RetryAttempts = 3
	cfg.Defaults.RetryDelay = 1000 // 1 second
	cfg.Voice.Endpoint = "http://localhost:5959"
	cfg.Search.Endpoint = "https://api.duckduckgo.com/"
	cfg.Log.Level = "info"
	return cfg
}

func defaultAgents() []AgentConfig {
	return []AgentConfig{
		{ID: "luna", Name: "Luna", Personality: "A dreamy astronomer who relates everything to the night sky.", Mood: "curious", Color: "#87CEEB", Internet: true},
		{ID: "rex", Name: "Rex", Personality: "A blunt retired engineer who distrusts hype.", Mood: "grumpy", Color: "#FFA500"},
		{ID: "ivy", Name: "Ivy", Personality: "A cheerful botanist and amateur painter.", Mood: "upbeat", Color: "#00FF00", Image: true},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Model.Name == "" {
		cfg.Model.Name = "llama3.2:3b"
	}
	if cfg.Defaults.ModelTimeout == 0 {
		cfg.Defaults.ModelTimeout = 60
	}
	if cfg.Defaults.HistoryWindow == 0 {
		cfg.Defaults.HistoryWindow = 10
	}
	if cfg.Defaults.AutonomousInterval == 0 {
		cfg.Defaults.AutonomousInterval = 8
	}
	if cfg.Defaults.RetryAttempts == 0 {
		cfg.Defaults.RetryAttempts = 3
	}
	if cfg.Defaults.RetryDelay == 0 {
		cfg.Defaults.RetryDelay = 1000
	}
	if cfg.Voice.Endpoint == "" {
		cfg.Voice.Endpoint = "http://localhost:5959"
	}
	if cfg.Search.Endpoint == "" {
		cfg.Search.Endpoint = "https://api.duckduckgo.com/"
	}
	if cfg.Image.Model == "" {
		cfg.Image.Model = "dall-e-3"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].Name == "" {
			cfg.Agents[i].Name = cfg.Agents[i].ID
		}
		if cfg.Agents[i].Mood == "" {
			cfg.Agents[i].Mood = "neutral"
		}
	}
}

// ConfigPath returns ENSEMBLE_CONFIG or the per-user config file location.
func ConfigPath() string {
	if p := os.Getenv("ENSEMBLE_CONFIG"); p != "" {
		return p
	}
	configDir, _ := os.UserConfigDir()
	if configDir == "" {
		configDir = os.ExpandEnv("$HOME/.config")
	}
	return filepath.Join(configDir, "ensemble", "config.yaml")
}
