// Package config handles frontdesk configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/frontdesk/config.yaml, /etc/frontdesk/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "frontdesk", "config.yaml"))
	}

	paths = append(paths, "/etc/frontdesk/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all frontdesk configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	LLM          LLMConfig          `yaml:"llm"`
	Conversation ConversationConfig `yaml:"conversation"`
	Database     DatabaseConfig     `yaml:"database"`
	History      HistoryConfig      `yaml:"history"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	DataDir      string             `yaml:"data_dir"`
	LogLevel     string             `yaml:"log_level"`
}

// ListenConfig defines the HTTP server that accepts WebSocket
// conversations and serves /metrics and /healthz.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig selects the language-model collaborator.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // openai, ollama
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// ConversationConfig holds the turn-control policies. All values are
// constant for the lifetime of a session.
type ConversationConfig struct {
	// SystemPromptFile overrides the built-in concierge instructions.
	SystemPromptFile string `yaml:"system_prompt_file"`

	// WakePhrases reactivate a held conversation. Matching is
	// case-insensitive and whole-word.
	WakePhrases []string `yaml:"wake_phrases"`

	HoldAcknowledgment string `yaml:"hold_acknowledgment"`
	Farewell           string `yaml:"farewell"`

	// Apology is spoken when the language model fails mid-turn.
	Apology string `yaml:"apology"`

	// MaxToolIterations bounds LLM round trips within a single turn.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// Greet runs one generation on connect so the agent speaks first.
	Greet *bool `yaml:"greet"`

	Idle    IdleConfig    `yaml:"idle"`
	Context ContextConfig `yaml:"context"`
}

// IdleConfig is the idle escalation policy.
type IdleConfig struct {
	TimeoutSec  float64 `yaml:"timeout_sec"`
	MaxRetries  int     `yaml:"max_retries"`
	GentleNudge string  `yaml:"gentle_nudge"`
	FirmNudge   string  `yaml:"firm_nudge"`
	Closing     string  `yaml:"closing"`
}

// ContextConfig is the context window policy.
type ContextConfig struct {
	ThresholdEntries  int `yaml:"threshold_entries"`
	KeepRecentEntries int `yaml:"keep_recent_entries"`
	SummaryTimeoutSec int `yaml:"summary_timeout_sec"`

	// Summarizer is "llm" (default) or "simple" for an extractive
	// summary that needs no model call.
	Summarizer string `yaml:"summarizer"`
}

// DatabaseConfig locates the booking database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig controls best-effort conversation logging.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTTConfig defines the optional broker that receives session events.
// An empty Broker disables publishing.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DeviceName  string `yaml:"device_name"`
	TopicPrefix string `yaml:"topic_prefix"`

	// DiscoveryPrefix is the Home Assistant discovery root.
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	// PublishIntervalSec is how often sensor states are refreshed.
	PublishIntervalSec int `yaml:"publish_interval_sec"`
}

// Configured reports whether an MQTT broker has been set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default concierge wording.
const (
	DefaultHoldAcknowledgment = "No problem! I'll wait right here. Just say I'm back when you're ready to continue."
	DefaultFarewell           = "It was great talking with you! Feel free to reach out anytime. Take care!"
	DefaultApology            = "I'm sorry, I'm having a little trouble right now. Could you say that again?"
	DefaultGentleNudge        = "Hey, just checking in. Are you still with me?"
	DefaultFirmNudge          = "I'm still here whenever you're ready. Would you like to continue, or do you need a little more time?"
	DefaultIdleClosing        = "It looks like you might be busy right now. Feel free to call back anytime - we're always here to help. Take care!"
)

// DefaultWakePhrases returns the phrases that end hold mode when no
// wake_phrases are configured.
func DefaultWakePhrases() []string {
	return []string{
		"I'm back",
		"I am back",
		"im back",
		"back",
		"I'm here",
		"I'm ready",
		"ready",
		"hello",
		"continue",
	}
}

// Load reads configuration from a YAML file. Environment variables in
// the form ${NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8765
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "ollama":
			c.LLM.Model = "qwen3:4b"
		default:
			c.LLM.Model = "gpt-4o-mini"
		}
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 60
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "hotel.db")
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.DataDir, "history.db")
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "frontdesk"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "frontdesk"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}

	conv := &c.Conversation
	if len(conv.WakePhrases) == 0 {
		conv.WakePhrases = DefaultWakePhrases()
	}
	if conv.HoldAcknowledgment == "" {
		conv.HoldAcknowledgment = DefaultHoldAcknowledgment
	}
	if conv.Farewell == "" {
		conv.Farewell = DefaultFarewell
	}
	if conv.Apology == "" {
		conv.Apology = DefaultApology
	}
	if conv.MaxToolIterations <= 0 {
		conv.MaxToolIterations = 5
	}
	if conv.Greet == nil {
		greet := true
		conv.Greet = &greet
	}
	if conv.Idle.TimeoutSec == 0 {
		conv.Idle.TimeoutSec = 10
	}
	if conv.Idle.MaxRetries == 0 {
		conv.Idle.MaxRetries = 3
	}
	if conv.Idle.GentleNudge == "" {
		conv.Idle.GentleNudge = DefaultGentleNudge
	}
	if conv.Idle.FirmNudge == "" {
		conv.Idle.FirmNudge = DefaultFirmNudge
	}
	if conv.Idle.Closing == "" {
		conv.Idle.Closing = DefaultIdleClosing
	}
	if conv.Context.ThresholdEntries == 0 {
		conv.Context.ThresholdEntries = 100
	}
	if conv.Context.KeepRecentEntries == 0 {
		conv.Context.KeepRecentEntries = 20
	}
	if conv.Context.SummaryTimeoutSec <= 0 {
		conv.Context.SummaryTimeoutSec = 30
	}
	if conv.Context.Summarizer == "" {
		conv.Context.Summarizer = "llm"
	}
}

// Validate reports configuration values the turn controller cannot run
// with. All problems are returned together.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q (valid: openai, ollama)", c.LLM.Provider))
	}

	conv := c.Conversation
	if conv.Idle.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("conversation.idle.timeout_sec must be positive, got %v", conv.Idle.TimeoutSec))
	}
	if conv.Idle.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("conversation.idle.max_retries must be at least 1, got %d", conv.Idle.MaxRetries))
	}
	if conv.Context.KeepRecentEntries < 0 {
		errs = append(errs, fmt.Errorf("conversation.context.keep_recent_entries must not be negative"))
	}
	if conv.Context.KeepRecentEntries >= conv.Context.ThresholdEntries {
		errs = append(errs, fmt.Errorf("conversation.context.keep_recent_entries (%d) must be below threshold_entries (%d)",
			conv.Context.KeepRecentEntries, conv.Context.ThresholdEntries))
	}

	switch conv.Context.Summarizer {
	case "llm", "simple":
	default:
		errs = append(errs, fmt.Errorf("conversation.context.summarizer %q (valid: llm, simple)", conv.Context.Summarizer))
	}

	var phrases int
	for _, p := range conv.WakePhrases {
		if strings.TrimSpace(p) != "" {
			phrases++
		}
	}
	if phrases == 0 {
		errs = append(errs, errors.New("conversation.wake_phrases must contain at least one phrase"))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SystemPrompt returns the contents of SystemPromptFile, or an empty
// string when no override is configured.
func (c ConversationConfig) SystemPrompt() (string, error) {
	if c.SystemPromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
