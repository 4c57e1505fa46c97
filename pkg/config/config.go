package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Router    RouterConfig    `json:"router"`
	Tasks     TasksConfig     `json:"tasks"`
	History   HistoryConfig   `json:"history"`
	Memory    MemoryConfig    `json:"memory"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Drafts    DraftsConfig    `json:"drafts"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Log       LogConfig       `json:"log"`
	mu        sync.RWMutex
}

type AgentConfig struct {
	Workspace string `json:"workspace" env:"KIWID_AGENT_WORKSPACE"`
	Name      string `json:"name" env:"KIWID_AGENT_NAME"`
	Model     string `json:"model" env:"KIWID_AGENT_MODEL"`
	MaxTokens int    `json:"max_tokens" env:"KIWID_AGENT_MAX_TOKENS"`
}

type RouterConfig struct {
	// DedupeCacheSize bounds the LRU of recently seen inbound message ids.
	DedupeCacheSize          int `json:"dedupe_cache_size" env:"KIWID_ROUTER_DEDUPE_CACHE_SIZE"`
	WorkerQueueDepth         int `json:"worker_queue_depth" env:"KIWID_ROUTER_WORKER_QUEUE_DEPTH"`
	MaxToolIterations        int `json:"max_tool_iterations" env:"KIWID_ROUTER_MAX_TOOL_ITERATIONS"`
	MaxRetries               int `json:"max_retries" env:"KIWID_ROUTER_MAX_RETRIES"`
	RetryBackoffMS           int `json:"retry_backoff_ms" env:"KIWID_ROUTER_RETRY_BACKOFF_MS"`
	CompletionTimeoutSeconds int `json:"completion_timeout_seconds" env:"KIWID_ROUTER_COMPLETION_TIMEOUT_SECONDS"`
	ToolTimeoutSeconds       int `json:"tool_timeout_seconds" env:"KIWID_ROUTER_TOOL_TIMEOUT_SECONDS"`
}

type TasksConfig struct {
	// MaxInterruptDepth bounds the per-user interrupted-task stack.
	// Interrupting past the bound fails rather than growing unbounded.
	MaxInterruptDepth int `json:"max_interrupt_depth" env:"KIWID_TASKS_MAX_INTERRUPT_DEPTH"`
}

type HistoryConfig struct {
	// Window sizes are counted in rounds (one user turn plus replies).
	InitialRounds   int `json:"initial_rounds" env:"KIWID_HISTORY_INITIAL_ROUNDS"`
	GrowthIncrement int `json:"growth_increment" env:"KIWID_HISTORY_GROWTH_INCREMENT"`
	MaxRounds       int `json:"max_rounds" env:"KIWID_HISTORY_MAX_ROUNDS"`
}

type MemoryConfig struct {
	MaxRecallItems int `json:"max_recall_items" env:"KIWID_MEMORY_MAX_RECALL_ITEMS"`
	CandidateLimit int `json:"candidate_limit" env:"KIWID_MEMORY_CANDIDATE_LIMIT"`
}

type SchedulerConfig struct {
	PollIntervalMS int `json:"poll_interval_ms" env:"KIWID_SCHEDULER_POLL_INTERVAL_MS"`
}

type DraftsConfig struct {
	// TTLSeconds is how long an unconfirmed on-behalf-of-user draft
	// survives before it is discarded.
	TTLSeconds int `json:"ttl_seconds" env:"KIWID_DRAFTS_TTL_SECONDS"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"KIWID_PROVIDER_API_KEY"`
	APIBase string `json:"api_base" env:"KIWID_PROVIDER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"KIWID_PROVIDER_PROXY"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" env:"KIWID_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" env:"KIWID_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"KIWID_CHANNELS_DISCORD_ALLOW_FROM"`
}

type LogConfig struct {
	Level string `json:"level" env:"KIWID_LOG_LEVEL"`
	JSON  bool   `json:"json" env:"KIWID_LOG_JSON"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace: "~/.kiwid/workspace",
			Name:      "kiwid",
			Model:     "openai/gpt-5.2",
			MaxTokens: 8192,
		},
		Router: RouterConfig{
			DedupeCacheSize:          4096,
			WorkerQueueDepth:         64,
			MaxToolIterations:        20,
			MaxRetries:               2,
			RetryBackoffMS:           500,
			CompletionTimeoutSeconds: 120,
			ToolTimeoutSeconds:       60,
		},
		Tasks: TasksConfig{
			MaxInterruptDepth: 4,
		},
		History: HistoryConfig{
			InitialRounds:   3,
			GrowthIncrement: 3,
			MaxRounds:       50,
		},
		Memory: MemoryConfig{
			MaxRecallItems: 8,
			CandidateLimit: 80,
		},
		Scheduler: SchedulerConfig{
			PollIntervalMS: 500,
		},
		Drafts: DraftsConfig{
			TTLSeconds: 600,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agent.Workspace)
}

// StorePath is the canonical sqlite database location under the workspace.
func (c *Config) StorePath() string {
	return filepath.Join(c.WorkspacePath(), "state", "kiwid.db")
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Provider.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Provider.APIBase != "" {
		return c.Provider.APIBase
	}
	return "https://openrouter.ai/api/v1"
}

func (c *Config) RetryBackoff() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Router.RetryBackoffMS) * time.Millisecond
}

func (c *Config) CompletionTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Router.CompletionTimeoutSeconds) * time.Second
}

func (c *Config) ToolTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Router.ToolTimeoutSeconds) * time.Second
}

func (c *Config) DraftTTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Drafts.TTLSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
