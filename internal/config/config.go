package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// HostToolConfig declares one tool exposed by a command host.
type HostToolConfig struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// HostCommandConfig describes a subprocess-backed tool host. Each invocation
// writes a JSON request to the process stdin and reads a JSON response from
// its stdout.
type HostCommandConfig struct {
	Exec           []string          `json:"exec"`
	WorkingDir     string            `json:"working_dir,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Tools          []HostToolConfig  `json:"tools,omitempty"`
}

// HostOpenAPIConfig describes a tool host whose tools are the operations of
// an OpenAPI document.
type HostOpenAPIConfig struct {
	SpecPath        string            `json:"spec_path"`
	URL             string            `json:"url"`
	DefaultHeaders  map[string]string `json:"default_headers,omitempty"`
	AuthBearerToken string            `json:"auth_bearer_token,omitempty"`
	AuthBearerEnv   string            `json:"auth_bearer_env,omitempty"`
}

// HostConfig describes a named external tool host.
type HostConfig struct {
	Type        string             `json:"type"` // "command" or "openapi"
	Description string             `json:"description,omitempty"`
	Command     *HostCommandConfig `json:"command,omitempty"`
	OpenAPI     *HostOpenAPIConfig `json:"openapi,omitempty"`
	Disabled    bool               `json:"disabled,omitempty"`
}

// Config represents application configuration
type Config struct {
	Model      string `json:"model"`
	ToolFormat string `json:"tool_format,omitempty"` // "native", "hermes" or "gemini"; empty = derive from model

	// Loop limits
	MaxTurns               int `json:"max_turns"`
	ToolTimeoutSeconds     int `json:"tool_timeout_seconds"`
	MaxConcurrentToolCalls int `json:"max_concurrent_tool_calls"`
	ApprovalTimeoutSeconds int `json:"approval_timeout_seconds"`
	RepetitionThreshold    int `json:"repetition_threshold"`
	HeartbeatSeconds       int `json:"heartbeat_seconds"`

	// Tools whose use requires an explicit approval decision. Entries are
	// either bare tool names ("sql_select") or host-qualified names
	// ("db::run_query").
	RequireApproval []string `json:"require_approval,omitempty"`
	// Tools the user opted to always approve (written back after an
	// approve-all decision).
	ApproveAlways []string `json:"approve_always,omitempty"`

	// SQLite database backing the sql_select and schema_search tools.
	DatabasePath string `json:"database_path,omitempty"`

	Hosts map[string]*HostConfig `json:"tool_hosts,omitempty"`

	LogLevel string `json:"log_level,omitempty"`
	LogPath  string `json:"log_path,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Default returns a configuration with sane loop limits.
func Default() *Config {
	return &Config{
		MaxTurns:               32,
		ToolTimeoutSeconds:     120,
		MaxConcurrentToolCalls: 4,
		ApprovalTimeoutSeconds: 300,
		RepetitionThreshold:    3,
		HeartbeatSeconds:       5,
		Temperature:            0.2,
		LogLevel:               "info",
	}
}

// GetConfigPath returns the default configuration file location.
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "werkzeug.json"
	}
	return filepath.Join(home, ".config", "werkzeug", "config.json")
}

// Load reads configuration from the given path. A missing file yields the
// default configuration rather than an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes the configuration to the given path, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return os.WriteFile(path, append(data, '\n'), 0644)
}

func (c *Config) normalize() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = Default().MaxTurns
	}
	if c.ToolTimeoutSeconds <= 0 {
		c.ToolTimeoutSeconds = Default().ToolTimeoutSeconds
	}
	if c.MaxConcurrentToolCalls <= 0 {
		c.MaxConcurrentToolCalls = Default().MaxConcurrentToolCalls
	}
	if c.ApprovalTimeoutSeconds <= 0 {
		c.ApprovalTimeoutSeconds = Default().ApprovalTimeoutSeconds
	}
	if c.RepetitionThreshold <= 0 {
		c.RepetitionThreshold = Default().RepetitionThreshold
	}
	if c.HeartbeatSeconds <= 0 {
		c.HeartbeatSeconds = Default().HeartbeatSeconds
	}
}

// IsApprovalRequired reports whether the given qualified tool name matches
// the approval-required set and is not in the always-approved list.
func (c *Config) IsApprovalRequired(qualifiedName string) bool {
	for _, always := range c.ApproveAlways {
		if always == qualifiedName {
			return false
		}
	}
	for _, required := range c.RequireApproval {
		if required == qualifiedName {
			return true
		}
	}
	return false
}

// ApproveAlwaysTool records a tool as always approved for future runs.
// Returns false if the tool was already recorded.
func (c *Config) ApproveAlwaysTool(qualifiedName string) bool {
	qualifiedName = strings.TrimSpace(qualifiedName)
	if qualifiedName == "" {
		return false
	}
	for _, existing := range c.ApproveAlways {
		if existing == qualifiedName {
			return false
		}
	}
	c.ApproveAlways = append(c.ApproveAlways, qualifiedName)
	sort.Strings(c.ApproveAlways)
	return true
}
