// Package config loads the TOML configuration file and resolves the active
// profile. Configuration is read once per process; profile switches rebuild
// only the affected sub-state.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/nstogner/pare/pkg/hooks"
)

// DefaultContextTokens is the window size assumed when a profile does not
// declare one.
const DefaultContextTokens = 32768

// MCPServer configures one external tool server process.
type MCPServer struct {
	// Name prefixes the server's tools ("brave.brave_web_search").
	Name string `toml:"name"`
	// Command plus args to spawn the server.
	Command []string `toml:"command"`
	// Env vars injected into the server process.
	Env map[string]string `toml:"env"`
}

// Profile is one named model configuration.
type Profile struct {
	// Endpoint is an OpenAI-compatible base URL.
	Endpoint string `toml:"endpoint"`
	// Model is the executor model identifier.
	Model string `toml:"model"`
	// PlannerModel optionally names a distinct model for plan generation.
	PlannerModel string `toml:"planner_model"`
	// ContextTokens is the window W used by the budget engine.
	ContextTokens int `toml:"context_tokens"`
	// APIKey is sent as a Bearer credential.
	APIKey string `toml:"api_key"`

	// CostPerMtokInput / CostPerMtokOutput enable cost display when set
	// (USD per 1M tokens).
	CostPerMtokInput  float64 `toml:"cost_per_mtok_input"`
	CostPerMtokOutput float64 `toml:"cost_per_mtok_output"`

	// Git collaborator settings.
	AutoCommit       bool   `toml:"auto_commit"`
	AutoCommitPrefix string `toml:"auto_commit_prefix"`
	GitContext       *bool  `toml:"git_context"`

	Hooks hooks.Config `toml:"hooks"`
	// HooksDisabled is the permanent kill switch, suppressing configured
	// and auto-detected hooks alike.
	HooksDisabled bool `toml:"hooks_disabled"`

	MCPServers []MCPServer `toml:"mcp_servers"`
}

// File is the parsed config document.
type File struct {
	DefaultProfile string             `toml:"default_profile"`
	Profiles       map[string]Profile `toml:"profiles"`
}

// Path returns the platform-standard config file location.
func Path() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "pare", "config.toml")
}

// Load reads the config file, returning defaults when it does not exist yet.
func Load() (*File, error) {
	return LoadFrom(Path())
}

// LoadFrom reads a specific config path.
func LoadFrom(path string) (*File, error) {
	f := &File{DefaultProfile: "default"}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if f.DefaultProfile == "" {
		f.DefaultProfile = "default"
	}
	return f, nil
}

// Resolved is the runtime configuration after merging the file profile with
// defaults.
type Resolved struct {
	ProfileName      string
	Endpoint         string
	Model            string
	PlannerModel     string
	ContextTokens    int
	APIKey           string
	CostPerMtokIn    float64
	CostPerMtokOut   float64
	AutoCommit       bool
	AutoCommitPrefix string
	GitContext       bool
	Hooks            hooks.Config
	HooksDisabled    bool
	MCPServers       []MCPServer
}

// Resolve picks the profile (override or default) and fills defaults.
// An unknown named profile is a user-input error.
func (f *File) Resolve(profileOverride string) (*Resolved, error) {
	name := f.DefaultProfile
	if profileOverride != "" {
		name = profileOverride
	}
	p, ok := f.Profiles[name]
	if !ok {
		if profileOverride != "" {
			return nil, fmt.Errorf("unknown profile %q (run --init to write a starter config)", name)
		}
		// No config yet — local-model defaults.
		p = Profile{Endpoint: "http://localhost:11434/v1", Model: "qwen3:14b"}
	}

	r := &Resolved{
		ProfileName:      name,
		Endpoint:         p.Endpoint,
		Model:            p.Model,
		PlannerModel:     p.PlannerModel,
		ContextTokens:    p.ContextTokens,
		APIKey:           p.APIKey,
		CostPerMtokIn:    p.CostPerMtokInput,
		CostPerMtokOut:   p.CostPerMtokOutput,
		AutoCommit:       p.AutoCommit,
		AutoCommitPrefix: p.AutoCommitPrefix,
		GitContext:       p.GitContext == nil || *p.GitContext,
		Hooks:            p.Hooks,
		HooksDisabled:    p.HooksDisabled,
		MCPServers:       p.MCPServers,
	}
	if r.ContextTokens <= 0 {
		r.ContextTokens = DefaultContextTokens
	}
	if r.AutoCommitPrefix == "" {
		r.AutoCommitPrefix = "pare: "
	}
	return r, nil
}

// WriteDefault writes the starter config if none exists yet, returning the
// path it lives at.
func WriteDefault() (string, error) {
	path := Path()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTOML), 0o644); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}

const defaultConfigTOML = `# pare configuration
# 'pare --init' writes this file only when none exists yet.

default_profile = "local"

# ── Local Ollama (default) ────────────────────────────────────────────────────
[profiles.local]
endpoint       = "http://localhost:11434/v1"
model          = "qwen3:14b"
context_tokens = 32768
# api_key is not needed for Ollama

# ── OpenAI-compatible remote ─────────────────────────────────────────────────
# [profiles.remote]
# endpoint             = "https://api.openai.com/v1"
# model                = "gpt-4o-mini"
# context_tokens       = 128000
# api_key              = "sk-..."
# cost_per_mtok_input  = 0.15
# cost_per_mtok_output = 0.60

# ── Split planner/executor ───────────────────────────────────────────────────
# Use a stronger model to plan and a cheaper one to execute each step.
# [profiles.split]
# endpoint       = "https://openrouter.ai/api/v1"
# model          = "qwen/qwen-2.5-coder-32b-instruct"
# planner_model  = "qwen/qwq-32b"
# context_tokens = 32768
# api_key        = "sk-or-..."

# ── Git integration (per-profile) ────────────────────────────────────────────
# git_context        = true    # inject git status into the system prompt
# auto_commit        = false   # commit all changes after each successful task
# auto_commit_prefix = "pare: "

# ── Hooks (per-profile) ──────────────────────────────────────────────────────
# [profiles.local.hooks]
# on_edit           = ["go build ./..."]
# on_task_done      = []
# on_plan_step_done = []
# on_session_start  = []
# on_session_end    = []
# hooks_disabled = true  # kill switch, includes auto-detected hooks

# ── MCP servers (per-profile) ────────────────────────────────────────────────
# Tools appear as "<server>.<tool>" (e.g. "fetch.fetch").
# [[profiles.local.mcp_servers]]
# name    = "fetch"
# command = ["uvx", "mcp-server-fetch"]
# [profiles.local.mcp_servers.env]
# SOME_KEY = "value"
`
