// Package config handles orchestrator configuration: the desired-state
// descriptor for the deployed service plus SSH connection options.
//
// Config is stored at $XDG_CONFIG_HOME/skipper/config.yaml (defaults to
// ~/.config/skipper/config.yaml). A missing file is not an error; the
// documented defaults apply. Environment variables override the file, and
// CLI flags override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"skipper"
)

// DefaultRepoURL is the default source location for the supervised bot.
// It replaces the hidden process-wide constant of earlier tooling: the
// value is explicit here and overridable by file, environment, or flag.
const DefaultRepoURL = "https://github.com/skipper-dev/chatbot"

// Defaults for the desired-state descriptor.
const (
	DefaultRevision    = "main"
	DefaultDeployRoot  = "/opt/chatbot"
	DefaultServiceName = "chatbot"
	DefaultInterpreter = ".venv/bin/python"
	DefaultEntryPoint  = "bot.py"
	DefaultSSHPort     = 22
	DefaultTimeout     = 10 * time.Second
)

// DefaultSecretKeys are the variables the secret-set placeholder carries,
// matching what the supervised process reads at startup.
var DefaultSecretKeys = []string{"TELEGRAM_BOT_TOKEN", "OPENAI_API_KEY"}

// Environment override names.
const (
	EnvRepoURL  = "SKIPPER_REPO_URL"
	EnvRevision = "SKIPPER_REVISION"
	EnvSSHKey   = "SKIPPER_SSH_KEY"
)

// SSH carries connection options for the remote execution channel.
type SSH struct {
	KeyPath        string        `yaml:"key,omitempty"`
	Port           int           `yaml:"port,omitempty"`
	KnownHostsPath string        `yaml:"known_hosts,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	// InsecureSkipHostKeyCheck disables known_hosts verification.
	InsecureSkipHostKeyCheck bool `yaml:"insecure_skip_host_key_check,omitempty"`
}

// Config is the full orchestrator configuration.
type Config struct {
	RepoURL     string   `yaml:"repo,omitempty"`
	Revision    string   `yaml:"revision,omitempty"`
	DeployRoot  string   `yaml:"deploy_root,omitempty"`
	ServiceName string   `yaml:"service,omitempty"`
	Interpreter string   `yaml:"interpreter,omitempty"`
	EntryPoint  string   `yaml:"entry_point,omitempty"`
	SecretKeys  []string `yaml:"secret_keys,omitempty"`
	RestartSec  int      `yaml:"restart_sec,omitempty"`
	SSH         SSH      `yaml:"ssh,omitempty"`
	// HistoryPath is the local run-history database location.
	HistoryPath string `yaml:"history,omitempty"`
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/skipper/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "skipper", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "skipper", "config.yaml")
}

// HistoryPath returns the run-history database location. It respects
// XDG_STATE_HOME, falling back to ~/.local/state/skipper/history.db.
func HistoryPath() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "state", "skipper", "history.db")
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "skipper", "history.db")
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file yields a default config, not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to its default location, creating directories as
// needed.
func (c *Config) Save() error {
	p := Path()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.RepoURL == "" {
		c.RepoURL = DefaultRepoURL
	}
	if c.Revision == "" {
		c.Revision = DefaultRevision
	}
	if c.DeployRoot == "" {
		c.DeployRoot = DefaultDeployRoot
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.Interpreter == "" {
		c.Interpreter = DefaultInterpreter
	}
	if c.EntryPoint == "" {
		c.EntryPoint = DefaultEntryPoint
	}
	if len(c.SecretKeys) == 0 {
		c.SecretKeys = append([]string(nil), DefaultSecretKeys...)
	}
	if c.RestartSec <= 0 {
		c.RestartSec = 5
	}
	if c.SSH.Port <= 0 {
		c.SSH.Port = DefaultSSHPort
	}
	if c.SSH.Timeout <= 0 {
		c.SSH.Timeout = DefaultTimeout
	}
	if c.HistoryPath == "" {
		c.HistoryPath = HistoryPath()
	}
}

// ApplyEnv applies environment overrides. Explicit so callers control when
// the environment wins over the file.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvRepoURL)); v != "" {
		c.RepoURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRevision)); v != "" {
		c.Revision = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSSHKey)); v != "" {
		c.SSH.KeyPath = v
	}
}

// Desired builds the desired-state descriptor from the config. The run
// flag controls whether convergence starts the unit.
func (c *Config) Desired(run bool) skipper.DesiredState {
	return skipper.DesiredState{
		RepoURL:     c.RepoURL,
		Revision:    c.Revision,
		DeployRoot:  c.DeployRoot,
		ServiceName: c.ServiceName,
		Interpreter: c.Interpreter,
		EntryPoint:  c.EntryPoint,
		SecretKeys:  append([]string(nil), c.SecretKeys...),
		Restart:     skipper.RestartPolicy{Always: true, BackoffSeconds: c.RestartSec},
		Run:         run,
	}
}
