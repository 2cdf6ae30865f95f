package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RepoURL != DefaultRepoURL {
		t.Errorf("repo = %q, want default", cfg.RepoURL)
	}
	if cfg.Revision != DefaultRevision {
		t.Errorf("revision = %q, want %q", cfg.Revision, DefaultRevision)
	}
	if cfg.SSH.Port != DefaultSSHPort {
		t.Errorf("ssh port = %d, want %d", cfg.SSH.Port, DefaultSSHPort)
	}
	if cfg.SSH.Timeout != DefaultTimeout {
		t.Errorf("timeout = %s, want %s", cfg.SSH.Timeout, DefaultTimeout)
	}
	if len(cfg.SecretKeys) != len(DefaultSecretKeys) {
		t.Errorf("secret keys = %v, want defaults", cfg.SecretKeys)
	}
	if cfg.HistoryPath == "" {
		t.Error("history path was not defaulted")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `repo: https://example.com/other.git
revision: release
deploy_root: /srv/bot
ssh:
  port: 2222
  key: /home/op/.ssh/deploy_key
  timeout: 30s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RepoURL != "https://example.com/other.git" {
		t.Errorf("repo = %q", cfg.RepoURL)
	}
	if cfg.Revision != "release" {
		t.Errorf("revision = %q, want release", cfg.Revision)
	}
	if cfg.DeployRoot != "/srv/bot" {
		t.Errorf("deploy root = %q, want /srv/bot", cfg.DeployRoot)
	}
	if cfg.SSH.Port != 2222 {
		t.Errorf("ssh port = %d, want 2222", cfg.SSH.Port)
	}
	if cfg.SSH.Timeout != 30*time.Second {
		t.Errorf("timeout = %s, want 30s", cfg.SSH.Timeout)
	}
	// Unset fields still default.
	if cfg.ServiceName != DefaultServiceName {
		t.Errorf("service = %q, want default", cfg.ServiceName)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\n  not yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted malformed yaml")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvRepoURL, "https://example.com/env.git")
	t.Setenv(EnvRevision, "  hotfix  ")
	t.Setenv(EnvSSHKey, "/tmp/envkey")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.ApplyEnv()

	if cfg.RepoURL != "https://example.com/env.git" {
		t.Errorf("repo = %q, want env override", cfg.RepoURL)
	}
	if cfg.Revision != "hotfix" {
		t.Errorf("revision = %q, want trimmed env override", cfg.Revision)
	}
	if cfg.SSH.KeyPath != "/tmp/envkey" {
		t.Errorf("key path = %q, want env override", cfg.SSH.KeyPath)
	}
}

func TestDesired(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	desired := cfg.Desired(true)
	if err := desired.Validate(); err != nil {
		t.Errorf("default desired state is invalid: %v", err)
	}
	if !desired.Run {
		t.Error("Run = false, want true")
	}
	if !desired.Restart.Always {
		t.Error("restart policy is not always")
	}
	if desired.SecretsPath() != cfg.DeployRoot+"/.env" {
		t.Errorf("secrets path = %q", desired.SecretsPath())
	}

	// The descriptor must not alias the config's slice.
	desired.SecretKeys[0] = "MUTATED"
	if cfg.SecretKeys[0] == "MUTATED" {
		t.Error("desired state aliases the config secret keys")
	}
}
