package remote

import (
	"strings"
	"testing"

	"skipper"
)

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/opt/app", "'/opt/app'"},
		{"has space", "'has space'"},
		{"o'brien", `'o'"'"'brien'`},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := ShellQuote(tt.in); got != tt.want {
			t.Errorf("ShellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSyncSourceScriptGuardsDirtyTree(t *testing.T) {
	script := SyncSourceScript("/opt/app", "https://example.com/app.git", "main")

	if !strings.Contains(script, "status --porcelain") {
		t.Error("script has no dirty-tree guard")
	}
	for _, marker := range []string{"source=cloned", "source=updated", "source=unchanged"} {
		if !strings.Contains(script, marker) {
			t.Errorf("script does not emit %s", marker)
		}
	}
	if !strings.HasPrefix(script, "set -eu") {
		t.Error("script does not fail fast")
	}
}

func TestSyncDepsScriptIsFingerprintGated(t *testing.T) {
	script := SyncDepsScript("/opt/app")

	if !strings.Contains(script, FingerprintFile) {
		t.Error("script does not consult the fingerprint file")
	}
	for _, marker := range []string{"deps=unchanged", "deps=built", "deps=synced"} {
		if !strings.Contains(script, marker) {
			t.Errorf("script does not emit %s", marker)
		}
	}
}

func TestEnsureSecretsScriptNeverOverwrites(t *testing.T) {
	script := EnsureSecretsScript("/opt/app/.env", "API_TOKEN=__REPLACE_ME__\n")

	// The existing-file branch must exit before any write.
	existCheck := strings.Index(script, `if [ -f "$path" ]`)
	write := strings.Index(script, "cat >")
	if existCheck < 0 || write < 0 || existCheck > write {
		t.Fatalf("script does not check for an existing file before writing:\n%s", script)
	}
	if !strings.Contains(script, "umask 077") {
		t.Error("script does not restrict file permissions")
	}
	if !strings.Contains(script, "chmod 600") {
		t.Error("script does not pin the file mode")
	}
}

func TestSudoScriptResolvesPrivilege(t *testing.T) {
	script := SudoScript("$SUDO systemctl daemon-reload")

	if !strings.Contains(script, `if [ "$(id -u)" -ne 0 ]`) {
		t.Error("script does not detect the unprivileged case")
	}
	if !strings.Contains(script, "command -v sudo") {
		t.Error("script does not verify sudo availability")
	}
}

func TestDialAddress(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		want string
	}{
		{"default port", "deploy@host.example.com", 0, "host.example.com:22"},
		{"configured port", "deploy@host.example.com", 2222, "host.example.com:2222"},
		{"port in address wins", "deploy@host.example.com:2200", 2222, "host.example.com:2200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := skipper.Host{Address: tt.host}
			if got := dialAddress(host, Options{Port: tt.port}); got != tt.want {
				t.Errorf("dialAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}
