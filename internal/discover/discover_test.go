package discover

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"skipper"
)

// --- fakes ---

type fakeChannel struct {
	out string
	err error
}

func (c *fakeChannel) RunScript(context.Context, string, string) (string, error) {
	return c.out, c.err
}

func (c *fakeChannel) StreamScript(context.Context, string, string, io.Writer, io.Writer) error {
	return c.err
}

// --- tests ---

func TestLocal(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		snap := Local(skipper.Host{KeyPath: filepath.Join(t.TempDir(), "absent")})
		if snap.Credential != skipper.ProbeAbsent {
			t.Errorf("credential = %s, want absent", snap.Credential)
		}
	})

	t.Run("empty key path", func(t *testing.T) {
		snap := Local(skipper.Host{})
		if snap.Credential != skipper.ProbeAbsent {
			t.Errorf("credential = %s, want absent", snap.Credential)
		}
	})

	t.Run("secure key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "id_ed25519")
		if err := os.WriteFile(path, []byte("key material"), 0o600); err != nil {
			t.Fatal(err)
		}
		snap := Local(skipper.Host{KeyPath: path})
		if snap.Credential != skipper.ProbePresent {
			t.Fatalf("credential = %s, want present", snap.Credential)
		}
		if !snap.CredentialSecure {
			t.Error("CredentialSecure = false for a 0600 key")
		}
	})

	t.Run("world-readable key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "id_ed25519")
		if err := os.WriteFile(path, []byte("key material"), 0o644); err != nil {
			t.Fatal(err)
		}
		snap := Local(skipper.Host{KeyPath: path})
		if snap.CredentialSecure {
			t.Error("CredentialSecure = true for a 0644 key")
		}
	})
}

func TestInspectParsesSnapshot(t *testing.T) {
	ch := &fakeChannel{out: `deployment=present
revision=0f2c9a41d2
dirty=false
venv=present
manifest=aaa111
fingerprint=aaa111
secrets=present
unit_load=loaded
unit_active=active
unit_enabled=enabled`}

	snap := Inspect(context.Background(), ch, StateSnapshot{}, skipper.DesiredState{DeployRoot: "/opt/app", ServiceName: "app"})

	if snap.Deployment != skipper.ProbePresent {
		t.Errorf("deployment = %s, want present", snap.Deployment)
	}
	if snap.Revision != "0f2c9a41d2" {
		t.Errorf("revision = %q, want 0f2c9a41d2", snap.Revision)
	}
	if snap.Dirty {
		t.Error("dirty = true, want false")
	}
	if snap.Secrets != skipper.ProbePresent {
		t.Errorf("secrets = %s, want present", snap.Secrets)
	}
	if snap.Unit != skipper.ProbePresent {
		t.Errorf("unit = %s, want present", snap.Unit)
	}
	if !snap.UnitEnabled {
		t.Error("unit enabled = false, want true")
	}
	if snap.Service != skipper.ServiceActive {
		t.Errorf("service = %s, want active", snap.Service)
	}
	if snap.DependenciesStale() {
		t.Error("dependencies reported stale with matching fingerprint")
	}
}

func TestInspectFailureLeavesFieldsUnknown(t *testing.T) {
	ch := &fakeChannel{err: &skipper.TransportError{Op: "inspect", Err: context.DeadlineExceeded}}
	base := StateSnapshot{Credential: skipper.ProbePresent, CredentialSecure: true}

	snap := Inspect(context.Background(), ch, base, skipper.DesiredState{DeployRoot: "/opt/app", ServiceName: "app"})

	if snap.Deployment != skipper.ProbeUnknown {
		t.Errorf("deployment = %s, want unknown", snap.Deployment)
	}
	if snap.Credential != skipper.ProbePresent {
		t.Errorf("local credential probe was clobbered: %s", snap.Credential)
	}
}

func TestApplyInspectUnregisteredUnit(t *testing.T) {
	var snap StateSnapshot
	applyInspect(&snap, "deployment=absent\nvenv=absent\nsecrets=absent\nunit_load=not-found\nunit_active=inactive\nunit_enabled=")

	if snap.Unit != skipper.ProbeAbsent {
		t.Errorf("unit = %s, want absent", snap.Unit)
	}
	if snap.Service != skipper.ServiceAbsent {
		t.Errorf("service = %s, want absent", snap.Service)
	}
}

func TestDependenciesStale(t *testing.T) {
	tests := []struct {
		name string
		snap StateSnapshot
		want bool
	}{
		{"env missing", StateSnapshot{DependencyEnv: skipper.ProbeAbsent}, true},
		{"no fingerprint recorded", StateSnapshot{DependencyEnv: skipper.ProbePresent, ManifestHash: "aaa"}, true},
		{"manifest changed", StateSnapshot{DependencyEnv: skipper.ProbePresent, ManifestHash: "bbb", Fingerprint: "aaa"}, true},
		{"in sync", StateSnapshot{DependencyEnv: skipper.ProbePresent, ManifestHash: "aaa", Fingerprint: "aaa"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.DependenciesStale(); got != tt.want {
				t.Errorf("DependenciesStale() = %v, want %v", got, tt.want)
			}
		})
	}
}
