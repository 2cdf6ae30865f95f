package skipper

import "testing"

func TestHostUserAddr(t *testing.T) {
	tests := []struct {
		address  string
		wantUser string
		wantAddr string
	}{
		{"deploy@host.example.com", "deploy", "host.example.com"},
		{"deploy@host.example.com:2222", "deploy", "host.example.com:2222"},
		{"host.example.com", "", "host.example.com"},
	}
	for _, tt := range tests {
		h := Host{Address: tt.address}
		if got := h.User(); got != tt.wantUser {
			t.Errorf("User(%q) = %q, want %q", tt.address, got, tt.wantUser)
		}
		if got := h.Addr(); got != tt.wantAddr {
			t.Errorf("Addr(%q) = %q, want %q", tt.address, got, tt.wantAddr)
		}
	}
}

func TestParseServiceState(t *testing.T) {
	tests := []struct {
		load   string
		active string
		want   ServiceState
	}{
		{"not-found", "inactive", ServiceAbsent},
		{"not-found", "active", ServiceAbsent},
		{"loaded", "active", ServiceActive},
		{"loaded", "activating", ServiceActive},
		{"loaded", "inactive", ServiceInactive},
		{"loaded", "deactivating", ServiceInactive},
		{"loaded", "failed", ServiceFailed},
		{"loaded", "", ServiceUnknown},
	}
	for _, tt := range tests {
		if got := ParseServiceState(tt.load, tt.active); got != tt.want {
			t.Errorf("ParseServiceState(%q, %q) = %s, want %s", tt.load, tt.active, got, tt.want)
		}
	}
}

func TestDesiredStateValidate(t *testing.T) {
	valid := DesiredState{
		RepoURL:     "https://example.com/app.git",
		Revision:    "main",
		DeployRoot:  "/opt/app",
		ServiceName: "app",
		EntryPoint:  "bot.py",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v for a complete descriptor", err)
	}

	missing := valid
	missing.Revision = "  "
	if err := missing.Validate(); err == nil {
		t.Error("Validate() accepted a blank revision")
	}
}
