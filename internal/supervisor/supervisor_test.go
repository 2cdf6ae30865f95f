package supervisor

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"skipper"
)

// --- fakes ---

// fakeChannel returns queued outputs in order, repeating the last one.
type fakeChannel struct {
	outputs []string
	err     error
	scripts []string
}

func (c *fakeChannel) RunScript(_ context.Context, _, script string) (string, error) {
	c.scripts = append(c.scripts, script)
	if c.err != nil {
		return "", c.err
	}
	if len(c.outputs) == 0 {
		return "", nil
	}
	out := c.outputs[0]
	if len(c.outputs) > 1 {
		c.outputs = c.outputs[1:]
	}
	return out, nil
}

func (c *fakeChannel) StreamScript(_ context.Context, _, script string, stdout, stderr io.Writer) error {
	c.scripts = append(c.scripts, script)
	return c.err
}

// --- tests ---

func TestRenderUnit(t *testing.T) {
	unit := RenderUnit(skipper.DesiredState{
		DeployRoot:  "/opt/app",
		ServiceName: "app",
		Interpreter: ".venv/bin/python",
		EntryPoint:  "bot.py",
		Restart:     skipper.RestartPolicy{Always: true, BackoffSeconds: 5},
	})

	for _, want := range []string{
		"ExecStart=/opt/app/.venv/bin/python /opt/app/bot.py",
		"WorkingDirectory=/opt/app",
		"EnvironmentFile=/opt/app/.env",
		"Restart=always",
		"RestartSec=5",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit file missing %q:\n%s", want, unit)
		}
	}
}

func TestRenderUnitAbsoluteInterpreter(t *testing.T) {
	unit := RenderUnit(skipper.DesiredState{
		DeployRoot:  "/opt/app",
		ServiceName: "app",
		Interpreter: "/usr/bin/python3",
		EntryPoint:  "bot.py",
	})

	if !strings.Contains(unit, "ExecStart=/usr/bin/python3 /opt/app/bot.py") {
		t.Errorf("absolute interpreter was resolved against the deploy root:\n%s", unit)
	}
	if !strings.Contains(unit, "Restart=no") {
		t.Errorf("restart policy defaulted to something other than no:\n%s", unit)
	}
}

func TestParseShow(t *testing.T) {
	out := `LoadState=loaded
ActiveState=active
SubState=running
MainPID=4242
Result=success
UnitFileState=enabled`

	status := parseShow(out)
	if status.State != skipper.ServiceActive {
		t.Errorf("state = %s, want active", status.State)
	}
	if status.MainPID != 4242 {
		t.Errorf("pid = %d, want 4242", status.MainPID)
	}
	if !status.Enabled {
		t.Error("enabled = false, want true")
	}
	if got, want := status.String(), "active (pid 4242)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseShowUnregistered(t *testing.T) {
	status := parseShow("LoadState=not-found\nActiveState=inactive\nSubState=dead\nMainPID=0")
	if status.State != skipper.ServiceAbsent {
		t.Errorf("state = %s, want absent", status.State)
	}
	if status.MainPID != 0 {
		t.Errorf("pid = %d, want 0", status.MainPID)
	}
}

func TestInstallWritesUnitAndReloads(t *testing.T) {
	ch := &fakeChannel{}
	a := New(ch, "app")

	if err := a.Install(context.Background(), RenderUnit(skipper.DesiredState{
		DeployRoot:  "/opt/app",
		ServiceName: "app",
		Interpreter: ".venv/bin/python",
		EntryPoint:  "bot.py",
	})); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if len(ch.scripts) != 1 {
		t.Fatalf("scripts run = %d, want 1", len(ch.scripts))
	}
	script := ch.scripts[0]
	if !strings.Contains(script, "/etc/systemd/system/app.service") {
		t.Errorf("script does not target the unit path:\n%s", script)
	}
	if !strings.Contains(script, "daemon-reload") {
		t.Errorf("script does not reload the daemon:\n%s", script)
	}
}

func TestWaitForStateReachesWant(t *testing.T) {
	ch := &fakeChannel{outputs: []string{
		"LoadState=loaded\nActiveState=inactive\nSubState=dead",
		"LoadState=loaded\nActiveState=active\nSubState=running",
	}}
	a := New(ch, "app")

	if err := a.WaitForState(context.Background(), skipper.ServiceActive, 5*time.Second); err != nil {
		t.Fatalf("WaitForState() error = %v", err)
	}
}

func TestWaitForStateFailedUnit(t *testing.T) {
	ch := &fakeChannel{outputs: []string{
		"LoadState=loaded\nActiveState=failed\nSubState=failed\nResult=exit-code",
	}}
	a := New(ch, "app")

	err := a.WaitForState(context.Background(), skipper.ServiceActive, 5*time.Second)

	var supErr *skipper.SupervisorError
	if !errors.As(err, &supErr) {
		t.Fatalf("WaitForState() error = %v, want SupervisorError", err)
	}
	if supErr.LastState != skipper.ServiceFailed {
		t.Errorf("last state = %s, want failed", supErr.LastState)
	}
}

func TestWaitForStateTimeout(t *testing.T) {
	ch := &fakeChannel{outputs: []string{
		"LoadState=loaded\nActiveState=inactive\nSubState=dead",
	}}
	a := New(ch, "app")

	err := a.WaitForState(context.Background(), skipper.ServiceActive, 10*time.Millisecond)

	var supErr *skipper.SupervisorError
	if !errors.As(err, &supErr) {
		t.Fatalf("WaitForState() error = %v, want SupervisorError", err)
	}
	if supErr.LastState != skipper.ServiceInactive {
		t.Errorf("last state = %s, want inactive", supErr.LastState)
	}
}

func TestTailLogsFollowCancelIsClean(t *testing.T) {
	ch := &fakeChannel{err: &skipper.TransportError{Op: "tail-logs", Err: context.Canceled}}
	a := New(ch, "app")

	if err := a.TailLogs(context.Background(), 10, true, io.Discard); err != nil {
		t.Errorf("TailLogs(follow) error = %v, want nil on cancellation", err)
	}
	if err := a.TailLogs(context.Background(), 10, false, io.Discard); err == nil {
		t.Error("TailLogs(no follow) swallowed a transport error")
	}
}
