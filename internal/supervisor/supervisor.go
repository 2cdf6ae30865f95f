// Package supervisor adapts systemd on the target host. All mutating
// operations are idempotent: enabling an enabled unit or starting an
// active one succeeds as a no-op. The adapter declares the restart policy
// in the unit file and leaves crash recovery to systemd itself.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"skipper"
	"skipper/internal/remote"
)

// defaultPollInterval paces WaitForState status polls.
const defaultPollInterval = 500 * time.Millisecond

// Adapter drives one systemd unit over the remote execution channel.
type Adapter struct {
	ch   remote.Channel
	name string
}

// New returns an adapter for the named unit (without the .service
// suffix).
func New(ch remote.Channel, name string) *Adapter {
	return &Adapter{ch: ch, name: name}
}

// UnitName returns the full unit name.
func (a *Adapter) UnitName() string { return a.name + ".service" }

// UnitStatus is the parsed `systemctl show` output for the unit.
type UnitStatus struct {
	State       skipper.ServiceState
	ActiveState string
	SubState    string
	LoadState   string
	MainPID     int
	Result      string
	Enabled     bool
}

func (s UnitStatus) String() string {
	if s.State == skipper.ServiceActive && s.MainPID > 0 {
		return fmt.Sprintf("active (pid %d)", s.MainPID)
	}
	return fmt.Sprintf("%s/%s", s.ActiveState, s.SubState)
}

// Install writes the unit file and reloads the daemon. Rewriting an
// identical file is harmless, so Install is safe to repeat.
func (a *Adapter) Install(ctx context.Context, content string) error {
	script := remote.SudoScript(fmt.Sprintf(`cat <<'SKIPPER_UNIT' | $SUDO tee %s >/dev/null
%s
SKIPPER_UNIT
$SUDO systemctl daemon-reload`,
		remote.ShellQuote(UnitDir+"/"+a.UnitName()), strings.TrimRight(content, "\n")))
	_, err := a.ch.RunScript(ctx, "install-unit", script)
	return err
}

// Enable marks the unit to start on boot. A no-op when already enabled.
func (a *Adapter) Enable(ctx context.Context) error {
	return a.systemctl(ctx, "enable")
}

// Disable removes the boot-time start. A no-op when already disabled.
func (a *Adapter) Disable(ctx context.Context) error {
	return a.systemctl(ctx, "disable")
}

// Start starts the unit. A no-op when already active.
func (a *Adapter) Start(ctx context.Context) error {
	return a.systemctl(ctx, "start")
}

// Stop stops the unit. A no-op when already inactive.
func (a *Adapter) Stop(ctx context.Context) error {
	return a.systemctl(ctx, "stop")
}

// Restart always transitions through stop then start, whatever the prior
// state was.
func (a *Adapter) Restart(ctx context.Context) error {
	return a.systemctl(ctx, "restart")
}

func (a *Adapter) systemctl(ctx context.Context, verb string) error {
	script := remote.SudoScript(fmt.Sprintf("$SUDO systemctl %s %s", verb, remote.ShellQuote(a.UnitName())))
	_, err := a.ch.RunScript(ctx, "systemctl "+verb, script)
	return err
}

// Status reads the unit's current state. An unregistered unit reports
// ServiceAbsent, not an error.
func (a *Adapter) Status(ctx context.Context) (UnitStatus, error) {
	script := fmt.Sprintf(`systemctl show %s --no-page
echo "UnitFileState=$(systemctl is-enabled %s 2>/dev/null || true)"`,
		remote.ShellQuote(a.UnitName()), remote.ShellQuote(a.UnitName()))
	out, err := a.ch.RunScript(ctx, "status", script)
	if err != nil {
		return UnitStatus{State: skipper.ServiceUnknown}, err
	}
	return parseShow(out), nil
}

// parseShow maps `systemctl show` key=value output onto a UnitStatus.
func parseShow(out string) UnitStatus {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	status := UnitStatus{
		ActiveState: props["ActiveState"],
		SubState:    props["SubState"],
		LoadState:   props["LoadState"],
		Result:      props["Result"],
		Enabled:     props["UnitFileState"] == "enabled",
	}
	if pid, err := strconv.Atoi(props["MainPID"]); err == nil && pid > 0 {
		status.MainPID = pid
	}
	status.State = skipper.ParseServiceState(status.LoadState, status.ActiveState)
	return status
}

// WaitForState polls until the unit reaches want or timeout elapses. On
// timeout the returned SupervisorError carries the last observed state.
func (a *Adapter) WaitForState(ctx context.Context, want skipper.ServiceState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	last := skipper.ServiceUnknown

	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		status, err := a.Status(ctx)
		if err == nil {
			last = status.State
			if last == want {
				return nil
			}
			if want == skipper.ServiceActive && last == skipper.ServiceFailed {
				return &skipper.SupervisorError{
					Unit:      a.UnitName(),
					LastState: last,
					Err:       fmt.Errorf("unit entered failed state (result %s)", status.Result),
				}
			}
		}

		if time.Now().After(deadline) {
			return &skipper.SupervisorError{
				Unit:      a.UnitName(),
				LastState: last,
				Err:       fmt.Errorf("timed out after %s waiting for state %s", timeout, want),
			}
		}

		select {
		case <-ctx.Done():
			return &skipper.SupervisorError{Unit: a.UnitName(), LastState: last, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// TailLogs writes journal lines for the unit to w. With follow the stream
// runs until ctx is canceled; cancellation ends a follow cleanly.
func (a *Adapter) TailLogs(ctx context.Context, lines int, follow bool, w io.Writer) error {
	args := []string{"journalctl", "-u", remote.ShellQuote(a.UnitName()), "--no-pager"}
	if lines > 0 {
		args = append(args, "-n", strconv.Itoa(lines))
	}
	if follow {
		args = append(args, "-f")
	}

	err := a.ch.StreamScript(ctx, "tail-logs", strings.Join(args, " ")+"\n", w, w)
	if follow {
		var transportErr *skipper.TransportError
		if errors.As(err, &transportErr) && errors.Is(transportErr.Err, context.Canceled) {
			return nil
		}
	}
	return err
}
