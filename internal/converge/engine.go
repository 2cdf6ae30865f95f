// Package converge closes the gap between a discovered host state and the
// desired deployment state with an ordered, idempotent step list. Every
// step is a no-op when the snapshot already satisfies it; the engine halts
// at the first hard failure and returns the partial result, so re-running
// after the operator fixes the cause is always safe.
package converge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"skipper"
	"skipper/internal/check"
	"skipper/internal/discover"
	"skipper/internal/remote"
	"skipper/internal/secrets"
	"skipper/internal/supervisor"
)

// DefaultWaitTimeout bounds the wait for the unit to reach the requested
// state after a start or restart.
const DefaultWaitTimeout = 30 * time.Second

// Conn is a closable execution channel.
type Conn interface {
	remote.Channel
	Close() error
}

// Supervisor is the slice of the unit adapter the engine drives.
type Supervisor interface {
	Install(ctx context.Context, content string) error
	Enable(ctx context.Context) error
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
	WaitForState(ctx context.Context, want skipper.ServiceState, timeout time.Duration) error
}

// Engine executes convergence passes. Dial is invoked only after the
// local credential and reachability gates pass, so a blocked precondition
// never results in any remote action.
type Engine struct {
	// Dial opens the execution channel to the target host.
	Dial func(ctx context.Context) (Conn, error)
	// NewSupervisor builds the unit adapter on the dialed channel. Nil
	// selects the systemd adapter.
	NewSupervisor func(ch remote.Channel, name string) Supervisor
	// WaitTimeout bounds post-start waits. Zero selects the default.
	WaitTimeout time.Duration
	// OnStep observes each step record as it is made. Optional.
	OnStep func(StepRecord)
}

// Converge runs the full provisioning pass.
func (e *Engine) Converge(ctx context.Context, snap discover.StateSnapshot, desired skipper.DesiredState) (Result, error) {
	check.Assert(e.Dial != nil, "converge: Engine.Dial must not be nil")
	if err := desired.Validate(); err != nil {
		return Result{Operation: "provision"}, err
	}

	res := Result{Operation: "provision", Service: snap.Service}

	conn, sup, err := e.open(ctx, &res, snap, desired)
	if err != nil {
		return res, err
	}
	defer conn.Close()

	if err := e.syncSource(ctx, &res, conn, snap, desired); err != nil {
		return res, err
	}
	if err := e.syncDependencies(ctx, &res, conn, desired); err != nil {
		return res, err
	}
	if err := e.ensureSecrets(ctx, &res, conn, snap, desired); err != nil {
		return res, err
	}
	if err := e.registerUnit(ctx, &res, sup, snap, desired); err != nil {
		return res, err
	}
	if err := e.startService(ctx, &res, sup, snap, desired); err != nil {
		return res, err
	}
	return res, nil
}

// Update runs the restricted pass for an already-provisioned host: source
// sync, dependency sync, unit registration, then an unconditional restart.
// Restart-always is deliberate; there is no change-detection gate.
func (e *Engine) Update(ctx context.Context, snap discover.StateSnapshot, desired skipper.DesiredState) (Result, error) {
	check.Assert(e.Dial != nil, "converge: Engine.Dial must not be nil")
	if err := desired.Validate(); err != nil {
		return Result{Operation: "update"}, err
	}

	res := Result{Operation: "update", Service: snap.Service}

	conn, sup, err := e.open(ctx, &res, snap, desired)
	if err != nil {
		return res, err
	}
	defer conn.Close()

	if err := e.syncSource(ctx, &res, conn, snap, desired); err != nil {
		return res, err
	}
	if err := e.syncDependencies(ctx, &res, conn, desired); err != nil {
		return res, err
	}
	if err := e.registerUnit(ctx, &res, sup, snap, desired); err != nil {
		return res, err
	}
	if err := e.restartService(ctx, &res, sup, snap, desired); err != nil {
		return res, err
	}
	return res, nil
}

// open runs the two local gates and dials the channel. No remote action
// of any kind happens before both gates pass.
func (e *Engine) open(ctx context.Context, res *Result, snap discover.StateSnapshot, desired skipper.DesiredState) (Conn, Supervisor, error) {
	switch {
	case snap.Credential != skipper.ProbePresent:
		err := &skipper.PreconditionError{Reason: "local credential material is missing"}
		e.record(res, StepRecord{Name: StepEnsureCredential, Status: StepFailed, Reason: err.Reason})
		return nil, nil, err
	case !snap.CredentialSecure:
		err := &skipper.PreconditionError{Reason: "local credential file permissions are too open (want owner-only)"}
		e.record(res, StepRecord{Name: StepEnsureCredential, Status: StepFailed, Reason: err.Reason})
		return nil, nil, err
	}
	e.record(res, StepRecord{Name: StepEnsureCredential, Status: StepSkipped, Reason: "credential present"})

	if snap.Reachability != skipper.Reachable {
		err := &skipper.TransportError{
			Op:  "reachability probe",
			Err: fmt.Errorf("host is %s; resolve connectivity and re-run", snap.Reachability),
		}
		e.record(res, StepRecord{Name: StepEnsureReachable, Status: StepFailed, Reason: err.Error()})
		return nil, nil, err
	}

	started := time.Now()
	conn, err := e.Dial(ctx)
	if err != nil {
		e.record(res, StepRecord{Name: StepEnsureReachable, Status: StepFailed, Reason: err.Error(), Duration: time.Since(started)})
		return nil, nil, err
	}
	e.record(res, StepRecord{Name: StepEnsureReachable, Status: StepSkipped, Reason: "host reachable", Duration: time.Since(started)})

	newSup := e.NewSupervisor
	if newSup == nil {
		newSup = func(ch remote.Channel, name string) Supervisor {
			return supervisor.New(ch, name)
		}
	}
	return conn, newSup(conn, desired.ServiceName), nil
}

func (e *Engine) syncSource(ctx context.Context, res *Result, conn Conn, snap discover.StateSnapshot, desired skipper.DesiredState) error {
	if snap.Deployment == skipper.ProbePresent && snap.Dirty {
		err := &skipper.PreconditionError{
			Reason: fmt.Sprintf("working tree at %s has local changes; resolve them on the host before re-running", desired.DeployRoot),
		}
		e.record(res, StepRecord{Name: StepSyncSource, Status: StepFailed, Reason: err.Reason})
		return err
	}

	started := time.Now()
	out, err := conn.RunScript(ctx, "sync-source", remote.SyncSourceScript(desired.DeployRoot, desired.RepoURL, desired.Revision))
	if err != nil {
		e.record(res, StepRecord{Name: StepSyncSource, Status: StepFailed, Reason: err.Error(), Duration: time.Since(started)})
		return err
	}

	record := StepRecord{Name: StepSyncSource, Duration: time.Since(started)}
	switch marker(out, "source") {
	case "unchanged":
		record.Status, record.Reason = StepSkipped, "checkout already at target revision"
	case "cloned":
		record.Status, record.Reason = StepPerformed, "cloned repository"
	default:
		record.Status, record.Reason = StepPerformed, "reset checkout to target revision"
	}
	e.record(res, record)
	return nil
}

func (e *Engine) syncDependencies(ctx context.Context, res *Result, conn Conn, desired skipper.DesiredState) error {
	started := time.Now()
	out, err := conn.RunScript(ctx, "sync-dependencies", remote.SyncDepsScript(desired.DeployRoot))
	if err != nil {
		e.record(res, StepRecord{Name: StepSyncDependencies, Status: StepFailed, Reason: err.Error(), Duration: time.Since(started)})
		return err
	}

	record := StepRecord{Name: StepSyncDependencies, Duration: time.Since(started)}
	switch marker(out, "deps") {
	case "unchanged":
		record.Status, record.Reason = StepSkipped, "dependency environment matches manifest fingerprint"
	case "built":
		record.Status, record.Reason = StepPerformed, "built dependency environment"
	default:
		record.Status, record.Reason = StepPerformed, "synchronized dependencies to manifest"
	}
	e.record(res, record)
	return nil
}

func (e *Engine) ensureSecrets(ctx context.Context, res *Result, conn Conn, snap discover.StateSnapshot, desired skipper.DesiredState) error {
	if snap.Secrets == skipper.ProbePresent {
		// Operator-owned once it exists; even a malformed file is theirs.
		e.record(res, StepRecord{Name: StepEnsureSecrets, Status: StepSkipped, Reason: "secret set present (operator-owned)"})
		return nil
	}

	started := time.Now()
	script := remote.EnsureSecretsScript(desired.SecretsPath(), secrets.Template(desired.SecretKeys))
	if _, err := conn.RunScript(ctx, "ensure-secrets", script); err != nil {
		e.record(res, StepRecord{Name: StepEnsureSecrets, Status: StepFailed, Reason: err.Error(), Duration: time.Since(started)})
		return err
	}
	e.record(res, StepRecord{Name: StepEnsureSecrets, Status: StepPerformed, Reason: "wrote placeholder secret set", Duration: time.Since(started)})
	return nil
}

func (e *Engine) registerUnit(ctx context.Context, res *Result, sup Supervisor, snap discover.StateSnapshot, desired skipper.DesiredState) error {
	if snap.Unit == skipper.ProbePresent && snap.UnitEnabled {
		e.record(res, StepRecord{Name: StepRegisterUnit, Status: StepSkipped, Reason: "unit registered and enabled"})
		return nil
	}

	started := time.Now()
	if err := sup.Install(ctx, supervisor.RenderUnit(desired)); err != nil {
		e.record(res, StepRecord{Name: StepRegisterUnit, Status: StepFailed, Reason: err.Error(), Duration: time.Since(started)})
		return err
	}
	if err := sup.Enable(ctx); err != nil {
		e.record(res, StepRecord{Name: StepRegisterUnit, Status: StepFailed, Reason: err.Error(), Duration: time.Since(started)})
		return err
	}
	e.record(res, StepRecord{Name: StepRegisterUnit, Status: StepPerformed, Reason: "installed and enabled unit", Duration: time.Since(started)})
	return nil
}

func (e *Engine) startService(ctx context.Context, res *Result, sup Supervisor, snap discover.StateSnapshot, desired skipper.DesiredState) error {
	if !desired.Run {
		e.record(res, StepRecord{Name: StepStartService, Status: StepSkipped, Reason: "desired state leaves run state untouched"})
		return nil
	}
	if err := e.startPrecondition(res, StepStartService, snap); err != nil {
		return err
	}
	if snap.Service == skipper.ServiceActive {
		e.record(res, StepRecord{Name: StepStartService, Status: StepSkipped, Reason: "service already active"})
		return nil
	}

	started := time.Now()
	if err := sup.Start(ctx); err != nil {
		e.record(res, StepRecord{Name: StepStartService, Status: StepFailed, Reason: err.Error(), Duration: time.Since(started)})
		return err
	}
	if err := sup.WaitForState(ctx, skipper.ServiceActive, e.waitTimeout()); err != nil {
		var supErr *skipper.SupervisorError
		if errors.As(err, &supErr) {
			res.Service = supErr.LastState
		}
		e.record(res, StepRecord{Name: StepStartService, Status: StepFailed, Reason: err.Error(), Duration: time.Since(started)})
		return err
	}
	res.Service = skipper.ServiceActive
	e.record(res, StepRecord{Name: StepStartService, Status: StepPerformed, Reason: "started service", Duration: time.Since(started)})
	return nil
}

func (e *Engine) restartService(ctx context.Context, res *Result, sup Supervisor, snap discover.StateSnapshot, desired skipper.DesiredState) error {
	if err := e.startPrecondition(res, StepRestartService, snap); err != nil {
		return err
	}

	started := time.Now()
	if err := sup.Restart(ctx); err != nil {
		e.record(res, StepRecord{Name: StepRestartService, Status: StepFailed, Reason: err.Error(), Duration: time.Since(started)})
		return err
	}
	if err := sup.WaitForState(ctx, skipper.ServiceActive, e.waitTimeout()); err != nil {
		var supErr *skipper.SupervisorError
		if errors.As(err, &supErr) {
			res.Service = supErr.LastState
		}
		e.record(res, StepRecord{Name: StepRestartService, Status: StepFailed, Reason: err.Error(), Duration: time.Since(started)})
		return err
	}
	res.Service = skipper.ServiceActive
	e.record(res, StepRecord{Name: StepRestartService, Status: StepPerformed, Reason: "restarted service", Duration: time.Since(started)})
	return nil
}

// startPrecondition enforces the unit-start invariant: a unit may only be
// started against a deployment with a built dependency environment and a
// present secret set. Earlier steps establish both; this re-checks them
// against the pass so far.
func (e *Engine) startPrecondition(res *Result, step StepName, snap discover.StateSnapshot) error {
	depsOK := snap.DependencyEnv == skipper.ProbePresent || res.has(StepSyncDependencies)
	secretsOK := snap.Secrets == skipper.ProbePresent || res.has(StepEnsureSecrets)

	var reason string
	switch {
	case !depsOK:
		reason = "dependency environment is not built"
	case !secretsOK:
		reason = "secret set is missing"
	default:
		return nil
	}
	err := &skipper.PreconditionError{Reason: reason + "; refusing to start the service"}
	e.record(res, StepRecord{Name: step, Status: StepFailed, Reason: err.Reason})
	return err
}

// has reports whether the pass reached name without failing it.
func (r Result) has(name StepName) bool {
	for _, step := range r.Steps {
		if step.Name == name {
			return step.Status != StepFailed
		}
	}
	return false
}

func (e *Engine) waitTimeout() time.Duration {
	if e.WaitTimeout > 0 {
		return e.WaitTimeout
	}
	return DefaultWaitTimeout
}

func (e *Engine) record(res *Result, record StepRecord) {
	res.Steps = append(res.Steps, record)
	if e.OnStep != nil {
		e.OnStep(record)
	}
}

// marker extracts the value of a `key=value` outcome line from script
// output, scanning from the end so progress noise ahead of it is ignored.
func marker(out, key string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(strings.TrimSpace(lines[i]), "=")
		if ok && k == key {
			return v
		}
	}
	return ""
}
