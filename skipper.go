// Package skipper holds the shared domain types for the single-host
// deployment orchestrator: the target host, the desired deployment state,
// and the discovery/service state enums used across components.
package skipper

import (
	"fmt"
	"strings"
)

// Reachability is the result of a host connectivity probe.
type Reachability uint8

const (
	ReachabilityUnknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Host is a deployment target. It lives for the duration of one
// orchestration run and is never persisted.
type Host struct {
	// Address is user@host or user@host:port.
	Address string
	// KeyPath is the local SSH private key used to authenticate.
	KeyPath string
	// Reachability is mutated only by reachability probes.
	Reachability Reachability
}

// User splits the user part from the address. Empty when no user is given.
func (h Host) User() string {
	if i := strings.Index(h.Address, "@"); i >= 0 {
		return h.Address[:i]
	}
	return ""
}

// Addr returns the host[:port] part of the address.
func (h Host) Addr() string {
	if i := strings.Index(h.Address, "@"); i >= 0 {
		return h.Address[i+1:]
	}
	return h.Address
}

// Probe is the tri-state outcome of a single discovery check. Discovery
// never fails as a whole: a probe that cannot run reports ProbeUnknown.
type Probe uint8

const (
	ProbeUnknown Probe = iota
	ProbeAbsent
	ProbePresent
)

func (p Probe) String() string {
	switch p {
	case ProbeAbsent:
		return "absent"
	case ProbePresent:
		return "present"
	default:
		return "unknown"
	}
}

// Known reports whether the probe actually ran.
func (p Probe) Known() bool { return p != ProbeUnknown }

// ServiceState is the supervisor-visible state of the managed unit.
type ServiceState uint8

const (
	ServiceUnknown ServiceState = iota
	ServiceAbsent
	ServiceInactive
	ServiceActive
	ServiceFailed
)

func (s ServiceState) String() string {
	switch s {
	case ServiceAbsent:
		return "absent"
	case ServiceInactive:
		return "inactive"
	case ServiceActive:
		return "active"
	case ServiceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseServiceState maps systemd ActiveState/LoadState values onto the
// orchestrator's service states. A unit whose LoadState is "not-found" is
// absent regardless of ActiveState.
func ParseServiceState(loadState, activeState string) ServiceState {
	if strings.TrimSpace(loadState) == "not-found" {
		return ServiceAbsent
	}
	switch strings.TrimSpace(activeState) {
	case "active", "activating", "reloading":
		return ServiceActive
	case "inactive", "deactivating":
		return ServiceInactive
	case "failed":
		return ServiceFailed
	default:
		return ServiceUnknown
	}
}

// RestartPolicy declares how the supervisor restarts the process after a
// crash. The policy is written into the unit file; the orchestrator never
// re-implements it.
type RestartPolicy struct {
	// Always restarts the process regardless of exit status.
	Always bool
	// BackoffSeconds is the fixed delay between restarts.
	BackoffSeconds int
}

// DesiredState is the static descriptor convergence drives toward.
type DesiredState struct {
	// RepoURL is the version-control source location.
	RepoURL string
	// Revision is a branch or tag reference.
	Revision string
	// DeployRoot is the checkout directory on the host.
	DeployRoot string
	// ServiceName is the systemd unit name, without the .service suffix.
	ServiceName string
	// Interpreter runs the entry point (for example ".venv/bin/python").
	// Relative paths are resolved against DeployRoot.
	Interpreter string
	// EntryPoint is the script started by the unit, relative to DeployRoot.
	EntryPoint string
	// SecretKeys are the variables the secret-set placeholder must carry.
	SecretKeys []string
	// Restart is the declared supervisor restart policy.
	Restart RestartPolicy
	// Run controls whether convergence starts the unit. When false the
	// current run state is left untouched.
	Run bool
}

// Validate reports the first missing required field.
func (d DesiredState) Validate() error {
	switch {
	case strings.TrimSpace(d.RepoURL) == "":
		return fmt.Errorf("desired state: repo URL is required")
	case strings.TrimSpace(d.Revision) == "":
		return fmt.Errorf("desired state: revision is required")
	case strings.TrimSpace(d.DeployRoot) == "":
		return fmt.Errorf("desired state: deploy root is required")
	case strings.TrimSpace(d.ServiceName) == "":
		return fmt.Errorf("desired state: service name is required")
	case strings.TrimSpace(d.EntryPoint) == "":
		return fmt.Errorf("desired state: entry point is required")
	}
	return nil
}

// SecretsPath is the secret-set file location under the deploy root.
func (d DesiredState) SecretsPath() string {
	return strings.TrimRight(d.DeployRoot, "/") + "/.env"
}
