package converge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"skipper"
)

// StepName identifies one convergence step. Steps always execute in
// declaration order; later steps depend on earlier ones.
type StepName uint8

const (
	StepEnsureCredential StepName = iota + 1
	StepEnsureReachable
	StepSyncSource
	StepSyncDependencies
	StepEnsureSecrets
	StepRegisterUnit
	StepStartService
	StepRestartService
)

func (n StepName) String() string {
	switch n {
	case StepEnsureCredential:
		return "ensure-credential"
	case StepEnsureReachable:
		return "ensure-reachable"
	case StepSyncSource:
		return "sync-source"
	case StepSyncDependencies:
		return "sync-dependencies"
	case StepEnsureSecrets:
		return "ensure-secrets"
	case StepRegisterUnit:
		return "register-unit"
	case StepStartService:
		return "start-service"
	case StepRestartService:
		return "restart-service"
	default:
		return "unknown"
	}
}

func (n StepName) IsValid() bool {
	return n >= StepEnsureCredential && n <= StepRestartService
}

func (n StepName) MarshalJSON() ([]byte, error) {
	if !n.IsValid() {
		return nil, fmt.Errorf("invalid step name: %d", n)
	}
	return json.Marshal(n.String())
}

func (n *StepName) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := ParseStepName(raw)
	if !ok {
		return fmt.Errorf("invalid step name: %q", raw)
	}
	*n = parsed
	return nil
}

func ParseStepName(raw string) (StepName, bool) {
	switch strings.TrimSpace(raw) {
	case "ensure-credential":
		return StepEnsureCredential, true
	case "ensure-reachable":
		return StepEnsureReachable, true
	case "sync-source":
		return StepSyncSource, true
	case "sync-dependencies":
		return StepSyncDependencies, true
	case "ensure-secrets":
		return StepEnsureSecrets, true
	case "register-unit":
		return StepRegisterUnit, true
	case "start-service":
		return StepStartService, true
	case "restart-service":
		return StepRestartService, true
	default:
		return 0, false
	}
}

// StepStatus is the recorded outcome of one step.
type StepStatus uint8

const (
	StepPerformed StepStatus = iota + 1
	StepSkipped
	StepFailed
)

func (s StepStatus) String() string {
	switch s {
	case StepPerformed:
		return "performed"
	case StepSkipped:
		return "skipped"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s StepStatus) IsValid() bool {
	return s >= StepPerformed && s <= StepFailed
}

func (s StepStatus) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid step status: %d", s)
	}
	return json.Marshal(s.String())
}

func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := ParseStepStatus(raw)
	if !ok {
		return fmt.Errorf("invalid step status: %q", raw)
	}
	*s = parsed
	return nil
}

func ParseStepStatus(raw string) (StepStatus, bool) {
	switch strings.TrimSpace(raw) {
	case "performed":
		return StepPerformed, true
	case "skipped":
		return StepSkipped, true
	case "failed":
		return StepFailed, true
	default:
		return 0, false
	}
}

// StepRecord is one executed (or skipped) step in a result.
type StepRecord struct {
	Name     StepName      `json:"name"`
	Status   StepStatus    `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Result is the outcome of one convergence pass. Steps lists every step
// reached, in order; a failed pass preserves the records of everything
// completed before the failure so re-invocation is informed, not blind.
type Result struct {
	Operation string       `json:"operation"`
	Steps     []StepRecord `json:"steps"`
	// Service is the last known state of the unit when the pass ended.
	Service skipper.ServiceState `json:"-"`
}

// Failed returns the failing step record, if any.
func (r Result) Failed() (StepRecord, bool) {
	for _, step := range r.Steps {
		if step.Status == StepFailed {
			return step, true
		}
	}
	return StepRecord{}, false
}

// AllSkipped reports whether the pass was a pure no-op: nothing performed,
// nothing failed. A second convergence of an already-converged host must
// look like this.
func (r Result) AllSkipped() bool {
	for _, step := range r.Steps {
		if step.Status != StepSkipped {
			return false
		}
	}
	return len(r.Steps) > 0
}

// Performed lists the names of the steps that did work.
func (r Result) Performed() []StepName {
	var out []StepName
	for _, step := range r.Steps {
		if step.Status == StepPerformed {
			out = append(out, step.Name)
		}
	}
	return out
}
