// Package discover inspects local credential material, host reachability,
// and the remote deployment without mutating anything. Every probe is
// independent: one that cannot run leaves its snapshot fields unknown
// instead of aborting the rest.
package discover

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"skipper"
	"skipper/internal/remote"
)

// StateSnapshot is the discovered state convergence works from.
type StateSnapshot struct {
	// Credential reports the local SSH key file.
	Credential skipper.Probe
	// CredentialSecure is true when the key file mode is owner-only.
	// Meaningful only when Credential is present.
	CredentialSecure bool

	Reachability skipper.Reachability

	// Deployment reports the checkout at the deploy root.
	Deployment skipper.Probe
	// Revision is the checked-out commit, "" when unknown.
	Revision string
	// Dirty reports uncommitted changes in the working tree. Meaningful
	// only when Deployment is present.
	Dirty bool

	// DependencyEnv reports the built virtualenv.
	DependencyEnv skipper.Probe
	// ManifestHash is the current hash of the dependency manifest.
	ManifestHash string
	// Fingerprint is the manifest hash recorded at the last dependency
	// sync. Dependencies are stale when it differs from ManifestHash.
	Fingerprint string

	// Secrets reports the secret-set file at the deploy root.
	Secrets skipper.Probe

	// Unit reports registration of the service unit with the supervisor.
	Unit skipper.Probe
	// UnitEnabled is true when the unit starts on boot. Meaningful only
	// when Unit is present.
	UnitEnabled bool
	Service     skipper.ServiceState
}

// DependenciesStale reports whether the dependency environment needs a
// rebuild: the env is missing, nothing was ever recorded, or the manifest
// changed since the last sync.
func (s StateSnapshot) DependenciesStale() bool {
	if s.DependencyEnv != skipper.ProbePresent {
		return true
	}
	if s.Fingerprint == "" || s.ManifestHash == "" {
		return true
	}
	return s.Fingerprint != s.ManifestHash
}

// Discover produces a full snapshot for host. Safe to call repeatedly and
// concurrently; it issues only read-only probes. Remote fields stay
// unknown when the host is unreachable or the channel cannot be opened.
func Discover(ctx context.Context, host skipper.Host, desired skipper.DesiredState, opts remote.Options) StateSnapshot {
	snap := Local(host)

	snap.Reachability = remote.Probe(ctx, host, opts, opts.Timeout)
	if snap.Reachability != skipper.Reachable {
		return snap
	}

	ch, err := remote.Dial(ctx, host, opts)
	if err != nil {
		slog.Debug("discovery channel unavailable, remote fields stay unknown", "host", host.Addr(), "err", err)
		return snap
	}
	defer ch.Close()

	return Inspect(ctx, ch, snap, desired)
}

// Local runs the probes that never leave this machine.
func Local(host skipper.Host) StateSnapshot {
	snap := StateSnapshot{Service: skipper.ServiceUnknown}

	info, err := os.Stat(host.KeyPath)
	switch {
	case host.KeyPath == "" || os.IsNotExist(err):
		snap.Credential = skipper.ProbeAbsent
	case err != nil:
		snap.Credential = skipper.ProbeUnknown
	default:
		snap.Credential = skipper.ProbePresent
		snap.CredentialSecure = info.Mode().Perm()&0o077 == 0
	}
	return snap
}

// Inspect fills the remote fields of snap over an open channel.
func Inspect(ctx context.Context, ch remote.Channel, snap StateSnapshot, desired skipper.DesiredState) StateSnapshot {
	out, err := ch.RunScript(ctx, "inspect", remote.InspectScript(desired.DeployRoot, desired.ServiceName))
	if err != nil {
		slog.Debug("remote inspect failed, remote fields stay unknown", "err", err)
		return snap
	}
	applyInspect(&snap, out)
	return snap
}

// applyInspect parses the key=value lines the inspect script emits.
// Unrecognized keys are ignored so newer scripts stay compatible.
func applyInspect(snap *StateSnapshot, out string) {
	fields := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}

	snap.Deployment = presenceProbe(fields["deployment"])
	if rev := fields["revision"]; rev != "" && rev != "unknown" {
		snap.Revision = rev
	}
	snap.Dirty = fields["dirty"] == "true"
	snap.DependencyEnv = presenceProbe(fields["venv"])
	snap.ManifestHash = fields["manifest"]
	snap.Fingerprint = fields["fingerprint"]
	snap.Secrets = presenceProbe(fields["secrets"])

	load := fields["unit_load"]
	active := fields["unit_active"]
	switch load {
	case "":
		snap.Unit = skipper.ProbeUnknown
	case "not-found":
		snap.Unit = skipper.ProbeAbsent
	default:
		snap.Unit = skipper.ProbePresent
	}
	snap.UnitEnabled = fields["unit_enabled"] == "enabled"
	snap.Service = skipper.ParseServiceState(load, active)
}

func presenceProbe(value string) skipper.Probe {
	switch value {
	case "present":
		return skipper.ProbePresent
	case "absent":
		return skipper.ProbeAbsent
	default:
		return skipper.ProbeUnknown
	}
}
