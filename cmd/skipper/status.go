package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"skipper"
	"skipper/cmd/skipper/ui"
	"skipper/internal/discover"
	"skipper/internal/remote"
	"skipper/internal/supervisor"
)

func statusCmd(g *globalOpts) *cobra.Command {
	flags := &deployFlags{}

	cmd := &cobra.Command{
		Use:   "status <user@host>",
		Short: "Show the discovered deployment state, read-only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, flags)
			if err != nil {
				return err
			}
			host, err := targetHost(args[0], cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			desired := cfg.Desired(false)
			opts := remoteOptions(cfg)
			snap := discover.Discover(ctx, host, desired, opts)

			fmt.Println(ui.InfoMsg("state of %s", ui.Bold(host.Address)))
			fmt.Print(ui.KeyValues("  ",
				ui.KV("credential", credentialLine(snap)),
				ui.KV("reachability", reachabilityLine(snap.Reachability)),
			))

			if snap.Reachability != skipper.Reachable {
				fmt.Println(ui.WarnMsg("host not reachable; remote state unknown"))
				return nil
			}

			pairs := []ui.Pair{
				ui.KV("deployment", probeLine(snap.Deployment)),
				ui.KV("revision", valueOrDash(snap.Revision)),
				ui.KV("dependencies", dependencyLine(snap)),
				ui.KV("secrets", probeLine(snap.Secrets)),
				ui.KV("unit", unitLine(snap)),
				ui.KV("service", serviceLine(snap.Service)),
			}
			if snap.Dirty {
				pairs = append(pairs, ui.KV("working tree", ui.Warn("dirty (local changes on host)")))
			}
			fmt.Print(ui.KeyValues("  ", pairs...))

			// A live channel gives richer detail than the inspect probe.
			ch, err := remote.Dial(ctx, host, opts)
			if err != nil {
				return nil
			}
			defer ch.Close()

			status, err := supervisor.New(ch, desired.ServiceName).Status(ctx)
			if err == nil && status.State != skipper.ServiceAbsent {
				fmt.Print(ui.KeyValues("  ",
					ui.KV("unit state", status.String()),
					ui.KV("main pid", valueOrDash(pidLine(status.MainPID))),
				))
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func credentialLine(snap discover.StateSnapshot) string {
	if snap.Credential != skipper.ProbePresent {
		return ui.Warn(snap.Credential.String())
	}
	if !snap.CredentialSecure {
		return ui.Warn("present, permissions too open")
	}
	return ui.Success("present")
}

func reachabilityLine(r skipper.Reachability) string {
	if r == skipper.Reachable {
		return ui.Success(r.String())
	}
	return ui.Warn(r.String())
}

func probeLine(p skipper.Probe) string {
	switch p {
	case skipper.ProbePresent:
		return ui.Success(p.String())
	case skipper.ProbeAbsent:
		return ui.Warn(p.String())
	default:
		return ui.Muted(p.String())
	}
}

func dependencyLine(snap discover.StateSnapshot) string {
	if snap.DependencyEnv != skipper.ProbePresent {
		return probeLine(snap.DependencyEnv)
	}
	if snap.DependenciesStale() {
		return ui.Warn("stale (manifest changed since last sync)")
	}
	return ui.Success("present, fingerprint matches")
}

func unitLine(snap discover.StateSnapshot) string {
	if snap.Unit != skipper.ProbePresent {
		return probeLine(snap.Unit)
	}
	if snap.UnitEnabled {
		return ui.Success("registered, enabled")
	}
	return ui.Warn("registered, not enabled")
}

func serviceLine(s skipper.ServiceState) string {
	switch s {
	case skipper.ServiceActive:
		return ui.Success(s.String())
	case skipper.ServiceFailed:
		return ui.Warn(s.String())
	default:
		return ui.Muted(s.String())
	}
}

func pidLine(pid int) string {
	if pid <= 0 {
		return ""
	}
	return strconv.Itoa(pid)
}

func valueOrDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return ui.Muted("-")
	}
	return v
}
