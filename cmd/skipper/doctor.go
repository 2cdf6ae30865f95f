package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"skipper"
	"skipper/cmd/skipper/ui"
	"skipper/internal/discover"
	"skipper/internal/remote"
	"skipper/internal/secrets"
)

func doctorCmd(g *globalOpts) *cobra.Command {
	flags := &deployFlags{}
	var ntpPool string

	cmd := &cobra.Command{
		Use:   "doctor [user@host]",
		Short: "Check local and remote prerequisites, read-only",
		Long: `Doctor verifies the prerequisites a convergence pass depends on without
changing anything: the desired-state config, the local SSH key and its
permissions, the local clock, and (when a target is given) reachability
and the remote tool set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, flags)
			if err != nil {
				return err
			}

			healthy := true
			report := func(ok bool, format string, a ...any) {
				if ok {
					fmt.Println(ui.SuccessMsg(format, a...))
					return
				}
				healthy = false
				fmt.Println(ui.ErrorMsg(format, a...))
			}

			desired := cfg.Desired(false)
			if err := desired.Validate(); err != nil {
				report(false, "config: %v", err)
			} else {
				report(true, "config: complete (%s @ %s)", desired.RepoURL, desired.Revision)
			}

			host := skipper.Host{KeyPath: cfg.SSH.KeyPath}
			if len(args) == 1 {
				host, err = targetHost(args[0], cfg)
				if err != nil {
					return err
				}
			}

			local := discover.Local(host)
			switch {
			case host.KeyPath == "":
				report(false, "ssh key: no key path configured")
			case local.Credential != skipper.ProbePresent:
				report(false, "ssh key: %s is %s", host.KeyPath, local.Credential)
			case !local.CredentialSecure:
				report(false, "ssh key: %s permissions are too open (want owner-only)", host.KeyPath)
			default:
				report(true, "ssh key: %s", host.KeyPath)
			}

			clock := discover.CheckClock(ntpPool)
			switch {
			case clock.Error != "":
				fmt.Println(ui.WarnMsg("clock: check failed (%s)", clock.Error))
			case !clock.Healthy:
				report(false, "clock: skewed by %s (breaks TLS and git over HTTPS)", clock.Offset.Round(time.Millisecond))
			default:
				report(true, "clock: offset %s", clock.Offset.Round(time.Millisecond))
			}

			if len(args) == 1 {
				ctx := cmd.Context()
				opts := remoteOptions(cfg)

				reach := remote.Probe(ctx, host, opts, opts.Timeout)
				report(reach == skipper.Reachable, "host: %s is %s", host.Addr(), reach)

				if reach == skipper.Reachable {
					ch, err := remote.Dial(ctx, host, opts)
					if err != nil {
						report(false, "channel: %v", err)
					} else {
						defer ch.Close()
						if _, err := ch.RunScript(ctx, "preflight", remote.PreflightScript()); err != nil {
							report(false, "remote tools: %v", err)
						} else {
							report(true, "remote tools: git, python3, systemctl, journalctl present")
						}
						checkSecrets(ctx, ch, desired, report)
					}
				}
			}

			if !healthy {
				return fmt.Errorf("doctor found problems; fix the items above and re-run")
			}
			fmt.Println(ui.InfoMsg("all checks passed"))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&ntpPool, "ntp-pool", "", "NTP pool for the clock check (default pool.ntp.org)")
	return cmd
}

// checkSecrets inspects the remote secret set for placeholder or missing
// keys. It reads, never writes.
func checkSecrets(ctx context.Context, ch remote.Channel, desired skipper.DesiredState, report func(bool, string, ...any)) {
	path := desired.SecretsPath()
	out, err := ch.RunScript(ctx, "read-secrets", "cat "+remote.ShellQuote(path)+" 2>/dev/null || true\n")
	if err != nil {
		fmt.Println(ui.WarnMsg("secrets: could not read %s (%v)", path, err))
		return
	}
	if strings.TrimSpace(out) == "" {
		fmt.Println(ui.WarnMsg("secrets: %s not present yet (provision writes a placeholder)", path))
		return
	}

	set, err := secrets.Parse(strings.NewReader(out))
	if err != nil {
		report(false, "secrets: %s is malformed: %v", path, err)
		return
	}
	if placeholders := set.Placeholders(); len(placeholders) > 0 {
		report(false, "secrets: placeholder values not replaced: %s", strings.Join(placeholders, ", "))
		return
	}
	if missing := set.Missing(desired.SecretKeys); len(missing) > 0 {
		report(false, "secrets: keys missing from %s: %s", path, strings.Join(missing, ", "))
		return
	}
	report(true, "secrets: all %d keys set", len(desired.SecretKeys))
}
