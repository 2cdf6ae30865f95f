package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"skipper/cmd/skipper/ui"
	"skipper/internal/discover"
)

func provisionCmd(g *globalOpts) *cobra.Command {
	flags := &deployFlags{}
	var noStart bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "provision <user@host>",
		Short: "Converge a host onto the full desired deployment",
		Long: `Provision converges the target host onto the desired deployment state:
source checkout, dependency environment, secret set, service unit, and a
running service. Every step is a no-op when already satisfied, so
provisioning an already-converged host changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, flags)
			if err != nil {
				return err
			}
			host, err := targetHost(args[0], cfg)
			if err != nil {
				return err
			}

			desired := cfg.Desired(!noStart)
			if err := desired.Validate(); err != nil {
				return err
			}

			fmt.Println(ui.InfoMsg("provisioning %s", ui.Bold(host.Address)))
			fmt.Print(ui.KeyValues("  ",
				ui.KV("repo", desired.RepoURL),
				ui.KV("revision", desired.Revision),
				ui.KV("root", desired.DeployRoot),
				ui.KV("service", desired.ServiceName),
			))

			if !yes && !ui.Confirm("Proceed?") {
				fmt.Println(ui.WarnMsg("aborted (pass --yes to skip the prompt)"))
				return nil
			}

			ctx := cmd.Context()
			opts := remoteOptions(cfg)
			snap := discover.Discover(ctx, host, desired, opts)

			started := time.Now()
			engine := newEngine(host, opts)
			res, runErr := engine.Converge(ctx, snap, desired)
			recordRun(cfg, host, res, runErr, started)
			if runErr != nil {
				summarize(res, runErr)
				return runErr
			}
			summarize(res, nil)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&noStart, "no-start", false, "Converge everything except the service run state")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	return cmd
}
