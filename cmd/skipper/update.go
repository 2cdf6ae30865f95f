package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"skipper/cmd/skipper/ui"
	"skipper/internal/discover"
)

func updateCmd(g *globalOpts) *cobra.Command {
	flags := &deployFlags{}

	cmd := &cobra.Command{
		Use:   "update <user@host>",
		Short: "Sync source and dependencies, then restart the service",
		Long: `Update runs the restricted pass for a provisioned host: sync the
checkout to the target revision, sync dependencies when the manifest
changed, refresh the unit, and restart the service. The restart is
unconditional so an update always lands in a freshly started process.`,
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

			desired := cfg.Desired(true)
			if err := desired.Validate(); err != nil {
				return err
			}

			fmt.Println(ui.InfoMsg("updating %s to %s", ui.Bold(host.Address), ui.Accent(desired.Revision)))

			ctx := cmd.Context()
			opts := remoteOptions(cfg)
			snap := discover.Discover(ctx, host, desired, opts)

			started := time.Now()
			engine := newEngine(host, opts)
			res, runErr := engine.Update(ctx, snap, desired)
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
	return cmd
}
