package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"skipper/internal/remote"
	"skipper/internal/supervisor"
)

func logsCmd(g *globalOpts) *cobra.Command {
	flags := &deployFlags{}
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs <user@host>",
		Short: "Tail the service journal on the host",
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
			if follow {
				var cancel func()
				ctx, cancel = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer cancel()
			}

			ch, err := remote.Dial(ctx, host, remoteOptions(cfg))
			if err != nil {
				return err
			}
			defer ch.Close()

			return supervisor.New(ch, cfg.ServiceName).TailLogs(ctx, lines, follow, os.Stdout)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of journal lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines until interrupted")
	return cmd
}
