package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"skipper/cmd/skipper/ui"
	"skipper/internal/history"
)

func historyCmd(g *globalOpts) *cobra.Command {
	var limit int
	var showSteps bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent provision and update runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, nil)
			if err != nil {
				return err
			}

			store, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println(ui.Muted("no recorded runs"))
				return nil
			}

			for _, run := range runs {
				fmt.Printf("%s  %-9s %-10s %s  %s\n",
					ui.Muted(run.StartedAt.Local().Format("2006-01-02 15:04:05")),
					run.Operation,
					statusText(run.Status),
					ui.Bold(run.Host),
					ui.Muted(run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()),
				)
				if showSteps {
					for _, step := range run.Steps {
						fmt.Println("    " + stepLine(step))
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	cmd.Flags().BoolVar(&showSteps, "steps", false, "Show per-step records for each run")
	return cmd
}

func statusText(status string) string {
	switch status {
	case "converged":
		return ui.Success(status)
	case "no-op":
		return ui.Muted(status)
	default:
		return ui.Warn(status)
	}
}
