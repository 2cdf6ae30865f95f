// Command skipper converges a single remote host onto a desired
// deployment of the supervised chatbot service: provision for the first
// deploy, update for every one after that.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"skipper"
	"skipper/cmd/skipper/ui"
	"skipper/internal/logging"
)

// Exit codes distinguish the error kinds an operator reacts to
// differently: preconditions are fixed locally, transport failures mean
// re-run after restoring connectivity, remote command and supervisor
// failures need investigation on the host.
const (
	exitOK           = 0
	exitFailure      = 1
	exitPrecondition = 2
	exitTransport    = 3
	exitRemote       = 4
	exitSupervisor   = 5
)

type globalOpts struct {
	configPath string
	debug      bool
}

func main() {
	g := &globalOpts{}

	root := &cobra.Command{
		Use:           "skipper",
		Short:         "Single-host deployment orchestrator",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if g.debug {
				level = logging.LevelDebug
			}
			if err := logging.Configure(level); err != nil {
				return err
			}
			ui.Configure()
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file path (default: XDG config dir)")

	root.AddCommand(provisionCmd(g))
	root.AddCommand(updateCmd(g))
	root.AddCommand(statusCmd(g))
	root.AddCommand(logsCmd(g))
	root.AddCommand(historyCmd(g))
	root.AddCommand(doctorCmd(g))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var (
		preconditionErr *skipper.PreconditionError
		transportErr    *skipper.TransportError
		remoteErr       *skipper.RemoteCommandError
		supervisorErr   *skipper.SupervisorError
	)
	switch {
	case errors.As(err, &preconditionErr):
		return exitPrecondition
	case errors.As(err, &transportErr):
		return exitTransport
	case errors.As(err, &remoteErr):
		return exitRemote
	case errors.As(err, &supervisorErr):
		return exitSupervisor
	default:
		return exitFailure
	}
}
