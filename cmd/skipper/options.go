package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"skipper"
	"skipper/cmd/skipper/ui"
	"skipper/config"
	"skipper/internal/converge"
	"skipper/internal/history"
	"skipper/internal/remote"
)

// deployFlags are the per-command overrides layered on top of the config
// file and the environment.
type deployFlags struct {
	repo     string
	revision string
	root     string
	service  string
	sshKey   string
	sshPort  int
	timeout  time.Duration
}

func (f *deployFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.repo, "repo", "", "Source repository URL")
	cmd.Flags().StringVar(&f.revision, "revision", "", "Branch or tag to deploy")
	cmd.Flags().StringVar(&f.root, "root", "", "Deploy root on the host")
	cmd.Flags().StringVar(&f.service, "service", "", "Service unit name")
	cmd.Flags().StringVar(&f.sshKey, "ssh-key", "", "SSH private key path")
	cmd.Flags().IntVar(&f.sshPort, "ssh-port", 0, "SSH port")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Connect timeout")
}

// loadConfig resolves the effective config: file first, then environment,
// then flags. Last writer wins.
func loadConfig(g *globalOpts, f *deployFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if f != nil {
		if f.repo != "" {
			cfg.RepoURL = f.repo
		}
		if f.revision != "" {
			cfg.Revision = f.revision
		}
		if f.root != "" {
			cfg.DeployRoot = f.root
		}
		if f.service != "" {
			cfg.ServiceName = f.service
		}
		if f.sshKey != "" {
			cfg.SSH.KeyPath = f.sshKey
		}
		if f.sshPort > 0 {
			cfg.SSH.Port = f.sshPort
		}
		if f.timeout > 0 {
			cfg.SSH.Timeout = f.timeout
		}
	}
	return cfg, nil
}

func remoteOptions(cfg *config.Config) remote.Options {
	return remote.Options{
		Port:                     cfg.SSH.Port,
		KeyPath:                  cfg.SSH.KeyPath,
		KnownHostsPath:           cfg.SSH.KnownHostsPath,
		InsecureSkipHostKeyCheck: cfg.SSH.InsecureSkipHostKeyCheck,
		Timeout:                  cfg.SSH.Timeout,
	}
}

func targetHost(arg string, cfg *config.Config) (skipper.Host, error) {
	address := strings.TrimSpace(arg)
	if address == "" {
		return skipper.Host{}, fmt.Errorf("target is required (user@host)")
	}
	return skipper.Host{Address: address, KeyPath: cfg.SSH.KeyPath}, nil
}

// newEngine wires a convergence engine whose channel dials host lazily,
// after the engine's local gates pass.
func newEngine(host skipper.Host, opts remote.Options) *converge.Engine {
	return &converge.Engine{
		Dial: func(ctx context.Context) (converge.Conn, error) {
			ch, err := remote.Dial(ctx, host, opts)
			if err != nil {
				return nil, err
			}
			return ch, nil
		},
		OnStep: func(record converge.StepRecord) {
			fmt.Println(stepLine(record))
		},
	}
}

func stepLine(record converge.StepRecord) string {
	name := record.Name.String()
	switch record.Status {
	case converge.StepPerformed:
		return ui.SuccessMsg("%-18s %s", name, record.Reason)
	case converge.StepSkipped:
		return "  " + ui.Muted(fmt.Sprintf("%-18s %s", name, record.Reason))
	default:
		return ui.ErrorMsg("%-18s %s", name, record.Reason)
	}
}

// recordRun appends the pass to the local history, best-effort: a history
// failure is logged, never surfaced as a run failure.
func recordRun(cfg *config.Config, host skipper.Host, res converge.Result, runErr error, startedAt time.Time) {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		slog.Warn("history unavailable, run not recorded", "err", err)
		return
	}
	defer store.Close()

	err = store.Record(history.Run{
		Host:       host.Address,
		Operation:  res.Operation,
		Status:     history.StatusFor(res, runErr),
		Steps:      res.Steps,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("run not recorded", "err", err)
	}
}

func summarize(res converge.Result, err error) {
	switch {
	case err != nil:
		fmt.Println(ui.WarnMsg("%s halted; completed steps are preserved, re-run after fixing the cause", res.Operation))
	case res.AllSkipped():
		fmt.Println(ui.SuccessMsg("%s: host already converged (all steps no-op)", res.Operation))
	default:
		fmt.Println(ui.SuccessMsg("%s complete, service %s", res.Operation, res.Service))
	}
}
