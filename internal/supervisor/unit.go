package supervisor

import (
	"fmt"
	"path"
	"strings"

	"skipper"
)

// UnitDir is where rendered unit files are installed on the host.
const UnitDir = "/etc/systemd/system"

// RenderUnit produces the systemd unit file for the desired service. The
// restart policy lives here and only here: the supervisor owns crash
// recovery, the orchestrator never re-implements it.
func RenderUnit(d skipper.DesiredState) string {
	interpreter := d.Interpreter
	if !path.IsAbs(interpreter) {
		interpreter = path.Join(d.DeployRoot, interpreter)
	}
	execStart := interpreter + " " + path.Join(d.DeployRoot, d.EntryPoint)

	restart := "no"
	if d.Restart.Always {
		restart = "always"
	}
	restartSec := d.Restart.BackoffSeconds
	if restartSec <= 0 {
		restartSec = 5
	}

	var b strings.Builder
	b.WriteString("[Unit]\n")
	fmt.Fprintf(&b, "Description=%s (managed by skipper)\n", d.ServiceName)
	b.WriteString("After=network-online.target\n")
	b.WriteString("Wants=network-online.target\n")
	b.WriteString("\n[Service]\n")
	b.WriteString("Type=simple\n")
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", d.DeployRoot)
	fmt.Fprintf(&b, "EnvironmentFile=%s\n", d.SecretsPath())
	fmt.Fprintf(&b, "ExecStart=%s\n", execStart)
	fmt.Fprintf(&b, "Restart=%s\n", restart)
	fmt.Fprintf(&b, "RestartSec=%d\n", restartSec)
	b.WriteString("StandardOutput=journal\n")
	b.WriteString("StandardError=journal\n")
	b.WriteString("\n[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")
	return b.String()
}
