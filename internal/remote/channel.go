// Package remote is the execution channel to the target host. It runs
// opaque script blobs over SSH, streams their output, and separates
// transport failures from remote command failures so callers can decide
// what is retryable.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"skipper"
)

// stderrTailLimit bounds the stderr carried inside a RemoteCommandError.
const stderrTailLimit = 2048

// Channel executes commands on the target host. Implementations must
// return *skipper.TransportError when the channel itself fails and
// *skipper.RemoteCommandError when the remote command exits non-zero.
type Channel interface {
	// RunScript feeds script to a remote shell as an opaque blob and
	// returns trimmed combined stdout. op names the operation for error
	// reporting only.
	RunScript(ctx context.Context, op, script string) (string, error)
	// StreamScript is RunScript with incremental output, for long-running
	// provisioning steps whose progress the operator watches live.
	StreamScript(ctx context.Context, op, script string, stdout, stderr io.Writer) error
}

// Options configure the SSH channel.
type Options struct {
	Port           int
	KeyPath        string
	Passphrase     []byte
	KnownHostsPath string
	// InsecureSkipHostKeyCheck disables known_hosts verification.
	InsecureSkipHostKeyCheck bool
	// Timeout bounds the TCP dial and the SSH handshake.
	Timeout time.Duration
}

// SSHChannel runs scripts on one host over SSH. Each script gets its own
// session on a shared client connection.
type SSHChannel struct {
	host   skipper.Host
	opts   Options
	client *ssh.Client
}

// Dial opens the channel to host. Dial, handshake, and authentication
// failures are transport errors.
func Dial(ctx context.Context, host skipper.Host, opts Options) (*SSHChannel, error) {
	cfg, err := clientConfig(host, opts)
	if err != nil {
		return nil, &skipper.TransportError{Op: "configure", Err: err}
	}

	address := dialAddress(host, opts)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &skipper.TransportError{Op: "dial " + address, Err: err}
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, cfg)
	if err != nil {
		conn.Close()
		return nil, &skipper.TransportError{Op: "handshake " + address, Err: err}
	}

	return &SSHChannel{
		host:   host,
		opts:   opts,
		client: ssh.NewClient(clientConn, chans, reqs),
	}, nil
}

// Close tears down the client connection.
func (c *SSHChannel) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// RunScript implements Channel.
func (c *SSHChannel) RunScript(ctx context.Context, op, script string) (string, error) {
	var stdout, stderr bytes.Buffer
	if err := c.StreamScript(ctx, op, script, &stdout, &stderr); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// StreamScript implements Channel. The script travels over session stdin
// to `sh -s`, so no argument quoting happens on the remote side.
func (c *SSHChannel) StreamScript(ctx context.Context, op, script string, stdout, stderr io.Writer) error {
	session, err := c.client.NewSession()
	if err != nil {
		return &skipper.TransportError{Op: op, Err: err}
	}
	defer session.Close()

	var stderrTail bytes.Buffer
	session.Stdin = strings.NewReader(script)
	session.Stdout = stdout
	if stderr != nil {
		session.Stderr = io.MultiWriter(stderr, capWriter(&stderrTail))
	} else {
		session.Stderr = capWriter(&stderrTail)
	}

	if err := session.Start("sh -s"); err != nil {
		return &skipper.TransportError{Op: op, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		// Closing the session unblocks Wait; the run is abandoned.
		session.Close()
		<-done
		return &skipper.TransportError{Op: op, Err: ctx.Err()}
	case err = <-done:
	}
	if err == nil {
		return nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &skipper.RemoteCommandError{
			Op:       op,
			ExitCode: exitErr.ExitStatus(),
			Stderr:   strings.TrimSpace(stderrTail.String()),
		}
	}
	// ExitMissingError and everything else means the channel broke before
	// the exit status arrived.
	return &skipper.TransportError{Op: op, Err: err}
}

// Probe checks TCP reachability of the host's SSH port within timeout.
// It never retries; a failed probe is reported, not resolved.
func Probe(ctx context.Context, host skipper.Host, opts Options, timeout time.Duration) skipper.Reachability {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", dialAddress(host, opts))
	if err != nil {
		return skipper.Unreachable
	}
	conn.Close()
	return skipper.Reachable
}

func dialAddress(host skipper.Host, opts Options) string {
	addr := host.Addr()
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	port := opts.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

func clientConfig(host skipper.Host, opts Options) (*ssh.ClientConfig, error) {
	user := host.User()
	if user == "" {
		return nil, fmt.Errorf("ssh user is required (use user@host)")
	}

	signer, err := loadSigner(host.KeyPath, opts.Passphrase)
	if err != nil {
		return nil, err
	}

	var hostKeyCallback ssh.HostKeyCallback
	if opts.InsecureSkipHostKeyCheck {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		hostKeyCallback, err = knownHostsCallback(opts.KnownHostsPath)
		if err != nil {
			return nil, err
		}
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         opts.Timeout,
	}, nil
}

func loadSigner(keyPath string, passphrase []byte) (ssh.Signer, error) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, fmt.Errorf("ssh key path is required")
	}
	privateKey, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	if len(passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func knownHostsCallback(path string) (ssh.HostKeyCallback, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

// capWriter keeps the first stderrTailLimit bytes written to buf and
// discards the rest.
func capWriter(buf *bytes.Buffer) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		if room := stderrTailLimit - buf.Len(); room > 0 {
			if len(p) > room {
				buf.Write(p[:room])
			} else {
				buf.Write(p)
			}
		}
		return len(p), nil
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
