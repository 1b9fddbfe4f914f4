package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/bastionhost/bastion-agent/internal/config"
)

// RemoteExec runs commands on downstream servers over SSH, one dedicated
// client connection per call. Each server authenticates with its own
// inventory-configured keypair; host keys are verified against the
// server's known_hosts_path unless it explicitly opted out.
type RemoteExec struct {
	Inventory *config.Inventory
}

func NewRemoteExec(inv *config.Inventory) *RemoteExec { return &RemoteExec{Inventory: inv} }

func (t *RemoteExec) Name() string { return "run_remote_command" }

func (t *RemoteExec) Description() string {
	return "Execute a command on a downstream server via SSH. The server must " +
		"exist in the inventory and the command must be on that server's " +
		"role allowlist. Destructive commands require operator approval."
}

func (t *RemoteExec) Schema() Schema {
	return Schema{
		Properties: map[string]any{
			"server": map[string]any{
				"type":        "string",
				"description": "Server name from the inventory (e.g. 'gameserver-01', 'monitoring').",
			},
			"command": map[string]any{
				"type":        "string",
				"description": "The command to execute on the remote server.",
			},
		},
		Required: []string{"server", "command"},
	}
}

func (t *RemoteExec) Execute(ctx context.Context, input map[string]any) Result {
	server, _ := input["server"].(string)
	command, _ := input["command"].(string)

	info, err := t.Inventory.GetServer(server)
	if err != nil {
		return Result{Error: err.Error(), ExitCode: 1}
	}
	if !info.Definition.SSH {
		return Result{Error: fmt.Sprintf("Server %q is local. Use run_local_command instead.", server), ExitCode: 1}
	}
	return RunRemote(ctx, info, command)
}

// RunRemoteArgv runs a literal argv on a downstream server over SSH. The
// remote end is still a shell (sshd execs the command line through the
// login shell), so each argument is single-quoted before joining — this
// keeps a path containing a space as one argv word on the far side instead
// of letting the remote shell re-split it on whitespace.
func RunRemoteArgv(ctx context.Context, info config.ServerInfo, args []string) Result {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return RunRemote(ctx, info, strings.Join(quoted, " "))
}

// shellQuote wraps s in single quotes, escaping any embedded single quote
// as '\'' (close quote, escaped quote, reopen quote) so the remote shell
// sees it as one literal word regardless of its contents.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// RunRemote executes command on the given server over SSH and returns its
// combined exit status. The time limit is ctx's deadline, which the caller
// sets via context.WithTimeout.
func RunRemote(ctx context.Context, info config.ServerInfo, command string) Result {
	defn := info.Definition

	if !defn.SSH {
		return Result{Error: fmt.Sprintf("Server %q does not use SSH (local execution only).", info.Name), ExitCode: 1}
	}
	if defn.KeyPath == "" {
		return Result{Error: fmt.Sprintf("No SSH key configured for server %q.", info.Name), ExitCode: 1}
	}

	client, err := dialSSH(ctx, defn)
	if err != nil {
		return Result{Error: describeSSHError(info.Name, defn, err), ExitCode: 1}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{Error: fmt.Sprintf("SSH session failed: %v", err), ExitCode: 1}
	}
	defer session.Close()

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return Result{Error: "Command timed out", ExitCode: 124}
	case runErr := <-done:
		exitCode := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return Result{Error: fmt.Sprintf("SSH command failed: %v", runErr), ExitCode: 1}
			}
		}
		return Result{
			Output:   strings.TrimRight(stdout.String(), "\n"),
			Error:    strings.TrimRight(stderr.String(), "\n"),
			ExitCode: exitCode,
		}
	}
}

func dialSSH(ctx context.Context, defn config.ServerEntry) (*ssh.Client, error) {
	auth, err := sshAuthMethods(defn)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := sshHostKeyCallback(defn)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            defn.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:22", defn.Host))
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, fmt.Sprintf("%s:22", defn.Host), clientConfig)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// sshKeyError wraps a failure to read or parse a server's configured private
// key, so describeSSHError can distinguish it from a network or handshake
// failure.
type sshKeyError struct{ err error }

func (e *sshKeyError) Error() string { return e.err.Error() }
func (e *sshKeyError) Unwrap() error { return e.err }

// sshKnownHostsLoadError wraps a failure to load the known_hosts_path file
// itself (missing file, unreadable, malformed), distinct from a host-key
// mismatch discovered during the handshake.
type sshKnownHostsLoadError struct{ err error }

func (e *sshKnownHostsLoadError) Error() string { return e.err.Error() }
func (e *sshKnownHostsLoadError) Unwrap() error { return e.err }

func sshAuthMethods(defn config.ServerEntry) ([]ssh.AuthMethod, error) {
	key, err := os.ReadFile(defn.KeyPath)
	if err != nil {
		return nil, &sshKeyError{fmt.Errorf("reading key %s: %w", defn.KeyPath, err)}
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, &sshKeyError{fmt.Errorf("parsing key %s: %w", defn.KeyPath, err)}
	}
	methods := []ssh.AuthMethod{ssh.PublicKeys(signer)}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, dialErr := net.Dial("unix", sock); dialErr == nil {
			agentClient := agent.NewClient(conn)
			methods = append(methods, ssh.PublicKeysCallback(agentClient.Signers))
		}
	}

	return methods, nil
}

// sshHostKeyCallback builds a strict host-key verifier from the server's
// known_hosts_path. A server may opt out explicitly via
// insecure_skip_host_key_check; config.LoadServersConfig already refuses
// to load a server that's neither configured nor opted out.
func sshHostKeyCallback(defn config.ServerEntry) (ssh.HostKeyCallback, error) {
	if defn.InsecureSkipHostKeyCheck {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(defn.KnownHostsPath)
	if err != nil {
		return nil, &sshKnownHostsLoadError{err}
	}
	return callback, nil
}

// describeSSHError translates a dialSSH failure into a server-named message
// with a remediation suggestion, distinguishing the categories an operator
// needs to react to differently: a bad key, an unreadable known_hosts file,
// an untrusted/mismatched host key, a rejected credential, an unreachable
// host, a connection timeout, a disconnect, and a generic connect failure.
func describeSSHError(serverName string, defn config.ServerEntry, err error) string {
	var keyErr *sshKeyError
	if errors.As(err, &keyErr) {
		return fmt.Sprintf("SSH key error for server %q: %v. Check that key_path %q exists and is a valid private key.", serverName, keyErr.err, defn.KeyPath)
	}

	var hostsLoadErr *sshKnownHostsLoadError
	if errors.As(err, &hostsLoadErr) {
		return fmt.Sprintf("Could not load known_hosts_path for server %q: %v. Check that %q exists and is readable.", serverName, hostsLoadErr.err, defn.KnownHostsPath)
	}

	var hostKeyErr *knownhosts.KeyError
	if errors.As(err, &hostKeyErr) {
		return fmt.Sprintf("SSH host key verification failed for server %q: the presented key does not match known_hosts_path. "+
			"If the server was rebuilt intentionally, update %q (or set insecure_skip_host_key_check: true).", serverName, defn.KnownHostsPath)
	}

	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Sprintf("SSH authentication rejected for server %q (user %q): %v. Verify key_path grants access for that user on the remote host.", serverName, defn.User, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("Could not resolve host for server %q (%s): %v. Check the host field in servers.yaml.", serverName, defn.Host, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Sprintf("Connection to server %q (%s:22) was refused. Confirm the host is up and an SSH daemon is listening.", serverName, defn.Host)
	}

	var netErr net.Error
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("Connection to server %q (%s:22) timed out. Check network connectivity and firewall rules.", serverName, defn.Host)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) || strings.Contains(err.Error(), "ssh: disconnect") {
		return fmt.Sprintf("Server %q closed the SSH connection unexpectedly: %v. The remote sshd may have rejected or reset the session; retry, or check the remote host's auth/sshd logs.", serverName, err)
	}

	return fmt.Sprintf("SSH connection to server %q failed: %v. Verify the host, port 22, and network path are reachable from the bastion.", serverName, err)
}
