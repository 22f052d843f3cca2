// Package vpn implements the connection lifecycle for relayhop: spawning
// and supervising the external tunnel process, leak-prevention firewall
// rules, throughput measurement, and the per-candidate session state
// machine tying them together.
package vpn

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yllada/relayhop/common"
)

// ProcessHandle abstracts the running tunnel process so the termination
// policy and the session state machine can be exercised against fakes.
type ProcessHandle interface {
	Pid() int
	Signal(sig os.Signal) error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Exited reports whether the process has already exited.
	Exited() bool
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func newExecHandle(cmd *exec.Cmd) *execHandle {
	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(h.done)
	}()
	return h
}

func (h *execHandle) Pid() int                  { return h.cmd.Process.Pid }
func (h *execHandle) Signal(sig os.Signal) error { return h.cmd.Process.Signal(sig) }
func (h *execHandle) Done() <-chan struct{}     { return h.done }

func (h *execHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// resolvHook is the distribution-provided DNS update script; the hook pair
// is passed to the tunnel only when the host environment provides it.
const resolvHook = "/etc/openvpn/update-resolv-conf"

// Launcher builds and starts the external tunnel process, either directly
// or wrapped in the namespace helper.
type Launcher struct {
	// OpenVPNPath is the tunnel binary, resolved via PATH when relative.
	OpenVPNPath string
	// NamespaceHelper, when set, wraps the invocation so the tunnel runs
	// inside the named isolated network namespace.
	NamespaceHelper string
	// Namespace is the namespace name passed to the helper.
	Namespace string
	// LogSink receives the tunnel's combined output.
	LogSink io.Writer
}

// Start launches the tunnel for the on-disk configuration. The route-up
// hook delivers the readiness signal back to this process; authPath, when
// non-empty, supplies relay credentials.
func (l *Launcher) Start(configPath, authPath string) (ProcessHandle, error) {
	args := []string{
		"--config", configPath,
		"--script-security", "2",
		"--route-up", fmt.Sprintf("/bin/sh -c 'kill -USR1 %d'", os.Getpid()),
	}
	if authPath != "" {
		args = append(args, "--auth-user-pass", authPath)
	}
	if common.FileExists(resolvHook) {
		args = append(args, "--up", resolvHook, "--down", resolvHook)
	}

	bin := l.OpenVPNPath
	if bin == "" {
		bin = "openvpn"
	}

	var cmd *exec.Cmd
	if l.NamespaceHelper != "" {
		helperArgs := append([]string{l.Namespace, "--", bin}, args...)
		cmd = exec.Command(l.NamespaceHelper, helperArgs...)
	} else {
		cmd = exec.Command(bin, args...)
	}

	sink := l.LogSink
	if sink == nil {
		sink = io.Discard
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Start(); err != nil {
		return nil, common.WrapError(common.ErrTunnelInit, err.Error())
	}

	common.LogInfo("tunnel process started, pid %d", cmd.Process.Pid)
	return newExecHandle(cmd), nil
}

// Terminator stops the tunnel process with escalating force. A process
// that survives SIGKILL is a fatal condition: continuing would risk a
// live, unguarded tunnel, so the program aborts instead.
type Terminator struct {
	// Grace is the wait after each signal before escalating.
	Grace time.Duration
	// Fatal aborts the program. Tests override it; production keeps
	// common.LogFatal.
	Fatal func(msg string, args ...interface{})
}

// NewTerminator returns a Terminator with production defaults.
func NewTerminator() *Terminator {
	return &Terminator{Grace: common.TerminateGrace, Fatal: common.LogFatal}
}

// Terminate stops the process: SIGTERM, wait up to Grace; SIGKILL, wait up
// to Grace; still alive aborts the program via Fatal.
func (t *Terminator) Terminate(h ProcessHandle) {
	if h == nil || h.Exited() {
		return
	}

	h.Signal(unix.SIGTERM)
	if waitExit(h, t.Grace) {
		common.LogInfo("tunnel pid %d exited after SIGTERM", h.Pid())
		return
	}

	common.LogWarn("tunnel pid %d ignored SIGTERM, sending SIGKILL", h.Pid())
	h.Signal(unix.SIGKILL)
	if waitExit(h, t.Grace) {
		common.LogInfo("tunnel pid %d exited after SIGKILL", h.Pid())
		return
	}

	fatal := t.Fatal
	if fatal == nil {
		fatal = common.LogFatal
	}
	fatal("%v: pid %d survived SIGKILL", common.ErrProcessUnkillable, h.Pid())
}

func waitExit(h ProcessHandle, grace time.Duration) bool {
	select {
	case <-h.Done():
		return true
	case <-time.After(grace):
		return h.Exited()
	}
}
