package vpn

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yllada/relayhop/common"
	"github.com/yllada/relayhop/relay"
)

// SessionState is the lifecycle phase of a connection session.
type SessionState int

const (
	StateInit SessionState = iota
	StateSpawning
	StateWaitingReady
	StateReady
	StateFailedInit
	StateMonitoring
	StateTeardown
	StateEnded
)

// String returns a human-readable representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateSpawning:
		return "Spawning"
	case StateWaitingReady:
		return "WaitingReady"
	case StateReady:
		return "Ready"
	case StateFailedInit:
		return "FailedInit"
	case StateMonitoring:
		return "Monitoring"
	case StateTeardown:
		return "Teardown"
	case StateEnded:
		return "Ended"
	default:
		return "Unknown"
	}
}

// Result is the single outcome a session reports to its caller.
type Result int

const (
	// ResultFailedInit means the tunnel never became usable; the caller
	// should try the next candidate.
	ResultFailedInit Result = iota
	// ResultEstablished means the tunnel was established and used until
	// it ended (health failure, reload teardown, or external stop).
	ResultEstablished
	// ResultCancelled means cancellation arrived before the tunnel was
	// established.
	ResultCancelled
)

// String returns a human-readable representation of the result.
func (r Result) String() string {
	switch r {
	case ResultFailedInit:
		return "failed-to-establish"
	case ResultEstablished:
		return "established-and-used"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Seams for tests; *Launcher, *Meter, and *Guard satisfy these.
type processLauncher interface {
	Start(configPath, authPath string) (ProcessHandle, error)
}

type throughputMeter interface {
	Measure(ctx context.Context) (float64, error)
}

type firewallGuard interface {
	Enable(ifacePattern, serverAddr string) error
	Disable()
}

// Session drives one candidate through the full connection lifecycle:
// spawn the tunnel, wait for readiness, gate on throughput, guard against
// leaks, monitor, and tear everything down. The session owns the tunnel
// process, the firewall activation, and the temporary configuration file;
// none of them outlive it.
type Session struct {
	// ID correlates log lines and history records.
	ID string
	// Candidate is the relay this session connects to.
	Candidate *relay.Candidate
	// Launcher starts the tunnel process.
	Launcher processLauncher
	// Terminator enforces the escalating termination policy.
	Terminator *Terminator
	// Guard is the leak-prevention firewall; nil disables it.
	Guard firewallGuard
	// Meter measures tunnel throughput.
	Meter throughputMeter
	// Latch is the process-wide reload trigger.
	Latch *ReloadLatch
	// Ready delivers the tunnel's routes-are-up notification.
	Ready <-chan struct{}
	// TunnelInterface is the wildcard for the tunnel devices.
	TunnelInterface string
	// ReadyTimeout bounds the wait for the readiness notification.
	ReadyTimeout time.Duration
	// MonitorInterval is the monitoring wait between reload checks.
	MonitorInterval time.Duration
	// HealthFloor is the minimum acceptable throughput in bytes/sec.
	HealthFloor float64
	// AuthPath is an optional credentials file passed to the tunnel.
	AuthPath string

	mu       sync.Mutex
	state    SessionState
	lastRate float64
}

// LastRate returns the most recent throughput measurement in bytes/sec,
// or zero if none completed.
func (s *Session) LastRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRate
}

func (s *Session) setRate(rate float64) {
	s.mu.Lock()
	s.lastRate = rate
	s.mu.Unlock()
}

// State returns the session's current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	common.LogDebug("session %s: %s -> %s", s.Candidate.Label(), s.ID, state)
}

// Run executes the session to completion and reports exactly one of
// failed-to-establish, established-and-used, or cancelled. Cleanup of the
// firewall rules, the tunnel process, and the temporary configuration file
// happens on every path out.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	label := s.Candidate.Label()
	defer s.setState(StateEnded)

	s.setState(StateSpawning)
	cfgPath, err := s.writeConfig()
	if err != nil {
		return ResultFailedInit, err
	}
	defer os.Remove(cfgPath)

	handle, err := s.Launcher.Start(cfgPath, s.AuthPath)
	if err != nil {
		common.LogWarn("session %s: spawn failed: %v", label, err)
		return ResultFailedInit, err
	}

	s.setState(StateWaitingReady)
	if res, err := s.waitReady(ctx, handle, label); res != ResultEstablished {
		return res, err
	}

	s.setState(StateReady)
	rate, err := s.Meter.Measure(ctx)
	if ctx.Err() != nil {
		common.LogInfo("session %s: cancelled during initial health check", label)
		s.teardown(handle, false)
		return ResultCancelled, common.ErrCancelled
	}
	if err != nil || rate < s.HealthFloor {
		common.LogWarn("session %s: initial health check failed (rate %s, err %v)",
			label, FormatRate(rate), err)
		s.teardown(handle, false)
		if err == nil {
			err = common.ErrHealthCheck
		}
		return ResultFailedInit, err
	}
	s.setRate(rate)
	common.LogInfo("session %s: established at %s", label, FormatRate(rate))

	guardOn := false
	if s.Guard != nil {
		if err := s.Guard.Enable(s.TunnelInterface, s.Candidate.Host); err != nil {
			s.teardown(handle, false)
			return ResultFailedInit, err
		}
		guardOn = true
	}

	s.setState(StateMonitoring)
	s.monitor(ctx, handle, label)

	s.teardown(handle, guardOn)
	return ResultEstablished, nil
}

// waitReady blocks until the readiness notification, process death,
// cancellation, or the readiness timeout. ResultEstablished here means
// "proceed"; any other result is final.
func (s *Session) waitReady(ctx context.Context, handle ProcessHandle, label string) (Result, error) {
	timeout := s.ReadyTimeout
	if timeout <= 0 {
		timeout = common.ReadyTimeout
	}

	// Drop a readiness token left over from an earlier session.
	select {
	case <-s.Ready:
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.Ready:
		common.LogInfo("session %s: tunnel routes are up", label)
		return ResultEstablished, nil
	case <-handle.Done():
		common.LogWarn("session %s: tunnel exited before becoming ready", label)
		s.setState(StateFailedInit)
		return ResultFailedInit, common.WrapError(common.ErrTunnelInit, "process exited during startup")
	case <-ctx.Done():
		common.LogInfo("session %s: cancelled while waiting for readiness", label)
		s.Terminator.Terminate(handle)
		return ResultCancelled, common.ErrCancelled
	case <-timer.C:
		common.LogWarn("session %s: no readiness signal within %v", label, timeout)
		s.setState(StateFailedInit)
		s.Terminator.Terminate(handle)
		return ResultFailedInit, common.WrapError(common.ErrTunnelInit, "readiness timeout")
	}
}

// monitor re-validates the connection whenever a reload request arrives
// and otherwise leaves it alone. Returns when the tunnel process dies,
// the connection fails a health check, or ctx is cancelled; cancellation
// ends the loop cleanly.
func (s *Session) monitor(ctx context.Context, handle ProcessHandle, label string) {
	interval := s.MonitorInterval
	if interval <= 0 {
		interval = common.MonitorInterval
	}

	for {
		timer := time.NewTimer(interval)
		select {
		case <-handle.Done():
			timer.Stop()
			common.LogWarn("session %s: tunnel process died, tearing down", label)
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			continue
		case <-s.Latch.Requests():
			timer.Stop()
		}

		common.LogInfo("session %s: reload requested, re-checking throughput", label)
		rate, err := s.Meter.Measure(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil || rate < s.HealthFloor {
			common.LogWarn("session %s: health check failed (rate %s, err %v), tearing down",
				label, FormatRate(rate), err)
			return
		}
		s.setRate(rate)
		common.LogInfo("session %s: still healthy at %s", label, FormatRate(rate))
	}
}

// teardown runs the mandatory exit sequence: clear the reload trigger,
// drop the firewall rules, terminate the tunnel process.
func (s *Session) teardown(handle ProcessHandle, guardOn bool) {
	s.setState(StateTeardown)

	if s.Latch != nil {
		s.Latch.Clear()
	}
	if guardOn && s.Guard != nil {
		s.Guard.Disable()
	}
	s.Terminator.Terminate(handle)
}

// writeConfig writes the candidate's configuration to a scoped temporary
// file owned by this session.
func (s *Session) writeConfig() (string, error) {
	f, err := os.CreateTemp("", "relayhop-*.ovpn")
	if err != nil {
		return "", common.WrapError(err, "failed to create tunnel config file")
	}

	if _, err := f.Write(s.Candidate.Config); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", common.WrapError(err, "failed to write tunnel config file")
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", common.WrapError(err, "failed to write tunnel config file")
	}
	return f.Name(), nil
}
