package vpn

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/yllada/relayhop/common"
)

// recordingRunner captures every packet-filter invocation and fails the
// ones matching failWhen.
type recordingRunner struct {
	mu       sync.Mutex
	calls    []string
	failWhen func(call string) bool
}

func (r *recordingRunner) run(tool string, args ...string) bool {
	call := tool + " " + strings.Join(args, " ")
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	if r.failWhen != nil && r.failWhen(call) {
		return false
	}
	return true
}

func (r *recordingRunner) reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func TestGuard_EnableAppliesOrderedRules(t *testing.T) {
	runner := &recordingRunner{}
	g := NewGuard(runner.run)

	if err := g.Enable("tun+", "1.2.3.4"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if !g.Enabled() {
		t.Error("guard should report enabled")
	}

	calls := runner.calls
	if len(calls) != 13 {
		t.Fatalf("got %d rule applications, want 13", len(calls))
	}

	// Loopback first, default-deny and IPv6 policies last.
	if !strings.Contains(calls[0], "-A INPUT -i lo") {
		t.Errorf("first rule = %q, want loopback input accept", calls[0])
	}
	if !strings.Contains(calls[9], "! -o tun+ ! -d 1.2.3.4 -j DROP") {
		t.Errorf("rule 10 = %q, want default-deny for non-tunnel egress", calls[9])
	}
	for i, chain := range []string{"INPUT", "OUTPUT", "FORWARD"} {
		if calls[10+i] != "ip6tables -P "+chain+" DROP" {
			t.Errorf("rule %d = %q, want ip6tables %s policy drop", 10+i, calls[10+i], chain)
		}
	}
}

func TestGuard_DisableInvertsEveryRule(t *testing.T) {
	runner := &recordingRunner{}
	g := NewGuard(runner.run)

	if err := g.Enable("tun+", "1.2.3.4"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	applied := append([]string(nil), runner.calls...)
	runner.reset()

	g.Disable()

	undos := runner.calls
	if len(undos) != len(applied) {
		t.Fatalf("got %d undo operations, want %d", len(undos), len(applied))
	}

	// Inverse order, inverse sense.
	if undos[0] != "ip6tables -P FORWARD ACCEPT" {
		t.Errorf("first undo = %q, want last rule reversed", undos[0])
	}
	last := undos[len(undos)-1]
	if !strings.Contains(last, "-D INPUT -i lo") {
		t.Errorf("last undo = %q, want loopback input delete", last)
	}
	for _, call := range undos {
		if strings.Contains(call, " -A ") {
			t.Errorf("undo %q still appends", call)
		}
		if strings.HasPrefix(call, "ip6tables") && strings.HasSuffix(call, "DROP") {
			t.Errorf("undo %q leaves a drop policy", call)
		}
	}

	if g.Enabled() {
		t.Error("guard should report disabled")
	}
}

func TestGuard_EnableRollsBackOnFailure(t *testing.T) {
	// Fail the 5th application; the 4 applied rules must be rolled back
	// in reverse order and Enable must report setup failure.
	applyCount := 0
	runner := &recordingRunner{}
	runner.failWhen = func(call string) bool {
		if strings.Contains(call, " -A ") || strings.Contains(call, " -t nat -A ") || strings.HasSuffix(call, " DROP") {
			applyCount++
			return applyCount == 5
		}
		return false
	}
	g := NewGuard(runner.run)

	err := g.Enable("tun+", "1.2.3.4")
	if !errors.Is(err, common.ErrFirewallSetup) {
		t.Fatalf("Enable() error = %v, want ErrFirewallSetup", err)
	}
	if g.Enabled() {
		t.Error("guard must not report enabled after a failed setup")
	}

	// 5 attempted applies + 4 rollback deletes.
	if len(runner.calls) != 9 {
		t.Fatalf("got %d calls, want 9 (5 applies + 4 undos): %v", len(runner.calls), runner.calls)
	}
	undos := runner.calls[5:]
	if !strings.Contains(undos[0], "-D OUTPUT -p udp") {
		t.Errorf("rollback should start from the last applied rule, got %q", undos[0])
	}
	if !strings.Contains(undos[3], "-D INPUT -i lo") {
		t.Errorf("rollback should end at the first applied rule, got %q", undos[3])
	}
}

func TestGuard_DisableAttemptsAllDespiteFailures(t *testing.T) {
	runner := &recordingRunner{}
	g := NewGuard(runner.run)
	if err := g.Enable("tun+", "1.2.3.4"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	runner.reset()

	// Every undo fails; cleanup must still attempt all of them.
	runner.failWhen = func(string) bool { return true }
	g.Disable()

	if len(runner.calls) != 13 {
		t.Errorf("got %d cleanup attempts, want all 13", len(runner.calls))
	}
}

func TestGuard_DisableIdempotent(t *testing.T) {
	runner := &recordingRunner{}
	g := NewGuard(runner.run)

	// Disable without enable is a no-op.
	g.Disable()
	if len(runner.calls) != 0 {
		t.Errorf("disable on a clean guard ran %d commands", len(runner.calls))
	}

	if err := g.Enable("tun+", "1.2.3.4"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	g.Disable()
	runner.reset()

	g.Disable()
	if len(runner.calls) != 0 {
		t.Errorf("second disable ran %d commands, want 0", len(runner.calls))
	}
}

func TestGuard_DoubleEnableRejected(t *testing.T) {
	runner := &recordingRunner{}
	g := NewGuard(runner.run)

	if err := g.Enable("tun+", "1.2.3.4"); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if err := g.Enable("tun+", "5.6.7.8"); !errors.Is(err, common.ErrFirewallSetup) {
		t.Errorf("second Enable error = %v, want ErrFirewallSetup", err)
	}
}

func TestLeakRules_FreshPerInvocation(t *testing.T) {
	a := leakRules("tun+", "1.1.1.1", "192.168.1.0/24")
	b := leakRules("tun+", "1.1.1.1", "192.168.1.0/24")

	// Descriptor slices must not alias each other.
	a[0].Apply[0] = "mutated"
	if b[0].Apply[0] == "mutated" {
		t.Error("rule descriptors are shared between invocations")
	}
}
