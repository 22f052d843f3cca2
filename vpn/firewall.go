package vpn

import (
	"net"
	"os/exec"
	"strings"
	"sync"

	"github.com/yllada/relayhop/common"
)

// Rule is one immutable packet-filter operation with its exact inverse.
// Rule sets are generated fresh per activation, never mutated in place.
type Rule struct {
	// Tool is the packet-filter command, iptables or ip6tables.
	Tool string
	// Apply installs the rule.
	Apply []string
	// Undo reverses it (delete instead of append, accept policy instead
	// of drop).
	Undo []string
}

func (r Rule) String() string {
	return r.Tool + " " + strings.Join(r.Apply, " ")
}

// CommandRunner executes one packet-filter command and reports success.
// Rule application failures are observable only as booleans.
type CommandRunner func(tool string, args ...string) bool

func execRunner(tool string, args ...string) bool {
	if err := exec.Command(tool, args...).Run(); err != nil {
		common.LogWarn("firewall: %s %s: %v", tool, strings.Join(args, " "), err)
		return false
	}
	return true
}

// Guard installs and removes the leak-prevention rule set that restricts
// all egress to the tunnel interface while a session is active. Exactly
// one Guard is active at a time, owned by the active session.
type Guard struct {
	mu      sync.Mutex
	runner  CommandRunner
	applied []Rule // successfully applied rules, for rollback
}

// NewGuard creates a Guard. A nil runner uses the real packet-filter
// commands.
func NewGuard(runner CommandRunner) *Guard {
	if runner == nil {
		runner = execRunner
	}
	return &Guard{runner: runner}
}

// leakRules builds the ordered rule set for one activation.
func leakRules(ifacePattern, serverAddr, subnet string) []Rule {
	v4 := func(apply, undo []string) Rule {
		return Rule{Tool: "iptables", Apply: apply, Undo: undo}
	}
	appendDelete := func(args ...string) Rule {
		undo := append([]string{"-D"}, args[1:]...)
		return v4(args, undo)
	}

	rules := []Rule{
		// Loopback stays open in both directions.
		appendDelete("-A", "INPUT", "-i", "lo", "-j", "ACCEPT"),
		appendDelete("-A", "OUTPUT", "-o", "lo", "-j", "ACCEPT"),
		// DHCP broadcast, or the lease dies with the tunnel.
		appendDelete("-A", "INPUT", "-p", "udp", "--sport", "67:68", "--dport", "67:68", "-j", "ACCEPT"),
		appendDelete("-A", "OUTPUT", "-p", "udp", "--sport", "67:68", "--dport", "67:68", "-j", "ACCEPT"),
		// Local subnet traffic.
		appendDelete("-A", "INPUT", "-s", subnet, "-j", "ACCEPT"),
		appendDelete("-A", "OUTPUT", "-d", subnet, "-j", "ACCEPT"),
		// Forwarding through the tunnel devices.
		appendDelete("-A", "FORWARD", "-i", ifacePattern, "-j", "ACCEPT"),
		appendDelete("-A", "FORWARD", "-o", ifacePattern, "-j", "ACCEPT"),
		v4([]string{"-t", "nat", "-A", "POSTROUTING", "-o", ifacePattern, "-j", "MASQUERADE"},
			[]string{"-t", "nat", "-D", "POSTROUTING", "-o", ifacePattern, "-j", "MASQUERADE"}),
		// Default deny: outbound packets neither destined for the relay
		// nor leaving via the tunnel are dropped.
		appendDelete("-A", "OUTPUT", "!", "-o", ifacePattern, "!", "-d", serverAddr, "-j", "DROP"),
	}

	// The tunnel carries no IPv6; deny it wholesale.
	for _, chain := range []string{"INPUT", "OUTPUT", "FORWARD"} {
		rules = append(rules, Rule{
			Tool:  "ip6tables",
			Apply: []string{"-P", chain, "DROP"},
			Undo:  []string{"-P", chain, "ACCEPT"},
		})
	}
	return rules
}

// Enable installs the leak-prevention rules in order. Any single failure
// triggers a best-effort rollback of whatever was already applied and
// returns ErrFirewallSetup.
func (g *Guard) Enable(ifacePattern, serverAddr string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.applied) > 0 {
		return common.WrapError(common.ErrFirewallSetup, "guard already enabled")
	}

	rules := leakRules(ifacePattern, serverAddr, localSubnet())
	for _, r := range rules {
		if !g.runner(r.Tool, r.Apply...) {
			common.LogError("firewall: rule failed: %s; rolling back", r)
			g.disableLocked()
			return common.WrapError(common.ErrFirewallSetup, "could not apply "+r.String())
		}
		g.applied = append(g.applied, r)
	}

	common.LogInfo("firewall: %d leak-prevention rules active", len(g.applied))
	return nil
}

// Disable reverses every applied rule in inverse order. Individual
// failures are logged but never abort the remaining cleanup; calling
// Disable after a partial or failed Enable is safe.
func (g *Guard) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disableLocked()
}

func (g *Guard) disableLocked() {
	for i := len(g.applied) - 1; i >= 0; i-- {
		r := g.applied[i]
		if !g.runner(r.Tool, r.Undo...) {
			common.LogWarn("firewall: cleanup failed for: %s", r)
		}
	}
	g.applied = nil
}

// Enabled reports whether the guard currently holds applied rules.
func (g *Guard) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.applied) > 0
}

// localSubnet returns the first private IPv4 network on the host, falling
// back to the common home-router range.
func localSubnet() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			if ipNet.IP.IsPrivate() {
				return ipNet.String()
			}
		}
	}
	return "192.168.0.0/16"
}
