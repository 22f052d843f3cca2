// Package main provides the entry point for relayhop, a supervisor that
// keeps one leak-guarded tunnel alive through a pool of public relays.
//
// Features:
//   - Relay discovery from a VPNGate-style directory feed
//   - Geography and reachability filtering of candidates
//   - Sequential sessions with a throughput gate and reload re-validation
//   - Packet-filter leak prevention while a tunnel is up
//   - Session history and directory caching in a local database
//
// Usage:
//
//	relayhop [options]
//
// Environment:
//
//	The supervisor requires OpenVPN to be installed on the system and
//	must run as root for the firewall and tunnel device operations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/yllada/relayhop/cli"
	"github.com/yllada/relayhop/common"
	"github.com/yllada/relayhop/config"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")

	singleFile   = flag.String("file", "", "Connect through a single local tunnel configuration instead of the directory")
	selfTest     = flag.Bool("selftest", false, "Measure throughput on the current route and exit")
	showHistory  = flag.Bool("history", false, "Show recent session attempts")
	historyLimit = flag.Int("history-limit", 20, "Number of history rows to show")
	noFirewall   = flag.Bool("no-firewall", false, "Disable leak-prevention firewall rules for this run")
)

func main() {
	flag.Parse()

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("relayhop v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	logLevel := common.LevelInfo
	if *verbose {
		logLevel = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *noFirewall {
		cfg.Firewall = false
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	app := cli.New(cfg)
	defer app.Close()

	switch {
	case *selfTest:
		runOrExit(app.SelfTest(ctx))
	case *showHistory:
		runOrExit(app.History(ctx, *historyLimit))
	default:
		runConnect(ctx, app, cfg)
	}
}

// runConnect runs the supervisor loop. Interactive stop is a clean exit;
// anything else is a failure.
func runConnect(ctx context.Context, app *cli.App, cfg *config.Config) {
	if !checkOpenVPNInstalled(cfg.OpenVPNPath) {
		common.LogError("OpenVPN is not installed on the system")
		fmt.Fprintln(os.Stderr, "Error: OpenVPN is not installed on the system.")
		os.Exit(1)
	}
	if err := checkRoot(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	common.LogInfo("Starting %s v%s", common.AppName, appVersion)
	if err := app.Run(ctx, *singleFile); err != nil {
		common.LogError("supervisor stopped: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	common.LogInfo("supervisor stopped")
}

func runOrExit(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// checkRoot verifies the privileges needed for tunnel devices and the
// packet filter. The history and self-test modes do not require them.
func checkRoot() error {
	if os.Geteuid() != 0 {
		return common.ErrRootRequired
	}
	return nil
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}

// checkOpenVPNInstalled verifies that the tunnel binary is available,
// either at the configured path or on PATH.
func checkOpenVPNInstalled(path string) bool {
	if path == "" {
		path = "openvpn"
	}
	_, err := exec.LookPath(path)
	return err == nil
}

func printHelp() {
	fmt.Println(`relayhop - supervised relay tunnels

Usage:
  relayhop [OPTIONS]

Options:
  --version           Show version and exit
  --verbose           Enable verbose logging
  --file PATH         Use a single local .ovpn configuration
  --selftest          Measure throughput on the current route and exit
  --history           Show recent session attempts
  --history-limit N   Number of history rows to show (default 20)
  --no-firewall       Disable leak-prevention rules for this run
  --help              Show this help message

Examples:
  relayhop
  relayhop --file /etc/openvpn/client/work.ovpn
  relayhop --selftest
  relayhop --history

Notes:
  - Connecting requires root and an installed OpenVPN binary
  - Send SIGHUP to re-validate the active tunnel's throughput
  - Settings live in ~/.config/relayhop/` + common.ConfigFileName)
}
