// Package vpn implements the connection lifecycle for relayhop.
//
// The package is organized around four types:
//
//   - Launcher/Terminator: spawn the external tunnel process and stop it
//     with escalating force (SIGTERM, SIGKILL, abort)
//   - Guard: the leak-prevention packet-filter rule set active while a
//     connection is up
//   - Meter: throughput measurement against a fixed test object
//   - Session: the state machine tying them together for one candidate
//
// # Session lifecycle
//
// A session moves through
//
//	Init -> Spawning -> WaitingReady -> {Ready | FailedInit}
//	     -> Monitoring -> Teardown -> Ended
//
// and reports exactly one of established-and-used, failed-to-establish,
// or cancelled. Whatever the path, teardown clears the reload trigger,
// removes the firewall rules, and terminates the tunnel process before
// the session returns.
//
// # Concurrency
//
// At most one session exists at a time; the supervisor loop never starts
// the next candidate before the previous session has ended. The readiness
// notification and the reload trigger are delivered asynchronously (by
// OS signals in production, by channel writes in tests) and are the only
// cross-goroutine inputs a running session observes.
package vpn
