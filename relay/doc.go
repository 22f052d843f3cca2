// Package relay implements relay candidate discovery for relayhop.
//
// A discovery cycle runs three phases, each a stable filter over an
// ordered candidate sequence:
//
//  1. FetchDirectory downloads and parses the relay feed (or LoadFile
//     builds a single candidate from a local configuration file).
//  2. FilterGeography keeps candidates matching the configured criteria.
//  3. FilterReachable probes the survivors concurrently and keeps the
//     reachable subset.
//
// The feed's ranking order survives all three phases, so the supervisor
// tries the best-ranked reachable relay first.
package relay
