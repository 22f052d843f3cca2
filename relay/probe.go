package relay

import (
	"net"
	"sync"
	"time"

	"github.com/yllada/relayhop/common"
)

// Reachable reports whether a candidate's tunnel endpoint accepts
// connections. UDP candidates always probe reachable: without protocol
// knowledge there is no stateless UDP liveness check, and the policy
// prefers under-filtering over false negatives. Probing is best-effort;
// no failure is ever propagated to the caller.
func Reachable(c *Candidate, timeout time.Duration) bool {
	if c.Proto == ProtoUDP {
		return true
	}

	conn, err := net.DialTimeout("tcp", c.Endpoint(), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// FilterReachable probes every candidate with a bounded worker pool and
// returns the reachable subset in the original input order. A probe that
// panics is logged and counted as unreachable; the batch always completes.
func FilterReachable(cands []*Candidate, concurrency int, timeout time.Duration) []*Candidate {
	if len(cands) == 0 {
		return cands
	}
	if concurrency <= 0 {
		concurrency = common.ProbeConcurrency
	}
	if concurrency > len(cands) {
		concurrency = len(cands)
	}

	reachable := make([]bool, len(cands))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				reachable[i] = probeOne(cands[i], timeout)
			}
		}()
	}

	for i := range cands {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	kept := make([]*Candidate, 0, len(cands))
	for i, c := range cands {
		if reachable[i] {
			kept = append(kept, c)
		}
	}
	common.LogInfo("probe: %d of %d relays reachable", len(kept), len(cands))
	return kept
}

// probeOne isolates a single probe so a misbehaving check cannot take the
// batch down with it.
func probeOne(c *Candidate, timeout time.Duration) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			common.LogWarn("probe: %s fault: %v (treated as unreachable)", c.Label(), r)
			ok = false
		}
	}()
	return Reachable(c, timeout)
}
