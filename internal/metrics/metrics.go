package metrics

import (
	"sync"
	"sync/atomic"
)

// engineStats holds counters for the time-compliance engine.
// Kept simple/thread-safe for use from services and exposition.
type engineStats struct {
	sweeps      uint64
	escalations uint64
	mu          sync.Mutex
	byOutcome   map[string]uint64
}

var eng engineStats

// IncSweep increments the escalation sweep counter.
func IncSweep() {
	atomic.AddUint64(&eng.sweeps, 1)
}

// IncEscalation increments the escalated-ticket counter.
func IncEscalation() {
	atomic.AddUint64(&eng.escalations, 1)
}

// IncAutomationOutcome increments the per-outcome automation counter
// (success, failed, skipped).
func IncAutomationOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	eng.mu.Lock()
	if eng.byOutcome == nil {
		eng.byOutcome = make(map[string]uint64)
	}
	eng.byOutcome[outcome]++
	eng.mu.Unlock()
}

// EngineSnapshot returns a copy of the current engine counters.
func EngineSnapshot() (sweeps, escalations uint64, byOutcome map[string]uint64) {
	sweeps = atomic.LoadUint64(&eng.sweeps)
	escalations = atomic.LoadUint64(&eng.escalations)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	byOutcome = make(map[string]uint64, len(eng.byOutcome))
	for k, v := range eng.byOutcome {
		byOutcome[k] = v
	}
	return sweeps, escalations, byOutcome
}

// rateLimitStats holds counters for rate limit drops (HTTP 429).
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}
