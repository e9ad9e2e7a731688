package monitor

import (
	"sync"

	"github.com/codaproj/coda/pkg/set"
)

// NodeFlag is a node's current vulnerability classification.
type NodeFlag int

const (
	Invulnerable NodeFlag = iota
	Vulnerable
)

// nodeState tracks the per-node flag and its recovery timer.
type nodeState struct {
	flag  NodeFlag
	ticks int
}

// Zone is a failure-correlated set of backend IPs drawn from one trace.
// All mutation goes through Zone's own mutex; Monitor additionally
// serializes a zone's tick with eligible-set republication using its own
// locks.
type Zone struct {
	ID       string
	RegionID string

	recoveryTime int // T
	promoteCount int // V

	trace  []int
	cursor int

	mu          sync.Mutex
	nodes       []string
	available   *set.Set[string]
	unavailable *set.Set[string]
	vulnerable  *set.Set[string]
	flags       map[string]*nodeState
}

// NewZone constructs a zone with all nodes initially available and
// invulnerable, except for one seed node marked vulnerable up front so the
// first tick already has a vulnerable/invulnerable contrast to observe.
func NewZone(id, regionID string, nodeIPs []string, trace []int, recoveryTime, promoteCount int) *Zone {
	z := &Zone{
		ID:           id,
		RegionID:     regionID,
		recoveryTime: recoveryTime,
		promoteCount: promoteCount,
		trace:        trace,
		nodes:        append([]string(nil), nodeIPs...),
		available:    set.New[string](),
		unavailable:  set.New[string](),
		vulnerable:   set.New[string](),
		flags:        make(map[string]*nodeState, len(nodeIPs)),
	}
	for _, ip := range nodeIPs {
		z.available.Add(ip)
		z.flags[ip] = &nodeState{flag: Invulnerable}
	}
	if len(nodeIPs) > 0 {
		seed := nodeIPs[0]
		z.vulnerable.Add(seed)
		z.flags[seed].flag = Vulnerable
	}
	return z
}

// Exhausted reports whether the zone's trace cursor has run off the end.
func (z *Zone) Exhausted() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.cursor >= len(z.trace)
}

// advanceCursor advances the trace cursor one slice and returns
// (previous, current, ok). The very first tick's "previous" value is the
// zone's full node count, since every node starts available; subsequent
// ticks compare consecutive trace entries. ok is false once the trace is
// exhausted, in which case the zone silently stops advancing.
func (z *Zone) advanceCursor() (prev, cur int, ok bool) {
	if z.cursor >= len(z.trace) {
		if z.cursor == 0 {
			return 0, 0, false
		}
		return z.trace[z.cursor-1], z.trace[z.cursor-1], false
	}
	if z.cursor == 0 {
		prev = len(z.nodes)
	} else {
		prev = z.trace[z.cursor-1]
	}
	cur = z.trace[z.cursor]
	z.cursor++
	return prev, cur, true
}

// tickResult summarizes one zone's tick, consumed by Monitor for flagging
// and query-state marking.
type tickResult struct {
	exhausted       bool
	delta           int
	newUnavailable  []string
	anyPreemption   bool
}

// tick advances recovery timers, applies the trace delta, and returns the
// set of newly unavailable IPs.
func (z *Zone) tick() tickResult {
	z.mu.Lock()
	defer z.mu.Unlock()

	prev, cur, ok := z.advanceCursor()
	if !ok {
		return tickResult{exhausted: true}
	}

	// step 1: recovery timers
	for ip, st := range z.flags {
		if st.flag != Vulnerable {
			continue
		}
		st.ticks++
		if st.ticks >= z.recoveryTime {
			st.flag = Invulnerable
			st.ticks = 0
			z.vulnerable.Remove(ip)
		}
	}

	delta := cur - prev
	var newUnavailable []string
	switch {
	case delta > 0:
		set.MovePrefix(z.unavailable, z.available, delta)
	case delta < 0:
		newUnavailable = set.MovePrefix(z.available, z.unavailable, -delta)
	}

	return tickResult{
		delta:          delta,
		newUnavailable: newUnavailable,
		anyPreemption:  len(newUnavailable) > 0,
	}
}

// promoteToVulnerable flags up to n available+invulnerable nodes as
// vulnerable, used by the passive flagging mode. If n < 0 it promotes all
// matching nodes (used by ldd/fgd "promote every node").
func (z *Zone) promoteToVulnerable(n int) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.promoteLocked(n)
}

func (z *Zone) promoteLocked(n int) {
	promoted := 0
	for _, ip := range z.available.Values() {
		if n >= 0 && promoted >= n {
			break
		}
		st := z.flags[ip]
		if st.flag == Invulnerable {
			st.flag = Vulnerable
			st.ticks = 0
			z.vulnerable.Add(ip)
			promoted++
		}
	}
}

// resetToInvulnerable demotes every node in the zone back to invulnerable;
// used by the fgd/cee capacity-expiry-evict path when a zone is evicted
// from the volatile set.
func (z *Zone) resetToInvulnerable() {
	z.mu.Lock()
	defer z.mu.Unlock()
	for ip, st := range z.flags {
		if st.flag == Vulnerable {
			st.flag = Invulnerable
			st.ticks = 0
			z.vulnerable.Remove(ip)
		}
	}
}

// eligibleInvulnerable returns available ∩ invulnerable IPs in this zone.
func (z *Zone) eligibleInvulnerable() []string {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.available.Minus(z.vulnerable)
}

// eligibleVulnerable returns available ∩ vulnerable IPs in this zone.
func (z *Zone) eligibleVulnerable() []string {
	z.mu.Lock()
	defer z.mu.Unlock()
	avail := z.available.Values()
	out := make([]string, 0, len(avail))
	for _, ip := range avail {
		if z.vulnerable.Contains(ip) {
			out = append(out, ip)
		}
	}
	return out
}

// allNodes returns every known IP in the zone, regardless of availability.
func (z *Zone) allNodes() []string {
	out := make([]string, len(z.nodes))
	copy(out, z.nodes)
	return out
}

// hasEligible reports whether the zone currently has at least one
// available IP, used by available_region_count.
func (z *Zone) hasEligible() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.available.Len() > 0
}
