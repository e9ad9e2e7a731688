// Package monitor drives the discrete-time failure model: per-zone trace
// advance, node vulnerability flagging, eligible-set publication, and
// in-flight query-state marking.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log/level"

	"github.com/codaproj/coda/internal/logging"
)

// Algorithm selects the flagging mode applied on each tick.
type Algorithm int

const (
	AlgorithmBaseline Algorithm = iota
	AlgorithmPassive
	AlgorithmLDD
	AlgorithmFGD
	// AlgorithmARIMA is a retained, unimplemented extension point for a
	// predictive flagging mode.
	AlgorithmARIMA
)

// ErrNotImplemented is logged by Tick, which then returns without ticking,
// when AlgorithmARIMA is selected.
var ErrNotImplemented = errors.New("monitor: ARIMA predictive flagging is not implemented")

// UpdateMode selects what wakes the monitor to perform a tick.
type UpdateMode int

const (
	UpdateModeQuery UpdateMode = iota
	UpdateModeTime
)

// Config mirrors the monitor_config block of the component config.
type Config struct {
	UpdateMode     UpdateMode
	UpdateInterval int           // Nth dispatched query wakes the monitor (query mode)
	UpdateTimeGap  time.Duration // fixed wake period (time mode)
	Algorithm      Algorithm
	RecoveryTime   int // T
	ToVulNum       int // V, passive mode
	CEE            bool
	TopK           int // fgd peer-zone count
	HistoryLength  int // fgd Pearson correlation window, H

	// CEEBoundKPlus1 is k+1 (stripe data count + 1), used to bound the cee
	// volatile set at n/(k+1). Zero disables cee even if CEE is set, since
	// there is nothing to bound against.
	CEEBoundKPlus1 int
}

// FilterRatioFunc is invoked after every tick when the caller's filter
// operates in "auto" mode, carrying this tick's preemption magnitude f.
type FilterRatioFunc func(f int)

// Monitor owns the zone fleet, in-flight query/stripe broken-state, and
// publishes eligible backend sets to the dispatcher.
type Monitor struct {
	cfg Config

	// zoneMu guards zone membership/flag state changes that must be
	// observed as a consistent snapshot by dispatchers.
	zoneMu    sync.RWMutex
	zones     map[string]*Zone
	zoneOrder []string
	regions   map[string][]string // region -> zone ids

	// stateMu guards query_state / stripe_state, a distinct lock from
	// zoneMu: zone state and query/stripe state are updated independently
	// and don't need to share a critical section.
	stateMu     sync.Mutex
	queryState  map[queryKey]*queryRecord
	stripeState map[uint64]bool

	onFilterRatio FilterRatioFunc

	dispatchCounter int
	dispatchMu      sync.Mutex

	history map[string][]int // fgd Pearson correlation history per zone
	volatile []string         // cee FIFO of recently promoted zones, fgd only

	rng *rand.Rand
}

type queryKey struct {
	ip  string
	qid uint64
}

type queryRecord struct {
	broken bool
	sid    uint64
	isCDC  bool
}

// New constructs a Monitor over the given zones (already built via NewZone).
func New(cfg Config, zones []*Zone) *Monitor {
	m := &Monitor{
		cfg:         cfg,
		zones:       make(map[string]*Zone, len(zones)),
		regions:     make(map[string][]string),
		queryState:  make(map[queryKey]*queryRecord),
		stripeState: make(map[uint64]bool),
		history:     make(map[string][]int),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, z := range zones {
		m.zones[z.ID] = z
		m.zoneOrder = append(m.zoneOrder, z.ID)
		m.regions[z.RegionID] = append(m.regions[z.RegionID], z.ID)
	}
	sort.Strings(m.zoneOrder)
	return m
}

// SetFilterRatioFunc registers the callback used for filter-ratio feedback.
func (m *Monitor) SetFilterRatioFunc(fn FilterRatioFunc) { m.onFilterRatio = fn }

// ObserveDispatch is called by the frontend's dispatch stage for every
// successfully dispatched original (non-parity, non-recompute) query. In
// query update-mode, every Nth call wakes the monitor for one tick.
func (m *Monitor) ObserveDispatch(ctx context.Context) {
	if m.cfg.UpdateMode != UpdateModeQuery {
		return
	}
	interval := m.cfg.UpdateInterval
	if interval <= 0 {
		interval = 1
	}
	m.dispatchMu.Lock()
	m.dispatchCounter++
	fire := m.dispatchCounter%interval == 0
	m.dispatchMu.Unlock()
	if fire {
		m.Tick(ctx)
	}
}

// Run starts the periodic wake loop for time update-mode and blocks until
// ctx is cancelled. No-op in query update-mode.
func (m *Monitor) Run(ctx context.Context) error {
	if m.cfg.UpdateMode != UpdateModeTime {
		<-ctx.Done()
		return nil
	}
	gap := m.cfg.UpdateTimeGap
	if gap <= 0 {
		gap = time.Second
	}
	ticker := time.NewTicker(gap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one monitor wake: tick advance -> flag pass -> eligible-set
// recomputation -> query-state marking -> filter-ratio feedback.
func (m *Monitor) Tick(ctx context.Context) {
	if m.cfg.Algorithm == AlgorithmARIMA {
		level.Warn(logging.Logger).Log("msg", "ARIMA flagging selected but unimplemented", "err", ErrNotImplemented)
		return
	}

	m.zoneMu.Lock()
	defer m.zoneMu.Unlock()

	results := make(map[string]tickResult, len(m.zoneOrder))
	allNewUnavailable := make(map[string][]string, len(m.zoneOrder)) // zone -> ips
	preemptedZones := map[string]bool{}

	for _, zid := range m.zoneOrder {
		z := m.zones[zid]
		r := z.tick()
		results[zid] = r
		if r.anyPreemption {
			allNewUnavailable[zid] = r.newUnavailable
			preemptedZones[zid] = true
		}
		m.recordHistory(zid, r.delta)
	}

	m.applyFlagging(preemptedZones)

	// flatten new-unavailable IPs for query-state marking.
	var allUnavailableIPs []string
	for _, ips := range allNewUnavailable {
		allUnavailableIPs = append(allUnavailableIPs, ips...)
	}
	m.markBroken(allUnavailableIPs)

	if m.onFilterRatio != nil {
		f := m.preemptionMagnitude(results)
		m.onFilterRatio(f)
	}
}

// preemptionMagnitude returns the max per-zone preemption delta this tick
// (as opposed to the sum across zones). Coda picks max, since it is the
// more conservative (larger ratio bump) reading and is cheaper to keep
// stable under the filter's debounce.
func (m *Monitor) preemptionMagnitude(results map[string]tickResult) int {
	max := 0
	for _, r := range results {
		if r.delta < 0 && -r.delta > max {
			max = -r.delta
		}
	}
	return max
}

func (m *Monitor) recordHistory(zoneID string, delta int) {
	h := m.history[zoneID]
	h = append(h, delta)
	if len(h) > m.cfg.HistoryLength && m.cfg.HistoryLength > 0 {
		h = h[len(h)-m.cfg.HistoryLength:]
	}
	m.history[zoneID] = h
}

// markBroken sets broken=true for every in-flight query dispatched to a
// newly-unavailable IP, and cascades to the owning stripe's broken bit.
func (m *Monitor) markBroken(newUnavailable []string) {
	if len(newUnavailable) == 0 {
		return
	}
	bad := make(map[string]bool, len(newUnavailable))
	for _, ip := range newUnavailable {
		bad[ip] = true
	}

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	for k, rec := range m.queryState {
		if bad[k.ip] {
			rec.broken = true
			if rec.isCDC {
				m.stripeState[rec.sid] = true
			}
		}
	}
}

// RegisterQuery records a dispatched query's backend assignment, broken
// initially false. Called once the frontend has chosen a backend for the
// query.
func (m *Monitor) RegisterQuery(ip string, qid, sid uint64, isCDC bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.queryState[queryKey{ip: ip, qid: qid}] = &queryRecord{sid: sid, isCDC: isCDC}
	if isCDC {
		if _, ok := m.stripeState[sid]; !ok {
			m.stripeState[sid] = false
		}
	}
}

// ReconcileQuery reads back and removes the broken bit for (ip, qid),
// binding it at the moment of reply-read under one lock transaction to
// avoid a race with an out-of-band monitor tick.
func (m *Monitor) ReconcileQuery(ip string, qid uint64) (broken bool) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	rec, ok := m.queryState[queryKey{ip: ip, qid: qid}]
	if !ok {
		return false
	}
	broken = rec.broken
	delete(m.queryState, queryKey{ip: ip, qid: qid})
	return broken
}

// StripeBroken reports whether any task in sid has been marked broken.
func (m *Monitor) StripeBroken(sid uint64) bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.stripeState[sid]
}

// ClearStripe removes sid's broken-bit bookkeeping once its group closes.
func (m *Monitor) ClearStripe(sid uint64) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	delete(m.stripeState, sid)
}

// EligibleInvulnerable returns the union of available∩invulnerable IPs
// across all zones.
func (m *Monitor) EligibleInvulnerable() []string {
	m.zoneMu.RLock()
	defer m.zoneMu.RUnlock()
	var out []string
	for _, zid := range m.zoneOrder {
		out = append(out, m.zones[zid].eligibleInvulnerable()...)
	}
	return out
}

// EligibleVulnerable returns the union of available∩vulnerable IPs across
// all zones.
func (m *Monitor) EligibleVulnerable() []string {
	m.zoneMu.RLock()
	defer m.zoneMu.RUnlock()
	var out []string
	for _, zid := range m.zoneOrder {
		out = append(out, m.zones[zid].eligibleVulnerable()...)
	}
	return out
}

// AllBackends returns the union of every known IP across every zone.
func (m *Monitor) AllBackends() []string {
	m.zoneMu.RLock()
	defer m.zoneMu.RUnlock()
	var out []string
	for _, zid := range m.zoneOrder {
		out = append(out, m.zones[zid].allNodes()...)
	}
	return out
}

// RegionOf returns the region id owning ip, or "" if unknown.
func (m *Monitor) RegionOf(ip string) string {
	m.zoneMu.RLock()
	defer m.zoneMu.RUnlock()
	for _, zid := range m.zoneOrder {
		z := m.zones[zid]
		for _, n := range z.nodes {
			if n == ip {
				return z.RegionID
			}
		}
	}
	return ""
}

// AvailableRegionCount returns the number of distinct regions with at
// least one eligible (available) IP.
func (m *Monitor) AvailableRegionCount() int {
	m.zoneMu.RLock()
	defer m.zoneMu.RUnlock()
	seen := map[string]bool{}
	for _, zid := range m.zoneOrder {
		z := m.zones[zid]
		if z.hasEligible() {
			seen[z.RegionID] = true
		}
	}
	return len(seen)
}

// String renders a short debug summary, used by the coda-cli status table.
func (m *Monitor) String() string {
	m.zoneMu.RLock()
	defer m.zoneMu.RUnlock()
	return fmt.Sprintf("monitor{zones=%d regions=%d}", len(m.zones), len(m.regions))
}
