// Package dispatcher implements the zone/vulnerability-aware backend
// selection policy: candidate pool selection by query class and
// polarity, per-stripe diversity constraints, and a
// circuit-breaker guard per backend IP so a flapping backend is skipped
// before the monitor's next tick would otherwise catch it.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codaproj/coda/modules/model"
)

// EligibleSource is the subset of *monitor.Monitor the dispatcher depends
// on, kept as an interface so dispatcher tests can fake zone state without
// constructing a full Monitor.
type EligibleSource interface {
	EligibleInvulnerable() []string
	EligibleVulnerable() []string
	AllBackends() []string
	RegionOf(ip string) string
	AvailableRegionCount() int
	RegisterQuery(ip string, qid, sid uint64, isCDC bool)
}

// ErrNoCandidates is returned when the candidate pool is still empty after
// the refill fallback: either no backends are known at all, or the
// stripe's diversity sets and open breakers exclude every candidate.
var ErrNoCandidates = errors.New("dispatcher: no backend candidates available")

// Config mirrors the dispatcher-relevant config keys.
type Config struct {
	// BreakerMaxFailures trips a backend's circuit after this many
	// consecutive dispatch failures to it; 0 disables the breaker.
	BreakerMaxFailures uint32
	// BreakerResetTimeout is how long a tripped breaker stays open before
	// allowing a trial request through.
	BreakerResetTimeout time.Duration
	// StarvationRetryBackoff is the softened dispatcher-starvation wait:
	// the reference asserts on an empty pool; Coda instead retries with
	// backoff and ultimately returns ErrNoCandidates.
	StarvationRetryBackoff time.Duration
	// StarvationMaxRetries bounds the soften-starvation retry loop.
	StarvationMaxRetries int
}

// stripeDiversity tracks the per-stripe chosen sets.
type stripeDiversity struct {
	mu            sync.Mutex
	chosen        map[uint64]map[string]bool   // sid -> IPs already used
	chosenRegions map[uint64]map[string]bool   // sid -> regions already used (Backup only)
}

func newStripeDiversity() *stripeDiversity {
	return &stripeDiversity{
		chosen:        make(map[uint64]map[string]bool),
		chosenRegions: make(map[uint64]map[string]bool),
	}
}

func (d *stripeDiversity) isChosen(sid uint64, ip string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chosen[sid][ip]
}

func (d *stripeDiversity) regionChosen(sid uint64, region string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chosenRegions[sid][region]
}

func (d *stripeDiversity) record(sid uint64, ip, region string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chosen[sid] == nil {
		d.chosen[sid] = make(map[string]bool)
	}
	d.chosen[sid][ip] = true
	if region != "" {
		if d.chosenRegions[sid] == nil {
			d.chosenRegions[sid] = make(map[string]bool)
		}
		d.chosenRegions[sid][region] = true
	}
}

// Close drops a stripe's diversity bookkeeping once its group has closed.
func (d *stripeDiversity) Close(sid uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.chosen, sid)
	delete(d.chosenRegions, sid)
}

// Dispatcher selects backend IPs for queries, honoring zone/vulnerability
// preference, per-stripe diversity, and per-backend circuit breaking.
type Dispatcher struct {
	cfg     Config
	monitor EligibleSource

	diversity *stripeDiversity

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New constructs a Dispatcher over the given monitor/eligible-set source.
func New(cfg Config, monitor EligibleSource) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		monitor:   monitor,
		diversity: newStripeDiversity(),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CloseStripe releases a stripe's diversity bookkeeping.
func (d *Dispatcher) CloseStripe(sid uint64) { d.diversity.Close(sid) }

// ReportOutcome feeds a dispatch's backend-availability outcome into that
// backend's circuit breaker, a sony/gobreaker enrichment on top of the
// monitor's own retro-flagging.
func (d *Dispatcher) ReportOutcome(ip string, ok bool) {
	if d.cfg.BreakerMaxFailures == 0 {
		return
	}
	b := d.breakerFor(ip)
	_, _ = b.Execute(func() (interface{}, error) {
		if ok {
			return nil, nil
		}
		return nil, fmt.Errorf("dispatcher: reported failure for %s", ip)
	})
}

func (d *Dispatcher) breakerFor(ip string) *gobreaker.CircuitBreaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()
	b, ok := d.breakers[ip]
	if !ok {
		settings := gobreaker.Settings{
			Name:        ip,
			MaxRequests: 1,
			Timeout:     d.cfg.BreakerResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= d.cfg.BreakerMaxFailures
			},
		}
		b = gobreaker.NewCircuitBreaker(settings)
		d.breakers[ip] = b
	}
	return b
}

func (d *Dispatcher) breakerOpen(ip string) bool {
	if d.cfg.BreakerMaxFailures == 0 {
		return false
	}
	d.breakersMu.Lock()
	b, ok := d.breakers[ip]
	d.breakersMu.Unlock()
	if !ok {
		return false
	}
	return b.State() == gobreaker.StateOpen
}

// Select chooses a backend IP for q, applying the candidate-pool,
// diversity, and breaker rules, then persists the choice into the
// stripe's diversity sets and registers the query with the monitor.
func (d *Dispatcher) Select(ctx context.Context, q *model.Query) (string, error) {
	attempts := d.cfg.StarvationMaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		ip, err := d.selectOnce(q)
		if err == nil {
			d.diversity.record(q.SID, ip, d.regionForQuery(q, ip))
			isCDC := q.Class == model.ClassCDC
			d.monitor.RegisterQuery(ip, q.QID, q.SID, isCDC)
			return ip, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(d.cfg.StarvationRetryBackoff):
		}
	}
	return "", fmt.Errorf("dispatcher: starvation for sid %d: %w", q.SID, lastErr)
}

// regionForQuery reports the region owning the just-chosen ip, but only
// for Backup groups — the region-diversity check never applies to CDC
// queries.
func (d *Dispatcher) regionForQuery(q *model.Query, ip string) string {
	if q.Class != model.ClassBackup {
		return ""
	}
	return d.monitor.RegionOf(ip)
}

func (d *Dispatcher) selectOnce(q *model.Query) (string, error) {
	pool := d.candidatePool(q)
	pool = d.applyDiversity(q, pool)
	pool = d.filterBreakers(pool)

	if len(pool) == 0 {
		// refill from the opposite polarity rather than spin.
		pool = d.refill(q)
		pool = d.applyDiversity(q, pool)
		pool = d.filterBreakers(pool)
	}

	if len(pool) == 0 {
		return "", ErrNoCandidates
	}
	return d.pick(pool), nil
}

// candidatePool selects the initial candidate set by query class and
// polarity, preferring invulnerable backends over vulnerable ones.
func (d *Dispatcher) candidatePool(q *model.Query) []string {
	inv := d.monitor.EligibleInvulnerable()
	vul := d.monitor.EligibleVulnerable()

	switch {
	case q.Class == model.ClassCDC && !q.IsParity:
		if len(inv) > 0 {
			return inv
		}
		return vul
	case q.Class == model.ClassCDC && q.IsParity:
		if len(vul) > 0 {
			return vul
		}
		return inv
	default: // Backup
		if len(inv) == 0 && len(vul) == 0 {
			break
		}
		return append(append([]string{}, inv...), vul...)
	}
	return d.monitor.AllBackends()
}

// refill implements the "refill from E_inv or E_vul of the correct
// polarity" fallback.
func (d *Dispatcher) refill(q *model.Query) []string {
	inv := d.monitor.EligibleInvulnerable()
	vul := d.monitor.EligibleVulnerable()
	if len(inv) == 0 && len(vul) == 0 {
		return d.monitor.AllBackends()
	}
	switch {
	case q.Class == model.ClassCDC && !q.IsParity:
		return append(inv, vul...)
	case q.Class == model.ClassCDC && q.IsParity:
		return append(vul, inv...)
	default:
		return append(inv, vul...)
	}
}

// applyDiversity excludes IPs already used for this stripe, and for
// Backup groups additionally excludes regions already used when more
// than one region is currently available.
func (d *Dispatcher) applyDiversity(q *model.Query, pool []string) []string {
	out := make([]string, 0, len(pool))
	regionDiversify := q.Class == model.ClassBackup && d.monitor.AvailableRegionCount() > 1
	for _, ip := range pool {
		if d.diversity.isChosen(q.SID, ip) {
			continue
		}
		if regionDiversify {
			region := d.monitor.RegionOf(ip)
			if d.diversity.regionChosen(q.SID, region) {
				continue
			}
		}
		out = append(out, ip)
	}
	return out
}

func (d *Dispatcher) filterBreakers(pool []string) []string {
	out := make([]string, 0, len(pool))
	for _, ip := range pool {
		if !d.breakerOpen(ip) {
			out = append(out, ip)
		}
	}
	return out
}

func (d *Dispatcher) pick(pool []string) string {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return pool[d.rng.Intn(len(pool))]
}
