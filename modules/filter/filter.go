// Package filter implements the encoding-class selector: a Bernoulli
// pick between CDC and Backup, either at a fixed manual ratio or an auto
// ratio derived from the monitor's filter-ratio feedback, debounced
// against oscillation.
package filter

import (
	"math/rand"
	"sync"
	"time"

	"github.com/codaproj/coda/modules/model"
)

// Mode selects how the CDC ratio is derived.
type Mode int

const (
	ModeManual Mode = iota
	ModeAuto
)

// Config mirrors the filter_config block.
type Config struct {
	Mode Mode
	// CDCRatio is the fixed Bernoulli parameter in manual mode.
	CDCRatio float64
	// N is the total backend node count, used by the auto-mode ratio
	// formula ρ(n,k,f).
	N int
	// K is the stripe data count, used by ρ(n,k,f).
	K int
	// DebounceCycles holds a changed auto ratio for this many SetRatio
	// calls before a further change is applied (a cool-down against
	// oscillation).
	DebounceCycles int
}

// Filter picks an encoding class per item.
type Filter struct {
	cfg Config

	mu          sync.Mutex
	ratio       float64
	sinceChange int

	rng *rand.Rand
}

// New constructs a Filter. In manual mode the ratio is fixed at
// cfg.CDCRatio for the filter's lifetime.
func New(cfg Config) *Filter {
	f := &Filter{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.Mode == ModeManual {
		f.ratio = cfg.CDCRatio
	} else {
		f.ratio = cfg.CDCRatio // seed value until the first SetRatio call
		// The cool-down only holds a *further* change once one has been
		// applied, so start it already elapsed — the first auto ratio
		// change takes effect immediately.
		f.sinceChange = cfg.DebounceCycles
	}
	return f
}

// Pick returns CDC with probability equal to the filter's current ratio,
// else Backup. The recompute-forces-Backup rule is applied by the encode
// stage before it ever asks the filter, so Pick itself knows nothing
// about recompute.
func (f *Filter) Pick() model.Class {
	f.mu.Lock()
	ratio := f.ratio
	f.mu.Unlock()
	if f.rng.Float64() < ratio {
		return model.ClassCDC
	}
	return model.ClassBackup
}

// SetRatio is the monitor's filter-ratio feedback hook: computes
// ρ(n,k,f) and applies it, subject to the debounce cool-down. A no-op in
// manual mode.
func (f *Filter) SetRatio(preemptionMagnitude int) {
	if f.cfg.Mode != ModeAuto {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	newRatio := rho(f.cfg.N, f.cfg.K, preemptionMagnitude)
	if newRatio == f.ratio {
		return
	}

	if f.sinceChange < f.cfg.DebounceCycles {
		f.sinceChange++
		return
	}

	f.ratio = newRatio
	f.sinceChange = 0
}

// Ratio returns the filter's current CDC ratio, for status reporting.
func (f *Filter) Ratio() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ratio
}

// rho computes ρ(n,k,f) = 1 / (1 − C(n−k,f)/C(n,f) − 1/k + 1).
// Guards: k<=0 has no meaningful stripe-data-count term, so the
// ratio collapses to 1 (always CDC is meaningless without k; callers in
// practice never run auto mode with k<=0). f>n or f>n-k zeroes the binomial
// numerator per the usual C(a,b)=0 for b>a convention.
func rho(n, k, f int) float64 {
	if k <= 0 {
		return 1
	}
	if f < 0 {
		f = 0
	}
	ratioC := binomialRatio(n, k, f)
	denom := 1 - ratioC - 1/float64(k) + 1
	if denom == 0 {
		return 1
	}
	v := 1 / denom
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// binomialRatio computes C(n-k, f) / C(n, f) without overflowing for
// modest fleet sizes, via the product-of-ratios form
// prod_{i=0}^{f-1} (n-k-i)/(n-i).
func binomialRatio(n, k, f int) float64 {
	if f == 0 {
		return 1
	}
	if n-k < f || n < f {
		return 0
	}
	result := 1.0
	for i := 0; i < f; i++ {
		result *= float64(n-k-i) / float64(n-i)
	}
	return result
}
