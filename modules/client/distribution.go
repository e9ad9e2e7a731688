package client

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Distribution paces successive requests on one sender goroutine.
type Distribution interface {
	// Next returns how long to wait before sending the next request.
	Next() time.Duration
}

// NewDistribution builds the Distribution named by kind ("poisson" is the
// default when kind is empty). rate is queries/second; traceFile and
// burstSize are only consulted by "trace" and "bursty" respectively.
func NewDistribution(kind string, rate float64, traceFile string, burstSize int) (Distribution, error) {
	switch kind {
	case "", "poisson":
		return newPoissonDistribution(rate), nil
	case "bursty":
		if burstSize <= 0 {
			burstSize = 1
		}
		return newBurstyDistribution(rate, burstSize), nil
	case "trace":
		return newTraceDistribution(traceFile)
	default:
		return nil, fmt.Errorf("client: unknown distribution %q", kind)
	}
}

// poissonDistribution draws exponentially distributed inter-arrival times,
// i.e. a Poisson arrival process with the given mean rate (queries/second).
// Grounded on image_client.cc's PoissonDistribution, which draws from the
// same exponential law via std::exponential_distribution.
type poissonDistribution struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64
}

func newPoissonDistribution(rate float64) *poissonDistribution {
	return &poissonDistribution{rng: rand.New(rand.NewSource(1)), rate: rate}
}

func (p *poissonDistribution) Next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	seconds := p.rng.ExpFloat64() / p.rate
	return time.Duration(seconds * float64(time.Second))
}

// burstyDistribution fires up to burstSize requests back to back with no
// delay, then throttles down to the configured average rate until the
// bucket refills. Grounded on image_client.cc's BurstyDistribution (zero
// interval within a burst, a larger gap between bursts), implemented here
// as a token bucket rather than a hand-rolled counter.
type burstyDistribution struct {
	limiter *rate.Limiter
}

func newBurstyDistribution(queryRate float64, size int) *burstyDistribution {
	return &burstyDistribution{limiter: rate.NewLimiter(rate.Limit(queryRate), size)}
}

func (b *burstyDistribution) Next() time.Duration {
	return b.limiter.Reserve().Delay()
}

// traceDistribution replays a recorded sequence of inter-arrival intervals
// (one float, in milliseconds, per line) from a file, cycling once
// exhausted. Grounded on image_client.cc's MAFDistribution, which replays
// a trace of measured arrival intervals read from disk.
type traceDistribution struct {
	mu        sync.Mutex
	intervals []time.Duration
	idx       int
}

func newTraceDistribution(path string) (*traceDistribution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("client: open trace file: %w", err)
	}
	defer f.Close()

	var intervals []time.Duration
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ms, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("client: parse trace interval %q: %w", line, err)
		}
		intervals = append(intervals, time.Duration(ms*float64(time.Millisecond)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("client: read trace file: %w", err)
	}
	if len(intervals) == 0 {
		return nil, fmt.Errorf("client: trace file %s has no intervals", path)
	}
	return &traceDistribution{intervals: intervals}, nil
}

func (t *traceDistribution) Next() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.intervals[t.idx]
	t.idx = (t.idx + 1) % len(t.intervals)
	return d
}
