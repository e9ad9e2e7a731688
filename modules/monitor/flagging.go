package monitor

import "math"

// applyFlagging runs the configured algorithm for this tick. preemptedZones
// holds the ids of zones that had >=1 newly-unavailable node this tick.
// Must be called with zoneMu held.
func (m *Monitor) applyFlagging(preemptedZones map[string]bool) {
	switch m.cfg.Algorithm {
	case AlgorithmBaseline:
		// no flagging; all nodes remain invulnerable.
	case AlgorithmPassive:
		m.applyPassive(preemptedZones)
	case AlgorithmLDD:
		m.applyLDD(preemptedZones)
	case AlgorithmFGD:
		m.applyFGD(preemptedZones)
	}
}

// applyPassive promotes up to V available invulnerable nodes in any zone
// that just had a preemption.
func (m *Monitor) applyPassive(preemptedZones map[string]bool) {
	for zid := range preemptedZones {
		m.zones[zid].promoteToVulnerable(m.cfg.ToVulNum)
	}
}

// applyLDD promotes every node in every zone of the same region as a
// preempted zone.
func (m *Monitor) applyLDD(preemptedZones map[string]bool) {
	touchedRegions := map[string]bool{}
	for zid := range preemptedZones {
		touchedRegions[m.zones[zid].RegionID] = true
	}
	for region := range touchedRegions {
		for _, zid := range m.regions[region] {
			m.zones[zid].promoteToVulnerable(-1)
		}
	}
}

// applyFGD promotes every node in a preempted zone, plus its top-k most
// Pearson-correlated peer zones (on preemption history), and maintains the
// optional cee volatile set.
func (m *Monitor) applyFGD(preemptedZones map[string]bool) {
	newlyPromoted := map[string]bool{}

	for zid := range preemptedZones {
		m.zones[zid].promoteToVulnerable(-1)
		newlyPromoted[zid] = true

		for _, peer := range m.topKCorrelated(zid) {
			m.zones[peer].promoteToVulnerable(-1)
			newlyPromoted[peer] = true
		}
	}

	if m.cfg.CEE && len(newlyPromoted) > 0 {
		m.applyCEE(newlyPromoted)
	}
}

// topKCorrelated returns up to cfg.TopK peer zone ids most correlated with
// zoneID's preemption history, using the Pearson correlation coefficient
// over the last HistoryLength ticks.
func (m *Monitor) topKCorrelated(zoneID string) []string {
	k := m.cfg.TopK
	if k <= 0 {
		return nil
	}
	base := m.history[zoneID]
	if len(base) < 2 {
		return nil
	}

	type scored struct {
		zone  string
		score float64
	}
	var candidates []scored
	for _, zid := range m.zoneOrder {
		if zid == zoneID {
			continue
		}
		peer := m.history[zid]
		c := pearson(base, peer)
		candidates = append(candidates, scored{zone: zid, score: c})
	}

	// simple selection sort for the top k; zone counts are small.
	for i := 0; i < len(candidates) && i < k; i++ {
		best := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].score > candidates[best].score {
				best = j
			}
		}
		candidates[i], candidates[best] = candidates[best], candidates[i]
	}

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]string, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, candidates[i].zone)
	}
	return out
}

// pearson computes the Pearson correlation coefficient over the common
// trailing window of a and b. Returns 0 if either series has zero variance
// or the overlap is too short to be meaningful.
func pearson(a, b []int) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += float64(a[i])
		sumB += float64(b[i])
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := float64(a[i]) - meanA
		db := float64(b[i]) - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// applyCEE maintains a FIFO volatile_set of the most recently promoted
// zones, bounded by n/(k+1); evicted zones are reset to invulnerable. This
// is the optional capacity-expiry-evict mode.
func (m *Monitor) applyCEE(newlyPromoted map[string]bool) {
	bound := m.ceeBound()
	if bound <= 0 {
		return
	}

	for zid := range newlyPromoted {
		m.removeFromVolatile(zid)
		m.volatile = append(m.volatile, zid)
	}

	for len(m.volatile) > bound {
		evicted := m.volatile[0]
		m.volatile = m.volatile[1:]
		m.zones[evicted].resetToInvulnerable()
	}
}

func (m *Monitor) removeFromVolatile(zid string) {
	for i, v := range m.volatile {
		if v == zid {
			m.volatile = append(m.volatile[:i], m.volatile[i+1:]...)
			return
		}
	}
}

// ceeBound computes n/(k+1): total node count across all zones divided by
// (stripe data count + 1). Coda takes k from the dispatcher-facing config
// rather than re-deriving it here; callers with no CEE configured never
// invoke this path.
func (m *Monitor) ceeBound() int {
	if m.cfg.CEEBoundKPlus1 <= 0 {
		return 0
	}
	total := 0
	for _, zid := range m.zoneOrder {
		total += len(m.zones[zid].nodes)
	}
	return total / m.cfg.CEEBoundKPlus1
}
