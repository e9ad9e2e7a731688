package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeIPs(prefix string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = prefix + string(rune('a'+i))
	}
	return out
}

func TestZoneInitializationSeedsOneVulnerable(t *testing.T) {
	z := NewZone("z0", "r0", nodeIPs("n", 4), []int{4, 4, 4}, 3, 1)
	assert.Len(t, z.eligibleVulnerable(), 1)
	assert.Len(t, z.eligibleInvulnerable(), 3)
}

func TestZoneAvailableUnavailablePartition(t *testing.T) {
	z := NewZone("z0", "r0", nodeIPs("n", 4), []int{2, 4}, 3, 1)

	r := z.tick() // initial 4 -> 2, delta -2
	assert.Equal(t, -2, r.delta)
	assert.Len(t, r.newUnavailable, 2)
	assert.Equal(t, 2, z.available.Len())
	assert.Equal(t, 2, z.unavailable.Len())

	r = z.tick() // 2 -> 4, delta +2
	assert.Equal(t, 2, r.delta)
	assert.Equal(t, 4, z.available.Len())
	assert.Equal(t, 0, z.unavailable.Len())
}

func TestZoneRecoversExactlyAtT(t *testing.T) {
	z := NewZone("z0", "r0", nodeIPs("n", 4), []int{4, 4, 4, 4}, 2, 4)
	z.promoteToVulnerable(-1) // promote all invulnerable -> vulnerable

	assert.Equal(t, 4, z.vulnerable.Len())

	z.tick() // ticks=1
	assert.Equal(t, 4, z.vulnerable.Len())

	z.tick() // ticks=2 == T -> revert
	assert.Equal(t, 0, z.vulnerable.Len())
}

func TestZoneTraceExhausted(t *testing.T) {
	z := NewZone("z0", "r0", nodeIPs("n", 2), []int{2}, 3, 1)
	assert.False(t, z.Exhausted())
	z.tick()
	assert.True(t, z.Exhausted())

	r := z.tick()
	assert.True(t, r.exhausted)
}

func TestMonitorEligibleSetsAcrossZones(t *testing.T) {
	z0 := NewZone("z0", "r0", nodeIPs("a", 4), []int{4, 4}, 3, 1)
	z1 := NewZone("z1", "r1", nodeIPs("b", 4), []int{4, 4}, 3, 1)
	m := New(Config{Algorithm: AlgorithmBaseline}, []*Zone{z0, z1})

	inv := m.EligibleInvulnerable()
	vul := m.EligibleVulnerable()
	all := m.AllBackends()

	assert.Len(t, all, 8)
	assert.Len(t, inv, 6) // 3 invulnerable per zone x 2
	assert.Len(t, vul, 2) // 1 seed vulnerable per zone x 2
	assert.Equal(t, 2, m.AvailableRegionCount())
}

func TestMonitorMarksBrokenOnPreemption(t *testing.T) {
	z0 := NewZone("z0", "r0", nodeIPs("a", 4), []int{2}, 3, 1)
	m := New(Config{Algorithm: AlgorithmBaseline, UpdateMode: UpdateModeQuery, UpdateInterval: 1}, []*Zone{z0})

	all := m.AllBackends()
	require.Len(t, all, 4)

	for i, ip := range all {
		m.RegisterQuery(ip, uint64(i+1), uint64(100), false)
	}

	m.Tick(context.Background())

	brokenCount := 0
	for i, ip := range all {
		if m.ReconcileQuery(ip, uint64(i+1)) {
			brokenCount++
		}
	}
	assert.Equal(t, 2, brokenCount)
}

func TestMonitorStripeBrokenCascade(t *testing.T) {
	z0 := NewZone("z0", "r0", nodeIPs("a", 4), []int{2}, 3, 1)
	m := New(Config{Algorithm: AlgorithmBaseline}, []*Zone{z0})

	all := m.AllBackends()
	for i, ip := range all {
		m.RegisterQuery(ip, uint64(i+1), 500, true)
	}

	m.Tick(context.Background())

	assert.True(t, m.StripeBroken(500))
}

func TestMonitorPassiveFlaggingPromotesOnPreemption(t *testing.T) {
	z0 := NewZone("z0", "r0", nodeIPs("a", 6), []int{4}, 10, 2)
	m := New(Config{Algorithm: AlgorithmPassive, ToVulNum: 2}, []*Zone{z0})

	before := len(m.EligibleVulnerable())
	m.Tick(context.Background())
	after := len(m.EligibleVulnerable())

	assert.Greater(t, after, before)
}

func TestMonitorFilterRatioFeedback(t *testing.T) {
	z0 := NewZone("z0", "r0", nodeIPs("a", 6), []int{3}, 10, 1)
	m := New(Config{Algorithm: AlgorithmBaseline}, []*Zone{z0})

	var gotF int
	m.SetFilterRatioFunc(func(f int) { gotF = f })
	m.Tick(context.Background())

	assert.Equal(t, 3, gotF)
}

func TestMonitorARIMAUnimplementedIsSafeNoop(t *testing.T) {
	z0 := NewZone("z0", "r0", nodeIPs("a", 2), []int{2, 2}, 3, 1)
	m := New(Config{Algorithm: AlgorithmARIMA}, []*Zone{z0})
	assert.NotPanics(t, func() { m.Tick(context.Background()) })
}
