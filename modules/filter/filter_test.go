package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codaproj/coda/modules/model"
)

func TestManualModeAlwaysCDC(t *testing.T) {
	f := New(Config{Mode: ModeManual, CDCRatio: 1})
	for i := 0; i < 50; i++ {
		assert.Equal(t, model.ClassCDC, f.Pick())
	}
}

func TestManualModeAlwaysBackup(t *testing.T) {
	f := New(Config{Mode: ModeManual, CDCRatio: 0})
	for i := 0; i < 50; i++ {
		assert.Equal(t, model.ClassBackup, f.Pick())
	}
}

func TestSetRatioNoopInManualMode(t *testing.T) {
	f := New(Config{Mode: ModeManual, CDCRatio: 0.5})
	f.SetRatio(3)
	assert.Equal(t, 0.5, f.Ratio())
}

func TestSetRatioFirstChangeAppliesImmediately(t *testing.T) {
	f := New(Config{Mode: ModeAuto, CDCRatio: 0.1, N: 10, K: 3, DebounceCycles: 2})

	before := f.Ratio()
	f.SetRatio(1) // first change, no cool-down to wait out
	assert.NotEqual(t, before, f.Ratio())
}

func TestSetRatioFurtherChangeHeldForDebounce(t *testing.T) {
	f := New(Config{Mode: ModeAuto, CDCRatio: 0.1, N: 10, K: 3, DebounceCycles: 2})

	f.SetRatio(1) // applies immediately
	afterFirst := f.Ratio()

	f.SetRatio(5) // 1st call within debounce window, held
	assert.Equal(t, afterFirst, f.Ratio())
	f.SetRatio(5) // 2nd call within debounce window, held
	assert.Equal(t, afterFirst, f.Ratio())
	f.SetRatio(5) // debounce satisfied, applies
	assert.NotEqual(t, afterFirst, f.Ratio())
}

func TestRhoMonotonicAsFShrinks(t *testing.T) {
	n, k := 20, 4
	highF := rho(n, k, 8)
	lowF := rho(n, k, 1)
	assert.GreaterOrEqual(t, lowF, highF)
}

func TestRhoBoundedZeroOne(t *testing.T) {
	v := rho(10, 3, 0)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 1.0)

	v2 := rho(10, 3, 100) // f far exceeds n-k, binomial ratio -> 0
	assert.GreaterOrEqual(t, v2, 0.0)
	assert.LessOrEqual(t, v2, 1.0)
}

func TestRhoZeroKCollapsesToOne(t *testing.T) {
	assert.Equal(t, 1.0, rho(10, 0, 2))
}

func TestBinomialRatioEdgeCases(t *testing.T) {
	assert.Equal(t, 1.0, binomialRatio(10, 3, 0))
	assert.Equal(t, 0.0, binomialRatio(10, 9, 5)) // n-k=1 < f
}
