package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codaproj/coda/modules/model"
)

// fakeMonitor is a minimal EligibleSource double so dispatcher tests don't
// need a real monitor.Monitor.
type fakeMonitor struct {
	inv, vul, all []string
	regionOf      map[string]string
	regionCount   int
	registered    []registeredQuery
}

type registeredQuery struct {
	ip    string
	qid   uint64
	sid   uint64
	isCDC bool
}

func (f *fakeMonitor) EligibleInvulnerable() []string { return append([]string(nil), f.inv...) }
func (f *fakeMonitor) EligibleVulnerable() []string   { return append([]string(nil), f.vul...) }
func (f *fakeMonitor) AllBackends() []string          { return append([]string(nil), f.all...) }
func (f *fakeMonitor) RegionOf(ip string) string      { return f.regionOf[ip] }
func (f *fakeMonitor) AvailableRegionCount() int      { return f.regionCount }
func (f *fakeMonitor) RegisterQuery(ip string, qid, sid uint64, isCDC bool) {
	f.registered = append(f.registered, registeredQuery{ip, qid, sid, isCDC})
}

func TestSelectCDCDataPrefersInvulnerable(t *testing.T) {
	fm := &fakeMonitor{inv: []string{"a", "b"}, vul: []string{"c"}}
	d := New(Config{StarvationMaxRetries: 1}, fm)

	q := &model.Query{QID: 1, SID: 10, Class: model.ClassCDC, IsParity: false}
	ip, err := d.Select(context.Background(), q)
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b"}, ip)
}

func TestSelectCDCParityPrefersVulnerable(t *testing.T) {
	fm := &fakeMonitor{inv: []string{"a", "b"}, vul: []string{"c"}}
	d := New(Config{StarvationMaxRetries: 1}, fm)

	q := &model.Query{QID: 2, SID: 10, Class: model.ClassCDC, IsParity: true}
	ip, err := d.Select(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "c", ip)
}

func TestSelectFallsBackWhenPreferredEmpty(t *testing.T) {
	fm := &fakeMonitor{inv: nil, vul: []string{"c"}}
	d := New(Config{StarvationMaxRetries: 1}, fm)

	q := &model.Query{QID: 3, SID: 10, Class: model.ClassCDC, IsParity: false}
	ip, err := d.Select(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "c", ip)
}

func TestSelectExcludesAlreadyChosenForStripe(t *testing.T) {
	fm := &fakeMonitor{inv: []string{"a", "b"}, vul: nil, all: []string{"a", "b"}}
	d := New(Config{StarvationMaxRetries: 2, StarvationRetryBackoff: time.Millisecond}, fm)

	q1 := &model.Query{QID: 1, SID: 10, Class: model.ClassCDC, IsParity: false}
	ip1, err := d.Select(context.Background(), q1)
	require.NoError(t, err)
	assert.Contains(t, []string{"a", "b"}, ip1)

	// same stripe, another data query: whichever IP was chosen first is
	// now excluded by the stripe's diversity set, so the second pick must
	// land on the other remaining invulnerable candidate.
	q2 := &model.Query{QID: 2, SID: 10, Class: model.ClassCDC, IsParity: false}
	ip2, err := d.Select(context.Background(), q2)
	require.NoError(t, err)
	other := "b"
	if ip1 == "b" {
		other = "a"
	}
	assert.Equal(t, other, ip2)
	assert.NotEqual(t, ip1, ip2)
}

func TestSelectStarvesWhenDiversityExhaustsSoleCandidate(t *testing.T) {
	fm := &fakeMonitor{inv: []string{"a"}}
	d := New(Config{StarvationMaxRetries: 2, StarvationRetryBackoff: time.Millisecond}, fm)

	q1 := &model.Query{QID: 1, SID: 11, Class: model.ClassCDC, IsParity: false}
	_, err := d.Select(context.Background(), q1)
	require.NoError(t, err)

	q2 := &model.Query{QID: 2, SID: 11, Class: model.ClassCDC, IsParity: false}
	_, err = d.Select(context.Background(), q2)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestSelectBackupRegionDiversity(t *testing.T) {
	fm := &fakeMonitor{
		inv:         []string{"a", "b"},
		regionOf:    map[string]string{"a": "r1", "b": "r2"},
		regionCount: 2,
	}
	d := New(Config{StarvationMaxRetries: 1}, fm)

	q1 := &model.Query{QID: 1, SID: 20, Class: model.ClassBackup}
	ip1, err := d.Select(context.Background(), q1)
	require.NoError(t, err)

	q2 := &model.Query{QID: 2, SID: 20, Class: model.ClassBackup}
	ip2, err := d.Select(context.Background(), q2)
	require.NoError(t, err)

	assert.NotEqual(t, ip1, ip2)
	assert.NotEqual(t, fm.regionOf[ip1], fm.regionOf[ip2])
}

func TestSelectNoCandidatesReturnsStarvationError(t *testing.T) {
	fm := &fakeMonitor{}
	d := New(Config{StarvationMaxRetries: 2, StarvationRetryBackoff: time.Millisecond}, fm)

	q := &model.Query{QID: 1, SID: 30, Class: model.ClassBackup}
	_, err := d.Select(context.Background(), q)
	assert.Error(t, err)
}

func TestReportOutcomeOpensBreaker(t *testing.T) {
	fm := &fakeMonitor{inv: []string{"a"}}
	d := New(Config{BreakerMaxFailures: 2, BreakerResetTimeout: time.Minute, StarvationMaxRetries: 1}, fm)

	d.ReportOutcome("a", false)
	d.ReportOutcome("a", false)

	assert.True(t, d.breakerOpen("a"))

	q := &model.Query{QID: 1, SID: 40, Class: model.ClassCDC, IsParity: false}
	_, err := d.Select(context.Background(), q)
	assert.Error(t, err)
}

func TestCloseStripeClearsDiversity(t *testing.T) {
	fm := &fakeMonitor{inv: []string{"a"}}
	d := New(Config{StarvationMaxRetries: 1}, fm)

	q := &model.Query{QID: 1, SID: 50, Class: model.ClassCDC, IsParity: false}
	_, err := d.Select(context.Background(), q)
	require.NoError(t, err)

	d.CloseStripe(50)
	assert.False(t, d.diversity.isChosen(50, "a"))
}
