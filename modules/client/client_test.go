package client

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []*Request
	replies chan *Reply
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{replies: make(chan *Reply, 64)}
}

func (c *fakeConn) Send(r *Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, r)
	if !r.EndSignal {
		c.replies <- &Reply{RequestID: r.RequestID, ReplyInfo: r.Bytes}
	} else {
		close(c.replies)
	}
	return nil
}

func (c *fakeConn) Recv() (*Reply, error) {
	reply, ok := <-c.replies
	if !ok {
		return nil, io.EOF
	}
	return reply, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeTransport struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(map[string]*fakeConn)}
}

func (t *fakeTransport) Dial(ctx context.Context, ip string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fc := newFakeConn()
	t.conns[ip] = fc
	return Conn{Send: fc.Send, Recv: fc.Recv, Close: fc.Close}, nil
}

func writeTestImage(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("fake-image-bytes"), 0o644))
}

func TestRunSendsEveryImageAndCollectsLatency(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "a.jpg")
	writeTestImage(t, dir, "b.png")
	writeTestImage(t, dir, "c.JPEG")
	writeTestImage(t, dir, "ignore.txt")

	transport := newFakeTransport()
	c, err := New(Config{
		FrontendIPs: []string{"10.0.0.1"},
		Model:       "resnet",
		QueryRate:   1000,
	}, transport)
	require.NoError(t, err)

	stats, err := c.Run(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Count)
	require.GreaterOrEqual(t, stats.Average, time.Duration(0))
}

func TestRunErrorsOnEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	transport := newFakeTransport()
	c, err := New(Config{FrontendIPs: []string{"10.0.0.1"}, QueryRate: 10}, transport)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), dir)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	require.Error(t, Config{}.Validate())
	require.Error(t, Config{FrontendIPs: []string{"x"}}.Validate())
	require.NoError(t, Config{FrontendIPs: []string{"x"}, QueryRate: 1}.Validate())
	require.Error(t, Config{FrontendIPs: []string{"x"}, QueryRate: 1, QueryArrivalDist: "trace"}.Validate())
}

func TestPoissonDistributionProducesPositiveIntervals(t *testing.T) {
	d := newPoissonDistribution(100)
	for i := 0; i < 20; i++ {
		require.GreaterOrEqual(t, d.Next(), time.Duration(0))
	}
}

func TestBurstyDistributionFiresWithoutDelayWithinBurst(t *testing.T) {
	d := newBurstyDistribution(10, 3)
	require.Equal(t, time.Duration(0), d.Next())
	require.Equal(t, time.Duration(0), d.Next())
	require.Equal(t, time.Duration(0), d.Next())
	require.Greater(t, d.Next(), time.Duration(0))
}

func TestTraceDistributionCyclesIntervals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.txt")
	require.NoError(t, os.WriteFile(path, []byte("10\n20\n30\n"), 0o644))

	d, err := newTraceDistribution(path)
	require.NoError(t, err)
	require.Equal(t, 10*time.Millisecond, d.Next())
	require.Equal(t, 20*time.Millisecond, d.Next())
	require.Equal(t, 30*time.Millisecond, d.Next())
	require.Equal(t, 10*time.Millisecond, d.Next())
}

func TestTraceDistributionMissingFile(t *testing.T) {
	_, err := newTraceDistribution("/nonexistent/trace.txt")
	require.Error(t, err)
}

func TestComputeStatsPercentiles(t *testing.T) {
	samples := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
	}
	stats := computeStats(samples)
	require.Equal(t, 5, stats.Count)
	require.Equal(t, 10*time.Millisecond, stats.Min)
	require.Equal(t, 50*time.Millisecond, stats.Max)
	require.Equal(t, 30*time.Millisecond, stats.Average)
	require.Equal(t, 30*time.Millisecond, stats.P50)
}

func TestWriteCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []time.Duration{1500 * time.Microsecond, 2 * time.Millisecond})
	require.NoError(t, err)
	require.Contains(t, buf.String(), "latency_ms")
	require.Contains(t, buf.String(), "1.500")
	require.Contains(t, buf.String(), "2.000")
}
