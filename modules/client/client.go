// Package client implements the workload generator run by the coda-client
// binary (`<client_binary> <config_path> <data_directory>`): it walks a
// directory of images, paces requests against one or more frontends per a
// configurable arrival distribution, and reports per-request latency.
//
// This is external-facing tooling rather than a pipeline stage: it is the
// thing that drives Coda, not a module Coda is built from. Its shape is
// grounded on original_source/src/example/image_client.cc's
// SendImages/ReceiveImages worker pair, translated into one goroutine pair
// per frontend connection instead of raw pthreads.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/codaproj/coda/internal/logging"
	"github.com/codaproj/coda/modules/model"
)

// Request is the client-visible wire shape sent to a frontend, minus the
// server-assigned fields.
type Request struct {
	RequestID uint64
	Model     string
	Scale     model.Scale
	Filename  string
	Bytes     []byte
	EndSignal bool
}

// Reply is the client-visible wire shape returned by a frontend.
type Reply struct {
	RequestID uint64
	ReplyInfo []byte
}

// Conn is one open bidirectional stream to a frontend.
type Conn struct {
	Send  func(*Request) error
	Recv  func() (*Reply, error)
	Close func() error
}

// Transport opens a persistent connection to one frontend, mirroring
// modules/frontend.Transport's shape on the other side of the same RPC.
type Transport interface {
	Dial(ctx context.Context, ip string) (Conn, error)
}

// Config mirrors the client_config block.
type Config struct {
	FrontendIPs []string `mapstructure:"frontend_ips"`
	Model       string   `mapstructure:"model"`
	Scale       model.Scale

	QueryRate           float64 `mapstructure:"query_rate"`
	QueryArrivalDist    string  `mapstructure:"query_arrival_distribution"`
	WorkloadPath        string  `mapstructure:"workload_path"`
	TraceFile           string  `mapstructure:"trace_file"`
	BurstSize           int     `mapstructure:"burst_size"`
	OutputCSV           string  `mapstructure:"output_csv"`
}

// Validate checks for configuration-invalid errors.
func (c Config) Validate() error {
	if len(c.FrontendIPs) == 0 {
		return fmt.Errorf("client: at least one frontend_ip is required")
	}
	if c.QueryRate <= 0 {
		return fmt.Errorf("client: query_rate must be > 0, got %f", c.QueryRate)
	}
	switch c.QueryArrivalDist {
	case "", "poisson", "bursty", "trace":
	default:
		return fmt.Errorf("client: unknown query_arrival_distribution %q", c.QueryArrivalDist)
	}
	if c.QueryArrivalDist == "trace" && c.TraceFile == "" {
		return fmt.Errorf("client: query_arrival_distribution=trace requires a trace_file")
	}
	return nil
}

// Client drives one workload run: directory walk, per-frontend send/recv
// pairs, and latency reporting.
type Client struct {
	cfg       Config
	transport Transport
	dist      Distribution

	mu      sync.Mutex
	sentAt  map[uint64]time.Time
	samples []time.Duration
}

// New constructs a Client. The arrival distribution is selected from
// cfg.QueryArrivalDist ("poisson" is the default).
func New(cfg Config, transport Transport) (*Client, error) {
	dist, err := NewDistribution(cfg.QueryArrivalDist, cfg.QueryRate, cfg.TraceFile, cfg.BurstSize)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:       cfg,
		transport: transport,
		dist:      dist,
		sentAt:    make(map[uint64]time.Time),
	}, nil
}

// imageFiles walks dir and returns every .jpg/.jpeg/.png file found, sorted
// by path for a reproducible run.
func imageFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// Run walks dataDir, fans the resulting files out round-robin across
// cfg.FrontendIPs, and blocks until every reply has arrived or ctx is
// cancelled. It returns the aggregate latency Stats for the run.
func (c *Client) Run(ctx context.Context, dataDir string) (Stats, error) {
	files, err := imageFiles(dataDir)
	if err != nil {
		return Stats{}, fmt.Errorf("client: walk %s: %w", dataDir, err)
	}
	if len(files) == 0 {
		return Stats{}, fmt.Errorf("client: no .jpg/.png files found under %s", dataDir)
	}

	shares := make([][]string, len(c.cfg.FrontendIPs))
	for i, f := range files {
		idx := i % len(c.cfg.FrontendIPs)
		shares[idx] = append(shares[idx], f)
	}

	var allocMu sync.Mutex
	nextID := uint64(1)
	allocID := func() uint64 {
		allocMu.Lock()
		defer allocMu.Unlock()
		v := nextID
		nextID++
		return v
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, ip := range c.cfg.FrontendIPs {
		ip, files := ip, shares[i]
		if len(files) == 0 {
			continue
		}
		conn, err := c.transport.Dial(ctx, ip)
		if err != nil {
			return Stats{}, fmt.Errorf("client: dial %s: %w", ip, err)
		}
		g.Go(func() error { return c.sendLoop(ctx, conn, files, allocID) })
		g.Go(func() error { return c.recvLoop(ctx, conn) })
	}

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return computeStats(c.samples), nil
}

// Samples returns a copy of the raw per-request latencies collected by the
// most recent Run, for callers that want to dump them (e.g. coda-client's
// output_csv) beyond the aggregate Stats.
func (c *Client) Samples() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.samples))
	copy(out, c.samples)
	return out
}

func (c *Client) sendLoop(ctx context.Context, conn Conn, files []string, allocID func() uint64) error {
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			level.Error(logging.Logger).Log("msg", "read image failed", "path", path, "err", err)
			continue
		}

		id := allocID()
		c.mu.Lock()
		c.sentAt[id] = time.Now()
		c.mu.Unlock()

		req := &Request{RequestID: id, Model: c.cfg.Model, Scale: c.cfg.Scale, Filename: filepath.Base(path), Bytes: data}
		if err := conn.Send(req); err != nil {
			return fmt.Errorf("client: send %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.dist.Next()):
		}
	}
	if err := conn.Send(&Request{EndSignal: true}); err != nil {
		return fmt.Errorf("client: send end signal: %w", err)
	}
	return nil
}

func (c *Client) recvLoop(ctx context.Context, conn Conn) error {
	defer conn.Close()
	for {
		reply, err := conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if reply == nil {
			return nil
		}

		c.mu.Lock()
		sentAt, ok := c.sentAt[reply.RequestID]
		if ok {
			delete(c.sentAt, reply.RequestID)
			c.samples = append(c.samples, time.Since(sentAt))
		}
		c.mu.Unlock()

		if !ok {
			level.Warn(logging.Logger).Log("msg", "reply for unknown request id", "request_id", reply.RequestID)
		}
	}
}
