// Command coda-client runs the workload generator
// (usage: coda-client <config_path> <data_directory>): it walks a directory
// of images, sends them across the configured frontends at the configured
// arrival pacing, and reports latency statistics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/codaproj/coda/internal/config"
	"github.com/codaproj/coda/internal/logging"
	"github.com/codaproj/coda/modules/client"
	"github.com/codaproj/coda/pkg/codapb"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: coda-client <config_path> <data_directory>")
		os.Exit(1)
	}
	dataDir := os.Args[2]

	root, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "coda-client: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(root.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "coda-client: %v\n", err)
		os.Exit(1)
	}

	codapb.RegisterCodec()

	cc, err := root.BuildClientConfig()
	if err != nil {
		level.Error(logging.Logger).Log("msg", "client config build failed", "err", err)
		os.Exit(1)
	}

	c, err := client.New(cc, &grpcTransport{})
	if err != nil {
		level.Error(logging.Logger).Log("msg", "client init failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level.Info(logging.Logger).Log("msg", "coda-client starting", "data_dir", dataDir, "frontends", len(cc.FrontendIPs))
	stats, err := c.Run(ctx, dataDir)
	if err != nil {
		level.Error(logging.Logger).Log("msg", "run failed", "err", err)
		os.Exit(1)
	}

	level.Info(logging.Logger).Log("msg", "run complete",
		"count", stats.Count,
		"avg", stats.Average,
		"p50", stats.P50,
		"p90", stats.P90,
		"p95", stats.P95,
		"p99", stats.P99,
		"min", stats.Min,
		"max", stats.Max,
	)

	if cc.OutputCSV != "" {
		f, err := os.Create(cc.OutputCSV)
		if err != nil {
			level.Error(logging.Logger).Log("msg", "csv create failed", "err", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := client.WriteCSV(f, c.Samples()); err != nil {
			level.Error(logging.Logger).Log("msg", "csv write failed", "err", err)
			os.Exit(1)
		}
	}
}

// grpcTransport dials a persistent codapb.FrontendServiceClient stream per
// frontend IP.
type grpcTransport struct{}

func (t *grpcTransport) Dial(ctx context.Context, ip string) (client.Conn, error) {
	conn, err := grpc.NewClient(ip, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return client.Conn{}, fmt.Errorf("client: dial %s: %w", ip, err)
	}

	fc := codapb.NewFrontendServiceClient(conn)
	stream, err := fc.Infer(ctx)
	if err != nil {
		return client.Conn{}, fmt.Errorf("client: open stream to %s: %w", ip, err)
	}

	return client.Conn{
		Send: func(r *client.Request) error {
			return stream.Send(&codapb.CodaRequest{
				Id:        r.RequestID,
				Filename:  r.Filename,
				ModelName: r.Model,
				Scale:     int32(r.Scale),
				Data:      r.Bytes,
				EndSignal: r.EndSignal,
			})
		},
		Recv: func() (*client.Reply, error) {
			reply, err := stream.Recv()
			if err != nil {
				return nil, err
			}
			return &client.Reply{RequestID: reply.Id, ReplyInfo: reply.ReplyInfo}, nil
		},
		Close: func() error { return conn.Close() },
	}, nil
}
