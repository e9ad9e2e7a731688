// Command coda-backend runs the backend batcher/infer/reply loop behind
// a codapb.BackendService gRPC server, plus a gorilla/mux
// debug HTTP endpoint, matching cmd/tempo/main.go's config-load ->
// logger-init -> component-construct -> signal-aware-run shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/codaproj/coda/internal/config"
	"github.com/codaproj/coda/internal/logging"
	"github.com/codaproj/coda/modules/backend"
	"github.com/codaproj/coda/modules/model"
	"github.com/codaproj/coda/pkg/cache"
	"github.com/codaproj/coda/pkg/codapb"
)

const grpcAddr = ":50051"
const httpAddr = ":50061"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: coda-backend <config_path>")
		os.Exit(1)
	}

	root, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "coda-backend: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(root.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "coda-backend: %v\n", err)
		os.Exit(1)
	}
	if err := root.Validate(); err != nil {
		level.Error(logging.Logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	codapb.RegisterCodec()

	c, err := cache.New(root.Cache)
	if err != nil {
		level.Error(logging.Logger).Log("msg", "cache init failed", "err", err)
		os.Exit(1)
	}

	bc, err := root.BuildBackendConfig()
	if err != nil {
		level.Error(logging.Logger).Log("msg", "backend config build failed", "err", err)
		os.Exit(1)
	}

	be := backend.New(bc, c, newInferFunc(root.Triton.Model))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return be.Run(ctx) })

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		level.Error(logging.Logger).Log("msg", "listen failed", "addr", grpcAddr, "err", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	codapb.RegisterBackendServiceServer(grpcServer, &backendServer{backend: be})

	g.Go(func() error { return grpcServer.Serve(lis) })
	g.Go(func() error {
		<-ctx.Done()
		grpcServer.GracefulStop()
		return nil
	})

	httpSrv := newDebugServer(httpAddr, c)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	level.Info(logging.Logger).Log("msg", "coda-backend starting", "grpc_addr", grpcAddr, "http_addr", httpAddr, "batch_mode", bc.Mode)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		level.Error(logging.Logger).Log("msg", "coda-backend stopped", "err", err)
		os.Exit(1)
	}
}

// backendServer implements codapb.BackendServiceServer over one
// *backend.Backend, registering one stream ref per open connection: the
// ref the caller assigns to every Query.StreamRef.
type backendServer struct {
	backend *backend.Backend
}

func (s *backendServer) Infer(stream codapb.BackendService_InferServer) error {
	ref := uuid.NewString()
	w := &streamWriter{stream: stream}
	s.backend.RegisterStream(ref, w)
	defer s.backend.UnregisterStream(ref)

	for {
		req, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		isCDC, err := codapb.ParseEncodeType(req.EncodeType)
		if err != nil {
			level.Warn(logging.Logger).Log("msg", "unknown encode_type, treating as Backup", "encode_type", req.EncodeType)
		}
		class := model.ClassBackup
		if isCDC {
			class = model.ClassCDC
		}

		level.Debug(logging.Logger).Log("msg", "query received", "qid", req.Id, "tensor_bytes", humanize.Bytes(uint64(len(req.Data))))

		s.backend.Submit(&model.Query{
			QID:             req.Id,
			Class:           class,
			Model:           req.ModelName,
			Scale:           model.Scale(req.Scale),
			Filename:        req.Filename,
			TensorBytes:     req.Data,
			StreamRef:       ref,
			FrontendID:      req.FrontendId,
			Recompute:       req.Recompute,
			EndSignal:       req.EndSignal,
			SubmittedAt:     time.Now(),
			CdcInferTime:    req.CdcInferTime,
			BackupInferTime: req.BackupInferTime,
			DecodeTime:      req.DecodeTime,
		})
	}
}

// streamWriter adapts a codapb.BackendService_InferServer to
// backend.StreamWriter. A mutex is required since both the Submit-time
// cache-hit path and the backend's single async reply worker may write to
// the same connection's stream from different goroutines.
type streamWriter struct {
	mu     sync.Mutex
	stream codapb.BackendService_InferServer
}

func (w *streamWriter) Send(qid uint64, replyInfo []byte, recompute bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stream.Send(&codapb.CodaReply{Id: qid, ReplyInfo: replyInfo, Recompute: recompute})
}

func newDebugServer(addr string, c *cache.Cache) *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		stats := c.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"cache_hits":%d,"cache_misses":%d,"cache_hit_rate":%.4f}`, stats.Hits, stats.Misses, stats.HitRate)
	})
	return &http.Server{Addr: addr, Handler: router}
}

// newInferFunc constructs the opaque model-server call. No real Triton
// client ships here; this stand-in returns one length-tagged reply per
// item so the batcher/reply pipeline is fully exercisable without a
// model server.
func newInferFunc(modelName string) backend.InferFunc {
	return func(batch *backend.BatchQuery) ([][]byte, error) {
		out := make([][]byte, len(batch.Items))
		for i, q := range batch.Items {
			out[i] = simulateInfer(modelName, q.TensorBytes)
		}
		return out, nil
	}
}

// simulateInfer stands in for a real Triton inference call: it returns a
// short deterministic payload derived from the tensor length, since the
// actual model math is out of scope here.
func simulateInfer(modelName string, tensor []byte) []byte {
	return []byte(fmt.Sprintf("%s:%d", modelName, len(tensor)))
}
