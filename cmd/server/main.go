// Command clinic-credit-server starts the redemption engine: gRPC and HTTP
// APIs plus the pending-transaction sweeper.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/clinic-credit/internal/auth"
	"github.com/and161185/clinic-credit/internal/config"
	"github.com/and161185/clinic-credit/internal/metrics"
	"github.com/and161185/clinic-credit/internal/sched"
	grpcserver "github.com/and161185/clinic-credit/internal/server/grpc"
	httpserver "github.com/and161185/clinic-credit/internal/server/http"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("http", cfg.HTTPAddr),
		zap.String("storage", cfg.Storage),
		zap.String("limiter", cfg.Limiter),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := buildApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(reg)

	tokens := auth.New([]byte(cfg.AccessTokenKey))
	g, ctx := errgroup.WithContext(ctx)

	if cfg.GRPCAddr != "" {
		var opts []grpc.ServerOption
		if cfg.TLSCert != "" {
			creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				return fmt.Errorf("load TLS cert/key: %w", err)
			}
			opts = append(opts, grpc.Creds(creds))
		}
		gs := grpcserver.NewGRPCServer(grpcserver.New(a.orch, logger), tokens, logger, opts...)
		hs := health.NewServer()
		healthpb.RegisterHealthServer(gs, hs)
		hs.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
		if cfg.Dev {
			reflection.Register(gs)
		}

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		g.Go(func() error {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("tls", cfg.TLSCert != ""))
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			hs.Shutdown()
			done := make(chan struct{})
			go func() {
				gs.GracefulStop()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				gs.Stop()
			}
			return nil
		})
	}

	if cfg.HTTPAddr != "" {
		h := httpserver.NewHandler(a.orch, tokens, a.pinger, logger)
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           h.Router(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
			var err error
			if cfg.TLSCert != "" {
				err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	worker := sched.NewExpiryWorker(cfg.ExpiryInterval, a.orch, logger, a.sweepers...)
	g.Go(func() error { return worker.Run(ctx) })

	return g.Wait()
}
