package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dailyux/eldercare-go/grpcapi"
	"github.com/dailyux/eldercare-go/observability"
	"github.com/dailyux/eldercare-go/server"
)

const serviceName = "dailycare"

var (
	httpAddr string
	grpcAddr string
	noGRPC   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers",
	Long: `Serves the JSON API, SSE streaming and WebSocket chat over HTTP (default :8501)
and the Assistant service over gRPC (default :9501). Scheduled follow-ups run in
the same process. Stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&grpcAddr, "grpc", "", "gRPC listen address (overrides config)")
	serveCmd.Flags().BoolVar(&noGRPC, "no-grpc", false, "do not start the gRPC server")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := cfg.Observability
	tp, err := observability.InitTracing(ctx, serviceName, obs.OTLPEndpoint, obs.ConsoleTraces)
	if err != nil {
		return err
	}
	defer shutdownWithTimeout(tp.Shutdown)

	var metricsHandler http.Handler
	if obs.Metrics {
		mp, handler, err := observability.InitMetrics(ctx, serviceName)
		if err != nil {
			return err
		}
		defer shutdownWithTimeout(mp.Shutdown)
		metricsHandler = handler
	}

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if httpAddr != "" {
		cfg.Server.HTTPAddr = httpAddr
	}
	if grpcAddr != "" {
		cfg.Server.GRPCAddr = grpcAddr
	}

	httpServer := server.New(server.Options{
		Assistant:     a.assistant,
		Records:       a.records,
		Adherence:     a.adherence,
		Notifications: a.notifications,
		Metrics:       metricsHandler,
		CORSOrigins:   cfg.Server.CORSOrigins,
		RateLimit:     cfg.Server.RateLimit,
		Version:       version,
		Logger:        logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.ListenAndServe(gctx, cfg.Server.HTTPAddr)
	})
	if !noGRPC {
		grpcServer := grpcapi.NewServer(a.assistant, logger)
		g.Go(func() error {
			return grpcServer.ListenAndServe(gctx, cfg.Server.GRPCAddr)
		})
	}
	g.Go(func() error {
		return a.assistant.Run(gctx)
	})

	logger.Info("dailycare started",
		"version", version,
		"http", cfg.Server.HTTPAddr,
		"grpc", cfg.Server.GRPCAddr,
		"llm_available", a.assistant.Available(),
	)
	return g.Wait()
}

func shutdownWithTimeout(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("shutdown failed", "error", err)
	}
}
