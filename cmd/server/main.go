package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-quota-service/internal/config"
	"signal-quota-service/internal/consensus"
	"signal-quota-service/internal/core/service"
	"signal-quota-service/internal/eviction"
	grpcadapter "signal-quota-service/internal/grpc"
	"signal-quota-service/internal/observability"
	"signal-quota-service/internal/store"

	_ "net/http/pprof" // Register pprof handlers

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Parse("signal-quota-server", args)
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	// Initialize Store and FSM
	signalStore := store.New()
	fsm := consensus.NewFSM(signalStore)

	node, err := consensus.SetupRaft(consensus.RaftConfig{
		Dir:           cfg.RaftDir,
		NodeID:        cfg.NodeID,
		BindAddr:      cfg.RaftAddr,
		AdvertiseAddr: cfg.RaftAdvertise,
	}, fsm, logger.Named("raft"))
	if err != nil {
		return fmt.Errorf("setup raft: %w", err)
	}
	defer func() {
		if err := node.Shutdown(); err != nil {
			logger.Warn("raft shutdown failed", "error", err)
		}
	}()

	if cfg.Bootstrap {
		// Fails harmlessly when the node restarts with existing state.
		if err := node.Bootstrap(); err != nil {
			logger.Warn("failed to bootstrap cluster", "error", err)
		}
	} else if cfg.Join != "" {
		if err := joinCluster(cfg.NodeID, string(node.Addr), cfg.Join); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
	}

	controller, err := cfg.Controller(eviction.WithReporter(observability.PrometheusReporter{}))
	if err != nil {
		return err
	}
	svc := service.New(signalStore, node, controller,
		service.WithLogger(logger.Named("service")),
		service.WithLockStripes(cfg.LockStripes),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newHandler(svc, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	grpcServer := gogrpc.NewServer()
	grpcadapter.Register(grpcServer, grpcadapter.New(svc))

	logger.Info("server listening",
		"http", cfg.HTTPAddr, "grpc", cfg.GRPCAddr, "raft", node.Addr,
		"soft_limit_bytes", cfg.Quota.SoftLimitBytes, "hard_limit_bytes", cfg.Quota.HardLimitBytes)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return grpcServer.Serve(grpcListener)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func joinCluster(nodeID, raftAddr, joinAddr string) error {
	query := url.Values{"node_id": {nodeID}, "addr": {raftAddr}}
	u := fmt.Sprintf("http://%s/join?%s", joinAddr, query.Encode())
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to join: %s", resp.Status)
	}
	return nil
}
