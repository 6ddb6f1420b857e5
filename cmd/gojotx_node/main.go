// Command gojotx_node runs one transaction-engine node: the adaptive
// concurrency controller, the distributed commit engine, its TCP
// transport and the coordinator liveness monitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sushant-115/gojotx/core/cluster"
	"github.com/sushant-115/gojotx/core/storage"
	"github.com/sushant-115/gojotx/core/transaction/adaptive"
	"github.com/sushant-115/gojotx/core/transaction/commit"
	"github.com/sushant-115/gojotx/pkg/config"
	"github.com/sushant-115/gojotx/pkg/logger"
	"github.com/sushant-115/gojotx/pkg/telemetry"
	"github.com/sushant-115/gojotx/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gojotx_node: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := telemetry.NewEngineMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	localID := commit.NodeID(cfg.Node.ID)
	members := map[commit.NodeID]string{localID: cfg.Node.ListenAddr}
	for id, addr := range cfg.Node.Peers {
		members[commit.NodeID(id)] = addr
	}
	registry := commit.NewRegistry(members)

	store := storage.NewMemStore(log)

	// The transport and engine reference each other: the transport feeds
	// inbound messages to the engine, the engine sends through the
	// transport. Break the cycle with a late-bound handler.
	var engine *commit.Engine
	monitor := (*cluster.Monitor)(nil)
	handler := func(msg commit.Message) error {
		if monitor != nil {
			monitor.Observe(msg)
		}
		return engine.HandleMessage(msg)
	}
	tcp := transport.NewTCP(localID, registry, handler, log)

	engine = commit.NewEngine(cfg.Commit, localID, registry, tcp, store, log, metrics)
	monitor = cluster.NewMonitor(engine, 3*engine.HeartbeatInterval(), log)
	controller := adaptive.NewController(cfg.Adaptive, log, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- tcp.Serve(ctx, cfg.Node.ListenAddr)
	}()
	go engine.Run(ctx)
	go monitor.Run(ctx)
	go controller.Run(ctx)

	log.Info("Node started",
		zap.String("node", cfg.Node.ID),
		zap.String("listen", cfg.Node.ListenAddr),
		zap.Int("peers", len(cfg.Node.Peers)),
		zap.String("protocol", string(cfg.Commit.CommitProtocol)),
		zap.Stringer("algorithm", controller.CurrentAlgorithm()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("Transport failed", zap.Error(err))
		}
	}

	cancel()
	tcp.Close()
	if err := shutdownTelemetry(context.Background()); err != nil {
		log.Warn("Telemetry shutdown failed", zap.Error(err))
	}
	return nil
}
