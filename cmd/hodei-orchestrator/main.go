package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hodeiorg/hodei-pipelines/pkg/autoscaler"
	"github.com/hodeiorg/hodei-pipelines/pkg/config"
	"github.com/hodeiorg/hodei-pipelines/pkg/driver"
	"github.com/hodeiorg/hodei-pipelines/pkg/events"
	"github.com/hodeiorg/hodei-pipelines/pkg/execution"
	"github.com/hodeiorg/hodei-pipelines/pkg/listener"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/metrics"
	"github.com/hodeiorg/hodei-pipelines/pkg/monitor"
	"github.com/hodeiorg/hodei-pipelines/pkg/orchestrator"
	"github.com/hodeiorg/hodei-pipelines/pkg/quota"
	"github.com/hodeiorg/hodei-pipelines/pkg/scheduler"
	"github.com/hodeiorg/hodei-pipelines/pkg/storage"
	"github.com/hodeiorg/hodei-pipelines/pkg/wire"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hodei-orchestrator",
	Short:   "Hodei Pipelines job orchestrator",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hodei-orchestrator %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("config", "", "Path to orchestrator config file")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrchestratorConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	drv, err := driver.NewContainerDaemonDriver(cfg.DriverSocket)
	if err != nil {
		return fmt.Errorf("connecting to compute driver: %w", err)
	}
	defer drv.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	quotaEngine := quota.New(store, store, store)
	quotaMonitor := quota.NewMonitorLoop(quotaEngine, broker, "@every 30s")
	if err := quotaMonitor.Start(context.Background()); err != nil {
		return fmt.Errorf("starting quota monitor: %w", err)
	}
	defer quotaMonitor.Stop()

	res := monitor.New(store, drv, nil, broker, cfg.MonitorInterval, monitor.DefaultCacheExpiration)
	if err := res.Start(context.Background()); err != nil {
		return fmt.Errorf("starting resource monitor: %w", err)
	}
	defer res.Stop()

	sched := scheduler.New(store, store, quotaEngine, res)

	listeners := listener.New()

	engine := execution.New(store, store, drv, quotaEngine, listeners, orchestratorHost(cfg.BindAddr), orchestratorPort(cfg.BindAddr))
	hub := execution.NewHub(engine)
	engine.SetHub(hub)

	scale := autoscaler.New(store, drv, poolSnapshotSource{pools: store, queues: store, queuedJobs: store, monitor: res})

	orch := orchestrator.New(store, store, store, store, store, sched, engine, listeners, broker, cfg.ProcessingTick)
	if err := orch.Start(context.Background()); err != nil {
		return fmt.Errorf("starting processing loop: %w", err)
	}
	defer orch.Stop()

	stopAutoscaler := make(chan struct{})
	go autoscalerLoop(scale, stopAutoscaler)
	defer close(stopAutoscaler)

	lis, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", cfg.BindAddr, err)
	}

	grpcServer := grpc.NewServer()
	wire.RegisterSessionHandler(grpcServer, hub)

	errCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Logger.Info().Str("bind_addr", cfg.BindAddr).Str("metrics_addr", cfg.MetricsAddr).Msg("orchestrator started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("server error")
	}

	grpcServer.GracefulStop()
	return nil
}

func autoscalerLoop(scale *autoscaler.Autoscaler, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			scale.Tick(context.Background(), now)
		}
	}
}

// poolSnapshotSource adapts the queue store and resource monitor to
// autoscaler.SnapshotSource: queue length and wait time come from
// queued jobs bound to each pool's queues, utilization from the
// monitor's latest sample.
type poolSnapshotSource struct {
	pools      storage.ResourcePoolRepository
	queues     storage.JobQueueRepository
	queuedJobs storage.QueuedJobRepository
	monitor    *monitor.Monitor
}

func (s poolSnapshotSource) Snapshot(poolID string) (autoscaler.Snapshot, error) {
	queues, err := s.queues.ListQueues()
	if err != nil {
		return autoscaler.Snapshot{}, err
	}

	var queueLength int
	var totalWait time.Duration
	now := time.Now()

	for _, q := range queues {
		if q.ResourcePoolID != poolID {
			continue
		}
		entries, err := s.queuedJobs.ListQueuedJobsByQueue(q.ID)
		if err != nil {
			continue
		}
		for _, qj := range entries {
			queueLength++
			totalWait += now.Sub(qj.QueuedAt)
		}
	}

	var avgWait time.Duration
	if queueLength > 0 {
		avgWait = totalWait / time.Duration(queueLength)
	}

	util, _ := s.monitor.Sample(context.Background(), poolID)

	pool, err := s.pools.GetPool(poolID)
	if err != nil {
		return autoscaler.Snapshot{}, err
	}

	var utilization float64
	if pool.Capacity.TotalCPUMillicores > 0 {
		utilization = float64(util.UsedCPUMillicores) / float64(pool.Capacity.TotalCPUMillicores)
	}

	return autoscaler.Snapshot{
		QueueLength:            queueLength,
		AvgWaitTime:            avgWait,
		WorkerUtilization:      utilization,
		AvailableCPUMillicores: pool.Capacity.TotalCPUMillicores - util.UsedCPUMillicores,
		AvailableMemoryBytes:   pool.Capacity.TotalMemoryBytes - util.UsedMemoryBytes,
		AvailableNodes:         pool.Capacity.AvailableCount,
	}, nil
}

func orchestratorHost(bindAddr string) string {
	host, _, err := net.SplitHostPort(bindAddr)
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

func orchestratorPort(bindAddr string) int {
	_, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return 7654
	}
	var p int
	fmt.Sscanf(port, "%d", &p)
	return p
}
