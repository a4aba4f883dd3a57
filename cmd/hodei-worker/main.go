package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hodeiorg/hodei-pipelines/pkg/config"
	"github.com/hodeiorg/hodei-pipelines/pkg/log"
	"github.com/hodeiorg/hodei-pipelines/pkg/workeragent"
	"github.com/spf13/cobra"
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
	Use:     "hodei-worker",
	Short:   "Hodei Pipelines worker agent",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hodei-worker %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("config", "", "Path to worker config file")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().StringSlice("languages", nil, "Declared language capabilities")
	rootCmd.Flags().StringSlice("tools", nil, "Declared tool capabilities")
	rootCmd.Flags().StringSlice("features", nil, "Declared feature capabilities")
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWorkerConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.WorkerID == "" {
		return fmt.Errorf("worker id is required: set WORKER_ID or workerId in the config file")
	}

	languages, _ := cmd.Flags().GetStringSlice("languages")
	tools, _ := cmd.Flags().GetStringSlice("tools")
	features, _ := cmd.Flags().GetStringSlice("features")

	agent, err := workeragent.New(workeragent.Config{
		WorkerID:         cfg.WorkerID,
		Name:             cfg.WorkerID,
		OrchestratorHost: cfg.OrchestratorHost,
		OrchestratorPort: cfg.OrchestratorPort,
		CacheDir:         cfg.CacheDir,
		Languages:        languages,
		Tools:            tools,
		Features:         features,
		Probes:           cfg.ProbeList(),
	})
	if err != nil {
		return fmt.Errorf("constructing worker agent: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := agent.AwaitReady(ctx); err != nil {
		return fmt.Errorf("readiness probes: %w", err)
	}

	if err := agent.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to orchestrator: %w", err)
	}
	defer agent.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- agent.Run(ctx)
	}()

	log.Logger.Info().Str("worker_id", cfg.WorkerID).Str("orchestrator", fmt.Sprintf("%s:%d", cfg.OrchestratorHost, cfg.OrchestratorPort)).Msg("worker agent started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Logger.Error().Err(err).Msg("worker agent session ended")
		}
	}

	return nil
}
