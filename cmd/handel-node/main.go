// Copyright 2025 Albatross Validators
//
// Command handel-node
// Demonstration harness wiring N in-process validators through one Handel aggregation round.
//
// Command handel-node is a demonstration harness: it boots N in-process
// validators wired together over an in-memory transport, runs one Handel
// aggregation to completion, and serves /metrics and /healthz while it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/albatross-validator/handel/pkg/config"
	"github.com/albatross-validator/handel/pkg/consensus"
	"github.com/albatross-validator/handel/pkg/crypto/bls"
	"github.com/albatross-validator/handel/pkg/handel"
	"github.com/albatross-validator/handel/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overlays Default(); env vars override it, and the flags below override both)")
	validatorCount := flag.Int("validators", 0, "number of in-process validators to simulate (0: take validator.validator_count from config)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus /metrics listen address (overrides config)")
	healthAddr := flag.String("health-addr", "", "/healthz listen address (overrides config)")
	flag.Parse()

	runID := uuid.New()
	logger := log.New(os.Stdout, fmt.Sprintf("[handel-node %s] ", runID), log.LstdFlags)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			logger.Fatalf("fatal: %v", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	if *validatorCount > 0 {
		cfg.Validator.ValidatorCount = *validatorCount
	}
	if *metricsAddr != "" {
		cfg.Network.MetricsAddr = *metricsAddr
	}
	if *healthAddr != "" {
		cfg.Network.HealthAddr = *healthAddr
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bls.Initialize(); err != nil {
		return fmt.Errorf("initialize BLS: %w", err)
	}

	n := cfg.Validator.ValidatorCount
	message := []byte("handel-node demo round: " + cfg.Handel.ChainID)

	validators := make([]handel.Validator, n)
	privKeys := make([]*bls.PrivateKey, n)
	for i := 0; i < n; i++ {
		validatorID := fmt.Sprintf("validator-%d", i)
		km, err := bls.InitializeValidatorBLSKey(validatorID, cfg.Handel.ChainID, "")
		if err != nil {
			return fmt.Errorf("initialize BLS key for %s: %w", validatorID, err)
		}
		privKeys[i] = km.GetPrivateKey()
		validators[i] = handel.Validator{Index: handel.ValidatorIndex(i), PublicKey: *km.GetPublicKey(), Weight: 1}
	}

	set, err := handel.NewValidatorSet(validators)
	if err != nil {
		return fmt.Errorf("build validator set: %w", err)
	}
	registry := handel.NewWeightedRegistry(set)

	reg := metrics.NewRegistry()
	go serveOps(cfg.Network.MetricsAddr, cfg.Network.HealthAddr, reg, logger)

	driverCfg := handel.Config{
		LevelTimeout:    cfg.Handel.LevelTimeout.Duration(),
		RequestTimeout:  cfg.Handel.RequestTimeout.Duration(),
		SendInterval:    cfg.Handel.SendInterval.Duration(),
		VerifyQueueSize: cfg.Handel.VerifyQueueSize,
		VerifyWorkers:   cfg.Handel.VerifyWorkers,
	}

	bus := handel.NewInMemoryBus()
	handles := make([]*handel.AggregationHandle, n)
	id := handel.NewAggregationID([]byte("demo-block-hash"), 1, 0)
	consumer := consensus.NewLoggingConsumer()

	for i := 0; i < n; i++ {
		part, err := handel.NewBinaryPartitioner(handel.ValidatorIndex(i), n)
		if err != nil {
			return fmt.Errorf("build partitioner for validator %d: %w", i, err)
		}
		store := handel.NewRWStore(part)
		net := bus.NetworkFor(handel.ValidatorIndex(i), 256)

		sig := privKeys[i].SignWithDomain(message, bls.DomainHandelUpdate)
		own, err := handel.NewIndividualContribution(*sig, handel.ValidatorIndex(i), n)
		if err != nil {
			return fmt.Errorf("build own contribution for validator %d: %w", i, err)
		}

		handles[i] = handel.StartAggregation(ctx, id, registry, part, store, handel.NewBLS(), net, own, message, consumer, driverCfg)
		handles[i].WithMetrics(&reg.Collectors)
	}

	monitor := consensus.NewStallMonitor(consensus.DefaultHealthMonitorConfig(), progressFetcher{handles[0]})
	monitor.SetOnStallDetected(func(level int, d time.Duration) {
		logger.Printf("stall monitor: aggregation stuck at level=%d for %v", level, d)
	})
	if err := monitor.Start(); err != nil {
		return fmt.Errorf("start stall monitor: %w", err)
	}
	defer monitor.Stop()

	logger.Printf("started %d validators, aggregation id %s", n, id.String())

	select {
	case final := <-handles[0].Result():
		logger.Printf("aggregation resolved: contributors=%d/%d", final.Contributors.Len(), n)
	case <-ctx.Done():
		logger.Printf("shutting down: %v", ctx.Err())
	case <-time.After(30 * time.Second):
		logger.Printf("timed out waiting for aggregation to resolve")
	}

	for _, h := range handles {
		h.Cancel()
	}
	return nil
}

// progressFetcher adapts an *handel.AggregationHandle to
// consensus.ProgressFetcher so a StallMonitor can watch it without handel
// depending on the consensus package.
type progressFetcher struct {
	handle *handel.AggregationHandle
}

func (f progressFetcher) Progress(ctx context.Context) (consensus.AggregationProgress, error) {
	snap := f.handle.Progress()
	return consensus.AggregationProgress{
		HighestCompletedLevel: snap.HighestCompletedLevel,
		ActiveLevel:           snap.ActiveLevel,
		TotalLevels:           snap.TotalLevels,
	}, nil
}

func serveOps(metricsAddr, healthAddr string, reg *metrics.Registry, logger *log.Logger) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", reg.Handler())
	go func() {
		if err := http.ListenAndServe(metricsAddr, metricsMux); err != nil {
			logger.Printf("metrics server stopped: %v", err)
		}
	}()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if err := http.ListenAndServe(healthAddr, healthMux); err != nil {
		logger.Printf("health server stopped: %v", err)
	}
}
