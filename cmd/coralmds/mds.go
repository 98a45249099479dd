package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coralfs/coralfs/internal/config"
	"github.com/coralfs/coralfs/internal/datapool"
	"github.com/coralfs/coralfs/internal/finisher"
	"github.com/coralfs/coralfs/internal/journal"
	"github.com/coralfs/coralfs/internal/logging"
	"github.com/coralfs/coralfs/internal/metadata/oxia"
	"github.com/coralfs/coralfs/internal/metrics"
	"github.com/coralfs/coralfs/internal/objectstore"
	"github.com/coralfs/coralfs/internal/objectstore/s3"
	"github.com/coralfs/coralfs/internal/purge"
)

func runMDS(args []string) {
	fs := flag.NewFlagSet("mds", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	rank := fs.Int("rank", -1, "Override MDS rank")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9090)")
	drainOnStop := fs.Bool("drain", false, "Drain the purge queue before shutting down")

	fs.Usage = func() {
		fmt.Println(`Usage: coralmds mds [options]

Start the CoralFS metadata server.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *rank >= 0 {
		cfg.MDS.Rank = int32(*rank)
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	log := logger.WithSubsystem("mds").WithRank(cfg.MDS.Rank)
	log.Infof("starting", map[string]any{"version": version, "commit": gitCommit})

	ctx := context.Background()

	metricsServer := metrics.NewServer(cfg.Observability.MetricsAddr)
	if err := metricsServer.Start(); err != nil {
		log.Errorf("failed to start metrics server", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer metricsServer.Close()

	objStore, err := s3.New(ctx, s3.Config{
		Bucket:          cfg.ObjectStore.Bucket,
		Region:          cfg.ObjectStore.Region,
		Endpoint:        cfg.ObjectStore.Endpoint,
		AccessKeyID:     cfg.ObjectStore.AccessKey,
		SecretAccessKey: cfg.ObjectStore.SecretKey,
		UsePathStyle:    cfg.ObjectStore.UsePathStyle,
	})
	if err != nil {
		log.Errorf("failed to open object store", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	store := objectstore.NewInstrumentedStore(objStore, metrics.NewObjectStoreMetrics())
	defer store.Close()

	metaStore, err := oxia.New(ctx, oxia.Config{
		ServiceAddress: cfg.Metadata.OxiaEndpoint,
		Namespace:      cfg.Metadata.Namespace,
	})
	if err != nil {
		log.Errorf("failed to open metadata store", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer metaStore.Close()

	exec := finisher.NewFinisher()
	journalLog := journal.NewLog(journal.Config{
		Name:             fmt.Sprintf("pq.%d", cfg.MDS.Rank),
		Rank:             cfg.MDS.Rank,
		SegmentSizeBytes: cfg.Journal.SegmentSizeBytes,
		FlushInterval:    time.Duration(cfg.Journal.FlushIntervalMs) * time.Millisecond,
		Compression:      cfg.Journal.Compression,
	}, metaStore, store, exec, metrics.NewJournalMetrics())

	client := datapool.NewStoreClient(store, datapool.DefaultStoreClientConfig())

	queue := purge.NewQueue(purge.Config{
		Rank:         cfg.MDS.Rank,
		MetadataPool: cfg.MDS.MetadataPool,
		MaxInFlight:  cfg.Purge.MaxInFlight,
	}, journalLog, client, exec,
		purge.WithMetrics(metrics.NewPurgeMetrics()),
		purge.WithOnFatal(func(err error) {
			log.Errorf("purge queue halted, operator intervention required",
				map[string]any{"error": err.Error()})
		}),
	)
	queue.Init()

	opened := make(chan error, 1)
	queue.OpenOrCreate(func(err error) { opened <- err })
	if err := <-opened; err != nil {
		log.Errorf("failed to open purge queue", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	log.Info("purge queue ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("shutting down", map[string]any{"signal": sig.String()})

	if *drainOnStop {
		drainCtx, cancel := context.WithTimeout(ctx, time.Minute)
		if err := queue.Drain(drainCtx); err != nil {
			log.Warnf("drain incomplete", map[string]any{"error": err.Error()})
		}
		cancel()
	}
	queue.Shutdown()
	log.Info("stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}
