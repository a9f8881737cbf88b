package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/cnpjgraph/pkg/config"
	"github.com/orneryd/cnpjgraph/pkg/graph"
	"github.com/orneryd/cnpjgraph/pkg/ingest"
	"github.com/orneryd/cnpjgraph/pkg/logging"
	"github.com/orneryd/cnpjgraph/pkg/receita"
	"github.com/orneryd/cnpjgraph/pkg/storage"
)

const connectTimeout = 30 * time.Second

// loadConfig layers defaults, the --config file, the environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	setString := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	setString("store", &cfg.Store.Kind)
	setString("uri", &cfg.Store.URI)
	setString("database", &cfg.Store.Database)
	setString("data-dir", &cfg.Store.DataDir)
	setString("log-level", &cfg.Logging.Level)
	setString("log-format", &cfg.Logging.Format)

	if flags.Lookup("uf") != nil {
		setString("uf", &cfg.Filter.State)
		setString("municipio", &cfg.Filter.Municipality)
		setString("bairro", &cfg.Filter.Neighborhood)
		setString("metrics-addr", &cfg.Metrics.Addr)
		if flags.Changed("include-baixadas") {
			cfg.Filter.IncludeClosed, _ = flags.GetBool("include-baixadas")
		}
		if flags.Changed("high-water-mark") {
			cfg.Ingest.HighWaterMark, _ = flags.GetInt("high-water-mark")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore connects to the configured graph backend.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (graph.Store, error) {
	switch cfg.Store.Kind {
	case config.StoreEmbedded:
		if err := os.MkdirAll(cfg.Store.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		store, err := graph.OpenEngineStore(storage.BadgerOptions{
			DataDir:    cfg.Store.DataDir,
			SyncWrites: cfg.Store.SyncWrites,
			Logger:     logging.Badger(logger),
		})
		if err != nil {
			return nil, fmt.Errorf("opening embedded store: %w", err)
		}
		return store, nil
	default:
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return graph.ConnectBolt(ctx, graph.BoltOptions{
			URI:                   cfg.Store.URI,
			Username:              cfg.Store.Username,
			Password:              cfg.Store.Password,
			Database:              cfg.Store.Database,
			MaxConnectionPoolSize: cfg.Store.MaxConnectionPoolSize,
			Logger:                logger,
		})
	}
}

// startMetrics serves /metrics for reg on addr. The returned stop function
// shuts the server down.
func startMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	base, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = base.Sync() }()
	logger := base.With(zap.String("run_id", runID))
	logger.Info("configuration loaded", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Input first: a missing file must not touch the store.
	file, err := receita.OpenFile(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ingest.NewMetrics(reg)
	if cfg.Metrics.Addr != "" {
		stopMetrics := startMetrics(cfg.Metrics.Addr, reg, logger)
		defer stopMetrics()
	}

	writer := graph.NewWriter(store, graph.WriterOptions{
		WriteTimeout: cfg.Ingest.WriteTimeout,
		Logger:       logger,
	})
	pipeline := ingest.New(writer, ingest.Options{
		Filter:           cfg.Filter,
		HighWaterMark:    cfg.Ingest.HighWaterMark,
		ProgressInterval: cfg.Ingest.ProgressInterval,
		RunID:            runID,
		Logger:           base,
		Metrics:          metrics,
	})

	res, err := pipeline.Run(ctx, file)
	if res != nil {
		printResult(cmd, file.Name, res)
	}
	return err
}

func printResult(cmd *cobra.Command, name string, res *ingest.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📄 %s\n", name)
	if res.Header != nil {
		fmt.Fprintf(out, "   File id:        %s (generated %s)\n", res.Header.FileID, res.Header.GeneratedOn)
	}
	if !res.SawTrailer {
		fmt.Fprintln(out, "   ⚠️  No trailer line: extract may be truncated")
	}
	fmt.Fprintf(out, "   Lines read:     %s\n", humanize.Comma(int64(res.Lines)))
	fmt.Fprintf(out, "   Records:        %s decoded, %s received, %s filtered, %s skipped\n",
		humanize.Comma(res.Decoded), humanize.Comma(res.Received),
		humanize.Comma(res.Filtered), humanize.Comma(res.Skipped))
	fmt.Fprintf(out, "   Inserted:       %s entities, %s addresses, %s relationships\n",
		humanize.Comma(res.Inserted), humanize.Comma(res.AddressesCreated),
		humanize.Comma(res.RelationshipsCreated))
	if res.WriteFailures > 0 {
		fmt.Fprintf(out, "   ⚠️  Write failures: %s\n", humanize.Comma(res.WriteFailures))
		if res.FirstWriteError != nil {
			fmt.Fprintf(out, "      first: %v\n", res.FirstWriteError)
		}
	}
	fmt.Fprintf(out, "   Peak in flight: %d (%s backpressure waits)\n",
		res.PeakInFlight, humanize.Comma(res.BackpressureWaits))
	fmt.Fprintf(out, "   Elapsed:        %s\n", res.Elapsed.Round(time.Millisecond))
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	counts, err := store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("reading counts: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-14s %s\n", graph.LabelLegalEntity, humanize.Comma(counts.LegalEntities))
	fmt.Fprintf(out, "%-14s %s\n", graph.LabelAddress, humanize.Comma(counts.Addresses))
	fmt.Fprintf(out, "%-14s %s\n", graph.RelLocatedAt, humanize.Comma(counts.LocatedAt))
	return nil
}
