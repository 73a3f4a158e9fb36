package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/api"
	"github.com/ownership-graph/rollwin/internal/cache/redis"
	"github.com/ownership-graph/rollwin/internal/metrics"
	"github.com/ownership-graph/rollwin/internal/pipeline"
	"github.com/ownership-graph/rollwin/internal/storage/sqlite"
	appLogger "github.com/ownership-graph/rollwin/pkg/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every window and export node features",
	RunE:  runPipeline,
}

func init() {
	flags := runCmd.Flags()
	flags.Bool("rebuild-base-graph", false, "drop and reproject the base graph before the first window")
	flags.String("output-dir", "", "output directory")
	flags.Bool("link-prediction", false, "run kinship link prediction per window")
	flags.String("engine", "", "analytics backend: neo4j or memory")
	flags.String("graph-file", "", "directory with nodes.parquet and relationships.parquet for the memory engine")

	bind(flags.Lookup("rebuild-base-graph"), "graph.rebuildBase")
	bind(flags.Lookup("output-dir"), "export.outputDir")
	bind(flags.Lookup("link-prediction"), "linkPrediction.enabled")
	bind(flags.Lookup("engine"), "engine.kind")
	bind(flags.Lookup("graph-file"), "engine.graphDir")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	db, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s backend: %w", cfg.Engine.Kind, err)
	}
	defer backend.Close(context.Background())

	deps := pipeline.Deps{
		Backend:  backend,
		Manifest: db,
		Status:   pipeline.NewStatus(),
	}

	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rc.Close()

		lease, err := rc.AcquireLease(ctx, cfg.Graph.BaseGraphName, holderName(), time.Duration(cfg.Redis.LeaseTTLSec)*time.Second)
		if err != nil {
			return err
		}
		defer func() {
			if err := lease.Release(context.Background()); err != nil {
				appLogger.Warn("Failed to release catalog lease", zap.Error(err))
			}
		}()
		deps.Lease = lease
		deps.Progress = rc
	}

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		srv := api.NewServer(cfg.Server.Host, cfg.Server.Port, deps.Status, db)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				appLogger.Warn("Status server shutdown failed", zap.Error(err))
			}
		}()
	}

	summary, err := p.Run(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "run %s params %s: %d/%d windows exported, %d skipped\n",
		summary.RunID, summary.ParamsHash, summary.Exported, summary.Windows, summary.Skipped)
	return err
}

func holderName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
