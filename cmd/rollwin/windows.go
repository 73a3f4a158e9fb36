package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ownership-graph/rollwin/internal/kg/builder"
	"github.com/ownership-graph/rollwin/internal/pipeline"
	"github.com/ownership-graph/rollwin/internal/storage/sqlite"
	appLogger "github.com/ownership-graph/rollwin/pkg/logger"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "Print the window schedule and parameter hash",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		schedule, hash, err := pipeline.ScheduleFor(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "params_hash %s, %d windows\n", hash, schedule.Count())
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "GRAPH\tSTART\tEND (incl.)\tSTART_MS\tEND_MS")
		for w := range schedule.Windows() {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", w.GraphName, w.StartYear, w.EndYearInclusive, w.StartMs, w.EndMs)
		}
		return tw.Flush()
	},
}

var dropBaseCmd = &cobra.Command{
	Use:   "drop-base",
	Short: "Drop the projected base graph from the analytics catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		backend, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer backend.Close(context.Background())

		b := builder.NewBuilder(backend, pipeline.BaseProjection(cfg), cfg.Resilience.BaseEnsureAttempts)
		if err := b.DropBase(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", b.GraphName())
		return nil
	},
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "List the latest exported files per window for the current parameters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		hash, err := cfg.ParamsHash()
		if err != nil {
			return err
		}

		db, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.InitSchema(); err != nil {
			return err
		}

		entries, err := db.ManifestEntries(hash)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "WINDOW\tNODES\tEDGES\tPRUNED\tLP\tNODE_FILE")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n", e.Window, e.Nodes, e.Edges, e.PrunedNodes, e.LinkPrediction, e.NodeFile)
		}
		return tw.Flush()
	},
}
