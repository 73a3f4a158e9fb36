package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/kg/memgraph"
	"github.com/ownership-graph/rollwin/internal/kg/neo4j"
	"github.com/ownership-graph/rollwin/internal/pipeline"
	"github.com/ownership-graph/rollwin/pkg/config"
	appLogger "github.com/ownership-graph/rollwin/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rollwin",
	Short: "Rolling-window graph analytics over an ownership graph",
	Long: `rollwin slides a fixed-width time window over a temporal ownership and
kinship graph, computes centrality, community and embedding features for every
window, and exports them as Parquet files keyed by persistent entity id.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Int("start-year", 0, "first window start year")
	flags.Int("end-year", 0, "exclusive end year of the analysed range")
	flags.Int("window-years", 0, "window width in years")
	flags.Int("step-years", 0, "years between window starts")
	flags.StringSlice("rel-types", nil, "relationship types to project")
	flags.Bool("include-imputed", false, "keep imputed kinship edges")

	bind(flags.Lookup("log-level"), "logging.level")
	bind(flags.Lookup("start-year"), "windows.startYear")
	bind(flags.Lookup("end-year"), "windows.endYearExclusive")
	bind(flags.Lookup("window-years"), "windows.windowYears")
	bind(flags.Lookup("step-years"), "windows.stepYears")
	bind(flags.Lookup("rel-types"), "graph.relTypes")
	bind(flags.Lookup("include-imputed"), "filter.includeImputed")

	rootCmd.AddCommand(runCmd, windowsCmd, dropBaseCmd, manifestCmd)
}

func bind(flag *pflag.Flag, key string) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, env and bound flags, then starts the
// logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (gds.Backend, error) {
	schema := pipeline.Schema(cfg)
	switch cfg.Engine.Kind {
	case "memory":
		return memgraph.Open(schema, cfg.Engine.GraphDir)
	default:
		n := cfg.Neo4j
		return neo4j.NewClient(ctx, neo4j.Options{
			URI:                   n.URI,
			Username:              n.Username,
			Password:              n.Password,
			Database:              n.Database,
			MaxConnectionLifetime: time.Duration(n.MaxConnectionLifetimeSec) * time.Second,
			MaxConnectionPoolSize: n.MaxConnectionPoolSize,
			AcquisitionTimeout:    time.Duration(n.AcquisitionTimeoutSec) * time.Second,
			QueryTimeout:          time.Duration(n.QueryTimeoutSec) * time.Second,
			Schema:                schema,
		})
	}
}
