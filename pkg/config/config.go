package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/ownership-graph/rollwin/pkg/utils"
)

type Config struct {
	Engine         EngineConfig
	Neo4j          Neo4jConfig
	Graph          GraphConfig
	Windows        WindowsConfig
	Filter         FilterConfig
	Algorithms     AlgorithmsConfig
	FCR            FCRConfig
	Export         ExportConfig
	LinkPrediction LinkPredictionConfig
	Resilience     ResilienceConfig
	SQLite         SQLiteConfig
	Redis          RedisConfig
	Server         ServerConfig
	Logging        LoggingConfig
}

type EngineConfig struct {
	// Kind is "neo4j" or "memory".
	Kind string
	// GraphDir holds nodes.parquet and relationships.parquet for the memory engine.
	GraphDir string
}

type Neo4jConfig struct {
	URI                      string
	Username                 string
	Password                 string
	Database                 string
	MaxConnectionLifetimeSec int
	MaxConnectionPoolSize    int
	AcquisitionTimeoutSec    int
	QueryTimeoutSec          int
}

type GraphConfig struct {
	BaseGraphName      string
	PrimaryLabel       string
	SecondaryLabels    []string
	RelTypes           []string
	KinshipType        string
	OwnershipType      string
	SimilarityType     string
	IDProperty         string
	StartProperty      string
	EndProperty        string
	WeightProperty     string
	ProvenanceProperty string
	ImputedValue       string
	PredictedValue     string
	FirstNameProperty  string
	LastNameProperty   string
	PatronymicProperty string
	ReadConcurrency    int
	RebuildBase        bool
}

type WindowsConfig struct {
	StartYear        int
	EndYearExclusive int
	// EndStartYear is the last window start year; when set it overrides
	// EndYearExclusive as EndStartYear + WindowYears.
	EndStartYear int
	WindowYears  int
	StepYears    int
}

type FilterConfig struct {
	IncludeImputed      bool
	KeepIsolatedPrimary bool
}

type AlgorithmsConfig struct {
	Concurrency              int
	PageRankMaxIterations    int
	PageRankDampingFactor    float64
	Betweenness              bool
	Closeness                bool
	Eigenvector              bool
	EigenvectorMaxIterations int
	WCC                      bool
	Louvain                  bool
	LouvainMaxIterations     int
	FastRP                   bool
	EmbeddingDimension       int
	RandomSeed               int
	Node2Vec                 bool
	Node2VecDimension        int
	Node2VecIterations       int
	HashGNN                  bool
	HashGNNFeatureProperties []string
	HashGNNIterations        int
	HashGNNOutputDimension   int
	HashGNNEmbeddingDensity  int
	HashGNNBinarizeDimension int
	HashGNNBinarizeThreshold float64
}

type FCRConfig struct {
	Enabled bool
	Column  string
}

type ExportConfig struct {
	OutputDir    string
	RunName      string
	VectorMode   string
	ExportEdges  bool
	SkipExisting bool
}

type LinkPredictionConfig struct {
	Enabled            bool
	BlockingPrefixLen  int
	MinLastNameSim     float64
	MinPatronymicSim   float64
	CommonSurnames     []string
	Variants           []string
	TestSplit          float64
	CVFolds            int
	CGrid              []float64
	Beta               float64
	MaxNegativeRatio   float64
	MinTrainingSamples int
	MaxIterations      int
	LearningRate       float64
	RandomSeed         int
	WriteBack          bool
}

type ResilienceConfig struct {
	MaxRetries         int
	InitialBackoffSec  float64
	MaxBackoffSec      float64
	BaseEnsureAttempts int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	LeaseTTLSec int
}

type ServerConfig struct {
	Enabled bool
	Host    string
	Port    int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

var ErrInvalidConfig = errors.New("invalid configuration")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func Load() (*Config, error) {
	return LoadFile("")
}

func LoadFile(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/rollwin")
	}

	viper.SetEnvPrefix("ROLLWIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.normalize()

	return &config, nil
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("config defaults do not unmarshal: %v", err))
	}
	config.normalize()
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.kind", "neo4j")
	v.SetDefault("engine.graphDir", "./data/graph")

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.maxConnectionLifetimeSec", 480)
	v.SetDefault("neo4j.maxConnectionPoolSize", 50)
	v.SetDefault("neo4j.acquisitionTimeoutSec", 60)
	v.SetDefault("neo4j.queryTimeoutSec", 1800)

	v.SetDefault("graph.baseGraphName", "base_temporal")
	v.SetDefault("graph.primaryLabel", "Bank")
	v.SetDefault("graph.secondaryLabels", []string{"Company", "Person"})
	v.SetDefault("graph.relTypes", []string{"OWNERSHIP", "MANAGEMENT", "FAMILY"})
	v.SetDefault("graph.kinshipType", "FAMILY")
	v.SetDefault("graph.ownershipType", "OWNERSHIP")
	v.SetDefault("graph.similarityType", "SIM_NAME")
	v.SetDefault("graph.idProperty", "Id")
	v.SetDefault("graph.startProperty", "tStart")
	v.SetDefault("graph.endProperty", "tEnd")
	v.SetDefault("graph.weightProperty", "weight")
	v.SetDefault("graph.provenanceProperty", "source")
	v.SetDefault("graph.imputedValue", "imputed")
	v.SetDefault("graph.predictedValue", "logistic_pred")
	v.SetDefault("graph.firstNameProperty", "FirstName")
	v.SetDefault("graph.lastNameProperty", "LastName")
	v.SetDefault("graph.patronymicProperty", "MiddleName")
	v.SetDefault("graph.readConcurrency", 4)
	v.SetDefault("graph.rebuildBase", false)

	v.SetDefault("windows.startYear", 2000)
	v.SetDefault("windows.endYearExclusive", 2013)
	v.SetDefault("windows.endStartYear", 0)
	v.SetDefault("windows.windowYears", 3)
	v.SetDefault("windows.stepYears", 1)

	v.SetDefault("filter.includeImputed", false)
	v.SetDefault("filter.keepIsolatedPrimary", true)

	v.SetDefault("algorithms.concurrency", 4)
	v.SetDefault("algorithms.pageRankMaxIterations", 20)
	v.SetDefault("algorithms.pageRankDampingFactor", 0.85)
	v.SetDefault("algorithms.betweenness", true)
	v.SetDefault("algorithms.closeness", true)
	v.SetDefault("algorithms.eigenvector", true)
	v.SetDefault("algorithms.eigenvectorMaxIterations", 20)
	v.SetDefault("algorithms.wcc", true)
	v.SetDefault("algorithms.louvain", true)
	v.SetDefault("algorithms.louvainMaxIterations", 20)
	v.SetDefault("algorithms.fastRP", true)
	v.SetDefault("algorithms.embeddingDimension", 128)
	v.SetDefault("algorithms.randomSeed", 42)
	v.SetDefault("algorithms.node2Vec", false)
	v.SetDefault("algorithms.node2VecDimension", 256)
	v.SetDefault("algorithms.node2VecIterations", 20)
	v.SetDefault("algorithms.hashGNN", false)
	v.SetDefault("algorithms.hashGNNFeatureProperties", []string{"bank_feats"})
	v.SetDefault("algorithms.hashGNNIterations", 5)
	v.SetDefault("algorithms.hashGNNOutputDimension", 256)
	v.SetDefault("algorithms.hashGNNEmbeddingDensity", 128)
	v.SetDefault("algorithms.hashGNNBinarizeDimension", 77)
	v.SetDefault("algorithms.hashGNNBinarizeThreshold", 0.01)

	v.SetDefault("fcr.enabled", true)
	v.SetDefault("fcr.column", "fcr_temporal")

	v.SetDefault("export.outputDir", "./output")
	v.SetDefault("export.runName", "")
	v.SetDefault("export.vectorMode", "list")
	v.SetDefault("export.exportEdges", true)
	v.SetDefault("export.skipExisting", true)

	v.SetDefault("linkPrediction.enabled", false)
	v.SetDefault("linkPrediction.blockingPrefixLen", 3)
	v.SetDefault("linkPrediction.minLastNameSim", 0.8)
	v.SetDefault("linkPrediction.minPatronymicSim", 0.8)
	v.SetDefault("linkPrediction.commonSurnames", defaultCommonSurnames)
	v.SetDefault("linkPrediction.variants", []string{
		"string_only",
		"fastrp_only",
		"fastrp_string",
		"fastrp_string_louvain",
		"fastrp_string_wcc",
		"fastrp_string_full",
		"louvain_string",
		"wcc_string",
	})
	v.SetDefault("linkPrediction.testSplit", 0.2)
	v.SetDefault("linkPrediction.cvFolds", 5)
	v.SetDefault("linkPrediction.cGrid", []float64{0.01, 0.1, 1, 10})
	v.SetDefault("linkPrediction.beta", 2.0)
	v.SetDefault("linkPrediction.maxNegativeRatio", 1.0)
	v.SetDefault("linkPrediction.minTrainingSamples", 100)
	v.SetDefault("linkPrediction.maxIterations", 500)
	v.SetDefault("linkPrediction.learningRate", 0.5)
	v.SetDefault("linkPrediction.randomSeed", 42)
	v.SetDefault("linkPrediction.writeBack", false)

	v.SetDefault("resilience.maxRetries", 3)
	v.SetDefault("resilience.initialBackoffSec", 2.0)
	v.SetDefault("resilience.maxBackoffSec", 60.0)
	v.SetDefault("resilience.baseEnsureAttempts", 3)

	v.SetDefault("sqlite.path", "./data/rollwin.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.leaseTTLSec", 900)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9108)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}

var defaultCommonSurnames = []string{
	"КУЗНЕЦОВ", "ИВАНОВ", "ПОПОВ", "СМИРНОВ", "ВАСИЛЬЕВ", "ПЕТРОВ", "КОЗЛОВ",
	"МОРОЗОВ", "НОВИКОВ", "ВОЛКОВ", "СОКОЛОВ", "ПАВЛОВ", "ЛЕБЕДЕВ", "СЕМЕНОВ",
	"ЕГОРОВ", "KUZNETSOV", "IVANOV", "PETROV", "POPOV", "SMIRNOV",
}

// normalize trims and de-duplicates list settings that may arrive as
// comma-joined env values.
func (c *Config) normalize() {
	c.Graph.RelTypes = uniqueWords(c.Graph.RelTypes)
	c.Graph.SecondaryLabels = uniqueWords(c.Graph.SecondaryLabels)
	c.Algorithms.HashGNNFeatureProperties = uniqueWords(c.Algorithms.HashGNNFeatureProperties)
	c.LinkPrediction.Variants = uniqueWords(c.LinkPrediction.Variants)
	if c.Windows.EndStartYear > 0 {
		c.Windows.EndYearExclusive = c.Windows.EndStartYear + c.Windows.WindowYears
	}
}

func uniqueWords(values []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}

// Validate reports configuration errors that must abort a run before any
// backend work starts.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.Graph.RelTypes) == 0 {
		add("graph.relTypes must not be empty")
	}
	identifiers := map[string]string{
		"graph.baseGraphName": c.Graph.BaseGraphName,
		"graph.primaryLabel":  c.Graph.PrimaryLabel,
		"graph.kinshipType":   c.Graph.KinshipType,
		"graph.ownershipType": c.Graph.OwnershipType,
		"graph.idProperty":    c.Graph.IDProperty,
		"graph.startProperty": c.Graph.StartProperty,
		"graph.endProperty":   c.Graph.EndProperty,
	}
	for key, value := range identifiers {
		if !identifierPattern.MatchString(value) {
			add("%s %q is not a valid identifier", key, value)
		}
	}
	for _, t := range c.Graph.RelTypes {
		if !identifierPattern.MatchString(t) {
			add("invalid relationship type %q", t)
		}
	}
	for _, l := range c.Graph.SecondaryLabels {
		if !identifierPattern.MatchString(l) {
			add("invalid secondary label %q", l)
		}
	}

	if c.Windows.WindowYears <= 0 {
		add("windows.windowYears must be positive")
	}
	if c.Windows.StepYears <= 0 {
		add("windows.stepYears must be positive")
	}
	if c.Windows.EndYearExclusive-c.Windows.StartYear < c.Windows.WindowYears {
		add("windows range [%d,%d) is shorter than one window", c.Windows.StartYear, c.Windows.EndYearExclusive)
	}

	if c.Algorithms.FastRP && c.Algorithms.EmbeddingDimension <= 0 {
		add("algorithms.embeddingDimension must be positive")
	}

	switch c.Engine.Kind {
	case "neo4j", "memory":
	default:
		add("engine.kind must be neo4j or memory, got %q", c.Engine.Kind)
	}

	switch c.Export.VectorMode {
	case "list", "columns":
	default:
		add("export.vectorMode must be list or columns, got %q", c.Export.VectorMode)
	}
	if c.Export.OutputDir == "" {
		add("export.outputDir must be set")
	}

	lp := c.LinkPrediction
	if lp.Enabled {
		if lp.BlockingPrefixLen <= 0 {
			add("linkPrediction.blockingPrefixLen must be positive")
		}
		if lp.TestSplit <= 0 || lp.TestSplit >= 1 {
			add("linkPrediction.testSplit must be in (0,1)")
		}
		if lp.Beta <= 0 {
			add("linkPrediction.beta must be positive")
		}
		if lp.CVFolds < 2 {
			add("linkPrediction.cvFolds must be at least 2")
		}
		if len(lp.CGrid) == 0 {
			add("linkPrediction.cGrid must not be empty")
		}
		if len(lp.Variants) == 0 {
			add("linkPrediction.variants must not be empty")
		}
	}

	if c.Resilience.MaxRetries < 0 {
		add("resilience.maxRetries must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ParamsMetadata lists every parameter that changes pipeline output. Its
// hash keys the manifest.
func (c *Config) ParamsMetadata() map[string]any {
	a := c.Algorithms
	return map[string]any{
		"base_graph_name":             c.Graph.BaseGraphName,
		"primary_label":               c.Graph.PrimaryLabel,
		"secondary_labels":            c.Graph.SecondaryLabels,
		"rel_types":                   c.Graph.RelTypes,
		"include_imputed":             c.Filter.IncludeImputed,
		"keep_isolated_primary":       c.Filter.KeepIsolatedPrimary,
		"window_years":                c.Windows.WindowYears,
		"step_years":                  c.Windows.StepYears,
		"start_year":                  c.Windows.StartYear,
		"end_year_exclusive":          c.Windows.EndYearExclusive,
		"id_property":                 c.Graph.IDProperty,
		"pagerank_max_iterations":     a.PageRankMaxIterations,
		"pagerank_damping_factor":     a.PageRankDampingFactor,
		"betweenness":                 a.Betweenness,
		"closeness":                   a.Closeness,
		"eigenvector":                 a.Eigenvector,
		"run_wcc":                     a.WCC,
		"run_louvain":                 a.Louvain,
		"louvain_max_iterations":      a.LouvainMaxIterations,
		"run_fastrp":                  a.FastRP,
		"embedding_dimension":         a.EmbeddingDimension,
		"random_seed":                 a.RandomSeed,
		"run_node2vec":                a.Node2Vec,
		"node2vec_dimension":          a.Node2VecDimension,
		"node2vec_iterations":         a.Node2VecIterations,
		"run_hashgnn":                 a.HashGNN,
		"hashgnn_feature_properties":  a.HashGNNFeatureProperties,
		"hashgnn_iterations":          a.HashGNNIterations,
		"hashgnn_output_dimension":    a.HashGNNOutputDimension,
		"hashgnn_embedding_density":   a.HashGNNEmbeddingDensity,
		"hashgnn_binarize_dimension":  a.HashGNNBinarizeDimension,
		"hashgnn_binarize_threshold":  a.HashGNNBinarizeThreshold,
		"fcr_enabled":                 c.FCR.Enabled,
		"vector_mode":                 c.Export.VectorMode,
		"export_edges":                c.Export.ExportEdges,
		"link_prediction":             c.LinkPrediction.Enabled,
		"lp_blocking_prefix_len":      c.LinkPrediction.BlockingPrefixLen,
		"lp_min_last_name_sim":        c.LinkPrediction.MinLastNameSim,
		"lp_min_patronymic_sim":       c.LinkPrediction.MinPatronymicSim,
		"lp_variants":                 c.LinkPrediction.Variants,
		"lp_beta":                     c.LinkPrediction.Beta,
		"lp_c_grid":                   c.LinkPrediction.CGrid,
		"lp_random_seed":              c.LinkPrediction.RandomSeed,
		"lp_max_negative_ratio":       c.LinkPrediction.MaxNegativeRatio,
	}
}

func (c *Config) ParamsHash() (string, error) {
	return utils.StableHash(c.ParamsMetadata())
}
