package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is constructed once at
// process start and injected into every component; core logic never reads
// ambient globals.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Verify    VerifyConfig    `yaml:"verify" mapstructure:"verify"`
	Dedup     DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Router    RouterConfig    `yaml:"router" mapstructure:"router"`
	Blog      BlogConfig      `yaml:"blog" mapstructure:"blog"`
	Agents    AgentsConfig    `yaml:"agents" mapstructure:"agents"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// OpenAIConfig holds OpenAI API settings for embeddings and relevance checks.
type OpenAIConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
	RelevanceModel string `yaml:"relevance_model" mapstructure:"relevance_model"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings for agent calls.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// VerifyConfig configures the multi-tier source verifier.
type VerifyConfig struct {
	GoogleBooksKey     string  `yaml:"google_books_key" mapstructure:"google_books_key"`
	SemanticScholarKey string  `yaml:"semantic_scholar_key" mapstructure:"semantic_scholar_key"`
	TavilyKey          string  `yaml:"tavily_key" mapstructure:"tavily_key"`
	TiersFile          string  `yaml:"tiers_file" mapstructure:"tiers_file"`
	LibraryThreshold   float64 `yaml:"library_threshold" mapstructure:"library_threshold"`
	LibraryCandidates  int     `yaml:"library_candidates" mapstructure:"library_candidates"`
	URLTimeoutSecs     int     `yaml:"url_timeout_secs" mapstructure:"url_timeout_secs"`
	LookupTimeoutSecs  int     `yaml:"lookup_timeout_secs" mapstructure:"lookup_timeout_secs"`
}

// DedupConfig holds the per-call-site similarity thresholds. The dedup
// searcher itself never hard-codes a threshold; each call site passes its own.
type DedupConfig struct {
	BatchThreshold float64 `yaml:"batch_threshold" mapstructure:"batch_threshold"` // intra-batch claim dedup
	TopicThreshold float64 `yaml:"topic_threshold" mapstructure:"topic_threshold"` // topic discovery dedup
}

// RouterConfig configures the router's similarity bands. Band edges are a
// tunable heuristic.
type RouterConfig struct {
	HighBand    float64 `yaml:"high_band" mapstructure:"high_band"`
	LowBand     float64 `yaml:"low_band" mapstructure:"low_band"`
	SearchLimit int     `yaml:"search_limit" mapstructure:"search_limit"`
}

// BlogConfig configures the decomposer/composer workflow.
type BlogConfig struct {
	MinClaims  int `yaml:"min_claims" mapstructure:"min_claims"`
	MaxClaims  int `yaml:"max_claims" mapstructure:"max_claims"`
	MinWords   int `yaml:"min_words" mapstructure:"min_words"`
	MaxWords   int `yaml:"max_words" mapstructure:"max_words"`
	MaxSuggest int `yaml:"max_suggest" mapstructure:"max_suggest"`
}

// AgentConfig holds one agent's LLM parameters and system prompt.
type AgentConfig struct {
	Model        string  `yaml:"model" mapstructure:"model"`
	SystemPrompt string  `yaml:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AgentsConfig maps agent names to their configuration. A missing entry is a
// configuration error, fatal at startup of the affected operation.
type AgentsConfig map[string]AgentConfig

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RECEIPTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "claimaudit.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.relevance_model", "gpt-4o-mini")
	v.SetDefault("openai.timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("verify.library_threshold", 0.85)
	v.SetDefault("verify.library_candidates", 3)
	v.SetDefault("verify.url_timeout_secs", 5)
	v.SetDefault("verify.lookup_timeout_secs", 10)
	v.SetDefault("dedup.batch_threshold", 0.92)
	v.SetDefault("dedup.topic_threshold", 0.85)
	v.SetDefault("router.high_band", 0.92)
	v.SetDefault("router.low_band", 0.80)
	v.SetDefault("router.search_limit", 5)
	v.SetDefault("blog.min_claims", 3)
	v.SetDefault("blog.max_claims", 12)
	v.SetDefault("blog.min_words", 400)
	v.SetDefault("blog.max_words", 1600)
	v.SetDefault("blog.max_suggest", 10)

	// Per-agent sampling defaults. System prompts live with the agents; the
	// config map overrides model and sampling parameters only.
	for name, temp := range map[string]float64{
		"identifier":     0.3,
		"source_checker": 0.2,
		"reviewer":       0.5,
		"prose_writer":   0.6,
		"summarizer":     0.3,
		"decomposer":     0.4,
		"composer":       0.7,
		"suggester":      0.8,
		"router":         0.2,
	} {
		v.SetDefault("agents."+name+".temperature", temp)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Agent returns the configuration for a named agent, or an error if missing.
func (c *Config) Agent(name string) (AgentConfig, error) {
	ac, ok := c.Agents[name]
	if !ok {
		return AgentConfig{}, eris.Errorf("config: no agent configuration for %q", name)
	}
	if ac.Model == "" {
		ac.Model = c.Anthropic.Model
	}
	if ac.MaxTokens == 0 {
		ac.MaxTokens = 4096
	}
	return ac, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
