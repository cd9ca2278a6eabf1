package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/valuation-pipeline/internal/gates"
	"github.com/sells-group/valuation-pipeline/internal/resilience"
	"github.com/sells-group/valuation-pipeline/internal/valuation"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig             `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig         `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig          `yaml:"pipeline" mapstructure:"pipeline"`
	Valuation valuation.Config        `yaml:"valuation" mapstructure:"valuation"`
	Gates     gates.Config            `yaml:"gates" mapstructure:"gates"`
	Poll      resilience.PollSchedule `yaml:"poll" mapstructure:"poll"`
	Server    ServerConfig            `yaml:"server" mapstructure:"server"`
	Log       LogConfig               `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds generative-service API settings.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	ExtractionModel string `yaml:"extraction_model" mapstructure:"extraction_model"`
	NarrativeModel  string `yaml:"narrative_model" mapstructure:"narrative_model"`
}

// PipelineConfig configures orchestrator behavior.
type PipelineConfig struct {
	// MaxConcurrentReports bounds the worker's parallel advance loops.
	MaxConcurrentReports int `yaml:"max_concurrent_reports" mapstructure:"max_concurrent_reports"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VALUATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.extraction_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.narrative_model", "claude-opus-4-6")
	v.SetDefault("pipeline.max_concurrent_reports", 4)
	v.SetDefault("poll.base_delay", "2s")
	v.SetDefault("poll.multiplier", 1.5)
	v.SetDefault("poll.max_delay", "15s")
	v.SetDefault("poll.max_attempts", 8)
	v.SetDefault("valuation.asset_weight", 0.20)
	v.SetDefault("valuation.income_weight", 0.40)
	v.SetDefault("valuation.market_weight", 0.40)
	v.SetDefault("valuation.dlom", 0.15)
	v.SetDefault("valuation.control_adjustment", 0.0)
	v.SetDefault("valuation.fallback_range_pct", 0.10)
	v.SetDefault("gates.consistency_tolerance", 0.005)
	v.SetDefault("gates.default_max_multiple", 6.0)
	v.SetDefault("gates.min_concluded_value", 1000)
	v.SetDefault("gates.max_concluded_value", 50_000_000)
	v.SetDefault("gates.quality_threshold", 70)
	v.SetDefault("gates.min_word_ratio", 0.5)

	// Read config file (optional)
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

// Validate checks that the configuration is complete for the given run
// mode. Modes: "serve" (HTTP API), "worker" (background advance loop),
// "pipeline" (one-shot CLI commands that talk to the model), "store"
// (commands that only need the database).
func (c *Config) Validate(mode string) error {
	var missing []string

	needStore := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required for the postgres driver")
		}
	}
	needAnthropic := func() {
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
	}

	switch mode {
	case "serve":
		needStore()
		needAnthropic()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "worker", "pipeline":
		needStore()
		needAnthropic()
	case "store":
		needStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" || mode == "worker" {
		if c.Pipeline.MaxConcurrentReports < 1 || c.Pipeline.MaxConcurrentReports > 50 {
			missing = append(missing, "pipeline.max_concurrent_reports must be between 1 and 50")
		}
	}

	if w := c.Valuation.AssetWeight + c.Valuation.IncomeWeight + c.Valuation.MarketWeight; w < 0.999 || w > 1.001 {
		missing = append(missing, "valuation weights must sum to 1.0")
	}
	if c.Valuation.AssetWeight < 0 || c.Valuation.IncomeWeight < 0 || c.Valuation.MarketWeight < 0 {
		missing = append(missing, "valuation weights must be >= 0")
	}
	if c.Valuation.DLOM < 0 || c.Valuation.DLOM > 0.5 {
		missing = append(missing, "valuation.dlom must be between 0 and 0.5")
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
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
