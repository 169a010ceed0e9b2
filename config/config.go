// Package config loads config.yaml, DEPLOYGUARD_* environment overrides
// and built-in defaults into one validated Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"deployguard/internal/agent"
	"deployguard/internal/enrich"
	"deployguard/internal/ingest"
	"deployguard/internal/models"
	"deployguard/internal/risk"
)

// EnvPrefix prefixes every environment override, e.g.
// DEPLOYGUARD_ANALYSIS_MAX_ROUNDS.
const EnvPrefix = "DEPLOYGUARD"

// ServerConfig defines the HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
}

// OllamaConfig defines the Ollama configuration.
type OllamaConfig struct {
	Host  string `mapstructure:"host" validate:"omitempty,url"`
	Model string `mapstructure:"model"`
}

// OpenAIConfig defines an OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url" validate:"omitempty,url"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxTokens   int     `mapstructure:"max_tokens" validate:"min=0"`
}

// AnalysisConfig defines the analysis parameters.
type AnalysisConfig struct {
	MaxRounds         int            `mapstructure:"max_rounds" validate:"min=0,max=10"`
	Parallel          int            `mapstructure:"parallel" validate:"min=0"`
	MaxFileSize       int64          `mapstructure:"max_file_size" validate:"min=1"`
	MaxFiles          int            `mapstructure:"max_files" validate:"min=0"`
	MaxDirectoryDepth int            `mapstructure:"max_directory_depth" validate:"min=0"`
	SyntaxCheck       bool           `mapstructure:"syntax_check"`
	SizeThresholds    map[string]int `mapstructure:"size_thresholds" validate:"dive,keys,oneof=sql infra manifest,endkeys,min=0"`
}

// EnrichmentConfig selects and bounds the enrichment provider.
type EnrichmentConfig struct {
	Provider        string        `mapstructure:"provider" validate:"oneof=none ollama openai"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"min=0"`
	MaxPromptLength int           `mapstructure:"max_prompt_length" validate:"min=256"`
}

// PatternsConfig points at an optional rule file merged over the defaults.
type PatternsConfig struct {
	File string `mapstructure:"file"`
}

// ExplorerConfig defines the directory walker configuration.
type ExplorerConfig struct {
	IgnoreDirs       []string `mapstructure:"ignore_dirs"`
	IgnorePrefixes   []string `mapstructure:"ignore_prefixes"`
	IgnoreExtensions []string `mapstructure:"ignore_extensions"`
}

// LoggingConfig defines the logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output"`
}

// Config is the top-level configuration struct.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Ollama     OllamaConfig     `mapstructure:"ollama"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Scoring    risk.Policy      `mapstructure:"scoring"`
	Patterns   PatternsConfig   `mapstructure:"patterns"`
	Explorer   ExplorerConfig   `mapstructure:"explorer"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig holds the loaded configuration.
var AppConfig *Config

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("ollama.host", "http://127.0.0.1:11434")
	v.SetDefault("ollama.model", "gemma3:latest")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.max_tokens", 2048)

	v.SetDefault("analysis.max_rounds", agent.DefaultMaxRounds)
	v.SetDefault("analysis.parallel", 0)
	v.SetDefault("analysis.max_file_size", ingest.DefaultMaxFileSize)
	v.SetDefault("analysis.max_files", 10)
	v.SetDefault("analysis.max_directory_depth", 5)
	v.SetDefault("analysis.syntax_check", true)
	v.SetDefault("analysis.size_thresholds", map[string]int{})

	v.SetDefault("enrichment.provider", "none")
	v.SetDefault("enrichment.timeout", agent.DefaultTimeout)
	v.SetDefault("enrichment.max_prompt_length", enrich.DefaultMaxPromptLength)

	p := risk.DefaultPolicy()
	v.SetDefault("scoring.critical_weight", p.CriticalWeight)
	v.SetDefault("scoring.high_weight", p.HighWeight)
	v.SetDefault("scoring.medium_weight", p.MediumWeight)
	v.SetDefault("scoring.low_weight", p.LowWeight)
	v.SetDefault("scoring.critical_threshold", p.CriticalThreshold)
	v.SetDefault("scoring.high_threshold", p.HighThreshold)
	v.SetDefault("scoring.medium_threshold", p.MediumThreshold)
	v.SetDefault("scoring.critical_floor", p.CriticalFloor)

	v.SetDefault("patterns.file", "")

	v.SetDefault("explorer.ignore_dirs", []string{".git", "node_modules", "vendor", ".terraform", "dist", "build"})
	v.SetDefault("explorer.ignore_prefixes", []string{"."})
	v.SetDefault("explorer.ignore_extensions", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
}

// Load reads the configuration. An empty path looks for config.yaml in the
// working directory and then next to the project's go.mod; finding none
// leaves the defaults in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("openai.api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if goModPath, err := findGoMod(); err == nil {
			v.AddConfigPath(filepath.Dir(goModPath))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads the configuration into AppConfig.
func LoadConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Validate checks field constraints and the scoring policy.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s fails '%s'", fe.Namespace(), fe.Tag()))
			}
			return &models.ConfigurationError{Reason: strings.Join(msgs, "; ")}
		}
		return &models.ConfigurationError{Reason: err.Error()}
	}
	if c.Enrichment.Provider == "openai" && c.OpenAI.APIKey == "" {
		return &models.ConfigurationError{Reason: "enrichment provider openai needs openai.api_key or OPENAI_API_KEY"}
	}
	return c.Scoring.Validate()
}

// ExplorerOptions bounds directory collection.
func (c *Config) ExplorerOptions() ingest.Options {
	return ingest.Options{
		MaxDepth:         c.Analysis.MaxDirectoryDepth,
		MaxFiles:         c.Analysis.MaxFiles,
		MaxFileSize:      c.Analysis.MaxFileSize,
		IgnoreDirs:       c.Explorer.IgnoreDirs,
		IgnoreExtensions: c.Explorer.IgnoreExtensions,
		IgnorePrefixes:   c.Explorer.IgnorePrefixes,
	}
}

// EscalationPolicy is the default policy with the configured size
// thresholds.
func (c *Config) EscalationPolicy() agent.DefaultPolicy {
	thresholds := make(map[models.Kind]int, len(c.Analysis.SizeThresholds))
	for name, n := range c.Analysis.SizeThresholds {
		if kind, err := models.ParseKind(name); err == nil {
			thresholds[kind] = n
		}
	}
	return agent.DefaultPolicy{SizeThresholds: thresholds}
}

// OllamaOptions builds the Ollama client options.
func (c *Config) OllamaOptions() enrich.OllamaOptions {
	return enrich.OllamaOptions{
		Host:            c.Ollama.Host,
		Model:           c.Ollama.Model,
		MaxPromptLength: c.Enrichment.MaxPromptLength,
	}
}

// OpenAIOptions builds the OpenAI client options.
func (c *Config) OpenAIOptions() enrich.OpenAIOptions {
	return enrich.OpenAIOptions{
		APIKey:          c.OpenAI.APIKey,
		BaseURL:         c.OpenAI.BaseURL,
		Model:           c.OpenAI.Model,
		Temperature:     c.OpenAI.Temperature,
		MaxTokens:       c.OpenAI.MaxTokens,
		MaxPromptLength: c.Enrichment.MaxPromptLength,
	}
}

// findGoMod finds the path to the go.mod file.
func findGoMod() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return goModPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
