package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"deployguard/config"
	"deployguard/internal/enrich"
	"deployguard/internal/metrics"
	"deployguard/internal/models"
	"deployguard/internal/patterns"
	"deployguard/internal/pipeline"
)

// errRiskThreshold marks a completed analysis whose classification reached
// the --fail-on level.
var errRiskThreshold = errors.New("risk threshold reached")

func exitCode(err error) int {
	if errors.Is(err, errRiskThreshold) {
		return 2
	}
	return 1
}

// loadLibrary returns the built-in rules, overlaid with the configured
// pattern file when one is set.
func loadLibrary(cfg *config.Config) (*patterns.Library, error) {
	lib := patterns.Default()
	if cfg.Patterns.File == "" {
		return lib, nil
	}
	overlay, err := patterns.LoadFile(cfg.Patterns.File)
	if err != nil {
		return nil, err
	}
	merged := lib.Merge(overlay)
	logrus.Infof("Loaded %d rule(s) from %s, library %s", overlay.Len(), cfg.Patterns.File, merged.Version)
	return merged, nil
}

// newEnricher builds the configured provider; "none" disables enrichment.
func newEnricher(cfg *config.Config) (enrich.Enricher, error) {
	switch cfg.Enrichment.Provider {
	case "", "none":
		return nil, nil
	case "ollama":
		return enrich.NewOllama(cfg.OllamaOptions())
	case "openai":
		return enrich.NewOpenAI(cfg.OpenAIOptions())
	}
	return nil, &models.ConfigurationError{Reason: fmt.Sprintf("unknown enrichment provider %q", cfg.Enrichment.Provider)}
}

// pipelineOptions wires everything a Runner needs from the configuration.
func pipelineOptions(cfg *config.Config, m *metrics.Metrics) (pipeline.Options, error) {
	lib, err := loadLibrary(cfg)
	if err != nil {
		return pipeline.Options{}, err
	}
	enricher, err := newEnricher(cfg)
	if err != nil {
		return pipeline.Options{}, err
	}
	scoring := cfg.Scoring
	return pipeline.Options{
		Library:         lib,
		Enricher:        enricher,
		Escalation:      cfg.EscalationPolicy(),
		Scoring:         &scoring,
		MaxRounds:       cfg.Analysis.MaxRounds,
		Timeout:         cfg.Enrichment.Timeout,
		Parallel:        cfg.Analysis.Parallel,
		SkipSyntaxCheck: !cfg.Analysis.SyntaxCheck,
		Metrics:         m,
	}, nil
}
