package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"deployguard/config"
	"deployguard/internal/format"
	"deployguard/internal/ingest"
	"deployguard/internal/models"
	"deployguard/internal/pipeline"
	"deployguard/internal/report"
)

var analyzeFlags struct {
	format       string
	output       string
	enrich       string
	maxRounds    int
	title        string
	dependencies string
	failOn       string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [paths...]",
	Short: "Analyse deployment artifacts and print a risk report",
	Long: `Collect .sql, .tf, .hcl and .yaml artifacts from the given files and
directories, analyse them as one run, and print the risk report.

With --fail-on the command exits with status 2 when the overall
classification is at or above the given severity, so it can gate a CI job.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVarP(&analyzeFlags.format, "format", "f", "markdown", "output format: markdown, json, table")
	f.StringVarP(&analyzeFlags.output, "output", "o", "", "write the report to this file instead of stdout")
	f.StringVar(&analyzeFlags.enrich, "enrich", "", "enrichment provider override: none, ollama, openai")
	f.IntVar(&analyzeFlags.maxRounds, "max-rounds", -1, "maximum enrichment rounds per artifact (default from config)")
	f.StringVar(&analyzeFlags.title, "title", "", "report title")
	f.StringVar(&analyzeFlags.dependencies, "dependencies", "", "YAML file listing cross-artifact dependencies")
	f.StringVar(&analyzeFlags.failOn, "fail-on", "", "exit with status 2 at or above this classification (e.g. HIGH)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg := *config.AppConfig
	if analyzeFlags.enrich != "" {
		cfg.Enrichment.Provider = analyzeFlags.enrich
	}
	if analyzeFlags.maxRounds >= 0 {
		cfg.Analysis.MaxRounds = analyzeFlags.maxRounds
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var failOn models.Severity
	if analyzeFlags.failOn != "" {
		sev, err := models.ParseSeverity(analyzeFlags.failOn)
		if err != nil {
			return err
		}
		failOn = sev
	}
	render, err := renderer(analyzeFlags.format)
	if err != nil {
		return err
	}

	artifacts, err := ingest.Collect(args, cfg.ExplorerOptions())
	if err != nil {
		return err
	}
	deps, err := readDependencies(analyzeFlags.dependencies)
	if err != nil {
		return err
	}

	opts, err := pipelineOptions(&cfg, nil)
	if err != nil {
		return err
	}
	opts.Title = analyzeFlags.title
	runner, err := pipeline.NewRunner(opts)
	if err != nil {
		return err
	}
	res, err := runner.Run(cmd.Context(), pipeline.Request{Artifacts: artifacts, Dependencies: deps})
	if err != nil {
		return err
	}

	out, err := render(res.Report)
	if err != nil {
		return err
	}
	if err := write(cmd.OutOrStdout(), analyzeFlags.output, out); err != nil {
		return err
	}

	if failOn != "" && res.Risk.Classification.AtLeast(failOn) {
		return fmt.Errorf("%w: classification %s (score %d)", errRiskThreshold, res.Risk.Classification, res.Risk.Score)
	}
	return nil
}

func renderer(name string) (func(*report.Report) (string, error), error) {
	switch strings.ToLower(name) {
	case "markdown", "md":
		return func(r *report.Report) (string, error) { return r.Markdown(), nil }, nil
	case "json":
		return func(r *report.Report) (string, error) {
			data, err := r.JSON()
			return string(data) + "\n", err
		}, nil
	case "table":
		return func(r *report.Report) (string, error) { return tableReport(r), nil }, nil
	}
	return nil, fmt.Errorf("unknown format %q (want markdown, json or table)", name)
}

// tableReport is the terminal rendition: per-artifact counts, then findings.
func tableReport(r *report.Report) string {
	rows := make(map[string]models.RiskResult, len(r.Artifacts))
	order := make([]string, 0, len(r.Artifacts))
	for _, a := range r.Artifacts {
		rows[a.ID] = a.Risk
		order = append(order, a.ID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\nRisk: %s (score %d), %d finding(s) in %s\n\n",
		r.Title, r.Risk.Classification, r.Risk.Score, len(r.Findings), format.Duration(time.Duration(r.AnalysisSeconds*float64(time.Second))))
	b.WriteString(format.SeverityCounts(format.ASCII, rows, order))
	b.WriteString("\n\n")
	if len(r.Findings) == 0 {
		b.WriteString(report.NoIssues + "\n")
		return b.String()
	}
	b.WriteString(format.Findings(format.ASCII, r.Findings))
	b.WriteString("\n")
	return b.String()
}

func readDependencies(path string) ([]models.Dependency, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dependencies: %w", err)
	}
	var deps []models.Dependency
	if err := yaml.Unmarshal(data, &deps); err != nil {
		return nil, fmt.Errorf("parsing dependencies %s: %w", path, err)
	}
	return deps, nil
}

func write(stdout io.Writer, path, content string) error {
	if path == "" {
		_, err := io.WriteString(stdout, content)
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	fmt.Fprintf(stdout, "Report written to %s\n", path)
	return nil
}
