package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deployguard/internal/models"
	"deployguard/internal/report"
)

const testConfig = `
analysis:
  syntax_check: false
logging:
  level: error
`

// setupWorkspace writes a config file and a small deploy directory into a
// fresh working directory.
func setupWorkspace(t *testing.T) (cfgPath, deployDir string) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	cfgPath = filepath.Join(dir, "deployguard.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o644))

	deployDir = filepath.Join(dir, "deploy")
	require.NoError(t, os.MkdirAll(deployDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deployDir, "001_drop.sql"), []byte("DROP TABLE legacy_logs;\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(deployDir, "main.tf"), []byte(`resource "aws_s3_bucket" "logs" {
  bucket        = "logs"
  force_destroy = true
}
`), 0o644))
	return cfgPath, deployDir
}

func resetFlags(cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd, analyzeCmd, serveCmd, rulesCmd)
	t.Cleanup(func() { resetFlags(rootCmd, analyzeCmd, serveCmd, rulesCmd) })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRulesListsLibrary(t *testing.T) {
	cfgPath, _ := setupWorkspace(t)

	out, err := execute(t, "rules", "--config", cfgPath, "--kind", "sql")
	require.NoError(t, err)
	assert.Contains(t, out, "DROP_TABLE")
	assert.Contains(t, out, "UNFILTERED_DELETE")
	assert.NotContains(t, out, "FORCE_DESTROY")
}

func TestRulesUnknownKind(t *testing.T) {
	cfgPath, _ := setupWorkspace(t)

	_, err := execute(t, "rules", "--config", cfgPath, "--kind", "dockerfile")
	assert.ErrorIs(t, err, models.ErrUnsupportedKind)
}

func TestAnalyzeJSON(t *testing.T) {
	cfgPath, deployDir := setupWorkspace(t)

	out, err := execute(t, "analyze", "--config", cfgPath, "--format", "json", "--title", "Release 42", deployDir)
	require.NoError(t, err)

	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "Release 42", rep.Title)
	assert.Equal(t, models.SeverityCritical, rep.Risk.Classification)
	require.Len(t, rep.Artifacts, 2)

	rules := map[string]bool{}
	for _, f := range rep.Findings {
		rules[f.RuleID] = true
	}
	assert.True(t, rules["DROP_TABLE"])
	assert.True(t, rules["FORCE_DESTROY"])
}

func TestAnalyzeWritesMarkdownFile(t *testing.T) {
	cfgPath, deployDir := setupWorkspace(t)
	target := filepath.Join(t.TempDir(), "report.md")

	out, err := execute(t, "analyze", "--config", cfgPath, "-o", target, deployDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Report written to")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## "+report.SectionExecutive)
	assert.Contains(t, string(data), "## "+report.SectionCritical)
}

func TestAnalyzeTable(t *testing.T) {
	cfgPath, deployDir := setupWorkspace(t)

	out, err := execute(t, "analyze", "--config", cfgPath, "--format", "table", deployDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Risk: CRITICAL")
	assert.Contains(t, out, "Total")
	assert.Contains(t, out, "DROP_TABLE")
}

func TestAnalyzeFailOn(t *testing.T) {
	cfgPath, deployDir := setupWorkspace(t)

	_, err := execute(t, "analyze", "--config", cfgPath, "--fail-on", "high", deployDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, errRiskThreshold)
	assert.Equal(t, 2, exitCode(err))
}

func TestAnalyzeDependencies(t *testing.T) {
	cfgPath, deployDir := setupWorkspace(t)
	deps := filepath.Join(t.TempDir(), "deps.yaml")
	require.NoError(t, os.WriteFile(deps, []byte(`
- source: deploy/001_drop.sql
  target: deploy/main.tf
  type: ordering
  description: The bucket must exist before the table is dropped.
  severity: HIGH
`), 0o644))

	out, err := execute(t, "analyze", "--config", cfgPath, "--format", "json", "--dependencies", deps, deployDir)
	require.NoError(t, err)

	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	var found bool
	for _, f := range rep.Findings {
		if f.RuleID == "DEPENDENCY_ORDERING" {
			found = true
			assert.Equal(t, "deploy/001_drop.sql", f.ArtifactID)
		}
	}
	assert.True(t, found, "dependency finding missing")
}

func TestAnalyzeErrors(t *testing.T) {
	cfgPath, deployDir := setupWorkspace(t)

	testCases := []struct {
		name string
		args []string
	}{
		{"unknown format", []string{"--format", "xml", deployDir}},
		{"unknown provider", []string{"--enrich", "bedrock", deployDir}},
		{"unknown fail-on level", []string{"--fail-on", "severe", deployDir}},
		{"missing path", []string{filepath.Join(deployDir, "missing.sql")}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			args := append([]string{"analyze", "--config", cfgPath}, tc.args...)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Equal(t, 1, exitCode(err))
		})
	}
}
