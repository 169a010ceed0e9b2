package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deployguard/internal/models"
	"deployguard/internal/parse"
	"deployguard/internal/patterns"
)

func sqlArtifact(content string) models.Artifact {
	return models.Artifact{ID: "migration.sql", Filename: "migration.sql", Kind: models.KindSQL, Content: content, Size: len(content)}
}

func ruleIDs(fs []models.Finding) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.RuleID)
	}
	return out
}

func TestEvaluateDropTable(t *testing.T) {
	findings, err := NewEngine(patterns.Default()).Evaluate(sqlArtifact("DROP TABLE legacy_logs;"))
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "DROP_TABLE", f.RuleID)
	assert.Equal(t, models.SeverityCritical, f.Severity)
	assert.Equal(t, 1, f.Line)
	assert.Equal(t, models.ProducedByRuleEngine, f.ProducedBy)
	assert.Contains(t, f.Rationale, "DROP TABLE")
	assert.Equal(t, "DROP TABLE legacy_logs;", f.Snippet)
}

func TestEvaluateFilteredDelete(t *testing.T) {
	findings, err := NewEngine(patterns.Default()).Evaluate(sqlArtifact("DELETE FROM sessions WHERE created_at < '2020-01-01';"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	content := "ALTER TABLE users ADD COLUMN age int;\n" +
		"UPDATE users SET age = 0;\n" +
		"DROP TABLE sessions;\n" +
		"SELECT * FROM sessions;\n" +
		"-- ROLLBACK: CREATE TABLE sessions (...);\n"
	engine := NewEngine(patterns.Default())
	first, err := engine.Evaluate(sqlArtifact(content))
	require.NoError(t, err)
	second, err := engine.Evaluate(sqlArtifact(content))
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
	for _, id := range []string{"COMMENTED_ROLLBACK", "DDL_DML_MIX", "DROP_TABLE", "ORPHANED_REFERENCE", "UNFILTERED_UPDATE"} {
		assert.Contains(t, ruleIDs(first), id)
	}
}

func TestEvaluateOrdersByRuleIDThenPosition(t *testing.T) {
	lib := patterns.New("t")
	require.NoError(t, lib.Register(patterns.Rule{ID: "B", Kind: models.KindSQL, Severity: models.SeverityLow, Matcher: patterns.MustRegex(`x`)}))
	require.NoError(t, lib.Register(patterns.Rule{ID: "A", Kind: models.KindSQL, Severity: models.SeverityLow, Matcher: patterns.MustRegex(`y`)}))

	findings, err := NewEngine(lib, WithValidator(nil)).Evaluate(sqlArtifact("x\ny\nx\ny"))
	require.NoError(t, err)

	type loc struct {
		Rule string
		Line int
	}
	var got []loc
	for _, f := range findings {
		got = append(got, loc{f.RuleID, f.Line})
	}
	want := []loc{{"A", 2}, {"A", 4}, {"B", 1}, {"B", 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateDeduplicatesSameRuleAndLine(t *testing.T) {
	lib := patterns.New("t")
	require.NoError(t, lib.Register(patterns.Rule{ID: "DUP", Kind: models.KindSQL, Severity: models.SeverityHigh, Title: "first", Matcher: patterns.MustRegex(`drop`)}))
	require.NoError(t, lib.Register(patterns.Rule{ID: "DUP", Kind: models.KindSQL, Severity: models.SeverityHigh, Title: "second", Matcher: patterns.MustRegex(`table`)}))
	require.NoError(t, lib.Register(patterns.Rule{ID: "OTHER", Kind: models.KindSQL, Severity: models.SeverityLow, Matcher: patterns.MustRegex(`drop table`)}))

	findings, err := NewEngine(lib, WithValidator(nil)).Evaluate(sqlArtifact("drop table a; drop table b;\ndrop table c;"))
	require.NoError(t, err)

	assert.Equal(t, []string{"DUP", "DUP", "OTHER", "OTHER"}, ruleIDs(findings))
	assert.Equal(t, []int{1, 2, 1, 2}, []int{findings[0].Line, findings[1].Line, findings[2].Line, findings[3].Line})
	assert.Equal(t, "first", findings[0].Title)
}

func TestEvaluateParseErrorContinues(t *testing.T) {
	broken := func(_ context.Context, kind models.Kind, _ string) error {
		return &parse.SyntaxError{Kind: kind, Line: 2, Msg: "unexpected token"}
	}
	findings, err := NewEngine(patterns.Default(), WithValidator(broken)).Evaluate(sqlArtifact("DROP TABLE a;\n)))"))
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, models.ParseErrorRuleID, findings[0].RuleID)
	assert.Equal(t, models.SeverityMedium, findings[0].Severity)
	assert.Equal(t, 2, findings[0].Line)
	assert.Equal(t, "Line 2: unexpected token", findings[0].Rationale)
	assert.Equal(t, "DROP_TABLE", findings[1].RuleID)
}

func TestEvaluateBrokenManifest(t *testing.T) {
	content := "kind: Deployment\nspec:\n  hostNetwork: true\n  template: [unclosed\n"
	a := models.Artifact{ID: "deploy.yaml", Kind: models.KindManifest, Content: content}
	findings, err := NewEngine(patterns.Default()).Evaluate(a)
	require.NoError(t, err)

	ids := ruleIDs(findings)
	require.NotEmpty(t, ids)
	assert.Equal(t, models.ParseErrorRuleID, ids[0])
	assert.Contains(t, ids, "HOST_NETWORK")
}

func TestEvaluateValidatorFailureIsNotAFinding(t *testing.T) {
	failing := func(context.Context, models.Kind, string) error { return errors.New("grammar unavailable") }
	findings, err := NewEngine(patterns.Default(), WithValidator(failing)).Evaluate(sqlArtifact("SELECT 1;"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestEvaluateMissingRulesForKind(t *testing.T) {
	lib := patterns.New("sql-only")
	require.NoError(t, lib.Register(patterns.Rule{ID: "X", Kind: models.KindSQL, Severity: models.SeverityLow, Matcher: patterns.MustRegex(`x`)}))

	_, err := NewEngine(lib).Evaluate(models.Artifact{ID: "main.tf", Kind: models.KindInfraConfig, Content: "x"})
	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, models.KindInfraConfig, cfgErr.Kind)
}

type badMatcher struct{}

func (badMatcher) Match(string) []patterns.Match { return []patterns.Match{{Start: 50, End: 60}} }
func (badMatcher) Describe() string              { return "bad" }

func TestEvaluateIgnoresOutOfRangeMatches(t *testing.T) {
	lib := patterns.New("t")
	require.NoError(t, lib.Register(patterns.Rule{ID: "BAD", Kind: models.KindSQL, Severity: models.SeverityLow, Matcher: badMatcher{}}))
	findings, err := NewEngine(lib, WithValidator(nil)).Evaluate(sqlArtifact("short"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}
