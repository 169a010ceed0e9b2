package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deployguard/internal/models"
	"deployguard/internal/risk"
)

var generated = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixture() ([]models.Finding, []models.Decision, Meta) {
	findings := []models.Finding{
		{ArtifactID: "b.sql", RuleID: "DROP_TABLE", Line: 2, Severity: models.SeverityCritical, Title: "Table drop", Rationale: "Line 2 drops users.", ProducedBy: models.ProducedByRuleEngine},
		{ArtifactID: "a.tf", RuleID: "MISSING_LIFECYCLE", Line: 1, Severity: models.SeverityMedium, Title: "No lifecycle", Rationale: "No lifecycle block.", ProducedBy: models.ProducedByRuleEngine},
		{ArtifactID: "b.sql", RuleID: "DDL_DML_MIX", Line: 1, Severity: models.SeverityMedium, Title: "Mixed DDL and DML", Rationale: "Mixed.", ProducedBy: models.ProducedByRuleEngine},
		{ArtifactID: "b.sql", RuleID: models.SemanticRuleID, Sequence: 1, Line: 2, Severity: models.SeverityHigh, Title: "Audit loss", Rationale: "Audit rows go too.", ProducedBy: models.ProducedByEnrichment},
	}
	decisions := []models.Decision{
		{ArtifactID: "b.sql", Round: 0, Action: models.ActionRunRules, From: models.StateStart, To: models.StateRulesDone, At: generated},
		{ArtifactID: "a.tf", Round: 0, Action: models.ActionRunRules, From: models.StateStart, To: models.StateRulesDone, At: generated},
		{ArtifactID: "b.sql", Round: 1, Action: models.ActionInvokeEnrichment, From: models.StateRulesDone, To: models.StateEscalating, At: generated},
		{ArtifactID: "a.tf", Round: 1, Action: models.ActionStop, From: models.StateRulesDone, To: models.StateStopped, Justification: "low impact", At: generated},
		{ArtifactID: "b.sql", Round: 2, Action: models.ActionStop, From: models.StateEscalating, To: models.StateStopped, Justification: "enrichment unavailable: ollama: timeout", At: generated},
	}
	meta := Meta{
		RunID:       "run-1",
		GeneratedAt: generated,
		Artifacts: []ArtifactSummary{
			{ID: "b.sql", Kind: models.KindSQL, Status: models.StatusComplete},
			{ID: "a.tf", Kind: models.KindInfraConfig, Status: models.StatusComplete},
			{ID: "c.yaml", Kind: models.KindManifest, Status: models.StatusFailed, Failure: "no rules registered"},
		},
	}
	return findings, decisions, meta
}

func headings(r *Report) []string {
	out := make([]string, 0, len(r.Sections))
	for _, s := range r.Sections {
		out = append(out, s.Heading)
	}
	return out
}

func TestSectionOrder(t *testing.T) {
	findings, decisions, meta := fixture()
	result, err := risk.Aggregate(findings)
	require.NoError(t, err)

	r := Synthesize(result, findings, decisions, meta)

	want := []string{SectionExecutive, SectionRisk, SectionCritical, SectionHigh, SectionMediumLow, SectionSummary, SectionDecisions}
	if diff := cmp.Diff(want, headings(r)); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}

	md := r.Markdown()
	last := -1
	for _, h := range want {
		idx := strings.Index(md, "## "+h+"\n")
		require.GreaterOrEqual(t, idx, 0, h)
		assert.Greater(t, idx, last, h)
		last = idx
	}
}

func TestFindingsOrderedAndVerbatim(t *testing.T) {
	findings, decisions, meta := fixture()
	result, _ := risk.Aggregate(findings)
	r := Synthesize(result, findings, decisions, meta)

	var got []string
	for _, f := range r.Findings {
		got = append(got, f.Key())
	}
	want := []string{"a.tf|MISSING_LIFECYCLE|1", "b.sql|DDL_DML_MIX|1", "b.sql|DROP_TABLE|2", "b.sql|semantic#1|2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("finding order mismatch (-want +got):\n%s", diff)
	}

	critical := r.Section(SectionCritical)
	assert.Contains(t, critical, "`b.sql:2`")
	assert.Contains(t, critical, "Line 2 drops users.")
	assert.Contains(t, r.Section(SectionHigh), "Audit rows go too.")
	mediumLow := r.Section(SectionMediumLow)
	assert.Less(t, strings.Index(mediumLow, "a.tf:1"), strings.Index(mediumLow, "b.sql:1"))
	assert.Contains(t, mediumLow, "**[MEDIUM]**")
}

func TestEmptyBuckets(t *testing.T) {
	meta := Meta{RunID: "run-2", GeneratedAt: generated, Artifacts: []ArtifactSummary{{ID: "ok.sql", Kind: models.KindSQL, Status: models.StatusComplete}}}
	result, _ := risk.Aggregate(nil)

	r := Synthesize(result, nil, nil, meta)
	for _, h := range []string{SectionCritical, SectionHigh, SectionMediumLow} {
		assert.Equal(t, NoIssues, r.Section(h), h)
	}
	assert.Contains(t, r.Section(SectionRisk), "0/100")
	assert.Contains(t, r.Section(SectionRisk), "LOW")
	assert.Contains(t, r.Section(SectionRisk), "2024-05-01T12:00:00Z")
	assert.Contains(t, r.Section(SectionSummary), "No risky operations")
	assert.Equal(t, DefaultTitle, r.Title)
}

func TestFailedArtifactsNoted(t *testing.T) {
	findings, decisions, meta := fixture()
	result, _ := risk.Aggregate(findings)
	r := Synthesize(result, findings, decisions, meta)

	exec := r.Section(SectionExecutive)
	assert.Contains(t, exec, "**Failed artifacts**")
	assert.Contains(t, exec, "`c.yaml`: no rules registered")
	assert.Contains(t, exec, "Analysed 3 artifact(s) (1 SQL, 1 InfraConfig, 1 Manifest)")
	assert.Contains(t, r.Section(SectionSummary), "1 artifact(s) could not be analysed")
	assert.Contains(t, r.Section(SectionSummary), "fell back to rule-only results")
}

func TestStableAcrossSubmissionOrder(t *testing.T) {
	findings, decisions, meta := fixture()
	result, _ := risk.Aggregate(findings)
	first := Synthesize(result, findings, decisions, meta)

	reversed := func(fs []models.Finding) []models.Finding {
		out := make([]models.Finding, len(fs))
		for i, f := range fs {
			out[len(fs)-1-i] = f
		}
		return out
	}
	shuffledDecisions := []models.Decision{decisions[1], decisions[3], decisions[0], decisions[2], decisions[4]}
	shuffledMeta := meta
	shuffledMeta.Artifacts = []ArtifactSummary{meta.Artifacts[2], meta.Artifacts[0], meta.Artifacts[1]}
	second := Synthesize(result, reversed(findings), shuffledDecisions, shuffledMeta)

	assert.Equal(t, first.Markdown(), second.Markdown())
	a, err := first.JSON()
	require.NoError(t, err)
	b, err := second.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestArtifactSummaries(t *testing.T) {
	findings, decisions, meta := fixture()
	result, _ := risk.Aggregate(findings)
	r := Synthesize(result, findings, decisions, meta)

	require.Len(t, r.Artifacts, 3)
	assert.Equal(t, "a.tf", r.Artifacts[0].ID)
	assert.Equal(t, models.SeverityLow, r.Artifacts[0].Risk.Classification)
	assert.Equal(t, models.SeverityCritical, r.Artifacts[1].Risk.Classification)
	assert.Equal(t, 1, r.Artifacts[1].Escalations)
	assert.Equal(t, models.StatusFailed, r.Artifacts[2].Status)
}

func TestJSON(t *testing.T) {
	findings, decisions, meta := fixture()
	result, _ := risk.Aggregate(findings)
	raw, err := Synthesize(result, findings, decisions, meta).JSON()
	require.NoError(t, err)

	var decoded struct {
		RunID    string            `json:"run_id"`
		Risk     models.RiskResult `json:"risk"`
		Findings []models.Finding  `json:"findings"`
		Sections []Section         `json:"sections"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Equal(t, 100, decoded.Risk.Score)
	assert.Len(t, decoded.Findings, 4)
	assert.Len(t, decoded.Sections, 7)
}
