// Package report turns the settled state of a run into the risk report.
//
// The section layout is fixed so downstream parsers can rely on it:
//
//	Executive Summary
//	Risk Assessment
//	Critical Issues
//	High-Priority Issues
//	Medium and Low Issues
//	Summary
//	Decision Log
//
// Empty buckets render the text NoIssues instead of disappearing.
package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"deployguard/internal/format"
	"deployguard/internal/models"
	"deployguard/internal/risk"
)

const (
	DefaultTitle = "Deployment Risk Report"
	NoIssues     = "No issues detected."
)

// Section headings in render order.
const (
	SectionExecutive = "Executive Summary"
	SectionRisk      = "Risk Assessment"
	SectionCritical  = "Critical Issues"
	SectionHigh      = "High-Priority Issues"
	SectionMediumLow = "Medium and Low Issues"
	SectionSummary   = "Summary"
	SectionDecisions = "Decision Log"
)

// ArtifactSummary is the per-artifact line of the report.
type ArtifactSummary struct {
	ID          string            `json:"id"`
	Kind        models.Kind       `json:"kind"`
	Status      models.Status     `json:"status"`
	Failure     string            `json:"failure,omitempty"`
	Risk        models.RiskResult `json:"risk"`
	Escalations int               `json:"escalations"`
}

// Meta carries what the findings alone cannot tell the synthesizer.
type Meta struct {
	Title       string
	RunID       string
	GeneratedAt time.Time
	Elapsed     time.Duration
	Artifacts   []ArtifactSummary // ID, Kind, Status and Failure are read
	Policy      *risk.Policy      // per-artifact scoring; nil uses the default
}

type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Report is both the rendered document and its machine-readable source.
type Report struct {
	Title           string            `json:"title"`
	RunID           string            `json:"run_id"`
	GeneratedAt     time.Time         `json:"generated_at"`
	AnalysisSeconds float64           `json:"analysis_seconds"`
	Risk            models.RiskResult `json:"risk"`
	Artifacts       []ArtifactSummary `json:"artifacts"`
	Findings        []models.Finding  `json:"findings"`
	Decisions       []models.Decision `json:"decisions"`
	Sections        []Section         `json:"sections"`
}

// Synthesize formats a settled run. It never changes a finding's severity
// and its output depends only on its inputs, not on their order.
func Synthesize(result models.RiskResult, findings []models.Finding, decisions []models.Decision, meta Meta) *Report {
	r := &Report{
		Title:           meta.Title,
		RunID:           meta.RunID,
		GeneratedAt:     meta.GeneratedAt.UTC(),
		AnalysisSeconds: meta.Elapsed.Seconds(),
		Risk:            result,
		Findings:        sortFindings(findings),
		Decisions:       sortDecisions(decisions),
	}
	if r.Title == "" {
		r.Title = DefaultTitle
	}
	r.Artifacts = summarize(meta, r.Findings, r.Decisions)

	var critical, high, rest []models.Finding
	for _, f := range r.Findings {
		switch f.Severity {
		case models.SeverityCritical:
			critical = append(critical, f)
		case models.SeverityHigh:
			high = append(high, f)
		default:
			rest = append(rest, f)
		}
	}

	r.Sections = []Section{
		{SectionExecutive, r.executiveSummary()},
		{SectionRisk, r.riskAssessment()},
		{SectionCritical, detailed(critical)},
		{SectionHigh, detailed(high)},
		{SectionMediumLow, brief(rest)},
		{SectionSummary, r.summary()},
		{SectionDecisions, decisionLog(r.Decisions)},
	}
	return r
}

func sortFindings(in []models.Finding) []models.Finding {
	out := append([]models.Finding(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ArtifactID != b.ArtifactID {
			return a.ArtifactID < b.ArtifactID
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.Title < b.Title
	})
	return out
}

func sortDecisions(in []models.Decision) []models.Decision {
	out := append([]models.Decision(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ArtifactID != out[j].ArtifactID {
			return out[i].ArtifactID < out[j].ArtifactID
		}
		return out[i].Round < out[j].Round
	})
	return out
}

func summarize(meta Meta, findings []models.Finding, decisions []models.Decision) []ArtifactSummary {
	policy := risk.DefaultPolicy()
	if meta.Policy != nil {
		policy = *meta.Policy
	}
	scores, err := policy.ByArtifact(findings)
	if err != nil {
		logrus.WithField("run_id", meta.RunID).Warnf("Per-artifact scoring skipped: %v", err)
		scores = nil
	}

	out := make([]ArtifactSummary, 0, len(meta.Artifacts))
	for _, a := range meta.Artifacts {
		a.Risk = models.RiskResult{Classification: models.SeverityLow}
		if res, ok := scores[a.ID]; ok {
			a.Risk = res
		}
		a.Escalations = 0
		for _, d := range decisions {
			if d.ArtifactID == a.ID && d.Action == models.ActionInvokeEnrichment {
				a.Escalations++
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Report) failed() []ArtifactSummary {
	var out []ArtifactSummary
	for _, a := range r.Artifacts {
		if a.Status == models.StatusFailed {
			out = append(out, a)
		}
	}
	return out
}

func (r *Report) executiveSummary() string {
	var b strings.Builder
	kinds := make(map[models.Kind]int)
	for _, a := range r.Artifacts {
		kinds[a.Kind]++
	}
	var parts []string
	for _, k := range models.Kinds {
		if n := kinds[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k.DisplayName()))
		}
	}
	fmt.Fprintf(&b, "Analysed %d artifact(s)", len(r.Artifacts))
	if len(parts) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, " and recorded %d finding(s). Overall risk is %s at %d/100.\n",
		len(r.Findings), r.Risk.Classification, r.Risk.Score)

	if len(r.Artifacts) > 0 {
		rows := make(map[string]models.RiskResult, len(r.Artifacts))
		order := make([]string, 0, len(r.Artifacts))
		for _, a := range r.Artifacts {
			rows[a.ID] = a.Risk
			order = append(order, a.ID)
		}
		b.WriteString("\n")
		b.WriteString(format.SeverityCounts(format.Markdown, rows, order))
		b.WriteString("\n")
	}

	if failed := r.failed(); len(failed) > 0 {
		b.WriteString("\n**Failed artifacts** (not analysed, no findings recorded):\n\n")
		for _, a := range failed {
			fmt.Fprintf(&b, "- `%s`: %s\n", a.ID, a.Failure)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Report) riskAssessment() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- **Overall Risk Score:** %d/100\n", r.Risk.Score)
	fmt.Fprintf(&b, "- **Risk Classification:** %s\n", r.Risk.Classification)
	fmt.Fprintf(&b, "- **Analysis Date:** %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Findings:** %d critical, %d high, %d medium, %d low, %d info",
		r.Risk.CriticalCount, r.Risk.HighCount, r.Risk.MediumCount, r.Risk.LowCount, r.Risk.InfoCount)
	return b.String()
}

// detailed renders one block per finding.
func detailed(fs []models.Finding) string {
	if len(fs) == 0 {
		return NoIssues
	}
	blocks := make([]string, 0, len(fs))
	for _, f := range fs {
		var b strings.Builder
		fmt.Fprintf(&b, "### %s\n\n", f.Title)
		fmt.Fprintf(&b, "**Location:** `%s`  \n", f.Location())
		fmt.Fprintf(&b, "**Rule:** %s (%s)  \n", f.RuleID, f.ProducedBy)
		fmt.Fprintf(&b, "**Risk:** %s", f.Rationale)
		if f.Snippet != "" {
			fmt.Fprintf(&b, "  \n**Snippet:** `%s`", strings.ReplaceAll(f.Snippet, "`", "'"))
		}
		if f.Recommendation != "" {
			fmt.Fprintf(&b, "  \n**Recommendation:** %s", f.Recommendation)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// brief renders one line per finding.
func brief(fs []models.Finding) string {
	if len(fs) == 0 {
		return NoIssues
	}
	lines := make([]string, 0, len(fs))
	for _, f := range fs {
		lines = append(lines, fmt.Sprintf("- **[%s]** `%s` %s: %s", f.Severity, f.Location(), f.Title, f.Rationale))
	}
	return strings.Join(lines, "\n")
}

func (r *Report) summary() string {
	var b strings.Builder
	switch {
	case len(r.Findings) == 0:
		b.WriteString("No risky operations were detected in the submitted artifacts.")
	case r.Risk.CriticalCount > 0 || r.Risk.HighCount > 0:
		fmt.Fprintf(&b, "%d critical and %d high-priority issue(s) drive the %s classification.",
			r.Risk.CriticalCount, r.Risk.HighCount, r.Risk.Classification)
	default:
		fmt.Fprintf(&b, "Only medium or lower severity issues were found; overall risk is %s.", r.Risk.Classification)
	}

	escalations, unavailable := 0, 0
	for _, d := range r.Decisions {
		switch {
		case d.Action == models.ActionInvokeEnrichment:
			escalations++
		case d.Action == models.ActionStop && strings.HasPrefix(d.Justification, "enrichment unavailable"):
			unavailable++
		}
	}
	if escalations > 0 {
		fmt.Fprintf(&b, " Enrichment ran %d round(s)", escalations)
		if unavailable > 0 {
			fmt.Fprintf(&b, "; %d artifact(s) fell back to rule-only results", unavailable)
		}
		b.WriteString(".")
	}
	if n := len(r.failed()); n > 0 {
		fmt.Fprintf(&b, " %d artifact(s) could not be analysed and are excluded from the score.", n)
	}
	return b.String()
}

func decisionLog(ds []models.Decision) string {
	if len(ds) == 0 {
		return "No decisions recorded."
	}
	tb := format.NewTable(format.Markdown)
	tb.Header("Artifact", "Round", "Action", "Transition", "Justification")
	for _, d := range ds {
		tb.Row(d.ArtifactID, d.Round, d.Action, fmt.Sprintf("%s → %s", d.From, d.To), d.Justification)
	}
	return tb.String()
}

// Markdown renders the report document.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", r.Title)
	for _, s := range r.Sections {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", s.Heading, s.Body)
	}
	fmt.Fprintf(&b, "\n---\n*Run %s | Generated %s*\n", r.RunID, r.GeneratedAt.Format(time.RFC3339))
	return b.String()
}

// JSON renders the machine-readable form.
func (r *Report) JSON() ([]byte, error) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	return out, nil
}

// Section returns the body under heading, or "" if absent.
func (r *Report) Section(heading string) string {
	for _, s := range r.Sections {
		if s.Heading == heading {
			return s.Body
		}
	}
	return ""
}
