package models

import (
	"fmt"
	"strings"
)

// Severity is the closed set of risk levels a finding can carry.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Severities is ordered from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank orders severities; higher is worse. Unknown values rank below INFO.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	case SeverityInfo:
		return 0
	}
	return -1
}

// AtLeast reports whether s is as severe as or worse than other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// ParseSeverity is case-insensitive.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// Producer records which layer created a finding.
type Producer string

const (
	ProducedByRuleEngine Producer = "rule-engine"
	ProducedByEnrichment Producer = "enrichment"
	ProducedByExternal   Producer = "external"
)

// SemanticRuleID is the rule id carried by every enrichment finding.
const SemanticRuleID = "semantic"

// ParseErrorRuleID marks findings produced for malformed content.
const ParseErrorRuleID = "PARSE_ERROR"

// Finding is one detected risk instance. Findings are never edited after
// creation; corrections are new findings.
type Finding struct {
	ArtifactID     string   `json:"artifact_id"`
	RuleID         string   `json:"rule_id"`
	Sequence       int      `json:"sequence,omitempty"` // enrichment and dependency findings
	Line           int      `json:"line,omitempty"`     // 1-indexed, 0 when unknown
	Severity       Severity `json:"severity"`
	Title          string   `json:"title"`
	Rationale      string   `json:"rationale"`
	Snippet        string   `json:"snippet,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	ProducedBy     Producer `json:"produced_by"`
}

// Key is the identity used for idempotent re-runs:
// (artifact, rule id or semantic sequence, line).
func (f Finding) Key() string {
	rule := f.RuleID
	switch {
	case f.ProducedBy == ProducedByEnrichment:
		rule = fmt.Sprintf("%s#%d", SemanticRuleID, f.Sequence)
	case f.Sequence > 0:
		rule = fmt.Sprintf("%s#%d", f.RuleID, f.Sequence)
	}
	return fmt.Sprintf("%s|%s|%d", f.ArtifactID, rule, f.Line)
}

// Location renders "artifact:line", or just the artifact when the line is unknown.
func (f Finding) Location() string {
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d", f.ArtifactID, f.Line)
	}
	return f.ArtifactID
}

// RiskResult is derived from a finding set and never stored as truth.
type RiskResult struct {
	Score          int      `json:"score"`
	Classification Severity `json:"classification"`
	CriticalCount  int      `json:"critical_count"`
	HighCount      int      `json:"high_count"`
	MediumCount    int      `json:"medium_count"`
	LowCount       int      `json:"low_count"`
	InfoCount      int      `json:"info_count"`
}

// Total is the number of findings the result was computed from.
func (r RiskResult) Total() int {
	return r.CriticalCount + r.HighCount + r.MediumCount + r.LowCount + r.InfoCount
}
