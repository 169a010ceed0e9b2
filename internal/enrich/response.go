package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"deployguard/internal/models"
)

var reFenced = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// item accepts both the documented field names and the older
// description/line_number variants models tend to produce.
type item struct {
	Severity       string `json:"severity"`
	Title          string `json:"title"`
	Category       string `json:"category"`
	Rationale      string `json:"rationale"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
	Line           *int   `json:"line"`
	LineNumber     *int   `json:"line_number"`
}

// ParseResponse extracts enrichment findings for a from a model answer.
// The JSON may be a bare array, an object with a "findings" array, or
// either one wrapped in a fenced code block. Unknown severities become
// MEDIUM and line numbers outside the artifact are dropped.
func ParseResponse(raw string, a models.Artifact) ([]models.Finding, error) {
	payload := strings.TrimSpace(raw)
	if m := reFenced.FindStringSubmatch(payload); m != nil {
		payload = strings.TrimSpace(m[1])
	}
	if payload == "" {
		return nil, errors.New("empty response")
	}

	items, err := decodeItems(payload)
	if err != nil {
		// models often add prose around the JSON
		start, end := strings.Index(payload, "["), strings.LastIndex(payload, "]")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON findings in response: %w", err)
		}
		if items, err = decodeItems(payload[start : end+1]); err != nil {
			return nil, fmt.Errorf("malformed findings JSON: %w", err)
		}
	}

	lineCount := strings.Count(a.Content, "\n") + 1
	findings := make([]models.Finding, 0, len(items))
	for _, it := range items {
		f := it.finding(a.ID, lineCount)
		if f.Title == "" && f.Rationale == "" {
			continue
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func decodeItems(payload string) ([]item, error) {
	var items []item
	if strings.HasPrefix(payload, "[") {
		err := json.Unmarshal([]byte(payload), &items)
		return items, err
	}
	var wrapped struct {
		Findings *[]item `json:"findings"`
	}
	if err := json.Unmarshal([]byte(payload), &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Findings == nil {
		return nil, errors.New(`object without "findings"`)
	}
	return *wrapped.Findings, nil
}

func (it item) finding(artifactID string, lineCount int) models.Finding {
	sev, err := models.ParseSeverity(it.Severity)
	if err != nil {
		sev = models.SeverityMedium
	}
	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = strings.TrimSpace(it.Category)
	}
	rationale := strings.TrimSpace(it.Rationale)
	if rationale == "" {
		rationale = strings.TrimSpace(it.Description)
	}
	if title == "" && rationale != "" {
		title = "Semantic risk"
	}
	line := 0
	for _, l := range []*int{it.Line, it.LineNumber} {
		if l != nil && *l >= 1 && *l <= lineCount {
			line = *l
			break
		}
	}
	return models.Finding{
		ArtifactID:     artifactID,
		RuleID:         models.SemanticRuleID,
		Line:           line,
		Severity:       sev,
		Title:          title,
		Rationale:      rationale,
		Recommendation: strings.TrimSpace(it.Recommendation),
		ProducedBy:     models.ProducedByEnrichment,
	}
}
