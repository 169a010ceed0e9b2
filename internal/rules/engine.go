// Package rules applies a pattern library to one artifact.
package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"deployguard/internal/models"
	"deployguard/internal/parse"
	"deployguard/internal/patterns"
)

// Validator reports malformed content as an error wrapping models.ErrParse.
type Validator func(ctx context.Context, kind models.Kind, content string) error

// Engine is safe for concurrent use; it holds no per-artifact state.
type Engine struct {
	library  *patterns.Library
	validate Validator
}

// Option configures an Engine.
type Option func(*Engine)

// WithValidator replaces the syntax check run before the rules. A nil
// validator disables it.
func WithValidator(v Validator) Option {
	return func(e *Engine) { e.validate = v }
}

// NewEngine creates an Engine over lib.
func NewEngine(lib *patterns.Library, opts ...Option) *Engine {
	e := &Engine{library: lib, validate: parse.Validate}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Library returns the library the engine evaluates.
func (e *Engine) Library() *patterns.Library {
	return e.library
}

// Evaluate returns every finding for the artifact: a PARSE_ERROR finding
// first when the content is malformed, then rule matches ordered by rule
// id and position. The only error is a *models.ConfigurationError when the
// library has no rules for the artifact's kind.
func (e *Engine) Evaluate(a models.Artifact) ([]models.Finding, error) {
	rules, err := e.library.Rules(a.Kind)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"artifact": a.ID, "kind": a.Kind})

	findings := make([]models.Finding, 0)
	if f, ok := e.parseFinding(a, log); ok {
		findings = append(findings, f)
	}

	seen := make(map[string]bool)
	for _, r := range rules {
		for _, m := range r.Matcher.Match(a.Content) {
			if m.Start < 0 || m.Start > len(a.Content) || m.End < m.Start {
				log.Warnf("Rule %s returned an out-of-range match [%d,%d), skipping", r.ID, m.Start, m.End)
				continue
			}
			end := min(m.End, len(a.Content))
			line := patterns.LineAt(a.Content, m.Start)
			key := fmt.Sprintf("%s|%d", r.ID, line)
			if seen[key] {
				continue
			}
			seen[key] = true
			findings = append(findings, models.Finding{
				ArtifactID:     a.ID,
				RuleID:         r.ID,
				Line:           line,
				Severity:       r.Severity,
				Title:          r.Title,
				Rationale:      r.Explain(a.Content[m.Start:end], line),
				Snippet:        patterns.Snippet(a.Content, patterns.Match{Start: m.Start, End: end}),
				Recommendation: r.Recommendation,
				ProducedBy:     models.ProducedByRuleEngine,
			})
		}
	}
	log.Debugf("Rule pass produced %d findings from %d rules", len(findings), len(rules))
	return findings, nil
}

func (e *Engine) parseFinding(a models.Artifact, log *logrus.Entry) (models.Finding, bool) {
	if e.validate == nil {
		return models.Finding{}, false
	}
	err := e.validate(context.Background(), a.Kind, a.Content)
	if err == nil {
		return models.Finding{}, false
	}
	if !errors.Is(err, models.ErrParse) {
		log.Warnf("Syntax check could not run: %v", err)
		return models.Finding{}, false
	}

	f := models.Finding{
		ArtifactID:     a.ID,
		RuleID:         models.ParseErrorRuleID,
		Severity:       models.SeverityMedium,
		Title:          fmt.Sprintf("Malformed %s content", a.Kind.DisplayName()),
		Rationale:      err.Error(),
		Recommendation: "Fix the syntax so the artifact can be reviewed reliably; pattern checks ran on the raw text.",
		ProducedBy:     models.ProducedByRuleEngine,
	}
	var synErr *parse.SyntaxError
	if errors.As(err, &synErr) {
		f.Line = synErr.Line
		f.Rationale = synErr.Msg
		if synErr.Line > 0 {
			f.Rationale = fmt.Sprintf("Line %d: %s", synErr.Line, synErr.Msg)
		}
	}
	return f, true
}
