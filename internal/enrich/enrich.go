// Package enrich is the port to the optional semantic analysis pass. The
// controller depends only on Enricher; concrete providers wrap a language
// model behind Completer.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"deployguard/internal/models"
)

// Enricher returns additional findings for an artifact given the findings
// gathered so far. Implementations may be slow and may fail; callers bound
// them with ctx.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, a models.Artifact, existing []models.Finding) ([]models.Finding, error)
}

// Func adapts a plain function to Enricher.
type Func func(ctx context.Context, a models.Artifact, existing []models.Finding) ([]models.Finding, error)

func (f Func) Name() string { return "func" }

func (f Func) Enrich(ctx context.Context, a models.Artifact, existing []models.Finding) ([]models.Finding, error) {
	return f(ctx, a, existing)
}

// Completer sends one system/user prompt pair to a model and returns the
// raw text answer.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// DefaultMaxPromptLength keeps prompts within small local models' context.
const DefaultMaxPromptLength = 7500

// LLM turns a Completer into an Enricher using the JSON findings protocol.
type LLM struct {
	provider        string
	completer       Completer
	maxPromptLength int
}

// NewLLM wraps completer. maxPromptLength <= 0 disables truncation.
func NewLLM(provider string, completer Completer, maxPromptLength int) *LLM {
	return &LLM{provider: provider, completer: completer, maxPromptLength: maxPromptLength}
}

func (l *LLM) Name() string { return l.provider }

// Enrich never returns partial results: any failure is an
// *models.EnrichmentError and no findings.
func (l *LLM) Enrich(ctx context.Context, a models.Artifact, existing []models.Finding) ([]models.Finding, error) {
	log := logrus.WithFields(logrus.Fields{"artifact": a.ID, "provider": l.provider})
	prompt := BuildPrompt(a, existing, l.maxPromptLength)
	log.Debugf("Sending enrichment prompt of %d characters", len(prompt))

	start := time.Now()
	raw, err := l.completer.Complete(ctx, SystemPrompt, prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, &models.EnrichmentError{Provider: l.provider, Cause: err}
	}
	findings, err := ParseResponse(raw, a)
	if err != nil {
		return nil, &models.EnrichmentError{Provider: l.provider, Cause: err}
	}
	log.Debugf("Enrichment returned %d findings in %s", len(findings), time.Since(start).Round(time.Millisecond))
	return findings, nil
}
