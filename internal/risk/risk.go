// Package risk turns a finding set into a score and classification.
package risk

import (
	"fmt"

	"deployguard/internal/models"
)

// MaxScore caps every score.
const MaxScore = 100

// Policy holds the scoring weights and classification thresholds. Any
// CRITICAL finding forces a CRITICAL classification and lifts the score to
// at least CriticalFloor.
type Policy struct {
	CriticalWeight int `mapstructure:"critical_weight" validate:"min=0"`
	HighWeight     int `mapstructure:"high_weight" validate:"min=0"`
	MediumWeight   int `mapstructure:"medium_weight" validate:"min=0"`
	LowWeight      int `mapstructure:"low_weight" validate:"min=0"`

	CriticalThreshold int `mapstructure:"critical_threshold" validate:"min=1,max=100"`
	HighThreshold     int `mapstructure:"high_threshold" validate:"min=1,max=100"`
	MediumThreshold   int `mapstructure:"medium_threshold" validate:"min=1,max=100"`

	CriticalFloor int `mapstructure:"critical_floor" validate:"min=0,max=100"`
}

// DefaultPolicy: 40/25/10/2 weights, 80/50/20 thresholds, floor 100.
func DefaultPolicy() Policy {
	return Policy{
		CriticalWeight:    40,
		HighWeight:        25,
		MediumWeight:      10,
		LowWeight:         2,
		CriticalThreshold: 80,
		HighThreshold:     50,
		MediumThreshold:   20,
		CriticalFloor:     100,
	}
}

// Validate checks the relations the struct tags cannot express.
func (p Policy) Validate() error {
	if p.CriticalWeight < 0 || p.HighWeight < 0 || p.MediumWeight < 0 || p.LowWeight < 0 {
		return &models.ConfigurationError{Reason: "scoring weights must not be negative"}
	}
	if !(p.CriticalThreshold > p.HighThreshold && p.HighThreshold > p.MediumThreshold && p.MediumThreshold > 0) {
		return &models.ConfigurationError{Reason: fmt.Sprintf("thresholds must be strictly decreasing and positive, got %d/%d/%d",
			p.CriticalThreshold, p.HighThreshold, p.MediumThreshold)}
	}
	if p.CriticalThreshold > MaxScore || p.CriticalFloor < 0 || p.CriticalFloor > MaxScore {
		return &models.ConfigurationError{Reason: fmt.Sprintf("thresholds and critical floor must lie within 0..%d", MaxScore)}
	}
	return nil
}

// Aggregate scores findings with the default policy.
func Aggregate(findings []models.Finding) (models.RiskResult, error) {
	return DefaultPolicy().Aggregate(findings)
}

// Aggregate is order independent. The only error wraps
// models.ErrAggregation and means a finding carried a severity outside the
// closed set.
func (p Policy) Aggregate(findings []models.Finding) (models.RiskResult, error) {
	var r models.RiskResult
	for _, f := range findings {
		switch f.Severity {
		case models.SeverityCritical:
			r.CriticalCount++
		case models.SeverityHigh:
			r.HighCount++
		case models.SeverityMedium:
			r.MediumCount++
		case models.SeverityLow:
			r.LowCount++
		case models.SeverityInfo:
			r.InfoCount++
		default:
			return models.RiskResult{}, fmt.Errorf("%w: finding %s has severity %q", models.ErrAggregation, f.Key(), f.Severity)
		}
	}

	score := p.CriticalWeight*r.CriticalCount + p.HighWeight*r.HighCount + p.MediumWeight*r.MediumCount + p.LowWeight*r.LowCount
	if r.CriticalCount > 0 {
		score = max(score, p.CriticalFloor)
	}
	r.Score = min(MaxScore, score)
	r.Classification = p.classify(r.Score)
	if r.CriticalCount > 0 {
		r.Classification = models.SeverityCritical
	}
	return r, nil
}

func (p Policy) classify(score int) models.Severity {
	switch {
	case score >= p.CriticalThreshold:
		return models.SeverityCritical
	case score >= p.HighThreshold:
		return models.SeverityHigh
	case score >= p.MediumThreshold:
		return models.SeverityMedium
	}
	return models.SeverityLow
}

// ByArtifact scores each artifact's findings on their own. Artifacts
// without findings are absent from the map.
func (p Policy) ByArtifact(findings []models.Finding) (map[string]models.RiskResult, error) {
	grouped := make(map[string][]models.Finding)
	for _, f := range findings {
		grouped[f.ArtifactID] = append(grouped[f.ArtifactID], f)
	}
	out := make(map[string]models.RiskResult, len(grouped))
	for id, fs := range grouped {
		r, err := p.Aggregate(fs)
		if err != nil {
			return nil, err
		}
		out[id] = r
	}
	return out, nil
}
