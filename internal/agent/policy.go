package agent

import (
	"fmt"

	"deployguard/internal/models"
)

// Policy decides, after each rule or enrichment pass, whether another
// enrichment round is worth its cost. It never sees the round cap; the
// controller enforces that on its own.
type Policy interface {
	ShouldEscalate(a models.Artifact, findings []models.Finding) (bool, string)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(a models.Artifact, findings []models.Finding) (bool, string)

func (f PolicyFunc) ShouldEscalate(a models.Artifact, findings []models.Finding) (bool, string) {
	return f(a, findings)
}

// DefaultSizeThreshold applies to kinds missing from SizeThresholds.
const DefaultSizeThreshold = 16 * 1024

// DefaultPolicy escalates when there is at least one HIGH or CRITICAL
// finding, when the rule pass found nothing at all, or when the artifact
// is larger than its kind's size threshold.
type DefaultPolicy struct {
	SizeThresholds map[models.Kind]int
}

// ShouldEscalate reports whether the artifact needs an enrichment round
// and why.
func (p DefaultPolicy) ShouldEscalate(a models.Artifact, findings []models.Finding) (bool, string) {
	severe := 0
	for _, f := range findings {
		if f.Severity.AtLeast(models.SeverityHigh) {
			severe++
		}
	}
	if severe > 0 {
		return true, fmt.Sprintf("%d finding(s) at HIGH or above need business context", severe)
	}
	if len(findings) == 0 {
		return true, "rule pass found nothing; checking for risks patterns cannot see"
	}
	threshold := DefaultSizeThreshold
	if t, ok := p.SizeThresholds[a.Kind]; ok && t > 0 {
		threshold = t
	}
	if a.Size > threshold {
		return true, fmt.Sprintf("%s artifact of %d bytes exceeds the %d byte review threshold", a.Kind.DisplayName(), a.Size, threshold)
	}
	return false, fmt.Sprintf("%d low-impact finding(s); rule results are sufficient", len(findings))
}
