package enrich

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"deployguard/internal/models"
)

// SystemPrompt frames every enrichment request.
const SystemPrompt = "You are a deployment safety reviewer. You find operational risks that need business context " +
	"(privacy, financial data, audit trails, coordination between releases). Respond ONLY with JSON."

var focusByKind = map[models.Kind]string{
	models.KindSQL: `- Personal data deleted or anonymised irreversibly
- UPDATE/DELETE on payment, order, invoice or balance tables
- Deleting logs, audit records or other compliance data
- Schema changes that need an application release to go out first`,
	models.KindInfraConfig: `- Stateful resources (databases, buckets, volumes) that could be replaced or destroyed
- Network or IAM changes that widen access
- Changes that require coordination with running services`,
	models.KindManifest: `- Workloads that lose availability on rollout
- Security context weakened (privileges, host access, secrets in plain text)
- Configuration that couples this release to another service version`,
}

// BuildPrompt renders the user prompt: the artifact, the findings already
// known, and the expected answer format. Content is truncated so the
// whole prompt fits in maxLen characters when maxLen > 0.
func BuildPrompt(a models.Artifact, existing []models.Finding, maxLen int) string {
	var head strings.Builder
	head.WriteString(fmt.Sprintf("Artifact: %s (kind: %s, %d bytes)\n", a.Filename, a.Kind.DisplayName(), a.Size))

	head.WriteString("\nAlready reported (do not repeat these):\n")
	if len(existing) == 0 {
		head.WriteString("(none)\n")
	}
	for _, f := range existing {
		loc := "-"
		if f.Line > 0 {
			loc = fmt.Sprintf("line %d", f.Line)
		}
		head.WriteString(fmt.Sprintf("- [%s] %s (%s)\n", f.Severity, f.Title, loc))
	}

	head.WriteString("\nLook for:\n")
	head.WriteString(focusByKind[a.Kind])
	head.WriteString("\n")

	tail := `
Answer with a JSON array, one object per new risk:
[{"severity": "HIGH", "title": "...", "rationale": "...", "recommendation": "...", "line": 12}]
severity is one of CRITICAL, HIGH, MEDIUM, LOW, INFO. line is the 1-based line number or null.
Return [] when there is nothing new to report.`

	content := a.Content
	if maxLen > 0 {
		budget := maxLen - head.Len() - len(tail) - 64
		if budget < 0 {
			budget = 0
		}
		if len(content) > budget {
			logrus.Warnf("Artifact %s content is being truncated from %d to %d characters for enrichment.", a.ID, len(content), budget)
			content = strings.ToValidUTF8(content[:budget], "") + "\n...(truncated)"
		}
	}

	return head.String() + "\nContent:\n```\n" + content + "\n```\n" + tail
}
