package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"deployguard/internal/models"
)

func TestMetricsRecord(t *testing.T) {
	m := New()

	m.Decision(models.Decision{Action: models.ActionRunRules})
	m.Decision(models.Decision{Action: models.ActionStop})
	m.Decision(models.Decision{Action: models.ActionStop})
	m.Findings([]models.Finding{
		{Severity: models.SeverityCritical, ProducedBy: models.ProducedByRuleEngine},
		{Severity: models.SeverityHigh, ProducedBy: models.ProducedByEnrichment},
		{Severity: models.SeverityCritical, ProducedBy: models.ProducedByRuleEngine},
	})
	m.Enrichment("ollama", 2*time.Second, errors.New("timeout"))
	m.Artifact(models.KindSQL, models.StatusComplete)
	m.Run(models.RiskResult{Score: 100, Classification: models.SeverityCritical}, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("run-rules")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FindingsTotal.WithLabelValues("CRITICAL", "rule-engine")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArtifactsTotal.WithLabelValues("sql", "complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("CRITICAL")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.LastRiskScore))
	assert.Equal(t, 1, testutil.CollectAndCount(m.EnrichmentSeconds))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.Decision(models.Decision{Action: models.ActionInvokeEnrichment})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `deployguard_controller_decisions_total{action="invoke-enrichment"} 1`)
}
