// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"deployguard/internal/ingest"
	"deployguard/internal/metrics"
	"deployguard/internal/models"
	"deployguard/internal/pipeline"
	"deployguard/internal/report"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

// Limits bounds a single request.
type Limits struct {
	MaxFileSize int64
	MaxFiles    int
}

type Server struct {
	opts    pipeline.Options
	runner  *pipeline.Runner
	metrics *metrics.Metrics
	limits  Limits
}

// New builds a server over the pipeline options. opts.Metrics, when set,
// is also served on /metrics.
func New(opts pipeline.Options, limits Limits) (*Server, error) {
	runner, err := pipeline.NewRunner(opts)
	if err != nil {
		return nil, err
	}
	if limits.MaxFileSize <= 0 {
		limits.MaxFileSize = ingest.DefaultMaxFileSize
	}
	return &Server{opts: opts, runner: runner, metrics: opts.Metrics, limits: limits}, nil
}

// Router registers every route on a fresh engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/analyze", s.handleAnalyzeUpload)
	api.POST("/analyze/json", s.handleAnalyzeJSON)
	api.POST("/analyze/stream", s.handleAnalyzeStream)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	return r
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// AnalysisResponse is the result of one run.
type AnalysisResponse struct {
	RunID               string                   `json:"run_id"`
	Report              string                   `json:"report"`
	RiskScore           int                      `json:"risk_score"`
	RiskClassification  models.Severity          `json:"risk_classification"`
	TotalFindings       int                      `json:"total_findings"`
	CriticalCount       int                      `json:"critical_count"`
	HighCount           int                      `json:"high_count"`
	MediumCount         int                      `json:"medium_count"`
	LowCount            int                      `json:"low_count"`
	InfoCount           int                      `json:"info_count"`
	Artifacts           []report.ArtifactSummary `json:"artifacts"`
	Findings            []models.Finding         `json:"findings"`
	Decisions           []models.Decision        `json:"decisions"`
	AnalysisTimeSeconds float64                  `json:"analysis_time_seconds"`
}

func newAnalysisResponse(res *pipeline.Result) AnalysisResponse {
	return AnalysisResponse{
		RunID:               res.RunID,
		Report:              res.Report.Markdown(),
		RiskScore:           res.Risk.Score,
		RiskClassification:  res.Risk.Classification,
		TotalFindings:       res.Risk.Total(),
		CriticalCount:       res.Risk.CriticalCount,
		HighCount:           res.Risk.HighCount,
		MediumCount:         res.Risk.MediumCount,
		LowCount:            res.Risk.LowCount,
		InfoCount:           res.Risk.InfoCount,
		Artifacts:           res.Report.Artifacts,
		Findings:            res.Report.Findings,
		Decisions:           res.Report.Decisions,
		AnalysisTimeSeconds: res.Elapsed.Seconds(),
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

func (s *Server) run(c *gin.Context, req pipeline.Request) {
	res, err := s.runner.Run(c.Request.Context(), req)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, newAnalysisResponse(res))
}

// abort maps an error to a status code and an error code.
func abort(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "ANALYSIS_FAILED"
	switch {
	case errors.Is(err, models.ErrTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"
	case errors.Is(err, models.ErrUnsupportedKind), errors.Is(err, ingest.ErrBinary):
		status, code = http.StatusBadRequest, "INVALID_FILE_TYPE"
	case errors.Is(err, ingest.ErrTooManyFiles):
		status, code = http.StatusBadRequest, "TOO_MANY_FILES"
	case errors.Is(err, models.ErrNoArtifacts):
		status, code = http.StatusBadRequest, "NO_FILES"
	case errors.Is(err, errDuplicate):
		status, code = http.StatusBadRequest, "DUPLICATE_FILE"
	}
	if status >= http.StatusInternalServerError {
		logrus.WithField("path", c.FullPath()).Errorf("Analysis failed: %v", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: code})
}
