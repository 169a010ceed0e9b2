package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"deployguard/internal/models"
	"deployguard/internal/pipeline"
)

// ProgressEvent is one server-sent event of a streamed analysis.
type ProgressEvent struct {
	Type     string            `json:"type"` // "progress", "decision", "enrichment", "result", "error"
	Artifact string            `json:"artifact,omitempty"`
	Round    int               `json:"round"`
	Message  string            `json:"message"`
	Result   *AnalysisResponse `json:"result,omitempty"`
}

// streamObserver turns controller events into progress events. Sends give
// up once the client has gone away.
type streamObserver struct {
	ctx    context.Context
	events chan<- ProgressEvent
}

func (o streamObserver) send(ev ProgressEvent) {
	select {
	case o.events <- ev:
	case <-o.ctx.Done():
	}
}

func (o streamObserver) Decision(d models.Decision) {
	o.send(ProgressEvent{
		Type:     "decision",
		Artifact: d.ArtifactID,
		Round:    d.Round,
		Message:  fmt.Sprintf("%s (%s -> %s): %s", d.Action, d.From, d.To, d.Justification),
	})
}

func (o streamObserver) Enrichment(provider string, elapsed time.Duration, err error) {
	msg := fmt.Sprintf("%s answered in %s", provider, elapsed.Round(time.Millisecond))
	if err != nil {
		msg = fmt.Sprintf("%s failed after %s: %v", provider, elapsed.Round(time.Millisecond), err)
	}
	o.send(ProgressEvent{Type: "enrichment", Message: msg})
}

// handleAnalyzeStream runs an upload like /api/analyze but reports every
// controller decision as it happens, ending with a result or error event.
func (s *Server) handleAnalyzeStream(c *gin.Context) {
	artifacts, err := s.readUploads(c)
	if err != nil {
		abort(c, err)
		return
	}

	ctx := c.Request.Context()
	events := make(chan ProgressEvent, 16)
	opts := s.opts
	opts.Observer = streamObserver{ctx: ctx, events: events}
	runner, err := pipeline.NewRunner(opts)
	if err != nil {
		abort(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	emit := func(ev ProgressEvent) {
		c.SSEvent(ev.Type, ev)
		c.Writer.Flush()
	}
	emit(ProgressEvent{Type: "progress", Message: fmt.Sprintf("Processing %d uploaded file(s)...", len(artifacts))})

	var (
		res    *pipeline.Result
		runErr error
	)
	go func() {
		defer close(events)
		res, runErr = runner.Run(ctx, pipeline.Request{Artifacts: artifacts})
	}()
	for ev := range events {
		if ctx.Err() == nil {
			emit(ev)
		}
	}

	if runErr != nil {
		emit(ProgressEvent{Type: "error", Message: runErr.Error()})
		return
	}
	resp := newAnalysisResponse(res)
	emit(ProgressEvent{Type: "result", Message: fmt.Sprintf("Risk %s (%d/100)", resp.RiskClassification, resp.RiskScore), Result: &resp})
}
