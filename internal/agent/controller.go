// Package agent runs the per-artifact state machine that decides whether
// the rule results are escalated to the enrichment pass.
//
// Transitions, each recorded as one Decision:
//
//	START      -> RULES_DONE  run-rules          (round 0)
//	START      -> STOPPED     stop               (rule evaluation failed)
//	RULES_DONE -> ESCALATING  invoke-enrichment  (policy holds, rounds left)
//	RULES_DONE -> STOPPED     stop               (policy declines, cap reached, converged)
//	ESCALATING -> STOPPED     stop               (enrichment failed or timed out)
//
// A successful enrichment returns to RULES_DONE without a decision of its
// own, so an artifact records at most MaxRounds+2 decisions.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"deployguard/internal/enrich"
	"deployguard/internal/models"
	"deployguard/internal/rules"
	"deployguard/internal/state"
)

const (
	DefaultMaxRounds = 3
	DefaultTimeout   = 30 * time.Second
)

// Observer receives controller events; the metrics package implements it.
type Observer interface {
	Decision(d models.Decision)
	Enrichment(provider string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) Decision(models.Decision)                {}
func (nopObserver) Enrichment(string, time.Duration, error) {}

// Options tunes a Controller. Zero values fall back to the defaults.
type Options struct {
	MaxRounds int
	Timeout   time.Duration
	Policy    Policy
	Observer  Observer
	Now       func() time.Time
}

// Controller drives one artifact at a time through the state machine. A
// single Controller may run many artifacts concurrently; per-artifact
// state lives on the stack of Run.
type Controller struct {
	engine   *rules.Engine
	enricher enrich.Enricher
	state    *state.State
	opts     Options
}

// NewController wires the rule engine, an optional enricher (nil disables
// escalation) and the run state.
func NewController(engine *rules.Engine, enricher enrich.Enricher, st *state.State, opts Options) *Controller {
	if opts.MaxRounds < 0 {
		opts.MaxRounds = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{engine: engine, enricher: enricher, state: st, opts: opts}
}

// Result summarises one artifact's run.
type Result struct {
	ArtifactID  string
	Status      models.Status
	Findings    []models.Finding
	Decisions   []models.Decision
	Escalations int
}

// run holds the per-artifact machine.
type run struct {
	c         *Controller
	artifact  models.Artifact
	log       *logrus.Entry
	current   models.ControllerState
	round     int
	findings  []models.Finding
	decisions []models.Decision
	sequence  int
}

// Run analyses a registered, pending artifact and settles its status. The
// returned error is non-nil only when the artifact failed; enrichment
// problems are never errors.
func (c *Controller) Run(ctx context.Context, a models.Artifact) (Result, error) {
	r := &run{
		c:        c,
		artifact: a,
		current:  models.StateStart,
		log: logrus.WithFields(logrus.Fields{
			"run_id":   c.state.RunID,
			"artifact": a.ID,
		}),
	}
	err := r.execute(ctx)
	res := Result{
		ArtifactID: a.ID,
		Status:     c.state.Status(a.ID),
		Findings:   r.findings,
		Decisions:  r.decisions,
	}
	for _, d := range r.decisions {
		if d.Action == models.ActionInvokeEnrichment {
			res.Escalations++
		}
	}
	return res, err
}

func (r *run) execute(ctx context.Context) error {
	ruleFindings, err := r.c.engine.Evaluate(r.artifact)
	if err != nil {
		if decideErr := r.decide(models.ActionStop, models.StateStopped, "rule evaluation failed: "+err.Error()); decideErr != nil {
			err = errors.Join(err, decideErr)
		}
		if failErr := r.c.state.Fail(r.artifact.ID, err.Error()); failErr != nil {
			return errors.Join(err, failErr)
		}
		return err
	}
	if err := r.decide(models.ActionRunRules, models.StateRulesDone,
		fmt.Sprintf("rule pass with library %s produced %d finding(s)", r.c.engine.Library().Version, len(ruleFindings))); err != nil {
		return r.fail(err)
	}
	if _, err := r.append(ruleFindings); err != nil {
		return r.fail(err)
	}

	escalations, lastAdded := 0, -1
	for {
		reason, escalate := r.next(escalations, lastAdded)
		if !escalate {
			if err := r.decide(models.ActionStop, models.StateStopped, reason); err != nil {
				return r.fail(err)
			}
			break
		}
		if err := r.decide(models.ActionInvokeEnrichment, models.StateEscalating, reason); err != nil {
			return r.fail(err)
		}
		escalations++

		extra, err := r.enrich(ctx)
		if err != nil {
			r.log.WithField("round", r.round).Warnf("Enrichment failed, keeping rule-only results: %v", err)
			if err := r.decide(models.ActionStop, models.StateStopped, unavailable(err)); err != nil {
				return r.fail(err)
			}
			break
		}
		if lastAdded, err = r.append(extra); err != nil {
			return r.fail(err)
		}
		r.current = models.StateRulesDone
	}

	if err := r.c.state.Complete(r.artifact.ID); err != nil {
		return err
	}
	r.log.WithField("state", r.current).Infof("Analysis complete: %d finding(s), %d decision(s)", len(r.findings), len(r.decisions))
	return nil
}

// next picks the exit from RULES_DONE. The checks run in priority order
// and the policy is consulted last.
func (r *run) next(escalations, lastAdded int) (string, bool) {
	if r.c.enricher == nil {
		return "enrichment disabled; rule results are final", false
	}
	if escalations >= r.c.opts.MaxRounds {
		return fmt.Sprintf("round limit reached (%d of %d)", escalations, r.c.opts.MaxRounds), false
	}
	if lastAdded == 0 {
		return "enrichment converged: last round added no new findings", false
	}
	ok, why := r.c.opts.Policy.ShouldEscalate(r.artifact, r.findings)
	return why, ok
}

func unavailable(err error) string {
	var enrichErr *models.EnrichmentError
	if errors.As(err, &enrichErr) {
		return fmt.Sprintf("enrichment unavailable: %s: %v", enrichErr.Provider, enrichErr.Cause)
	}
	return "enrichment unavailable: " + err.Error()
}

func (r *run) enrich(ctx context.Context) ([]models.Finding, error) {
	ectx, cancel := context.WithTimeout(ctx, r.c.opts.Timeout)
	defer cancel()

	type answer struct {
		findings []models.Finding
		err      error
	}
	done := make(chan answer, 1)
	existing := append([]models.Finding(nil), r.findings...)
	start := time.Now()
	go func() {
		fs, err := r.c.enricher.Enrich(ectx, r.artifact, existing)
		done <- answer{fs, err}
	}()

	var extra []models.Finding
	var err error
	select {
	case <-ectx.Done():
		// providers that ignore ctx are abandoned here
		err = fmt.Errorf("no answer within %s: %w", r.c.opts.Timeout, ectx.Err())
	case a := <-done:
		extra, err = a.findings, a.err
	}
	r.c.opts.Observer.Enrichment(r.c.enricher.Name(), time.Since(start), err)
	if err != nil {
		var enrichErr *models.EnrichmentError
		if !errors.As(err, &enrichErr) {
			err = &models.EnrichmentError{Provider: r.c.enricher.Name(), Cause: err}
		}
		return nil, err
	}
	return r.normalize(extra), nil
}

// normalize stamps enrichment findings with this artifact's identity and a
// fresh sequence number, dropping repeats of earlier enrichment findings.
func (r *run) normalize(extra []models.Finding) []models.Finding {
	seen := make(map[string]bool)
	for _, f := range r.findings {
		if f.ProducedBy == models.ProducedByEnrichment {
			seen[semanticKey(f)] = true
		}
	}
	out := make([]models.Finding, 0, len(extra))
	for _, f := range extra {
		if !f.Severity.Valid() {
			f.Severity = models.SeverityMedium
		}
		f.ArtifactID = r.artifact.ID
		f.RuleID = models.SemanticRuleID
		f.ProducedBy = models.ProducedByEnrichment
		key := semanticKey(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		r.sequence++
		f.Sequence = r.sequence
		out = append(out, f)
	}
	return out
}

func semanticKey(f models.Finding) string {
	return fmt.Sprintf("%d|%s|%s", f.Line, f.Severity, strings.ToLower(strings.TrimSpace(f.Title)))
}

func (r *run) append(fs []models.Finding) (int, error) {
	if len(fs) == 0 {
		return 0, nil
	}
	added, err := r.c.state.AppendFindings(fs...)
	if err != nil {
		return 0, err
	}
	r.findings = append(r.findings, fs...)
	return added, nil
}

func (r *run) decide(action models.Action, to models.ControllerState, justification string) error {
	d := models.Decision{
		ArtifactID:    r.artifact.ID,
		Round:         r.round,
		Action:        action,
		From:          r.current,
		To:            to,
		Justification: justification,
		At:            r.c.opts.Now().UTC(),
	}
	if err := r.c.state.AppendDecisions(d); err != nil {
		return err
	}
	r.decisions = append(r.decisions, d)
	r.round++
	r.current = to
	r.c.opts.Observer.Decision(d)
	r.log.WithFields(logrus.Fields{"round": d.Round, "state": d.To}).Infof("%s: %s", d.Action, d.Justification)
	return nil
}

func (r *run) fail(err error) error {
	if failErr := r.c.state.Fail(r.artifact.ID, err.Error()); failErr != nil {
		return errors.Join(err, failErr)
	}
	return err
}
