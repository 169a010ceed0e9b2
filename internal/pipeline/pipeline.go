// Package pipeline runs a full analysis: every artifact through its own
// controller in parallel, then scoring and the report once all of them
// have settled.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"deployguard/internal/agent"
	"deployguard/internal/enrich"
	"deployguard/internal/metrics"
	"deployguard/internal/models"
	"deployguard/internal/patterns"
	"deployguard/internal/report"
	"deployguard/internal/risk"
	"deployguard/internal/rules"
	"deployguard/internal/state"
)

// DependencyRulePrefix prefixes the rule id of caller-supplied dependency
// findings.
const DependencyRulePrefix = "DEPENDENCY_"

// Options configures a Runner. Library is required.
type Options struct {
	Library         *patterns.Library
	Enricher        enrich.Enricher // nil disables enrichment
	Escalation      agent.Policy
	Scoring         *risk.Policy // nil uses risk.DefaultPolicy
	MaxRounds       int
	Timeout         time.Duration
	Parallel        int // 0 uses GOMAXPROCS
	SkipSyntaxCheck bool
	Metrics         *metrics.Metrics
	Observer        agent.Observer // receives controller events alongside Metrics
	Title           string
	Now             func() time.Time
}

// Request is one batch of artifacts analysed as a single run.
type Request struct {
	Artifacts    []models.Artifact   `json:"artifacts"`
	Dependencies []models.Dependency `json:"dependencies,omitempty"`
}

// Result is everything a run produced.
type Result struct {
	RunID     string
	Risk      models.RiskResult
	Report    *report.Report
	Snapshot  state.Snapshot
	Artifacts []agent.Result // sorted by artifact id
	Elapsed   time.Duration
}

type Runner struct {
	opts    Options
	scoring risk.Policy
	engine  *rules.Engine
}

// NewRunner validates the options. An empty library is the one
// misconfiguration that fails every run, so it is rejected here.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Library == nil || opts.Library.Empty() {
		return nil, models.ErrEmptyLibrary
	}
	scoring := risk.DefaultPolicy()
	if opts.Scoring != nil {
		scoring = *opts.Scoring
	}
	if err := scoring.Validate(); err != nil {
		return nil, err
	}
	if opts.Parallel <= 0 {
		opts.Parallel = runtime.GOMAXPROCS(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	var engineOpts []rules.Option
	if opts.SkipSyntaxCheck {
		engineOpts = append(engineOpts, rules.WithValidator(nil))
	}
	return &Runner{
		opts:    opts,
		scoring: scoring,
		engine:  rules.NewEngine(opts.Library, engineOpts...),
	}, nil
}

// Run analyses the request. Problems with a single artifact never fail the
// run; they show up as a failed status in the report. The returned error
// is reserved for an unusable request or a broken internal invariant.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Artifacts) == 0 {
		return nil, models.ErrNoArtifacts
	}
	start := time.Now()
	runID := uuid.NewString()
	log := logrus.WithField("run_id", runID)

	st := state.New(runID)
	for _, a := range req.Artifacts {
		if err := st.Register(a); err != nil {
			return nil, fmt.Errorf("registering artifact: %w", err)
		}
	}
	if err := r.appendDependencies(st, req.Dependencies, log); err != nil {
		return nil, err
	}
	log.WithField("artifacts", len(req.Artifacts)).Info("Starting analysis run")

	ctrlOpts := agent.Options{
		MaxRounds: r.opts.MaxRounds,
		Timeout:   r.opts.Timeout,
		Policy:    r.opts.Escalation,
		Now:       r.opts.Now,
		Observer:  r.observers(),
	}
	ctrl := agent.NewController(r.engine, r.opts.Enricher, st, ctrlOpts)

	results := make([]agent.Result, len(req.Artifacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Parallel)
	for i, a := range req.Artifacts {
		g.Go(func() error {
			res, err := ctrl.Run(gctx, a)
			if err != nil {
				log.WithField("artifact", a.ID).Errorf("Artifact failed: %v", err)
			}
			results[i] = res
			if r.opts.Metrics != nil {
				r.opts.Metrics.Artifact(a.Kind, res.Status)
			}
			return nil
		})
	}
	_ = g.Wait() // per-artifact errors are recorded in state

	if !st.Settled() {
		return nil, fmt.Errorf("%w: artifacts still pending after all controllers returned", models.ErrAggregation)
	}
	snap := st.Snapshot()
	findings := settledFindings(snap)
	result, err := r.scoring.Aggregate(findings)
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ArtifactID < results[j].ArtifactID })
	elapsed := time.Since(start)
	rep := report.Synthesize(result, findings, snap.Decisions, report.Meta{
		Title:       r.opts.Title,
		RunID:       runID,
		GeneratedAt: r.opts.Now(),
		Elapsed:     elapsed,
		Artifacts:   summaries(snap),
		Policy:      &r.scoring,
	})

	if r.opts.Metrics != nil {
		r.opts.Metrics.Findings(findings)
		r.opts.Metrics.Run(result, elapsed)
	}
	log.WithFields(logrus.Fields{
		"score":          result.Score,
		"classification": result.Classification,
		"findings":       len(findings),
		"failed":         len(snap.Failures),
	}).Infof("Analysis run finished in %s", elapsed.Round(time.Millisecond))

	return &Result{
		RunID:     runID,
		Risk:      result,
		Report:    rep,
		Snapshot:  snap,
		Artifacts: results,
		Elapsed:   elapsed,
	}, nil
}

// fanout forwards controller events to several observers.
type fanout []agent.Observer

func (f fanout) Decision(d models.Decision) {
	for _, o := range f {
		o.Decision(d)
	}
}

func (f fanout) Enrichment(provider string, elapsed time.Duration, err error) {
	for _, o := range f {
		o.Enrichment(provider, elapsed, err)
	}
}

func (r *Runner) observers() agent.Observer {
	var f fanout
	if r.opts.Metrics != nil {
		f = append(f, r.opts.Metrics)
	}
	if r.opts.Observer != nil {
		f = append(f, r.opts.Observer)
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// appendDependencies records caller-detected dependencies as findings on
// their source artifact. Dependencies naming an artifact outside the run
// are dropped.
func (r *Runner) appendDependencies(st *state.State, deps []models.Dependency, log *logrus.Entry) error {
	seq := make(map[string]int)
	for _, d := range deps {
		if st.Status(d.Source) != models.StatusPending {
			log.WithFields(logrus.Fields{"source": d.Source, "target": d.Target}).Warn("Dropping dependency on unknown artifact")
			continue
		}
		seq[d.Source]++
		f := DependencyFinding(d)
		f.Sequence = seq[d.Source]
		if _, err := st.AppendFindings(f); err != nil {
			return fmt.Errorf("recording dependency %s -> %s: %w", d.Source, d.Target, err)
		}
	}
	return nil
}

// DependencyFinding converts one dependency. Severity is matched
// case-insensitively; missing or unknown severities become MEDIUM.
func DependencyFinding(d models.Dependency) models.Finding {
	sev, err := models.ParseSeverity(string(d.Severity))
	if err != nil {
		if d.Severity != "" {
			logrus.WithFields(logrus.Fields{"source": d.Source, "target": d.Target}).Warnf("Dependency %v, using MEDIUM", err)
		}
		sev = models.SeverityMedium
	}
	kind := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(d.Type)))
	if kind == "" {
		kind = "UNSPECIFIED"
	}
	title := fmt.Sprintf("Depends on %s", d.Target)
	if d.Target == "" {
		title = "Cross-artifact dependency"
	}
	return models.Finding{
		ArtifactID: d.Source,
		RuleID:     DependencyRulePrefix + kind,
		Severity:   sev,
		Title:      title,
		Rationale:  d.Description,
		ProducedBy: models.ProducedByExternal,
	}
}

// settledFindings drops everything recorded for failed artifacts.
func settledFindings(snap state.Snapshot) []models.Finding {
	out := make([]models.Finding, 0, len(snap.Findings))
	for _, f := range snap.Findings {
		if snap.Status[f.ArtifactID] == models.StatusComplete {
			out = append(out, f)
		}
	}
	return out
}

func summaries(snap state.Snapshot) []report.ArtifactSummary {
	out := make([]report.ArtifactSummary, 0, len(snap.Artifacts))
	for _, a := range snap.Artifacts {
		out = append(out, report.ArtifactSummary{
			ID:      a.ID,
			Kind:    a.Kind,
			Status:  snap.Status[a.ID],
			Failure: snap.Failures[a.ID],
		})
	}
	return out
}
