// Package state is the append-only store one analysis run accumulates
// findings, decisions and per-artifact status into.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"deployguard/internal/models"
)

var (
	ErrUnknownArtifact   = errors.New("artifact is not part of this run")
	ErrDuplicateArtifact = errors.New("artifact already registered")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRoundOrder        = errors.New("decision round does not increase")
)

// State is safe for concurrent writers. Entries are never edited or
// removed; order within one artifact's findings and decisions is the
// order they were appended in.
type State struct {
	RunID string

	mu        sync.Mutex
	artifacts map[string]models.Artifact
	order     []string
	findings  []models.Finding
	keys      map[string]bool
	decisions []models.Decision
	lastRound map[string]int
	status    map[string]models.Status
	failures  map[string]string
}

// New creates an empty state for runID.
func New(runID string) *State {
	return &State{
		RunID:     runID,
		artifacts: make(map[string]models.Artifact),
		keys:      make(map[string]bool),
		lastRound: make(map[string]int),
		status:    make(map[string]models.Status),
		failures:  make(map[string]string),
	}
}

// Register adds an artifact in pending status.
func (s *State) Register(a models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[a.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateArtifact, a.ID)
	}
	s.artifacts[a.ID] = a
	s.order = append(s.order, a.ID)
	s.status[a.ID] = models.StatusPending
	logrus.WithFields(logrus.Fields{"run_id": s.RunID, "artifact": a.ID}).Debug("Artifact registered")
	return nil
}

// AppendFindings appends findings whose identity key is new and returns how
// many were added. Every finding must belong to a pending artifact and
// carry a known severity; otherwise nothing is appended.
func (s *State) AppendFindings(fs ...models.Finding) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range fs {
		if err := s.writable(f.ArtifactID); err != nil {
			return 0, err
		}
		if !f.Severity.Valid() {
			return 0, fmt.Errorf("finding %s has unknown severity %q", f.Key(), f.Severity)
		}
	}
	added := 0
	for _, f := range fs {
		key := f.Key()
		if s.keys[key] {
			continue
		}
		s.keys[key] = true
		s.findings = append(s.findings, f)
		added++
	}
	return added, nil
}

// AppendDecisions appends controller decisions. Rounds must strictly
// increase per artifact, starting at 0.
func (s *State) AppendDecisions(ds ...models.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[string]int)
	for _, d := range ds {
		if err := s.writable(d.ArtifactID); err != nil {
			return err
		}
		last, seen := pending[d.ArtifactID]
		if !seen {
			last, seen = s.lastRound[d.ArtifactID]
		}
		if !seen && d.Round != 0 {
			return fmt.Errorf("%w: %s starts at round %d", ErrRoundOrder, d.ArtifactID, d.Round)
		}
		if seen && d.Round <= last {
			return fmt.Errorf("%w: %s round %d after %d", ErrRoundOrder, d.ArtifactID, d.Round, last)
		}
		pending[d.ArtifactID] = d.Round
	}
	s.decisions = append(s.decisions, ds...)
	for id, round := range pending {
		s.lastRound[id] = round
	}
	return nil
}

func (s *State) writable(id string) error {
	st, ok := s.status[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArtifact, id)
	}
	if st.Terminal() {
		return fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, id, st)
	}
	return nil
}

// Complete moves a pending artifact to complete.
func (s *State) Complete(id string) error {
	return s.transition(id, models.StatusComplete, "")
}

// Fail moves a pending artifact to failed, recording why.
func (s *State) Fail(id string, reason string) error {
	return s.transition(id, models.StatusFailed, reason)
}

func (s *State) transition(id string, to models.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writable(id); err != nil {
		return err
	}
	s.status[id] = to
	if to == models.StatusFailed {
		s.failures[id] = reason
	}
	logrus.WithFields(logrus.Fields{"run_id": s.RunID, "artifact": id, "status": to}).Debug("Artifact settled")
	return nil
}

// Status returns the artifact's status, or "" when it is unknown.
func (s *State) Status(id string) models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

// Settled reports whether every registered artifact is terminal.
func (s *State) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.status {
		if !st.Terminal() {
			return false
		}
	}
	return true
}

// Snapshot is an immutable copy of the state at one point in time.
type Snapshot struct {
	RunID     string
	Artifacts []models.Artifact // sorted by id
	Findings  []models.Finding
	Decisions []models.Decision
	Status    map[string]models.Status
	Failures  map[string]string
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		RunID:     s.RunID,
		Artifacts: make([]models.Artifact, 0, len(s.order)),
		Findings:  append([]models.Finding(nil), s.findings...),
		Decisions: append([]models.Decision(nil), s.decisions...),
		Status:    make(map[string]models.Status, len(s.status)),
		Failures:  make(map[string]string, len(s.failures)),
	}
	for _, id := range s.order {
		snap.Artifacts = append(snap.Artifacts, s.artifacts[id])
	}
	sort.Slice(snap.Artifacts, func(i, j int) bool { return snap.Artifacts[i].ID < snap.Artifacts[j].ID })
	for id, st := range s.status {
		snap.Status[id] = st
	}
	for id, reason := range s.failures {
		snap.Failures[id] = reason
	}
	return snap
}

// FindingsFor returns the findings of one artifact in append order.
func (snap Snapshot) FindingsFor(id string) []models.Finding {
	out := make([]models.Finding, 0)
	for _, f := range snap.Findings {
		if f.ArtifactID == id {
			out = append(out, f)
		}
	}
	return out
}

// DecisionsFor returns the decisions of one artifact in append order.
func (snap Snapshot) DecisionsFor(id string) []models.Decision {
	out := make([]models.Decision, 0)
	for _, d := range snap.Decisions {
		if d.ArtifactID == id {
			out = append(out, d)
		}
	}
	return out
}

// Failed lists failed artifact ids in order.
func (snap Snapshot) Failed() []string {
	out := make([]string, 0, len(snap.Failures))
	for id := range snap.Failures {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
