// Package patterns holds the versioned table of deterministic detection
// rules, keyed by artifact kind.
package patterns

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"deployguard/internal/models"
)

// Rule maps a matchable condition to a fixed severity and rationale.
// Rationale may use the {{match}} and {{line}} placeholders.
type Rule struct {
	ID             string
	Kind           models.Kind
	Matcher        Matcher
	Severity       models.Severity
	Title          string
	Rationale      string
	Recommendation string
}

// Explain renders the rationale template for one match.
func (r Rule) Explain(match string, line int) string {
	match = strings.Join(strings.Fields(strings.ToValidUTF8(match, "")), " ")
	return strings.NewReplacer(
		"{{match}}", match,
		"{{line}}", strconv.Itoa(line),
	).Replace(r.Rationale)
}

func (r Rule) validate() error {
	switch {
	case r.ID == "":
		return &models.ConfigurationError{Kind: r.Kind, Reason: "rule without id"}
	case r.Matcher == nil:
		return &models.ConfigurationError{Kind: r.Kind, Reason: fmt.Sprintf("rule %s has no matcher", r.ID)}
	case !r.Severity.Valid():
		return &models.ConfigurationError{Kind: r.Kind, Reason: fmt.Sprintf("rule %s has unknown severity %q", r.ID, r.Severity)}
	}
	for _, k := range models.Kinds {
		if r.Kind == k {
			return nil
		}
	}
	return &models.ConfigurationError{Kind: r.Kind, Reason: fmt.Sprintf("rule %s targets unknown kind", r.ID)}
}

// Library is loaded once per run and never mutated while analysis runs.
type Library struct {
	Version string
	rules   map[models.Kind][]Rule
}

// New returns an empty library.
func New(version string) *Library {
	return &Library{Version: version, rules: make(map[models.Kind][]Rule)}
}

// Register appends a rule. Rules sharing an id are allowed; the engine
// keeps the first registered match per (id, line).
func (l *Library) Register(r Rule) error {
	if err := r.validate(); err != nil {
		return err
	}
	l.rules[r.Kind] = append(l.rules[r.Kind], r)
	return nil
}

// Rules returns the rules for kind ordered by id. Ties keep registration
// order. A kind without rules is a configuration error.
func (l *Library) Rules(kind models.Kind) ([]Rule, error) {
	rs := l.rules[kind]
	if len(rs) == 0 {
		return nil, &models.ConfigurationError{Kind: kind, Reason: "no rules registered in library " + l.Version}
	}
	out := make([]Rule, len(rs))
	copy(out, rs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len counts all rules across kinds.
func (l *Library) Len() int {
	n := 0
	for _, rs := range l.rules {
		n += len(rs)
	}
	return n
}

// Empty reports whether no kind has any rule; the run cannot proceed.
func (l *Library) Empty() bool {
	return l.Len() == 0
}

// Merge returns a new library: rules from overlay replace rules with the
// same kind and id in l, and the rest are appended.
func (l *Library) Merge(overlay *Library) *Library {
	version := l.Version
	if overlay.Version != "" {
		version = l.Version + "+" + overlay.Version
	}
	out := New(version)
	for _, kind := range models.Kinds {
		replaced := map[string]bool{}
		for _, r := range overlay.rules[kind] {
			replaced[r.ID] = true
		}
		for _, r := range l.rules[kind] {
			if !replaced[r.ID] {
				out.rules[kind] = append(out.rules[kind], r)
			}
		}
		out.rules[kind] = append(out.rules[kind], overlay.rules[kind]...)
	}
	return out
}
