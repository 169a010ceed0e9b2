package patterns

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"deployguard/internal/models"
)

// ruleEntry is one rule in a YAML pattern file.
type ruleEntry struct {
	ID             string `yaml:"id"`
	Pattern        string `yaml:"pattern"`
	Severity       string `yaml:"severity"`
	Title          string `yaml:"title"`
	Rationale      string `yaml:"rationale"`
	Recommendation string `yaml:"recommendation"`
}

// sourceFile is the on-disk layout:
//
//	version: team-2024
//	rules:
//	  sql:
//	    - id: DROP_SCHEMA
//	      pattern: 'DROP\s+SCHEMA'
//	      severity: CRITICAL
//	      title: Schema drop
//	      rationale: Line {{line}} drops a schema.
type sourceFile struct {
	Version string                 `yaml:"version"`
	Rules   map[string][]ruleEntry `yaml:"rules"`
}

// LoadFile reads a YAML pattern table from path.
func LoadFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pattern file %s: %w", path, err)
	}
	return Load(bytes.NewReader(data))
}

// Load decodes a YAML pattern table. Unknown keys, unknown kinds, invalid
// regular expressions and unknown severities are configuration errors.
func Load(r io.Reader) (*Library, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var src sourceFile
	if err := dec.Decode(&src); err != nil && err != io.EOF {
		return nil, &models.ConfigurationError{Reason: fmt.Sprintf("decoding pattern table: %v", err)}
	}

	names := make([]string, 0, len(src.Rules))
	for name := range src.Rules {
		names = append(names, name)
	}
	sort.Strings(names)

	lib := New(src.Version)
	for _, name := range names {
		kind, err := models.ParseKind(name)
		if err != nil {
			return nil, &models.ConfigurationError{Reason: err.Error()}
		}
		for _, e := range src.Rules[name] {
			rule, err := e.toRule(kind)
			if err != nil {
				return nil, err
			}
			if err := lib.Register(rule); err != nil {
				return nil, err
			}
		}
	}
	return lib, nil
}

func (e ruleEntry) toRule(kind models.Kind) (Rule, error) {
	sev, err := models.ParseSeverity(e.Severity)
	if err != nil {
		return Rule{}, &models.ConfigurationError{Kind: kind, Reason: fmt.Sprintf("rule %s: %v", e.ID, err)}
	}
	if e.Pattern == "" {
		return Rule{}, &models.ConfigurationError{Kind: kind, Reason: fmt.Sprintf("rule %s: empty pattern", e.ID)}
	}
	m, err := NewRegexMatcher(e.Pattern)
	if err != nil {
		return Rule{}, &models.ConfigurationError{Kind: kind, Reason: fmt.Sprintf("rule %s: %v", e.ID, err)}
	}
	title := e.Title
	if title == "" {
		title = e.ID
	}
	return Rule{
		ID:             e.ID,
		Kind:           kind,
		Matcher:        m,
		Severity:       sev,
		Title:          title,
		Rationale:      e.Rationale,
		Recommendation: e.Recommendation,
	}, nil
}
