package models

import (
	"fmt"
	"strings"
)

// Kind identifies the family of deployment artifact being analysed.
type Kind string

const (
	KindSQL         Kind = "sql"
	KindInfraConfig Kind = "infra"
	KindManifest    Kind = "manifest"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{KindSQL, KindInfraConfig, KindManifest}

// ParseKind accepts the canonical names and a few common aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sql":
		return KindSQL, nil
	case "infra", "infraconfig", "terraform", "hcl", "tf":
		return KindInfraConfig, nil
	case "manifest", "yaml", "yml", "kubernetes", "k8s":
		return KindManifest, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

// DisplayName is the human label used in reports.
func (k Kind) DisplayName() string {
	switch k {
	case KindSQL:
		return "SQL"
	case KindInfraConfig:
		return "InfraConfig"
	case KindManifest:
		return "Manifest"
	}
	return string(k)
}

// Artifact is one unit of deployment content submitted for analysis.
// It is treated as immutable once ingested.
type Artifact struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Kind     Kind   `json:"kind"`
	Content  string `json:"content"`
	Size     int    `json:"size"`
}

// Status is the per-artifact lifecycle inside one run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Dependency is a cross-artifact relation detected outside the core and
// handed in by the caller.
type Dependency struct {
	Source      string   `json:"source"`
	Target      string   `json:"target"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}
