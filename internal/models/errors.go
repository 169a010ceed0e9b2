package models

import (
	"errors"
	"fmt"
)

var (
	ErrParse           = errors.New("parse error")
	ErrEnrichment      = errors.New("enrichment unavailable")
	ErrConfiguration   = errors.New("configuration error")
	ErrAggregation     = errors.New("aggregation invariant violated")
	ErrUnsupportedKind = errors.New("unsupported artifact kind")
	ErrEmptyLibrary    = errors.New("pattern library has no rules for any kind")
	ErrTooLarge        = errors.New("artifact exceeds size limit")
	ErrNoArtifacts     = errors.New("no artifacts to analyse")
)

// EnrichmentError wraps a failure of the enrichment capability. Timeouts
// are reported the same way as any other failure.
type EnrichmentError struct {
	Provider string
	Cause    error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrEnrichment, e.Provider, e.Cause)
}

func (e *EnrichmentError) Unwrap() []error { return []error{ErrEnrichment, e.Cause} }

// ConfigurationError is fatal for the artifact it concerns only.
type ConfigurationError struct {
	Kind   Kind
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
	}
	return fmt.Sprintf("%s for kind %s: %s", ErrConfiguration, e.Kind.DisplayName(), e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
