package domain

import "strings"

// Severity is the four-level disaster severity scale.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// ParseSeverity matches a raw severity string against the four known levels,
// ignoring case and surrounding whitespace. Returns false if unrecognized.
func ParseSeverity(raw string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return SeverityCritical, true
	case "high":
		return SeverityHigh, true
	case "medium":
		return SeverityMedium, true
	case "low":
		return SeverityLow, true
	default:
		return "", false
	}
}

// NormalizeSeverity parses a raw severity, falling back to Medium when the
// value is unrecognized. Medium is the fail-safe default: it routes the
// incident through human approval instead of auto-dispatch. The second
// return reports whether the fallback was applied.
func NormalizeSeverity(raw string) (Severity, bool) {
	if sev, ok := ParseSeverity(raw); ok {
		return sev, false
	}
	return SeverityMedium, true
}

// Assessment is the classifier's judgment of an observation.
// Immutable; produced once per observation.
type Assessment struct {
	DisasterType string   `json:"disaster_type"`
	Severity     Severity `json:"severity"`
	// RawSeverity preserves the classifier's literal severity output,
	// which may differ from Severity when the fail-safe default applied.
	RawSeverity string `json:"raw_severity,omitempty"`
	Rationale   string `json:"rationale,omitempty"`
}
