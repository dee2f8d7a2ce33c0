// Package policy holds the severity gating rule and response-team routing.
//
// The gating rule is the single source of truth for whether a severity level
// requires human approval before dispatch. Critical and High bypass approval
// because speed matters for high-stakes events the classifier has already
// validated; Medium and Low require an operator to confirm, which suppresses
// false positives. Anything unrecognized requires approval (fail-safe).
//
// Both gating and routing can be overridden by a YAML policy file (see
// Load), optionally hot-reloaded on change (see Watch).
package policy

import (
	"strings"

	"github.com/cirruswatch/stormsentry/internal/domain"
)

// Response teams an incident can be routed to.
const (
	TeamEmergencyResponse = "emergency-response"
	TeamPublicWorks       = "public-works"
	TeamCivilDefense      = "civil-defense"
)

// Decision is the outcome of consulting the severity policy.
type Decision struct {
	RequiresApproval bool
}

// Route selects a response team for a disaster type and severity.
// Rules are evaluated in order; the first match wins.
type Route struct {
	Severities   []string `yaml:"severities,omitempty"`
	TypeContains []string `yaml:"type_contains,omitempty"`
	Team         string   `yaml:"team"`
}

// Policy bundles the gating rule, routing rules, and alert recipients.
type Policy struct {
	// Gating maps a lowercase severity level to whether approval is
	// required before dispatch.
	Gating map[string]bool

	Routing     []Route
	DefaultTeam string
	Recipients  []string
}

// Default returns the built-in policy: Critical/High bypass approval,
// Medium/Low require it; Critical/High route to emergency response, flood
// and storm types to public works, everything else to civil defense.
func Default() Policy {
	return Policy{
		Gating: map[string]bool{
			"critical": false,
			"high":     false,
			"medium":   true,
			"low":      true,
		},
		Routing: []Route{
			{Severities: []string{"critical", "high"}, Team: TeamEmergencyResponse},
			{TypeContains: []string{"flood", "storm"}, Team: TeamPublicWorks},
		},
		DefaultTeam: TeamCivilDefense,
	}
}

// Decide maps a severity level to a gating decision. Pure and total:
// severities absent from the gating table require approval.
func (p Policy) Decide(sev domain.Severity) Decision {
	required, ok := p.Gating[strings.ToLower(string(sev))]
	if !ok {
		return Decision{RequiresApproval: true}
	}
	return Decision{RequiresApproval: required}
}

// RouteTeam selects the response team for a disaster type and severity.
func (p Policy) RouteTeam(disasterType string, sev domain.Severity) string {
	lowerType := strings.ToLower(disasterType)
	lowerSev := strings.ToLower(string(sev))

	for _, r := range p.Routing {
		for _, s := range r.Severities {
			if strings.ToLower(s) == lowerSev {
				return r.Team
			}
		}
		for _, sub := range r.TypeContains {
			if sub != "" && strings.Contains(lowerType, strings.ToLower(sub)) {
				return r.Team
			}
		}
	}
	return p.DefaultTeam
}
