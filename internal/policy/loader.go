package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileSpec is the YAML shape of a policy file. Fields left unset fall back
// to the built-in defaults, so a file may override only the gating table,
// only the routing, or only the recipients.
type fileSpec struct {
	Gating      map[string]string `yaml:"gating"` // severity -> "bypass" | "approval"
	Routing     []Route           `yaml:"routing"`
	DefaultTeam string            `yaml:"default_team"`
	Recipients  []string          `yaml:"recipients"`
}

// Load reads a YAML policy file and merges it over the built-in defaults.
func Load(path string) (Policy, error) {
	// #nosec G304 -- path is operator-provided configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (Policy, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}

	p := Default()

	for sev, action := range spec.Gating {
		switch strings.ToLower(strings.TrimSpace(action)) {
		case "bypass":
			p.Gating[strings.ToLower(sev)] = false
		case "approval":
			p.Gating[strings.ToLower(sev)] = true
		default:
			return Policy{}, fmt.Errorf("gating %q: action must be \"bypass\" or \"approval\", got %q", sev, action)
		}
	}

	if len(spec.Routing) > 0 {
		for i, r := range spec.Routing {
			if r.Team == "" {
				return Policy{}, fmt.Errorf("routing rule %d: team is required", i)
			}
		}
		p.Routing = spec.Routing
	}
	if spec.DefaultTeam != "" {
		p.DefaultTeam = spec.DefaultTeam
	}
	if len(spec.Recipients) > 0 {
		p.Recipients = spec.Recipients
	}

	return p, nil
}
