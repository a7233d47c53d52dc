package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

const overrideFileName = ".scanner-rules"

// overrideFile is the schema of a per-skill .scanner-rules file (spec.md
// §C.1): it may disable default rule ids and add custom rules, subject to
// the severity cap from spec.md §4.3 — a custom rule whose id is also
// listed in disable may not exceed Medium severity.
type overrideFile struct {
	Disable []string       `yaml:"disable"`
	Custom  []customRule   `yaml:"custom"`
}

type customRule struct {
	ID       string `yaml:"id"`
	Pattern  string `yaml:"pattern"`
	Kind     string `yaml:"kind"`
	Severity string `yaml:"severity"`
}

// loadOverrides reads skillDir/.scanner-rules if present, returning the
// disabled rule ids and any custom rules (already capped and compiled).
// Absence of the file is not an error.
func loadOverrides(skillDir string) (disabled map[string]bool, custom []Rule, err error) {
	data, err := os.ReadFile(filepath.Join(skillDir, overrideFileName))
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", overrideFileName, err)
	}

	var raw overrideFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", overrideFileName, err)
	}

	disabled = make(map[string]bool, len(raw.Disable))
	for _, id := range raw.Disable {
		disabled[id] = true
	}

	for _, c := range raw.Custom {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: rule %q has invalid pattern: %w", overrideFileName, c.ID, err)
		}
		sev := ParseSeverity(c.Severity)
		if disabled[c.ID] && sev > Medium {
			sev = Medium
		}
		custom = append(custom, Rule{
			ID:       c.ID,
			Pattern:  re,
			Kind:     IssueKind(c.Kind),
			Severity: sev,
			Message:  "custom rule " + c.ID,
		})
	}

	return disabled, custom, nil
}
