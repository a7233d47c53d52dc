package scanner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/skillcore/sandbox/internal/manifest"
)

// skippedDirs are excluded from scanning, matching the code_hash exclusion
// set in spec.md §3.
var skippedDirs = map[string]bool{"assets": true, "references": true}

// Scan walks every script file under skillDir (skipping assets/ and
// references/) and applies the rule set appropriate to language, merged
// with any .scanner-rules override. networkEnabled comes from the
// manifest: NetworkRequest rules only fire when the skill has NOT declared
// network use, per spec.md §4.3 ("any explicit HTTP client call when
// network_enabled=false"). The returned issues are deduplicated and sorted
// by file then line for deterministic output.
func Scan(skillDir string, language manifest.Language, networkEnabled bool) ([]SecurityIssue, error) {
	disabled, custom, err := loadOverrides(skillDir)
	if err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}

	rules := make([]Rule, 0, len(defaultRules)+len(custom))
	for _, r := range defaultRules {
		if disabled[r.ID] {
			continue
		}
		if !r.appliesTo(language) {
			continue
		}
		if r.Kind == NetworkRequest && networkEnabled {
			continue
		}
		rules = append(rules, r)
	}
	rules = append(rules, custom...)

	var issues []SecurityIssue
	seen := make(map[string]bool)

	walkErr := filepath.WalkDir(skillDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !isScriptFile(p) {
			return nil
		}

		rel, relErr := filepath.Rel(skillDir, p)
		if relErr != nil {
			rel = p
		}

		found, err := scanFile(p, rel, rules)
		if err != nil {
			return err
		}
		for _, iss := range found {
			key := fmt.Sprintf("%s:%s:%d:%s", iss.RuleID, iss.Location.File, iss.Location.Line, iss.Message)
			if seen[key] {
				continue
			}
			seen[key] = true
			issues = append(issues, iss)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scanner: walk %s: %w", skillDir, walkErr)
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Location.File != issues[j].Location.File {
			return issues[i].Location.File < issues[j].Location.File
		}
		return issues[i].Location.Line < issues[j].Location.Line
	})

	return issues, nil
}

func scanFile(path, rel string, rules []Rule) ([]SecurityIssue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	var issues []SecurityIssue
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		for _, r := range rules {
			if r.Pattern.MatchString(line) {
				issues = append(issues, SecurityIssue{
					RuleID:   r.ID,
					Kind:     r.Kind,
					Severity: r.Severity,
					Message:  r.Message,
					Location: Location{File: rel, Line: lineNo},
				})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return issues, nil
}

var scriptExts = map[string]bool{".py": true, ".js": true, ".ts": true, ".sh": true}

func isScriptFile(path string) bool {
	return scriptExts[filepath.Ext(path)]
}
