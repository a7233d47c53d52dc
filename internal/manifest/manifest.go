// Package manifest parses skill manifest files (YAML front-matter over a
// documentation body) and infers the runtime attributes the rest of the
// sandbox core depends on: language, network posture, declared dependencies,
// and entry point. The manifest type is immutable once parsed and is not
// imported by the sandbox package — see internal/sandbox's SandboxConfig,
// which the orchestrator builds as an adapter from a Manifest.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Language is the inferred runtime language of a skill.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	Shell      Language = "shell"
	Unknown    Language = "unknown"
)

var nameRe = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

// Manifest is the parsed and enriched form of a skill's front-matter.
type Manifest struct {
	Name          string
	Description   string
	License       string
	Compatibility string
	Metadata      map[string]any
	AllowedTools  []string

	// Derived, not present in the file.
	Language        Language
	NetworkEnabled  bool
	NetworkOutbound []string
	Dependencies    []PackageSpec
	EntryPoint      string
}

// rawFrontMatter mirrors the YAML keys a manifest file may declare.
type rawFrontMatter struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	License       string         `yaml:"license"`
	Compatibility string         `yaml:"compatibility"`
	Metadata      map[string]any `yaml:"metadata"`
	AllowedTools  []string       `yaml:"allowed-tools"`
}

// ParseError reports why a manifest could not be parsed, with a
// human-readable cause. Manifest parsing never panics.
type ParseError struct {
	SkillDir string
	Cause    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse manifest %s: %s", e.SkillDir, e.Cause)
}

// docFileCandidates are checked in order for the manifest document.
var docFileCandidates = []string{"SKILL.md", "skill.md", "README.md"}

// Parse reads and parses the skill manifest in skill_dir, inferring
// language, network posture, dependencies, and entry point.
func Parse(skillDir string) (*Manifest, error) {
	docPath, content, err := readDoc(skillDir)
	if err != nil {
		return nil, &ParseError{SkillDir: skillDir, Cause: err.Error()}
	}

	front, _, err := splitFrontMatter(content)
	if err != nil {
		return nil, &ParseError{SkillDir: skillDir, Cause: fmt.Sprintf("%s: %v", docPath, err)}
	}

	var raw rawFrontMatter
	if err := yaml.Unmarshal([]byte(front), &raw); err != nil {
		return nil, &ParseError{SkillDir: skillDir, Cause: fmt.Sprintf("malformed YAML front-matter: %v", err)}
	}

	if raw.Name == "" {
		return nil, &ParseError{SkillDir: skillDir, Cause: "missing required key: name"}
	}
	if raw.Description == "" {
		return nil, &ParseError{SkillDir: skillDir, Cause: "missing required key: description"}
	}
	if len(raw.Name) > 64 || !nameRe.MatchString(raw.Name) {
		return nil, &ParseError{SkillDir: skillDir, Cause: fmt.Sprintf("name %q does not match [a-z0-9-]{1,64}", raw.Name)}
	}
	if len(raw.Description) > 1024 {
		return nil, &ParseError{SkillDir: skillDir, Cause: "description exceeds 1024 characters"}
	}
	if len(raw.Compatibility) > 500 {
		return nil, &ParseError{SkillDir: skillDir, Cause: "compatibility exceeds 500 characters"}
	}

	m := &Manifest{
		Name:          raw.Name,
		Description:   raw.Description,
		License:       raw.License,
		Compatibility: raw.Compatibility,
		Metadata:      raw.Metadata,
		AllowedTools:  raw.AllowedTools,
	}

	entry, err := detectEntryPoint(skillDir)
	if err != nil {
		return nil, &ParseError{SkillDir: skillDir, Cause: err.Error()}
	}
	m.EntryPoint = entry

	m.Language = inferLanguage(raw.Compatibility, entry)
	m.NetworkEnabled, m.NetworkOutbound = inferNetwork(raw.Compatibility)
	m.Dependencies = extractDependencies(raw.Compatibility)

	return m, nil
}

func readDoc(skillDir string) (path string, content string, err error) {
	for _, name := range docFileCandidates {
		p := filepath.Join(skillDir, name)
		data, err := os.ReadFile(p)
		if err == nil {
			return p, string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("no manifest document found (looked for %s)", strings.Join(docFileCandidates, ", "))
}

// splitFrontMatter separates the leading "---" delimited YAML block from
// the remaining free-form body, in the same style as the legacy skill
// front-matter splitter this package descends from.
func splitFrontMatter(content string) (front, body string, err error) {
	const fence = "---"
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, fence) {
		return "", "", fmt.Errorf("manifest must start with %s", fence)
	}

	rest := trimmed[len(fence):]
	idx := strings.Index(rest, "\n"+fence)
	if idx < 0 {
		return "", "", fmt.Errorf("no closing %s found in manifest front-matter", fence)
	}

	front = strings.TrimSpace(rest[:idx])
	afterClose := rest[idx+1+len(fence):]
	if nl := strings.IndexByte(afterClose, '\n'); nl >= 0 {
		body = afterClose[nl+1:]
	}
	return front, body, nil
}
