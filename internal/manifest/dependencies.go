package manifest

import "strings"

// PackageSpec is a single dependency extracted from a manifest's
// compatibility text against the known-package table below. Unknown tokens
// are ignored rather than guessed, per spec.md §4.1.
type PackageSpec struct {
	Ecosystem string // "pypi" or "npm"
	Name      string
}

// knownPackages is the curated table of recognizable dependency tokens.
// It is intentionally small: the point is precision, not coverage — a
// missed dependency only means audit (C4) has one less package to check,
// while a hallucinated one would create a false advisory.
var knownPackages = []PackageSpec{
	{Ecosystem: "pypi", Name: "requests"},
	{Ecosystem: "pypi", Name: "pandas"},
	{Ecosystem: "pypi", Name: "pillow"},
	{Ecosystem: "pypi", Name: "numpy"},
	{Ecosystem: "pypi", Name: "playwright"},
	{Ecosystem: "pypi", Name: "beautifulsoup4"},
	{Ecosystem: "pypi", Name: "openai"},
	{Ecosystem: "npm", Name: "axios"},
	{Ecosystem: "npm", Name: "playwright"},
	{Ecosystem: "npm", Name: "cheerio"},
	{Ecosystem: "npm", Name: "puppeteer"},
	{Ecosystem: "npm", Name: "lodash"},
}

func extractDependencies(compatibility string) []PackageSpec {
	lower := strings.ToLower(compatibility)
	var found []PackageSpec
	seen := make(map[string]bool)
	for _, pkg := range knownPackages {
		if strings.Contains(lower, strings.ToLower(pkg.Name)) {
			key := pkg.Ecosystem + ":" + pkg.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			found = append(found, pkg)
		}
	}
	return found
}

// UsesPlaywright reports whether any declared dependency is playwright, in
// either ecosystem — the sandbox needs this to decide whether to grant the
// extra filesystem/network surface a browser automation skill requires.
func (m *Manifest) UsesPlaywright() bool {
	for _, d := range m.Dependencies {
		if d.Name == "playwright" {
			return true
		}
	}
	return false
}
