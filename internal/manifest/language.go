package manifest

import (
	"path/filepath"
	"strings"
)

// inferLanguage applies the precedence order from spec.md §4.1: an explicit
// keyword in compatibility beats the entry-point file extension, which beats
// Unknown.
func inferLanguage(compatibility, entryPoint string) Language {
	lower := strings.ToLower(compatibility)

	switch {
	case strings.Contains(lower, "typescript"):
		return TypeScript
	case strings.Contains(lower, "python"):
		return Python
	case strings.Contains(lower, "node") || strings.Contains(lower, "javascript"):
		return JavaScript
	case strings.Contains(lower, "bash") || strings.Contains(lower, "shell"):
		return Shell
	}

	switch strings.ToLower(filepath.Ext(entryPoint)) {
	case ".py":
		return Python
	case ".ts":
		return TypeScript
	case ".js":
		return JavaScript
	case ".sh":
		return Shell
	}

	return Unknown
}

// networkKeywords trigger NetworkEnabled when present in compatibility text.
var networkKeywords = []string{"network", "internet", "http", "api", "web"}

func inferNetwork(compatibility string) (enabled bool, outbound []string) {
	lower := strings.ToLower(compatibility)
	for _, kw := range networkKeywords {
		if strings.Contains(lower, kw) {
			enabled = true
			break
		}
	}
	if !enabled {
		return false, nil
	}
	return true, extractDomains(compatibility)
}

// extractDomains pulls an explicit "outbound: a.com, b.com" style clause out
// of the compatibility text. Absence means "any when network_enabled", per
// spec.md's NetworkOutbound semantics.
func extractDomains(compatibility string) []string {
	lower := strings.ToLower(compatibility)
	const marker = "outbound:"
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return nil
	}
	rest := compatibility[idx+len(marker):]
	// Stop at the next line break or sentence terminator (". ").
	if end := strings.IndexByte(rest, '\n'); end >= 0 {
		rest = rest[:end]
	}
	if end := strings.Index(rest, ". "); end >= 0 {
		rest = rest[:end]
	}
	var domains []string
	for _, tok := range strings.Split(rest, ",") {
		tok = strings.TrimSuffix(strings.TrimSpace(tok), ".")
		if tok != "" {
			domains = append(domains, tok)
		}
	}
	return domains
}
