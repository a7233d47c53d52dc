package manifest

import (
	"fmt"
	"os"
	"path/filepath"
)

// entryCandidates is the ordered list of relative paths checked for an
// entry point, per spec.md §3. The first existing match wins.
var entryCandidates = []string{
	"scripts/main.py", "scripts/main.js", "scripts/main.ts", "scripts/main.sh",
	"index.py", "index.js", "index.ts", "index.sh",
	"run.py", "run.js", "run.ts", "run.sh",
	"entry.py", "entry.js", "entry.ts", "entry.sh",
	"app.py", "app.js", "app.ts", "app.sh",
	"cli.py", "cli.js", "cli.ts", "cli.sh",
}

var scriptExts = map[string]bool{".py": true, ".js": true, ".ts": true, ".sh": true}

// detectEntryPoint scans skill_dir for the first match in entryCandidates;
// failing that, if exactly one script file exists (excluding assets/ and
// references/), it is used as the sole entry point.
func detectEntryPoint(skillDir string) (string, error) {
	for _, rel := range entryCandidates {
		if fileExists(filepath.Join(skillDir, rel)) {
			return rel, nil
		}
	}

	sole, count, err := findSoleScript(skillDir)
	if err != nil {
		return "", err
	}
	if count == 1 {
		return sole, nil
	}
	if count == 0 {
		return "", fmt.Errorf("no entry point found and no scripts present under %s", skillDir)
	}
	return "", fmt.Errorf("no entry point found and %d candidate scripts present (ambiguous)", count)
}

func findSoleScript(skillDir string) (path string, count int, err error) {
	err = filepath.WalkDir(skillDir, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			name := d.Name()
			if name == "assets" || name == "references" {
				return filepath.SkipDir
			}
			return nil
		}
		if scriptExts[filepath.Ext(p)] {
			count++
			rel, relErr := filepath.Rel(skillDir, p)
			if relErr == nil {
				path = rel
			}
		}
		return nil
	})
	return path, count, err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
