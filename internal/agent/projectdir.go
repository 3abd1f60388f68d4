package agent

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// projectEntryPatterns are checked in order; the first pattern with a match
// decides the project directory.
var projectEntryPatterns = []string{
	"**/src/app/**/page.tsx",
	"**/src/app/**/page.jsx",
	"**/src/pages/**/index.tsx",
	"**/src/pages/**/index.jsx",
	"**/src/app/layout.tsx",
	"**/src/App.tsx",
	"**/src/App.jsx",
}

const (
	maxWalkUp    = 10
	maxScanDepth = 12
)

// WorkspaceProjects resolves the project directory inside a workspace by
// locating a known app entry file and walking up to its package.json.
type WorkspaceProjects struct {
	Root string
}

func (w WorkspaceProjects) ProjectDir() string {
	root := filepath.Clean(w.Root)
	firstMatch := make([]string, len(projectEntryPatterns))
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if skipDir(d.Name()) || strings.Count(rel, "/") >= maxScanDepth {
				return fs.SkipDir
			}
			return nil
		}
		for i, pattern := range projectEntryPatterns {
			if firstMatch[i] == "" && matchGlob(pattern, rel) {
				firstMatch[i] = p
			}
		}
		return nil
	})

	for _, file := range firstMatch {
		if file == "" {
			continue
		}
		if dir, ok := findPackageDir(filepath.Dir(file)); ok {
			return dir
		}
	}
	return root
}

func skipDir(name string) bool {
	return name == "node_modules" || strings.HasPrefix(name, ".")
}

func findPackageDir(dir string) (string, bool) {
	for i := 0; i < maxWalkUp; i++ {
		if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

// matchGlob matches a slash-separated relative path; "**" spans zero or more
// segments.
func matchGlob(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
