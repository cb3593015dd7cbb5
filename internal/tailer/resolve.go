package tailer

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveDirectories expands wildcard directory specs and returns the
// directories that exist, deduplicated in first-seen order.
func ResolveDirectories(specs []string) []string {
	seen := make(map[string]struct{}, len(specs))
	dirs := make([]string, 0, len(specs))

	add := func(path string) {
		path = filepath.Clean(path)
		if _, ok := seen[path]; ok {
			return
		}
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return
		}
		seen[path] = struct{}{}
		dirs = append(dirs, path)
	}

	for _, spec := range specs {
		if !strings.ContainsAny(spec, "*?[") {
			add(spec)
			continue
		}
		matches, err := filepath.Glob(spec)
		if err != nil {
			continue
		}
		for _, m := range matches {
			add(m)
		}
	}

	return dirs
}
