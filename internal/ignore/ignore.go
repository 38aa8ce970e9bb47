// Package ignore compiles glob ignore patterns into a predicate used by the
// source resolver to filter files and by the mirror planner to exclude
// deletion candidates. It replaces the teacher's flat strings.Contains/
// filepath.Match check in sync/diff.go with doublestar's recursive-glob
// matching, so a pattern like "**/*.log" or "build/**" behaves the way a
// deployer expects rather than matching only a single path segment.
package ignore

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher tests relative, POSIX-separated paths against a compiled set of
// ignore patterns.
type Matcher struct {
	patterns []string
}

// New compiles patterns into a Matcher. Blank patterns are dropped. Invalid
// patterns are kept rather than causing a load-time failure, and simply
// never match: doublestar.Match on a malformed pattern only ever returns an
// error, never a false positive.
func New(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		m.patterns = append(m.patterns, p)
	}
	return m
}

// Match reports whether path matches any ignore pattern. A pattern matches
// either the full path or any path segment (mirroring a plain basename
// pattern like "*.log" matching at any depth, and a directory-name pattern
// like "node_modules" matching the directory and everything under it).
func (m *Matcher) Match(path string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	path = strings.TrimPrefix(path, "/")

	for _, pattern := range m.patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
		if matchesAnySegment(pattern, path) {
			return true
		}
	}
	return false
}

// matchesAnySegment handles patterns with no "/" by testing them against
// every path segment and every segment-rooted suffix, so "node_modules"
// excludes "node_modules/pkg/index.js" and "*.log" excludes "logs/a.log".
func matchesAnySegment(pattern, path string) bool {
	if strings.Contains(pattern, "/") {
		return false
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if ok, _ := doublestar.Match(pattern, seg); ok {
			return true
		}
		suffix := strings.Join(segments[i:], "/")
		if ok, _ := doublestar.Match(pattern+"/**", suffix); ok {
			return true
		}
	}
	return false
}

// FilterFiles returns the subset of paths not matched by m.
func (m *Matcher) FilterFiles(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !m.Match(p) {
			out = append(out, p)
		}
	}
	return out
}
