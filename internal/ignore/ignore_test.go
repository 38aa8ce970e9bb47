package ignore

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{"exact basename glob", []string{"*.log"}, "logs/a.log", true},
		{"directory name excludes subtree", []string{"node_modules"}, "node_modules/pkg/index.js", true},
		{"directory name matches itself", []string{"node_modules"}, "node_modules", true},
		{"recursive glob", []string{"build/**"}, "build/out/app.js", true},
		{"no match", []string{"*.log"}, "src/main.go", false},
		{"dotfile segment", []string{".git"}, "repo/.git/config", true},
		{"empty matcher", nil, "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.patterns)
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) with patterns %v = %v, want %v", tt.path, tt.patterns, got, tt.want)
			}
		})
	}
}

func TestFilterFiles(t *testing.T) {
	m := New([]string{"*.log", "node_modules"})
	in := []string{"main.go", "debug.log", "node_modules/pkg/a.js", "README.md"}
	got := m.FilterFiles(in)
	want := []string{"main.go", "README.md"}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMatch_NilMatcher(t *testing.T) {
	var m *Matcher
	if m.Match("anything") {
		t.Error("nil matcher should never match")
	}
}
