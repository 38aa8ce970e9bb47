package resolve

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/ryanoboyle/wharf/internal/ignore"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/profile"
)

func TestResolve_FileMode_ExpandsDirectories(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/repo/dist/a.txt", []byte("a"), 0o644)
	afero.WriteFile(fs, "/repo/dist/sub/b.txt", []byte("b"), 0o644)
	afero.WriteFile(fs, "/repo/README.md", []byte("r"), 0o644)

	spec := profile.SourceSpec{Type: "file", Src: []string{"dist", "README.md"}}
	files, _, err := Resolve(context.Background(), fs, "/repo", spec, ignore.New(nil))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	paths := map[string]bool{}
	for _, f := range files {
		paths[f.Path] = true
	}
	for _, want := range []string{"dist/a.txt", "dist/sub/b.txt", "README.md"} {
		if !paths[want] {
			t.Errorf("expected resolved path %q, got %v", want, paths)
		}
	}
}

func TestResolve_FileMode_AppliesIgnoreMatcher(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/repo/dist/a.txt", []byte("a"), 0o644)
	afero.WriteFile(fs, "/repo/dist/debug.log", []byte("l"), 0o644)

	spec := profile.SourceSpec{Type: "file", Src: []string{"dist"}}
	files, _, err := Resolve(context.Background(), fs, "/repo", spec, ignore.New([]string{"*.log"}))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	for _, f := range files {
		if f.Path == "dist/debug.log" {
			t.Errorf("debug.log should have been filtered by the ignore matcher")
		}
	}
}

func TestResolve_FileMode_MissingSrcIsError(t *testing.T) {
	fs := afero.NewMemMapFs()
	spec := profile.SourceSpec{Type: "file", Src: []string{"missing"}}
	if _, _, err := Resolve(context.Background(), fs, "/repo", spec, ignore.New(nil)); err == nil {
		t.Fatal("expected error for a missing from.src entry")
	}
}

func TestResolve_UnknownSourceType(t *testing.T) {
	fs := afero.NewMemMapFs()
	spec := profile.SourceSpec{Type: "svn"}
	if _, _, err := Resolve(context.Background(), fs, "/repo", spec, ignore.New(nil)); err == nil {
		t.Fatal("expected error for unknown source type")
	}
}

// TestResolve_GitMode_ClassifiesAddedAndModified exercises the git source
// path end to end against a real git repository (scenario S1): one file
// modified between two commits and one file newly added, asserting the
// change-kind map distinguishes them instead of bucketing both as Modified.
func TestResolve_GitMode_ClassifiesAddedAndModified(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	runGit(t, dir, "init", "-q", "-b", "main")
	runGit(t, dir, "config", "user.email", "wharf@example.com")
	runGit(t, dir, "config", "user.name", "wharf")

	writeFile(t, dir, "existing.txt", "v1")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "initial")

	writeFile(t, dir, "existing.txt", "v2")
	writeFile(t, dir, "new.txt", "new")
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-q", "-m", "second")

	fs := afero.NewOsFs()
	spec := profile.SourceSpec{Type: "git", Base: "HEAD~1", Target: "HEAD"}
	files, kinds, err := Resolve(context.Background(), fs, dir, spec, ignore.New(nil))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	paths := map[string]bool{}
	for _, f := range files {
		paths[f.Path] = true
	}
	if !paths["existing.txt"] || !paths["new.txt"] {
		t.Fatalf("expected both changed files resolved, got %v", files)
	}

	if kinds["existing.txt"] != model.ChangeModified {
		t.Errorf("existing.txt kind = %v, want Modified", kinds["existing.txt"])
	}
	if kinds["new.txt"] != model.ChangeAdded {
		t.Errorf("new.txt kind = %v, want Added", kinds["new.txt"])
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}
