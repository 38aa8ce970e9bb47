package review

import (
	"testing"

	"github.com/ryanoboyle/wharf/internal/model"
)

func TestBuildRootTree(t *testing.T) {
	files := []model.UploadFile{
		{Path: "src/main.go"},
		{Path: "src/util.go"},
		{Path: "README.md"},
	}

	tree := BuildRootTree(files)
	if len(tree.Children) != 2 {
		t.Fatalf("got %d root children, want 2", len(tree.Children))
	}

	byName := map[string]*FileNode{}
	for _, c := range tree.Children {
		byName[c.Path] = c
	}

	if !byName["src"].IsDir {
		t.Error("src should be marked a directory")
	}
	if byName["README.md"].IsDir {
		t.Error("README.md should not be marked a directory")
	}
}

func TestExpandDirectory(t *testing.T) {
	files := []model.UploadFile{
		{Path: "src/main.go"},
		{Path: "src/nested/deep.go"},
	}

	children := ExpandDirectory(files, "src")
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2", len(children))
	}

	byName := map[string]*FileNode{}
	for _, c := range children {
		byName[c.Path] = c
	}
	if !byName["src/nested"].IsDir {
		t.Error("src/nested should be marked a directory")
	}
	if byName["src/main.go"].IsDir {
		t.Error("src/main.go should not be marked a directory")
	}
}
