package review

import (
	"sort"
	"strings"

	"github.com/ryanoboyle/wharf/internal/model"
)

// LazyLoadThreshold is the source file count above which init sends only
// a root-level tree instead of the full file list (spec.md §4.7).
const LazyLoadThreshold = 100

// BuildRootTree returns the first path segment of every file as a
// top-level FileNode, marked as a directory whenever at least one file's
// path continues past that segment.
func BuildRootTree(files []model.UploadFile) *FileNode {
	root := &FileNode{Path: "", IsDir: true}

	children := make(map[string]bool)
	order := make([]string, 0)
	for _, f := range files {
		seg := strings.SplitN(f.Path, "/", 2)
		name := seg[0]
		if !children[name] {
			children[name] = len(seg) > 1
			order = append(order, name)
		} else if len(seg) > 1 {
			children[name] = true
		}
	}
	sort.Strings(order)

	for _, name := range order {
		root.Children = append(root.Children, &FileNode{Path: name, IsDir: children[name]})
	}
	return root
}

// ExpandDirectory lists the immediate children of dirPath within files,
// serving a client's expand_directory request.
func ExpandDirectory(files []model.UploadFile, dirPath string) []*FileNode {
	prefix := ""
	if dirPath != "" {
		prefix = strings.TrimSuffix(dirPath, "/") + "/"
	}

	children := make(map[string]bool)
	order := make([]string, 0)
	for _, f := range files {
		if prefix != "" && !strings.HasPrefix(f.Path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(f.Path, prefix)
		if rest == "" {
			continue
		}
		seg := strings.SplitN(rest, "/", 2)
		name := seg[0]
		if !children[name] {
			children[name] = len(seg) > 1
			order = append(order, name)
		} else if len(seg) > 1 {
			children[name] = true
		}
	}
	sort.Strings(order)

	nodes := make([]*FileNode, 0, len(order))
	for _, name := range order {
		fullPath := name
		if prefix != "" {
			fullPath = prefix + name
		}
		nodes = append(nodes, &FileNode{Path: fullPath, IsDir: children[name]})
	}
	return nodes
}
