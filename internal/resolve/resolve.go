// Package resolve converts a profile's "from" section into a list of
// model.UploadFile records. The git mode shells out to the git binary
// (os/exec) for the revision diff itself — the plumbing that enumerates
// changed paths is treated as a black box, per spec.md's exclusion of "the
// Git plumbing that enumerates changed paths" from the specified core. The
// file mode walks the filesystem through afero, following the teacher's
// ScanLocalDir in internal/sync/diff.go.
package resolve

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/ryanoboyle/wharf/internal/apperr"
	"github.com/ryanoboyle/wharf/internal/ignore"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/profile"
)

// Resolve produces the source file set for spec, statting each path on fs
// rooted at repoDir and recording its on-disk location as SourcePath; file
// bytes are not read here. The ignore matcher is applied after resolution, as
// spec.md's data flow diagram shows ("resolver -> (ignore filter) ->
// diff/review core"). The returned change-kind map records each path's
// added/modified status as git reported it; it is nil for file-mode
// sources, which have no such notion (every file mode path is a plain
// directory listing, not a revision comparison).
func Resolve(ctx context.Context, fs afero.Fs, repoDir string, spec profile.SourceSpec, matcher *ignore.Matcher) ([]model.UploadFile, map[string]model.ChangeKind, error) {
	var paths []string
	var changeKinds map[string]model.ChangeKind
	var err error

	switch spec.Type {
	case "git":
		paths, changeKinds, err = gitDiffPaths(ctx, repoDir, spec)
	case "file":
		paths, err = fileListPaths(fs, repoDir, spec.Src)
	default:
		return nil, nil, apperr.New(apperr.ErrConfigValidation, nil, fmt.Sprintf("unknown source type %q", spec.Type))
	}
	if err != nil {
		return nil, nil, err
	}

	paths = matcher.FilterFiles(paths)

	files := make([]model.UploadFile, 0, len(paths))
	for _, p := range paths {
		full := filepath.Join(repoDir, filepath.FromSlash(p))
		info, statErr := fs.Stat(full)
		if statErr != nil {
			continue // deleted-by-git-diff paths no longer exist on disk
		}
		if info.IsDir() {
			files = append(files, model.UploadFile{Path: p, IsDirectory: true})
			continue
		}
		files = append(files, model.UploadFile{Path: p, SourcePath: full})
	}
	return files, changeKinds, nil
}

// gitDiffPaths runs "git diff --name-status base target" and, when
// IncludeUntracked is set, also "git ls-files --others --exclude-standard".
// The change-kind map mirrors git's own status letters (A, R and C added,
// everything else modified; see gitStatusKind) so spec.md §4.3 step 1's "counts come from the source"
// holds for git-sourced profiles, not just an undifferentiated Modified
// bucket. Deleted paths are dropped entirely, matching existing behavior:
// a removed source file can never become an UploadFile.
func gitDiffPaths(ctx context.Context, repoDir string, spec profile.SourceSpec) ([]string, map[string]model.ChangeKind, error) {
	target := spec.Target
	if target == "" {
		target = "HEAD"
	}

	out, err := runGit(ctx, repoDir, "diff", "--name-status", spec.Base, target)
	if err != nil {
		return nil, nil, apperr.New(apperr.ErrConfigLoad, err, "git diff failed; check base/target revisions")
	}

	var paths []string
	kinds := make(map[string]model.ChangeKind)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		status, path := fields[0], fields[len(fields)-1]
		if strings.HasPrefix(status, "D") {
			continue
		}
		path = filepath.ToSlash(path)
		paths = append(paths, path)
		kinds[path] = gitStatusKind(status)
	}

	if spec.IncludeUntracked {
		out, err := runGit(ctx, repoDir, "ls-files", "--others", "--exclude-standard")
		if err != nil {
			return nil, nil, apperr.New(apperr.ErrConfigLoad, err, "git ls-files failed")
		}
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				path := filepath.ToSlash(line)
				paths = append(paths, path)
				kinds[path] = model.ChangeAdded
			}
		}
	}

	return paths, kinds, nil
}

// gitStatusKind maps a "git diff --name-status" status letter to a
// ChangeKind: "A" is added, a rename/copy ("R.../C...") introduces a file
// at a new path so it counts as added too, anything else (chiefly "M") is
// modified.
func gitStatusKind(status string) model.ChangeKind {
	switch status[0] {
	case 'A', 'R', 'C':
		return model.ChangeAdded
	default:
		return model.ChangeModified
	}
}

func runGit(ctx context.Context, repoDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", stderr.String(), err)
	}
	return stdout.String(), nil
}

// fileListPaths walks every entry in src (each relative to repoDir),
// expanding directories to their files, mirroring the teacher's
// ScanLocalDir walk but rooted per listed entry rather than a single tree.
func fileListPaths(fs afero.Fs, repoDir string, src []string) ([]string, error) {
	var paths []string
	for _, entry := range src {
		full := filepath.Join(repoDir, filepath.FromSlash(entry))
		info, err := fs.Stat(full)
		if err != nil {
			return nil, apperr.New(apperr.ErrConfigLoad, err, fmt.Sprintf("from.src entry %q does not exist", entry))
		}
		if !info.IsDir() {
			paths = append(paths, filepath.ToSlash(entry))
			continue
		}
		walked, err := walkDir(fs, full, repoDir)
		if err != nil {
			return nil, err
		}
		paths = append(paths, walked...)
	}
	return paths, nil
}

func walkDir(fs afero.Fs, root, repoDir string) ([]string, error) {
	var paths []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(repoDir, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.ErrConfigLoad, err, fmt.Sprintf("walking %q", root))
	}
	return paths, nil
}
