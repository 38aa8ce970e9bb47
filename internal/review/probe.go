package review

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ryanoboyle/wharf/internal/concur"
	"github.com/ryanoboyle/wharf/internal/ignore"
	"github.com/ryanoboyle/wharf/internal/mirror"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/uploader"
	"github.com/ryanoboyle/wharf/internal/uploader/rsync"
)

// TargetProbeConcurrency bounds the number of targets probed at once
// (spec.md §5: "concurrency ... default 10 for files, 3 for target probes").
const TargetProbeConcurrency = 3

// UploaderFactory builds a transport handle for one target.
type UploaderFactory func(model.ResolvedTarget) (uploader.Uploader, error)

// ProbeAllTargets runs the per-target diff probe concurrently for every
// target. A single target's probe failure is captured into that slot's
// TargetDiff.Error and must never cancel its siblings — for that reason
// this uses a plain errgroup.Group with no shared context, rather than
// errgroup.WithContext's cancel-on-first-error behavior, even though
// conc.BatchAsync would have been the more natural fit elsewhere in this
// codebase (see DESIGN.md).
func ProbeAllTargets(ctx context.Context, hasFileContext bool, localBaseDir string, files []model.UploadFile, targets []model.ResolvedTarget, changeKinds map[string]model.ChangeKind, matcher *ignore.Matcher, factory UploaderFactory) []*model.TargetDiff {
	diffs := make([]*model.TargetDiff, len(targets))
	sem := concur.NewSemaphore(TargetProbeConcurrency)

	var g errgroup.Group
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			if err := sem.Acquire(ctx); err != nil {
				diffs[i] = &model.TargetDiff{TargetIndex: i, Error: err.Error()}
				return nil
			}
			defer sem.Release()

			diffs[i] = ProbeTarget(ctx, i, hasFileContext, localBaseDir, files, target, changeKinds, matcher, factory)
			return nil
		})
	}
	_ = g.Wait()

	return diffs
}

// ProbeTarget implements spec.md §4.3 for one target. Any error is
// captured into the returned TargetDiff's Error field rather than
// propagated, so the slot is always cached even on failure.
func ProbeTarget(ctx context.Context, index int, hasFileContext bool, localBaseDir string, files []model.UploadFile, target model.ResolvedTarget, changeKinds map[string]model.ChangeKind, matcher *ignore.Matcher, factory UploaderFactory) *model.TargetDiff {
	paths := filePaths(files)

	if !hasFileContext {
		return sourceFallbackDiff(index, paths, changeKinds)
	}

	up, err := factory(target)
	if err != nil {
		return &model.TargetDiff{TargetIndex: index, Error: err.Error()}
	}

	if err := up.Connect(ctx); err != nil {
		return &model.TargetDiff{TargetIndex: index, Error: err.Error()}
	}
	defer up.Disconnect()

	diff := &model.TargetDiff{TargetIndex: index}
	diffProvider, hasDiff := uploader.HasDiff(up)
	listProvider, hasList := uploader.HasListRemoteFiles(up)

	switch {
	case hasDiff:
		filePathsForDiff := paths
		if target.SyncMode == model.SyncMirror {
			filePathsForDiff = nil
		}

		// Narrow the rsync source to the common base subdirectory shared by
		// every candidate path (spec.md §4.4), so --files-from= entries are
		// relative to the directory rsync actually walks rather than to the
		// profile's local root.
		base := rsync.CommonBaseDir(paths)
		root := joinBaseDir(localBaseDir, base)
		relPaths := stripBase(filePathsForDiff, base)

		result, err := diffProvider.GetDiff(ctx, root, relPaths, uploader.DiffOptions{
			IgnorePatterns: target.IgnorePattern,
		})
		if err != nil {
			diff.Error = err.Error()
			return diff
		}

		entries := reprefixEntries(result.Entries, base)
		applyEntries(diff, entries)
		diff.RemoteStatusByFile = remoteStatusFromEntries(paths, entries)

	case target.SyncMode == model.SyncMirror && hasList:
		remoteFiles, err := listProvider.ListRemoteFiles(ctx, "")
		if err != nil {
			diff.Error = err.Error()
			return diff
		}

		entries := mirror.Plan(paths, remoteFiles, matcher)
		applyEntries(diff, entries)
		diff.DeleteFiles = mirror.DeletionCandidates(entries)
		diff.RemoteStatusByFile = probeRemoteStatus(ctx, up, paths, target.Concurrency)

	default:
		for _, p := range paths {
			diff.ChangedPaths = append(diff.ChangedPaths, p)
		}
		diff.Total = len(paths)
		diff.Modified = len(paths)
		diff.RemoteStatusByFile = probeRemoteStatus(ctx, up, paths, target.Concurrency)
	}

	return diff
}

// sourceFallbackDiff implements §4.3 step 1: no local directory context
// (non-file source mode) means no remote probe is possible; counts come
// straight from the source set. changeKinds carries the resolver's git
// diff status per path (nil for file-mode sources, which never reach
// this branch); a path missing from the map defaults to Modified.
func sourceFallbackDiff(index int, paths []string, changeKinds map[string]model.ChangeKind) *model.TargetDiff {
	diff := &model.TargetDiff{TargetIndex: index}
	entries := make([]model.DiffEntry, len(paths))
	for i, p := range paths {
		kind := model.ChangeModified
		if k, ok := changeKinds[p]; ok {
			kind = k
		}
		entries[i] = model.DiffEntry{Path: p, Kind: kind}
	}
	applyEntries(diff, entries)
	return diff
}

func filePaths(files []model.UploadFile) []string {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDirectory {
			continue
		}
		paths = append(paths, f.Path)
	}
	return paths
}

// reprefixEntries adds the common base subdirectory back onto every
// entry's Path after it narrowed the rsync scope (spec.md §4.4). Rename
// entries' FromPath is deliberately left un-prefixed — preserved from the
// source system's own behavior despite looking like a bug (spec.md §9
// second Open Question).
func reprefixEntries(entries []model.DiffEntry, base string) []model.DiffEntry {
	if base == "" {
		return entries
	}
	out := make([]model.DiffEntry, len(entries))
	for i, e := range entries {
		e.Path = base + "/" + e.Path
		out[i] = e
	}
	return out
}

// joinBaseDir composes the profile's local root with the common base
// subdirectory rsync.CommonBaseDir computed across the candidate paths,
// without producing a literal "./sub" when localBaseDir is the
// unqualified current directory.
func joinBaseDir(localBaseDir, base string) string {
	if base == "" {
		return localBaseDir
	}
	if localBaseDir == "" || localBaseDir == "." {
		return base
	}
	return strings.TrimSuffix(localBaseDir, "/") + "/" + base
}

// stripBase removes the base+"/" prefix from every path so it becomes
// relative to the narrowed rsync root joinBaseDir produced. nil paths
// (mirror mode, where GetDiff compares the whole tree) pass through
// untouched.
func stripBase(paths []string, base string) []string {
	if base == "" || paths == nil {
		return paths
	}
	prefix := base + "/"
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = strings.TrimPrefix(p, prefix)
	}
	return out
}

func applyEntries(diff *model.TargetDiff, entries []model.DiffEntry) {
	diff.Entries = entries
	for _, e := range entries {
		diff.ChangedPaths = append(diff.ChangedPaths, e.Path)
		switch e.Kind {
		case model.ChangeAdded:
			diff.Added++
		case model.ChangeModified:
			diff.Modified++
		case model.ChangeDeleted:
			diff.Deleted++
		}
	}
	diff.Total = diff.Added + diff.Modified + diff.Deleted
}

func remoteStatusFromEntries(paths []string, entries []model.DiffEntry) map[string]model.RemoteStatus {
	changed := make(map[string]model.ChangeKind, len(entries))
	for _, e := range entries {
		changed[e.Path] = e.Kind
	}

	status := make(map[string]model.RemoteStatus, len(paths))
	for _, p := range paths {
		kind, isChanged := changed[p]
		status[p] = model.RemoteStatus{
			Exists:     (isChanged && kind != model.ChangeAdded) || !isChanged,
			HasChanges: isChanged,
		}
	}
	return status
}

// probeRemoteStatus fills remoteStatusByFile via readFile, bounded by
// concurrency, for the branches that have no rsync-style entries to
// derive it from: the mirror-planner branch and the no-capability branch.
func probeRemoteStatus(ctx context.Context, up uploader.Uploader, paths []string, concurrency int) map[string]model.RemoteStatus {
	if concurrency <= 0 {
		concurrency = 10
	}

	results, errs := concur.BatchAsyncResult(ctx, paths, concurrency, func(ctx context.Context, path string, _ int) (model.RemoteStatus, error) {
		_, _, ok, err := up.ReadFile(ctx, path)
		if err != nil {
			return model.RemoteStatus{}, err
		}
		return model.RemoteStatus{Exists: ok, HasChanges: true}, nil
	})

	status := make(map[string]model.RemoteStatus, len(paths))
	for i, p := range paths {
		if errs[i] == nil {
			status[p] = results[i]
		}
	}
	return status
}
