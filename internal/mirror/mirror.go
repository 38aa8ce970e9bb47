// Package mirror implements the fallback deletion planner used when a
// target's transport has no server-side diff (no DiffProvider) but does
// expose a remote file listing (ListProvider), in mirror sync mode.
package mirror

import (
	"github.com/ryanoboyle/wharf/internal/ignore"
	"github.com/ryanoboyle/wharf/internal/model"
)

// Plan computes the unified change set for a mirror target with no
// getDiff capability: every source path tagged create (new) or update
// (already present remotely), plus every deletion candidate — a remote
// path absent from source and not matching matcher — tagged delete.
//
// The planner never deletes anything; it only classifies.
func Plan(sourcePaths, remoteFiles []string, matcher *ignore.Matcher) []model.DiffEntry {
	sourceSet := make(map[string]bool, len(sourcePaths))
	for _, p := range sourcePaths {
		sourceSet[p] = true
	}

	remoteSet := make(map[string]bool, len(remoteFiles))
	for _, p := range remoteFiles {
		remoteSet[p] = true
	}

	entries := make([]model.DiffEntry, 0, len(sourcePaths)+len(remoteFiles))

	for _, p := range sourcePaths {
		kind := model.ChangeAdded
		if remoteSet[p] {
			kind = model.ChangeModified
		}
		entries = append(entries, model.DiffEntry{Path: p, Kind: kind})
	}

	for _, p := range remoteFiles {
		if sourceSet[p] {
			continue
		}
		if matcher.Match(p) {
			continue
		}
		entries = append(entries, model.DiffEntry{Path: p, Kind: model.ChangeDeleted})
	}

	return entries
}

// DeletionCandidates extracts just the delete-tagged paths from Plan's
// result, the form the transfer coordinator appends to its per-target
// upload set.
func DeletionCandidates(entries []model.DiffEntry) []string {
	var deletes []string
	for _, e := range entries {
		if e.Kind == model.ChangeDeleted {
			deletes = append(deletes, e.Path)
		}
	}
	return deletes
}
