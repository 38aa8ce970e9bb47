package review

import (
	"sync"
	"time"

	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/uploader"
)

// cachedUploader is the single borrowed transport handle for the
// currently-displayed target. Only the diff path and the reaper touch
// it; the transfer path never reuses it, opening fresh connections
// instead (spec.md §3 ownership rule).
type cachedUploader struct {
	up          uploader.Uploader
	targetIndex int
	lastUse     time.Time
}

// ServerState is the process-lifetime, single-owner review session
// state. All mutation happens from the message-dispatch loop or its
// awaited helpers — never from a second concurrent writer. The mutex
// guards the diff cache, the current target, and the cached uploader,
// the last of which the reaper goroutine also touches.
type ServerState struct {
	mu sync.Mutex

	SourceFiles []model.UploadFile
	Targets     []model.ResolvedTarget

	// SourceChangeKinds records each source path's added/modified status
	// as the resolver's git diff reported it. Set after construction by
	// the caller that ran resolve.Resolve; nil for file-mode sources.
	SourceChangeKinds map[string]model.ChangeKind

	diffCache     map[int]*model.TargetDiff
	currentTarget int

	cached *cachedUploader

	ConnectionError string

	LazyLoading         bool
	AllTargetsChecked   bool
	DiffCheckCompleted  bool
	HasChangesToUpload  bool

	// Cancelled and Complete record how the session ended, so the CLI
	// can map the outcome to an exit code once Run returns.
	Cancelled bool
	Complete  *CompleteMessage

	Abort *Abort
}

// NewServerState builds a fresh state for one review session.
func NewServerState(sourceFiles []model.UploadFile, targets []model.ResolvedTarget) *ServerState {
	return &ServerState{
		SourceFiles: sourceFiles,
		Targets:     targets,
		diffCache:   make(map[int]*model.TargetDiff, len(targets)),
		Abort:       NewAbort(),
	}
}

// Diff returns the cached TargetDiff for index i, or nil if not yet probed.
func (s *ServerState) Diff(i int) *model.TargetDiff {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diffCache[i]
}

// StoreDiff caches a target's diff result. Once stored, a slot is never
// mutated again — callers must build the complete TargetDiff before
// calling this (spec.md's "cache immutability" testable property).
func (s *ServerState) StoreDiff(i int, d *model.TargetDiff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diffCache[i] = d
}

// CurrentTarget returns the index the UI is displaying.
func (s *ServerState) CurrentTarget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTarget
}

// SetCurrentTarget switches the displayed target.
func (s *ServerState) SetCurrentTarget(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTarget = i
}

// BorrowUploader returns the cached handle for targetIndex, or nil if the
// cache is empty or holds a different target's handle — the caller (Core's
// borrowOrConnect) is responsible for connecting and caching a fresh one
// in that case. Touches lastUse on every successful borrow.
func (s *ServerState) BorrowUploader(targetIndex int) *cachedUploader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil && s.cached.targetIndex == targetIndex {
		s.cached.lastUse = time.Now()
		return s.cached
	}
	return nil
}

// SetCachedUploader installs the single cached uploader, replacing (but
// not disconnecting) whatever was cached before — callers disconnect
// the old one themselves before replacing it.
func (s *ServerState) SetCachedUploader(targetIndex int, up uploader.Uploader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = &cachedUploader{up: up, targetIndex: targetIndex, lastUse: time.Now()}
}

// ClearCachedUploader drops the cache reference without disconnecting;
// callers that need the handle to disconnect should read it first via
// TakeCachedUploader.
func (s *ServerState) ClearCachedUploader() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

// TakeCachedUploader atomically removes and returns the cached uploader,
// or nil if none is cached.
func (s *ServerState) TakeCachedUploader() uploader.Uploader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return nil
	}
	up := s.cached.up
	s.cached = nil
	return up
}

// IdleCachedUploader returns the cached uploader and its idle duration
// if one is cached, for the reaper's inspection.
func (s *ServerState) IdleCachedUploader(now time.Time) (uploader.Uploader, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return nil, 0, false
	}
	return s.cached.up, now.Sub(s.cached.lastUse), true
}
