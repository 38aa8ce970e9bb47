package review

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ryanoboyle/wharf/internal/ignore"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/uploader"
	"github.com/ryanoboyle/wharf/pkg/logging"
)

// TransferRunner executes the confirmed upload across targets and reports
// progress via its two callbacks as it runs. Implemented by the
// transfer coordinator (internal/transfer, wired up in cmd/wharf) and
// injected into Core so this package never imports it directly.
type TransferRunner func(ctx context.Context, targets []model.ResolvedTarget, files []model.UploadFile, diffs []*model.TargetDiff, onProgress func(ProgressMessage), onTargetDone func(host string, ok bool)) (CompleteMessage, error)

// Core wires ServerState, the per-target prober, the lazy file tree, and
// the client Hub into the message-handling behavior of one review
// session. One Core exists per invocation of the review server.
type Core struct {
	state        *ServerState
	hub          *Hub
	factory      UploaderFactory
	matcher      *ignore.Matcher
	localBaseDir string
	hasFileCtx   bool
	diffMode     string
	runTransfer  TransferRunner
}

// NewCore builds a Core ready to drive one review session.
func NewCore(state *ServerState, hub *Hub, factory UploaderFactory, matcher *ignore.Matcher, localBaseDir string, hasFileCtx bool, diffMode string, runTransfer TransferRunner) *Core {
	return &Core{
		state:        state,
		hub:          hub,
		factory:      factory,
		matcher:      matcher,
		localBaseDir: localBaseDir,
		hasFileCtx:   hasFileCtx,
		diffMode:     diffMode,
		runTransfer:  runTransfer,
	}
}

// Run sends the init message, probes every target, then services client
// messages until ctx is cancelled or the client sends confirm or cancel.
func (c *Core) Run(ctx context.Context) {
	c.sendInit()
	c.probeAndAnnounce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.state.Abort.Done():
			return
		case msg := <-c.hub.Inbound:
			if c.handle(ctx, msg) {
				return
			}
		}
	}
}

func (c *Core) sendInit() {
	lazy := len(c.state.SourceFiles) > LazyLoadThreshold
	c.state.LazyLoading = lazy

	init := InitMessage{
		Type:              MsgInit,
		Base:              c.localBaseDir,
		DiffMode:          c.diffMode,
		RemoteTargets:     remoteTargetInfos(c.state.Targets),
		LazyLoading:       lazy,
		UploadButtonState: "disabled",
	}

	if lazy {
		init.Tree = BuildRootTree(c.state.SourceFiles)
	} else {
		init.Files = filePaths(c.state.SourceFiles)
	}

	if err := c.hub.Send(init); err != nil {
		logging.Logger().Warn("failed to send init message", logging.Err(err))
	}
}

func remoteTargetInfos(targets []model.ResolvedTarget) []RemoteTargetInfo {
	infos := make([]RemoteTargetInfo, len(targets))
	for i, t := range targets {
		syncMode := "update"
		if t.SyncMode == model.SyncMirror {
			syncMode = "mirror"
		}
		infos[i] = RemoteTargetInfo{
			Index:    i,
			Host:     t.Host,
			Protocol: string(t.Protocol),
			SyncMode: syncMode,
		}
	}
	return infos
}

func (c *Core) probeAndAnnounce(ctx context.Context) {
	total := len(c.state.Targets)
	if total == 0 {
		c.state.AllTargetsChecked = true
		c.state.DiffCheckCompleted = true
		return
	}

	diffs := ProbeAllTargets(ctx, c.hasFileCtx, c.localBaseDir, c.state.SourceFiles, c.state.Targets, c.state.SourceChangeKinds, c.matcher, c.factory)
	results := make([]LoadingResult, total)
	hasChanges := false
	for i, d := range diffs {
		c.state.StoreDiff(i, d)
		results[i] = LoadingResult{TargetIndex: i}
		if d != nil {
			if d.Error != "" {
				results[i].Error = d.Error
			}
			if d.HasChanges() {
				hasChanges = true
			}
		}
	}

	c.state.AllTargetsChecked = true
	c.state.DiffCheckCompleted = true
	c.state.HasChangesToUpload = hasChanges

	_ = c.hub.Send(LoadingProgressMessage{
		Type:            MsgLoadingProgress,
		CheckingTargets: false,
		CompletedCount:  total,
		TotalCount:      total,
		Results:         results,
	})

	state := UploadStateMessage{Type: MsgUploadState, Disabled: !hasChanges}
	if !hasChanges {
		state.Reason = "no-changes"
		state.Message = "no changes to upload"
	}
	_ = c.hub.Send(state)
}

// handle processes one client message and reports whether the session
// should end.
func (c *Core) handle(ctx context.Context, msg ClientMessage) bool {
	switch msg.Type {
	case MsgSwitchTarget:
		c.state.SetCurrentTarget(msg.TargetIndex)
		return false

	case MsgExpandDirectory:
		children := ExpandDirectory(c.state.SourceFiles, msg.Path)
		_ = c.hub.Send(DirectoryContentsMessage{Type: MsgDirectoryContents, Path: msg.Path, Children: children})
		return false

	case MsgFileRequest:
		c.handleFileRequest(ctx, msg)
		return false

	case MsgConfirm:
		c.handleConfirm(ctx)
		// Trip the abort handle so everything waiting on the session
		// (runDeploy, the reaper) sees that it has ended.
		c.state.Abort.Trip()
		return true

	case MsgCancel:
		c.state.Cancelled = true
		c.state.Abort.Trip()
		return true

	default:
		_ = c.hub.Send(ErrorMessage{Type: MsgError, Message: fmt.Sprintf("unknown message type %q", msg.Type)})
		return false
	}
}

func (c *Core) handleFileRequest(ctx context.Context, msg ClientMessage) {
	resp := FileResponseMessage{Type: MsgFileResponse, Path: msg.Path}

	for _, f := range c.state.SourceFiles {
		if f.Path == msg.Path {
			resp.Local = string(f.Bytes)
			break
		}
	}

	target := c.state.CurrentTarget()
	if target < len(c.state.Targets) {
		if up := c.borrowOrConnect(ctx, target); up != nil {
			if data, _, ok, err := up.ReadFile(ctx, filepath.ToSlash(msg.Path)); err == nil && ok {
				resp.Remote = string(data)
			}
		}
		if diff := c.state.Diff(target); diff != nil {
			if status, ok := diff.RemoteStatusByFile[msg.Path]; ok {
				resp.RemoteStatus = &status
			}
		}
	}

	_ = c.hub.Send(resp)
}

// borrowOrConnect returns the cached uploader for targetIndex, connecting
// and caching a fresh one via c.factory when none is cached yet (or the
// cache holds a different target's handle). The cached handle is reused
// by later file_request messages and swept by the idle reaper once it
// goes quiet (spec.md §4.8).
func (c *Core) borrowOrConnect(ctx context.Context, targetIndex int) uploader.Uploader {
	if cu := c.state.BorrowUploader(targetIndex); cu != nil {
		return cu.up
	}

	up, err := c.factory(c.state.Targets[targetIndex])
	if err != nil {
		logging.Logger().Warn("failed to build uploader for file request", logging.Target(targetIndex), logging.Err(err))
		return nil
	}
	if err := up.Connect(ctx); err != nil {
		logging.Logger().Warn("failed to connect uploader for file request", logging.Target(targetIndex), logging.Err(err))
		return nil
	}

	if old := c.state.TakeCachedUploader(); old != nil {
		old.Disconnect()
	}
	c.state.SetCachedUploader(targetIndex, up)
	return up
}

func (c *Core) handleConfirm(ctx context.Context) {
	if c.runTransfer == nil {
		_ = c.hub.Send(ErrorMessage{Type: MsgError, Message: "transfer is not available"})
		return
	}

	diffs := make([]*model.TargetDiff, len(c.state.Targets))
	for i := range c.state.Targets {
		diffs[i] = c.state.Diff(i)
	}

	if up := c.state.TakeCachedUploader(); up != nil {
		up.Disconnect()
	}

	complete, err := c.runTransfer(ctx, c.state.Targets, c.state.SourceFiles, diffs,
		func(p ProgressMessage) { _ = c.hub.Send(p) },
		func(host string, ok bool) {
			logging.Logger().Info("target transfer finished", logging.Host(host), logging.Operation("confirm"))
		},
	)
	if err != nil {
		_ = c.hub.Send(ErrorMessage{Type: MsgError, Message: err.Error()})
		return
	}
	c.state.Complete = &complete
	_ = c.hub.Send(complete)
}
