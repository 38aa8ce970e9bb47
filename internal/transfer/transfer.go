// Package transfer implements the confirmed-upload coordinator: target
// orchestration (sequential or parallel), bounded per-file concurrency,
// retry with exponential backoff, and progress/result aggregation for one
// review session's confirm phase.
package transfer

import (
	"context"
	"os"
	"time"

	"github.com/ryanoboyle/wharf/internal/apperr"
	"github.com/ryanoboyle/wharf/internal/concur"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/review"
	"github.com/ryanoboyle/wharf/internal/uploader"
	"github.com/ryanoboyle/wharf/pkg/logging"
	"github.com/ryanoboyle/wharf/pkg/retry"
)

// DefaultConcurrency is the per-target file concurrency used when a
// target's profile does not specify one.
const DefaultConcurrency = 10

// DefaultRetry is the per-file retry budget used when a target's profile
// does not specify one.
const DefaultRetry = 3

// Options configures one confirm-phase transfer run.
type Options struct {
	// ParallelTargets runs every target concurrently instead of one after
	// another in declared order.
	ParallelTargets bool
}

// fileOp is one unit of work against a target: either transfer a file or
// delete a path already on the target.
type fileOp struct {
	path   string
	delete bool
	file   model.UploadFile
}

// Run orchestrates the confirmed transfer across targets and reports
// progress through onProgress as it runs. Past its opts and factory
// parameters, its signature matches review.TransferRunner, so a closure
// that supplies those two (as cmd/wharf does) can be passed to
// review.NewCore.
func Run(
	ctx context.Context,
	opts Options,
	factory review.UploaderFactory,
	targets []model.ResolvedTarget,
	files []model.UploadFile,
	diffs []*model.TargetDiff,
	onProgress func(review.ProgressMessage),
	onTargetDone func(host string, ok bool),
) (review.CompleteMessage, error) {
	start := time.Now()
	results := make([]model.TargetResult, len(targets))

	run := func(i int) {
		var diff *model.TargetDiff
		if i < len(diffs) {
			diff = diffs[i]
		}
		results[i] = runTarget(ctx, i, targets[i], files, diff, factory, onProgress)
		onTargetDone(targets[i].Host, results[i].Status == model.TargetCompleted)
	}

	if opts.ParallelTargets {
		done := make(chan struct{}, len(targets))
		for i := range targets {
			i := i
			go func() {
				run(i)
				done <- struct{}{}
			}()
		}
		for range targets {
			<-done
		}
	} else {
		for i := range targets {
			run(i)
		}
	}

	complete := review.CompleteMessage{Type: review.MsgComplete}
	for _, r := range results {
		if r.Status == model.TargetCompleted {
			complete.SuccessTargets++
		} else {
			complete.FailedTargets++
		}
		complete.TotalFiles += len(r.Files)
		complete.TotalSize += r.Bytes
	}
	complete.TotalDuration = time.Since(start).Seconds()

	return complete, nil
}

func runTarget(ctx context.Context, index int, target model.ResolvedTarget, files []model.UploadFile, diff *model.TargetDiff, factory review.UploaderFactory, onProgress func(review.ProgressMessage)) model.TargetResult {
	targetStart := time.Now()
	result := model.TargetResult{Host: target.Host, Status: model.TargetConnecting}

	up, err := factory(target)
	if err != nil {
		result.Status = model.TargetFailed
		result.Error = apperr.Sanitize(err)
		return result
	}
	if err := up.Connect(ctx); err != nil {
		result.Status = model.TargetFailed
		result.Error = apperr.Sanitize(err)
		logging.Logger().Error("target connect failed", logging.Host(target.Host), logging.Err(err))
		return result
	}
	defer up.Disconnect()

	result.Status = model.TargetUploading
	ops := planOps(target, files, diff)

	concurrency := target.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	fileResults, _ := concur.BatchAsyncResult(ctx, ops, concurrency, func(ctx context.Context, op fileOp, i int) (model.FileResult, error) {
		return runFileOp(ctx, up, target, op, i, len(ops), onProgress)
	})

	anyFailed := false
	var totalBytes int64
	for _, fr := range fileResults {
		result.Files = append(result.Files, fr)
		totalBytes += fr.Size
		if fr.Status == model.FileFailed {
			anyFailed = true
		}
	}
	result.Bytes = totalBytes
	result.Duration = time.Since(targetStart)

	if anyFailed {
		result.Status = model.TargetFailed
	} else {
		result.Status = model.TargetCompleted
	}
	return result
}

// fileSize reports a file's size for progress reporting without reading its
// contents: directly from Bytes when the source held the file in memory,
// or via a stat when it only recorded a SourcePath on disk.
func fileSize(f model.UploadFile) int64 {
	if f.Bytes != nil {
		return int64(len(f.Bytes))
	}
	if f.SourcePath != "" {
		if info, err := os.Stat(f.SourcePath); err == nil {
			return info.Size()
		}
	}
	return 0
}

func planOps(target model.ResolvedTarget, files []model.UploadFile, diff *model.TargetDiff) []fileOp {
	byPath := make(map[string]model.UploadFile, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}

	if diff == nil || diff.Error != "" {
		ops := make([]fileOp, 0, len(files))
		for _, f := range files {
			ops = append(ops, fileOp{path: f.Path, file: f})
		}
		return ops
	}

	ops := make([]fileOp, 0, len(diff.ChangedPaths)+len(diff.DeleteFiles))
	for _, p := range diff.ChangedPaths {
		ops = append(ops, fileOp{path: p, file: byPath[p]})
	}
	if target.SyncMode == model.SyncMirror {
		for _, p := range diff.DeleteFiles {
			ops = append(ops, fileOp{path: p, delete: true})
		}
	}
	return ops
}

func runFileOp(ctx context.Context, up uploader.Uploader, target model.ResolvedTarget, op fileOp, index, total int, onProgress func(review.ProgressMessage)) (model.FileResult, error) {
	opStart := time.Now()

	if ctx.Err() != nil {
		return model.FileResult{Path: op.path, Status: model.FileSkipped, Error: "cancelled"}, nil
	}

	size := fileSize(op.file)

	onProgress(review.ProgressMessage{
		Type:        review.MsgProgress,
		Host:        target.Host,
		FileIndex:   index,
		TotalFiles:  total,
		CurrentFile: op.path,
		FileSize:    size,
		Status:      "uploading",
	})

	attempts := target.Retry + 1
	if attempts <= 0 {
		attempts = DefaultRetry + 1
	}
	cfg := &retry.Config{
		MaxAttempts: attempts,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
	}

	timeout := target.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	err := retry.Do(ctx, cfg, apperr.IsRetryable, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if op.delete {
			return up.DeleteFile(attemptCtx, op.path)
		}
		return up.TransferFile(attemptCtx, op.file)
	})

	result := model.FileResult{Path: op.path, Size: size, Duration: time.Since(opStart)}
	status := "completed"
	if err != nil {
		result.Status = model.FileFailed
		result.Error = apperr.Sanitize(err)
		status = "failed"
	} else {
		result.Status = model.FileCompleted
	}

	onProgress(review.ProgressMessage{
		Type:             review.MsgProgress,
		Host:             target.Host,
		FileIndex:        index,
		TotalFiles:       total,
		CurrentFile:      op.path,
		BytesTransferred: result.Size,
		FileSize:         result.Size,
		Status:           status,
	})

	return result, nil
}
