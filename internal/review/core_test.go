package review

import (
	"context"
	"testing"
	"time"

	"github.com/ryanoboyle/wharf/internal/ignore"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/uploader"
)

func newTestCore(targets []model.ResolvedTarget, files []model.UploadFile) *Core {
	state := NewServerState(files, targets)
	hub := NewHub()
	return NewCore(state, hub, factoryFor(&fakeUploader{}), ignore.New(nil), "", true, "file", nil)
}

func TestCore_SwitchTargetUpdatesState(t *testing.T) {
	c := newTestCore([]model.ResolvedTarget{{}, {}}, nil)

	if ended := c.handle(context.Background(), ClientMessage{Type: MsgSwitchTarget, TargetIndex: 1}); ended {
		t.Fatal("switch_target should not end the session")
	}
	if c.state.CurrentTarget() != 1 {
		t.Errorf("CurrentTarget = %d, want 1", c.state.CurrentTarget())
	}
}

func TestCore_CancelTripsAbortAndEndsSession(t *testing.T) {
	c := newTestCore(nil, nil)

	ended := c.handle(context.Background(), ClientMessage{Type: MsgCancel})
	if !ended {
		t.Fatal("cancel should end the session")
	}
	if !c.state.Abort.Tripped() {
		t.Error("cancel should trip the abort handle")
	}
}

func TestCore_ConfirmWithoutTransferRunnerEndsSession(t *testing.T) {
	c := newTestCore([]model.ResolvedTarget{{}}, nil)

	ended := c.handle(context.Background(), ClientMessage{Type: MsgConfirm})
	if !ended {
		t.Fatal("confirm should end the session even when it fails")
	}
}

func TestCore_ConfirmInvokesTransferRunner(t *testing.T) {
	c := newTestCore([]model.ResolvedTarget{{}}, nil)

	called := false
	c.runTransfer = func(_ context.Context, targets []model.ResolvedTarget, files []model.UploadFile, diffs []*model.TargetDiff, onProgress func(ProgressMessage), onTargetDone func(string, bool)) (CompleteMessage, error) {
		called = true
		onProgress(ProgressMessage{Type: MsgProgress})
		onTargetDone("host", true)
		return CompleteMessage{Type: MsgComplete, SuccessTargets: 1}, nil
	}

	ended := c.handle(context.Background(), ClientMessage{Type: MsgConfirm})
	if !ended {
		t.Fatal("confirm should end the session")
	}
	if !called {
		t.Error("expected the injected transfer runner to be invoked")
	}
}

func TestCore_ExpandDirectoryDoesNotPanic(t *testing.T) {
	files := []model.UploadFile{{Path: "src/main.go"}}
	c := newTestCore(nil, files)

	if ended := c.handle(context.Background(), ClientMessage{Type: MsgExpandDirectory, Path: "src"}); ended {
		t.Fatal("expand_directory should not end the session")
	}
}

// TestCore_FileRequestConnectsAndCachesUploader covers the production
// wiring for spec.md §4.8: handleFileRequest must connect a fresh uploader
// through the factory when nothing is cached yet, fetch the remote file
// through it, and leave it cached for the reaper/next request to find.
func TestCore_FileRequestConnectsAndCachesUploader(t *testing.T) {
	up := &fakeUploader{remote: map[string][]byte{"a.txt": []byte("remote contents")}}
	state := NewServerState([]model.UploadFile{{Path: "a.txt", Bytes: []byte("local contents")}}, []model.ResolvedTarget{{}})
	hub := NewHub()
	c := NewCore(state, hub, factoryFor(up), ignore.New(nil), "", true, "file", nil)

	c.handleFileRequest(context.Background(), ClientMessage{Type: MsgFileRequest, Path: "a.txt"})

	cached, _, ok := state.IdleCachedUploader(time.Now())
	if !ok || cached != uploader.Uploader(up) {
		t.Fatal("expected the connected uploader to be cached for reuse")
	}
}

func TestCore_ProbeAndAnnounceWithNoTargets(t *testing.T) {
	c := newTestCore(nil, nil)
	c.probeAndAnnounce(context.Background())

	if !c.state.AllTargetsChecked || !c.state.DiffCheckCompleted {
		t.Error("probing with zero targets should still mark checks complete")
	}
}
