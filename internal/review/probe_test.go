package review

import (
	"context"
	"errors"
	"testing"

	"github.com/ryanoboyle/wharf/internal/ignore"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/uploader"
)

// fakeUploader is a minimal in-memory transport double used to exercise
// every branch of ProbeTarget without a real network.
type fakeUploader struct {
	connectErr error
	remote     map[string][]byte

	diffEntries []model.DiffEntry
	diffErr     error
	hasDiff     bool

	// gotLocalBaseDir and gotFilePaths record GetDiff's last call
	// arguments, for assertions about rsync base-dir narrowing.
	gotLocalBaseDir string
	gotFilePaths    []string

	listFiles []string
	listErr   error
	hasList   bool
}

func (f *fakeUploader) Connect(context.Context) error { return f.connectErr }
func (f *fakeUploader) Disconnect()                   {}
func (f *fakeUploader) ReadFile(_ context.Context, p string) ([]byte, int64, bool, error) {
	data, ok := f.remote[p]
	return data, int64(len(data)), ok, nil
}
func (f *fakeUploader) TransferFile(context.Context, model.UploadFile) error { return nil }
func (f *fakeUploader) DeleteFile(context.Context, string) error            { return nil }

type fakeDiffUploader struct{ *fakeUploader }

func (f fakeDiffUploader) GetDiff(_ context.Context, localBaseDir string, filePaths []string, _ uploader.DiffOptions) (*uploader.RsyncDiffResult, error) {
	f.gotLocalBaseDir = localBaseDir
	f.gotFilePaths = filePaths
	if f.diffErr != nil {
		return nil, f.diffErr
	}
	return &uploader.RsyncDiffResult{Entries: f.diffEntries}, nil
}

type fakeListUploader struct{ *fakeUploader }

func (f fakeListUploader) ListRemoteFiles(context.Context, string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listFiles, nil
}

func factoryFor(u uploader.Uploader) UploaderFactory {
	return func(model.ResolvedTarget) (uploader.Uploader, error) { return u, nil }
}

func TestProbeTarget_NoFileContextFallsBackToSource(t *testing.T) {
	files := []model.UploadFile{{Path: "a.txt"}, {Path: "b.txt"}}
	diff := ProbeTarget(context.Background(), 0, false, "", files, model.ResolvedTarget{}, nil, ignore.New(nil), nil)

	if diff.Total != 2 || diff.Modified != 2 {
		t.Fatalf("got %+v, want Total=2 Modified=2", diff)
	}
}

// TestProbeTarget_NoFileContextClassifiesGitChangeKinds covers spec §8
// scenario S1: a git-sourced profile's change kinds (added vs modified)
// must flow through the fallback diff instead of collapsing to Modified.
func TestProbeTarget_NoFileContextClassifiesGitChangeKinds(t *testing.T) {
	files := []model.UploadFile{{Path: "existing.txt"}, {Path: "new.txt"}}
	changeKinds := map[string]model.ChangeKind{
		"existing.txt": model.ChangeModified,
		"new.txt":      model.ChangeAdded,
	}

	diff := ProbeTarget(context.Background(), 0, false, "", files, model.ResolvedTarget{}, changeKinds, ignore.New(nil), nil)

	if diff.Total != 2 || diff.Added != 1 || diff.Modified != 1 {
		t.Fatalf("got %+v, want Total=2 Added=1 Modified=1", diff)
	}
}

func TestProbeTarget_ConnectFailureCapturesError(t *testing.T) {
	u := &fakeUploader{connectErr: errors.New("refused")}
	diff := ProbeTarget(context.Background(), 0, true, "", nil, model.ResolvedTarget{}, nil, ignore.New(nil), factoryFor(u))

	if diff.Error == "" {
		t.Fatal("expected diff.Error to be set on connect failure")
	}
}

func TestProbeTarget_UsesDiffProviderWhenAvailable(t *testing.T) {
	u := fakeDiffUploader{&fakeUploader{
		diffEntries: []model.DiffEntry{
			{Path: "a.txt", Kind: model.ChangeModified},
			{Path: "new.txt", Kind: model.ChangeAdded},
		},
	}}
	files := []model.UploadFile{{Path: "a.txt"}, {Path: "new.txt"}}

	diff := ProbeTarget(context.Background(), 0, true, "", files, model.ResolvedTarget{}, nil, ignore.New(nil), factoryFor(u))

	if diff.Total != 2 || diff.Added != 1 || diff.Modified != 1 {
		t.Fatalf("got %+v", diff)
	}
	if diff.RemoteStatusByFile["new.txt"].Exists {
		t.Error("a newly-added file should not report Exists=true")
	}
}

// TestProbeTarget_NarrowsRsyncScopeToCommonBaseDir covers the rsync-scope
// narrowing rule (spec.md §4.4): when every candidate path shares a
// subdirectory, GetDiff must be called with that subdirectory joined onto
// the local root and with paths relative to it, and the returned entries
// must be re-prefixed with the same subdirectory, not the literal root.
func TestProbeTarget_NarrowsRsyncScopeToCommonBaseDir(t *testing.T) {
	u := fakeDiffUploader{&fakeUploader{
		diffEntries: []model.DiffEntry{
			{Path: "a.txt", Kind: model.ChangeModified},
		},
	}}
	files := []model.UploadFile{{Path: "src/app/a.txt"}, {Path: "src/app/b.txt"}}

	diff := ProbeTarget(context.Background(), 0, true, ".", files, model.ResolvedTarget{}, nil, ignore.New(nil), factoryFor(u))

	if u.gotLocalBaseDir != "src/app" {
		t.Errorf("GetDiff localBaseDir = %q, want %q", u.gotLocalBaseDir, "src/app")
	}
	want := []string{"a.txt", "b.txt"}
	if len(u.gotFilePaths) != len(want) || u.gotFilePaths[0] != want[0] || u.gotFilePaths[1] != want[1] {
		t.Errorf("GetDiff filePaths = %v, want %v", u.gotFilePaths, want)
	}
	if len(diff.Entries) != 1 || diff.Entries[0].Path != "src/app/a.txt" {
		t.Errorf("Entries = %+v, want Path %q", diff.Entries, "src/app/a.txt")
	}
}

func TestProbeTarget_MirrorFallsBackToListProvider(t *testing.T) {
	u := fakeListUploader{&fakeUploader{
		listFiles: []string{"a.txt", "stale.txt"},
		remote:    map[string][]byte{"a.txt": []byte("x")},
	}}
	files := []model.UploadFile{{Path: "a.txt"}}
	target := model.ResolvedTarget{SyncMode: model.SyncMirror, Concurrency: 2}

	diff := ProbeTarget(context.Background(), 0, true, "", files, target, nil, ignore.New(nil), factoryFor(u))

	if len(diff.DeleteFiles) != 1 || diff.DeleteFiles[0] != "stale.txt" {
		t.Fatalf("DeleteFiles = %v, want [stale.txt]", diff.DeleteFiles)
	}
}

func TestProbeTarget_NoCapabilitiesTreatsAllAsChanged(t *testing.T) {
	u := &fakeUploader{remote: map[string][]byte{"a.txt": []byte("x")}}
	files := []model.UploadFile{{Path: "a.txt"}, {Path: "b.txt"}}

	diff := ProbeTarget(context.Background(), 0, true, "", files, model.ResolvedTarget{Concurrency: 2}, nil, ignore.New(nil), factoryFor(u))

	if diff.Total != 2 {
		t.Fatalf("Total = %d, want 2", diff.Total)
	}
	if !diff.RemoteStatusByFile["a.txt"].Exists {
		t.Error("a.txt should be reported as existing remotely")
	}
	if diff.RemoteStatusByFile["b.txt"].Exists {
		t.Error("b.txt should be reported as missing remotely")
	}
}

// TestReprefixEntries_LeavesFromPathUnprefixed covers spec.md §9's second
// Open Question: a rename entry's Path gets the base subdirectory back,
// but FromPath is preserved exactly as the transport reported it.
func TestReprefixEntries_LeavesFromPathUnprefixed(t *testing.T) {
	entries := []model.DiffEntry{
		{Path: "new.json", Kind: model.ChangeRenamed, FromPath: "old.json"},
	}

	out := reprefixEntries(entries, "config")

	if out[0].Path != "config/new.json" {
		t.Errorf("Path = %q, want %q", out[0].Path, "config/new.json")
	}
	if out[0].FromPath != "old.json" {
		t.Errorf("FromPath = %q, want unchanged %q", out[0].FromPath, "old.json")
	}
}

func TestProbeAllTargets_OneFailureDoesNotBlockOthers(t *testing.T) {
	failing := &fakeUploader{connectErr: errors.New("down")}
	ok := &fakeUploader{remote: map[string][]byte{}}

	targets := []model.ResolvedTarget{{Index: 0}, {Index: 1}}
	factory := func(target model.ResolvedTarget) (uploader.Uploader, error) {
		if target.Index == 0 {
			return failing, nil
		}
		return ok, nil
	}

	diffs := ProbeAllTargets(context.Background(), true, "", nil, targets, nil, ignore.New(nil), factory)

	if diffs[0].Error == "" {
		t.Error("target 0 should have captured its connection error")
	}
	if diffs[1] == nil || diffs[1].Error != "" {
		t.Errorf("target 1 should have succeeded independently, got %+v", diffs[1])
	}
}
