// Package local implements the local-filesystem transport on top of
// spf13/afero, following the teacher's central use of afero for every
// filesystem-touching test seam (bb-stream go.mod lists it unused; this is
// where it earns its place).
package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/ryanoboyle/wharf/internal/apperr"
	"github.com/ryanoboyle/wharf/internal/model"
	"github.com/ryanoboyle/wharf/internal/uploader"
)

// Uploader copies files to a destination directory on the same filesystem
// the process runs on (or a fake one, in tests).
type Uploader struct {
	fs       afero.Fs
	dest     string
	preserve model.PreserveFlags
}

// New builds a local Uploader for target. fs is injectable so tests can
// pass afero.NewMemMapFs().
func New(fs afero.Fs, target model.ResolvedTarget) *Uploader {
	return &Uploader{fs: fs, dest: target.RawDest, preserve: target.Preserve}
}

// Factory adapts New to uploader.Factory for a concrete afero.Fs.
func Factory(fs afero.Fs) uploader.Factory {
	return func(target model.ResolvedTarget) (uploader.Uploader, error) {
		return New(fs, target), nil
	}
}

func (u *Uploader) Connect(ctx context.Context) error {
	if err := u.fs.MkdirAll(u.dest, 0o755); err != nil {
		return apperr.New(apperr.ErrConnection, err, "cannot create destination directory")
	}
	return nil
}

func (u *Uploader) Disconnect() {}

func (u *Uploader) ReadFile(ctx context.Context, relativePath string) ([]byte, int64, bool, error) {
	full := filepath.Join(u.dest, filepath.FromSlash(relativePath))
	data, err := afero.ReadFile(u.fs, full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, false, nil
		}
		return nil, 0, false, apperr.New(apperr.ErrRemote, err, "read failed")
	}
	return data, int64(len(data)), true, nil
}

func (u *Uploader) TransferFile(ctx context.Context, f model.UploadFile) error {
	full := filepath.Join(u.dest, filepath.FromSlash(f.Path))

	if f.IsDirectory {
		if err := u.fs.MkdirAll(full, 0o755); err != nil {
			return apperr.New(apperr.ErrTransfer, err, "cannot create directory")
		}
		return nil
	}

	if err := u.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot create parent directory")
	}

	src, mode, err := openSource(f)
	if err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot read source file")
	}
	defer src.Close()

	out, err := u.fs.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.New(apperr.ErrTransfer, err, "cannot open destination file")
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return apperr.New(apperr.ErrTransfer, err, "write failed")
	}

	if u.preserve.Mode && mode != 0 {
		_ = u.fs.Chmod(full, mode)
	}

	return nil
}

func (u *Uploader) DeleteFile(ctx context.Context, relativePath string) error {
	full := filepath.Join(u.dest, filepath.FromSlash(relativePath))
	if err := u.fs.Remove(full); err != nil && !os.IsNotExist(err) {
		return apperr.New(apperr.ErrRemote, err, "delete failed")
	}
	return nil
}

// ListRemoteFiles implements uploader.ListProvider, used by the mirror
// planner when this transport has no server-side diff (it never does).
func (u *Uploader) ListRemoteFiles(ctx context.Context, remoteDir string) ([]string, error) {
	root := u.dest
	if remoteDir != "" {
		root = filepath.Join(u.dest, filepath.FromSlash(remoteDir))
	}

	var paths []string
	err := afero.Walk(u.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(u.dest, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.ErrRemote, err, "list failed")
	}
	return paths, nil
}

func openSource(f model.UploadFile) (io.ReadCloser, os.FileMode, error) {
	if f.SourcePath != "" {
		file, err := os.Open(f.SourcePath)
		if err != nil {
			return nil, 0, err
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, 0, err
		}
		return file, info.Mode(), nil
	}
	return io.NopCloser(bytes.NewReader(f.Bytes)), 0, nil
}
