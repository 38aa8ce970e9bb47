// Package uploader defines the capability set every transport must satisfy,
// plus two optional single-method capabilities transports may additionally
// implement. Callers feature-test with a type assertion rather than a
// class hierarchy, following the composition style spec.md's design notes
// call for.
package uploader

import (
	"context"

	"github.com/ryanoboyle/wharf/internal/model"
)

// Uploader is the base capability every transport exposes.
type Uploader interface {
	// Connect fails with a connection-class error when the remote refuses,
	// times out, or rejects the supplied credentials.
	Connect(ctx context.Context) error

	// Disconnect is best-effort; it never returns an error the caller must
	// act on.
	Disconnect()

	// ReadFile returns the file's bytes and size, or ok=false when the
	// remote path does not exist.
	ReadFile(ctx context.Context, relativePath string) (data []byte, size int64, ok bool, err error)

	// TransferFile writes f into the destination, honoring preservation
	// flags when the transport supports them.
	TransferFile(ctx context.Context, f model.UploadFile) error

	// DeleteFile removes relativePath from the destination, for mirror
	// mode.
	DeleteFile(ctx context.Context, relativePath string) error
}

// DiffOptions parameterizes DiffProvider.GetDiff.
type DiffOptions struct {
	Checksum       bool
	IgnorePatterns []string
	RemoteDir      string
}

// RsyncDiffResult is the parsed output of a dry-run itemized rsync compare.
type RsyncDiffResult struct {
	Entries []model.DiffEntry
}

// DiffProvider is the optional server-side-diff capability; only the rsync
// transport implements it. filePaths empty means "compare the whole tree
// and allow deletions" (spec.md §4.1).
type DiffProvider interface {
	GetDiff(ctx context.Context, localBaseDir string, filePaths []string, opts DiffOptions) (*RsyncDiffResult, error)
}

// ListProvider is the optional remote-directory-listing capability;
// sftp and local implement it.
type ListProvider interface {
	ListRemoteFiles(ctx context.Context, remoteDir string) ([]string, error)
}

// HasDiff feature-tests u for DiffProvider.
func HasDiff(u Uploader) (DiffProvider, bool) {
	dp, ok := u.(DiffProvider)
	return dp, ok
}

// HasListRemoteFiles feature-tests u for ListProvider.
func HasListRemoteFiles(u Uploader) (ListProvider, bool) {
	lp, ok := u.(ListProvider)
	return lp, ok
}

// Factory builds a fresh, unconnected Uploader for one target. Each
// transport subpackage provides one; the review core and the transfer
// coordinator each create their own uploader per spec.md's ownership rule
// ("Do NOT share across parallel probes; parallel probes each create their
// own").
type Factory func(target model.ResolvedTarget) (Uploader, error)
