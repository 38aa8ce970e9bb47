// Package model holds the data types shared across the diff-and-upload core:
// resolved source files, target configuration, diff results, and per-run
// progress accounting.
package model

import "time"

// UploadFile is a single file produced by the source resolver. Exactly one
// of Bytes or SourcePath is set, unless IsDirectory is true.
type UploadFile struct {
	Path        string // relative, POSIX-separated, no leading "/"
	Bytes       []byte
	SourcePath  string
	IsDirectory bool
}

// SyncMode decides whether a target may have files deleted from it.
type SyncMode string

const (
	SyncUpdate SyncMode = "update"
	SyncMirror SyncMode = "mirror"
)

// Protocol identifies a transport implementation.
type Protocol string

const (
	ProtocolSFTP  Protocol = "sftp"
	ProtocolSCP   Protocol = "scp"
	ProtocolRsync Protocol = "rsync"
	ProtocolLocal Protocol = "local"
)

// AuthType decides which credential field on ResolvedTarget is populated.
type AuthType string

const (
	AuthSSHKey   AuthType = "ssh_key"
	AuthPassword AuthType = "password"
)

// ResolvedTarget is one fully-validated deployment destination. Immutable
// once produced by the profile loader.
type ResolvedTarget struct {
	Index int

	Host     string
	Protocol Protocol
	Port     int
	User     string

	AuthType     AuthType
	KeyFile      string
	Password     string

	Dest     string // normalized without trailing slash for display
	RawDest  string // preserved literally for the transport

	SyncMode      SyncMode
	Preserve      PreserveFlags
	Timeout       time.Duration
	Retry         int
	Concurrency   int
	IgnorePattern []string

	RsyncOptions []string
	LegacyMode   bool
}

// PreserveFlags control which file attributes a transfer tries to keep.
type PreserveFlags struct {
	Mode    bool
	ModTime bool
	Owner   bool
}

// ChangeKind classifies one DiffEntry.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "A"
	ChangeModified  ChangeKind = "M"
	ChangeDeleted   ChangeKind = "D"
	ChangeRenamed   ChangeKind = "R"
	ChangeUnchanged ChangeKind = "U"
)

// DiffEntry is one changed path as reported by a source diff or a transport's
// GetDiff. Kind ChangeUnchanged never appears in a stored entry list.
type DiffEntry struct {
	Path     string
	Kind     ChangeKind
	FromPath string // set only for ChangeRenamed
	Size     int64
}

// RemoteStatus records, for one source path, whether it currently exists on
// a target and whether it differs from the source's copy.
type RemoteStatus struct {
	Exists     bool
	HasChanges bool
}

// TargetDiff is the cached per-target diff result. Once stored in the
// review core's cache it is treated as immutable.
type TargetDiff struct {
	TargetIndex int

	Entries []DiffEntry // rsync-style entries, when the transport produced them

	ChangedPaths []string
	Added        int
	Modified     int
	Deleted      int
	Total        int

	DeleteFiles []string // non-rsync mirror mode deletion candidates

	RemoteStatusByFile map[string]RemoteStatus

	Error string
}

// HasChanges reports whether this diff implies any work to upload.
func (d *TargetDiff) HasChanges() bool {
	if d == nil {
		return false
	}
	return d.Total > 0 || len(d.DeleteFiles) > 0
}

// FileStatus is the terminal state of one transferred or deleted file.
type FileStatus string

const (
	FileCompleted FileStatus = "completed"
	FileFailed    FileStatus = "failed"
	FileSkipped   FileStatus = "skipped"
)

// FileResult is one completed per-file transfer accounting entry. Appended
// only, never mutated once recorded.
type FileResult struct {
	Path     string
	Status   FileStatus
	Size     int64
	Duration time.Duration
	Error    string
}

// TargetStatus is the transfer-coordinator state machine for one target.
type TargetStatus string

const (
	TargetPending    TargetStatus = "pending"
	TargetConnecting TargetStatus = "connecting"
	TargetUploading  TargetStatus = "uploading"
	TargetCompleted  TargetStatus = "completed"
	TargetFailed     TargetStatus = "failed"
)

// TargetResult accumulates the outcome of transferring to one target.
type TargetResult struct {
	Host     string
	Status   TargetStatus
	Files    []FileResult
	Bytes    int64
	Duration time.Duration
	Error    string
}
