// Package review implements the diff/review core: per-target diff
// probing with caching, the bidirectional message protocol exchanged
// with a review UI, lazy tree loading for large file sets, and an
// idle-connection reaper for the single cached uploader. The message
// type union below is generated from one Go const-typed enum rather
// than per-language codegen, since Go is the only language target.
package review

import "github.com/ryanoboyle/wharf/internal/model"

// MsgType enumerates every message exchanged over the review channel.
type MsgType string

const (
	// Client -> core
	MsgFileRequest     MsgType = "file_request"
	MsgExpandDirectory MsgType = "expand_directory"
	MsgSwitchTarget    MsgType = "switch_target"
	MsgConfirm         MsgType = "confirm"
	MsgCancel          MsgType = "cancel"

	// Core -> client
	MsgInit              MsgType = "init"
	MsgLoadingProgress   MsgType = "loading_progress"
	MsgFileResponse      MsgType = "file_response"
	MsgDirectoryContents MsgType = "directory_contents"
	MsgUploadState       MsgType = "upload_state"
	MsgProgress          MsgType = "progress"
	MsgComplete          MsgType = "complete"
	MsgError             MsgType = "error"
)

// ClientMessage is the envelope for every client -> core message; unused
// fields for a given Type are left zero.
type ClientMessage struct {
	Type        MsgType `json:"type"`
	Path        string  `json:"path,omitempty"`
	TargetIndex int     `json:"targetIndex,omitempty"`
}

// FileNode is one entry in a lazily-expandable file tree.
type FileNode struct {
	Path     string      `json:"path"`
	IsDir    bool        `json:"isDir"`
	Children []*FileNode `json:"children,omitempty"`
}

// Summary is the aggregate added/modified/deleted/total count shown for
// a diff, whether sourced from the raw source diff or a target probe.
type Summary struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Deleted  int `json:"deleted"`
	Total    int `json:"total"`
}

// SummaryFromEntries folds a DiffEntry list into a Summary.
func SummaryFromEntries(entries []model.DiffEntry) Summary {
	var s Summary
	for _, e := range entries {
		switch e.Kind {
		case model.ChangeAdded:
			s.Added++
		case model.ChangeModified:
			s.Modified++
		case model.ChangeDeleted:
			s.Deleted++
		}
	}
	s.Total = s.Added + s.Modified + s.Deleted
	return s
}

// RemoteTargetInfo is the target metadata sent once in init.
type RemoteTargetInfo struct {
	Index    int    `json:"index"`
	Host     string `json:"host"`
	Protocol string `json:"protocol"`
	SyncMode string `json:"syncMode"`
}

// InitMessage is the first core -> client message of a review session.
type InitMessage struct {
	Type              MsgType            `json:"type"`
	Base              string             `json:"base"`
	Target            string             `json:"target"`
	DiffMode          string             `json:"diffMode"`
	Files             []string           `json:"files,omitempty"`
	Summary           Summary            `json:"summary"`
	RemoteTargets     []RemoteTargetInfo `json:"remoteTargets"`
	Tree              *FileNode          `json:"tree,omitempty"`
	LazyLoading       bool               `json:"lazyLoading"`
	UploadButtonState string             `json:"uploadButtonState"`
}

// LoadingResult is one target's outcome within a LoadingProgressMessage.
type LoadingResult struct {
	TargetIndex int    `json:"targetIndex"`
	Error       string `json:"error,omitempty"`
}

// LoadingProgressMessage reports incremental per-target probe completion.
type LoadingProgressMessage struct {
	Type            MsgType         `json:"type"`
	CheckingTargets bool            `json:"checkingTargets"`
	CompletedCount  int             `json:"completedCount"`
	TotalCount      int             `json:"totalCount"`
	Results         []LoadingResult `json:"results"`
}

// FileResponseMessage answers a file_request.
type FileResponseMessage struct {
	Type         MsgType             `json:"type"`
	Path         string              `json:"path"`
	RequestType  string              `json:"requestType"`
	Local        string              `json:"local,omitempty"`
	Remote       string              `json:"remote,omitempty"`
	RemoteStatus *model.RemoteStatus `json:"remoteStatus,omitempty"`
}

// DirectoryContentsMessage answers an expand_directory.
type DirectoryContentsMessage struct {
	Type     MsgType     `json:"type"`
	Path     string      `json:"path"`
	Children []*FileNode `json:"children"`
}

// UploadStateMessage toggles the UI's upload button.
type UploadStateMessage struct {
	Type     MsgType `json:"type"`
	Disabled bool    `json:"disabled"`
	Reason   string  `json:"reason,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// ProgressMessage reports one file's transfer progress within a target.
type ProgressMessage struct {
	Type             MsgType `json:"type"`
	Host             string  `json:"host"`
	FileIndex        int     `json:"fileIndex"`
	TotalFiles       int     `json:"totalFiles"`
	CurrentFile      string  `json:"currentFile"`
	BytesTransferred int64   `json:"bytesTransferred"`
	FileSize         int64   `json:"fileSize"`
	Status           string  `json:"status"`
}

// CompleteMessage is the terminal message of a successful transfer run.
type CompleteMessage struct {
	Type           MsgType `json:"type"`
	SuccessTargets int     `json:"successTargets"`
	FailedTargets  int     `json:"failedTargets"`
	TotalFiles     int     `json:"totalFiles"`
	TotalSize      int64   `json:"totalSize"`
	TotalDuration  float64 `json:"totalDuration"`
}

// ErrorMessage reports a non-fatal condition; the channel stays open.
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Message string  `json:"message"`
}
