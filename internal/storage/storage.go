package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no row matches a download id.
var ErrNotFound = errors.New("download record not found")

// Download history statuses.
const (
	StatusDownloading = "downloading"
	StatusPaused      = "paused"
	StatusExtracting  = "extracting"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

// DownloadRecord is one download lifecycle as kept in the history store.
type DownloadRecord struct {
	DownloadID  string    `json:"download_id"`
	GameID      string    `json:"game_id"`
	GameName    string    `json:"game_name"`
	URL         string    `json:"url"`
	Version     string    `json:"version,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	InstallPath string    `json:"install_path,omitempty"`
	Executable  string    `json:"executable,omitempty"`
	Owner       string    `json:"owner,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type DownloadReadRepository interface {
	GetDownloads(ctx context.Context, limit int) ([]DownloadRecord, error)
	GetDownload(ctx context.Context, downloadID string) (DownloadRecord, error)
	// GetInterrupted returns downloads left unfinished by a process other than owner.
	GetInterrupted(ctx context.Context, owner string) ([]DownloadRecord, error)
}

type DownloadWriteRepository interface {
	// SaveDownload inserts or replaces the identity of a download and marks it downloading.
	SaveDownload(ctx context.Context, rec DownloadRecord) error
	UpdateDownloadStatus(ctx context.Context, downloadID, status, errMsg string) error
	CompleteDownload(ctx context.Context, downloadID, installPath, executable string) error
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
