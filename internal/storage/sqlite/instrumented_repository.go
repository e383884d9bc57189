package sqlite

import (
	"context"
	"database/sql"

	"github.com/Vic92548/vapr-companion/internal/storage"
	"github.com/Vic92548/vapr-companion/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, owner string, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn, owner),
		telemetry: tel,
	}
}

// GetDownloads retrieves recent downloads with telemetry.
func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownloads(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) GetDownload(ctx context.Context, downloadID string) (storage.DownloadRecord, error) {
	var result storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_download", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownload(ctx, downloadID)

		return err
	})

	return result, err
}

func (r *InstrumentedDownloadRepository) GetInterrupted(ctx context.Context, owner string) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_interrupted", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetInterrupted(ctx, owner)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) SaveDownload(ctx context.Context, rec storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_download", func(ctx context.Context) error {
		return r.repo.SaveDownload(ctx, rec)
	})
}

// UpdateDownloadStatus updates download status with telemetry.
func (r *InstrumentedDownloadRepository) UpdateDownloadStatus(ctx context.Context, downloadID, status, errMsg string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_download_status", func(ctx context.Context) error {
		return r.repo.UpdateDownloadStatus(ctx, downloadID, status, errMsg)
	})
}

func (r *InstrumentedDownloadRepository) CompleteDownload(ctx context.Context, downloadID, installPath, executable string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "complete_download", func(ctx context.Context) error {
		return r.repo.CompleteDownload(ctx, downloadID, installPath, executable)
	})
}
