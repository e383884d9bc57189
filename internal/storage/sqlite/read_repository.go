package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Vic92548/vapr-companion/internal/storage"
)

const selectColumns = `SELECT
			download_id,
			game_id,
			game_name,
			url,
			version,
			status,
			error,
			install_path,
			executable,
			owner,
			updated_at
		FROM downloads`

type DownloadReadRepository struct {
	db *sql.DB
}

func NewDownloadReadRepository(dbConn *sql.DB) *DownloadReadRepository {
	return &DownloadReadRepository{db: dbConn}
}

// GetDownloads returns the most recently updated downloads, up to limit.
func (r *DownloadReadRepository) GetDownloads(ctx context.Context, limit int) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *DownloadReadRepository) GetDownload(ctx context.Context, downloadID string) (storage.DownloadRecord, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE download_id = ?`, downloadID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DownloadRecord{}, storage.ErrNotFound
	}

	return rec, err
}

// GetInterrupted returns downloads another process left downloading, paused or extracting.
func (r *DownloadReadRepository) GetInterrupted(ctx context.Context, owner string) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		selectColumns+`
		WHERE status IN (?, ?, ?)
		AND owner <> ?
		ORDER BY updated_at DESC, id DESC`,
		storage.StatusDownloading, storage.StatusPaused, storage.StatusExtracting, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (storage.DownloadRecord, error) {
	var record storage.DownloadRecord

	err := s.Scan(
		&record.DownloadID,
		&record.GameID,
		&record.GameName,
		&record.URL,
		&record.Version,
		&record.Status,
		&record.Error,
		&record.InstallPath,
		&record.Executable,
		&record.Owner,
		&record.UpdatedAt,
	)

	return record, err
}

func scanRecords(rows *sql.Rows) ([]storage.DownloadRecord, error) {
	downloads := []storage.DownloadRecord{}

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}
