package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/Vic92548/vapr-companion/internal/storage"
)

// DownloadWriteRepository implements storage.DownloadWriteRepository
// and stores download records in SQLite.
type DownloadWriteRepository struct {
	db    *sql.DB
	owner string
}

// NewDownloadWriteRepository stamps every written row with owner.
func NewDownloadWriteRepository(db *sql.DB, owner string) *DownloadWriteRepository {
	return &DownloadWriteRepository{db: db, owner: owner}
}

func (r *DownloadWriteRepository) SaveDownload(ctx context.Context, rec storage.DownloadRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (download_id, game_id, game_name, url, version, status, error, owner, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?, ?)
		ON CONFLICT(download_id) DO UPDATE SET
			game_id = excluded.game_id,
			game_name = excluded.game_name,
			url = excluded.url,
			version = excluded.version,
			status = excluded.status,
			error = '',
			install_path = '',
			executable = '',
			owner = excluded.owner,
			updated_at = excluded.updated_at
	`, rec.DownloadID, rec.GameID, rec.GameName, rec.URL, rec.Version, storage.StatusDownloading, r.owner, time.Now().UTC())

	return err
}

// UpdateDownloadStatus sets the status for a download.
func (r *DownloadWriteRepository) UpdateDownloadStatus(ctx context.Context, downloadID, status, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET status = ?, error = ?, owner = ?, updated_at = ? WHERE download_id = ?`,
		status, errMsg, r.owner, time.Now().UTC(), downloadID,
	)
	if err != nil {
		return err
	}

	return requireAffected(res)
}

func (r *DownloadWriteRepository) CompleteDownload(ctx context.Context, downloadID, installPath, executable string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET status = ?, error = '', install_path = ?, executable = ?, owner = ?, updated_at = ? WHERE download_id = ?`,
		storage.StatusCompleted, installPath, executable, r.owner, time.Now().UTC(), downloadID,
	)
	if err != nil {
		return err
	}

	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}
