package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Vic92548/vapr-companion/internal/download/progress"
	"github.com/Vic92548/vapr-companion/internal/fetch"
	"github.com/Vic92548/vapr-companion/internal/install"
	"github.com/Vic92548/vapr-companion/internal/logctx"
	"github.com/Vic92548/vapr-companion/internal/storage"
)

const chunkSize = 64 << 10

// run executes one attempt and emits its terminal event.
func (m *Manager) run(ctx context.Context, rec *record, a *attempt) {
	logger := logctx.LoggerFromContext(ctx)

	if m.repo != nil && !a.stop.Load() {
		err := m.repo.SaveDownload(ctx, storage.DownloadRecord{
			DownloadID: rec.req.ID,
			GameID:     rec.req.GameID,
			GameName:   rec.req.GameName,
			URL:        rec.req.URL,
			Version:    rec.req.Version,
		})
		if err != nil {
			logger.WarnContext(ctx, "failed to record download", "err", err)
		}
	}

	var result *Completed

	err := m.telemetry.InstrumentDownload(ctx, outcome, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "download attempt panicked", "panic", r, "stack", string(debug.Stack()))

				err = fmt.Errorf("download attempt panicked: %v", r)
			}
		}()

		result, err = m.transfer(ctx, rec, a)

		// Cancel deletes the partial file under a running attempt, so
		// whatever error that caused is reported as the cancellation.
		if err != nil && rec.cancelled.Load() {
			err = ErrCancelled
		}

		return err
	})

	m.finish(ctx, rec, result, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return storage.StatusCompleted
	case errors.Is(err, ErrPaused):
		return storage.StatusPaused
	case errors.Is(err, ErrCancelled):
		return storage.StatusCancelled
	default:
		return storage.StatusFailed
	}
}

func (m *Manager) finish(ctx context.Context, rec *record, result *Completed, err error) {
	failed := Failed{
		DownloadID: rec.req.ID,
		GameID:     rec.req.GameID,
		GameName:   rec.req.GameName,
	}

	switch {
	case err == nil:
		rec.setState(StateCompleted, "")

		if m.repo != nil {
			if err := m.repo.CompleteDownload(ctx, rec.req.ID, result.InstallPath, result.Executable); err != nil {
				logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record download completion", "err", err)
			}
		}

		m.sink.Completed(ctx, *result)

		return
	case errors.Is(err, ErrCancelled):
		if rmErr := removePartial(rec.partial); rmErr != nil {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove partial file", "path", rec.partial, "err", rmErr)
		}

		rec.setState(StateFailed, err.Error())

		failed.Cancelled = true
	case errors.Is(err, ErrPaused):
		rec.setState(StatePaused, "")
		m.recordStatus(ctx, rec, storage.StatusPaused, "")

		failed.Paused = true
	default:
		rec.setState(StateFailed, err.Error())
		m.recordStatus(ctx, rec, storage.StatusFailed, err.Error())
	}

	failed.Error = err.Error()
	m.sink.Failed(ctx, failed)
}

// stopReason maps an observed stop request to its error.
func stopReason(rec *record) error {
	if rec.cancelled.Load() {
		return ErrCancelled
	}

	return ErrPaused
}

// transfer streams the archive into the partial file, then installs it.
func (m *Manager) transfer(ctx context.Context, rec *record, a *attempt) (*Completed, error) {
	logger := logctx.LoggerFromContext(ctx)

	m.sink.Status(ctx, StatusUpdate{DownloadID: rec.req.ID, GameID: rec.req.GameID, Status: StatusStarting})

	if a.stop.Load() {
		return nil, stopReason(rec)
	}

	if err := os.MkdirAll(rec.dir, 0o755); err != nil {
		return nil, &install.FilesystemError{Op: "mkdir", Path: rec.dir, Err: err}
	}

	offset, err := partialSize(rec.partial)
	if err != nil {
		return nil, err
	}

	resp, err := m.fetcher.Get(ctx, rec.req.URL, offset)
	if err != nil {
		if a.stop.Load() {
			return nil, stopReason(rec)
		}

		return nil, err
	}
	defer resp.Body.Close()

	if resp.Offset != offset {
		logger.WarnContext(ctx, "server ignored range request, restarting from the beginning",
			"discarded", humanize.Bytes(uint64(offset)))
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resp.Offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(rec.partial, flags, 0o644)
	if err != nil {
		return nil, &install.FilesystemError{Op: "open", Path: rec.partial, Err: err}
	}
	defer f.Close()

	rec.begin(resp.Offset, resp.Total())

	logger.InfoContext(ctx, "download started",
		"offset", humanize.Bytes(uint64(resp.Offset)),
		"total", humanize.Bytes(uint64(resp.Total())),
	)

	tracker := progress.NewTracker(resp.Offset, m.progressInterval)
	buf := make([]byte, chunkSize)

	for {
		n, rerr := resp.Body.Read(buf)

		if a.stop.Load() {
			return nil, stopReason(rec)
		}

		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return nil, &install.FilesystemError{Op: "write", Path: rec.partial, Err: err}
			}

			downloaded, total := rec.add(n)
			m.telemetry.AddDownloadedBytes(int64(n))

			if s, ok := tracker.Update(downloaded, total); ok {
				m.emitProgress(ctx, rec, s)
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}

		if rerr != nil {
			return nil, &fetch.NetworkError{Operation: "read", Err: rerr}
		}
	}

	if err := f.Close(); err != nil {
		return nil, &install.FilesystemError{Op: "close", Path: rec.partial, Err: err}
	}

	downloaded, total := rec.settle()
	if s, ok := tracker.Final(downloaded, total); ok {
		m.emitProgress(ctx, rec, s)
	}

	return m.install(ctx, rec, a, total)
}

func (m *Manager) emitProgress(ctx context.Context, rec *record, s progress.Snapshot) {
	m.sink.Progress(ctx, Progress{
		DownloadID: rec.req.ID,
		GameID:     rec.req.GameID,
		GameName:   rec.req.GameName,
		GameCover:  rec.req.GameCover,
		Downloaded: s.Downloaded,
		Total:      s.Total,
		Percentage: s.Percentage,
		Speed:      s.Speed,
		ETA:        s.ETA,
	})
}

// install extracts the finished partial file and writes the game metadata.
func (m *Manager) install(ctx context.Context, rec *record, a *attempt, size int64) (*Completed, error) {
	logger := logctx.LoggerFromContext(ctx)

	rec.setState(StateExtracting, "")
	m.recordStatus(ctx, rec, storage.StatusExtracting, "")
	m.sink.Status(ctx, StatusUpdate{DownloadID: rec.req.ID, GameID: rec.req.GameID, Status: StatusExtracting})

	if a.stop.Load() {
		return nil, stopReason(rec)
	}

	// Only a cancel interrupts extraction; a pause lets it finish.
	extractCtx, stopExtract := context.WithCancel(ctx)
	defer stopExtract()

	entries, err := install.InstallFile(extractCtx, rec.partial, rec.dir, func(done, total int) {
		if rec.cancelled.Load() {
			stopExtract()

			return
		}

		if done%m.extractStatusEvery != 0 && done != total {
			return
		}

		m.sink.Status(ctx, StatusUpdate{
			DownloadID: rec.req.ID,
			GameID:     rec.req.GameID,
			Status:     StatusExtracting,
			Message:    fmt.Sprintf("Extracted %d of %d files", done, total),
		})
	})
	m.telemetry.AddExtractedEntries(int64(entries))

	if rec.cancelled.Load() {
		return nil, ErrCancelled
	}

	if err != nil {
		return nil, fmt.Errorf("failed to extract archive: %w", err)
	}

	if err := os.Remove(rec.partial); err != nil {
		return nil, &install.FilesystemError{Op: "remove", Path: rec.partial, Err: err}
	}

	executable, err := m.locator.Locate(rec.dir)
	if err != nil {
		return nil, err
	}

	info := GameInfo{
		ID:          rec.req.GameID,
		Name:        rec.req.GameName,
		InstallPath: rec.dir,
		Executable:  executable,
		Version:     rec.req.Version,
		InstalledAt: time.Now().UTC(),
	}

	if err := WriteGameInfo(rec.dir, info); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "game installed", "entries", entries, "install_path", rec.dir)

	return &Completed{
		DownloadID:  rec.req.ID,
		GameID:      rec.req.GameID,
		GameName:    rec.req.GameName,
		InstallPath: rec.dir,
		Executable:  executable,
		Size:        size,
	}, nil
}
