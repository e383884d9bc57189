package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Vic92548/vapr-companion/internal/download"
	"github.com/Vic92548/vapr-companion/internal/logctx"
)

// DeleteStalePartials removes partial download files under gamesDir that have
// not been written to for longer than keep. Paths present in inUse belong to
// registered downloads and are never touched. It returns the number of files
// removed.
func DeleteStalePartials(ctx context.Context, gamesDir string, keep time.Duration, inUse map[string]struct{}) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	matches, err := filepath.Glob(filepath.Join(gamesDir, "*", "*"+download.PartialSuffix))
	if err != nil {
		return 0, err
	}

	now := time.Now()
	removed := 0

	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		if _, ok := inUse[path]; ok {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			logger.Error("Failed to stat partial file", "file", path, "err", err)

			return removed, err
		}

		if !info.Mode().IsRegular() || now.Sub(info.ModTime()) <= keep {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("Failed to delete stale partial file", "file", path, "err", err)

			return removed, err
		}

		removed++

		logger.Info("Deleted stale partial file",
			"file", path,
			"size", humanize.IBytes(uint64(info.Size())),
			"last_modified", humanize.Time(info.ModTime()),
		)
	}

	return removed, nil
}
