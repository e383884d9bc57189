package download

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/Vic92548/vapr-companion/internal/logctx"
)

// Status texts carried by StatusUpdate.
const (
	StatusStarting   = "starting"
	StatusExtracting = "Extracting game files..."
)

// Progress is emitted at most once per progress interval while bytes arrive,
// plus once at the end of the stream.
type Progress struct {
	DownloadID string  `json:"download_id"`
	GameID     string  `json:"game_id"`
	GameName   string  `json:"game_name"`
	GameCover  string  `json:"game_cover,omitempty"`
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
	// Speed is in bytes per second.
	Speed float64 `json:"speed"`
	// ETA is in seconds.
	ETA float64 `json:"eta"`
}

type StatusUpdate struct {
	DownloadID string `json:"download_id"`
	GameID     string `json:"game_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// Completed is the terminal event of a successful attempt.
type Completed struct {
	DownloadID  string `json:"download_id"`
	GameID      string `json:"game_id"`
	GameName    string `json:"game_name"`
	InstallPath string `json:"install_path"`
	Executable  string `json:"executable"`
	Size        int64  `json:"size"`
}

// Failed is the terminal event of an attempt that did not complete. Paused
// and Cancelled distinguish user requests from real failures.
type Failed struct {
	DownloadID string `json:"download_id"`
	GameID     string `json:"game_id"`
	GameName   string `json:"game_name"`
	Error      string `json:"error"`
	Paused     bool   `json:"paused,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
}

// Sink receives download events. Calls for one download arrive from a
// single goroutine in emission order; implementations must not block for long.
type Sink interface {
	Progress(ctx context.Context, ev Progress)
	Status(ctx context.Context, ev StatusUpdate)
	Completed(ctx context.Context, ev Completed)
	Failed(ctx context.Context, ev Failed)
}

// MultiSink fans every event out to each sink in order.
type MultiSink []Sink

func (m MultiSink) Progress(ctx context.Context, ev Progress) {
	for _, s := range m {
		s.Progress(ctx, ev)
	}
}

func (m MultiSink) Status(ctx context.Context, ev StatusUpdate) {
	for _, s := range m {
		s.Status(ctx, ev)
	}
}

func (m MultiSink) Completed(ctx context.Context, ev Completed) {
	for _, s := range m {
		s.Completed(ctx, ev)
	}
}

func (m MultiSink) Failed(ctx context.Context, ev Failed) {
	for _, s := range m {
		s.Failed(ctx, ev)
	}
}

// LogSink writes events to the logger carried by the context.
type LogSink struct{}

func (LogSink) Progress(ctx context.Context, ev Progress) {
	logctx.LoggerFromContext(ctx).DebugContext(ctx, "download progress",
		"downloaded", humanize.Bytes(uint64(ev.Downloaded)),
		"total", humanize.Bytes(uint64(ev.Total)),
		"percentage", ev.Percentage,
		"speed", humanize.Bytes(uint64(ev.Speed))+"/s",
		"eta_seconds", int64(ev.ETA),
	)
}

func (LogSink) Status(ctx context.Context, ev StatusUpdate) {
	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download status", "status", ev.Status, "message", ev.Message)
}

func (LogSink) Completed(ctx context.Context, ev Completed) {
	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download completed",
		"install_path", ev.InstallPath,
		"executable", ev.Executable,
		"size", humanize.Bytes(uint64(ev.Size)),
	)
}

func (LogSink) Failed(ctx context.Context, ev Failed) {
	logger := logctx.LoggerFromContext(ctx)

	switch {
	case ev.Cancelled:
		logger.InfoContext(ctx, "download cancelled")
	case ev.Paused:
		logger.InfoContext(ctx, "download paused")
	default:
		logger.ErrorContext(ctx, "download failed", "err", ev.Error)
	}
}

type nopSink struct{}

func (nopSink) Progress(context.Context, Progress) {}
func (nopSink) Status(context.Context, StatusUpdate) {}
func (nopSink) Completed(context.Context, Completed) {}
func (nopSink) Failed(context.Context, Failed) {}
