package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Vic92548/vapr-companion/internal/download"
	"github.com/Vic92548/vapr-companion/internal/logctx"
)

const notifyTimeout = 10 * time.Second

// DownloadSink turns terminal download events into notifications. Pauses and
// cancellations are user actions and stay silent. Delivery happens off the
// download goroutine.
type DownloadSink struct {
	notifier Notifier
	wg       sync.WaitGroup
}

var _ download.Sink = (*DownloadSink)(nil)

func NewDownloadSink(n Notifier) *DownloadSink {
	return &DownloadSink{notifier: n}
}

func (s *DownloadSink) Progress(context.Context, download.Progress) {}
func (s *DownloadSink) Status(context.Context, download.StatusUpdate) {}

func (s *DownloadSink) Completed(ctx context.Context, ev download.Completed) {
	s.send(ctx, fmt.Sprintf("Download finished: %s (%s) installed to %s",
		ev.GameName, humanize.IBytes(uint64(ev.Size)), ev.InstallPath))
}

func (s *DownloadSink) Failed(ctx context.Context, ev download.Failed) {
	if ev.Paused || ev.Cancelled {
		return
	}

	s.send(ctx, fmt.Sprintf("Download failed: %s: %s", ev.GameName, ev.Error))
}

func (s *DownloadSink) send(ctx context.Context, content string) {
	logger := logctx.LoggerFromContext(ctx)

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(ctx, content); err != nil {
			logger.Error("failed to send notification", "err", err)
		}
	}()
}

// Wait blocks until every pending notification has been delivered or has failed.
func (s *DownloadSink) Wait() {
	s.wg.Wait()
}
