package download

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vic92548/vapr-companion/internal/fetch"
)

// buildArchive returns a zip holding files. A positive size pads the archive
// comment so the result is exactly size bytes long.
func buildArchive(t *testing.T, size int, files map[string]string) []byte {
	t.Helper()

	build := func(comment string) []byte {
		var buf bytes.Buffer
		zw := zip.NewWriter(&buf)

		for name, body := range files {
			w, err := zw.Create(name)
			require.NoError(t, err)

			_, err = w.Write([]byte(body))
			require.NoError(t, err)
		}

		require.NoError(t, zw.SetComment(comment))
		require.NoError(t, zw.Close())

		return buf.Bytes()
	}

	data := build("")
	if size <= 0 {
		return data
	}

	require.Less(t, len(data), size)

	data = build(strings.Repeat("x", size-len(data)))
	require.Len(t, data, size)

	return data
}

// recordingSink captures events and exposes the terminal ones on a channel.
type recordingSink struct {
	mu       sync.Mutex
	progress []Progress
	statuses []StatusUpdate

	progressCh chan Progress
	terminal   chan any
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		progressCh: make(chan Progress, 256),
		terminal:   make(chan any, 16),
	}
}

func (s *recordingSink) Progress(_ context.Context, ev Progress) {
	s.mu.Lock()
	s.progress = append(s.progress, ev)
	s.mu.Unlock()

	s.progressCh <- ev
}

func (s *recordingSink) Status(_ context.Context, ev StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses = append(s.statuses, ev)
}

func (s *recordingSink) Completed(_ context.Context, ev Completed) {
	s.terminal <- ev
}

func (s *recordingSink) Failed(_ context.Context, ev Failed) {
	s.terminal <- ev
}

func (s *recordingSink) Progressed() []Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Progress(nil), s.progress...)
}

func (s *recordingSink) Statuses() []StatusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]StatusUpdate(nil), s.statuses...)
}

func waitTerminal(t *testing.T, s *recordingSink) any {
	t.Helper()

	select {
	case ev := <-s.terminal:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal event")

		return nil
	}
}

func waitProgress(t *testing.T, s *recordingSink) Progress {
	t.Helper()

	select {
	case ev := <-s.progressCh:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for progress event")

		return Progress{}
	}
}

// gatedFetcher serves data in fixed chunks; while gate is open each Read
// needs one token from it.
type gatedFetcher struct {
	data  []byte
	chunk int
	gate  chan struct{}

	mu      sync.Mutex
	offsets []int64
}

func (f *gatedFetcher) Get(ctx context.Context, _ string, offset int64) (*fetch.Response, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	f.mu.Unlock()

	return &fetch.Response{
		Body:      io.NopCloser(&gatedReader{ctx: ctx, data: f.data[offset:], chunk: f.chunk, gate: f.gate}),
		Offset:    offset,
		Remaining: int64(len(f.data)) - offset,
	}, nil
}

func (f *gatedFetcher) Offsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int64(nil), f.offsets...)
}

type gatedReader struct {
	ctx   context.Context
	data  []byte
	chunk int
	gate  chan struct{}
}

func (r *gatedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}

	if r.gate != nil {
		select {
		case <-r.gate:
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}

	n := min(r.chunk, len(p), len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]

	return n, nil
}

// noise returns n bytes that deflate cannot shrink much.
func noise(n int) string {
	b := make([]byte, n)
	x := uint32(2463534242)

	for i := range b {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b[i] = byte(x)
	}

	return string(b)
}
