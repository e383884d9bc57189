package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vic92548/vapr-companion/internal/fetch"
	"github.com/Vic92548/vapr-companion/internal/storage"
)

func newTestManager(t *testing.T, fetcher Fetcher, sink Sink, opts ...Option) (*Manager, string) {
	t.Helper()

	gamesDir := t.TempDir()
	opts = append([]Option{WithProgressInterval(0)}, opts...)
	m := NewManager(gamesDir, fetcher, sink, opts...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = m.Close(ctx)
	})

	return m, gamesDir
}

func request(id string) Request {
	return Request{
		ID:       id,
		GameID:   "game-" + id,
		GameName: "Space Game",
		URL:      "https://cdn.example.com/space-game.zip",
		Version:  "1.2.0",
	}
}

// chunkTransport answers every request with data, 100 bytes per Read.
type chunkTransport struct {
	data []byte
}

func (c chunkTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{},
		ContentLength: int64(len(c.data)),
		Body:          io.NopCloser(&gatedReader{ctx: r.Context(), data: c.data, chunk: 100}),
		Request:       r,
	}, nil
}

func TestManager_ThreeChunkDownload(t *testing.T) {
	data := buildArchive(t, 300, map[string]string{"game.exe": "MZ"})

	client := fetch.NewClient(fetch.Options{Transport: chunkTransport{data: data}})
	sink := newRecordingSink()
	m, gamesDir := newTestManager(t, client, sink)

	require.NoError(t, m.Start(context.Background(), request("d1")))

	ev := waitTerminal(t, sink)
	done, ok := ev.(Completed)
	require.True(t, ok, "expected completion, got %#v", ev)

	installDir := filepath.Join(gamesDir, "space-game")
	assert.Equal(t, "d1", done.DownloadID)
	assert.Equal(t, installDir, done.InstallPath)
	assert.Equal(t, filepath.Join(installDir, "game.exe"), done.Executable)

	var downloaded []int64
	for _, p := range sink.Progressed() {
		downloaded = append(downloaded, p.Downloaded)
		assert.Equal(t, int64(300), p.Total)
	}

	assert.Equal(t, []int64{100, 200, 300}, downloaded)

	last := sink.Progressed()[2]
	assert.InDelta(t, 100.0, last.Percentage, 0.0001)
	assert.Equal(t, "Space Game", last.GameName)

	statuses := sink.Statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, StatusStarting, statuses[0].Status)
	assert.Contains(t, statuses, StatusUpdate{DownloadID: "d1", GameID: "game-d1", Status: StatusExtracting})

	_, err := os.Stat(filepath.Join(installDir, "space-game"+PartialSuffix))
	assert.True(t, os.IsNotExist(err), "partial file is removed after extraction")

	info, err := ReadGameInfo(installDir)
	require.NoError(t, err)
	assert.Equal(t, "game-d1", info.ID)
	assert.Equal(t, "Space Game", info.Name)
	assert.Equal(t, "1.2.0", info.Version)
	assert.Equal(t, done.Executable, info.Executable)

	snapshot, err := m.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, snapshot.State)
	assert.Equal(t, int64(300), snapshot.Downloaded)
	assert.Equal(t, int64(300), snapshot.Total)
	assert.InDelta(t, 100.0, snapshot.Percentage, 0.0001)
}

func TestManager_ResumesFromPartialFile(t *testing.T) {
	data := buildArchive(t, 0, map[string]string{
		"bin/game.exe":  "MZ" + noise(500),
		"data/pack.bin": noise(700),
	})
	const k = 200

	require.Greater(t, len(data), 2*k)

	var (
		mu     sync.Mutex
		ranges []string
	)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()

		http.ServeContent(w, r, "game.zip", time.Time{}, bytes.NewReader(data))
	}))
	defer ts.Close()

	sink := newRecordingSink()
	m, gamesDir := newTestManager(t, fetch.NewClient(fetch.DefaultOptions()), sink)

	installDir := filepath.Join(gamesDir, "space-game")
	require.NoError(t, os.MkdirAll(installDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "space-game"+PartialSuffix), data[:k], 0o644))

	req := request("d1")
	req.URL = ts.URL

	require.NoError(t, m.Start(context.Background(), req))

	before, err := m.Get("d1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, before.Downloaded, int64(k))

	ev := waitTerminal(t, sink)
	require.IsType(t, Completed{}, ev)

	mu.Lock()
	assert.Equal(t, []string{"bytes=200-"}, ranges)
	mu.Unlock()

	progressed := sink.Progressed()
	require.NotEmpty(t, progressed)
	assert.Greater(t, progressed[0].Downloaded, int64(k))

	for _, p := range progressed {
		assert.Equal(t, int64(len(data)), p.Total)
	}

	assert.Equal(t, int64(len(data)), progressed[len(progressed)-1].Downloaded)

	got, err := os.ReadFile(filepath.Join(installDir, "data", "pack.bin"))
	require.NoError(t, err)
	assert.Equal(t, noise(700), string(got))
}

func TestManager_ResumesCompletePartialFile(t *testing.T) {
	data := buildArchive(t, 0, map[string]string{"game.exe": "MZ" + noise(300)})

	var (
		mu     sync.Mutex
		ranges []string
	)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()

		http.ServeContent(w, r, "game.zip", time.Time{}, bytes.NewReader(data))
	}))
	defer ts.Close()

	sink := newRecordingSink()
	m, gamesDir := newTestManager(t, fetch.NewClient(fetch.DefaultOptions()), sink)

	installDir := filepath.Join(gamesDir, "space-game")
	require.NoError(t, os.MkdirAll(installDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "space-game"+PartialSuffix), data, 0o644))

	req := request("d1")
	req.URL = ts.URL

	require.NoError(t, m.Start(context.Background(), req))

	completed, ok := waitTerminal(t, sink).(Completed)
	require.True(t, ok, "expected completion")
	assert.Equal(t, filepath.Join(installDir, "game.exe"), completed.Executable)
	assert.Equal(t, int64(len(data)), completed.Size)

	mu.Lock()
	assert.Equal(t, []string{fmt.Sprintf("bytes=%d-", len(data))}, ranges)
	mu.Unlock()

	progressed := sink.Progressed()
	require.Len(t, progressed, 1)
	assert.Equal(t, int64(len(data)), progressed[0].Downloaded)
	assert.Equal(t, int64(len(data)), progressed[0].Total)
	assert.InDelta(t, 100.0, progressed[0].Percentage, 0.001)

	assert.NoFileExists(t, filepath.Join(installDir, "space-game"+PartialSuffix))
}

func TestManager_RestartsWhenRangeIgnored(t *testing.T) {
	data := buildArchive(t, 0, map[string]string{"game.exe": "MZ"})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer ts.Close()

	sink := newRecordingSink()
	m, gamesDir := newTestManager(t, fetch.NewClient(fetch.DefaultOptions()), sink)

	installDir := filepath.Join(gamesDir, "space-game")
	require.NoError(t, os.MkdirAll(installDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "space-game"+PartialSuffix), []byte("stale bytes"), 0o644))

	req := request("d1")
	req.URL = ts.URL

	require.NoError(t, m.Start(context.Background(), req))
	require.IsType(t, Completed{}, waitTerminal(t, sink))

	progressed := sink.Progressed()
	assert.Equal(t, int64(len(data)), progressed[len(progressed)-1].Downloaded)
}

func TestManager_PauseAndResume(t *testing.T) {
	data := buildArchive(t, 0, map[string]string{"game.exe": "MZ" + noise(600)})
	fetcher := &gatedFetcher{data: data, chunk: 100, gate: make(chan struct{})}
	sink := newRecordingSink()
	m, gamesDir := newTestManager(t, fetcher, sink)

	require.NoError(t, m.Start(context.Background(), request("d1")))

	fetcher.gate <- struct{}{}
	assert.Equal(t, int64(100), waitProgress(t, sink).Downloaded)

	require.NoError(t, m.Pause(context.Background(), "d1"))

	info, err := m.Get("d1")
	require.NoError(t, err)
	assert.True(t, info.Paused)
	assert.Equal(t, StatePaused, info.State)

	// The loop observes the flag after the next chunk arrives.
	fetcher.gate <- struct{}{}

	ev := waitTerminal(t, sink)
	failed, ok := ev.(Failed)
	require.True(t, ok)
	assert.True(t, failed.Paused)
	assert.False(t, failed.Cancelled)

	partial := filepath.Join(gamesDir, "space-game", "space-game"+PartialSuffix)
	st, err := os.Stat(partial)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Size())
	assert.LessOrEqual(t, st.Size(), int64(len(data)))

	close(fetcher.gate)
	require.NoError(t, m.Resume(context.Background(), "d1"))

	require.IsType(t, Completed{}, waitTerminal(t, sink))
	assert.Equal(t, []int64{0, 100}, fetcher.Offsets())

	info, err = m.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, info.State)
	assert.False(t, info.Paused)
	assert.Equal(t, int64(len(data)), info.Downloaded)
}

func TestManager_ResumeWhileRunningIsNoop(t *testing.T) {
	data := buildArchive(t, 0, map[string]string{"game.exe": "MZ"})
	fetcher := &gatedFetcher{data: data, chunk: 100, gate: make(chan struct{})}
	sink := newRecordingSink()
	m, _ := newTestManager(t, fetcher, sink)

	require.NoError(t, m.Start(context.Background(), request("d1")))
	require.NoError(t, m.Resume(context.Background(), "d1"))

	close(fetcher.gate)
	require.IsType(t, Completed{}, waitTerminal(t, sink))
	assert.Equal(t, []int64{0}, fetcher.Offsets())

	// Completed downloads are not restarted either.
	require.NoError(t, m.Resume(context.Background(), "d1"))
	assert.Equal(t, []int64{0}, fetcher.Offsets())
}

func TestManager_Cancel(t *testing.T) {
	data := buildArchive(t, 0, map[string]string{"game.exe": "MZ" + noise(600)})
	fetcher := &gatedFetcher{data: data, chunk: 100, gate: make(chan struct{})}
	sink := newRecordingSink()
	m, gamesDir := newTestManager(t, fetcher, sink)

	assert.ErrorIs(t, m.Cancel(context.Background(), "unknown"), ErrNotFound)

	require.NoError(t, m.Start(context.Background(), request("d1")))

	fetcher.gate <- struct{}{}
	waitProgress(t, sink)

	require.NoError(t, m.Cancel(context.Background(), "d1"))
	assert.ErrorIs(t, m.Cancel(context.Background(), "d1"), ErrNotFound)
	assert.Empty(t, m.List())

	_, err := m.Get("d1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Pause(context.Background(), "d1"), ErrNotFound)
	assert.ErrorIs(t, m.Resume(context.Background(), "d1"), ErrNotFound)

	close(fetcher.gate)

	failed, ok := waitTerminal(t, sink).(Failed)
	require.True(t, ok)
	assert.True(t, failed.Cancelled)

	_, err = os.Stat(filepath.Join(gamesDir, "space-game", "space-game"+PartialSuffix))
	assert.True(t, os.IsNotExist(err))
}

// cancelOnExtract cancels its download from inside the first extraction
// status event whose message matches.
type cancelOnExtract struct {
	*recordingSink

	manager *Manager
	message string
	once    sync.Once
}

func (s *cancelOnExtract) Status(ctx context.Context, ev StatusUpdate) {
	s.recordingSink.Status(ctx, ev)

	if ev.Status == StatusExtracting && ev.Message == s.message {
		s.once.Do(func() { _ = s.manager.Cancel(ctx, ev.DownloadID) })
	}
}

func TestManager_CancelWhileExtracting(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{name: "before first entry", message: ""},
		{name: "after first entry", message: "Extracted 1 of 5 files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildArchive(t, 0, map[string]string{
				"game.exe": "MZ",
				"a.bin":    "a",
				"b.bin":    "b",
				"c.bin":    "c",
				"d.bin":    "d",
			})
			repo := newMemoryRepo()
			sink := &cancelOnExtract{recordingSink: newRecordingSink(), message: tt.message}
			m, gamesDir := newTestManager(t, &gatedFetcher{data: data, chunk: 100}, sink,
				WithRepository(repo), WithExtractStatusEvery(1))
			sink.manager = m

			require.NoError(t, m.Start(context.Background(), request("d1")))

			failed, ok := waitTerminal(t, sink.recordingSink).(Failed)
			require.True(t, ok, "expected a cancelled failure")
			assert.True(t, failed.Cancelled)
			assert.False(t, failed.Paused)
			assert.Equal(t, ErrCancelled.Error(), failed.Error)

			assert.Equal(t, []string{storage.StatusDownloading, storage.StatusExtracting, storage.StatusCancelled}, repo.History("d1"))

			for _, st := range sink.Statuses() {
				assert.NotEqual(t, "Extracted 5 of 5 files", st.Message)
			}

			installDir := filepath.Join(gamesDir, "space-game")
			assert.NoFileExists(t, filepath.Join(installDir, "space-game"+PartialSuffix))
			assert.NoFileExists(t, filepath.Join(installDir, GameInfoFile))
		})
	}
}

func TestManager_StartAfterCancelWaitsForPreviousAttempt(t *testing.T) {
	data := buildArchive(t, 0, map[string]string{"game.exe": "MZ" + noise(600)})
	fetcher := &gatedFetcher{data: data, chunk: 100, gate: make(chan struct{})}
	sink := newRecordingSink()
	m, _ := newTestManager(t, fetcher, sink)

	require.NoError(t, m.Start(context.Background(), request("d1")))

	fetcher.gate <- struct{}{}
	waitProgress(t, sink)

	require.NoError(t, m.Cancel(context.Background(), "d1"))
	require.NoError(t, m.Start(context.Background(), request("d1")))

	assert.Contains(t, m.PartialFiles(), filepath.Join(m.gamesDir, "space-game", "space-game"+PartialSuffix))

	close(fetcher.gate)

	first, ok := waitTerminal(t, sink).(Failed)
	require.True(t, ok)
	assert.True(t, first.Cancelled)

	require.IsType(t, Completed{}, waitTerminal(t, sink))
	assert.Equal(t, []int64{0, 0}, fetcher.Offsets())
}

func TestManager_StartErrors(t *testing.T) {
	fetcher := &gatedFetcher{data: buildArchive(t, 0, map[string]string{"game.exe": "MZ"}), chunk: 100, gate: make(chan struct{})}
	m, _ := newTestManager(t, fetcher, newRecordingSink())

	require.NoError(t, m.Start(context.Background(), request("d1")))

	err := m.Start(context.Background(), request("d1"))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Same display name means the same destination directory.
	err = m.Start(context.Background(), request("d2"))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = m.Start(context.Background(), Request{ID: "d3", GameName: "Other"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), "game_id")
	assert.Contains(t, err.Error(), "url")

	close(fetcher.gate)
}

func TestManager_Failures(t *testing.T) {
	noExecutable := buildArchive(t, 0, map[string]string{"readme.txt": "hi"})

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) },
			wantErr: "HTTP 404",
		},
		{
			name:    "corrupt archive",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("not a zip at all")) },
			wantErr: "invalid archive",
		},
		{
			name: "no executable",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(noExecutable)
			},
			wantErr: ErrNoExecutable.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			sink := newRecordingSink()
			m, _ := newTestManager(t, fetch.NewClient(fetch.DefaultOptions()), sink)

			req := request("d1")
			req.URL = ts.URL
			require.NoError(t, m.Start(context.Background(), req))

			failed, ok := waitTerminal(t, sink).(Failed)
			require.True(t, ok)
			assert.False(t, failed.Paused)
			assert.False(t, failed.Cancelled)
			assert.Contains(t, failed.Error, tt.wantErr)

			info, err := m.Get("d1")
			require.NoError(t, err)
			assert.Equal(t, StateFailed, info.State)
			assert.Contains(t, info.Error, tt.wantErr)
		})
	}
}

func TestManager_RecordsHistory(t *testing.T) {
	data := buildArchive(t, 0, map[string]string{"game.exe": "MZ"})
	repo := newMemoryRepo()
	sink := newRecordingSink()
	m, _ := newTestManager(t, &gatedFetcher{data: data, chunk: 100}, sink, WithRepository(repo))

	require.NoError(t, m.Start(context.Background(), request("d1")))
	require.IsType(t, Completed{}, waitTerminal(t, sink))

	assert.Equal(t, []string{storage.StatusDownloading, storage.StatusExtracting, storage.StatusCompleted}, repo.History("d1"))
}

func TestManager_CloseStopsAttempts(t *testing.T) {
	data := buildArchive(t, 0, map[string]string{"game.exe": "MZ" + noise(600)})
	fetcher := &gatedFetcher{data: data, chunk: 100, gate: make(chan struct{})}
	sink := newRecordingSink()
	m, gamesDir := newTestManager(t, fetcher, sink)

	require.NoError(t, m.Start(context.Background(), request("d1")))

	fetcher.gate <- struct{}{}
	waitProgress(t, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.Close(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	failed, ok := waitTerminal(t, sink).(Failed)
	require.True(t, ok)
	assert.True(t, failed.Paused)

	st, err := os.Stat(filepath.Join(gamesDir, "space-game", "space-game"+PartialSuffix))
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Size())

	assert.ErrorIs(t, m.Start(context.Background(), request("d2")), ErrClosed)
}

func TestManager_List(t *testing.T) {
	fetcher := &gatedFetcher{data: buildArchive(t, 0, map[string]string{"game.exe": "MZ"}), chunk: 100, gate: make(chan struct{})}
	m, _ := newTestManager(t, fetcher, newRecordingSink())

	b := request("b")
	b.GameName = "Beta"
	a := request("a")
	a.GameName = "Alpha"

	require.NoError(t, m.Start(context.Background(), b))
	require.NoError(t, m.Start(context.Background(), a))

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].ID)
	assert.Equal(t, "b", infos[1].ID)
	assert.Len(t, m.PartialFiles(), 2)

	close(fetcher.gate)
}

// memoryRepo keeps the status history of each download.
type memoryRepo struct {
	mu      sync.Mutex
	history map[string][]string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{history: make(map[string][]string)}
}

func (r *memoryRepo) SaveDownload(_ context.Context, rec storage.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history[rec.DownloadID] = append(r.history[rec.DownloadID], storage.StatusDownloading)

	return nil
}

func (r *memoryRepo) UpdateDownloadStatus(_ context.Context, id, status, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history[id] = append(r.history[id], status)

	return nil
}

func (r *memoryRepo) CompleteDownload(_ context.Context, id, _, _ string) error {
	return r.UpdateDownloadStatus(context.Background(), id, storage.StatusCompleted, "")
}

func (r *memoryRepo) History(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.history[id]...)
}
