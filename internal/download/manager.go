// Package download runs resumable game downloads. Each download streams into
// a partial file inside its game directory; the length of that file is the
// only resume checkpoint. Pause and cancel are cooperative: the transfer loop
// observes them at the next chunk boundary.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Vic92548/vapr-companion/internal/fetch"
	"github.com/Vic92548/vapr-companion/internal/logctx"
	"github.com/Vic92548/vapr-companion/internal/storage"
	"github.com/Vic92548/vapr-companion/internal/telemetry"
)

// Fetcher opens a transfer starting at offset.
type Fetcher interface {
	Get(ctx context.Context, url string, offset int64) (*fetch.Response, error)
}

// Manager is the registry of downloads and the single owner of their state.
type Manager struct {
	gamesDir           string
	fetcher            Fetcher
	sink               Sink
	repo               storage.DownloadWriteRepository
	telemetry          *telemetry.Telemetry
	locator            Locator
	progressInterval   time.Duration
	extractStatusEvery int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	downloads map[string]*record
	// releasing holds attempts of cancelled downloads that have not exited
	// yet, keyed by partial file path.
	releasing map[string]*attempt
}

type Option func(*Manager)

// WithRepository records download history through repo.
func WithRepository(repo storage.DownloadWriteRepository) Option {
	return func(m *Manager) {
		m.repo = repo
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(m *Manager) {
		m.telemetry = t
	}
}

func WithLocator(l Locator) Option {
	return func(m *Manager) {
		m.locator = l
	}
}

// WithProgressInterval sets the minimum time between progress events.
func WithProgressInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.progressInterval = d
	}
}

// WithExtractStatusEvery sets how many extracted entries separate status events.
func WithExtractStatusEvery(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.extractStatusEvery = n
		}
	}
}

// NewManager creates a manager installing games under gamesDir.
func NewManager(gamesDir string, fetcher Fetcher, sink Sink, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		gamesDir:           gamesDir,
		fetcher:            fetcher,
		sink:               sink,
		locator:            DefaultLocator(),
		progressInterval:   100 * time.Millisecond,
		extractStatusEvery: 10,
		ctx:                ctx,
		cancel:             cancel,
		downloads:          make(map[string]*record),
		releasing:          make(map[string]*attempt),
	}

	if m.sink == nil {
		m.sink = nopSink{}
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start registers a download and begins transferring it in the background.
// It returns once the download is registered; outcomes arrive as events.
func (m *Manager) Start(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	name := SafeName(req.GameName, req.GameID, req.ID)
	dir := filepath.Join(m.gamesDir, name)
	partial := filepath.Join(dir, name+PartialSuffix)

	offset, err := partialSize(partial)
	if err != nil {
		return err
	}

	rec := newRecord(req, dir, partial, offset)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if _, ok := m.downloads[req.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, req.ID)
	}

	for _, other := range m.downloads {
		if other.partial == partial && other.getState() != StateCompleted {
			return fmt.Errorf("%w: %s is being installed by %s", ErrAlreadyExists, dir, other.req.ID)
		}
	}

	m.downloads[req.ID] = rec
	m.launchLocked(ctx, rec, m.releasing[partial])

	return nil
}

// Pause asks the running attempt to stop at the next chunk boundary. The
// partial file is kept.
func (m *Manager) Pause(ctx context.Context, id string) error {
	rec, err := m.get(id)
	if err != nil {
		return err
	}

	rec.stop()

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download pause requested", "download_id", id)

	return nil
}

// Resume starts a new attempt from the current partial file length. It is a
// no-op while an attempt is running unpaused or after completion.
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	rec, ok := m.downloads[id]
	if !ok {
		return ErrNotFound
	}

	if rec.active() || rec.getState() == StateCompleted {
		return nil
	}

	rec.mu.Lock()
	prev := rec.current
	rec.mu.Unlock()

	m.launchLocked(ctx, rec, prev)

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download resumed", "download_id", id)

	return nil
}

// Cancel removes the download, stops its attempt and deletes the partial file.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	logger := logctx.LoggerFromContext(ctx)

	m.mu.Lock()

	rec, ok := m.downloads[id]
	if !ok {
		m.mu.Unlock()

		return ErrNotFound
	}

	delete(m.downloads, id)

	rec.cancelled.Store(true)
	rec.stop()

	rec.mu.Lock()
	if a := rec.current; a != nil && !a.finished() {
		m.releasing[rec.partial] = a
	}
	rec.mu.Unlock()

	m.mu.Unlock()

	if err := removePartial(rec.partial); err != nil {
		// The attempt may still hold the file open; it removes it again on exit.
		logger.WarnContext(ctx, "failed to remove partial file", "path", rec.partial, "err", err)
	}

	m.recordStatus(ctx, rec, storage.StatusCancelled, "")

	logger.InfoContext(ctx, "download cancelled", "download_id", id)

	return nil
}

// List returns a snapshot of every registered download ordered by id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	records := make([]*record, 0, len(m.downloads))

	for _, rec := range m.downloads {
		records = append(records, rec)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(records))
	for _, rec := range records {
		infos = append(infos, rec.snapshot())
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return infos
}

// Get returns the snapshot of one download.
func (m *Manager) Get(id string) (Info, error) {
	rec, err := m.get(id)
	if err != nil {
		return Info{}, err
	}

	return rec.snapshot(), nil
}

// PartialFiles returns the partial file paths held by registered or
// releasing downloads.
func (m *Manager) PartialFiles() map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	inUse := make(map[string]struct{}, len(m.downloads)+len(m.releasing))
	for _, rec := range m.downloads {
		inUse[rec.partial] = struct{}{}
	}

	for path := range m.releasing {
		inUse[path] = struct{}{}
	}

	return inUse
}

// Close stops every attempt and waits for them to exit. Partial files are
// kept so downloads can resume in a later process. If ctx expires first,
// in-flight requests are aborted.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true

	for _, rec := range m.downloads {
		rec.stop()
	}
	m.mu.Unlock()

	done := make(chan struct{})

	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()

		return nil
	case <-ctx.Done():
		m.cancel()
		<-done

		return ctx.Err()
	}
}

func (m *Manager) get(id string) (*record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.downloads[id]
	if !ok {
		return nil, ErrNotFound
	}

	return rec, nil
}

// launchLocked starts a new attempt for rec once prev, if any, has exited.
// m.mu must be held.
func (m *Manager) launchLocked(ctx context.Context, rec *record, prev *attempt) {
	a := newAttempt()
	rec.swap(a)

	logger := logctx.LoggerFromContext(ctx).With(
		"download_id", rec.req.ID,
		"game_id", rec.req.GameID,
	)
	attemptCtx := logctx.WithLogger(m.ctx, logger)

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer m.release(rec.partial, a)
		defer close(a.done)

		if prev != nil {
			<-prev.done
		}

		m.run(attemptCtx, rec, a)
	}()
}

func (m *Manager) release(partial string, a *attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.releasing[partial] == a {
		delete(m.releasing, partial)
	}
}

func (m *Manager) recordStatus(ctx context.Context, rec *record, status, errMsg string) {
	if m.repo == nil {
		return
	}

	if err := m.repo.UpdateDownloadStatus(ctx, rec.req.ID, status, errMsg); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record download status",
			"download_id", rec.req.ID, "status", status, "err", err)
	}
}

func partialSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to stat partial file: %w", err)
	}

	return info.Size(), nil
}

func removePartial(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}
