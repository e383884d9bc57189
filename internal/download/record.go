package download

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle position of a download.
type State string

const (
	StatePending     State = "pending"
	StateDownloading State = "downloading"
	StatePaused      State = "paused"
	StateExtracting  State = "extracting"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Request describes a download to start.
type Request struct {
	ID        string `json:"download_id"`
	GameID    string `json:"game_id"`
	GameName  string `json:"game_name"`
	GameCover string `json:"game_cover,omitempty"`
	URL       string `json:"url"`
	Version   string `json:"version,omitempty"`
}

// Validate reports missing required fields.
func (r Request) Validate() error {
	var missing []string

	for _, f := range []struct{ name, value string }{
		{"download_id", r.ID},
		{"game_id", r.GameID},
		{"game_name", r.GameName},
		{"url", r.URL},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	return nil
}

// Info is a point-in-time view of a registered download.
type Info struct {
	Request

	Downloaded int64     `json:"downloaded"`
	Total      int64     `json:"total"`
	Percentage float64   `json:"percentage"`
	State      State     `json:"status"`
	Paused     bool      `json:"paused"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// attempt is one run of the transfer. Pause and cancel set stop; the
// transfer loop polls it once per received chunk.
type attempt struct {
	stop atomic.Bool
	done chan struct{}
}

func newAttempt() *attempt {
	return &attempt{done: make(chan struct{})}
}

func (a *attempt) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// record is the shared state of one download. mu guards the counters and is
// never held across I/O.
type record struct {
	req     Request
	dir     string
	partial string

	cancelled atomic.Bool

	mu         sync.Mutex
	downloaded int64
	total      int64
	startedAt  time.Time
	state      State
	lastErr    string
	current    *attempt
}

func newRecord(req Request, dir, partial string, offset int64) *record {
	return &record{
		req:        req,
		dir:        dir,
		partial:    partial,
		downloaded: offset,
		startedAt:  time.Now(),
		state:      StatePending,
	}
}

// swap installs a fresh attempt and returns the previous one.
func (r *record) swap(a *attempt) *attempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current
	r.current = a
	r.state = StatePending
	r.lastErr = ""
	r.startedAt = time.Now()

	return prev
}

func (r *record) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.current.stop.Store(true)
	}
}

// active reports whether an attempt is running and has not been asked to stop.
func (r *record) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.current != nil && !r.current.stop.Load() && !r.current.finished()
}

// begin anchors counters and timing for an attempt starting at offset.
func (r *record) begin(offset, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.downloaded = offset
	r.total = total
	r.startedAt = time.Now()
	r.state = StateDownloading
}

func (r *record) add(n int) (downloaded, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.downloaded += int64(n)

	return r.downloaded, r.total
}

// settle fixes an undetermined total to the received byte count.
func (r *record) settle() (downloaded, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.total == 0 {
		r.total = r.downloaded
	}

	return r.downloaded, r.total
}

func (r *record) setState(s State, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = s
	r.lastErr = errMsg
}

func (r *record) getState() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *record) snapshot() Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := Info{
		Request:    r.req,
		Downloaded: r.downloaded,
		Total:      r.total,
		State:      r.state,
		Error:      r.lastErr,
		StartedAt:  r.startedAt,
	}

	if r.total > 0 {
		info.Percentage = float64(r.downloaded) / float64(r.total) * 100
	}

	if r.current != nil && r.current.stop.Load() && r.state != StateCompleted {
		info.Paused = true
		if r.state == StatePending || r.state == StateDownloading {
			info.State = StatePaused
		}
	}

	return info
}
