package progress

import "time"

// Snapshot is one computed progress sample.
type Snapshot struct {
	Downloaded int64
	Total      int64
	Percentage float64
	// Speed is bytes per second over the current attempt only.
	Speed float64
	// ETA is the estimated number of seconds left, 0 when unknown.
	ETA float64
}

// Tracker turns cumulative byte counts into throttled progress samples.
// It is not safe for concurrent use; one attempt owns one Tracker.
type Tracker struct {
	interval    time.Duration
	startOffset int64
	startedAt   time.Time
	now         func() time.Time

	lastEmit     time.Time
	lastReported int64
}

type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker for an attempt that resumed at startOffset.
// Samples are emitted no more often than interval.
func NewTracker(startOffset int64, interval time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		interval:     interval,
		startOffset:  startOffset,
		now:          time.Now,
		lastReported: -1,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.startedAt = t.now()

	return t
}

// Compute derives percentage, speed and ETA without touching throttle state.
func (t *Tracker) Compute(downloaded, total int64) Snapshot {
	s := Snapshot{Downloaded: downloaded, Total: total}

	if total > 0 {
		s.Percentage = float64(downloaded) / float64(total) * 100
	}

	elapsed := t.now().Sub(t.startedAt).Seconds()
	if elapsed > 0 {
		s.Speed = float64(downloaded-t.startOffset) / elapsed
	}

	if s.Speed > 0 && total > downloaded {
		s.ETA = float64(total-downloaded) / s.Speed
	}

	return s
}

// Update returns a sample and true when the throttle interval has passed
// since the last emitted sample.
func (t *Tracker) Update(downloaded, total int64) (Snapshot, bool) {
	now := t.now()
	if !t.lastEmit.IsZero() && now.Sub(t.lastEmit) < t.interval {
		return Snapshot{}, false
	}

	return t.emit(now, downloaded, total), true
}

// Final returns the closing sample unless the last emitted one already
// reported downloaded bytes.
func (t *Tracker) Final(downloaded, total int64) (Snapshot, bool) {
	if t.lastReported == downloaded {
		return Snapshot{}, false
	}

	return t.emit(t.now(), downloaded, total), true
}

func (t *Tracker) emit(now time.Time, downloaded, total int64) Snapshot {
	t.lastEmit = now
	t.lastReported = downloaded

	return t.Compute(downloaded, total)
}
