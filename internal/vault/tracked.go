package vault

import (
	"sync"
	"time"
)

// DefaultTrackWindow is how long a tracked write stays claimable by the
// watcher before it expires.
const DefaultTrackWindow = 2 * time.Second

// Tracker remembers paths the engine itself has just written so the watcher
// can tell its own rewrites apart from external edits. Marks expire after a
// short window; claiming a mark consumes it.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	recent map[string]time.Time // rel path → expiry
}

// NewTracker creates a Tracker. window <= 0 selects DefaultTrackWindow.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultTrackWindow
	}
	return &Tracker{window: window, recent: make(map[string]time.Time)}
}

// Mark records that rel is about to be written by the engine.
func (t *Tracker) Mark(rel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recent[rel] = time.Now().Add(t.window)
}

// Claim reports whether rel carries an unexpired mark and consumes it.
func (t *Tracker) Claim(rel string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	expiry, ok := t.recent[rel]
	if !ok {
		return false
	}
	delete(t.recent, rel)
	return time.Now().Before(expiry)
}

// TrackedFS is a Writer that marks every write in a Tracker before handing
// it to the underlying FS. The mark lands before the write so the watcher
// cannot observe the event first.
type TrackedFS struct {
	fs      *FS
	tracker *Tracker
}

var _ Writer = (*TrackedFS)(nil)

// NewTrackedFS wraps fs with write tracking.
func NewTrackedFS(fs *FS, tracker *Tracker) *TrackedFS {
	return &TrackedFS{fs: fs, tracker: tracker}
}

// Write marks rel as engine-written, then writes through.
func (t *TrackedFS) Write(rel string, data []byte) error {
	t.tracker.Mark(rel)
	return t.fs.Write(rel, data)
}
