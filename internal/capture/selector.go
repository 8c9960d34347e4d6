package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Selector yields completed segments to the processing loop, oldest first.
// A segment qualifies once its heartbeat entry is older than the maturity
// threshold, which protects against reading a file the encoder is still
// finalizing. Selection is atomic with respect to the monitor's appends
// and to concurrent Next calls: the same segment is never handed out
// twice.
type Selector struct {
	log      *HeartbeatLog
	dir      string
	maturity time.Duration

	mu       sync.Mutex
	inflight map[string]bool
	now      func() time.Time
}

// NewSelector creates a selector over the given heartbeat log and segment
// directory.
func NewSelector(log *HeartbeatLog, dir string, maturity time.Duration) *Selector {
	return &Selector{
		log:      log,
		dir:      dir,
		maturity: maturity,
		inflight: make(map[string]bool),
		now:      time.Now,
	}
}

// Next returns the path of the oldest mature segment not already handed
// out, or ok=false when none qualify. The caller owns the segment until it
// calls MarkProcessed or Release.
func (s *Selector) Next() (path string, ok bool, err error) {
	entries, err := s.log.Entries()
	if err != nil {
		return "", false, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if s.inflight[e.Filename] {
			continue
		}
		if now.Sub(e.CompletedAt) < s.maturity {
			// Entries arrive in completion order; everything after this
			// one is younger still.
			break
		}
		s.inflight[e.Filename] = true
		return filepath.Join(s.dir, e.Filename), true, nil
	}
	return "", false, nil
}

// MarkProcessed removes the segment's heartbeat entry and releases the
// in-flight claim. Call after the segment is fully processed (or
// discarded) so it is never handed out again and the log stays bounded.
func (s *Selector) MarkProcessed(path string) error {
	name := filepath.Base(path)
	if err := s.log.RemoveSegment(name); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.inflight, name)
	s.mu.Unlock()
	return nil
}

// Release returns an unprocessed segment to the pool, for transient
// failures where a retry on a later pass may succeed.
func (s *Selector) Release(path string) {
	s.mu.Lock()
	delete(s.inflight, filepath.Base(path))
	s.mu.Unlock()
}

// Pending returns how many segment entries await processing.
func (s *Selector) Pending() (int, error) {
	entries, err := s.log.Entries()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// CleanupSegments deletes the oldest segment files beyond the retention
// count, never touching files the selector still has a claim on or that
// remain queued in the heartbeat log. Returns the number removed.
func (s *Selector) CleanupSegments(ext string, keep int) (int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("capture: list segment dir: %w", err)
	}

	queued := make(map[string]bool)
	entries, err := s.log.Entries()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		queued[e.Filename] = true
	}

	var names []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || filepath.Ext(name) != "."+ext {
			continue
		}
		names = append(names, name)
	}
	if len(names) <= keep {
		return 0, nil
	}
	// ReadDir returns names sorted, and segment files sort by sequence
	// number, so the head of the list is the oldest.
	removed := 0
	for _, name := range names[:len(names)-keep] {
		s.mu.Lock()
		claimed := s.inflight[name]
		s.mu.Unlock()
		if claimed || queued[name] {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}
