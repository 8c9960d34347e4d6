// Package capture owns the external video-segmenting process and its
// on-disk evidence of liveness. A watchdog keeps the process alive using
// heartbeat staleness as the health signal, a folder monitor turns newly
// stabilized segment files into heartbeat entries, and a selector hands
// completed segments to the processing loop.
//
// The heartbeat log file is the single shared mutable resource between
// these loops: all access goes through HeartbeatLog under one mutex.
package capture

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// TimeFormat is the timestamp layout used throughout the heartbeat log.
const TimeFormat = "2006-01-02 15:04:05"

// HeartbeatEntry records one completed segment: a filename and the time
// the folder monitor observed it stabilize.
type HeartbeatEntry struct {
	Filename    string
	CompletedAt time.Time
}

// HeartbeatLog is the append-only log of completed segments and watchdog
// lifecycle events. Segment records have the form
//
//	filename|YYYY-MM-DD HH:MM:SS
//
// and event records the form
//
//	[YYYY-MM-DD HH:MM:SS] EVENT: message
//
// Segment entries are removed once the corresponding segment has been
// processed, so the log doubles as the work queue index and stays bounded.
type HeartbeatLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewHeartbeatLog creates a log backed by the given file path. The file is
// created lazily on first append.
func NewHeartbeatLog(path string) *HeartbeatLog {
	return &HeartbeatLog{path: path, now: time.Now}
}

// Path returns the log file path.
func (l *HeartbeatLog) Path() string { return l.path }

// AppendSegment records a completed segment. A filename appears at most
// once: re-appending an already-recorded filename is a no-op.
func (l *HeartbeatLog) AppendSegment(filename string, completedAt time.Time) error {
	if filename == "" || strings.ContainsAny(filename, "|\n") {
		return fmt.Errorf("capture: invalid segment filename %q", filename)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, _, err := l.read()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Filename == filename {
			return nil
		}
	}
	line := fmt.Sprintf("%s|%s\n", filename, completedAt.Format(TimeFormat))
	return l.append(line)
}

// AppendEvent records a watchdog lifecycle event for post-hoc diagnosis.
func (l *HeartbeatLog) AppendEvent(message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("[%s] EVENT: %s\n", l.now().Format(TimeFormat), message)
	return l.append(line)
}

func (l *HeartbeatLog) append(line string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("capture: open heartbeat log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("capture: append heartbeat log: %w", err)
	}
	return nil
}

// Entries returns the segment records in arrival order. A missing log file
// yields an empty slice; malformed lines are skipped rather than escalated.
func (l *HeartbeatLog) Entries() ([]HeartbeatEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, _, err := l.read()
	return entries, err
}

// LatestHeartbeat returns the newest segment completion timestamp, if any
// segment entry exists.
func (l *HeartbeatLog) LatestHeartbeat() (time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, _, err := l.read()
	if err != nil || len(entries) == 0 {
		return time.Time{}, false, err
	}
	latest := entries[0].CompletedAt
	for _, e := range entries[1:] {
		if e.CompletedAt.After(latest) {
			latest = e.CompletedAt
		}
	}
	return latest, true, nil
}

// RemoveSegment deletes the record for a processed segment, preserving all
// other lines (including event records) in order. Removing an unknown
// filename is a no-op.
func (l *HeartbeatLog) RemoveSegment(filename string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, lines, err := l.read()
	if err != nil {
		return err
	}
	kept := make([]string, 0, len(lines))
	prefix := filename + "|"
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == len(lines) {
		return nil
	}

	var b strings.Builder
	for _, line := range kept {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	// Rewrite through a temp file so a crash mid-write never truncates
	// the log to a half-written state.
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("capture: rewrite heartbeat log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("capture: replace heartbeat log: %w", err)
	}
	return nil
}

// read loads all lines plus the parsed segment entries. Callers must hold
// the mutex.
func (l *HeartbeatLog) read() ([]HeartbeatEntry, []string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("capture: read heartbeat log: %w", err)
	}
	defer f.Close()

	var entries []HeartbeatEntry
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if strings.HasPrefix(line, "[") {
			continue // event record
		}
		name, ts, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		completed, err := time.ParseInLocation(TimeFormat, ts, time.Local)
		if err != nil {
			continue
		}
		entries = append(entries, HeartbeatEntry{Filename: name, CompletedAt: completed})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("capture: scan heartbeat log: %w", err)
	}
	return entries, lines, nil
}
