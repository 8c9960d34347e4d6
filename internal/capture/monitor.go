package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/footfall.report/internal/monitoring"
)

// MonitorConfig controls segment-file stabilization detection.
type MonitorConfig struct {
	// Dir is the segment output directory.
	Dir string
	// Ext is the segment container extension without the dot, e.g. "mp4".
	Ext string
	// PollInterval is the spacing of stability checks; a file whose size
	// is unchanged across one interval is considered complete.
	PollInterval time.Duration
	// MinBytes rejects stub files the encoder created but never filled.
	MinBytes int64
}

// DefaultMonitorConfig returns the stock monitor settings for a directory.
func DefaultMonitorConfig(dir string) MonitorConfig {
	return MonitorConfig{
		Dir:          dir,
		Ext:          "mp4",
		PollInterval: 10 * time.Second,
		MinBytes:     100_000,
	}
}

// FolderMonitor watches the segment directory and appends a heartbeat
// entry once a segment file stabilizes: present on two consecutive polls
// with an unchanged size at or above the minimum. fsnotify events wake the
// scan early; the periodic rescan is the backstop when events are lost or
// the watcher cannot be created.
type FolderMonitor struct {
	config MonitorConfig
	log    *HeartbeatLog

	mu     sync.Mutex
	sizes  map[string]int64
	logged map[string]bool

	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// NewFolderMonitor creates a monitor; nothing runs until Start.
func NewFolderMonitor(config MonitorConfig, log *HeartbeatLog) *FolderMonitor {
	return &FolderMonitor{
		config: config,
		log:    log,
		sizes:  make(map[string]int64),
		logged: make(map[string]bool),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start begins watching. The directory must exist.
func (m *FolderMonitor) Start() error {
	if _, err := os.Stat(m.config.Dir); err != nil {
		return fmt.Errorf("capture: segment dir: %w", err)
	}

	m.wg.Add(1)
	go m.run(segmentWatcher(m.config.Dir))
	return nil
}

// segmentWatcher returns a watcher on dir, or nil when fsnotify is
// unavailable. A watcher that cannot watch dir is closed before the
// fallback so it does not leak its handle.
func segmentWatcher(dir string) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(dir)
	}
	if err != nil {
		// Degraded mode: polling alone still detects every segment, just
		// up to one interval later.
		monitoring.Logf("monitor: fsnotify unavailable, polling only: %v", err)
		if watcher != nil {
			watcher.Close()
		}
		return nil
	}
	return watcher
}

func (m *FolderMonitor) run(watcher *fsnotify.Watcher) {
	defer m.wg.Done()
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-m.stop:
			return
		case ev := <-events:
			// A write to an older segment means the encoder has moved
			// on; note the current size so the next tick can confirm
			// stability.
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
				m.observe(ev.Name)
			}
		case err := <-errs:
			if err != nil {
				monitoring.Logf("monitor: watch error: %v", err)
			}
		case <-ticker.C:
			if err := m.Scan(); err != nil {
				monitoring.Logf("monitor: scan failed: %v", err)
			}
		}
	}
}

// isSegment reports whether a basename looks like an encoder segment file.
func (m *FolderMonitor) isSegment(name string) bool {
	return strings.HasPrefix(name, "segment_") && strings.HasSuffix(name, "."+m.config.Ext)
}

// observe records the current size of a candidate without logging it.
func (m *FolderMonitor) observe(path string) {
	name := filepath.Base(path)
	if !m.isSegment(name) {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return // likely mid-rename, the next scan will see it
	}
	m.mu.Lock()
	if !m.logged[name] {
		m.sizes[name] = info.Size()
	}
	m.mu.Unlock()
}

// Scan walks the directory once, promoting stabilized segments into the
// heartbeat log. Exported so tests and the main loop can force a pass.
func (m *FolderMonitor) Scan() error {
	dirEntries, err := os.ReadDir(m.config.Dir)
	if err != nil {
		return fmt.Errorf("capture: list segment dir: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	present := make(map[string]bool, len(dirEntries))
	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !m.isSegment(de.Name()) {
			continue
		}
		present[de.Name()] = true
		names = append(names, de.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if m.logged[name] {
			continue
		}
		info, err := os.Stat(filepath.Join(m.config.Dir, name))
		if err != nil {
			continue // file vanished between readdir and stat
		}
		size := info.Size()
		prev, seen := m.sizes[name]
		if seen && prev == size && size >= m.config.MinBytes {
			if err := m.log.AppendSegment(name, m.now()); err != nil {
				monitoring.Logf("monitor: heartbeat append failed for %s: %v", name, err)
				continue
			}
			m.logged[name] = true
			delete(m.sizes, name)
			monitoring.Logf("monitor: segment ready: %s (%d bytes)", name, size)
			continue
		}
		m.sizes[name] = size
	}

	// Forget files that no longer exist so the bookkeeping stays bounded.
	for name := range m.logged {
		if !present[name] {
			delete(m.logged, name)
		}
	}
	for name := range m.sizes {
		if !present[name] {
			delete(m.sizes, name)
		}
	}
	return nil
}

// Stop halts the monitor loop and waits for it to exit.
func (m *FolderMonitor) Stop() {
	select {
	case <-m.stop:
		return
	default:
	}
	close(m.stop)
	m.wg.Wait()
}
