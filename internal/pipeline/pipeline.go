// Package pipeline runs the segment consumer loop: it pulls completed
// video segments from the selector, decodes frames, feeds detections
// through the tracker and counter, and records per-segment summaries.
// The loop is the single consumer, so tracker and counter state is only
// ever mutated from one goroutine.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/footfall.report/internal/capture"
	"github.com/banshee-data/footfall.report/internal/counting"
	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/tracking"
)

// ErrSegmentMalformed marks a segment that cannot be decoded at all. The
// loop discards the file and moves on; it is never fatal.
var ErrSegmentMalformed = errors.New("segment malformed")

// Detection is one detector hit in ROI-local coordinates.
type Detection struct {
	Box        image.Rectangle
	Confidence float64
}

// Detector locates people in a frame. Implementations may be slow; the
// processor calls it at the configured frame-skip rate only.
type Detector interface {
	Detect(frame image.Image) ([]Detection, error)
}

// FrameSource yields decoded frames from one segment. Next returns
// io.EOF when the segment is exhausted.
type FrameSource interface {
	Next() (image.Image, error)
	Close() error
}

// SourceOpener opens a segment file for decoding.
type SourceOpener func(path string) (FrameSource, error)

// SegmentRecorder persists per-segment summaries. *countdb.DB satisfies
// it; nil disables persistence.
type SegmentRecorder interface {
	RecordSegment(sessionID, filename string, entries, exits uint64, frames int, processedAt time.Time) error
}

// Config tunes the consumer loop.
type Config struct {
	// FrameSkip runs the detector every Nth frame; detections are held
	// over the skipped frames. Must be >= 1.
	FrameSkip int
	// MinConfidence drops detector hits below this score.
	MinConfidence float64
	// PollInterval is how often the loop asks the selector for work.
	PollInterval time.Duration
	// SessionID tags recorded summaries.
	SessionID string
}

// Summary describes one processed segment.
type Summary struct {
	Filename string
	Frames   int
	Entries  uint64
	Exits    uint64
}

// Processor is the consumer loop.
type Processor struct {
	cfg      Config
	open     SourceOpener
	detector Detector
	tracker  *tracking.Tracker
	counter  *counting.Counter
	selector *capture.Selector
	log      *capture.HeartbeatLog
	store    SegmentRecorder

	mu        sync.Mutex
	processed int

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// New wires a processor. store may be nil.
func New(cfg Config, open SourceOpener, detector Detector, tracker *tracking.Tracker, counter *counting.Counter, selector *capture.Selector, log *capture.HeartbeatLog, store SegmentRecorder) (*Processor, error) {
	if cfg.FrameSkip < 1 {
		return nil, fmt.Errorf("pipeline: frame skip must be >= 1, got %d", cfg.FrameSkip)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Processor{
		cfg:      cfg,
		open:     open,
		detector: detector,
		tracker:  tracker,
		counter:  counter,
		selector: selector,
		log:      log,
		store:    store,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start launches the consumer loop.
func (p *Processor) Start() {
	go p.run()
}

// Stop halts the loop after the current segment finishes.
func (p *Processor) Stop() {
	select {
	case <-p.stop:
		return
	default:
		close(p.stop)
	}
	<-p.done
}

// SegmentsProcessed reports how many segments the loop has consumed,
// including discarded ones.
func (p *Processor) SegmentsProcessed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

func (p *Processor) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.drain()
		}
	}
}

// drain processes every mature segment currently queued, oldest first.
func (p *Processor) drain() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		path, ok, err := p.selector.Next()
		if err != nil {
			monitoring.Logf("pipeline: select segment: %v", err)
			return
		}
		if !ok {
			return
		}
		p.consume(path)
	}
}

// consume processes one segment end to end and retires it. Malformed
// segments are discarded; both outcomes remove the file and its
// heartbeat entry so the segment is never handed out again.
func (p *Processor) consume(path string) {
	name := filepath.Base(path)
	summary, err := p.ProcessSegment(path)
	if err != nil {
		if errors.Is(err, ErrSegmentMalformed) {
			monitoring.Logf("pipeline: discarding %s: %v", name, err)
			if logErr := p.log.AppendEvent(fmt.Sprintf("DISCARD: %s unreadable", name)); logErr != nil {
				monitoring.Logf("pipeline: log discard event: %v", logErr)
			}
			p.retire(path)
			return
		}
		// Transient: leave the entry queued for a later pass.
		monitoring.Logf("pipeline: processing %s failed, will retry: %v", name, err)
		p.selector.Release(path)
		return
	}

	monitoring.Logf("pipeline: processed %s: %d frames, %d entries, %d exits",
		name, summary.Frames, summary.Entries, summary.Exits)
	if p.store != nil {
		err := p.store.RecordSegment(p.cfg.SessionID, name, summary.Entries, summary.Exits, summary.Frames, p.now())
		if err != nil {
			monitoring.Logf("pipeline: record segment summary: %v", err)
		}
	}
	p.retire(path)
}

func (p *Processor) retire(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		monitoring.Logf("pipeline: remove segment file: %v", err)
	}
	if err := p.selector.MarkProcessed(path); err != nil {
		monitoring.Logf("pipeline: mark processed: %v", err)
	}
	p.mu.Lock()
	p.processed++
	p.mu.Unlock()
}

// ProcessSegment decodes one segment and runs detection, tracking and
// counting over its frames. A segment that yields no frames at all is
// malformed; a decode error after at least one good frame truncates the
// segment but keeps its counts.
func (p *Processor) ProcessSegment(path string) (Summary, error) {
	src, err := p.open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: open %s: %v", ErrSegmentMalformed, filepath.Base(path), err)
	}
	defer src.Close()

	before := p.counter.Counts()
	summary := Summary{Filename: filepath.Base(path)}
	var held []image.Rectangle

	for {
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if summary.Frames == 0 {
				return Summary{}, fmt.Errorf("%w: decode %s: %v", ErrSegmentMalformed, filepath.Base(path), err)
			}
			monitoring.Logf("pipeline: %s truncated after %d frames: %v", filepath.Base(path), summary.Frames, err)
			break
		}

		if summary.Frames%p.cfg.FrameSkip == 0 {
			detections, err := p.detector.Detect(frame)
			if err != nil {
				// Hold the previous boxes; a flaky detector degrades
				// accuracy, not availability.
				monitoring.Logf("pipeline: detector failed on frame %d: %v", summary.Frames, err)
			} else {
				held = held[:0]
				for _, d := range detections {
					if d.Confidence >= p.cfg.MinConfidence {
						held = append(held, d.Box)
					}
				}
			}
		}

		tracked := p.tracker.Update(held)
		p.counter.Update(tracked, frame)
		summary.Frames++

		select {
		case <-p.stop:
			// Shutdown mid-segment: report what was counted so far.
			after := p.counter.Counts()
			summary.Entries = after.Entries - before.Entries
			summary.Exits = after.Exits - before.Exits
			return summary, nil
		default:
		}
	}

	if summary.Frames == 0 {
		return Summary{}, fmt.Errorf("%w: %s contains no frames", ErrSegmentMalformed, filepath.Base(path))
	}

	after := p.counter.Counts()
	summary.Entries = after.Entries - before.Entries
	summary.Exits = after.Exits - before.Exits
	return summary, nil
}
