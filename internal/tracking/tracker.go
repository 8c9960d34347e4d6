// Package tracking implements centroid-based multi-object tracking: a
// simplified SORT that assigns persistent integer IDs to per-frame
// detections and ages out tracks that stop being observed.
package tracking

import (
	"image"
	"math"
	"sort"
	"sync"
)

// Config holds the tracker thresholds.
type Config struct {
	// MaxDisappeared is how many consecutive frames a track may go
	// unmatched before it is deregistered.
	MaxDisappeared int
	// MaxDistance is the largest centroid distance (pixels) accepted for
	// an association.
	MaxDistance float64
}

// DefaultConfig returns the stock tracker thresholds.
func DefaultConfig() Config {
	return Config{
		MaxDisappeared: 20,
		MaxDistance:    80,
	}
}

// Track is the externally visible state of one tracked identity.
type Track struct {
	ID           int
	Centroid     image.Point
	MissedFrames int
}

// Tracker associates per-frame detections into persistent identities.
// The processing pipeline is the only mutator, but the status API reads
// concurrently, so access is guarded.
type Tracker struct {
	mu          sync.Mutex
	config      Config
	nextID      int
	centroids   map[int]image.Point
	disappeared map[int]int
}

// New creates a tracker with the given thresholds.
func New(config Config) *Tracker {
	return &Tracker{
		config:      config,
		centroids:   make(map[int]image.Point),
		disappeared: make(map[int]int),
	}
}

// Centroid returns the midpoint of a detection box. Degenerate boxes still
// produce a valid centroid.
func Centroid(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

func (t *Tracker) register(c image.Point) {
	t.centroids[t.nextID] = c
	t.disappeared[t.nextID] = 0
	t.nextID++
}

func (t *Tracker) deregister(id int) {
	delete(t.centroids, id)
	delete(t.disappeared, id)
}

// markMissed ages a track by one frame and deregisters it once it exceeds
// the disappearance threshold.
func (t *Tracker) markMissed(id int) {
	t.disappeared[id]++
	if t.disappeared[id] > t.config.MaxDisappeared {
		t.deregister(id)
	}
}

// Update consumes one frame of detection boxes and returns the current
// id -> centroid map. The returned map is a snapshot; callers may retain it.
//
// Assignment is greedy nearest-neighbor: candidate (track, detection) pairs
// are processed in ascending distance order and committed only while both
// ends are unclaimed and the distance is within MaxDistance. Ties are
// broken by original detection index, then by track ID, so identical
// inputs always produce identical assignments.
func (t *Tracker) Update(boxes []image.Rectangle) map[int]image.Point {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(boxes) == 0 {
		for _, id := range t.sortedIDs() {
			t.markMissed(id)
		}
		return t.snapshot()
	}

	inputCentroids := make([]image.Point, len(boxes))
	for i, box := range boxes {
		inputCentroids[i] = Centroid(box)
	}

	if len(t.centroids) == 0 {
		for _, c := range inputCentroids {
			t.register(c)
		}
		return t.snapshot()
	}

	ids := t.sortedIDs()

	type candidate struct {
		trackID int
		detIdx  int
		dist    float64
	}
	pairs := make([]candidate, 0, len(ids)*len(inputCentroids))
	for _, id := range ids {
		tc := t.centroids[id]
		for di, dc := range inputCentroids {
			dx := float64(tc.X - dc.X)
			dy := float64(tc.Y - dc.Y)
			pairs = append(pairs, candidate{id, di, math.Hypot(dx, dy)})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		if pairs[i].detIdx != pairs[j].detIdx {
			return pairs[i].detIdx < pairs[j].detIdx
		}
		return pairs[i].trackID < pairs[j].trackID
	})

	usedTracks := make(map[int]bool, len(ids))
	usedDets := make(map[int]bool, len(inputCentroids))
	for _, p := range pairs {
		if p.dist > t.config.MaxDistance {
			break
		}
		if usedTracks[p.trackID] || usedDets[p.detIdx] {
			continue
		}
		t.centroids[p.trackID] = inputCentroids[p.detIdx]
		t.disappeared[p.trackID] = 0
		usedTracks[p.trackID] = true
		usedDets[p.detIdx] = true
	}

	for _, id := range ids {
		if !usedTracks[id] {
			t.markMissed(id)
		}
	}
	for di, c := range inputCentroids {
		if !usedDets[di] {
			t.register(c)
		}
	}

	return t.snapshot()
}

// sortedIDs returns the active track IDs in ascending order. Map iteration
// order is random, so every pass over tracks goes through this.
func (t *Tracker) sortedIDs() []int {
	ids := make([]int, 0, len(t.centroids))
	for id := range t.centroids {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (t *Tracker) snapshot() map[int]image.Point {
	out := make(map[int]image.Point, len(t.centroids))
	for id, c := range t.centroids {
		out[id] = c
	}
	return out
}

// ActiveCount returns the number of currently tracked identities.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.centroids)
}

// Tracks returns the full state of all active tracks, ordered by ID.
func (t *Tracker) Tracks() []Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Track, 0, len(t.centroids))
	for _, id := range t.sortedIDs() {
		out = append(out, Track{
			ID:           id,
			Centroid:     t.centroids[id],
			MissedFrames: t.disappeared[id],
		})
	}
	return out
}

// Reset drops all tracks. ID allocation continues from where it left off;
// IDs are never reused within a tracker's lifetime.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.centroids = make(map[int]image.Point)
	t.disappeared = make(map[int]int)
}
