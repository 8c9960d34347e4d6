// Package counting converts tracked centroid trajectories into directional
// line-crossing events. Each track carries a small zone state machine: a
// crossing is counted only when a track moves from one decisive side of
// the counting line to the other, with the buffer band in between acting
// as a debounce so jitter on the line never double-counts.
package counting

import (
	"image"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/footfall.report/internal/geometry"
)

// maxHistory bounds the per-track trajectory history kept for direction
// diagnostics.
const maxHistory = 30

// Direction is the polarity of a counted crossing.
type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

// Counts is the running entry/exit tally. Occupancy is derived and may go
// negative, which is a legitimate signal of miscounted footage rather than
// an error.
type Counts struct {
	Entries uint64 `json:"entries"`
	Exits   uint64 `json:"exits"`
}

// Occupancy returns entries minus exits.
func (c Counts) Occupancy() int64 {
	return int64(c.Entries) - int64(c.Exits)
}

// Crossing describes one counted (or vetoed) line crossing.
type Crossing struct {
	TrackID   int
	Direction Direction
	Centroid  image.Point
	From      geometry.Side
	To        geometry.Side
	Staff     bool // true when the staff filter vetoed the count
	Time      time.Time
}

// StaffFilter classifies whether the person at a point in a frame is store
// staff. A nil filter or a classification error is fail-open: the crossing
// is counted as a customer.
type StaffFilter interface {
	Classify(frame image.Image, pt image.Point) (isStaff bool, confidence float64, err error)
}

// ZoneState is the per-track state machine. LastDecisive only ever holds a
// decisive side (or SideNone before the first decisive observation); buffer
// observations update LastZone but never LastDecisive.
type ZoneState struct {
	LastZone     geometry.Side
	LastDecisive geometry.Side
	history      []image.Point
}

// Counter owns the entry/exit counts and per-track zone state. It is
// mutated only through Update, which the single-consumer processing loop
// calls once per frame; the mutex is for the status API's reads.
type Counter struct {
	mu     sync.Mutex
	engine *geometry.Engine
	filter StaffFilter
	states map[int]*ZoneState
	counts Counts

	// OnCrossing, when set, is invoked for every crossing including
	// staff-vetoed ones. Must not retain the frame.
	OnCrossing func(Crossing)

	now func() time.Time
}

// New creates a counter for the given geometry. The staff filter may be nil.
func New(engine *geometry.Engine, filter StaffFilter) *Counter {
	return &Counter{
		engine: engine,
		filter: filter,
		states: make(map[int]*ZoneState),
		now:    time.Now,
	}
}

// Update consumes one frame of tracked centroids, fires crossing events,
// and returns the updated counts snapshot. The frame is only used for the
// staff filter and may be nil.
func (c *Counter) Update(tracked map[int]image.Point, frame image.Image) Counts {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, centroid := range tracked {
		side := c.engine.Classify(centroid)

		state, ok := c.states[id]
		if !ok {
			// First sighting: record the zone but never count. There is
			// no prior decisive zone to cross from.
			state = &ZoneState{LastZone: side, LastDecisive: geometry.SideNone}
			c.states[id] = state
		}
		state.LastZone = side
		state.history = append(state.history, centroid)
		if len(state.history) > maxHistory {
			state.history = state.history[len(state.history)-maxHistory:]
		}

		if side != geometry.SideA && side != geometry.SideB {
			// Buffer observations never touch LastDecisive: this is the
			// debounce that keeps a centroid hovering on the line from
			// counting repeatedly.
			continue
		}
		if side == state.LastDecisive {
			continue
		}
		if state.LastDecisive != geometry.SideNone {
			c.count(id, centroid, state.LastDecisive, side, frame)
		}
		state.LastDecisive = side
	}

	// Tracks absent from this update have been deregistered upstream;
	// drop their zone state on the same call.
	for id := range c.states {
		if _, ok := tracked[id]; !ok {
			delete(c.states, id)
		}
	}

	return c.counts
}

// count applies the polarity rules and the optional staff veto, then
// increments the tally and notifies the crossing sink.
func (c *Counter) count(id int, centroid image.Point, from, to geometry.Side, frame image.Image) {
	dir := DirectionEntry
	if to == geometry.SideA {
		dir = DirectionExit
	}
	if c.engine.Line().EntryInverted() {
		if dir == DirectionEntry {
			dir = DirectionExit
		} else {
			dir = DirectionEntry
		}
	}

	staff := false
	if c.filter != nil && frame != nil {
		isStaff, _, err := c.filter.Classify(frame, centroid)
		// Fail-open: a broken classifier degrades accuracy, not
		// availability, so only a clean positive vetoes the count.
		staff = err == nil && isStaff
	}

	if !staff {
		switch dir {
		case DirectionEntry:
			c.counts.Entries++
		case DirectionExit:
			c.counts.Exits++
		}
	}

	if c.OnCrossing != nil {
		c.OnCrossing(Crossing{
			TrackID:   id,
			Direction: dir,
			Centroid:  centroid,
			From:      from,
			To:        to,
			Staff:     staff,
			Time:      c.now(),
		})
	}
}

// Counts returns the current tally snapshot.
func (c *Counter) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts
}

// TrackZone returns the zone state for a track, if it is known.
func (c *Counter) TrackZone(id int) (ZoneState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[id]
	if !ok {
		return ZoneState{}, false
	}
	return ZoneState{LastZone: state.LastZone, LastDecisive: state.LastDecisive}, true
}

// ActiveStates returns the number of tracks with zone state.
func (c *Counter) ActiveStates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

// Reset clears the counts and all per-track state.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = Counts{}
	c.states = make(map[int]*ZoneState)
}

// Trend reports the mean vertical drift of a track across its recent
// history: negative values move toward smaller y. Surfaced on the tracks
// API as an overlay diagnostic; never consulted for counting decisions.
func (c *Counter) Trend(id int) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[id]
	if !ok || len(state.history) < 2 {
		return 0, false
	}
	n := len(state.history)
	third := n / 3
	if third == 0 {
		third = 1
	}
	headY := make([]float64, 0, third)
	tailY := make([]float64, 0, third)
	for _, p := range state.history[:third] {
		headY = append(headY, float64(p.Y))
	}
	for _, p := range state.history[n-third:] {
		tailY = append(tailY, float64(p.Y))
	}
	return stat.Mean(tailY, nil) - stat.Mean(headY, nil), true
}
