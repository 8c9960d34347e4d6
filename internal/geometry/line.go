// Package geometry implements the counting-line classification used by the
// people counter. A configured line (horizontal or angular) is reduced once
// to a half-plane equation; tracked centroids are classified as being on one
// side, the other side, or inside a buffer band straddling the line.
package geometry

import (
	"fmt"
	"math"
)

// Side identifies which side of the counting line a point falls on.
type Side int

const (
	// SideNone means no side has been observed yet.
	SideNone Side = iota
	// SideA is the positive half-plane (above a horizontal line).
	SideA
	// SideB is the negative half-plane (below a horizontal line).
	SideB
	// SideBuffer is the dead zone straddling the line.
	SideBuffer
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "side_a"
	case SideB:
		return "side_b"
	case SideBuffer:
		return "buffer"
	default:
		return "none"
	}
}

// Opposite returns the decisive side across the line. Buffer and none map to
// SideNone since they have no opposite.
func (s Side) Opposite() Side {
	switch s {
	case SideA:
		return SideB
	case SideB:
		return SideA
	default:
		return SideNone
	}
}

// LineKind distinguishes the two supported line configurations.
type LineKind int

const (
	// LineHorizontal is the legacy y-threshold line.
	LineHorizontal LineKind = iota
	// LineAngular is a line at an arbitrary angle through a center point.
	LineAngular
)

// Line is an immutable counting line. Coordinates are in the un-rotated
// ROI-local frame. The half-plane coefficients are derived once at
// construction.
type Line struct {
	kind          LineKind
	buffer        float64
	entryInverted bool

	// Horizontal form
	y, x1, x2 float64

	// Angular form
	cx, cy   float64
	angleDeg float64
	length   float64

	// Half-plane equation a·x + b·y + c for the angular form.
	a, b, c float64
}

// NewHorizontalLine builds a y-threshold line spanning [x1, x2].
// The buffer must be non-negative.
func NewHorizontalLine(y, x1, x2, buffer float64, entryInverted bool) (*Line, error) {
	if buffer < 0 {
		return nil, fmt.Errorf("geometry: buffer must be >= 0, got %v", buffer)
	}
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	return &Line{
		kind:          LineHorizontal,
		buffer:        buffer,
		entryInverted: entryInverted,
		y:             y,
		x1:            x1,
		x2:            x2,
	}, nil
}

// NewAngularLine builds a line of the given length centered on (cx, cy) at
// angleDeg degrees from the horizontal. The buffer must be non-negative and
// the length positive.
func NewAngularLine(cx, cy, angleDeg, length, buffer float64, entryInverted bool) (*Line, error) {
	if buffer < 0 {
		return nil, fmt.Errorf("geometry: buffer must be >= 0, got %v", buffer)
	}
	if length <= 0 {
		return nil, fmt.Errorf("geometry: line length must be > 0, got %v", length)
	}
	theta := angleDeg * math.Pi / 180
	// Normal vector (sin θ, -cos θ); the line itself runs along (cos θ, sin θ).
	a := math.Sin(theta)
	b := -math.Cos(theta)
	return &Line{
		kind:          LineAngular,
		buffer:        buffer,
		entryInverted: entryInverted,
		cx:            cx,
		cy:            cy,
		angleDeg:      angleDeg,
		length:        length,
		a:             a,
		b:             b,
		c:             -(a*cx + b*cy),
	}, nil
}

// Kind returns the line variant.
func (l *Line) Kind() LineKind { return l.kind }

// Buffer returns the half-width of the dead zone.
func (l *Line) Buffer() float64 { return l.buffer }

// EntryInverted reports whether the entry/exit polarity is flipped.
func (l *Line) EntryInverted() bool { return l.entryInverted }

// SignedDistance evaluates the half-plane equation at (x, y) in the
// un-rotated ROI frame. Positive values are on SideA.
func (l *Line) SignedDistance(x, y float64) float64 {
	if l.kind == LineHorizontal {
		// Degenerate angular case with θ=0: d = lineY - y, so points above
		// the line (smaller y) land on SideA.
		return l.y - y
	}
	return l.a*x + l.b*y + l.c
}

// Classify maps a point in the un-rotated ROI frame to a side. Distances
// within [-buffer, +buffer] are always SideBuffer; a distance of exactly
// zero is never a side on its own.
func (l *Line) Classify(x, y float64) Side {
	d := l.SignedDistance(x, y)
	switch {
	case d > l.buffer:
		return SideA
	case d < -l.buffer:
		return SideB
	default:
		return SideBuffer
	}
}

// Endpoints returns the line segment endpoints in the un-rotated ROI frame.
func (l *Line) Endpoints() (x1, y1, x2, y2 float64) {
	if l.kind == LineHorizontal {
		return l.x1, l.y, l.x2, l.y
	}
	theta := l.angleDeg * math.Pi / 180
	dx := math.Cos(theta) * l.length / 2
	dy := math.Sin(theta) * l.length / 2
	return l.cx - dx, l.cy - dy, l.cx + dx, l.cy + dy
}
