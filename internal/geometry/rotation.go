package geometry

import (
	"fmt"
	"image"
)

// Rotation is one of the four cardinal image rotations applied to the
// cropped ROI before detection. The line is always defined in the
// un-rotated frame, so tracked centroids must be mapped back through the
// inverse rotation before classification.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// ParseRotation validates a rotation angle in degrees. Only the four
// cardinal rotations are supported; anything else is a configuration error.
func ParseRotation(degrees int) (Rotation, error) {
	switch degrees {
	case 0, 90, 180, 270:
		return Rotation(degrees), nil
	default:
		return 0, fmt.Errorf("geometry: unsupported rotation %d (must be 0, 90, 180 or 270)", degrees)
	}
}

// Engine combines a counting line with the ROI rotation setting. It
// classifies points observed in the rotated detection frame and projects
// the line endpoints into that frame for overlay rendering. Engines are
// stateless beyond their precomputed coefficients and safe for concurrent
// use.
type Engine struct {
	line   *Line
	rot    Rotation
	width  int // un-rotated ROI width
	height int // un-rotated ROI height
}

// NewEngine builds an engine for the given line, rotation and un-rotated
// ROI dimensions.
func NewEngine(line *Line, rot Rotation, roiWidth, roiHeight int) (*Engine, error) {
	if line == nil {
		return nil, fmt.Errorf("geometry: nil line")
	}
	if roiWidth <= 0 || roiHeight <= 0 {
		return nil, fmt.Errorf("geometry: invalid ROI dimensions %dx%d", roiWidth, roiHeight)
	}
	switch rot {
	case Rotate0, Rotate90, Rotate180, Rotate270:
	default:
		return nil, fmt.Errorf("geometry: unsupported rotation %d", rot)
	}
	return &Engine{line: line, rot: rot, width: roiWidth, height: roiHeight}, nil
}

// Line returns the configured counting line.
func (e *Engine) Line() *Line { return e.line }

// Rotation returns the configured rotation.
func (e *Engine) Rotation() Rotation { return e.rot }

// toLineFrame maps a point seen in the rotated detection frame back into
// the un-rotated ROI frame. The mapping is the inverse of the clockwise
// image rotation: a fixed permutation/negation of the coordinates.
func (e *Engine) toLineFrame(p image.Point) (x, y float64) {
	switch e.rot {
	case Rotate90:
		// Forward 90° CW maps (x, y) -> (h-1-y, x).
		return float64(p.Y), float64(e.height - 1 - p.X)
	case Rotate180:
		return float64(e.width - 1 - p.X), float64(e.height - 1 - p.Y)
	case Rotate270:
		// Forward 270° CW maps (x, y) -> (y, w-1-x).
		return float64(e.width - 1 - p.Y), float64(p.X)
	default:
		return float64(p.X), float64(p.Y)
	}
}

// toRotatedFrame maps a point in the un-rotated ROI frame into the rotated
// detection frame, for drawing overlays.
func (e *Engine) toRotatedFrame(x, y float64) image.Point {
	switch e.rot {
	case Rotate90:
		return image.Pt(e.height-1-int(y+0.5), int(x+0.5))
	case Rotate180:
		return image.Pt(e.width-1-int(x+0.5), e.height-1-int(y+0.5))
	case Rotate270:
		return image.Pt(int(y+0.5), e.width-1-int(x+0.5))
	default:
		return image.Pt(int(x+0.5), int(y+0.5))
	}
}

// Classify maps a centroid observed in the rotated detection frame to a
// side of the counting line.
func (e *Engine) Classify(p image.Point) Side {
	x, y := e.toLineFrame(p)
	return e.line.Classify(x, y)
}

// SignedDistance returns the rotation-corrected signed distance of a
// centroid from the line.
func (e *Engine) SignedDistance(p image.Point) float64 {
	x, y := e.toLineFrame(p)
	return e.line.SignedDistance(x, y)
}

// Visualization returns the line endpoints projected into the rotated
// detection frame plus the buffer band half-width, for overlay rendering.
func (e *Engine) Visualization() (start, end image.Point, buffer float64) {
	x1, y1, x2, y2 := e.line.Endpoints()
	return e.toRotatedFrame(x1, y1), e.toRotatedFrame(x2, y2), e.line.Buffer()
}
