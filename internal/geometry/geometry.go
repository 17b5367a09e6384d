// Package geometry converts raw on-screen selection rectangles into
// normalized, device-independent page anchors and back.
package geometry

import (
	"errors"
	"math"
)

var ErrOutOfRange = errors.New("coordinate outside [0,1]")
var ErrDegenerateTransform = errors.New("page dimensions must be positive")

// Coordinates is a selection rectangle expressed as fractions of the
// rendered page, independent of zoom and device pixel density.
type Coordinates struct {
	StartX float64 `json:"start_x"`
	StartY float64 `json:"start_y"`
	EndX   float64 `json:"end_x"`
	EndY   float64 `json:"end_y"`
}

// Rect is a raw rectangle in device pixels. The two corners may be in any
// order: a selection can be dragged in either direction.
type Rect struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// Transform describes where the rendered page sits on screen at the
// current zoom and scroll position.
type Transform struct {
	PageWidth  float64
	PageHeight float64
	OffsetX    float64
	OffsetY    float64
}

func (t Transform) valid() bool {
	return t.PageWidth > 0 && t.PageHeight > 0
}

// Normalized returns the coordinates with corners in canonical min/max
// order. Stored annotations always use the canonical form.
func (c Coordinates) Normalized() Coordinates {
	return Coordinates{
		StartX: math.Min(c.StartX, c.EndX),
		StartY: math.Min(c.StartY, c.EndY),
		EndX:   math.Max(c.StartX, c.EndX),
		EndY:   math.Max(c.StartY, c.EndY),
	}
}

// Validate checks that every field lies in [0,1].
func (c Coordinates) Validate() error {
	for _, v := range []float64{c.StartX, c.StartY, c.EndX, c.EndY} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return ErrOutOfRange
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ToNormalized maps a raw pixel selection onto the page as fractions,
// clamped to the page bounds and canonicalized.
func ToNormalized(r Rect, t Transform) (Coordinates, error) {
	if !t.valid() {
		return Coordinates{}, ErrDegenerateTransform
	}
	c := Coordinates{
		StartX: clamp01((r.X1 - t.OffsetX) / t.PageWidth),
		StartY: clamp01((r.Y1 - t.OffsetY) / t.PageHeight),
		EndX:   clamp01((r.X2 - t.OffsetX) / t.PageWidth),
		EndY:   clamp01((r.Y2 - t.OffsetY) / t.PageHeight),
	}
	return c.Normalized(), nil
}

// ToScreenRect is the inverse of ToNormalized for the given transform,
// used to draw an existing annotation at the current zoom and scroll.
func ToScreenRect(c Coordinates, t Transform) Rect {
	return Rect{
		X1: t.OffsetX + c.StartX*t.PageWidth,
		Y1: t.OffsetY + c.StartY*t.PageHeight,
		X2: t.OffsetX + c.EndX*t.PageWidth,
		Y2: t.OffsetY + c.EndY*t.PageHeight,
	}
}
