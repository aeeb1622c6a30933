// Package conetest builds synthetic BGR frames for exercising cone detection
// without a camera.
package conetest

import (
	"image"

	"gocv.io/x/gocv"
)

// Frame size used by the capture loop.
const (
	Width  = 640
	Height = 480
)

// Solid BGR colours. Pure blue is HSV (120,255,255) and pure yellow is
// HSV (30,255,255), both inside the default cone ranges.
var (
	Black  = gocv.NewScalar(0, 0, 0, 0)
	Blue   = gocv.NewScalar(255, 0, 0, 0)
	Yellow = gocv.NewScalar(0, 255, 255, 0)
	Red    = gocv.NewScalar(0, 0, 255, 0)
)

// Patch is a filled rectangle of a single colour. Rect follows image
// conventions: Max is exclusive.
type Patch struct {
	Rect  image.Rectangle
	Color gocv.Scalar
}

// Blank returns a black width×height BGR frame.
func Blank(width, height int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(Black, height, width, gocv.MatTypeCV8UC3)
}

// Frame returns a black frame with the given patches painted in order.
// The caller is responsible for closing the returned Mat.
func Frame(width, height int, patches ...Patch) gocv.Mat {
	m := Blank(width, height)
	bounds := image.Rect(0, 0, width, height)
	for _, p := range patches {
		r := p.Rect.Intersect(bounds)
		if r.Empty() {
			continue
		}
		roi := m.Region(r)
		roi.SetTo(p.Color)
		roi.Close()
	}
	return m
}

// VerticalBar returns a patch covering columns [x, x+width) and rows
// top..bottom inclusive.
func VerticalBar(x, width, top, bottom int, c gocv.Scalar) Patch {
	return Patch{Rect: image.Rect(x, top, x+width, bottom+1), Color: c}
}

// Sequence returns n clones of the same synthetic frame.
func Sequence(n, width, height int, patches ...Patch) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, n)
	for i := 0; i < n; i++ {
		f := Frame(width, height, patches...)
		frames = append(frames, &f)
	}
	return frames
}

// CloseAll closes every frame in frames.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
