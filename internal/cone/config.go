// Package cone finds blue and yellow traffic-cone markers in BGR frames
// using HSV colour thresholding and contour extraction.
package cone

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Default detector settings. These reproduce the bring-up tuning.
const (
	DefaultKernelSize       = 51
	DefaultSmoothingSize    = 5
	DefaultAreaThreshold    = 30.0
	DefaultApproxEpsilon    = 0.009
	DefaultContourThickness = 3
	DefaultMarkerRadius     = 3

	// MaxHue is the top of the 8-bit OpenCV hue scale (degrees / 2).
	MaxHue = 180
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("invalid cone config")

// HSV is a colour sample on OpenCV's 8-bit HSV scale:
// hue in [0,180], saturation and value in [0,255].
type HSV struct {
	H uint8
	S uint8
	V uint8
}

// ColorRange is an inclusive HSV box.
type ColorRange struct {
	Lower HSV
	Upper HSV
}

// Default colour ranges for the two cone colours.
var (
	BlueRange = ColorRange{
		Lower: HSV{H: 115, S: 120, V: 120},
		Upper: HSV{H: 130, S: 255, V: 255},
	}
	YellowRange = ColorRange{
		Lower: HSV{H: 25, S: 50, V: 50},
		Upper: HSV{H: 40, S: 255, V: 255},
	}
)

// Validate checks that the bounds are ordered and the hues are on the 0-180 scale.
func (r ColorRange) Validate() error {
	if r.Lower.H > r.Upper.H || r.Lower.S > r.Upper.S || r.Lower.V > r.Upper.V {
		return fmt.Errorf("%w: lower bound %v exceeds upper bound %v", ErrInvalidConfig, r.Lower, r.Upper)
	}
	if r.Upper.H > MaxHue {
		return fmt.Errorf("%w: hue %d above %d", ErrInvalidConfig, r.Upper.H, MaxHue)
	}
	return nil
}

// Swatch returns the midpoint of the range as an RGB hex string.
// It is only used to make logged tunings readable.
func (r ColorRange) Swatch() string {
	h := float64(r.Lower.H) + float64(r.Upper.H) // midpoint in degrees
	s := (float64(r.Lower.S) + float64(r.Upper.S)) / 2 / 255
	v := (float64(r.Lower.V) + float64(r.Upper.V)) / 2 / 255
	return colorful.Hsv(h, s, v).Clamped().Hex()
}

// Overlay controls how detections are drawn on the annotated frame.
// Colours are given in RGB; gocv converts them to BGR when drawing. Alpha
// is ignored on 3-channel frames, so the zero alpha of the defaults still
// draws opaque.
type Overlay struct {
	BlueContour      color.RGBA
	YellowContour    color.RGBA
	Marker           color.RGBA
	ContourThickness int
	MarkerRadius     int
}

// Config is the immutable tuning of a Detector.
type Config struct {
	Blue   ColorRange
	Yellow ColorRange

	// KernelSize is the side of the square closing kernel. Only its centre
	// column is set, so closing bridges vertical gaps only.
	KernelSize int

	// SmoothingSize is the side of the uniform averaging kernel.
	SmoothingSize int

	// AreaThreshold is the minimum contour area in px².
	AreaThreshold float64

	// ApproxEpsilon is the polygon approximation tolerance as a fraction
	// of the closed contour perimeter.
	ApproxEpsilon float64

	Overlay Overlay
}

// DefaultConfig returns the bring-up tuning.
func DefaultConfig() Config {
	return Config{
		Blue:          BlueRange,
		Yellow:        YellowRange,
		KernelSize:    DefaultKernelSize,
		SmoothingSize: DefaultSmoothingSize,
		AreaThreshold: DefaultAreaThreshold,
		ApproxEpsilon: DefaultApproxEpsilon,
		Overlay: Overlay{
			BlueContour:      color.RGBA{R: 0, G: 255, B: 0, A: 0},
			YellowContour:    color.RGBA{R: 255, G: 0, B: 255, A: 0},
			Marker:           color.RGBA{R: 255, G: 0, B: 0, A: 0},
			ContourThickness: DefaultContourThickness,
			MarkerRadius:     DefaultMarkerRadius,
		},
	}
}

// Validate reports the first problem found in c.
func (c Config) Validate() error {
	if err := c.Blue.Validate(); err != nil {
		return fmt.Errorf("blue range: %w", err)
	}
	if err := c.Yellow.Validate(); err != nil {
		return fmt.Errorf("yellow range: %w", err)
	}
	if c.KernelSize < 1 || c.KernelSize%2 == 0 {
		return fmt.Errorf("%w: kernel size %d must be odd and positive", ErrInvalidConfig, c.KernelSize)
	}
	if c.SmoothingSize < 1 {
		return fmt.Errorf("%w: smoothing size %d must be positive", ErrInvalidConfig, c.SmoothingSize)
	}
	if c.AreaThreshold < 0 {
		return fmt.Errorf("%w: negative area threshold %g", ErrInvalidConfig, c.AreaThreshold)
	}
	if c.ApproxEpsilon < 0 {
		return fmt.Errorf("%w: negative approximation epsilon %g", ErrInvalidConfig, c.ApproxEpsilon)
	}
	if c.Overlay.ContourThickness < 1 {
		return fmt.Errorf("%w: contour thickness %d must be positive", ErrInvalidConfig, c.Overlay.ContourThickness)
	}
	if c.Overlay.MarkerRadius < 1 {
		return fmt.Errorf("%w: marker radius %d must be positive", ErrInvalidConfig, c.Overlay.MarkerRadius)
	}
	return nil
}

// ParseColor parses a "#RRGGBB" string into an RGBA colour usable by the overlay.
func ParseColor(hex string) (color.RGBA, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: colour %q: %v", ErrInvalidConfig, hex, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0}, nil
}
