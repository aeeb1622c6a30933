// Package tuning loads cone detector tunings from YAML profiles and
// reloads them when the file changes.
package tuning

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/cone"
)

// Profile is the on-disk form of a tuning. Every field is optional; an
// omitted field keeps the default tuning.
//
//	blue:
//	  lower: [115, 120, 120]
//	  upper: [130, 255, 255]
//	kernel_size: 41
//	overlay:
//	  marker: "#ff0000"
type Profile struct {
	Blue          *RangeProfile   `yaml:"blue,omitempty"`
	Yellow        *RangeProfile   `yaml:"yellow,omitempty"`
	KernelSize    *int            `yaml:"kernel_size,omitempty"`
	SmoothingSize *int            `yaml:"smoothing_size,omitempty"`
	AreaThreshold *float64        `yaml:"area_threshold,omitempty"`
	ApproxEpsilon *float64        `yaml:"approx_epsilon,omitempty"`
	Overlay       *OverlayProfile `yaml:"overlay,omitempty"`
}

// RangeProfile is an HSV range given as [h, s, v] triples.
type RangeProfile struct {
	Lower []int `yaml:"lower"`
	Upper []int `yaml:"upper"`
}

// OverlayProfile holds the drawing settings. Colours are "#RRGGBB".
type OverlayProfile struct {
	BlueContour   string `yaml:"blue_contour,omitempty"`
	YellowContour string `yaml:"yellow_contour,omitempty"`
	Marker        string `yaml:"marker,omitempty"`
	Thickness     *int   `yaml:"thickness,omitempty"`
	Radius        *int   `yaml:"radius,omitempty"`
}

// Load reads the profile at path and returns the resulting tuning.
func Load(path string) (cone.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cone.Config{}, fmt.Errorf("read profile: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return cone.Config{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML profile over the default tuning and validates the
// result. Unknown keys are rejected so a typo cannot silently fall back to
// a default. All errors wrap cone.ErrInvalidConfig.
func Parse(data []byte) (cone.Config, error) {
	var p Profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return cone.Config{}, fmt.Errorf("%w: %w", cone.ErrInvalidConfig, err)
	}

	cfg, err := p.Apply(cone.DefaultConfig())
	if err != nil {
		return cone.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return cone.Config{}, err
	}
	return cfg, nil
}

// Apply overlays the fields set in p onto base.
func (p Profile) Apply(base cone.Config) (cone.Config, error) {
	cfg := base
	var err error

	if p.Blue != nil {
		if cfg.Blue, err = p.Blue.colorRange(); err != nil {
			return cone.Config{}, fmt.Errorf("blue: %w", err)
		}
	}
	if p.Yellow != nil {
		if cfg.Yellow, err = p.Yellow.colorRange(); err != nil {
			return cone.Config{}, fmt.Errorf("yellow: %w", err)
		}
	}
	if p.KernelSize != nil {
		cfg.KernelSize = *p.KernelSize
	}
	if p.SmoothingSize != nil {
		cfg.SmoothingSize = *p.SmoothingSize
	}
	if p.AreaThreshold != nil {
		cfg.AreaThreshold = *p.AreaThreshold
	}
	if p.ApproxEpsilon != nil {
		cfg.ApproxEpsilon = *p.ApproxEpsilon
	}
	if p.Overlay != nil {
		if cfg.Overlay, err = p.Overlay.apply(cfg.Overlay); err != nil {
			return cone.Config{}, fmt.Errorf("overlay: %w", err)
		}
	}
	return cfg, nil
}

func (r RangeProfile) colorRange() (cone.ColorRange, error) {
	lower, err := triple(r.Lower)
	if err != nil {
		return cone.ColorRange{}, fmt.Errorf("lower: %w", err)
	}
	upper, err := triple(r.Upper)
	if err != nil {
		return cone.ColorRange{}, fmt.Errorf("upper: %w", err)
	}
	return cone.ColorRange{Lower: lower, Upper: upper}, nil
}

func triple(v []int) (cone.HSV, error) {
	if len(v) != 3 {
		return cone.HSV{}, fmt.Errorf("%w: want [h, s, v], got %v", cone.ErrInvalidConfig, v)
	}
	for _, c := range v {
		if c < 0 || c > 255 {
			return cone.HSV{}, fmt.Errorf("%w: channel %d out of 0..255", cone.ErrInvalidConfig, c)
		}
	}
	return cone.HSV{H: uint8(v[0]), S: uint8(v[1]), V: uint8(v[2])}, nil
}

func (o OverlayProfile) apply(base cone.Overlay) (cone.Overlay, error) {
	out := base
	colors := []struct {
		hex string
		dst *color.RGBA
	}{
		{o.BlueContour, &out.BlueContour},
		{o.YellowContour, &out.YellowContour},
		{o.Marker, &out.Marker},
	}
	for _, c := range colors {
		if c.hex == "" {
			continue
		}
		parsed, err := cone.ParseColor(c.hex)
		if err != nil {
			return cone.Overlay{}, err
		}
		*c.dst = parsed
	}
	if o.Thickness != nil {
		out.ContourThickness = *o.Thickness
	}
	if o.Radius != nil {
		out.MarkerRadius = *o.Radius
	}
	return out, nil
}

// Marshal renders cfg as a complete profile, suitable as a starting point
// for hand tuning.
func Marshal(cfg cone.Config) ([]byte, error) {
	p := Profile{
		Blue:          rangeProfile(cfg.Blue),
		Yellow:        rangeProfile(cfg.Yellow),
		KernelSize:    &cfg.KernelSize,
		SmoothingSize: &cfg.SmoothingSize,
		AreaThreshold: &cfg.AreaThreshold,
		ApproxEpsilon: &cfg.ApproxEpsilon,
		Overlay: &OverlayProfile{
			BlueContour:   hexColor(cfg.Overlay.BlueContour),
			YellowContour: hexColor(cfg.Overlay.YellowContour),
			Marker:        hexColor(cfg.Overlay.Marker),
			Thickness:     &cfg.Overlay.ContourThickness,
			Radius:        &cfg.Overlay.MarkerRadius,
		},
	}
	return yaml.Marshal(p)
}

func rangeProfile(r cone.ColorRange) *RangeProfile {
	return &RangeProfile{
		Lower: []int{int(r.Lower.H), int(r.Lower.S), int(r.Lower.V)},
		Upper: []int{int(r.Upper.H), int(r.Upper.S), int(r.Upper.V)},
	}
}

func hexColor(c color.RGBA) string {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hex()
}
