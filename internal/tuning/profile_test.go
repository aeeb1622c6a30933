package tuning

import (
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/cone"
)

func TestParse_Empty(t *testing.T) {
	for _, data := range []string{"", "# nothing tuned yet\n"} {
		cfg, err := Parse([]byte(data))
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", data, err)
		}
		if diff := cmp.Diff(cone.DefaultConfig(), cfg); diff != "" {
			t.Errorf("Parse(%q) mismatch (-want +got):\n%s", data, diff)
		}
	}
}

func TestParse_Overrides(t *testing.T) {
	data := `
blue:
  lower: [110, 100, 100]
  upper: [125, 255, 255]
kernel_size: 41
smoothing_size: 3
area_threshold: 50
approx_epsilon: 0.02
overlay:
  marker: "#00ffff"
  thickness: 2
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := cone.DefaultConfig()
	want.Blue = cone.ColorRange{
		Lower: cone.HSV{H: 110, S: 100, V: 100},
		Upper: cone.HSV{H: 125, S: 255, V: 255},
	}
	want.KernelSize = 41
	want.SmoothingSize = 3
	want.AreaThreshold = 50
	want.ApproxEpsilon = 0.02
	want.Overlay.Marker = color.RGBA{R: 0, G: 255, B: 255, A: 0}
	want.Overlay.ContourThickness = 2

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed yaml", "blue: [unterminated"},
		{"unknown key", "kernel: 41"},
		{"even kernel", "kernel_size: 50"},
		{"zero smoothing", "smoothing_size: 0"},
		{"negative threshold", "area_threshold: -1"},
		{"short triple", "yellow:\n  lower: [25, 50]\n  upper: [40, 255, 255]"},
		{"missing upper", "yellow:\n  lower: [25, 50, 50]"},
		{"channel overflow", "blue:\n  lower: [115, 120, 120]\n  upper: [130, 256, 255]"},
		{"hue above scale", "blue:\n  lower: [115, 120, 120]\n  upper: [200, 255, 255]"},
		{"inverted range", "blue:\n  lower: [130, 120, 120]\n  upper: [115, 255, 255]"},
		{"bad colour", "overlay:\n  marker: red"},
		{"zero radius", "overlay:\n  radius: 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, cone.ErrInvalidConfig) {
				t.Errorf("Parse() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cones.yaml")
	if err := os.WriteFile(path, []byte("area_threshold: 12.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AreaThreshold != 12.5 {
		t.Errorf("AreaThreshold = %g, want 12.5", cfg.AreaThreshold)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want os.ErrNotExist", err)
	}
}

func TestMarshal(t *testing.T) {
	cfg := cone.DefaultConfig()
	cfg.KernelSize = 31
	cfg.Overlay.Marker = color.RGBA{R: 10, G: 20, B: 30, A: 0}

	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Marshal()) error = %v\n%s", err, data)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("profile did not survive a write and reload (-want +got):\n%s", diff)
	}
}
