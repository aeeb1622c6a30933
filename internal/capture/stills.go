package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// stillExtensions lists the file types LoadStills picks up.
var stillExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// LoadStills loads every PNG or JPEG in dir, sorted by file name, as BGR
// frames of width×height. EXIF orientation is applied and images of a
// different size are resized, so a still behaves like a camera frame.
// The caller owns the returned Mats.
func LoadStills(dir string, width, height int) ([]*gocv.Mat, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read stills directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if stillExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}

	frames := make([]*gocv.Mat, 0, len(names))
	for _, name := range names {
		frame, err := LoadStill(filepath.Join(dir, name), width, height)
		if err != nil {
			// Clean up already loaded frames
			for _, f := range frames {
				f.Close()
			}
			return nil, err
		}
		frames = append(frames, frame)
	}

	return frames, nil
}

// LoadStill loads a single image file as a BGR frame. A non-positive
// width or height keeps the image's own size.
func LoadStill(path string, width, height int) (*gocv.Mat, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("load still %s: %w", path, err)
	}

	if width > 0 && height > 0 {
		b := img.Bounds()
		if b.Dx() != width || b.Dy() != height {
			img = imaging.Resize(img, width, height, imaging.Lanczos)
		}
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert still %s: %w", path, err)
	}

	return &mat, nil
}
