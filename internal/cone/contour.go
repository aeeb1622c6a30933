package cone

import (
	"image"

	"gocv.io/x/gocv"
)

// lowestY returns the largest row index among pts, which is the lowest
// point on screen.
func lowestY(pts []image.Point) (int, bool) {
	if len(pts) == 0 {
		return 0, false
	}
	y := pts[0].Y
	for _, p := range pts[1:] {
		if p.Y > y {
			y = p.Y
		}
	}
	return y, true
}

// measureContour turns one contour into a detection point.
//
// X is the area centroid column truncated toward zero. Y is the lowest
// vertex of the polygon approximation, i.e. where the cone meets the
// ground. ok is false for contours under the area threshold and for
// degenerate contours with no enclosed area.
func measureContour(cfg Config, contour gocv.PointVector) (Point, bool) {
	if contour.Size() == 0 {
		return Point{}, false
	}

	area := gocv.ContourArea(contour)
	if area < cfg.AreaThreshold {
		return Point{}, false
	}

	// A 2-channel point Mat makes cv::moments use the contour formulas
	// instead of rasterising.
	pts := gocv.NewMatFromPointVector(contour, false)
	defer pts.Close()

	m := gocv.Moments(pts, false)
	if m["m00"] == 0 {
		return Point{}, false
	}
	cx := int(m["m10"] / m["m00"])

	epsilon := cfg.ApproxEpsilon * gocv.ArcLength(contour, true)
	approx := gocv.ApproxPolyDP(contour, epsilon, true)
	defer approx.Close()

	cy, ok := lowestY(approx.ToPoints())
	if !ok {
		return Point{}, false
	}

	return Point{X: cx, Y: cy, Area: area}, true
}
