package cone

import (
	"errors"
	"fmt"
	"image"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrEmptyFrame is returned when Detect is given an empty Mat.
	ErrEmptyFrame = errors.New("frame is empty")

	// ErrNotBGR is returned when the frame does not have three channels.
	ErrNotBGR = errors.New("frame is not a 3-channel BGR image")
)

// Detector defines the interface for cone detection implementations.
type Detector interface {
	// Detect analyzes a BGR frame and returns the annotated frame together
	// with the blue and yellow detections. The frame is not modified.
	Detect(frame gocv.Mat) (Result, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Point is a single cone detection in image-pixel coordinates.
type Point struct {
	X    int     `json:"x"`    // area centroid column
	Y    int     `json:"y"`    // lowest row of the cone outline
	Area float64 `json:"area"` // contour area in px²
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d %.1fpx²)", p.X, p.Y, p.Area)
}

// Result is the output of one Detect call. The caller owns Annotated and
// must Close the result.
type Result struct {
	Annotated gocv.Mat
	Blue      []Point
	Yellow    []Point
}

// Close releases the annotated frame.
func (r *Result) Close() error {
	return r.Annotated.Close()
}

// HSVDetector implements Detector with a fixed colour segmentation pipeline:
// blur, BGR to HSV, per-colour threshold, vertical closing, contour
// extraction and geometric filtering.
//
// An HSVDetector holds no per-frame state. Detect may be called repeatedly
// and identical frames always produce identical results.
type HSVDetector struct {
	cfg     Config
	smooth  gocv.Mat
	closing gocv.Mat
}

// NewHSVDetector validates cfg and builds the filter kernels.
func NewHSVDetector(cfg Config) (*HSVDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &HSVDetector{
		cfg:     cfg,
		smooth:  smoothingKernel(cfg.SmoothingSize),
		closing: closingKernel(cfg.KernelSize),
	}, nil
}

// smoothingKernel returns a size×size uniform averaging kernel.
func smoothingKernel(size int) gocv.Mat {
	w := 1.0 / float64(size*size)
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(w, 0, 0, 0), size, size, gocv.MatTypeCV32F)
}

// closingKernel returns a size×size binary kernel with only the centre
// column set: a vertical line.
func closingKernel(size int) gocv.Mat {
	k := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size, size, gocv.MatTypeCV8U)
	mid := size / 2
	for row := 0; row < size; row++ {
		k.SetUCharAt(row, mid, 1)
	}
	return k
}

// Config returns the tuning the detector was built with.
func (d *HSVDetector) Config() Config {
	return d.cfg
}

// Detect runs the segmentation pipeline on frame.
//
// Pipeline:
// 1. Average the frame with the smoothing kernel (reflect-101 border)
// 2. Convert the smoothed frame to HSV
// 3. Threshold against the blue and yellow ranges
// 4. Close each mask with the vertical kernel
// 5. Extract contours from each mask
// 6. Draw every raw contour, then measure the ones above the area
// threshold and mark their base points
//
// Steps 3-5 run for both colours in parallel; results are always joined
// blue first.
func (d *HSVDetector) Detect(frame gocv.Mat) (Result, error) {
	if frame.Empty() {
		return Result{}, ErrEmptyFrame
	}
	if frame.Channels() != 3 {
		return Result{}, fmt.Errorf("%w: got %d channels", ErrNotBGR, frame.Channels())
	}

	// The smoothed frame is what gets annotated.
	annotated := gocv.NewMat()
	gocv.Filter2D(frame, &annotated, -1, d.smooth, image.Pt(-1, -1), 0, gocv.BorderDefault)
	if annotated.Empty() {
		annotated.Close()
		return Result{}, errors.New("smooth frame: empty result")
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(annotated, &hsv, gocv.ColorBGRToHSV)

	ranges := [2]ColorRange{d.cfg.Blue, d.cfg.Yellow}
	var found [2]*gocv.PointsVector

	var g errgroup.Group
	for i, r := range ranges {
		g.Go(func() error {
			contours, err := d.contours(hsv, r)
			if err != nil {
				return err
			}
			found[i] = &contours
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, pv := range found {
			if pv != nil {
				pv.Close()
			}
		}
		annotated.Close()
		return Result{}, err
	}

	blue, yellow := found[0], found[1]
	defer blue.Close()
	defer yellow.Close()

	ov := d.cfg.Overlay
	gocv.DrawContours(&annotated, *blue, -1, ov.BlueContour, ov.ContourThickness)
	gocv.DrawContours(&annotated, *yellow, -1, ov.YellowContour, ov.ContourThickness)

	return Result{
		Annotated: annotated,
		Blue:      d.collect(&annotated, *blue),
		Yellow:    d.collect(&annotated, *yellow),
	}, nil
}

// contours thresholds hsv against r, closes the mask and returns the
// outer boundaries of its regions in discovery order. The contour
// hierarchy is not requested.
func (d *HSVDetector) contours(hsv gocv.Mat, r ColorRange) (gocv.PointsVector, error) {
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv, r.lowerScalar(), r.upperScalar(), &mask)

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(mask, &closed, gocv.MorphClose, d.closing)

	if closed.Empty() {
		return gocv.PointsVector{}, fmt.Errorf("close mask for %v: empty result", r)
	}

	return gocv.FindContours(closed, gocv.RetrievalTree, gocv.ChainApproxSimple), nil
}

// collect measures each contour, draws a marker on dst for every one that
// survives and returns the points in contour order.
func (d *HSVDetector) collect(dst *gocv.Mat, contours gocv.PointsVector) []Point {
	points := make([]Point, 0, contours.Size())
	ov := d.cfg.Overlay

	for i := 0; i < contours.Size(); i++ {
		p, ok := measureContour(d.cfg, contours.At(i))
		if !ok {
			continue
		}
		gocv.Circle(dst, image.Pt(p.X, p.Y), ov.MarkerRadius, ov.Marker, -1)
		points = append(points, p)
	}

	return points
}

// Close releases the kernels.
func (d *HSVDetector) Close() error {
	return multierr.Combine(d.smooth.Close(), d.closing.Close())
}

func (r ColorRange) lowerScalar() gocv.Scalar {
	return gocv.NewScalar(float64(r.Lower.H), float64(r.Lower.S), float64(r.Lower.V), 0)
}

func (r ColorRange) upperScalar() gocv.Scalar {
	return gocv.NewScalar(float64(r.Upper.H), float64(r.Upper.S), float64(r.Upper.V), 0)
}
