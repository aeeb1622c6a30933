package cone

import (
	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	blue   []Point
	yellow []Point
	err    error
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetPoints sets the points that will be returned by Detect.
func (m *MockDetector) SetPoints(blue, yellow []Point) {
	m.blue = blue
	m.yellow = yellow
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.err = err
}

// Detect returns the pre-configured points or error. The annotated frame
// is an unmodified clone of the input.
func (m *MockDetector) Detect(frame gocv.Mat) (Result, error) {
	m.calls++
	if m.err != nil {
		return Result{}, m.err
	}
	return Result{
		Annotated: frame.Clone(),
		Blue:      append([]Point(nil), m.blue...),
		Yellow:    append([]Point(nil), m.yellow...),
	}, nil
}

// Calls returns how many times Detect was called.
func (m *MockDetector) Calls() int {
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	return m.closed
}

// Close marks the mock as closed.
func (m *MockDetector) Close() error {
	m.closed = true
	return nil
}
