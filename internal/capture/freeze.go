package capture

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"
)

const (
	// DefaultFreezeTimeout is how long a live feed may stay unchanged
	// before it is reported as frozen.
	DefaultFreezeTimeout = 3 * time.Second

	// FreezeNoise is the per-pixel grey-level difference below which two
	// frames count as identical. Live sensors always exceed it somewhere.
	FreezeNoise = 2
)

// FreezeMonitor spots a live feed that keeps returning the same buffer,
// which is how a camera that dropped off the USB bus usually fails.
// Frames are compared in greyscale by absolute difference.
type FreezeMonitor struct {
	timeout   time.Duration
	clock     clock.Clock
	prevGray  gocv.Mat
	changedAt time.Time
	primed    bool
	mu        sync.Mutex
}

// NewFreezeMonitor creates a FreezeMonitor. A non-positive timeout uses
// DefaultFreezeTimeout.
func NewFreezeMonitor(timeout time.Duration, clk clock.Clock) *FreezeMonitor {
	if timeout <= 0 {
		timeout = DefaultFreezeTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	return &FreezeMonitor{
		timeout:  timeout,
		clock:    clk,
		prevGray: gocv.NewMat(),
	}
}

// Observe compares frame with the previous one. It returns true once the
// feed has shown no change for longer than the timeout, and the time since
// the last change.
func (m *FreezeMonitor) Observe(frame gocv.Mat) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	if !m.primed || gray.Rows() != m.prevGray.Rows() || gray.Cols() != m.prevGray.Cols() {
		gray.CopyTo(&m.prevGray)
		m.changedAt = now
		m.primed = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray, m.prevGray, &diff)

	changed := gocv.NewMat()
	defer changed.Close()
	gocv.Threshold(diff, &changed, FreezeNoise, 255, gocv.ThresholdBinary)

	if gocv.CountNonZero(changed) > 0 {
		gray.CopyTo(&m.prevGray)
		m.changedAt = now
		return false, 0
	}

	still := now.Sub(m.changedAt)
	return still > m.timeout, still
}

// Reset forgets the previous frame.
func (m *FreezeMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primed = false
}

// Timeout returns the configured freeze timeout.
func (m *FreezeMonitor) Timeout() time.Duration {
	return m.timeout
}

// Close releases the stored frame. Observe after Close starts over.
func (m *FreezeMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.primed = false
	if err := m.prevGray.Close(); err != nil {
		return err
	}
	m.prevGray = gocv.NewMat()
	return nil
}
