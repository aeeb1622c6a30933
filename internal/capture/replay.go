package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"
)

// ReplayCamera plays back pre-recorded frames at a fixed rate. It is used
// for tuning against stills and for exercising the loop in tests.
type ReplayCamera struct {
	frames  []*gocv.Mat
	index   int
	loop    bool
	fps     int
	clock   clock.Clock
	last    time.Time
	mu      sync.Mutex
	running bool
}

// NewReplayCamera creates a ReplayCamera over frames. The camera does not
// take ownership of frames; every read returns a clone.
func NewReplayCamera(frames []*gocv.Mat, loop bool) *ReplayCamera {
	return &ReplayCamera{
		frames: frames,
		loop:   loop,
		fps:    DefaultFPS,
		clock:  clock.New(),
	}
}

// WithClock replaces the clock used for pacing.
func (c *ReplayCamera) WithClock(clk clock.Clock) *ReplayCamera {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clk
	return c
}

func (c *ReplayCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	c.last = time.Time{}
	return nil
}

func (c *ReplayCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

// ReadFrame returns a clone of the next frame, sleeping as needed so
// frames are delivered no faster than the configured FPS.
func (c *ReplayCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, errors.New("no frames available")
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrEndOfStream
		}
		c.index = 0
	}

	c.pace()

	// Callers own the clone; the stored frame is reused on loop.
	frame := c.frames[c.index].Clone()
	c.index++

	return &frame, nil
}

// pace waits until one frame interval has passed since the previous read.
func (c *ReplayCamera) pace() {
	interval := time.Second / time.Duration(c.fps)
	if !c.last.IsZero() {
		if wait := interval - c.clock.Since(c.last); wait > 0 {
			c.clock.Sleep(wait)
		}
	}
	c.last = c.clock.Now()
}

// SetFPS sets the playback rate. Values less than or equal to 0 are ignored.
func (c *ReplayCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

func (c *ReplayCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *ReplayCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Len returns the number of frames in the sequence.
func (c *ReplayCamera) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
