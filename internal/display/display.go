// Package display shows raw and annotated frames and polls for the quit key.
package display

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Window titles.
const (
	ResultWindow = "Result"
	FrameWindow  = "Frame"
)

// NoKey is returned by PollKey when no key was pressed.
const NoKey = -1

// ErrClosed is returned by Show after Close.
var ErrClosed = errors.New("display is closed")

// Sink accepts rendered frames.
type Sink interface {
	// Show presents the raw frame and its annotated counterpart.
	Show(raw, annotated gocv.Mat) error
	// PollKey waits briefly for a key press and returns its code or NoKey.
	PollKey() int
	Close() error
}

// IsQuit reports whether key is the quit key. Only the low byte of the key
// code is considered.
func IsQuit(key int) bool {
	if key < 0 {
		return false
	}
	k := key & 0xFF
	return k == 'q' || k == 'Q'
}

// WindowSink shows frames in two HighGUI windows: "Result" with the raw
// frame stacked above the annotated one, and "Frame" with the raw frame
// alone. HighGUI calls must stay on one goroutine.
type WindowSink struct {
	result  *gocv.Window
	frame   *gocv.Window
	stacked gocv.Mat
	closed  bool
}

// NewWindowSink opens the preview windows.
func NewWindowSink() *WindowSink {
	return &WindowSink{
		result:  gocv.NewWindow(ResultWindow),
		frame:   gocv.NewWindow(FrameWindow),
		stacked: gocv.NewMat(),
	}
}

// Stack writes raw above annotated into dst. Both frames must have the
// same width and type.
func Stack(raw, annotated gocv.Mat, dst *gocv.Mat) error {
	if raw.Cols() != annotated.Cols() || raw.Type() != annotated.Type() {
		return fmt.Errorf("stack %dx%d %v over %dx%d %v: mismatched frames",
			raw.Cols(), raw.Rows(), raw.Type(), annotated.Cols(), annotated.Rows(), annotated.Type())
	}
	gocv.Vconcat(raw, annotated, dst)
	return nil
}

func (s *WindowSink) Show(raw, annotated gocv.Mat) error {
	if s.closed {
		return ErrClosed
	}
	if err := Stack(raw, annotated, &s.stacked); err != nil {
		return err
	}
	s.result.IMShow(s.stacked)
	s.frame.IMShow(raw)
	return nil
}

// PollKey waits 1ms for a key in either window.
func (s *WindowSink) PollKey() int {
	if s.closed {
		return NoKey
	}
	return s.result.WaitKey(1)
}

func (s *WindowSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return multierr.Combine(
		s.result.Close(),
		s.frame.Close(),
		s.stacked.Close(),
	)
}

// HeadlessSink discards frames. It is used on boards without a display,
// where the loop ends through the frame limit or a signal.
type HeadlessSink struct {
	mu     sync.Mutex
	shown  int
	closed bool
}

// NewHeadlessSink creates a HeadlessSink.
func NewHeadlessSink() *HeadlessSink {
	return &HeadlessSink{}
}

func (s *HeadlessSink) Show(raw, annotated gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.shown++
	return nil
}

func (s *HeadlessSink) PollKey() int {
	return NoKey
}

func (s *HeadlessSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Shown returns the number of frames passed to Show.
func (s *HeadlessSink) Shown() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown
}
