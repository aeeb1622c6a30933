package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/capture"
	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/display"
)

// Run opens the source if needed and processes frames until the sink
// reports the quit key, ctx is done, the source runs out of frames or the
// frame limit is reached. All of these return nil.
//
// Each iteration:
//  1. install a queued detector, if any
//  2. read a frame; a failed read is logged and skipped
//  3. detect cones and show the raw and annotated frames
//  4. poll the sink for the quit key
//
// Run must be called from the goroutine that owns the sink, which for
// HighGUI windows is the main goroutine.
func (a *App) Run(ctx context.Context) error {
	if !a.camera.IsOpen() {
		if err := a.camera.Open(); err != nil {
			return fmt.Errorf("open frame source: %w", err)
		}
	}
	a.swapDetector()
	if a.detector == nil {
		return errors.New("no detector configured")
	}
	if a.freeze != nil {
		// A previous run's last frame says nothing about this one.
		a.freeze.Reset()
	}

	a.logger.Infow("loop started", "fps", a.camera.FPS(), "max_frames", a.config.MaxFrames)

	var (
		read     int
		failures int
		frozen   bool
		report   = newThroughput(a.clock.Now())
	)

	for {
		if err := ctx.Err(); err != nil {
			a.logger.Infow("loop interrupted", "reason", err)
			return nil
		}
		if a.config.MaxFrames > 0 && read >= a.config.MaxFrames {
			a.logger.Infow("frame limit reached", "frames", read)
			return nil
		}

		a.swapDetector()

		frame, err := a.camera.ReadFrame()
		if errors.Is(err, capture.ErrEndOfStream) {
			a.logger.Info("frame source exhausted")
			return nil
		}
		if err != nil {
			failures++
			a.skip()
			a.logger.Warnw("frame read failed", "error", err, "consecutive", failures)
			if failures >= a.config.MaxConsecutiveFailures {
				return fmt.Errorf("%w: %d in a row, last: %w", ErrTooManyFailures, failures, err)
			}
			continue
		}
		failures = 0
		read++

		if a.freeze != nil {
			frozen = a.checkFreeze(*frame, frozen)
		}

		err = a.processFrame(*frame)
		frame.Close()
		if err != nil {
			return err
		}

		if display.IsQuit(a.sink.PollKey()) {
			a.logger.Info("quit key pressed")
			return nil
		}

		if now := a.clock.Now(); report.due(now, a.config.ReportInterval) {
			a.logThroughput(report.take(now, a.Stats()))
		}
	}
}

// processFrame runs detection on one frame and shows the result. A
// detection failure skips the frame; only a sink failure is returned.
func (a *App) processFrame(frame gocv.Mat) error {
	result, err := a.detector.Detect(frame)
	if err != nil {
		a.skip()
		a.logger.Warnw("cone detection failed, frame skipped", "error", err)
		return nil
	}
	defer result.Close()

	if err := a.sink.Show(frame, result.Annotated); err != nil {
		return fmt.Errorf("show frame: %w", err)
	}

	a.mu.Lock()
	a.stats.Frames++
	a.stats.BlueDetections += len(result.Blue)
	a.stats.YellowDetections += len(result.Yellow)
	a.stats.LastBlue = result.Blue
	a.stats.LastYellow = result.Yellow
	a.mu.Unlock()

	a.logger.Debugw("frame", "blue", result.Blue, "yellow", result.Yellow)
	return nil
}

func (a *App) skip() {
	a.mu.Lock()
	a.stats.Skipped++
	a.mu.Unlock()
}

// checkFreeze logs when the feed freezes and when it recovers, and returns
// the new frozen state.
func (a *App) checkFreeze(frame gocv.Mat, wasFrozen bool) bool {
	frozen, still := a.freeze.Observe(frame)
	switch {
	case frozen && !wasFrozen:
		a.logger.Warnw("camera feed appears frozen", "unchanged_for", still)
	case !frozen && wasFrozen:
		a.logger.Info("camera feed recovered")
	}
	return frozen
}

func (a *App) logThroughput(s throughputSample) {
	a.logger.Infow("throughput",
		"fps", fmt.Sprintf("%.1f", s.fps),
		"frames", s.stats.Frames,
		"skipped", s.stats.Skipped,
		"blue", len(s.stats.LastBlue),
		"yellow", len(s.stats.LastYellow),
	)
}

// throughput tracks frames shown between report lines.
type throughput struct {
	since  time.Time
	frames int
}

type throughputSample struct {
	fps   float64
	stats Stats
}

func newThroughput(now time.Time) *throughput {
	return &throughput{since: now}
}

func (t *throughput) due(now time.Time, interval time.Duration) bool {
	return now.Sub(t.since) >= interval
}

// take returns the rate since the previous sample and starts a new window.
func (t *throughput) take(now time.Time, s Stats) throughputSample {
	elapsed := now.Sub(t.since)
	sample := throughputSample{stats: s}
	if elapsed > 0 {
		sample.fps = float64(s.Frames-t.frames) / elapsed.Seconds()
	}
	t.since = now
	t.frames = s.Frames
	return sample
}
