// Package app runs the capture, cone detection and preview loop.
package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/capture"
	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/cone"
	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/display"
)

// Loop defaults.
const (
	// DefaultMaxConsecutiveFailures is the number of frame reads in a row
	// that may fail before Run gives up.
	DefaultMaxConsecutiveFailures = 30
	// DefaultReportInterval is the period of the throughput log line.
	DefaultReportInterval = 5 * time.Second
)

// ErrTooManyFailures is returned by Run when the frame source keeps failing.
var ErrTooManyFailures = errors.New("too many consecutive frame read failures")

// Config holds configuration options for the loop.
type Config struct {
	// MaxFrames stops the loop after this many frames. 0 means no limit.
	MaxFrames              int
	MaxConsecutiveFailures int
	ReportInterval         time.Duration
	// FreezeTimeout enables the frozen feed warning when positive. Leave it
	// at 0 for replayed stills, which never change.
	FreezeTimeout time.Duration
	Clock         clock.Clock
	Logger        *zap.SugaredLogger
	// SessionID tags every log line. A random UUID is used when empty.
	SessionID string
}

// Stats summarises a run.
type Stats struct {
	Frames           int
	Skipped          int
	BlueDetections   int
	YellowDetections int
	LastBlue         []cone.Point
	LastYellow       []cone.Point
}

// App wires a frame source, a cone detector and a frame sink together.
type App struct {
	config   Config
	camera   capture.Camera
	sink     display.Sink
	detector cone.Detector
	freeze   *capture.FreezeMonitor
	logger   *zap.SugaredLogger
	clock    clock.Clock

	mu      sync.Mutex
	pending cone.Detector
	stats   Stats
}

// New creates an App. The App takes ownership of camera, sink and
// detector and releases them in Close.
func New(config Config, camera capture.Camera, sink display.Sink, detector cone.Detector) *App {
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = DefaultReportInterval
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.SessionID == "" {
		config.SessionID = uuid.NewString()
	}

	a := &App{
		config:   config,
		camera:   camera,
		sink:     sink,
		detector: detector,
		clock:    config.Clock,
		logger:   config.Logger.With("session", config.SessionID),
	}
	if config.FreezeTimeout > 0 {
		a.freeze = capture.NewFreezeMonitor(config.FreezeTimeout, config.Clock)
	}
	return a
}

// SessionID returns the id attached to this run's log lines.
func (a *App) SessionID() string {
	return a.config.SessionID
}

// SetDetector queues d to replace the current detector before the next
// frame. The replaced detector is closed by the loop. Safe to call from
// any goroutine.
func (a *App) SetDetector(d cone.Detector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending != nil {
		if err := a.pending.Close(); err != nil {
			a.logger.Warnw("closing superseded detector", "error", err)
		}
	}
	a.pending = d
}

// ApplyConfig builds a detector for cfg and queues it with SetDetector.
func (a *App) ApplyConfig(cfg cone.Config) error {
	d, err := cone.NewHSVDetector(cfg)
	if err != nil {
		return fmt.Errorf("apply tuning: %w", err)
	}
	a.SetDetector(d)
	a.logger.Infow("tuning queued",
		"blue", cfg.Blue.Swatch(),
		"yellow", cfg.Yellow.Swatch(),
		"kernel", cfg.KernelSize,
		"area_threshold", cfg.AreaThreshold,
	)
	return nil
}

// swapDetector installs a queued detector. Called by the loop between frames.
func (a *App) swapDetector() {
	a.mu.Lock()
	next := a.pending
	a.pending = nil
	a.mu.Unlock()

	if next == nil {
		return
	}
	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			a.logger.Warnw("closing previous detector", "error", err)
		}
	}
	a.detector = next
	a.logger.Info("detector replaced")
}

// Stats returns a snapshot of the loop counters.
func (a *App) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.LastBlue = append([]cone.Point(nil), a.stats.LastBlue...)
	s.LastYellow = append([]cone.Point(nil), a.stats.LastYellow...)
	return s
}

// Close releases the camera, sink and detectors.
func (a *App) Close() error {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	var err error
	if a.camera != nil {
		err = multierr.Append(err, a.camera.Close())
	}
	if a.sink != nil {
		err = multierr.Append(err, a.sink.Close())
	}
	if a.detector != nil {
		err = multierr.Append(err, a.detector.Close())
	}
	if pending != nil {
		err = multierr.Append(err, pending.Close())
	}
	if a.freeze != nil {
		err = multierr.Append(err, a.freeze.Close())
	}
	return err
}
