// Command conecheck shows live blue and yellow cone detections from the
// buggy's camera so a colour tuning can be checked during bring-up.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/app"
	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/capture"
	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/cone"
	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/display"
	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/logging"
	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/tuning"
)

const (
	// Flags.
	flagDevice      = "device"
	flagWidth       = "width"
	flagHeight      = "height"
	flagFPS         = "fps"
	flagProfile     = "profile"
	flagWatch       = "watch"
	flagStills      = "stills"
	flagLoop        = "loop"
	flagHeadless    = "headless"
	flagMaxFrames   = "max-frames"
	flagMaxFailures = "max-failures"
	flagDebug       = "debug"
)

// HighGUI must be driven from the main OS thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "conecheck:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "conecheck",
		Usage: "preview blue and yellow cone detection on the camera feed",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    flagDevice,
				Aliases: []string{"d"},
				Value:   0,
				Usage:   "camera device id",
			},
			&cli.IntFlag{Name: flagWidth, Value: capture.DefaultWidth, Usage: "frame width"},
			&cli.IntFlag{Name: flagHeight, Value: capture.DefaultHeight, Usage: "frame height"},
			&cli.IntFlag{Name: flagFPS, Value: capture.DefaultFPS, Usage: "capture or replay rate"},
			&cli.PathFlag{
				Name:    flagProfile,
				Aliases: []string{"p"},
				Usage:   "load the colour tuning from `FILE`",
			},
			&cli.BoolFlag{Name: flagWatch, Usage: "reload the tuning profile when it changes"},
			&cli.PathFlag{Name: flagStills, Usage: "replay the images in `DIR` instead of the camera"},
			&cli.BoolFlag{Name: flagLoop, Usage: "loop the stills"},
			&cli.BoolFlag{Name: flagHeadless, Usage: "run without preview windows"},
			&cli.IntFlag{Name: flagMaxFrames, Usage: "stop after N frames (0 for no limit)"},
			&cli.IntFlag{
				Name:  flagMaxFailures,
				Value: app.DefaultMaxConsecutiveFailures,
				Usage: "consecutive frame read failures tolerated",
			},
			&cli.BoolFlag{Name: flagDebug, Usage: "enable debug logging"},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:  "profile",
				Usage: "print the effective tuning as a YAML profile",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:    flagProfile,
						Aliases: []string{"p"},
						Usage:   "start from the tuning in `FILE`",
					},
				},
				Action: printProfile,
			},
		},
	}
}

func loadTuning(path string) (cone.Config, error) {
	if path == "" {
		return cone.DefaultConfig(), nil
	}
	return tuning.Load(path)
}

func printProfile(c *cli.Context) error {
	cfg, err := loadTuning(c.Path(flagProfile))
	if err != nil {
		return err
	}
	data, err := tuning.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func run(c *cli.Context) error {
	if c.Bool(flagWatch) && c.Path(flagProfile) == "" {
		return cli.Exit("--watch needs --profile", 2)
	}

	base, err := logging.New("conecheck", c.Bool(flagDebug))
	if err != nil {
		return err
	}
	defer base.Sync() //nolint:errcheck

	sessionID := uuid.NewString()
	logger := base.With("session", sessionID)
	logger.Infow("starting", "gocv", gocv.Version(), "opencv", gocv.OpenCVVersion())

	cfg, err := loadTuning(c.Path(flagProfile))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger.Infow("tuning",
		"blue", cfg.Blue.Swatch(),
		"yellow", cfg.Yellow.Swatch(),
		"kernel", cfg.KernelSize,
		"area_threshold", cfg.AreaThreshold,
	)

	detector, err := cone.NewHSVDetector(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	source, release, err := openSource(c, logger)
	if err != nil {
		detector.Close()
		return err
	}
	defer release()

	var sink display.Sink
	if c.Bool(flagHeadless) {
		sink = display.NewHeadlessSink()
	} else {
		sink = display.NewWindowSink()
	}

	appConfig := app.Config{
		MaxFrames:              c.Int(flagMaxFrames),
		MaxConsecutiveFailures: c.Int(flagMaxFailures),
		Logger:                 base,
		SessionID:              sessionID,
	}
	if c.Path(flagStills) == "" {
		appConfig.FreezeTimeout = capture.DefaultFreezeTimeout
	}
	loop := app.New(appConfig, source, sink, detector)
	defer func() {
		if err := loop.Close(); err != nil {
			logger.Warnw("shutdown", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool(flagWatch) {
		go func() {
			err := tuning.Watch(ctx, c.Path(flagProfile), logger, func(cfg cone.Config) {
				if err := loop.ApplyConfig(cfg); err != nil {
					logger.Warnw("rejected tuning", "error", err)
				}
			})
			if err != nil {
				logger.Warnw("profile watch stopped", "error", err)
			}
		}()
	}

	runErr := loop.Run(ctx)

	s := loop.Stats()
	logger.Infow("done",
		"frames", s.Frames,
		"skipped", s.Skipped,
		"blue_detections", s.BlueDetections,
		"yellow_detections", s.YellowDetections,
	)
	return runErr
}

// openSource opens the camera or loads the stills. The release func frees
// anything the source does not own.
func openSource(c *cli.Context, logger *zap.SugaredLogger) (capture.Camera, func(), error) {
	width, height, fps := c.Int(flagWidth), c.Int(flagHeight), c.Int(flagFPS)

	if dir := c.Path(flagStills); dir != "" {
		frames, err := capture.LoadStills(dir, width, height)
		if err != nil {
			return nil, nil, cli.Exit(err.Error(), 1)
		}
		replay := capture.NewReplayCamera(frames, c.Bool(flagLoop))
		replay.SetFPS(fps)
		logger.Infow("replaying stills", "dir", dir, "count", replay.Len(), "loop", c.Bool(flagLoop))
		release := func() {
			for _, f := range frames {
				f.Close()
			}
		}
		return replay, release, nil
	}

	opts := capture.Options{
		DeviceID: c.Int(flagDevice),
		Width:    width,
		Height:   height,
		FPS:      fps,
	}
	camera := capture.NewCamera(opts)
	if err := camera.Open(); err != nil {
		return nil, nil, cli.Exit(err.Error(), 1)
	}
	logger.Infow("camera open", "device", opts.DeviceID, "width", width, "height", height, "fps", camera.FPS())
	return camera, func() {}, nil
}
