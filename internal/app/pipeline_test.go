package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"gocv.io/x/gocv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/capture"
	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/cone"
	"github.com/danielbara00/f24ai-blue-buggy-raspi/internal/cone/conetest"
)

var errFlaky = errors.New("select timeout")

func testConfig(t *testing.T) Config {
	return Config{
		Clock:  clock.NewMock(),
		Logger: zaptest.NewLogger(t).Sugar(),
	}
}

func TestRun_EndOfStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	det := cone.NewMockDetector()
	det.SetPoints([]cone.Point{{X: 10, Y: 20, Area: 40}, {X: 30, Y: 40, Area: 50}}, []cone.Point{{X: 5, Y: 6, Area: 31}})
	sink := &recordingSink{}

	a := New(testConfig(t), &scriptedCamera{steps: frames(3)}, sink, det)
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	s := a.Stats()
	want := Stats{
		Frames:           3,
		BlueDetections:   6,
		YellowDetections: 3,
		LastBlue:         []cone.Point{{X: 10, Y: 20, Area: 40}, {X: 30, Y: 40, Area: 50}},
		LastYellow:       []cone.Point{{X: 5, Y: 6, Area: 31}},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
	if sink.shown != 3 || det.Calls() != 3 {
		t.Errorf("shown = %d, detect calls = %d, want 3 and 3", sink.shown, det.Calls())
	}
}

func TestRun_MaxFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := conetest.Blank(32, 24)
	defer frame.Close()
	cam := capture.NewReplayCamera([]*gocv.Mat{&frame}, true)
	cam.SetFPS(1000)

	cfg := testConfig(t)
	cfg.MaxFrames = 5
	sink := &recordingSink{}

	a := New(cfg, cam, sink, cone.NewMockDetector())
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := a.Stats().Frames; got != 5 {
		t.Errorf("Frames = %d, want 5", got)
	}
}

func TestRun_QuitKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	sink := &recordingSink{quitAfter: 2}
	a := New(testConfig(t), &scriptedCamera{steps: frames(10)}, sink, cone.NewMockDetector())
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sink.shown != 2 {
		t.Errorf("shown = %d, want 2", sink.shown)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{onShow: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	a := New(testConfig(t), &scriptedCamera{steps: frames(10)}, sink, cone.NewMockDetector())
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sink.shown != 3 {
		t.Errorf("shown = %d, want 3", sink.shown)
	}
}

func TestRun_OpenFails(t *testing.T) {
	openErr := errors.New("no such device")
	a := New(testConfig(t), &scriptedCamera{openErr: openErr}, &recordingSink{}, cone.NewMockDetector())
	defer a.Close()

	if err := a.Run(context.Background()); !errors.Is(err, openErr) {
		t.Errorf("Run() error = %v, want %v", err, openErr)
	}
}

func TestRun_NoDetector(t *testing.T) {
	a := New(testConfig(t), &scriptedCamera{}, &recordingSink{}, nil)
	defer a.Close()

	if err := a.Run(context.Background()); err == nil {
		t.Error("Run() without a detector should fail")
	}
}

func TestRun_ReadFailuresSkipped(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	cam := &scriptedCamera{steps: []step{{err: errFlaky}, {err: errFlaky}, {}, {err: errFlaky}, {}}}
	sink := &recordingSink{}
	a := New(testConfig(t), cam, sink, cone.NewMockDetector())
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	s := a.Stats()
	if s.Frames != 2 || s.Skipped != 3 {
		t.Errorf("Frames = %d, Skipped = %d, want 2 and 3", s.Frames, s.Skipped)
	}
}

func TestRun_TooManyFailures(t *testing.T) {
	steps := make([]step, 10)
	for i := range steps {
		steps[i].err = errFlaky
	}

	cfg := testConfig(t)
	cfg.MaxConsecutiveFailures = 3
	a := New(cfg, &scriptedCamera{steps: steps}, &recordingSink{}, cone.NewMockDetector())
	defer a.Close()

	err := a.Run(context.Background())
	if !errors.Is(err, ErrTooManyFailures) {
		t.Fatalf("Run() error = %v, want ErrTooManyFailures", err)
	}
	if !errors.Is(err, errFlaky) {
		t.Errorf("Run() error = %v, should wrap the last read error", err)
	}
	if got := a.Stats().Skipped; got != 3 {
		t.Errorf("Skipped = %d, want 3", got)
	}
}

func TestRun_DetectorErrorSkipsFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	det := cone.NewMockDetector()
	det.SetError(cone.ErrNotBGR)
	sink := &recordingSink{}

	a := New(testConfig(t), &scriptedCamera{steps: frames(2)}, sink, det)
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sink.shown != 0 {
		t.Errorf("shown = %d, want 0", sink.shown)
	}
	if s := a.Stats(); s.Skipped != 2 || s.Frames != 0 {
		t.Errorf("Frames = %d, Skipped = %d, want 0 and 2", s.Frames, s.Skipped)
	}
}

func TestRun_SinkErrorStops(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	showErr := errors.New("window destroyed")
	a := New(testConfig(t), &scriptedCamera{steps: frames(3)}, &recordingSink{showErr: showErr}, cone.NewMockDetector())
	defer a.Close()

	if err := a.Run(context.Background()); !errors.Is(err, showErr) {
		t.Errorf("Run() error = %v, want %v", err, showErr)
	}
}

func TestRun_SwapsDetectorBetweenFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	first := cone.NewMockDetector()
	second := cone.NewMockDetector()
	second.SetPoints([]cone.Point{{X: 1, Y: 1, Area: 30}}, nil)

	var a *App
	sink := &recordingSink{onShow: func(n int) {
		if n == 2 {
			a.SetDetector(second)
		}
	}}
	a = New(testConfig(t), &scriptedCamera{steps: frames(5)}, sink, first)
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.Calls() != 2 || second.Calls() != 3 {
		t.Errorf("calls = %d/%d, want 2/3", first.Calls(), second.Calls())
	}
	if !first.Closed() {
		t.Error("replaced detector should be closed")
	}
	if got := a.Stats().BlueDetections; got != 3 {
		t.Errorf("BlueDetections = %d, want 3", got)
	}
}

func TestRun_ApplyConfig(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := conetest.Frame(conetest.Width, conetest.Height,
		conetest.VerticalBar(300, 6, 10, 50, conetest.Blue))
	defer frame.Close()
	cam := capture.NewReplayCamera([]*gocv.Mat{&frame}, false)
	cam.SetFPS(1000)

	mock := cone.NewMockDetector()
	a := New(testConfig(t), cam, &recordingSink{}, mock)
	defer a.Close()

	if err := a.ApplyConfig(cone.DefaultConfig()); err != nil {
		t.Fatalf("ApplyConfig() error = %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if mock.Calls() != 0 || !mock.Closed() {
		t.Errorf("mock detector calls = %d closed = %v, want replaced before the first frame", mock.Calls(), mock.Closed())
	}
	want := []cone.Point{{X: 302, Y: 50}}
	if diff := cmp.Diff(want, a.Stats().LastBlue, cmpIgnoreArea); diff != "" {
		t.Errorf("LastBlue mismatch (-want +got):\n%s", diff)
	}
}

var cmpIgnoreArea = cmp.Comparer(func(a, b cone.Point) bool {
	return a.X == b.X && a.Y == b.Y
})

func TestRun_LogsThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	core, logs := observer.New(zapcore.InfoLevel)
	mock := clock.NewMock()
	cfg := Config{
		Clock:          mock,
		Logger:         zap.New(core).Sugar(),
		ReportInterval: 2 * time.Second,
		SessionID:      "bench-7",
	}
	sink := &recordingSink{onShow: func(int) { mock.Add(time.Second) }}

	a := New(cfg, &scriptedCamera{steps: frames(4)}, sink, cone.NewMockDetector())
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	reports := logs.FilterMessage("throughput").All()
	if len(reports) != 2 {
		t.Fatalf("throughput lines = %d, want 2", len(reports))
	}
	fields := reports[1].ContextMap()
	if fields["fps"] != "1.0" || fields["frames"] != int64(4) {
		t.Errorf("second report fields = %v, want fps 1.0 and 4 frames", fields)
	}
	for _, e := range logs.All() {
		if e.ContextMap()["session"] != "bench-7" {
			t.Errorf("log %q missing session id", e.Message)
		}
	}
}

func TestRun_WarnsOnFrozenFeed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	core, logs := observer.New(zapcore.InfoLevel)
	mock := clock.NewMock()
	cfg := Config{
		Clock:         mock,
		Logger:        zap.New(core).Sugar(),
		FreezeTimeout: time.Second,
	}
	sink := &recordingSink{onShow: func(int) { mock.Add(time.Second) }}

	a := New(cfg, &scriptedCamera{steps: frames(5)}, sink, cone.NewMockDetector())
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := logs.FilterMessage("camera feed appears frozen").Len(); got != 1 {
		t.Errorf("frozen warnings = %d, want 1", got)
	}
}

func TestRun_FreezeMonitorRestartsEachRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	core, logs := observer.New(zapcore.InfoLevel)
	mock := clock.NewMock()
	cfg := Config{
		Clock:         mock,
		Logger:        zap.New(core).Sugar(),
		FreezeTimeout: time.Second,
	}
	sink := &recordingSink{onShow: func(int) { mock.Add(time.Second) }}
	cam := &scriptedCamera{steps: frames(2)}

	a := New(cfg, cam, sink, cone.NewMockDetector())
	defer a.Close()

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	// The camera sits idle between runs and then delivers the same image.
	mock.Add(time.Minute)
	cam.steps, cam.next = frames(2), 0

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if got := logs.FilterMessage("camera feed appears frozen").Len(); got != 0 {
		t.Errorf("frozen warnings = %d, want 0", got)
	}
}
