// SPDX-License-Identifier: MIT
package driver

import (
	"audioviz/internal/analysis"
	"audioviz/internal/transport"
	"audioviz/pkg/utils"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const testSampleRate = 44100

// testSource serves the same frame a fixed number of times, or forever
// when frames is negative.
type testSource struct {
	frame    []float64
	spectrum []float64
	frames   int
}

func newTestSource(frames int) *testSource {
	cfg := analysis.DefaultConfig()
	spectrum := make([]float64, cfg.FFTSize/2)
	for i := range spectrum {
		spectrum[i] = 0.5
	}
	return &testSource{
		frame:    utils.GenerateSineWave(cfg.FFTSize, testSampleRate, 440, 0.5),
		spectrum: spectrum,
		frames:   frames,
	}
}

func (s *testSource) SampleRate() int { return testSampleRate }

func (s *testSource) TimeDomainFrame(dst []float64) bool {
	if s.frames == 0 {
		return false
	}
	if s.frames > 0 {
		s.frames--
	}
	copy(dst, s.frame)
	return true
}

func (s *testSource) FrequencyMagnitudes(dst []float64) bool {
	copy(dst, s.spectrum)
	return true
}

// finiteSource adds an end to testSource.
type finiteSource struct{ *testSource }

func (s finiteSource) Exhausted() bool { return s.frames == 0 }

type failingTransport struct {
	sends int
}

func (f *failingTransport) Send(any) error { f.sends++; return errors.New("unreachable") }
func (f *failingTransport) Close() error   { return errors.New("close failed") }

func newTestDriver(t *testing.T, src analysis.SignalSource, sinks ...transport.Transport) *Driver {
	t.Helper()
	engine, err := analysis.NewEngine(analysis.DefaultConfig(), src)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	d, err := New(engine, src, time.Millisecond, sinks...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func TestNewErrors(t *testing.T) {
	src := newTestSource(-1)
	engine, err := analysis.NewEngine(analysis.DefaultConfig(), src)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if _, err := New(nil, src, time.Second); err == nil {
		t.Error("expected an error for a nil engine")
	}
	if _, err := New(engine, nil, time.Second); err == nil {
		t.Error("expected an error for a nil source")
	}
	for _, interval := range []time.Duration{0, -time.Second} {
		if _, err := New(engine, src, interval); !errors.Is(err, ErrInterval) {
			t.Errorf("New(interval %v) error = %v, want %v", interval, err, ErrInterval)
		}
	}
}

func TestLatestBeforeFirstTick(t *testing.T) {
	d := newTestDriver(t, newTestSource(-1))
	want := analysis.Snapshot{Note: analysis.UnknownNoteName}
	if got := d.Latest(); got != want {
		t.Errorf("Latest() = %+v, want %+v", got, want)
	}
}

func TestStepPublishes(t *testing.T) {
	sink := &utils.MockTransport{}
	d := newTestDriver(t, newTestSource(-1), sink)

	for i := 1; i <= 3; i++ {
		if !d.Step() {
			t.Fatalf("Step() %d = false", i)
		}
		if sink.Count() != i {
			t.Fatalf("sink received %d snapshots, want %d", sink.Count(), i)
		}
		got, ok := sink.Last().(analysis.Snapshot)
		if !ok {
			t.Fatalf("sink received %T, want analysis.Snapshot", sink.Last())
		}
		if got.Tick != uint64(i) {
			t.Errorf("snapshot tick = %d, want %d", got.Tick, i)
		}
		if got != d.Latest() {
			t.Errorf("Latest() = %+v, sink got %+v", d.Latest(), got)
		}
	}

	if s := d.Latest(); s.Volume <= 0 || s.Bass <= 0 || s.Pitch <= 0 {
		t.Errorf("expected live features, got %+v", s)
	}
}

func TestStepWithoutFrame(t *testing.T) {
	sink := &utils.MockTransport{}
	d := newTestDriver(t, newTestSource(0), sink)

	if d.Step() {
		t.Error("Step() = true without a frame")
	}
	if d.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", d.Skipped())
	}
	if sink.Count() != 0 {
		t.Errorf("sink received %d snapshots on a skipped tick", sink.Count())
	}
}

func TestRequestReset(t *testing.T) {
	src := newTestSource(4)
	d := newTestDriver(t, src)

	for range 4 {
		d.Step()
	}
	if d.Latest().Volume == 0 {
		t.Fatal("expected a non-zero volume before reset")
	}

	d.RequestReset()
	// The source is dry, so the only effect of this tick is the reset.
	if d.Step() {
		t.Fatal("Step() = true with a dry source")
	}
	want := analysis.Snapshot{Tick: 4, Note: analysis.UnknownNoteName}
	if got := d.Latest(); got != want {
		t.Errorf("Latest() after reset = %+v, want %+v", got, want)
	}

	// The request is consumed once.
	src.frames = 1
	d.Step()
	if d.Latest().Volume == 0 {
		t.Error("reset applied twice")
	}
}

func TestSinkErrorsDoNotStopTicks(t *testing.T) {
	failing := &failingTransport{}
	mock := &utils.MockTransport{}
	d := newTestDriver(t, newTestSource(-1), failing, mock)

	for range 3 {
		if !d.Step() {
			t.Fatal("Step() = false")
		}
	}
	if failing.sends != 3 || mock.Count() != 3 {
		t.Errorf("sends = %d/%d, want 3/3", failing.sends, mock.Count())
	}

	err := d.Close()
	if err == nil {
		t.Error("Close() should report the failing sink")
	}
	if !mock.Closed {
		t.Error("Close() should still close the remaining sinks")
	}
}

func TestSensitivityPassthrough(t *testing.T) {
	d := newTestDriver(t, newTestSource(-1))
	d.SetSensitivity(2.5)
	if d.Sensitivity() != 2.5 {
		t.Errorf("Sensitivity() = %v, want 2.5", d.Sensitivity())
	}
}

func TestDrain(t *testing.T) {
	sink := &utils.MockTransport{}
	d := newTestDriver(t, finiteSource{newTestSource(5)}, sink)

	if err := d.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if sink.Count() != 5 {
		t.Errorf("sink received %d snapshots, want 5", sink.Count())
	}
	if d.Latest().Tick != 5 {
		t.Errorf("Latest().Tick = %d, want 5", d.Latest().Tick)
	}
}

func TestDrainErrors(t *testing.T) {
	d := newTestDriver(t, newTestSource(-1))
	if err := d.Drain(context.Background()); !errors.Is(err, ErrNotExhaustible) {
		t.Errorf("Drain() error = %v, want %v", err, ErrNotExhaustible)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d = newTestDriver(t, finiteSource{newTestSource(5)})
	if err := d.Drain(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Drain(cancelled) error = %v, want %v", err, context.Canceled)
	}
}

func TestRunStopsWhenExhausted(t *testing.T) {
	sink := &utils.MockTransport{}
	d := newTestDriver(t, finiteSource{newTestSource(3)}, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Run() returned only after the timeout")
	}
	if sink.Count() != 3 {
		t.Errorf("sink received %d snapshots, want 3", sink.Count())
	}
}

func TestRunConcurrentReaders(t *testing.T) {
	d := newTestDriver(t, newTestSource(-1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 200 {
				s := d.Latest()
				if s.Volume < 0 || s.Volume > 1 {
					t.Errorf("Latest().Volume = %v out of range", s.Volume)
					return
				}
				d.SetSensitivity(float64(i + j%3))
				if j%50 == 0 {
					d.RequestReset()
				}
			}
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for d.Latest().Tick == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if d.Latest().Tick == 0 {
		t.Error("Run() never published a tick")
	}
}

func BenchmarkStep(b *testing.B) {
	src := newTestSource(-1)
	engine, err := analysis.NewEngine(analysis.DefaultConfig(), src)
	if err != nil {
		b.Fatal(err)
	}
	d, err := New(engine, src, time.Millisecond)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()

	for b.Loop() {
		d.Step()
	}
}
