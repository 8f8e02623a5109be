// SPDX-License-Identifier: MIT
package analysis

import (
	"audioviz/pkg/utils"
	"errors"
	"math"
	"sync"
	"testing"
)

// frameSource hands the engine the same frame every tick until told
// otherwise.
type frameSource struct {
	rate      int
	frame     []float64
	spectrum  []float64
	available bool
}

func (s *frameSource) SampleRate() int { return s.rate }

func (s *frameSource) TimeDomainFrame(dst []float64) bool {
	if !s.available {
		return false
	}
	n := copy(dst, s.frame)
	clear(dst[n:])
	return true
}

func (s *frameSource) FrequencyMagnitudes(dst []float64) bool {
	if !s.available {
		return false
	}
	n := copy(dst, s.spectrum)
	clear(dst[n:])
	return true
}

func newTestEngine(t testing.TB, cfg Config, src *frameSource) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, src)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func assertNormalized(t *testing.T, s Snapshot) {
	t.Helper()
	fields := map[string]float64{
		"volume":      s.Volume,
		"bass":        s.Bass,
		"mid":         s.Mid,
		"treble":      s.Treble,
		"energy":      s.Energy,
		"variability": s.Variability,
		"peak":        s.Peak,
	}
	for name, v := range fields {
		if math.IsNaN(v) || v < 0 || v > 1 {
			t.Errorf("%s = %v, want finite within [0,1]", name, v)
		}
	}
	if math.IsNaN(s.Pitch) || math.IsInf(s.Pitch, 0) || s.Pitch < 0 {
		t.Errorf("pitch = %v, want finite and >= 0", s.Pitch)
	}
}

func TestNewEngineErrors(t *testing.T) {
	if _, err := NewEngine(DefaultConfig(), nil); !errors.Is(err, ErrNilSource) {
		t.Errorf("NewEngine(nil source) error = %v, want ErrNilSource", err)
	}

	src := &frameSource{rate: 0}
	if _, err := NewEngine(DefaultConfig(), src); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewEngine(zero rate) error = %v, want ErrInvalidConfig", err)
	}

	cfg := DefaultConfig()
	cfg.FFTSize = 1000
	src.rate = testSampleRate
	if _, err := NewEngine(cfg, src); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewEngine(bad fft size) error = %v, want ErrInvalidConfig", err)
	}
}

func TestEngineInitialSnapshot(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(), &frameSource{rate: testSampleRate})
	s := e.Snapshot()
	if s != (Snapshot{Note: "-"}) {
		t.Errorf("initial snapshot = %+v, want zero with note \"-\"", s)
	}
	if e.Sensitivity() != DefaultSensitivity {
		t.Errorf("Sensitivity() = %v, want %v", e.Sensitivity(), DefaultSensitivity)
	}
}

func TestEngineEndToEnd440(t *testing.T) {
	cfg := DefaultConfig()
	src := &frameSource{
		rate:      testSampleRate,
		frame:     utils.GenerateSineWave(cfg.FFTSize, testSampleRate, 440, 0.5),
		spectrum:  utils.GenerateBandSpectrum(cfg.FFTSize/2, testSampleRate, 250, 2000, 0.8),
		available: true,
	}
	e := newTestEngine(t, cfg, src)

	if !e.Advance() {
		t.Fatal("Advance() = false with a frame available")
	}
	s := e.Snapshot()
	assertNormalized(t, s)

	if math.Abs(s.Pitch-440) > 4.4 {
		t.Errorf("pitch = %.2f, want ~440", s.Pitch)
	}
	if s.NoteString() != "A4" {
		t.Errorf("note = %s, want A4", s.NoteString())
	}

	// Sine RMS is amplitude/sqrt(2), smoothed once at the volume rate.
	wantVolume := cfg.VolumeSmoothing * 0.5 / math.Sqrt2
	if !almostEqual(s.Volume, wantVolume, 1e-3) {
		t.Errorf("volume = %v, want %v", s.Volume, wantVolume)
	}
	if s.Bass != 0 {
		t.Errorf("bass = %v, want 0", s.Bass)
	}
	if s.Mid <= s.Treble || s.Mid < 0.35 {
		t.Errorf("mid = %v treble = %v, want mid dominant", s.Mid, s.Treble)
	}
	if s.Beat {
		t.Error("beat detected without bass")
	}
	if s.Tick != 1 || e.Ticks() != 1 {
		t.Errorf("tick = %d, Ticks() = %d, want 1", s.Tick, e.Ticks())
	}
}

func TestEngineBeatOnStep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FFTSize = 256
	cfg.BeatThreshold = 1.15
	cfg.BeatMinVolume = 0.15

	src := &frameSource{
		rate:      testSampleRate,
		frame:     make([]float64, cfg.FFTSize),
		spectrum:  filled(cfg.FFTSize/2, 0.05),
		available: true,
	}
	e := newTestEngine(t, cfg, src)

	for i := range 10 {
		e.Advance()
		if e.Snapshot().Beat {
			t.Fatalf("tick %d: beat at a steady level below the floor", i)
		}
	}

	src.spectrum = filled(cfg.FFTSize/2, 0.5)
	e.Advance()
	if !e.Snapshot().Beat {
		t.Fatal("no beat on the 0.05 -> 0.5 step")
	}

	e.Advance()
	if e.Snapshot().Beat {
		t.Errorf("beat repeated on a sustained level (bass envelope %v)", e.Snapshot().Bass)
	}
}

func TestEngineClamping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FFTSize = 256
	src := &frameSource{
		rate:      testSampleRate,
		frame:     filled(cfg.FFTSize, 1),
		spectrum:  filled(cfg.FFTSize/2, 1),
		available: true,
	}
	e := newTestEngine(t, cfg, src)
	e.SetSensitivity(10)

	for range 500 {
		e.Advance()
		assertNormalized(t, e.Snapshot())
	}

	s := e.Snapshot()
	for name, v := range map[string]float64{"volume": s.Volume, "bass": s.Bass, "mid": s.Mid, "treble": s.Treble} {
		if v < 0.999 {
			t.Errorf("%s = %v after saturation, want ~1", name, v)
		}
	}
}

func TestEngineUnavailableFrame(t *testing.T) {
	cfg := DefaultConfig()
	src := &frameSource{
		rate:      testSampleRate,
		frame:     utils.GenerateSineWave(cfg.FFTSize, testSampleRate, 440, 0.5),
		spectrum:  filled(cfg.FFTSize/2, 0.5),
		available: true,
	}
	e := newTestEngine(t, cfg, src)
	e.Advance()
	before := e.Snapshot()

	src.available = false
	for range 5 {
		if e.Advance() {
			t.Fatal("Advance() = true with no frame available")
		}
	}
	if after := e.Snapshot(); after != before {
		t.Errorf("state changed on skipped ticks:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestEngineNonFiniteInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FFTSize = 256

	frame := utils.GenerateSineWave(cfg.FFTSize, testSampleRate, 1000, 0.5)
	frame[3] = math.NaN()
	frame[7] = math.Inf(1)
	frame[9] = math.Inf(-1)

	spectrum := filled(cfg.FFTSize/2, 0.2)
	spectrum[0] = math.NaN()
	spectrum[1] = 2
	spectrum[2] = -1
	spectrum[50] = math.Inf(1)

	src := &frameSource{rate: testSampleRate, frame: frame, spectrum: spectrum, available: true}
	e := newTestEngine(t, cfg, src)

	for range 3 {
		if !e.Advance() {
			t.Fatal("Advance() = false")
		}
		assertNormalized(t, e.Snapshot())
	}
}

func TestEnginePitchRetainedAndSmoothed(t *testing.T) {
	cfg := DefaultConfig()
	src := &frameSource{
		rate:      testSampleRate,
		frame:     utils.GenerateSineWave(cfg.FFTSize, testSampleRate, 440, 0.5),
		spectrum:  make([]float64, cfg.FFTSize/2),
		available: true,
	}
	e := newTestEngine(t, cfg, src)
	e.Advance()
	first := e.Snapshot()

	// Silence keeps the last estimate.
	src.frame = make([]float64, cfg.FFTSize)
	e.Advance()
	if s := e.Snapshot(); s.Pitch != first.Pitch || s.Note != first.Note || s.Octave != first.Octave {
		t.Errorf("pitch after silence = %v %s, want %v %s", s.Pitch, s.NoteString(), first.Pitch, first.NoteString())
	}

	// So does a DC offset, which has no period.
	src.frame = filled(cfg.FFTSize, 0.5)
	e.Advance()
	if s := e.Snapshot(); s.Pitch != first.Pitch || s.Note != first.Note {
		t.Errorf("pitch after DC frame = %v %s, want %v %s", s.Pitch, s.NoteString(), first.Pitch, first.NoteString())
	}

	// A new estimate moves the pitch by the smoothing rate only.
	src.frame = utils.GenerateSineWave(cfg.FFTSize, testSampleRate, 880, 0.5)
	e.Advance()
	want := first.Pitch + (880-first.Pitch)*cfg.PitchSmoothing
	if s := e.Snapshot(); math.Abs(s.Pitch-want)/want > 0.01 {
		t.Errorf("pitch = %v, want ~%v", s.Pitch, want)
	}
}

func TestEngineSpectrumDescriptors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FFTSize = 256
	bins := cfg.FFTSize / 2

	alternating := make([]float64, bins)
	for i := range alternating {
		alternating[i] = float64(i % 2)
	}
	src := &frameSource{
		rate:      testSampleRate,
		frame:     make([]float64, cfg.FFTSize),
		spectrum:  alternating,
		available: true,
	}
	e := newTestEngine(t, cfg, src)
	e.Advance()

	s := e.Snapshot()
	if !almostEqual(s.Energy, 0.5, epsilon) {
		t.Errorf("energy = %v, want 0.5", s.Energy)
	}
	if want := float64(bins-1) / float64(bins); !almostEqual(s.Variability, want, epsilon) {
		t.Errorf("variability = %v, want %v", s.Variability, want)
	}
	if s.Peak != 1 {
		t.Errorf("peak = %v, want 1", s.Peak)
	}

	src.spectrum = make([]float64, bins)
	e.Advance()
	if s := e.Snapshot(); !almostEqual(s.Peak, cfg.PeakDecay, epsilon) {
		t.Errorf("peak after silence = %v, want %v", s.Peak, cfg.PeakDecay)
	}
}

func TestEngineSensitivity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FFTSize = 256
	src := &frameSource{
		rate:      testSampleRate,
		frame:     filled(cfg.FFTSize, 0.5),
		spectrum:  filled(cfg.FFTSize/2, 0.5),
		available: true,
	}
	e := newTestEngine(t, cfg, src)

	for _, tt := range []struct{ in, want float64 }{
		{2, 2},
		{0, 0},
		{-1, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{1.4, 1.4},
	} {
		e.SetSensitivity(tt.in)
		if got := e.Sensitivity(); got != tt.want {
			t.Errorf("SetSensitivity(%v): Sensitivity() = %v, want %v", tt.in, got, tt.want)
		}
	}

	e.SetSensitivity(0)
	e.Advance()
	if s := e.Snapshot(); s.Volume != 0 || s.Bass != 0 || s.Mid != 0 || s.Treble != 0 {
		t.Errorf("zero gain produced levels: %+v", s)
	}
}

func TestEngineConcurrentSensitivity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FFTSize = 256
	src := &frameSource{
		rate:      testSampleRate,
		frame:     utils.GenerateSineWave(cfg.FFTSize, testSampleRate, 1000, 0.5),
		spectrum:  filled(cfg.FFTSize/2, 0.3),
		available: true,
	}
	e := newTestEngine(t, cfg, src)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 1000 {
			e.SetSensitivity(float64(i%5) * 0.5)
		}
	}()
	for range 1000 {
		e.Advance()
	}
	wg.Wait()
	assertNormalized(t, e.Snapshot())
}

func TestEngineReset(t *testing.T) {
	cfg := DefaultConfig()
	src := &frameSource{
		rate:      testSampleRate,
		frame:     utils.GenerateSineWave(cfg.FFTSize, testSampleRate, 440, 0.5),
		spectrum:  filled(cfg.FFTSize/2, 0.6),
		available: true,
	}
	e := newTestEngine(t, cfg, src)
	e.SetSensitivity(1.4)
	for range 5 {
		e.Advance()
	}

	e.Reset()
	s := e.Snapshot()
	if s != (Snapshot{Tick: 5, Note: "-"}) {
		t.Errorf("snapshot after Reset = %+v, want zeroed", s)
	}
	if e.Sensitivity() != 1.4 {
		t.Errorf("Reset changed sensitivity to %v", e.Sensitivity())
	}

	// Reset state reseeds pitch directly from the next estimate.
	e.Advance()
	if s := e.Snapshot(); math.Abs(s.Pitch-440) > 4.4 {
		t.Errorf("pitch after Reset and one tick = %v, want ~440", s.Pitch)
	}
}

func TestEngineAdvanceZeroAllocs(t *testing.T) {
	cfg := DefaultConfig()
	src := &frameSource{
		rate:      testSampleRate,
		frame:     utils.GenerateComplexWave(cfg.FFTSize, testSampleRate),
		spectrum:  utils.GenerateBandSpectrum(cfg.FFTSize/2, testSampleRate, 20, 4000, 0.7),
		available: true,
	}
	e := newTestEngine(t, cfg, src)

	e.Advance()
	allocs := testing.AllocsPerRun(100, func() {
		e.Advance()
		_ = e.Snapshot()
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Engine.Advance, got %.1f", allocs)
	}
}

func BenchmarkEngineAdvance(b *testing.B) {
	cfg := DefaultConfig()
	src := &frameSource{
		rate:      testSampleRate,
		frame:     utils.GenerateComplexWave(cfg.FFTSize, testSampleRate),
		spectrum:  utils.GenerateBandSpectrum(cfg.FFTSize/2, testSampleRate, 20, 4000, 0.7),
		available: true,
	}
	e := newTestEngine(b, cfg, src)

	b.ReportAllocs()

	for b.Loop() {
		e.Advance()
	}
}
