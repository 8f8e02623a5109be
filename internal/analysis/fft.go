// SPDX-License-Identifier: MIT
package analysis

import (
	"audioviz/pkg/bitint"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var windowNames = map[WindowFunc]string{
	BartlettHann:    "bartletthann",
	Blackman:        "blackman",
	BlackmanNuttall: "blackmannuttall",
	Hann:            "hann",
	Hamming:         "hamming",
	Lanczos:         "lanczos",
	Nuttall:         "nuttall",
}

func (w WindowFunc) String() string {
	if name, ok := windowNames[w]; ok {
		return name
	}
	return fmt.Sprintf("WindowFunc(%d)", int(w))
}

// Spectrum analyser defaults. These match the analyser node browsers
// expose to audio visualisers, so levels look the same as there.
const (
	DefaultMinDecibels           = -100.0
	DefaultMaxDecibels           = -30.0
	DefaultSmoothingTimeConstant = 0.8
)

var (
	ErrFFTSize      = errors.New("fft size must be a power of 2 between 32 and 32768")
	ErrDecibelRange = errors.New("min decibels must be below max decibels")
	ErrTimeConstant = errors.New("smoothing time constant must be within [0, 1)")
)

// SpectrumConfig selects the transform size and how raw magnitudes are
// mapped to the normalized [0,1] range.
type SpectrumConfig struct {
	FFTSize               int
	Window                WindowFunc
	MinDecibels           float64 // Maps to 0.
	MaxDecibels           float64 // Maps to 1.
	SmoothingTimeConstant float64 // Weight of the previous frame, 0 disables smoothing.
}

// DefaultSpectrumConfig returns a Blackman-windowed analyser of fftSize.
func DefaultSpectrumConfig(fftSize int) SpectrumConfig {
	return SpectrumConfig{
		FFTSize:               fftSize,
		Window:                Blackman,
		MinDecibels:           DefaultMinDecibels,
		MaxDecibels:           DefaultMaxDecibels,
		SmoothingTimeConstant: DefaultSmoothingTimeConstant,
	}
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c SpectrumConfig) Validate() error {
	if !validFFTSize(c.FFTSize) {
		return fmt.Errorf("%w: %w, got %d", ErrInvalidConfig, ErrFFTSize, c.FFTSize)
	}
	if !(c.MinDecibels < c.MaxDecibels) {
		return fmt.Errorf("%w: %w, got [%g, %g]", ErrInvalidConfig, ErrDecibelRange, c.MinDecibels, c.MaxDecibels)
	}
	if !(c.SmoothingTimeConstant >= 0 && c.SmoothingTimeConstant < 1) {
		return fmt.Errorf("%w: %w, got %g", ErrInvalidConfig, ErrTimeConstant, c.SmoothingTimeConstant)
	}
	return nil
}

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	input     []float64    // Windowed input signal.
	fftOutput []complex128 // FFT complex results, N/2 + 1 values.
	re, im    []float64    // Split FFT output for the vector kernels.
	magnitude []float64    // |X| / N per bin.
	smoothed  []float64    // Time-smoothed magnitude carried between frames.
	window    []float64    // Pre-calculated window coefficients.
}

// Spectrum turns a time-domain frame into FFTSize/2 normalized magnitude
// bins: window, FFT, |X|/N, exponential smoothing against the previous
// frame, conversion to decibels and a linear map of
// [MinDecibels, MaxDecibels] onto [0,1]. The Nyquist bin is dropped.
//
// Spectrum keeps smoothing state between calls and is not safe for
// concurrent use; callers that share it must serialise Process.
type Spectrum struct {
	fftCalculator *fourier.FFT
	cfg           SpectrumConfig
	workspace     fftWorkspace
	dbScale       float64 // 1 / (MaxDecibels - MinDecibels).
}

// NewSpectrum validates cfg and allocates all buffers up front.
func NewSpectrum(cfg SpectrumConfig) (*Spectrum, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := cfg.FFTSize
	windowCoeffs := make([]float64, n)
	if err := applyWindow(windowCoeffs, cfg.Window); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	// FFT output size for real input is N/2 + 1 complex values.
	outputSize := n/2 + 1

	return &Spectrum{
		fftCalculator: fourier.NewFFT(n),
		cfg:           cfg,
		dbScale:       1 / (cfg.MaxDecibels - cfg.MinDecibels),
		workspace: fftWorkspace{
			input:     make([]float64, n),
			fftOutput: make([]complex128, outputSize),
			re:        make([]float64, outputSize),
			im:        make([]float64, outputSize),
			magnitude: make([]float64, outputSize),
			smoothed:  make([]float64, n/2),
			window:    windowCoeffs,
		},
	}, nil
}

// Bins returns the number of magnitudes Process writes (FFTSize / 2).
func (s *Spectrum) Bins() int {
	return s.cfg.FFTSize / 2
}

// Config returns the analyser settings.
func (s *Spectrum) Config() SpectrumConfig {
	return s.cfg
}

// BinFrequency returns the centre frequency of bin i for sampleRate.
func (s *Spectrum) BinFrequency(i int, sampleRate float64) float64 {
	if i < 0 || i >= s.Bins() {
		return 0
	}
	return float64(i) * sampleRate / float64(s.cfg.FFTSize)
}

// Process analyses samples and writes Bins() normalized magnitudes to dst.
// samples shorter than FFTSize are zero-padded at the end; longer input is
// truncated to its most recent FFTSize samples. dst must hold Bins() values.
func (s *Spectrum) Process(samples, dst []float64) {
	ws := &s.workspace
	n := s.cfg.FFTSize

	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	copy(ws.input, samples)
	clear(ws.input[len(samples):])
	vecmath.MulBlockInPlace(ws.input, ws.window)

	s.fftCalculator.Coefficients(ws.fftOutput, ws.input)
	for i, c := range ws.fftOutput {
		ws.re[i] = real(c)
		ws.im[i] = imag(c)
	}
	vecmath.Magnitude(ws.magnitude, ws.re, ws.im)
	vecmath.ScaleBlockInPlace(ws.magnitude, 1/float64(n))

	tau := s.cfg.SmoothingTimeConstant
	bins := s.Bins()
	for i := range dst[:bins] {
		m := tau*ws.smoothed[i] + (1-tau)*ws.magnitude[i]
		if !isFinite(m) {
			m = 0
		}
		ws.smoothed[i] = m

		db := math.Inf(-1)
		if m > 0 {
			db = 20 * math.Log10(m)
		}
		dst[i] = clamp01((db - s.cfg.MinDecibels) * s.dbScale)
	}
}

// Reset discards the smoothing history.
func (s *Spectrum) Reset() {
	clear(s.workspace.smoothed)
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Blackman) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman", "":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Blackman, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window.
func applyWindow(coeffs []float64, windowType WindowFunc) error {
	// The gonum window functions scale in place, start from a flat window.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		return fmt.Errorf("unknown window function type %d", windowType)
	}
	return nil
}

func validFFTSize(n int) bool {
	return n >= 32 && n <= 32768 && bitint.IsPowerOfTwo(n)
}
