// SPDX-License-Identifier: MIT
package analysis

import (
	"audioviz/pkg/bitint"
	"math"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// PitchSilenceRMS gates pitch detection on near-silent frames.
	PitchSilenceRMS = 0.02
	// PitchTrimThreshold is the amplitude below which leading and trailing
	// samples are dropped before correlating.
	PitchTrimThreshold = 0.2
	// PitchMinCorrelation is the weakest autocorrelation peak accepted as
	// a period estimate.
	PitchMinCorrelation = 0.01
	// PitchPeakFraction is how close to the strongest lag an earlier peak
	// must come to be taken as the period. Short periods that fall between
	// integer lags otherwise lose to a multiple and read an octave low.
	PitchPeakFraction = 0.9
)

// PitchDetector estimates the fundamental frequency of a frame from its
// autocorrelation. The correlation is computed through a zero-padded
// real FFT (Wiener-Khinchin), which gives the same linear
// c[i] = Σ x[j]·x[j+i] as the direct sum in O(n log n).
//
// A PitchDetector holds scratch buffers and is not safe for concurrent use.
type PitchDetector struct {
	fft       *fourier.FFT
	padded    []float64    // Trimmed window followed by zeros.
	spectrum  []complex128 // FFT of padded, then its power spectrum.
	re, im    []float64    // Split spectrum for the vector kernels.
	power     []float64    // |X|² per bin.
	corr      []float64    // Circular autocorrelation, first n lags valid.
	maxWindow int          // Largest window the buffers can hold.
}

// NewPitchDetector sizes a detector for frames of up to maxSamples.
// Longer frames grow the buffers on first use.
func NewPitchDetector(maxSamples int) *PitchDetector {
	d := &PitchDetector{}
	d.resize(maxSamples)
	return d
}

func (d *PitchDetector) resize(maxSamples int) {
	if maxSamples < 1 {
		maxSamples = 1
	}
	// Twice the window so the circular correlation never wraps onto the
	// lags we read.
	size := bitint.NextPowerOfTwo(2 * maxSamples)
	bins := size/2 + 1

	d.fft = fourier.NewFFT(size)
	d.padded = make([]float64, size)
	d.spectrum = make([]complex128, bins)
	d.re = make([]float64, bins)
	d.im = make([]float64, bins)
	d.power = make([]float64, bins)
	d.corr = make([]float64, size)
	d.maxWindow = maxSamples
}

// Detect returns the estimated pitch in Hz, or false when the frame is
// silent, unpitched or the estimate is not a positive finite frequency.
//
// Steps: silence gate, trim quiet edges, autocorrelate, skip the
// descending slope from lag 0, take the first peak that comes close to
// the strongest remaining lag, refine it by parabolic interpolation and
// convert the period to Hz.
func (d *PitchDetector) Detect(samples []float64, sampleRate float64) (float64, bool) {
	if len(samples) < 3 || sampleRate <= 0 {
		return 0, false
	}
	if RMS(samples) < PitchSilenceRMS {
		return 0, false
	}

	window := trimQuiet(samples, PitchTrimThreshold)
	n := len(window)
	if n < 3 {
		return 0, false
	}
	if n > d.maxWindow {
		d.resize(n)
	}

	c := d.autocorrelate(window)

	// Walk down the zero-lag peak. Whatever lag we stop at is the first
	// point where the correlation starts climbing toward the next period.
	// A correlation that never climbs has no period.
	lag := 0
	for lag < n-1 && c[lag] > c[lag+1] {
		lag++
	}
	if lag >= n-1 {
		return 0, false
	}

	best, bestCorrelation := -1, 0.0
	for i := lag + 1; i < n; i++ {
		if c[i] > bestCorrelation {
			bestCorrelation = c[i]
			best = i
		}
	}
	if best <= 0 || bestCorrelation < PitchMinCorrelation {
		return 0, false
	}
	best = firstPeak(c, lag+1, best, PitchPeakFraction*bestCorrelation)
	if best >= n-1 {
		// Still climbing at the end of the window: the period is longer
		// than the frame.
		return 0, false
	}

	period := refinePeak(c, best)
	frequency := sampleRate / period
	if !isFinite(frequency) || frequency <= 0 {
		return 0, false
	}
	return frequency, true
}

// autocorrelate returns c[0:len(window)] for the unnormalized linear
// autocorrelation of window.
func (d *PitchDetector) autocorrelate(window []float64) []float64 {
	n := len(window)
	copy(d.padded, window)
	clear(d.padded[n:])

	d.fft.Coefficients(d.spectrum, d.padded)
	for i, v := range d.spectrum {
		d.re[i] = real(v)
		d.im[i] = imag(v)
	}
	vecmath.Power(d.power, d.re, d.im)
	for i, p := range d.power {
		d.spectrum[i] = complex(p, 0)
	}
	d.fft.Sequence(d.corr, d.spectrum)

	// fourier's round trip is unnormalized by the transform length.
	vecmath.ScaleBlockInPlace(d.corr[:n], 1/float64(len(d.padded)))
	return d.corr[:n]
}

// firstPeak returns the first local maximum in c[from:best] reaching
// threshold, or best when there is none.
func firstPeak(c []float64, from, best int, threshold float64) int {
	for i := from; i < best; i++ {
		if c[i] < threshold {
			continue
		}
		for i < best && c[i+1] > c[i] {
			i++
		}
		return i
	}
	return best
}

// refinePeak fits a parabola through c[t-1], c[t], c[t+1] and returns the
// sub-sample position of its vertex. Peaks on the edge, or a flat
// neighbourhood, return t unchanged.
func refinePeak(c []float64, t int) float64 {
	if t <= 0 || t >= len(c)-1 {
		return float64(t)
	}
	x1, x2, x3 := c[t-1], c[t], c[t+1]
	denom := 2 * (x1 + x3 - 2*x2)
	if denom == 0 {
		return float64(t)
	}
	return float64(t) - (x3-x1)/denom
}

// trimQuiet drops the leading and trailing runs of samples whose absolute
// value is below threshold. Each run is searched within its half of the
// frame only, so at most half the frame is removed from either end.
func trimQuiet(samples []float64, threshold float64) []float64 {
	n := len(samples)
	start := 0
	for start < n/2 && math.Abs(samples[start]) < threshold {
		start++
	}
	end := n
	for end > n/2 && math.Abs(samples[end-1]) < threshold {
		end--
	}
	return samples[start:end]
}

// AutocorrelatePitch is a convenience wrapper around a throwaway
// PitchDetector. The engine keeps its own detector to avoid allocating
// per tick.
func AutocorrelatePitch(samples []float64, sampleRate float64) (float64, bool) {
	return NewPitchDetector(len(samples)).Detect(samples, sampleRate)
}
