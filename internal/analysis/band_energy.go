// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// BandConfig describes one frequency band [MinHz, MaxHz) and the
// attack/decay rates of its envelope. High attack with low decay gives a
// VU-meter style ballistic: transients register at once and trail off.
type BandConfig struct {
	MinHz  float64 `yaml:"min_hz"`
	MaxHz  float64 `yaml:"max_hz"`
	Attack float64 `yaml:"attack"`
	Decay  float64 `yaml:"decay"`
}

// BandEnergy returns the mean of the normalized spectrum bins covering
// [minHz, maxHz]. Bin width is (sampleRate/2)/len(spectrum) and the index
// range is [floor(minHz/width), floor(maxHz/width)], clamped to the slice.
// An empty range (band above Nyquist, inverted band, empty spectrum)
// yields 0.
func BandEnergy(spectrum []float64, minHz, maxHz, sampleRate float64) float64 {
	start, end := bandBins(len(spectrum), minHz, maxHz, sampleRate)
	if start > end {
		return 0
	}
	return vecmath.Sum(spectrum[start:end+1]) / float64(end-start+1)
}

// bandBins maps a frequency range onto an inclusive bin index range. The
// returned start is greater than end when the range holds no bins.
func bandBins(bins int, minHz, maxHz, sampleRate float64) (start, end int) {
	if bins == 0 || sampleRate <= 0 || !isFinite(minHz) || !isFinite(maxHz) {
		return 1, 0
	}

	binWidth := (sampleRate / 2) / float64(bins)
	lo := math.Floor(minHz / binWidth)
	hi := math.Floor(maxHz / binWidth)

	if lo < 0 {
		lo = 0
	}
	if hi > float64(bins-1) {
		hi = float64(bins - 1)
	}
	if lo > hi {
		return 1, 0
	}
	return int(lo), int(hi)
}
