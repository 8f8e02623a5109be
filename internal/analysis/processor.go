// SPDX-License-Identifier: MIT
package analysis

// SignalSource supplies one analysis frame per tick. It is the boundary
// between the platform's audio capture and the feature pipeline.
//
// The engine calls TimeDomainFrame and then FrequencyMagnitudes once per
// tick, always with destination slices of the lengths fixed at engine
// construction (FFT size and FFT size / 2). A source that has nothing to
// offer yet (stream not started, file exhausted) returns false and leaves
// dst untouched; the engine then skips the tick.
type SignalSource interface {
	// SampleRate returns the rate, in Hz, of the samples the source delivers.
	SampleRate() int

	// TimeDomainFrame copies the latest len(dst) samples, oldest first,
	// approximately within [-1, 1].
	TimeDomainFrame(dst []float64) bool

	// FrequencyMagnitudes copies the magnitude spectrum matching the last
	// time-domain frame, one bin per entry, normalized to [0, 1].
	FrequencyMagnitudes(dst []float64) bool
}

// Exhaustible is implemented by sources with a natural end, such as file
// playback. Drivers stop ticking once Exhausted reports true.
type Exhaustible interface {
	Exhausted() bool
}
