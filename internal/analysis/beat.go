// SPDX-License-Identifier: MIT
package analysis

// BeatDetector flags bass onsets: a raw bass level that is both above an
// absolute floor and a proportional jump over the previous tick's
// smoothed bass.
//
// The comparison must use the smoothed value from before this tick's
// smoothing step. Smoothing with a fast attack pulls the envelope almost
// onto the raw value, so comparing against the fresh envelope would make
// the ratio test fail on every tick.
type BeatDetector struct {
	ThresholdRatio float64 // Required rise over the previous envelope (> 1).
	MinEnergy      float64 // Raw bass at or below this never triggers.
}

// Detect reports whether rawBass is an onset relative to previousSmoothed.
func (d BeatDetector) Detect(rawBass, previousSmoothed float64) bool {
	return rawBass > d.MinEnergy && rawBass > previousSmoothed*d.ThresholdRatio
}
