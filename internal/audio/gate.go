// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-vecmath"
)

// noiseGate silences whole buffers whose peak level stays below a
// threshold. Settings are atomic so a UI can change them while the
// callback runs.
type noiseGate struct {
	enabled   atomic.Bool
	threshold atomic.Uint64 // math.Float64bits of a level in [0,1].
}

// apply zeroes buf when the gate is closed and reports whether it was open.
func (g *noiseGate) apply(buf []float64) bool {
	if !g.enabled.Load() {
		return true
	}
	if vecmath.MaxAbs(buf) >= math.Float64frombits(g.threshold.Load()) {
		return true
	}
	clear(buf)
	return false
}

func (c *Capture) EnableGate() {
	c.gate.enabled.Store(true)
}

func (c *Capture) DisableGate() {
	c.gate.enabled.Store(false)
}

// GateEnabled reports whether the gate is active.
func (c *Capture) GateEnabled() bool {
	return c.gate.enabled.Load()
}

// SetGateThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=closed for
// anything below full scale.
func (c *Capture) SetGateThreshold(threshold float64) {
	if threshold < 0.0 || math.IsNaN(threshold) {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}

	c.gate.threshold.Store(math.Float64bits(threshold))
}

// GetGateThreshold returns the current noise gate threshold in [0,1].
func (c *Capture) GetGateThreshold() float64 {
	return math.Float64frombits(c.gate.threshold.Load())
}
