// SPDX-License-Identifier: MIT
package audio

import (
	"slices"
	"testing"
)

func TestGateEnableHotPath(t *testing.T) {
	capture := &Capture{}

	if capture.GateEnabled() {
		t.Error("Gate should be disabled initially")
	}

	capture.EnableGate()
	if !capture.GateEnabled() {
		t.Error("Gate should be enabled after EnableGate()")
	}

	capture.DisableGate()
	if capture.GateEnabled() {
		t.Error("Gate should be disabled after DisableGate()")
	}

	capture.EnableGate()
	capture.EnableGate() // Multiple calls should be idempotent
	if !capture.GateEnabled() {
		t.Error("Gate should remain enabled after multiple EnableGate()")
	}

	capture.DisableGate()
	capture.DisableGate() // Multiple calls should be idempotent
	if capture.GateEnabled() {
		t.Error("Gate should remain disabled after multiple DisableGate()")
	}
}

func TestGateThresholdBoundaries(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{-0.1, 0.0}, // Below min
		{0.0, 0.0},  // Minimum
		{0.5, 0.5},  // Middle
		{1.0, 1.0},  // Maximum
		{1.5, 1.0},  // Above max
	}

	capture := &Capture{}
	capture.EnableGate()

	for _, tt := range tests {
		t.Run(formatFloat(tt.input), func(t *testing.T) {
			capture.SetGateThreshold(tt.input)
			got := capture.GetGateThreshold()

			if absFloat(got-tt.expected) > 0.001 {
				t.Errorf("Gate threshold conversion: got %.3f, want %.3f", got, tt.expected)
			}
		})
	}
}

func TestGateDetectionHotPath(t *testing.T) {
	tests := []struct {
		desc        string
		buffer      []float64
		gateEnabled bool
		threshold   float64
		shouldOpen  bool
	}{
		{"Gate disabled/Quiet signal", quietBuffer, false, 0.1, true},                // Disabled gate always passes
		{"Gate disabled/Loud signal", loudBuffer, false, 0.1, true},                  // Disabled gate always passes
		{"Gate enabled/Quiet signal/Low threshold", quietBuffer, true, 0.0001, true}, // Very low threshold that quiet signal can pass
		{"Gate enabled/Quiet signal/Mid threshold", quietBuffer, true, 0.1, false},   // Signal below threshold
		{"Gate enabled/Loud signal/Mid threshold", loudBuffer, true, 0.1, true},      // Signal above threshold
		{"Gate enabled/Loud signal/High threshold", loudBuffer, true, 0.999, false},  // Very high threshold that even loud signal can't pass
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			capture := &Capture{}
			if tt.gateEnabled {
				capture.EnableGate()
			}
			capture.SetGateThreshold(tt.threshold)

			buf := slices.Clone(tt.buffer)
			open := capture.gate.apply(buf)

			if open != tt.shouldOpen {
				t.Errorf("Gate detection error: got open=%v, want %v (threshold=%v)",
					open, tt.shouldOpen, capture.GetGateThreshold())
			}
			if open && !slices.Equal(buf, tt.buffer) {
				t.Error("open gate modified the buffer")
			}
			if !open && slices.ContainsFunc(buf, func(v float64) bool { return v != 0 }) {
				t.Error("closed gate left samples in the buffer")
			}
		})
	}
}

func TestGateZeroAllocs(t *testing.T) {
	capture := &Capture{}
	capture.EnableGate()
	capture.SetGateThreshold(0.5)
	buf := slices.Clone(testBuffer)

	allocs := testing.AllocsPerRun(100, func() {
		_ = capture.gate.apply(buf)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in noise gate hot path, got %.1f", allocs)
	}
}

func BenchmarkGateThresholdConversionHotPath(b *testing.B) {
	capture := &Capture{}
	values := []float64{0.0, 0.25, 0.5, 0.75, 1.0}

	for _, v := range values {
		b.Run(formatFloat(v), func(b *testing.B) {
			b.ReportAllocs()

			for b.Loop() {
				capture.SetGateThreshold(v)
				_ = capture.GetGateThreshold() // Discard result to prevent optimization
			}
		})
	}
}

func BenchmarkGateProcessingHotPath(b *testing.B) {
	benchmarks := []struct {
		name      string
		buffer    []float64
		threshold float64
		enabled   bool
	}{
		{"Gate disabled/Normal", testBuffer, 0.001, false},
		{"Gate enabled/Quiet signal/Low threshold", quietBuffer, 0.001, true},
		{"Gate enabled/Normal signal/Low threshold", testBuffer, 0.001, true},
		{"Gate enabled/Loud signal/High threshold", loudBuffer, 0.999, true},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			capture := &Capture{}
			if bm.enabled {
				capture.EnableGate()
			}
			capture.SetGateThreshold(bm.threshold)
			buf := make([]float64, len(bm.buffer))

			b.ReportAllocs()

			for b.Loop() {
				copy(buf, bm.buffer)
				_ = capture.gate.apply(buf)
			}
		})
	}
}
