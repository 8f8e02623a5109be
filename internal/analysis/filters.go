// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"strconv"

	"github.com/cwbudde/algo-vecmath"
)

// RMS returns the root mean square of samples. An empty slice yields 0.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(vecmath.DotProduct(samples, samples) / float64(len(samples)))
}

// AsymmetricSmooth moves current toward target by a fraction that depends
// on direction: rise when the target is above current, fall otherwise.
// A fall rate <= 0 means "not configured" and rise is used both ways.
// Non-finite inputs are treated as 0 so a single bad value cannot poison
// the smoothed state.
func AsymmetricSmooth(current, target, rise, fall float64) float64 {
	if !isFinite(current) {
		current = 0
	}
	if !isFinite(target) {
		target = 0
	}

	rate := rise
	if target <= current && fall > 0 {
		rate = fall
	}

	return current + (target-current)*rate
}

// Smooth is AsymmetricSmooth with a single rate in both directions.
func Smooth(current, target, rate float64) float64 {
	return AsymmetricSmooth(current, target, rate, 0)
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// UnknownNoteName marks a Note with no defined pitch.
const UnknownNoteName = "-"

// Note is an equal-tempered pitch class and octave (A4 = 440Hz).
type Note struct {
	Name   string
	Octave int
	MIDI   int
}

// UnknownNote is returned for frequencies that cannot be mapped.
var UnknownNote = Note{Name: UnknownNoteName}

// Known reports whether n refers to a real pitch.
func (n Note) Known() bool {
	return n.Name != UnknownNoteName && n.Name != ""
}

// String formats the note as e.g. "A4", or "-" when unknown.
func (n Note) String() string {
	if !n.Known() {
		return UnknownNoteName
	}
	return n.Name + strconv.Itoa(n.Octave)
}

// FrequencyToNote maps a frequency to the nearest semitone.
// Non-positive and non-finite frequencies return UnknownNote.
func FrequencyToNote(frequencyHz float64) Note {
	if !isFinite(frequencyHz) || frequencyHz <= 0 {
		return UnknownNote
	}

	return MIDIToNote(int(math.Round(12*math.Log2(frequencyHz/440))) + 69)
}

// MIDIToNote names a MIDI note number, e.g. 69 is A4.
func MIDIToNote(midi int) Note {
	// Sub-audio frequencies give negative MIDI numbers; floor division
	// keeps the octave and pitch class consistent.
	octave := floorDiv(midi, 12) - 1
	index := midi - floorDiv(midi, 12)*12

	return Note{Name: noteNames[index], Octave: octave, MIDI: midi}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	if !isFinite(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
