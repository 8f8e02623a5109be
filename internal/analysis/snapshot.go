// SPDX-License-Identifier: MIT
package analysis

import "fmt"

// Snapshot is the per-tick feature set handed to renderers and transports.
// Normalized channels are finite and within [0,1]. Pitch is 0 and Note is
// "-" until a pitch has been detected.
type Snapshot struct {
	Tick        uint64  `json:"tick"`
	Volume      float64 `json:"volume"`
	Energy      float64 `json:"energy"`
	Variability float64 `json:"variability"`
	Peak        float64 `json:"peak"`
	Pitch       float64 `json:"pitch"`
	Note        string  `json:"note"`
	Octave      int     `json:"octave"`
	MIDI        int     `json:"midi"`
	Beat        bool    `json:"beat"`
	Bass        float64 `json:"bass"`
	Mid         float64 `json:"mid"`
	Treble      float64 `json:"treble"`
}

// NoteString formats the note and octave, e.g. "A4", or "-" when unknown.
func (s Snapshot) NoteString() string {
	return Note{Name: s.Note, Octave: s.Octave, MIDI: s.MIDI}.String()
}

// String renders a one-line summary for logs.
func (s Snapshot) String() string {
	beat := ' '
	if s.Beat {
		beat = '*'
	}
	return fmt.Sprintf("#%d vol=%.3f bass=%.3f mid=%.3f treble=%.3f energy=%.3f var=%.3f peak=%.3f pitch=%.1fHz note=%s %c",
		s.Tick, s.Volume, s.Bass, s.Mid, s.Treble, s.Energy, s.Variability, s.Peak, s.Pitch, s.NoteString(), beat)
}

// state is the engine's persistent smoothed analysis state.
type state struct {
	volume, bass, mid, treble float64
	energy, variability, peak float64
	pitch                     float64
	note                      Note
	beat                      bool
}

func newState() state {
	return state{note: UnknownNote}
}

func (s *state) snapshot(tick uint64) Snapshot {
	return Snapshot{
		Tick:        tick,
		Volume:      s.volume,
		Energy:      s.energy,
		Variability: s.variability,
		Peak:        s.peak,
		Pitch:       s.pitch,
		Note:        s.note.Name,
		Octave:      s.note.Octave,
		MIDI:        s.note.MIDI,
		Beat:        s.beat,
		Bass:        s.bass,
		Mid:         s.mid,
		Treble:      s.treble,
	}
}
