// SPDX-License-Identifier: MIT
package udp

import (
	"audioviz/internal/analysis"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Tick              | uint64         | 8            | Engine tick of the data |
| Volume            | float32        | 4            | [0,1]                   |
| Bass, Mid, Treble | float32 x 3    | 12           | [0,1]                   |
| Energy            | float32        | 4            | [0,1]                   |
| Variability       | float32        | 4            | [0,1]                   |
| Peak              | float32        | 4            | [0,1]                   |
| Pitch             | float32        | 4            | Hz, 0 when unknown      |
| MIDI              | int16          | 2            | Note number             |
| Flags             | uint8          | 1            | bit0 beat, bit1 pitched |
+-----------------------------------------------------------------------------+
*/

// PacketSize is the encoded length of one snapshot packet.
const PacketSize = 4 + 8 + 8 + 8*4 + 2 + 1

const (
	flagBeat    = 1 << 0
	flagPitched = 1 << 1
)

// Packet is a decoded snapshot packet.
type Packet struct {
	Sequence    uint32
	Timestamp   time.Time
	Tick        uint64
	Volume      float32
	Bass        float32
	Mid         float32
	Treble      float32
	Energy      float32
	Variability float32
	Peak        float32
	Pitch       float32
	MIDI        int16
	Beat        bool
	Pitched     bool
}

// Note returns the note the packet's MIDI number names, or the unknown
// note when no pitch was detected.
func (p Packet) Note() analysis.Note {
	if !p.Pitched {
		return analysis.UnknownNote
	}
	return analysis.MIDIToNote(int(p.MIDI))
}

// encodePacket writes s into buf, which must hold PacketSize bytes.
func encodePacket(buf []byte, seq uint32, ts time.Time, s analysis.Snapshot) {
	be := binary.BigEndian
	be.PutUint32(buf[0:], seq)
	be.PutUint64(buf[4:], uint64(ts.UnixNano()))
	be.PutUint64(buf[12:], s.Tick)

	off := 20
	for _, v := range [...]float64{s.Volume, s.Bass, s.Mid, s.Treble, s.Energy, s.Variability, s.Peak, s.Pitch} {
		be.PutUint32(buf[off:], math.Float32bits(float32(v)))
		off += 4
	}

	var flags uint8
	midi := int16(0)
	if s.Beat {
		flags |= flagBeat
	}
	if s.Pitch > 0 {
		flags |= flagPitched
		midi = int16(s.MIDI)
	}
	be.PutUint16(buf[off:], uint16(midi))
	buf[off+2] = flags
}

// DecodePacket parses one snapshot packet.
func DecodePacket(buf []byte) (Packet, error) {
	if len(buf) != PacketSize {
		return Packet{}, fmt.Errorf("packet is %d bytes, want %d", len(buf), PacketSize)
	}

	be := binary.BigEndian
	p := Packet{
		Sequence:  be.Uint32(buf[0:]),
		Timestamp: time.Unix(0, int64(be.Uint64(buf[4:]))),
		Tick:      be.Uint64(buf[12:]),
	}

	off := 20
	for _, dst := range [...]*float32{&p.Volume, &p.Bass, &p.Mid, &p.Treble, &p.Energy, &p.Variability, &p.Peak, &p.Pitch} {
		*dst = math.Float32frombits(be.Uint32(buf[off:]))
		off += 4
	}

	p.MIDI = int16(be.Uint16(buf[off:]))
	flags := buf[off+2]
	p.Beat = flags&flagBeat != 0
	p.Pitched = flags&flagPitched != 0
	return p, nil
}
