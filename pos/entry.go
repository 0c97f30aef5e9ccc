// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package pos

import (
	"github.com/0xsoniclabs/pospace/common/bitbuf"
)

// Entry is the logical record flowing through the plot pipeline. Which
// fields are meaningful depends on the table and phase; the Layout
// describes the packed form.
type Entry struct {
	Y       uint64
	PosL    uint64
	PosR    uint64
	SortKey uint64
	Meta    *bitbuf.Buf
}

// Layout describes the bit-packed byte layout of an entry. Fields are
// packed in the fixed order y, posL, posR, sortKey, metadata; widths of
// zero elide a field. Each entry is padded to a whole byte count.
type Layout struct {
	YBits    int
	PosBits  int // width of each of posL and posR
	KeyBits  int
	MetaBits int
}

// Phase1Layout returns the packed layout of forward-propagation entries
// of the given table.
func Phase1Layout(k, table int) Layout {
	switch {
	case table == 1:
		// f1 and the x preimage
		return Layout{YBits: k + ExtraBits, MetaBits: k}
	case table < 7:
		return Layout{YBits: k + ExtraBits, PosBits: k + 1, MetaBits: VectorLens[table+1] * k}
	default:
		// f7 keeps only its top k bits and carries no metadata
		return Layout{YBits: k, PosBits: k + 1}
	}
}

// Phase2Layout returns the packed layout of back-propagation output
// entries: renumbered pointer pairs keyed for the phase-3 sort.
func Phase2Layout(k, table int) Layout {
	if table == 7 {
		return Phase1Layout(k, 7)
	}
	return Layout{PosBits: k + 1, KeyBits: k + 1}
}

// Bits returns the total payload width of one entry.
func (l Layout) Bits() int {
	return l.YBits + 2*l.PosBits + l.KeyBits + l.MetaBits
}

// EntrySize returns the byte budget of one packed entry.
func (l Layout) EntrySize() int {
	return bitbuf.Cdiv(l.Bits(), 8)
}

// Encode packs e into out, which must be EntrySize() bytes and zeroed.
func (l Layout) Encode(e *Entry, out []byte) {
	offset := putBits(out, 0, e.Y, l.YBits)
	offset = putBits(out, offset, e.PosL, l.PosBits)
	offset = putBits(out, offset, e.PosR, l.PosBits)
	offset = putBits(out, offset, e.SortKey, l.KeyBits)
	if l.MetaBits > 0 && e.Meta != nil {
		meta := e.Meta
		for start := 0; start < l.MetaBits; start += 64 {
			w := l.MetaBits - start
			if w > 64 {
				w = 64
			}
			v := bitbuf.SliceUint64(meta.Bytes(), start, w)
			offset = putBits(out, offset, v, w)
		}
	}
}

// Decode unpacks an entry from in. The metadata, if any, is copied out.
func (l Layout) Decode(in []byte) Entry {
	var e Entry
	offset := 0
	e.Y = bitbuf.SliceUint64(in, offset, l.YBits)
	offset += l.YBits
	e.PosL = bitbuf.SliceUint64(in, offset, l.PosBits)
	offset += l.PosBits
	e.PosR = bitbuf.SliceUint64(in, offset, l.PosBits)
	offset += l.PosBits
	e.SortKey = bitbuf.SliceUint64(in, offset, l.KeyBits)
	offset += l.KeyBits
	if l.MetaBits > 0 {
		meta := &bitbuf.Buf{}
		for start := 0; start < l.MetaBits; start += 64 {
			w := l.MetaBits - start
			if w > 64 {
				w = 64
			}
			meta.AppendUint64(bitbuf.SliceUint64(in, offset+start, w), w)
		}
		e.Meta = meta
	}
	return e
}

// putBits ORs the low width bits of v into the pre-zeroed out buffer at
// the given bit offset and returns the new offset.
func putBits(out []byte, offset int, v uint64, width int) int {
	if width <= 0 {
		return offset
	}
	if width < 64 {
		v &= (uint64(1) << width) - 1
	}
	end := offset + width
	remaining := width
	for remaining > 0 {
		byteIdx := offset >> 3
		bitOff := offset & 7
		n := 8 - bitOff
		if n > remaining {
			n = remaining
		}
		chunk := byte((v >> (remaining - n)) & ((1 << n) - 1))
		out[byteIdx] |= chunk << (8 - bitOff - n)
		offset += n
		remaining -= n
	}
	return end
}
