// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package bitbuf

import (
	"github.com/0xsoniclabs/pospace/common"
)

// Headroom is the number of zero bytes kept past the end of byte regions
// handed to SliceUint64. The extractor may touch up to 7 bytes beyond the
// last byte holding payload bits; bytes missing from a shorter slice read
// as zero, so the headroom is not required for correctness.
const Headroom = 7

// Buf accumulates an MSB-first bit string. The zero value is an empty
// buffer ready for use.
type Buf struct {
	data []byte
	bits int
}

// FromBytes constructs a buffer over the first bitLen bits of src.
// The data is copied.
func FromBytes(src []byte, bitLen int) *Buf {
	n := (bitLen + 7) / 8
	b := &Buf{data: make([]byte, n, n+Headroom), bits: bitLen}
	copy(b.data, src[:n])
	// mask the unused tail bits of the last byte
	if tail := bitLen % 8; tail != 0 && n > 0 {
		b.data[n-1] &= byte(0xff << (8 - tail))
	}
	return b
}

// Len returns the number of bits stored.
func (b *Buf) Len() int {
	return b.bits
}

// Reset empties the buffer, keeping its storage for reuse.
func (b *Buf) Reset() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.data = b.data[:0]
	b.bits = 0
}

// AppendUint64 appends the low width bits of v, most significant first.
// Width must be in [0, 64].
func (b *Buf) AppendUint64(v uint64, width int) {
	if width <= 0 {
		return
	}
	if width < 64 {
		v &= (uint64(1) << width) - 1
	}
	for width > 0 {
		byteIdx := b.bits >> 3
		bitOff := b.bits & 7
		if byteIdx == len(b.data) {
			b.data = append(b.data, 0)
		}
		n := 8 - bitOff
		if n > width {
			n = width
		}
		chunk := byte((v >> (width - n)) & ((1 << n) - 1))
		b.data[byteIdx] |= chunk << (8 - bitOff - n)
		b.bits += n
		width -= n
	}
}

// Append appends all bits of o.
func (b *Buf) Append(o *Buf) {
	for start := 0; start < o.bits; start += 64 {
		w := o.bits - start
		if w > 64 {
			w = 64
		}
		b.AppendUint64(SliceUint64(o.data, start, w), w)
	}
}

// Slice returns the bits in [start, end) as a new buffer.
func (b *Buf) Slice(start, end int) *Buf {
	if start < 0 || end > b.bits || start > end {
		return &Buf{}
	}
	out := &Buf{data: make([]byte, 0, (end-start+7)/8+Headroom)}
	for ; start < end; start += 64 {
		w := end - start
		if w > 64 {
			w = 64
		}
		out.AppendUint64(SliceUint64(b.data, start, w), w)
	}
	return out
}

// Uint64At extracts width bits starting at bit offset start as an
// unsigned integer. Extractions wider than 64 bits are not expressible
// and fail with ErrWidthOverflow.
func (b *Buf) Uint64At(start, width int) (uint64, error) {
	if width > 64 {
		return 0, common.ErrWidthOverflow
	}
	if start < 0 || start+width > b.bits {
		return 0, common.ErrInvalidValue
	}
	return SliceUint64(b.data, start, width), nil
}

// Bytes returns the packed bytes, the last byte zero-padded. The slice
// aliases the buffer's storage.
func (b *Buf) Bytes() []byte {
	return b.data[:(b.bits+7)/8]
}

// ToBytes writes the packed representation into out, which must hold at
// least (Len()+7)/8 bytes.
func (b *Buf) ToBytes(out []byte) {
	copy(out, b.Bytes())
}

// SliceUint64 extracts width (<= 64) bits starting at bit offset start
// from b, MSB-first. Reading past the end of b yields zero bits, so
// callers either tolerate the zero tail or size their buffers with
// Headroom extra bytes.
func SliceUint64(b []byte, start, width int) uint64 {
	if width <= 0 {
		return 0
	}
	b = b[start>>3:]
	start &= 7

	var window uint64
	n := len(b)
	if n > 8 {
		n = 8
	}
	for i := 0; i < n; i++ {
		window |= uint64(b[i]) << (56 - 8*i)
	}
	if start > 0 {
		window <<= start
		if len(b) > 8 {
			window |= uint64(b[8]) >> (8 - start)
		}
	}
	return window >> (64 - width)
}

// CompareSuffix lexicographically compares the bit suffixes of two
// equally sized entries starting at bit offset beginBits. It returns a
// negative, zero or positive value like bytes.Compare.
func CompareSuffix(left, right []byte, beginBits int) int {
	startByte := beginBits / 8
	mask := byte((1 << (8 - beginBits%8)) - 1)
	if beginBits%8 == 0 {
		mask = 0xff
	}
	l := left[startByte] & mask
	r := right[startByte] & mask
	if l != r {
		if l < r {
			return -1
		}
		return 1
	}
	for i := startByte + 1; i < len(left); i++ {
		if left[i] != right[i] {
			if left[i] < right[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ByteAlign rounds a bit count up to the next byte boundary.
func ByteAlign(bits int) int {
	return bits + (8-bits%8)%8
}

// Cdiv is the ceiling division a/b for positive b.
func Cdiv(a, b int) int {
	return (a + b - 1) / b
}

// RoundPow2 rounds n up to the next power of two. Zero rounds to one.
func RoundPow2(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}
