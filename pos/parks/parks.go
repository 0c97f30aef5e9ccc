// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package parks compresses sorted line-point runs into the fixed-size
// "parks" of the final plot: an absolute first line point, a run of raw
// stubs, and an entropy-coded tail of the high delta bits.
package parks

import (
	"encoding/binary"
	"fmt"

	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/pos"
	"github.com/holiman/uint256"
	"github.com/klauspost/compress/fse"
)

// rawFlag marks an uncompressed delta tail in the size word.
const rawFlag = 0x8000

// LinePointSizeBytes is the byte budget of the absolute first line point.
func LinePointSizeBytes(k int) int {
	return bitbuf.ByteAlign(2*k) / 8
}

// StubsSizeBytes is the byte budget of a full park's stub run.
func StubsSizeBytes(k int) int {
	return bitbuf.ByteAlign((pos.EntriesPerPark-1)*(k-pos.StubMinusBits)) / 8
}

// MaxDeltasSizeBytes is the byte budget of the delta tail, including its
// two-byte size word.
func MaxDeltasSizeBytes(k, table int) int {
	bits := pos.MaxAverageDelta
	if table == 1 {
		bits = pos.MaxAverageDeltaTable1
	}
	return bitbuf.ByteAlign(int(float64(pos.EntriesPerPark-1)*bits)) / 8
}

// ParkSizeBytes is the fixed byte size of one park of the given table.
func ParkSizeBytes(k, table int) int {
	return LinePointSizeBytes(k) + StubsSizeBytes(k) + MaxDeltasSizeBytes(k, table)
}

// C3SizeBytes is the fixed byte size of one C3 checkpoint park.
func C3SizeBytes(k int) int {
	if k < 20 {
		return bitbuf.ByteAlign(8*pos.Checkpoint1Interval) / 8
	}
	return bitbuf.ByteAlign(int(pos.C3BitsPerEntry*pos.Checkpoint1Interval)) / 8
}

// P7ParkSizeBytes is the fixed byte size of one table-7 position park.
func P7ParkSizeBytes(k int) int {
	return bitbuf.ByteAlign((k+1)*pos.EntriesPerPark) / 8
}

// xEnc computes x*(x-1)/2 without overflow.
func xEnc(x uint64) *uint256.Int {
	a, b := x, x-1
	if x == 0 {
		return uint256.NewInt(0)
	}
	if a%2 == 0 {
		a /= 2
	} else {
		b /= 2
	}
	return new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
}

// SquareToLinePoint maps an unordered pair to its line point: the pair is
// folded into the triangle y < x, then enumerated as x*(x-1)/2 + y.
func SquareToLinePoint(x, y uint64) *uint256.Int {
	if y > x {
		x, y = y, x
	}
	return new(uint256.Int).Add(xEnc(x), uint256.NewInt(y))
}

// LinePointToSquare inverts SquareToLinePoint, returning the pair with
// the larger coordinate first.
func LinePointToSquare(lp *uint256.Int) (uint64, uint64) {
	var x uint64
	for i := 63; i >= 0; i-- {
		next := x + uint64(1)<<i
		if xEnc(next).Cmp(lp) <= 0 {
			x = next
		}
	}
	y := new(uint256.Int).Sub(lp, xEnc(x))
	return x, y.Uint64()
}

// Codec encodes and decodes parks, reusing its entropy-coder scratch
// space. A Codec is not safe for concurrent use.
type Codec struct {
	scratch fse.Scratch
}

// NewCodec creates a codec.
func NewCodec() *Codec {
	c := &Codec{}
	c.scratch.DecompressLimit = pos.Checkpoint1Interval
	return c
}

// EncodePark writes the sorted line points into out, which must be
// ParkSizeBytes(k, table) bytes and zeroed. Parks with fewer than
// EntriesPerPark entries (the last park of a table) zero-pad their stub
// and delta runs.
func (c *Codec) EncodePark(k, table int, lps []*uint256.Int, out []byte) error {
	if len(lps) == 0 || len(lps) > pos.EntriesPerPark {
		return fmt.Errorf("%w: park of %d line points", common.ErrInvalidValue, len(lps))
	}
	putBig(out, 0, lps[0], 2*k)

	stubBits := k - pos.StubMinusBits
	stubRegion := out[LinePointSizeBytes(k):]
	deltas := make([]byte, 0, len(lps)-1)
	offset := 0
	delta := new(uint256.Int)
	for i := 1; i < len(lps); i++ {
		if lps[i].Cmp(lps[i-1]) < 0 {
			return fmt.Errorf("%w: unsorted line points in park", common.ErrInvalidValue)
		}
		delta.Sub(lps[i], lps[i-1])
		if !delta.IsUint64() || delta.Uint64()>>(uint(stubBits)+8) != 0 {
			return fmt.Errorf("%w: line-point delta too large for park", common.ErrInvalidValue)
		}
		d := delta.Uint64()
		putBits(stubRegion, offset, d&((1<<stubBits)-1), stubBits)
		offset += stubBits
		deltas = append(deltas, byte(d>>stubBits))
	}

	deltaRegion := out[LinePointSizeBytes(k)+StubsSizeBytes(k):]
	size, err := c.encodeDeltas(deltas, deltaRegion[2:MaxDeltasSizeBytes(k, table)])
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(deltaRegion, size)
	return nil
}

// LinePointAt decodes the line point at the given in-park index from a
// packed park.
func (c *Codec) LinePointAt(k, table int, park []byte, index int) (*uint256.Int, error) {
	if len(park) < ParkSizeBytes(k, table) || index < 0 || index >= pos.EntriesPerPark {
		return nil, fmt.Errorf("%w: park read at index %d", common.ErrInvalidValue, index)
	}
	lp := getBig(park, 0, 2*k)
	if index == 0 {
		return lp, nil
	}

	deltaRegion := park[LinePointSizeBytes(k)+StubsSizeBytes(k):]
	deltas, err := c.decodeDeltas(deltaRegion, MaxDeltasSizeBytes(k, table))
	if err != nil {
		return nil, err
	}
	if index > len(deltas) {
		return nil, fmt.Errorf("%w: park holds %d deltas, want index %d",
			common.ErrInvalidValue, len(deltas), index)
	}

	stubBits := k - pos.StubMinusBits
	stubRegion := park[LinePointSizeBytes(k):]
	sum := new(uint256.Int)
	step := new(uint256.Int)
	for i := 0; i < index; i++ {
		stub := bitbuf.SliceUint64(stubRegion, i*stubBits, stubBits)
		d := uint64(deltas[i])<<stubBits | stub
		sum.Add(sum, step.SetUint64(d))
	}
	return lp.Add(lp, sum), nil
}

// encodeDeltas writes the entropy-coded (or raw, flagged) delta run into
// out and returns the size word.
func (c *Codec) encodeDeltas(deltas []byte, out []byte) (uint16, error) {
	if len(deltas) == 0 {
		return rawFlag, nil
	}
	compressed, err := fse.Compress(deltas, &c.scratch)
	if err != nil || len(compressed) >= len(deltas) {
		// incompressible or degenerate runs are stored raw
		if len(deltas) > len(out) || len(deltas) >= rawFlag {
			return 0, fmt.Errorf("%w: %d raw delta bytes exceed the park budget",
				common.ErrInvalidValue, len(deltas))
		}
		copy(out, deltas)
		return uint16(len(deltas)) | rawFlag, nil
	}
	if len(compressed) > len(out) {
		return 0, fmt.Errorf("%w: %d compressed delta bytes exceed the park budget",
			common.ErrInvalidValue, len(compressed))
	}
	copy(out, compressed)
	return uint16(len(compressed)), nil
}

// decodeDeltas reads a size word and payload produced by encodeDeltas.
// maxSize bounds the region including the size word.
func (c *Codec) decodeDeltas(region []byte, maxSize int) ([]byte, error) {
	size := binary.LittleEndian.Uint16(region)
	if size == rawFlag {
		return nil, nil
	}
	if size&rawFlag != 0 {
		n := int(size &^ rawFlag)
		if n+2 > maxSize {
			return nil, fmt.Errorf("%w: raw delta run of %d bytes", common.ErrInvalidValue, n)
		}
		return region[2 : 2+n], nil
	}
	if int(size)+2 > maxSize {
		return nil, fmt.Errorf("%w: delta run of %d bytes", common.ErrInvalidValue, size)
	}
	deltas, err := fse.Decompress(region[2:2+size], &c.scratch)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt delta tail: %v", common.ErrInvalidValue, err)
	}
	return deltas, nil
}

// EncodeC3 frames the f7 delta run of one checkpoint park into out,
// which must be C3SizeBytes(k) bytes and zeroed. The size word here is
// big-endian, following the checkpoint-stream convention.
func (c *Codec) EncodeC3(deltas []byte, out []byte) error {
	if len(deltas) == 0 {
		binary.BigEndian.PutUint16(out, rawFlag)
		return nil
	}
	compressed, err := fse.Compress(deltas, &c.scratch)
	if err != nil || len(compressed) >= len(deltas) {
		if len(deltas)+2 > len(out) || len(deltas) >= rawFlag {
			return fmt.Errorf("%w: %d raw C3 bytes exceed the park budget",
				common.ErrInvalidValue, len(deltas))
		}
		binary.BigEndian.PutUint16(out, uint16(len(deltas))|rawFlag)
		copy(out[2:], deltas)
		return nil
	}
	if len(compressed)+2 > len(out) {
		return fmt.Errorf("%w: %d compressed C3 bytes exceed the park budget",
			common.ErrInvalidValue, len(compressed))
	}
	binary.BigEndian.PutUint16(out, uint16(len(compressed)))
	copy(out[2:], compressed)
	return nil
}

// DecodeC3 inverts EncodeC3.
func (c *Codec) DecodeC3(region []byte) ([]byte, error) {
	if len(region) < 2 {
		return nil, fmt.Errorf("%w: truncated C3 park", common.ErrInvalidValue)
	}
	size := binary.BigEndian.Uint16(region)
	if size == rawFlag {
		return nil, nil
	}
	if size&rawFlag != 0 {
		n := int(size &^ rawFlag)
		if n+2 > len(region) {
			return nil, fmt.Errorf("%w: raw C3 run of %d bytes", common.ErrInvalidValue, n)
		}
		return region[2 : 2+n], nil
	}
	if int(size)+2 > len(region) {
		return nil, fmt.Errorf("%w: C3 run of %d bytes", common.ErrInvalidValue, size)
	}
	deltas, err := fse.Decompress(region[2:2+size], &c.scratch)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt C3 park: %v", common.ErrInvalidValue, err)
	}
	return deltas, nil
}

// putBits ORs the low width bits of v into the pre-zeroed buffer at the
// given bit offset.
func putBits(out []byte, offset int, v uint64, width int) {
	if width <= 0 {
		return
	}
	if width < 64 {
		v &= (uint64(1) << width) - 1
	}
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
}

// putBig writes the low width bits of v MSB-first at the given offset.
func putBig(out []byte, offset int, v *uint256.Int, width int) {
	if width > 64 {
		hi := new(uint256.Int).Rsh(v, 64)
		putBits(out, offset, hi.Uint64(), width-64)
		putBits(out, offset+width-64, v.Uint64(), 64)
		return
	}
	putBits(out, offset, v.Uint64(), width)
}

// getBig reads width bits MSB-first at the given offset.
func getBig(in []byte, offset, width int) *uint256.Int {
	if width > 64 {
		hi := bitbuf.SliceUint64(in, offset, width-64)
		lo := bitbuf.SliceUint64(in, offset+width-64, 64)
		v := uint256.NewInt(hi)
		v.Lsh(v, 64)
		return v.Or(v, uint256.NewInt(lo))
	}
	return uint256.NewInt(bitbuf.SliceUint64(in, offset, width))
}
