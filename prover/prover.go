// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package prover answers challenges against a finished plot: it locates
// matching f7 entries through the checkpoint tables, walks the line-point
// parks down to the table-1 preimages, and derives qualities and full
// proofs.
package prover

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/pos"
	"github.com/0xsoniclabs/pospace/pos/parks"
	"github.com/holiman/uint256"
)

// ChallengeSize is the challenge length in bytes.
const ChallengeSize = 32

// Prover serves qualities and proofs from one plot. The plot bytes are
// referenced, not copied; they must outlive the prover.
type Prover struct {
	plot     []byte
	k        int
	id       []byte
	pointers [11]uint64
	c2       []uint64
	codec    *parks.Codec
}

// New parses the plot header and loads the C2 checkpoints into memory.
func New(plot []byte) (*Prover, error) {
	p := &Prover{plot: plot, codec: parks.NewCodec()}
	if err := p.parseHeader(); err != nil {
		return nil, err
	}
	if err := p.loadC2(); err != nil {
		return nil, err
	}
	return p, nil
}

// K returns the plot's space parameter.
func (p *Prover) K() int {
	return p.k
}

// ID returns the plot seed.
func (p *Prover) ID() []byte {
	return bytes.Clone(p.id)
}

func (p *Prover) parseHeader() error {
	magic := []byte(pos.Magic)
	minSize := len(magic) + pos.IDLen + 1 + 2
	if len(p.plot) < minSize {
		return fmt.Errorf("%w: plot of %d bytes", common.ErrInvalidValue, len(p.plot))
	}
	if !bytes.Equal(p.plot[:len(magic)], magic) {
		return fmt.Errorf("%w: bad plot magic", common.ErrInvalidValue)
	}
	offset := len(magic)
	p.id = p.plot[offset : offset+pos.IDLen]
	offset += pos.IDLen
	p.k = int(p.plot[offset])
	offset++
	if p.k < pos.MinPlotSize || p.k > pos.MaxPlotSize {
		return fmt.Errorf("%w: plot size k=%d", common.ErrInvalidValue, p.k)
	}
	descLen := int(p.plot[offset])<<8 | int(p.plot[offset+1])
	offset += 2 + descLen
	if len(p.plot) < offset+10*8 {
		return fmt.Errorf("%w: truncated pointer block", common.ErrInvalidValue)
	}
	prev := uint64(offset + 10*8)
	for i := 1; i <= 10; i++ {
		ptr := bitbuf.SliceUint64(p.plot[offset+(i-1)*8:], 0, 64)
		if ptr < prev || ptr > uint64(len(p.plot)) {
			return fmt.Errorf("%w: table pointer %d out of order", common.ErrInvalidValue, i)
		}
		p.pointers[i] = ptr
		prev = ptr
	}
	return nil
}

func (p *Prover) loadC2() error {
	c1EntrySize := uint64(bitbuf.ByteAlign(p.k) / 8)
	begin := p.pointers[9]
	end := p.pointers[10]
	count := int64((end-begin)/c1EntrySize) - 1
	if count < 0 {
		return fmt.Errorf("%w: malformed C2 table", common.ErrInvalidValue)
	}
	for i := int64(0); i < count; i++ {
		p.c2 = append(p.c2, bitbuf.SliceUint64(p.plot[begin+uint64(i)*c1EntrySize:], 0, p.k))
	}
	return nil
}

// GetQualitiesForChallenge returns one 32-byte quality per proof of
// space held for the challenge. An empty result means no proof exists.
func (p *Prover) GetQualitiesForChallenge(challenge []byte) ([][]byte, error) {
	positions, err := p.getP7Entries(challenge)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, nil
	}
	last5 := challenge[31] & 0x1f

	qualities := make([][]byte, 0, len(positions))
	for _, position := range positions {
		pos6 := position
		for table := 6; table > 1; table-- {
			lp, err := p.readLinePoint(table, pos6)
			if err != nil {
				return nil, err
			}
			larger, smaller := parks.LinePointToSquare(lp)
			if (last5>>(table-2))&1 != 0 {
				pos6 = larger
			} else {
				pos6 = smaller
			}
		}
		lp, err := p.readLinePoint(1, pos6)
		if err != nil {
			return nil, err
		}
		x1, x2 := parks.LinePointToSquare(lp)
		qualities = append(qualities, qualityHash(p.k, challenge, x2, x1))
	}
	return qualities, nil
}

// GetFullProof returns the 64 table-1 preimages of the index-th proof
// for the challenge, in proof ordering, packed as k*8 bytes.
func (p *Prover) GetFullProof(challenge []byte, index int) ([]byte, error) {
	positions, err := p.getP7Entries(challenge)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(positions) {
		return nil, fmt.Errorf("%w: no proof of space at index %d", common.ErrInvalidValue, index)
	}
	xs, err := p.getInputs(positions[index], 6)
	if err != nil {
		return nil, err
	}
	ordered, err := ReorderProof(p.k, p.id, xs)
	if err != nil {
		return nil, err
	}
	proof := &bitbuf.Buf{}
	for _, x := range ordered {
		proof.AppendUint64(x, p.k)
	}
	out := make([]byte, p.k*8)
	proof.ToBytes(out)
	return out, nil
}

// getInputs expands a position in the given table's line-point stream
// into its table-1 preimages, in plot (position DFS) ordering.
func (p *Prover) getInputs(position uint64, depth int) ([]uint64, error) {
	lp, err := p.readLinePoint(depth, position)
	if err != nil {
		return nil, err
	}
	larger, smaller := parks.LinePointToSquare(lp)
	if depth == 1 {
		return []uint64{smaller, larger}, nil
	}
	left, err := p.getInputs(smaller, depth-1)
	if err != nil {
		return nil, err
	}
	right, err := p.getInputs(larger, depth-1)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// readLinePoint decodes the line point at the given position of a final
// table's park stream.
func (p *Prover) readLinePoint(table int, position uint64) (*uint256.Int, error) {
	parkSize := uint64(parks.ParkSizeBytes(p.k, table))
	parkIndex := position / pos.EntriesPerPark
	begin := p.pointers[table] + parkIndex*parkSize
	if begin+parkSize > p.pointers[table+1] {
		return nil, fmt.Errorf("%w: position %d beyond table %d parks",
			common.ErrInvalidValue, position, table)
	}
	return p.codec.LinePointAt(p.k, table, p.plot[begin:begin+parkSize],
		int(position%pos.EntriesPerPark))
}

// getP7Entries resolves the challenge's f7 target through C2, C1 and the
// C3 delta parks to positions in the final table-6 stream.
func (p *Prover) getP7Entries(challenge []byte) ([]uint64, error) {
	if len(challenge) != ChallengeSize {
		return nil, fmt.Errorf("%w: challenge of %d bytes", common.ErrInvalidValue, len(challenge))
	}
	if len(p.c2) == 0 {
		return nil, nil
	}
	f7 := bitbuf.SliceUint64(challenge, 0, p.k)
	if f7 < p.c2[0] {
		return nil, nil
	}

	c2Index := 0
	for _, v := range p.c2 {
		if f7 < v {
			break
		}
		c2Index++
	}
	c1Base := int64(c2Index-1) * pos.Checkpoint2Interval

	c1EntrySize := uint64(bitbuf.ByteAlign(p.k) / 8)
	totalC1 := int64((p.pointers[9]-p.pointers[8])/c1EntrySize) - 1
	if c1Base >= totalC1 {
		return nil, fmt.Errorf("%w: C1 checkpoint range starts at %d of %d",
			common.ErrInvalidValue, c1Base, totalC1)
	}

	readC1 := func(i int64) uint64 {
		return bitbuf.SliceUint64(p.plot[p.pointers[8]+uint64(i)*c1EntrySize:], 0, p.k)
	}

	c1Index := c1Base
	limit := min(c1Base+pos.Checkpoint2Interval, totalC1)
	for i := c1Base; i < limit; i++ {
		if readC1(i) > f7 {
			break
		}
		c1Index = i
	}

	// an equal-valued f7 run may start in the preceding park
	firstPark := c1Index
	if firstPark > 0 && readC1(c1Index) == f7 {
		firstPark--
	}

	var p7Positions []int64
	for park := firstPark; park <= c1Index; park++ {
		positions, err := p.scanC3Park(park, f7)
		if err != nil {
			return nil, err
		}
		p7Positions = append(p7Positions, positions...)
	}

	// resolve table-7 positions through the P7 parks
	p7ParkSize := uint64(parks.P7ParkSizeBytes(p.k))
	result := make([]uint64, 0, len(p7Positions))
	for _, position := range p7Positions {
		parkIndex := uint64(position) / pos.EntriesPerPark
		begin := p.pointers[7] + parkIndex*p7ParkSize
		if begin+p7ParkSize > p.pointers[8] {
			return nil, fmt.Errorf("%w: table 7 position %d beyond its parks",
				common.ErrInvalidValue, position)
		}
		offset := int(uint64(position)%pos.EntriesPerPark) * (p.k + 1)
		result = append(result, bitbuf.SliceUint64(p.plot[begin:begin+p7ParkSize], offset, p.k+1))
	}
	return result, nil
}

// scanC3Park walks one checkpoint interval, returning the table-7
// entry indexes whose f7 equals the target.
func (p *Prover) scanC3Park(park int64, f7 uint64) ([]int64, error) {
	c1EntrySize := uint64(bitbuf.ByteAlign(p.k) / 8)
	cur := bitbuf.SliceUint64(p.plot[p.pointers[8]+uint64(park)*c1EntrySize:], 0, p.k)

	c3Size := uint64(parks.C3SizeBytes(p.k))
	begin := p.pointers[10] + uint64(park)*c3Size
	if begin+c3Size > uint64(len(p.plot)) {
		return nil, fmt.Errorf("%w: C3 park %d beyond the plot", common.ErrInvalidValue, park)
	}
	deltas, err := p.codec.DecodeC3(p.plot[begin : begin+c3Size])
	if err != nil {
		return nil, err
	}

	var positions []int64
	base := park * pos.Checkpoint1Interval
	if cur == f7 {
		positions = append(positions, base)
	}
	for i, d := range deltas {
		cur += uint64(d)
		if cur > f7 {
			break
		}
		if cur == f7 {
			positions = append(positions, base+int64(i)+1)
		}
	}
	return positions, nil
}

// qualityHash derives the 32-byte quality from the challenge and the
// final pair of preimages, smaller first.
func qualityHash(k int, challenge []byte, xSmall, xLarge uint64) []byte {
	pair := &bitbuf.Buf{}
	pair.AppendUint64(xSmall, k)
	pair.AppendUint64(xLarge, k)
	input := make([]byte, 0, ChallengeSize+bitbuf.ByteAlign(2*k)/8)
	input = append(input, challenge...)
	packed := make([]byte, bitbuf.ByteAlign(2*k)/8)
	pair.ToBytes(packed)
	input = append(input, packed...)
	sum := sha256.Sum256(input)
	return sum[:]
}
