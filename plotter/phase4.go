// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package plotter

import (
	"fmt"

	"github.com/0xsoniclabs/pospace/backend/disk"
	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/pos"
	"github.com/0xsoniclabs/pospace/pos/parks"
	"go.uber.org/zap"
)

// runPhase4 writes the table-7 position parks and the C1/C2/C3
// checkpoint tables, filling pointers[8..10] and returning the total
// artifact size.
func runPhase4(cfg *config, plot disk.Disk, p3 *phase3Result) (uint64, error) {
	k := cfg.k
	cfg.log.Info("writing checkpoint tables")

	n := p3.entries7
	p7ParkSize := uint64(parks.P7ParkSizeBytes(k))
	numP7Parks := uint64(0)
	if n > 0 {
		numP7Parks = uint64((n-1)/pos.EntriesPerPark) + 1
	}
	c1EntrySize := uint64(bitbuf.ByteAlign(k) / 8)
	c3Size := uint64(parks.C3SizeBytes(k))

	totalC1 := uint64(bitbuf.Cdiv(int(n), pos.Checkpoint1Interval))
	totalC2 := uint64(bitbuf.Cdiv(int(totalC1), pos.Checkpoint2Interval))

	beginC1 := p3.pointers[7] + numP7Parks*p7ParkSize
	beginC2 := beginC1 + (totalC1+1)*c1EntrySize
	beginC3 := beginC2 + (totalC2+1)*c1EntrySize
	end := beginC3 + totalC1*c3Size

	p3.pointers[8] = beginC1
	p3.pointers[9] = beginC2
	p3.pointers[10] = beginC3

	codec := parks.NewCodec()
	layout := finalTable7Layout(k)
	c1Buf := make([]byte, c1EntrySize)
	c3Buf := make([]byte, c3Size)
	p7Buf := make([]byte, p7ParkSize)
	p7Bits := &bitbuf.Buf{}

	var c2 []uint64
	var deltas []byte
	var prevY uint64
	var numC1 uint64
	var p7ParkIndex uint64

	flushP7 := func() error {
		if p7Bits.Len() == 0 {
			return nil
		}
		for i := range p7Buf {
			p7Buf[i] = 0
		}
		p7Bits.ToBytes(p7Buf)
		err := plot.Write(p3.pointers[7]+p7ParkIndex*p7ParkSize, p7Buf)
		p7ParkIndex++
		p7Bits.Reset()
		return err
	}
	flushC3 := func() error {
		for i := range c3Buf {
			c3Buf[i] = 0
		}
		if err := codec.EncodeC3(deltas, c3Buf); err != nil {
			return err
		}
		return plot.Write(beginC3+(numC1-1)*c3Size, c3Buf)
	}

	for i := int64(0); i < n; i++ {
		entry := p3.final7[i*int64(layout.size):]
		y := bitbuf.SliceUint64(entry, 0, layout.f7Bits)
		position := bitbuf.SliceUint64(entry, layout.f7Bits, layout.posBits)

		if i > 0 && i%pos.EntriesPerPark == 0 {
			if err := flushP7(); err != nil {
				return 0, fmt.Errorf("p7 park: %w", err)
			}
		}
		p7Bits.AppendUint64(position, k+1)

		if i%pos.Checkpoint1Interval == 0 {
			for j := range c1Buf {
				c1Buf[j] = 0
			}
			putBitsAligned(c1Buf, y, k)
			if err := plot.Write(beginC1+numC1*c1EntrySize, c1Buf); err != nil {
				return 0, fmt.Errorf("c1 entry: %w", err)
			}
			if numC1 > 0 {
				if err := flushC3(); err != nil {
					return 0, fmt.Errorf("c3 park: %w", err)
				}
			}
			if i%(pos.Checkpoint1Interval*pos.Checkpoint2Interval) == 0 {
				c2 = append(c2, y)
			}
			deltas = deltas[:0]
			prevY = y
			numC1++
		} else {
			delta := y - prevY
			if delta > 0xff {
				return 0, fmt.Errorf("%w: f7 delta %d does not fit a checkpoint byte",
					common.ErrInvalidValue, delta)
			}
			deltas = append(deltas, byte(delta))
			prevY = y
		}
	}
	if err := flushP7(); err != nil {
		return 0, fmt.Errorf("final p7 park: %w", err)
	}
	if len(deltas) > 0 {
		if err := flushC3(); err != nil {
			return 0, fmt.Errorf("final c3 park: %w", err)
		}
	}

	// C1 terminator
	for j := range c1Buf {
		c1Buf[j] = 0
	}
	if err := plot.Write(beginC1+numC1*c1EntrySize, c1Buf); err != nil {
		return 0, fmt.Errorf("c1 terminator: %w", err)
	}

	// C2 table with terminator
	writer := beginC2
	for _, y := range c2 {
		for j := range c1Buf {
			c1Buf[j] = 0
		}
		putBitsAligned(c1Buf, y, k)
		if err := plot.Write(writer, c1Buf); err != nil {
			return 0, fmt.Errorf("c2 entry: %w", err)
		}
		writer += c1EntrySize
	}
	for j := range c1Buf {
		c1Buf[j] = 0
	}
	if err := plot.Write(writer, c1Buf); err != nil {
		return 0, fmt.Errorf("c2 terminator: %w", err)
	}

	cfg.log.Info("checkpoints written",
		zap.Uint64("c1 entries", numC1),
		zap.Int("c2 entries", len(c2)),
		zap.Uint64("final size", end))
	return end, nil
}

// putBitsAligned writes a k-bit value MSB-first into a byte-aligned,
// zeroed checkpoint slot.
func putBitsAligned(out []byte, v uint64, width int) {
	var b bitbuf.Buf
	b.AppendUint64(v, width)
	copy(out, b.Bytes())
}
