// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package usort implements the external-memory bucketed sort the plot
// pipeline streams its tables through: an open-addressing "uniform sort"
// over fixed-width bit-packed entries, driven by a bucket-partitioning
// sort manager with a sequential read window.
package usort

import (
	"fmt"

	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
)

// SortToMemory sorts num fixed-width entries from input into memory,
// ordered by the bit suffix starting at bitsBegin. The destination must
// hold RoundPow2(2*num)*entrySize bytes and is cleared first; entries are
// compacted to the front when done.
//
// The all-zero byte pattern is the vacancy sentinel: input entries that
// are entirely zero from bitsBegin on are not representable and would be
// silently dropped.
func SortToMemory(input []byte, memory []byte, entrySize int, num int64, bitsBegin int) error {
	if num == 0 {
		return nil
	}
	bucketBits := 0
	for (int64(1) << bucketBits) < 2*num {
		bucketBits++
	}
	memLen := (int64(1) << bucketBits) * int64(entrySize)
	if memLen > int64(len(memory)) {
		return fmt.Errorf("%w: uniform sort needs %d bytes, have %d",
			common.ErrInsufficientMemory, memLen, len(memory))
	}
	mem := memory[:memLen]
	for i := range mem {
		mem[i] = 0
	}

	swap := make([]byte, entrySize)
	// entries pushed past the end of mem continue their probe run here;
	// the run stays sorted and orders after everything in mem
	var overflow []byte
	for i := int64(0); i < num; i++ {
		entry := input[i*int64(entrySize) : (i+1)*int64(entrySize)]
		// the first unique bits give the expected slot in the sorted array
		pos := int64(bitbuf.SliceUint64(entry, bitsBegin, bucketBits)) * int64(entrySize)
		for pos < memLen && !isEmpty(mem[pos:pos+int64(entrySize)]) {
			// keep the smaller of the two and continue pushing the larger
			if bitbuf.CompareSuffix(mem[pos:pos+int64(entrySize)], entry, bitsBegin) > 0 {
				copy(swap, mem[pos:])
				copy(mem[pos:], entry)
				copy(entry, swap)
			}
			pos += int64(entrySize)
		}
		if pos < memLen {
			copy(mem[pos:], entry)
			continue
		}
		for off := 0; off < len(overflow); off += entrySize {
			if bitbuf.CompareSuffix(overflow[off:off+entrySize], entry, bitsBegin) > 0 {
				copy(swap, overflow[off:off+entrySize])
				copy(overflow[off:], entry)
				copy(entry, swap)
			}
		}
		overflow = append(overflow, entry...)
	}

	var written int64
	for pos := int64(0); written < num && pos < memLen; pos += int64(entrySize) {
		if !isEmpty(mem[pos : pos+int64(entrySize)]) {
			copy(mem[written*int64(entrySize):], mem[pos:pos+int64(entrySize)])
			written++
		}
	}
	copy(mem[written*int64(entrySize):], overflow)
	written += int64(len(overflow) / entrySize)
	if written != num {
		return fmt.Errorf("%w: uniform sort wrote %d of %d entries",
			common.ErrUnreachable, written, num)
	}
	return nil
}

func isEmpty(entry []byte) bool {
	for _, b := range entry {
		if b != 0 {
			return false
		}
	}
	return true
}
