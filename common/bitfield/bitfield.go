// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package bitfield

import "math/bits"

// Bitfield is a dense boolean index over entry positions.
type Bitfield struct {
	words []uint64
	size  int64
}

// New creates a bitfield covering positions [0, size).
func New(size int64) *Bitfield {
	return &Bitfield{
		words: make([]uint64, (size+63)/64),
		size:  size,
	}
}

// Set marks position i.
func (b *Bitfield) Set(i int64) {
	b.words[i/64] |= 1 << (i % 64)
}

// Get reports whether position i is marked.
func (b *Bitfield) Get(i int64) bool {
	return b.words[i/64]&(1<<(i%64)) != 0
}

// Size returns the number of positions covered.
func (b *Bitfield) Size() int64 {
	return b.size
}

// Count returns the number of marked positions in [start, end).
func (b *Bitfield) Count(start, end int64) int64 {
	var count int64
	for i := start; i < end; {
		if i%64 == 0 && i+64 <= end {
			count += int64(bits.OnesCount64(b.words[i/64]))
			i += 64
			continue
		}
		if b.Get(i) {
			count++
		}
		i++
	}
	return count
}

// Clear resets all bits without releasing the underlying storage. The
// bitfield may afterwards be reused for any size up to its original one.
func (b *Bitfield) Clear(size int64) {
	for i := range b.words {
		b.words[i] = 0
	}
	b.size = size
}

// Index answers rank queries over a finalized bitfield in constant time
// using per-word popcounts and a prefix sum built once.
type Index struct {
	bitfield *Bitfield
	prefix   []int64
}

// NewIndex builds the rank index. The bitfield must not be modified while
// the index is in use.
func NewIndex(b *Bitfield) *Index {
	prefix := make([]int64, len(b.words)+1)
	for i, w := range b.words {
		prefix[i+1] = prefix[i] + int64(bits.OnesCount64(w))
	}
	return &Index{bitfield: b, prefix: prefix}
}

// Rank returns the number of marked positions in [0, i).
func (ix *Index) Rank(i int64) int64 {
	word := i / 64
	count := ix.prefix[word]
	if rem := uint(i % 64); rem != 0 {
		count += int64(bits.OnesCount64(ix.bitfield.words[word] & ((1 << rem) - 1)))
	}
	return count
}
