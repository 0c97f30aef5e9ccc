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
	"encoding/binary"

	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"lukechampine.com/blake3"
)

// Fx evaluates the higher-table functions f2..f7 by hashing the matched
// pair's y and metadata with BLAKE3.
type Fx struct {
	k     int
	table int
}

// NewFx creates an evaluator producing entries of the given table (2..7).
func NewFx(k, table int) *Fx {
	return &Fx{k: k, table: table}
}

// Calculate derives the next (y, metadata) pair from the left entry's y
// and the metadata of both matched entries. The returned y has
// k + ExtraBits bits; the metadata has VectorLens[table+1]*k bits and is
// nil for table 7.
func (f *Fx) Calculate(y uint64, left, right *bitbuf.Buf) (uint64, *bitbuf.Buf) {
	var input bitbuf.Buf
	input.AppendUint64(y, f.k+ExtraBits)
	input.Append(left)
	input.Append(right)

	hash := blake3.Sum256(input.Bytes())
	next := binary.BigEndian.Uint64(hash[:8]) >> (64 - (f.k + ExtraBits))

	var meta *bitbuf.Buf
	switch {
	case f.table < 4:
		meta = &bitbuf.Buf{}
		meta.Append(left)
		meta.Append(right)
	case f.table < 7:
		metaBits := VectorLens[f.table+1] * f.k
		meta = bitbuf.FromBytes(hash[:], (f.k+ExtraBits)+metaBits).Slice(f.k+ExtraBits, (f.k+ExtraBits)+metaBits)
	}
	return next, meta
}
