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
	"fmt"

	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/common/chacha8"
)

// F1 evaluates the first-table function: a ChaCha8 keystream keyed by the
// plot seed, read as a contiguous bit stream of k-bit values, each
// extended by the top ExtraBits bits of its preimage.
type F1 struct {
	k   int
	ctx *chacha8.Ctx

	// two consecutive keystream blocks; consecutive x values mostly hit
	// the cached pair
	blockBuf    []byte
	blockCached uint64
	blockValid  bool
}

// NewF1 creates an evaluator for the given k and 32-byte seed.
func NewF1(k int, id []byte) (*F1, error) {
	if k < MinPlotSize || k > MaxPlotSize {
		return nil, fmt.Errorf("%w: plot size k=%d", common.ErrInvalidValue, k)
	}
	if len(id) != IDLen {
		return nil, fmt.Errorf("%w: seed length %d", common.ErrInvalidValue, len(id))
	}
	// the table index prefixes the seed in the cipher key
	encKey := make([]byte, IDLen)
	encKey[0] = 1
	copy(encKey[1:], id[:IDLen-1])
	return &F1{
		k:        k,
		ctx:      chacha8.New(encKey),
		blockBuf: make([]byte, 2*chacha8.BlockSize+bitbuf.Headroom),
	}, nil
}

// Calculate returns y = f1(x), a value of k + ExtraBits bits.
func (f *F1) Calculate(x uint64) uint64 {
	counterBit := x * uint64(f.k)
	counter := counterBit / F1BlockSizeBits
	bitsBefore := int(counterBit % F1BlockSizeBits)

	if !f.blockValid || f.blockCached != counter {
		f.ctx.Keystream(counter, 2, f.blockBuf[:2*chacha8.BlockSize])
		f.blockCached = counter
		f.blockValid = true
	}
	out := bitbuf.SliceUint64(f.blockBuf, bitsBefore, f.k)
	return out<<ExtraBits | x>>(f.k-ExtraBits)
}
