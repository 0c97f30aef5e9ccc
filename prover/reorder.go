// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package prover

import (
	"fmt"

	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/pos"
)

// ReorderProof converts 64 preimages from plot ordering to proof
// ordering: at every level the pair is oriented so the left member's f
// value falls in the bucket directly below the right member's, which is
// the orientation the verifier recomputes.
func ReorderProof(k int, id []byte, xs []uint64) ([]uint64, error) {
	if len(xs) != 64 {
		return nil, fmt.Errorf("%w: proof with %d preimages", common.ErrInvalidValue, len(xs))
	}
	f1, err := pos.NewF1(k, id)
	if err != nil {
		return nil, err
	}

	type node struct {
		y    uint64
		meta *bitbuf.Buf
	}
	level := make([]node, 64)
	ordered := make([]uint64, 64)
	copy(ordered, xs)
	for i, x := range xs {
		meta := &bitbuf.Buf{}
		meta.AppendUint64(x, k)
		level[i] = node{y: f1.Calculate(x), meta: meta}
	}

	matcher := pos.NewMatcher()
	matchesLeftToRight := func(l, r node) bool {
		if l.y/pos.BC+1 != r.y/pos.BC {
			return false
		}
		return len(matcher.FindMatches([]uint64{l.y}, []uint64{r.y}, nil)) == 1
	}

	for table := 2; table <= 7; table++ {
		fx := pos.NewFx(k, table)
		blockSize := 1 << (table - 2) // preimages per child at this level
		next := make([]node, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			l, r := level[i], level[i+1]
			switch {
			case matchesLeftToRight(l, r):
				// already oriented
			case matchesLeftToRight(r, l):
				l, r = r, l
				base := (i / 2) * 2 * blockSize
				for j := 0; j < blockSize; j++ {
					ordered[base+j], ordered[base+blockSize+j] =
						ordered[base+blockSize+j], ordered[base+j]
				}
			default:
				return nil, fmt.Errorf("%w: preimages do not fold into a proof",
					common.ErrInvalidValue)
			}
			y, meta := fx.Calculate(l.y, l.meta, r.meta)
			next = append(next, node{y: y, meta: meta})
		}
		level = next
	}
	return ordered, nil
}
