// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package verifier checks proofs of space without access to the plot: it
// recomputes the table functions bottom-up from the 64 preimages and
// re-derives the challenge quality.
package verifier

import (
	"crypto/sha256"

	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/pos"
)

// ValidateProof recomputes a proof of space bottom-up. It returns the
// 32-byte quality on success and nil on any failure; malformed input is
// rejected, never an error.
func ValidateProof(k int, seed, challenge, proofBytes []byte) []byte {
	if k < pos.MinPlotSize || k > pos.MaxPlotSize ||
		len(seed) != pos.IDLen || len(challenge) != 32 || len(proofBytes) != k*8 {
		return nil
	}

	xs := make([]uint64, 64)
	for i := range xs {
		xs[i] = bitbuf.SliceUint64(proofBytes, i*k, k)
	}

	f1, err := pos.NewF1(k, seed)
	if err != nil {
		return nil
	}
	type node struct {
		y    uint64
		meta *bitbuf.Buf
	}
	level := make([]node, 64)
	for i, x := range xs {
		meta := &bitbuf.Buf{}
		meta.AppendUint64(x, k)
		level[i] = node{y: f1.Calculate(x), meta: meta}
	}

	matcher := pos.NewMatcher()
	for table := 2; table <= 7; table++ {
		fx := pos.NewFx(k, table)
		next := make([]node, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			l, r := level[i], level[i+1]
			if l.y/pos.BC+1 != r.y/pos.BC {
				return nil
			}
			if len(matcher.FindMatches([]uint64{l.y}, []uint64{r.y}, nil)) != 1 {
				return nil
			}
			y, meta := fx.Calculate(l.y, l.meta, r.meta)
			next = append(next, node{y: y, meta: meta})
		}
		level = next
	}

	// the final y's top k bits must replay the challenge's top k bits
	if level[0].y>>pos.ExtraBits != bitbuf.SliceUint64(challenge, 0, k) {
		return nil
	}

	qualityIndex := int(challenge[31]&0x1f) << 1
	return qualityString(k, xs, qualityIndex, challenge)
}

// qualityString converts the proof from proof ordering to plot ordering
// and hashes the challenge with the pair selected by the quality index.
func qualityString(k int, proof []uint64, qualityIndex int, challenge []byte) []byte {
	proof = append([]uint64(nil), proof...)
	for table := 1; table < 7; table++ {
		blockSize := 1 << (table - 1)
		reordered := make([]uint64, 0, len(proof))
		for j := 0; j < len(proof); j += 2 * blockSize {
			left := proof[j : j+blockSize]
			right := proof[j+blockSize : j+2*blockSize]
			if compareProofBits(left, right) > 0 {
				reordered = append(reordered, right...)
				reordered = append(reordered, left...)
			} else {
				reordered = append(reordered, left...)
				reordered = append(reordered, right...)
			}
		}
		proof = reordered
	}

	pair := &bitbuf.Buf{}
	pair.AppendUint64(proof[qualityIndex], k)
	pair.AppendUint64(proof[qualityIndex+1], k)
	packed := make([]byte, bitbuf.ByteAlign(2*k)/8)
	pair.ToBytes(packed)

	input := make([]byte, 0, 32+len(packed))
	input = append(input, challenge...)
	input = append(input, packed...)
	sum := sha256.Sum256(input)
	return sum[:]
}

// compareProofBits compares two equally sized preimage blocks starting
// at their last element, returning a positive value when left orders
// after right.
func compareProofBits(left, right []uint64) int {
	for i := len(left) - 1; i >= 0; i-- {
		if left[i] < right[i] {
			return -1
		}
		if left[i] > right[i] {
			return 1
		}
	}
	return 0
}
