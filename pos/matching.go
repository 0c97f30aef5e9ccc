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

import "sync"

// MatchPair indexes a matching (left, right) pair into the two bucket
// slices handed to FindMatches.
type MatchPair struct {
	L int
	R int
}

// MaxMatchesPerStripe bounds how many matches a single bucket pair can
// produce, used by callers to presize their buffers.
const MaxMatchesPerStripe = 10 * BC / ExtraBitsPow

// matchTargets[parity][i][m] is the residue (mod BC) a right-bucket y
// must have to match a left-bucket y with residue i under offset m.
var (
	matchTargets     [2][BC][ExtraBitsPow]uint16
	matchTargetsOnce sync.Once
)

func loadMatchTargets() {
	for parity := 0; parity < 2; parity++ {
		for i := 0; i < BC; i++ {
			indJ := i / C
			for m := 0; m < ExtraBitsPow; m++ {
				yr := ((indJ+m)%B)*C + (((2*m+parity)*(2*m+parity)+i)%C)
				matchTargets[parity][i][m] = uint16(yr)
			}
		}
	}
}

// Matcher finds matching pairs between two adjacent y-buckets. It keeps
// its scratch map across calls; a Matcher is not safe for concurrent use.
type Matcher struct {
	rmapCount [BC]uint16
	rmapPos   [BC]uint16
	rmapClean []uint32
}

// NewMatcher creates a matcher, building the process-wide target table on
// first use.
func NewMatcher() *Matcher {
	matchTargetsOnce.Do(loadMatchTargets)
	return &Matcher{rmapClean: make([]uint32, 0, MaxMatchesPerStripe)}
}

// FindMatches appends to out all pairs (l, r) with leftY[l] and rightY[r]
// matching under the bucket rule, and returns the extended slice. The two
// slices must hold the y values of two adjacent buckets, i.e.
// bucket(rightY[r]) == bucket(leftY[l]) + 1 for all elements.
func (m *Matcher) FindMatches(leftY, rightY []uint64, out []MatchPair) []MatchPair {
	if len(leftY) == 0 || len(rightY) == 0 {
		return out
	}
	parity := (leftY[0] / BC) % 2

	for _, y := range m.rmapClean {
		m.rmapCount[y] = 0
	}
	m.rmapClean = m.rmapClean[:0]

	removeR := (rightY[0] / BC) * BC
	for posR, y := range rightY {
		r := y - removeR
		if m.rmapCount[r] == 0 {
			m.rmapPos[r] = uint16(posR)
		}
		m.rmapCount[r]++
		m.rmapClean = append(m.rmapClean, uint32(r))
	}

	removeL := removeR - BC
	for posL, y := range leftY {
		r := y - removeL
		targets := &matchTargets[parity][r]
		for i := 0; i < ExtraBitsPow; i++ {
			target := targets[i]
			for j := uint16(0); j < m.rmapCount[target]; j++ {
				out = append(out, MatchPair{L: posL, R: int(m.rmapPos[target] + j)})
			}
		}
	}
	return out
}
