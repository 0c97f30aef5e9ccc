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
	"math/rand"
	"testing"

	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/stretchr/testify/require"
)

func testSeed() []byte {
	id := make([]byte, IDLen)
	for i := range id {
		id[i] = byte(i*7 + 1)
	}
	return id
}

func TestLayout_EntrySizes(t *testing.T) {
	require := require.New(t)

	const k = 17
	require.Equal(bitbuf.Cdiv(k+ExtraBits+k, 8), Phase1Layout(k, 1).EntrySize())
	require.Equal(bitbuf.Cdiv(k+ExtraBits+2*(k+1)+2*k, 8), Phase1Layout(k, 2).EntrySize())
	require.Equal(bitbuf.Cdiv(k+ExtraBits+2*(k+1)+4*k, 8), Phase1Layout(k, 4).EntrySize())
	require.Equal(bitbuf.Cdiv(k+2*(k+1), 8), Phase1Layout(k, 7).EntrySize())
	require.Equal(bitbuf.Cdiv(3*(k+1), 8), Phase2Layout(k, 3).EntrySize())
}

func TestLayout_EncodeDecode_RoundTrip(t *testing.T) {
	require := require.New(t)
	rng := rand.New(rand.NewSource(21))

	for _, k := range []int{17, 25, 32} {
		for table := 1; table <= 7; table++ {
			l := Phase1Layout(k, table)
			for range 50 {
				e := Entry{
					Y:    rng.Uint64() & ((1 << l.YBits) - 1),
					PosL: rng.Uint64() & ((1 << l.PosBits) - 1),
					PosR: rng.Uint64() & ((1 << l.PosBits) - 1),
				}
				if l.PosBits == 0 {
					e.PosL, e.PosR = 0, 0
				}
				if l.MetaBits > 0 {
					meta := &bitbuf.Buf{}
					for b := 0; b < l.MetaBits; b += 32 {
						w := min(32, l.MetaBits-b)
						meta.AppendUint64(rng.Uint64()&((1<<w)-1), w)
					}
					e.Meta = meta
				}
				buf := make([]byte, l.EntrySize())
				l.Encode(&e, buf)
				got := l.Decode(buf)
				require.Equal(e.Y, got.Y)
				require.Equal(e.PosL, got.PosL)
				require.Equal(e.PosR, got.PosR)
				if l.MetaBits > 0 {
					require.Equal(e.Meta.Bytes(), got.Meta.Bytes())
				}
			}
		}
	}
}

func TestF1_IsDeterministicAndWithinWidth(t *testing.T) {
	require := require.New(t)

	const k = 17
	f1a, err := NewF1(k, testSeed())
	require.NoError(err)
	f1b, err := NewF1(k, testSeed())
	require.NoError(err)

	for x := uint64(0); x < 5000; x++ {
		y := f1a.Calculate(x)
		require.Equal(y, f1b.Calculate(x), "x=%d", x)
		require.Less(y, uint64(1)<<(k+ExtraBits))
		// the low ExtraBits of y are the top ExtraBits of x
		require.Equal(x>>(k-ExtraBits), y&(ExtraBitsPow-1))
	}
}

func TestF1_CacheDoesNotAffectRandomAccess(t *testing.T) {
	require := require.New(t)

	const k = 18
	f1, err := NewF1(k, testSeed())
	require.NoError(err)

	sequential := make(map[uint64]uint64)
	for x := uint64(0); x < 1000; x++ {
		sequential[x] = f1.Calculate(x)
	}
	rng := rand.New(rand.NewSource(3))
	for range 1000 {
		x := uint64(rng.Intn(1000))
		require.Equal(sequential[x], f1.Calculate(x), "x=%d", x)
	}
}

func TestF1_RejectsBadParameters(t *testing.T) {
	require := require.New(t)

	_, err := NewF1(MinPlotSize-1, testSeed())
	require.Error(err)
	_, err = NewF1(MaxPlotSize+1, testSeed())
	require.Error(err)
	_, err = NewF1(17, []byte{1, 2, 3})
	require.Error(err)
}

func TestFx_MetadataWidths(t *testing.T) {
	require := require.New(t)

	const k = 17
	left := &bitbuf.Buf{}
	left.AppendUint64(123, k)
	right := &bitbuf.Buf{}
	right.AppendUint64(456, k)

	for table := 2; table <= 7; table++ {
		var l, r bitbuf.Buf
		metaBits := VectorLens[table] * k
		for b := 0; b < metaBits; b += k {
			l.AppendUint64(uint64(b+1), k)
			r.AppendUint64(uint64(b+2), k)
		}
		fx := NewFx(k, table)
		y, meta := fx.Calculate(99, &l, &r)
		require.Less(y, uint64(1)<<(k+ExtraBits))
		if table == 7 {
			require.Nil(meta)
		} else {
			require.Equal(VectorLens[table+1]*k, meta.Len(), "table %d", table)
		}
	}
}

func TestFx_ConcatenatesMetadataForLowTables(t *testing.T) {
	require := require.New(t)

	const k = 17
	l := &bitbuf.Buf{}
	l.AppendUint64(0x155aa, k)
	r := &bitbuf.Buf{}
	r.AppendUint64(0x0a5a5, k)

	fx := NewFx(k, 2)
	_, meta := fx.Calculate(7, l, r)
	require.Equal(2*k, meta.Len())
	lo, err := meta.Uint64At(0, k)
	require.NoError(err)
	hi, err := meta.Uint64At(k, k)
	require.NoError(err)
	require.Equal(uint64(0x155aa), lo)
	require.Equal(uint64(0x0a5a5), hi)
}

// bruteForceMatch checks the parametric match equation directly.
func bruteForceMatch(yl, yr uint64) bool {
	if yl/BC+1 != yr/BC {
		return false
	}
	parity := (yl / BC) % 2
	rl := yl % BC
	rr := yr % BC
	for m := uint64(0); m < ExtraBitsPow; m++ {
		diffJ := (rr/C + B - rl/C) % B
		diffI := (rr%C + C - rl%C) % C
		if diffJ == m%B && diffI == ((2*m+parity)*(2*m+parity))%C {
			return true
		}
	}
	return false
}

func TestMatcher_AgreesWithBruteForce(t *testing.T) {
	require := require.New(t)
	rng := rand.New(rand.NewSource(33))

	m := NewMatcher()
	for round := 0; round < 50; round++ {
		base := uint64(rng.Intn(1000)) * BC
		var left, right []uint64
		for i := 0; i < 40; i++ {
			left = append(left, base+uint64(rng.Intn(BC)))
			right = append(right, base+BC+uint64(rng.Intn(BC)))
		}

		got := map[MatchPair]bool{}
		for _, p := range m.FindMatches(left, right, nil) {
			got[p] = true
		}
		for li, yl := range left {
			for ri, yr := range right {
				require.Equal(bruteForceMatch(yl, yr), got[MatchPair{L: li, R: ri}],
					"round %d yl=%d yr=%d", round, yl, yr)
			}
		}
	}
}

func TestMatcher_EmptyBucketsYieldNoMatches(t *testing.T) {
	require := require.New(t)

	m := NewMatcher()
	require.Empty(m.FindMatches(nil, []uint64{1}, nil))
	require.Empty(m.FindMatches([]uint64{1}, nil, nil))
}
