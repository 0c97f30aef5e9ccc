// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package parks

import (
	"math/rand"
	"testing"

	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/pos"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestSquareToLinePoint_OrdersPair(t *testing.T) {
	require := require.New(t)

	require.Equal(SquareToLinePoint(3, 5).String(), SquareToLinePoint(5, 3).String())
	// x=1,y=0 -> 0*... + 0? x(x-1)/2 = 0, y = 0
	require.Equal(uint64(0), SquareToLinePoint(1, 0).Uint64())
	require.Equal(uint64(1), SquareToLinePoint(2, 0).Uint64())
	require.Equal(uint64(2), SquareToLinePoint(2, 1).Uint64())
	require.Equal(uint64(3), SquareToLinePoint(3, 0).Uint64())
}

func TestLinePoint_RoundTrip(t *testing.T) {
	require := require.New(t)
	rng := rand.New(rand.NewSource(11))

	for range 2000 {
		x := rng.Uint64() >> 14 // up to 50 bits
		y := rng.Uint64() % (x + 1)
		lp := SquareToLinePoint(x, y)
		gotX, gotY := LinePointToSquare(lp)
		if y > x {
			x, y = y, x
		}
		require.Equal(x, gotX)
		require.Equal(y, gotY)
	}
}

// randomParkLinePoints builds a sorted run with deltas small enough to fit
// the stub+byte split, as phase 3 produces for healthy plots.
func randomParkLinePoints(rng *rand.Rand, k, count int) []*uint256.Int {
	lps := make([]*uint256.Int, count)
	cur := new(uint256.Int).SetUint64(rng.Uint64() & ((1 << (k + 3)) - 1))
	lps[0] = new(uint256.Int).Set(cur)
	stubBits := uint(k - pos.StubMinusBits)
	for i := 1; i < count; i++ {
		// keep the high delta byte in a small alphabet, as real plots do
		delta := rng.Uint64() & ((1 << (stubBits + 2)) - 1)
		cur.Add(cur, uint256.NewInt(delta))
		lps[i] = new(uint256.Int).Set(cur)
	}
	return lps
}

func TestPark_RoundTrip_FullPark(t *testing.T) {
	require := require.New(t)
	rng := rand.New(rand.NewSource(12))

	const k = 17
	for _, table := range []int{1, 3, 6} {
		codec := NewCodec()
		lps := randomParkLinePoints(rng, k, pos.EntriesPerPark)
		out := make([]byte, ParkSizeBytes(k, table))
		require.NoError(codec.EncodePark(k, table, lps, out))

		for _, idx := range []int{0, 1, 2, 100, 2046, 2047} {
			got, err := codec.LinePointAt(k, table, out, idx)
			require.NoError(err)
			require.Equal(lps[idx].String(), got.String(), "table %d index %d", table, idx)
		}
	}
}

func TestPark_RoundTrip_PartialPark(t *testing.T) {
	require := require.New(t)
	rng := rand.New(rand.NewSource(13))

	const k = 20
	codec := NewCodec()
	for _, count := range []int{1, 2, 37} {
		lps := randomParkLinePoints(rng, k, count)
		out := make([]byte, ParkSizeBytes(k, 2))
		require.NoError(codec.EncodePark(k, 2, lps, out))
		for i := range lps {
			got, err := codec.LinePointAt(k, 2, out, i)
			require.NoError(err)
			require.Equal(lps[i].String(), got.String(), "count %d index %d", count, i)
		}
		// indexes past the stored run are rejected
		_, err := codec.LinePointAt(k, 2, out, count)
		if count < pos.EntriesPerPark {
			require.Error(err)
		}
	}
}

func TestPark_EncodeRejectsUnsortedInput(t *testing.T) {
	require := require.New(t)

	const k = 17
	codec := NewCodec()
	lps := []*uint256.Int{uint256.NewInt(100), uint256.NewInt(50)}
	out := make([]byte, ParkSizeBytes(k, 2))
	require.ErrorIs(codec.EncodePark(k, 2, lps, out), common.ErrInvalidValue)
}

func TestPark_EncodeRejectsOversizedDelta(t *testing.T) {
	require := require.New(t)

	const k = 17
	codec := NewCodec()
	big := new(uint256.Int).Lsh(uint256.NewInt(1), uint(k+10))
	lps := []*uint256.Int{uint256.NewInt(0), big}
	out := make([]byte, ParkSizeBytes(k, 2))
	require.ErrorIs(codec.EncodePark(k, 2, lps, out), common.ErrInvalidValue)
}

func TestC3_RoundTrip(t *testing.T) {
	require := require.New(t)
	rng := rand.New(rand.NewSource(14))

	codec := NewCodec()
	for _, count := range []int{0, 1, 100, pos.Checkpoint1Interval - 1} {
		deltas := make([]byte, count)
		for i := range deltas {
			deltas[i] = byte(rng.Intn(4))
		}
		out := make([]byte, C3SizeBytes(17))
		require.NoError(codec.EncodeC3(deltas, out))
		got, err := codec.DecodeC3(out)
		require.NoError(err)
		if count == 0 {
			require.Empty(got)
		} else {
			require.Equal(deltas, got)
		}
	}
}

func TestParkSizes_AreByteAlignedAndPositive(t *testing.T) {
	require := require.New(t)

	for k := pos.MinPlotSize; k <= pos.MaxPlotSize; k++ {
		for table := 1; table <= 6; table++ {
			size := ParkSizeBytes(k, table)
			require.Positive(size)
			require.Equal(
				LinePointSizeBytes(k)+StubsSizeBytes(k)+MaxDeltasSizeBytes(k, table),
				size)
		}
		require.Positive(C3SizeBytes(k))
		require.Positive(P7ParkSizeBytes(k))
	}
}
