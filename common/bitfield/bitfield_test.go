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

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitfield_SetAndGet(t *testing.T) {
	require := require.New(t)
	indices := []int64{0, 1, 63, 64, 65, 127, 128, 1000}

	b := New(1024)
	for _, i := range indices {
		require.False(b.Get(i))
		b.Set(i)
		require.True(b.Get(i))
	}
	require.Equal(int64(len(indices)), b.Count(0, 1024))
}

func TestBitfield_Count_RespectsRangeBounds(t *testing.T) {
	require := require.New(t)

	b := New(256)
	for i := int64(0); i < 256; i += 2 {
		b.Set(i)
	}
	require.Equal(int64(128), b.Count(0, 256))
	require.Equal(int64(1), b.Count(0, 2))
	require.Equal(int64(32), b.Count(64, 128))
	require.Equal(int64(0), b.Count(1, 2))
}

func TestBitfield_Clear_KeepsStorageAndResetsBits(t *testing.T) {
	require := require.New(t)

	b := New(128)
	b.Set(5)
	b.Set(127)
	b.Clear(100)
	require.Equal(int64(100), b.Size())
	require.Equal(int64(0), b.Count(0, 100))
}

func TestIndex_Rank_MatchesNaiveCount(t *testing.T) {
	require := require.New(t)
	rng := rand.New(rand.NewSource(7))

	const size = 5000
	b := New(size)
	for i := int64(0); i < size; i++ {
		if rng.Intn(3) == 0 {
			b.Set(i)
		}
	}
	ix := NewIndex(b)
	var naive int64
	for i := int64(0); i <= size; i++ {
		require.Equal(naive, ix.Rank(i), "rank at %d", i)
		if i < size && b.Get(i) {
			naive++
		}
	}
}
