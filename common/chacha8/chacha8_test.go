// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package chacha8

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeystream_IsDeterministic(t *testing.T) {
	require := require.New(t)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	a := New(key)
	b := New(key)

	outA := make([]byte, 2*BlockSize)
	outB := make([]byte, 2*BlockSize)
	a.Keystream(5, 2, outA)
	b.Keystream(5, 2, outB)
	require.Equal(outA, outB)
}

func TestKeystream_BlocksAreIndependentOfBatching(t *testing.T) {
	require := require.New(t)

	key := make([]byte, 32)
	key[0] = 1
	c := New(key)

	batched := make([]byte, 4*BlockSize)
	c.Keystream(10, 4, batched)

	single := make([]byte, BlockSize)
	for i := 0; i < 4; i++ {
		c.Keystream(10+uint64(i), 1, single)
		require.Equal(batched[i*BlockSize:(i+1)*BlockSize], single, "block %d", i)
	}
}

func TestKeystream_CounterChangesOutput(t *testing.T) {
	require := require.New(t)

	c := New(make([]byte, 32))
	a := make([]byte, BlockSize)
	b := make([]byte, BlockSize)
	c.Keystream(0, 1, a)
	c.Keystream(1, 1, b)
	require.False(bytes.Equal(a, b))
}

func TestKeystream_KeyChangesOutput(t *testing.T) {
	require := require.New(t)

	k1 := make([]byte, 32)
	k2 := make([]byte, 32)
	k2[31] = 0xff
	a := make([]byte, BlockSize)
	b := make([]byte, BlockSize)
	New(k1).Keystream(0, 1, a)
	New(k2).Keystream(0, 1, b)
	require.False(bytes.Equal(a, b))
}
