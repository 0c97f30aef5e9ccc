// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package bitbuf

import (
	"math/rand"
	"testing"

	"github.com/0xsoniclabs/pospace/common"
	"github.com/stretchr/testify/require"
)

func TestBuf_AppendUint64_PacksMSBFirst(t *testing.T) {
	require := require.New(t)

	var b Buf
	b.AppendUint64(0b101, 3)
	b.AppendUint64(0b0001, 4)
	b.AppendUint64(0b1, 1)
	require.Equal(8, b.Len())
	require.Equal([]byte{0b10100011}, b.Bytes())
}

func TestBuf_AppendUint64_MasksValueToWidth(t *testing.T) {
	require := require.New(t)

	var b Buf
	b.AppendUint64(0xffff, 4)
	require.Equal([]byte{0xf0}, b.Bytes())
}

func TestBuf_RoundTrip_RandomFields(t *testing.T) {
	require := require.New(t)
	rng := rand.New(rand.NewSource(42))

	for range 100 {
		var widths []int
		var values []uint64
		var b Buf
		for range 20 {
			w := rng.Intn(64) + 1
			v := rng.Uint64() & ((uint64(1) << w) - 1)
			if w == 64 {
				v = rng.Uint64()
			}
			widths = append(widths, w)
			values = append(values, v)
			b.AppendUint64(v, w)
		}
		offset := 0
		for i, w := range widths {
			got, err := b.Uint64At(offset, w)
			require.NoError(err)
			require.Equal(values[i], got, "field %d", i)
			offset += w
		}
	}
}

func TestBuf_Uint64At_RejectsOversizedWidth(t *testing.T) {
	require := require.New(t)

	var b Buf
	b.AppendUint64(1, 64)
	b.AppendUint64(1, 64)
	_, err := b.Uint64At(0, 65)
	require.ErrorIs(err, common.ErrWidthOverflow)
}

func TestBuf_Slice_ExtractsMiddleBits(t *testing.T) {
	require := require.New(t)

	var b Buf
	b.AppendUint64(0xabcdef0123456789, 64)
	s := b.Slice(8, 24)
	require.Equal(16, s.Len())
	v, err := s.Uint64At(0, 16)
	require.NoError(err)
	require.Equal(uint64(0xcdef), v)
}

func TestBuf_Append_ConcatenatesAcrossByteBoundaries(t *testing.T) {
	require := require.New(t)

	var a, b Buf
	a.AppendUint64(0b10110, 5)
	b.AppendUint64(0b001, 3)
	a.Append(&b)
	require.Equal(8, a.Len())
	require.Equal([]byte{0b10110001}, a.Bytes())
}

func TestFromBytes_MasksTailBits(t *testing.T) {
	require := require.New(t)

	b := FromBytes([]byte{0xff, 0xff}, 12)
	require.Equal(12, b.Len())
	require.Equal([]byte{0xff, 0xf0}, b.Bytes())
}

func TestSliceUint64_ReadsAcrossNineBytes(t *testing.T) {
	require := require.New(t)

	data := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef, 0x55}
	// 64 bits starting at offset 4 span all nine bytes.
	require.Equal(uint64(0x123456789abcdef5), SliceUint64(data, 4, 64))
}

func TestSliceUint64_ZeroPadsPastEnd(t *testing.T) {
	require := require.New(t)

	data := []byte{0xf0}
	require.Equal(uint64(0xf0)<<8, SliceUint64(data, 0, 16))
}

func TestCompareSuffix_IgnoresBitsBeforeOffset(t *testing.T) {
	require := require.New(t)

	left := []byte{0xff, 0x01}
	right := []byte{0x00, 0x01}
	require.Equal(0, CompareSuffix(left, right, 8))
	require.Equal(0, CompareSuffix([]byte{0xf5, 0xaa}, []byte{0x05, 0xaa}, 4))
	require.Equal(1, CompareSuffix([]byte{0x0f, 0x00}, []byte{0x00, 0xff}, 4))
	require.Equal(-1, CompareSuffix([]byte{0x00, 0x01}, []byte{0x00, 0x02}, 8))
}

func TestRoundPow2_RoundsUp(t *testing.T) {
	require := require.New(t)

	require.Equal(uint64(1), RoundPow2(0))
	require.Equal(uint64(1), RoundPow2(1))
	require.Equal(uint64(2), RoundPow2(2))
	require.Equal(uint64(4), RoundPow2(3))
	require.Equal(uint64(128), RoundPow2(100))
}
