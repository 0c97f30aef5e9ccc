// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package chacha8 implements the 8-round ChaCha keystream generator used
// to derive first-table function outputs. Only keystream generation with
// an explicit 64-bit block counter is provided; this is not a
// general-purpose cipher.
package chacha8

import "encoding/binary"

// BlockSize is the keystream block size in bytes.
const BlockSize = 64

const rounds = 8

// sigma is the "expand 32-byte k" constant of the ChaCha family.
var sigma = [4]uint32{0x61707865, 0x3320646e, 0x79622d32, 0x6b206574}

// Ctx holds the expanded key state.
type Ctx struct {
	input [16]uint32
}

// New expands a 32-byte key with a zero IV.
func New(key []byte) *Ctx {
	c := &Ctx{}
	c.input[0] = sigma[0]
	c.input[1] = sigma[1]
	c.input[2] = sigma[2]
	c.input[3] = sigma[3]
	for i := 0; i < 8; i++ {
		c.input[4+i] = binary.LittleEndian.Uint32(key[4*i:])
	}
	// input[12..13] hold the block counter, set per keystream call;
	// input[14..15] are the zero IV.
	return c
}

func quarterRound(a, b, c, d uint32) (uint32, uint32, uint32, uint32) {
	a += b
	d ^= a
	d = d<<16 | d>>16
	c += d
	b ^= c
	b = b<<12 | b>>20
	a += b
	d ^= a
	d = d<<8 | d>>24
	c += d
	b ^= c
	b = b<<7 | b>>25
	return a, b, c, d
}

// Keystream writes nBlocks 64-byte keystream blocks starting at the given
// block counter into out.
func (c *Ctx) Keystream(counter uint64, nBlocks int, out []byte) {
	var x [16]uint32
	for block := 0; block < nBlocks; block++ {
		pos := counter + uint64(block)
		copy(x[:], c.input[:])
		x[12] = uint32(pos)
		x[13] = uint32(pos >> 32)
		for i := 0; i < rounds; i += 2 {
			x[0], x[4], x[8], x[12] = quarterRound(x[0], x[4], x[8], x[12])
			x[1], x[5], x[9], x[13] = quarterRound(x[1], x[5], x[9], x[13])
			x[2], x[6], x[10], x[14] = quarterRound(x[2], x[6], x[10], x[14])
			x[3], x[7], x[11], x[15] = quarterRound(x[3], x[7], x[11], x[15])
			x[0], x[5], x[10], x[15] = quarterRound(x[0], x[5], x[10], x[15])
			x[1], x[6], x[11], x[12] = quarterRound(x[1], x[6], x[11], x[12])
			x[2], x[7], x[8], x[13] = quarterRound(x[2], x[7], x[8], x[13])
			x[3], x[4], x[9], x[14] = quarterRound(x[3], x[4], x[9], x[14])
		}
		for i := 0; i < 16; i++ {
			v := x[i] + c.input[i]
			if i == 12 {
				v = x[i] + uint32(pos)
			} else if i == 13 {
				v = x[i] + uint32(pos>>32)
			}
			binary.LittleEndian.PutUint32(out[block*BlockSize+4*i:], v)
		}
	}
}
