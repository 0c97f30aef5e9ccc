// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package verifier

import (
	"math/rand"
	"testing"

	"github.com/0xsoniclabs/pospace/pos"
	"github.com/stretchr/testify/require"
)

func testSeed() []byte {
	id := make([]byte, pos.IDLen)
	for i := range id {
		id[i] = byte(i * 3)
	}
	return id
}

func TestValidateProof_RejectsMalformedInput(t *testing.T) {
	require := require.New(t)

	challenge := make([]byte, 32)
	proof := make([]byte, 17*8)

	require.Nil(ValidateProof(16, testSeed(), challenge, proof))
	require.Nil(ValidateProof(51, testSeed(), challenge, proof))
	require.Nil(ValidateProof(17, testSeed()[:5], challenge, proof))
	require.Nil(ValidateProof(17, testSeed(), challenge[:10], proof))
	require.Nil(ValidateProof(17, testSeed(), challenge, proof[:10]))
	require.Nil(ValidateProof(17, testSeed(), nil, nil))
}

func TestValidateProof_RejectsRandomProofsWithoutPanicking(t *testing.T) {
	require := require.New(t)
	rng := rand.New(rand.NewSource(99))

	challenge := make([]byte, 32)
	for round := 0; round < 50; round++ {
		rng.Read(challenge)
		proof := make([]byte, 17*8)
		rng.Read(proof)
		require.Nil(ValidateProof(17, testSeed(), challenge, proof), "round %d", round)
	}
}

func TestValidateProof_IsTotalOverAllZeroInput(t *testing.T) {
	require := require.New(t)

	require.Nil(ValidateProof(17, testSeed(), make([]byte, 32), make([]byte, 17*8)))
}
