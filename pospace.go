// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package pospace is the embedding surface of the proof-of-space engine:
// plot construction, challenge-index based quality and proof lookup, and
// stateless proof validation.
//
// Challenges are 32-byte values; the embedding derives them from a
// 32-bit challenge index placed little-endian in the first four bytes,
// the rest zero. Internal query failures are deliberately swallowed and
// surfaced as missing results, matching the embedding contract.
package pospace

import (
	"encoding/binary"

	"github.com/0xsoniclabs/pospace/plotter"
	"github.com/0xsoniclabs/pospace/prover"
	"github.com/0xsoniclabs/pospace/verifier"
)

// Table is a generated plot together with its prover.
type Table struct {
	plot   []byte
	prover *prover.Prover
	k      int
}

// CreateTable builds a plot for the given k and 32-byte seed using the
// embedding defaults (10 MiB working memory, stripe size 4000).
func CreateTable(k int, seed []byte) (*Table, error) {
	return CreateTableWithOptions(k, seed, plotter.Options{
		BufMiB:     10,
		StripeSize: 4000,
	})
}

// CreateTableWithOptions builds a plot with explicit plotter options.
func CreateTableWithOptions(k int, seed []byte, opts plotter.Options) (*Table, error) {
	plot, err := plotter.CreatePlot(k, seed, opts)
	if err != nil {
		return nil, err
	}
	p, err := prover.New(plot)
	if err != nil {
		return nil, err
	}
	return &Table{plot: plot, prover: p, k: k}, nil
}

// OpenTable attaches a prover to an existing plot artifact.
func OpenTable(plot []byte) (*Table, error) {
	p, err := prover.New(plot)
	if err != nil {
		return nil, err
	}
	return &Table{plot: plot, prover: p, k: p.K()}, nil
}

// Plot returns the underlying artifact bytes.
func (t *Table) Plot() []byte {
	return t.plot
}

// Quality is one solution for a challenge index; it can expand itself
// into a full proof.
type Quality struct {
	bytes          [32]byte
	challengeIndex uint32
	table          *Table
}

// Bytes returns the 32-byte quality.
func (q *Quality) Bytes() [32]byte {
	return q.bytes
}

// CreateProof produces the full proof for this quality. The second
// return is false only on an internal error.
func (q *Quality) CreateProof() ([]byte, bool) {
	proof, err := q.table.prover.GetFullProof(challengeFromIndex(q.challengeIndex), 0)
	if err != nil {
		return nil, false
	}
	return proof, true
}

// FindQuality returns the first quality for the challenge index, or nil
// if no proof exists or an internal error occurred.
func (t *Table) FindQuality(challengeIndex uint32) *Quality {
	if t == nil || t.prover == nil {
		return nil
	}
	qualities, err := t.prover.GetQualitiesForChallenge(challengeFromIndex(challengeIndex))
	if err != nil || len(qualities) == 0 {
		return nil
	}
	q := &Quality{challengeIndex: challengeIndex, table: t}
	copy(q.bytes[:], qualities[0])
	return q
}

// IsProofValid checks a proof produced for the given challenge index.
func IsProofValid(k int, seed []byte, challengeIndex uint32, proof []byte) bool {
	return IsProofValidChallenge(k, seed, challengeFromIndex(challengeIndex), proof)
}

// IsProofValidChallenge checks a proof against a raw 32-byte challenge.
// Challenges whose bottom-5-bit quality selector is non-zero are
// rejected here even when the stateless validation succeeds; existing
// callers depend on this wrapper-level restriction.
func IsProofValidChallenge(k int, seed, challenge, proof []byte) bool {
	if len(challenge) != 32 || challenge[31]&0x1f != 0 {
		return false
	}
	return verifier.ValidateProof(k, seed, challenge, proof) != nil
}

// challengeFromIndex pads a challenge index into a 32-byte challenge:
// little-endian in the low four bytes, the rest zero.
func challengeFromIndex(index uint32) []byte {
	challenge := make([]byte, 32)
	binary.LittleEndian.PutUint32(challenge, index)
	return challenge
}
