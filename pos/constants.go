// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package pos holds the proof-of-space domain core: plot parameters, the
// bit-packed entry codec, the F1/Fi function evaluators and the bucket
// match engine.
package pos

// Plot format constants. These are part of the wire contract; changing
// any of them produces incompatible plots.
const (
	// IDLen is the seed length in bytes.
	IDLen = 32

	// MinPlotSize and MaxPlotSize bound the space parameter k.
	MinPlotSize = 17
	MaxPlotSize = 50

	// ExtraBits is the number of bits by which f outputs exceed k;
	// matching entries are fewer than 2^ExtraBits buckets apart.
	ExtraBits    = 6
	ExtraBitsPow = 1 << ExtraBits

	// B, C and BC parameterize the bucket match rule.
	B  = 119
	C  = 127
	BC = B * C

	// EntriesPerPark is the number of line points per compressed park.
	EntriesPerPark = 2048

	// Checkpoint intervals for the C1/C2 tables over f7.
	Checkpoint1Interval = 10000
	Checkpoint2Interval = 10000

	// StubMinusBits: park stubs are k - StubMinusBits bits wide.
	StubMinusBits = 3

	// Per-entry bit budgets for the entropy-coded delta tails.
	MaxAverageDeltaTable1 = 5.6
	MaxAverageDelta       = 5.5
	C3BitsPerEntry        = 2.4

	// MemSortProportion is the fraction of working memory a single
	// sort bucket may occupy.
	MemSortProportion = 0.75

	// MinBuckets and MaxBuckets bound the sort-manager bucket count.
	MinBuckets = 16
	MaxBuckets = 128

	// F1BlockSizeBits is the ChaCha8 keystream block size in bits.
	F1BlockSizeBits = 512

	// FormatDescription tags the plot format version in the header.
	FormatDescription = "v1.0"

	// Magic is the plot header magic string.
	Magic = "Proof of Space Plot"
)

// VectorLens[t] is the metadata length, in multiples of k bits, carried
// into the computation of table t. Entries of table t-1 carry
// VectorLens[t]*k metadata bits.
var VectorLens = [8]int{0, 0, 1, 2, 4, 4, 3, 2}
