// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package plotter

import (
	"fmt"

	"github.com/0xsoniclabs/pospace/backend/usort"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/pos"
	"go.uber.org/zap"
)

// phase1Result holds the seven forward-propagated tables, each a packed
// run of entries sorted by y in the phase-1 layout of its table.
type phase1Result struct {
	tables [8][]byte
	counts [8]int64
}

// windowEntry is a decoded entry of the two-bucket match window.
type windowEntry struct {
	y    uint64
	meta *bitbuf.Buf
	pos  int64
}

// runPhase1 generates table 1 from the seed and forward-propagates
// tables 2..7 through the match engine, streaming every table through a
// bucketed sort keyed by y.
func runPhase1(cfg *config, id []byte) (*phase1Result, error) {
	k := cfg.k
	res := &phase1Result{}

	cfg.log.Info("computing table 1")
	layout1 := pos.Phase1Layout(k, 1)
	sm := usort.NewManager(cfg.memorySize, cfg.logNumBuckets, layout1.EntrySize(), 0,
		cfg.prevBucketEntries)

	f1, err := pos.NewF1(k, id)
	if err != nil {
		return nil, err
	}
	entryBuf := make([]byte, layout1.EntrySize())
	meta := &bitbuf.Buf{}
	for x := uint64(0); x < uint64(1)<<k; x++ {
		meta.Reset()
		meta.AppendUint64(x, k)
		for i := range entryBuf {
			entryBuf[i] = 0
		}
		layout1.Encode(&pos.Entry{Y: f1.Calculate(x), Meta: meta}, entryBuf)
		if err := sm.AddEntry(entryBuf); err != nil {
			return nil, fmt.Errorf("table 1 entry: %w", err)
		}
	}
	res.counts[1] = int64(1) << k

	for t := 2; t <= 7; t++ {
		cfg.log.Info("computing table", zap.Int("table", t))
		count, out, err := forwardPropagate(cfg, t, sm, res)
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", t, err)
		}
		res.counts[t] = count
		sm.FreeMemory()
		sm = out
	}

	// materialize the last table from its sort stream
	layout7 := pos.Phase1Layout(k, 7)
	es := layout7.EntrySize()
	res.tables[7] = make([]byte, 0, res.counts[7]*int64(es))
	for i := int64(0); i < res.counts[7]; i++ {
		view, err := sm.ReadEntry(uint64(i) * uint64(es))
		if err != nil {
			return nil, fmt.Errorf("table 7 read: %w", err)
		}
		res.tables[7] = append(res.tables[7], view[:es]...)
	}
	sm.FreeMemory()

	for t := 1; t <= 7; t++ {
		cfg.log.Info("table complete", zap.Int("table", t), zap.Int64("entries", res.counts[t]))
	}
	return res, nil
}

// forwardPropagate reads table t-1 from its sort stream, materializing it
// into the result store, and emits table t's entries into a fresh sort
// manager keyed by the new y.
func forwardPropagate(cfg *config, t int, prev *usort.Manager, res *phase1Result) (int64, *usort.Manager, error) {
	k := cfg.k
	prevLayout := pos.Phase1Layout(k, t-1)
	curLayout := pos.Phase1Layout(k, t)
	prevSize := prevLayout.EntrySize()
	prevCount := res.counts[t-1]

	out := usort.NewManager(cfg.memorySize, cfg.logNumBuckets, curLayout.EntrySize(), 0,
		cfg.prevBucketEntries)

	res.tables[t-1] = make([]byte, 0, prevCount*int64(prevSize))

	matcher := pos.NewMatcher()
	fx := pos.NewFx(k, t)
	matches := make([]pos.MatchPair, 0, pos.MaxMatchesPerStripe)
	entryBuf := make([]byte, curLayout.EntrySize())

	var bucketL, bucketR []windowEntry
	var bucketLID, bucketRID uint64
	var count int64

	process := func() error {
		if len(bucketL) == 0 || len(bucketR) == 0 || bucketRID != bucketLID+1 {
			return nil
		}
		leftY := make([]uint64, len(bucketL))
		for i, e := range bucketL {
			leftY[i] = e.y
		}
		rightY := make([]uint64, len(bucketR))
		for i, e := range bucketR {
			rightY[i] = e.y
		}
		matches = matcher.FindMatches(leftY, rightY, matches[:0])
		for _, p := range matches {
			l, r := bucketL[p.L], bucketR[p.R]
			y, meta := fx.Calculate(l.y, l.meta, r.meta)
			entry := pos.Entry{
				Y:    y,
				PosL: uint64(l.pos),
				PosR: uint64(r.pos),
				Meta: meta,
			}
			if t == 7 {
				entry.Y = y >> pos.ExtraBits
			}
			for i := range entryBuf {
				entryBuf[i] = 0
			}
			curLayout.Encode(&entry, entryBuf)
			if err := out.AddEntry(entryBuf); err != nil {
				return err
			}
			count++
		}
		return nil
	}

	for i := int64(0); i < prevCount; i++ {
		view, err := prev.ReadEntry(uint64(i) * uint64(prevSize))
		if err != nil {
			return 0, nil, err
		}
		res.tables[t-1] = append(res.tables[t-1], view[:prevSize]...)

		decoded := prevLayout.Decode(view)
		bucket := decoded.Y / pos.BC
		entry := windowEntry{y: decoded.Y, meta: decoded.Meta, pos: i}

		switch {
		case len(bucketR) == 0 && (len(bucketL) == 0 || bucket == bucketLID):
			if len(bucketL) == 0 {
				bucketLID = bucket
			}
			bucketL = append(bucketL, entry)
		case bucket == bucketRID && len(bucketR) > 0:
			bucketR = append(bucketR, entry)
		default:
			// entry opens a new bucket: close out the current pair
			if err := process(); err != nil {
				return 0, nil, err
			}
			if len(bucketR) > 0 {
				bucketL, bucketLID = bucketR, bucketRID
			}
			if bucket == bucketLID+1 {
				bucketRID = bucket
				bucketR = append(bucketR[:0:0], entry)
			} else {
				// a gap: the previous window cannot match anything ahead
				bucketL = append(bucketL[:0:0], entry)
				bucketLID = bucket
				bucketR = nil
			}
		}
	}
	if err := process(); err != nil {
		return 0, nil, err
	}
	return count, out, nil
}
