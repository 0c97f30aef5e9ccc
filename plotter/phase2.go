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
	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/common/bitfield"
	"github.com/0xsoniclabs/pospace/pos"
	"go.uber.org/zap"
)

// phase2Result holds the pruned and renumbered tables. Tables 2..6 are
// rewritten as (posL, posR, sortKey) runs sorted by posL; table 7 keeps
// its f7 order with renumbered pointers; table 1 is represented only by
// its liveness bitfield over the phase-1 data.
type phase2Result struct {
	tables [7][]byte
	counts [7]int64

	table7 []byte
	count7 int64

	// live entries of table 1, indexed by phase-1 position
	bitfield1 *bitfield.Bitfield
}

// runPhase2 walks the tables from 7 down to 2, marking each lower
// table's referenced entries in a bitfield, renumbering the survivors
// contiguously, and rewriting the pointers of the upper table to the new
// ranks.
func runPhase2(cfg *config, p1 *phase1Result) (*phase2Result, error) {
	k := cfg.k
	res := &phase2Result{}

	var curBf *bitfield.Bitfield
	for t := 7; t >= 2; t-- {
		cfg.log.Info("back-propagating", zap.Int("table", t))
		layout := pos.Phase1Layout(k, t)
		es := layout.EntrySize()
		data := p1.tables[t]
		count := p1.counts[t]

		posLOffset := layout.YBits
		posROffset := layout.YBits + layout.PosBits

		nextBf := bitfield.New(p1.counts[t-1])
		for i := int64(0); i < count; i++ {
			if t < 7 && !curBf.Get(i) {
				continue
			}
			entry := data[i*int64(es):]
			nextBf.Set(int64(bitbuf.SliceUint64(entry, posLOffset, layout.PosBits)))
			nextBf.Set(int64(bitbuf.SliceUint64(entry, posROffset, layout.PosBits)))
		}
		index := bitfield.NewIndex(nextBf)

		if t == 7 {
			// table 7 keeps its f7 order; pointers are renumbered in place
			for i := int64(0); i < count; i++ {
				entry := data[i*int64(es) : (i+1)*int64(es)]
				e := layout.Decode(entry)
				e.PosL = uint64(index.Rank(int64(e.PosL)))
				e.PosR = uint64(index.Rank(int64(e.PosR)))
				for j := range entry {
					entry[j] = 0
				}
				layout.Encode(&e, entry)
			}
			res.table7 = data
			res.count7 = count
		} else {
			outLayout := pos.Phase2Layout(k, t)
			outSize := outLayout.EntrySize()
			sm := usort.NewManager(cfg.memorySize/2, cfg.logNumBuckets, outSize, 0,
				cfg.prevBucketEntries)
			entryBuf := make([]byte, outSize)
			var counter int64
			for i := int64(0); i < count; i++ {
				if !curBf.Get(i) {
					continue
				}
				entry := data[i*int64(es):]
				e := pos.Entry{
					PosL:    uint64(index.Rank(int64(bitbuf.SliceUint64(entry, posLOffset, layout.PosBits)))),
					PosR:    uint64(index.Rank(int64(bitbuf.SliceUint64(entry, posROffset, layout.PosBits)))),
					SortKey: uint64(counter),
				}
				for j := range entryBuf {
					entryBuf[j] = 0
				}
				outLayout.Encode(&e, entryBuf)
				if err := sm.AddEntry(entryBuf); err != nil {
					return nil, fmt.Errorf("table %d rewrite: %w", t, err)
				}
				counter++
			}
			// materialize the pos-sorted stream
			res.tables[t] = make([]byte, 0, counter*int64(outSize))
			for i := int64(0); i < counter; i++ {
				view, err := sm.ReadEntry(uint64(i) * uint64(outSize))
				if err != nil {
					return nil, fmt.Errorf("table %d sorted read: %w", t, err)
				}
				res.tables[t] = append(res.tables[t], view[:outSize]...)
			}
			sm.FreeMemory()
			res.counts[t] = counter

			// the phase-1 copy is no longer needed
			p1.tables[t] = nil
		}
		curBf = nextBf
	}
	res.bitfield1 = curBf

	live1 := res.bitfield1.Count(0, res.bitfield1.Size())
	if res.counts[2] > 0 && live1 == 0 {
		return nil, fmt.Errorf("%w: table 2 survived but table 1 has no live entries",
			common.ErrUnreachable)
	}
	cfg.log.Info("back-propagation complete", zap.Int64("table 1 live entries", live1))
	return res, nil
}
