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

	"github.com/0xsoniclabs/pospace/backend/disk"
	"github.com/0xsoniclabs/pospace/backend/usort"
	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/pos"
	"github.com/0xsoniclabs/pospace/pos/parks"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// phase3Result carries the final table pointers and the compressed
// table-7 stream handed to phase 4.
type phase3Result struct {
	// pointers[1..7] are the final-file offsets of the park streams;
	// pointers[7] is where phase 4 continues writing.
	pointers [11]uint64

	// final7 holds packed (f7, position) entries in f7 order.
	final7   []byte
	entries7 int64
}

// leftWindow serves the final positions (or x values) of a lower table
// to the line-point computation of the table above it. Ranks are loaded
// on demand from a sequential source and pruned as the pos-sorted reader
// moves past them.
type leftWindow struct {
	vals []uint64
	base int64
	next int64
	load func() (uint64, error)
}

func (w *leftWindow) get(rank int64) (uint64, error) {
	if rank < w.base {
		return 0, fmt.Errorf("%w: rank %d pruned from the mapping window",
			common.ErrReadOutOfWindow, rank)
	}
	for w.next <= rank {
		v, err := w.load()
		if err != nil {
			return 0, err
		}
		w.vals = append(w.vals, v)
		w.next++
	}
	return w.vals[rank-w.base], nil
}

func (w *leftWindow) prune(minRank int64) {
	if drop := minRank - w.base; drop > 4096 && drop <= int64(len(w.vals)) {
		w.vals = append(w.vals[:0], w.vals[drop:]...)
		w.base = minRank
	}
}

// runPhase3 rewrites tables 1..6 as sorted line-point parks in the final
// artifact and produces the (f7, position) stream for phase 4.
func runPhase3(cfg *config, plot disk.Disk, headerSize uint64, p1 *phase1Result, p2 *phase2Result) (*phase3Result, error) {
	k := cfg.k
	res := &phase3Result{}
	res.pointers[1] = headerSize

	codec := parks.NewCodec()
	var prevMap *usort.Manager
	var prevMapRead int64

	for t := 2; t <= 7; t++ {
		cfg.log.Info("compressing table", zap.Int("table", t-1))

		left, err := makeLeftLoader(cfg, t, p1, p2, prevMap, &prevMapRead)
		if err != nil {
			return nil, err
		}
		window := &leftWindow{load: left}

		rData, rCount, rLayout, err := rightStream(cfg, t, p2)
		if err != nil {
			return nil, err
		}
		if rCount == 0 {
			return nil, fmt.Errorf("%w: table %d is empty", common.ErrUnreachable, t)
		}

		// pass 1: derive line points in pos order, sort them by value
		lpBits := 2 * k
		keyBits := k + 1
		lpSize := bitbuf.Cdiv(lpBits+keyBits, 8)
		lpSM := usort.NewManager(cfg.memorySize/2, cfg.logNumBuckets, lpSize, 0,
			cfg.prevBucketEntries)
		rSize := rLayout.EntrySize()
		scratch := &bitbuf.Buf{}
		for j := int64(0); j < rCount; j++ {
			e := rLayout.Decode(rData[j*int64(rSize):])
			window.prune(int64(e.PosL))
			lVal, err := window.get(int64(e.PosL))
			if err != nil {
				return nil, fmt.Errorf("table %d left lookup: %w", t, err)
			}
			rVal, err := window.get(int64(e.PosR))
			if err != nil {
				return nil, fmt.Errorf("table %d right lookup: %w", t, err)
			}
			lp := parks.SquareToLinePoint(lVal, rVal)

			scratch.Reset()
			if lpBits > 64 {
				hi := new(uint256.Int).Rsh(lp, 64)
				scratch.AppendUint64(hi.Uint64(), lpBits-64)
				scratch.AppendUint64(lp.Uint64(), 64)
			} else {
				scratch.AppendUint64(lp.Uint64(), lpBits)
			}
			// keys are offset by one so no entry is all-zero
			scratch.AppendUint64(e.SortKey+1, keyBits)
			if err := lpSM.AddEntry(scratch.Bytes()); err != nil {
				return nil, fmt.Errorf("table %d line point: %w", t, err)
			}
		}
		freeRightStream(t, p2)

		// pass 2: write parks in line-point order, emit the rank mapping
		mapSize := bitbuf.Cdiv(2*keyBits, 8)
		mapSM := usort.NewManager(cfg.memorySize/2, cfg.logNumBuckets, mapSize, 0,
			cfg.prevBucketEntries)

		tableStart := res.pointers[t-1]
		parkSize := parks.ParkSizeBytes(k, t-1)
		lpBuf := make([]*uint256.Int, 0, pos.EntriesPerPark)
		parkBuf := make([]byte, parkSize)
		var parkIndex int64
		flushPark := func() error {
			if len(lpBuf) == 0 {
				return nil
			}
			for i := range parkBuf {
				parkBuf[i] = 0
			}
			if err := codec.EncodePark(k, t-1, lpBuf, parkBuf); err != nil {
				return err
			}
			if err := plot.Write(tableStart+uint64(parkIndex)*uint64(parkSize), parkBuf); err != nil {
				return err
			}
			parkIndex++
			lpBuf = lpBuf[:0]
			return nil
		}

		for j := int64(0); j < rCount; j++ {
			view, err := lpSM.ReadEntry(uint64(j) * uint64(lpSize))
			if err != nil {
				return nil, fmt.Errorf("table %d sorted line point: %w", t, err)
			}
			var lp *uint256.Int
			if lpBits > 64 {
				hi := bitbuf.SliceUint64(view, 0, lpBits-64)
				lo := bitbuf.SliceUint64(view, lpBits-64, 64)
				lp = uint256.NewInt(hi)
				lp.Lsh(lp, 64)
				lp.Or(lp, uint256.NewInt(lo))
			} else {
				lp = uint256.NewInt(bitbuf.SliceUint64(view, 0, lpBits))
			}
			sortKey := bitbuf.SliceUint64(view, lpBits, keyBits)

			lpBuf = append(lpBuf, lp)
			if len(lpBuf) == pos.EntriesPerPark {
				if err := flushPark(); err != nil {
					return nil, fmt.Errorf("table %d park: %w", t, err)
				}
			}

			scratch.Reset()
			scratch.AppendUint64(sortKey, keyBits) // already offset by one
			scratch.AppendUint64(uint64(j), keyBits)
			if err := mapSM.AddEntry(scratch.Bytes()); err != nil {
				return nil, fmt.Errorf("table %d mapping: %w", t, err)
			}
		}
		if err := flushPark(); err != nil {
			return nil, fmt.Errorf("table %d park: %w", t, err)
		}
		lpSM.FreeMemory()

		res.pointers[t] = tableStart + uint64(parkIndex)*uint64(parkSize)
		if prevMap != nil {
			prevMap.FreeMemory()
		}
		prevMap = mapSM
		prevMapRead = 0
		if t == 2 {
			p1.tables[1] = nil
		}
	}

	// zip the f7 values with the final table-6 positions
	out7 := finalTable7Layout(k)
	es7 := out7.size
	t7Layout := pos.Phase1Layout(k, 7)
	t7Size := t7Layout.EntrySize()
	res.final7 = make([]byte, 0, p2.count7*int64(es7))
	scratch := &bitbuf.Buf{}
	mapSize := bitbuf.Cdiv(2*(k+1), 8)
	for i := int64(0); i < p2.count7; i++ {
		f7 := bitbuf.SliceUint64(p2.table7[i*int64(t7Size):], 0, k)
		view, err := prevMap.ReadEntry(uint64(i) * uint64(mapSize))
		if err != nil {
			return nil, fmt.Errorf("table 7 mapping: %w", err)
		}
		key := bitbuf.SliceUint64(view, 0, k+1)
		if key != uint64(i)+1 {
			return nil, fmt.Errorf("%w: table 7 mapping key %d at rank %d",
				common.ErrUnreachable, key, i)
		}
		position := bitbuf.SliceUint64(view, k+1, k+1)

		scratch.Reset()
		scratch.AppendUint64(f7, k)
		scratch.AppendUint64(position, k+1)
		res.final7 = append(res.final7, scratch.Bytes()...)
	}
	res.entries7 = p2.count7
	prevMap.FreeMemory()
	p2.table7 = nil

	cfg.log.Info("compression complete", zap.Int64("final entries", res.entries7))
	return res, nil
}

// finalTable7Layout describes the packed (f7, position) stream.
type f7Layout struct {
	f7Bits, posBits, size int
}

func finalTable7Layout(k int) f7Layout {
	return f7Layout{f7Bits: k, posBits: k + 1, size: bitbuf.Cdiv(2*k+1, 8)}
}

// makeLeftLoader returns a sequential source of the lower table's final
// positions: for table 2 the x preimages of live table-1 entries, read
// through a filtered view of the phase-1 data; for higher tables the rank
// mapping emitted by the previous iteration.
func makeLeftLoader(cfg *config, t int, p1 *phase1Result, p2 *phase2Result, prevMap *usort.Manager, prevMapRead *int64) (func() (uint64, error), error) {
	k := cfg.k
	if t == 2 {
		layout := pos.Phase1Layout(k, 1)
		es := uint64(layout.EntrySize())
		filtered := disk.NewFilteredDisk(
			disk.NewBufferedDisk(disk.NewMemDiskOf(p1.tables[1])), p2.bitfield1, es)
		metaOffset := layout.YBits
		var logical uint64
		return func() (uint64, error) {
			view, err := filtered.Read(logical, es)
			if err != nil {
				return 0, err
			}
			logical += es
			return bitbuf.SliceUint64(view, metaOffset, layout.MetaBits), nil
		}, nil
	}
	if prevMap == nil {
		return nil, fmt.Errorf("%w: missing mapping for table %d", common.ErrUnreachable, t)
	}
	mapSize := uint64(bitbuf.Cdiv(2*(k+1), 8))
	return func() (uint64, error) {
		view, err := prevMap.ReadEntry(uint64(*prevMapRead) * mapSize)
		if err != nil {
			return 0, err
		}
		*prevMapRead++
		return bitbuf.SliceUint64(view, k+1, k+1), nil
	}, nil
}

// rightStream returns the pos-sorted (posL, posR, sortKey) run of table
// t. Tables 2..6 were materialized that way by phase 2; table 7 is
// re-sorted here, keyed by its f7 rank.
func rightStream(cfg *config, t int, p2 *phase2Result) ([]byte, int64, pos.Layout, error) {
	k := cfg.k
	outLayout := pos.Phase2Layout(k, 2)
	if t < 7 {
		return p2.tables[t], p2.counts[t], outLayout, nil
	}

	t7Layout := pos.Phase1Layout(k, 7)
	es := t7Layout.EntrySize()
	outSize := outLayout.EntrySize()
	sm := usort.NewManager(cfg.memorySize/2, cfg.logNumBuckets, outSize, 0,
		cfg.prevBucketEntries)
	entryBuf := make([]byte, outSize)
	for i := int64(0); i < p2.count7; i++ {
		e := t7Layout.Decode(p2.table7[i*int64(es):])
		out := pos.Entry{PosL: e.PosL, PosR: e.PosR, SortKey: uint64(i)}
		for j := range entryBuf {
			entryBuf[j] = 0
		}
		outLayout.Encode(&out, entryBuf)
		if err := sm.AddEntry(entryBuf); err != nil {
			return nil, 0, outLayout, fmt.Errorf("table 7 re-sort: %w", err)
		}
	}
	data := make([]byte, 0, p2.count7*int64(outSize))
	for i := int64(0); i < p2.count7; i++ {
		view, err := sm.ReadEntry(uint64(i) * uint64(outSize))
		if err != nil {
			return nil, 0, outLayout, fmt.Errorf("table 7 sorted read: %w", err)
		}
		data = append(data, view[:outSize]...)
	}
	sm.FreeMemory()
	return data, p2.count7, outLayout, nil
}

// freeRightStream releases the pos-sorted source of table t once its
// line points are derived.
func freeRightStream(t int, p2 *phase2Result) {
	if t < 7 {
		p2.tables[t] = nil
	}
}
