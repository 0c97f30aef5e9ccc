// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package plotter builds proof-of-space plots: a four-phase pipeline
// turning a 32-byte seed and a space parameter k into the final
// byte-addressable artifact.
package plotter

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/0xsoniclabs/pospace/backend/disk"
	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/pos"
	"github.com/pbnjay/memory"
	"go.uber.org/zap"
)

// Options configure a plot build. Zero-valued fields select the defaults
// noted on each field; the embedding's CreateTable passes its own values.
type Options struct {
	// BufMiB is the working-memory budget in MiB. Zero selects the
	// default of 4608; values below 10 are rejected.
	BufMiB uint64

	// NumBuckets overrides the sort bucket count. Zero derives it from
	// the memory budget. Counts that are not powers of two are silently
	// rounded up to the next power of two.
	NumBuckets int

	// StripeSize tunes the backward-read window of the sort managers.
	// Zero selects 65536.
	StripeSize uint64

	// Logger receives build progress. Nil disables logging.
	Logger *zap.Logger
}

// config is the resolved parameter set shared by the phases.
type config struct {
	k                 int
	memorySize        uint64
	numBuckets        int
	logNumBuckets     int
	stripeSize        uint64
	prevBucketEntries uint64
	log               *zap.Logger
}

// CreatePlot runs all four phases and returns the final plot artifact.
func CreatePlot(k int, id []byte, opts Options) ([]byte, error) {
	cfg, err := resolve(k, id, opts)
	if err != nil {
		return nil, err
	}

	cfg.log.Info("starting plotting progress",
		zap.String("id", hex.EncodeToString(id)),
		zap.Int("k", k),
		zap.Int("buckets", cfg.numBuckets),
		zap.Uint64("stripe size", cfg.stripeSize))

	cfg.log.Info("starting phase 1/4: forward propagation")
	p1, err := runPhase1(cfg, id)
	if err != nil {
		return nil, fmt.Errorf("phase 1: %w", err)
	}

	cfg.log.Info("starting phase 2/4: backpropagation")
	p2, err := runPhase2(cfg, p1)
	if err != nil {
		return nil, fmt.Errorf("phase 2: %w", err)
	}

	mem := disk.NewMemDisk()
	plot := disk.NewBufferedDisk(mem)
	headerSize, err := writeHeader(plot, k, id)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	cfg.log.Info("starting phase 3/4: compression")
	p3, err := runPhase3(cfg, plot, headerSize, p1, p2)
	if err != nil {
		return nil, fmt.Errorf("phase 3: %w", err)
	}

	cfg.log.Info("starting phase 4/4: checkpoint tables")
	end, err := runPhase4(cfg, plot, p3)
	if err != nil {
		return nil, fmt.Errorf("phase 4: %w", err)
	}

	if err := writePointers(plot, p3.pointers[:]); err != nil {
		return nil, fmt.Errorf("pointer block: %w", err)
	}
	if err := plot.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	if err := mem.Truncate(end); err != nil {
		return nil, fmt.Errorf("truncate: %w", err)
	}

	cfg.log.Info("plot complete", zap.Uint64("size", end))
	return mem.Bytes(), nil
}

// maxEntrySize returns the largest phase-1 entry size over all tables.
func maxEntrySize(k int) int {
	max := 0
	for t := 1; t <= 7; t++ {
		if s := pos.Phase1Layout(k, t).EntrySize(); s > max {
			max = s
		}
	}
	return max
}

// resolve derives the working parameters from the options, mirroring the
// reference driver's memory accounting.
func resolve(k int, id []byte, opts Options) (*config, error) {
	if k < pos.MinPlotSize || k > pos.MaxPlotSize {
		return nil, fmt.Errorf("%w: plot size k=%d is invalid", common.ErrInvalidValue, k)
	}
	if len(id) != pos.IDLen {
		return nil, fmt.Errorf("%w: seed length %d", common.ErrInvalidValue, len(id))
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	stripeSize := opts.StripeSize
	if stripeSize == 0 {
		stripeSize = 65536
	}
	bufMiB := opts.BufMiB
	if bufMiB == 0 {
		bufMiB = 4608
	}
	if bufMiB < 10 {
		return nil, fmt.Errorf("%w: at least 10 MiB of ram required", common.ErrInsufficientMemory)
	}
	if total := memory.TotalMemory(); total > 0 && bufMiB*1024*1024 > total {
		return nil, fmt.Errorf("%w: buffer of %d MiB exceeds physical memory",
			common.ErrInsufficientMemory, bufMiB)
	}

	// reserve for dynamic allocation throughout the pipeline
	entrySize4 := pos.Phase1Layout(k, 4).EntrySize()
	threadMemory := 2 * (stripeSize + 5000) * uint64(entrySize4) / (1024 * 1024)
	subMiB := 5 + uint64(math.Min(float64(bufMiB)*0.05, 50)) + threadMemory
	if subMiB > bufMiB {
		return nil, fmt.Errorf("%w: need at least %d MiB", common.ErrInsufficientMemory, subMiB)
	}
	memorySize := (bufMiB - subMiB) * 1024 * 1024

	maxTableSize := 1.3 * float64(uint64(1)<<k) * float64(maxEntrySize(k))

	numBuckets := 0
	if opts.NumBuckets != 0 {
		numBuckets = int(bitbuf.RoundPow2(uint64(opts.NumBuckets)))
	} else {
		need := math.Ceil(maxTableSize / (float64(memorySize) * pos.MemSortProportion))
		numBuckets = 2 * int(bitbuf.RoundPow2(uint64(need)))
	}
	if numBuckets < pos.MinBuckets {
		if opts.NumBuckets != 0 {
			return nil, fmt.Errorf("%w: minimum buckets is %d", common.ErrInvalidValue, pos.MinBuckets)
		}
		numBuckets = pos.MinBuckets
	} else if numBuckets > pos.MaxBuckets {
		if opts.NumBuckets != 0 {
			return nil, fmt.Errorf("%w: maximum buckets is %d", common.ErrInvalidValue, pos.MaxBuckets)
		}
		requiredMiB := maxTableSize/pos.MaxBuckets/pos.MemSortProportion/(1024*1024) + float64(subMiB)
		return nil, fmt.Errorf("%w: need %.0f MiB", common.ErrInsufficientMemory, requiredMiB)
	}
	logNumBuckets := 0
	for 1<<logNumBuckets < numBuckets {
		logNumBuckets++
	}

	if maxTableSize/float64(numBuckets) < float64(stripeSize*30) {
		return nil, fmt.Errorf("%w: stripe size too large", common.ErrInvalidValue)
	}

	return &config{
		k:                 k,
		memorySize:        memorySize,
		numBuckets:        numBuckets,
		logNumBuckets:     logNumBuckets,
		stripeSize:        stripeSize,
		prevBucketEntries: 2 * (stripeSize + 10*pos.BC/pos.ExtraBitsPow),
		log:               log,
	}, nil
}
