// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package usort

import (
	"fmt"

	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
)

// Manager partitions incoming fixed-width entries into buckets by the
// logNumBuckets bits following beginBits, then serves them back fully
// sorted through a forward-moving read window. Buckets are sorted lazily,
// one at a time, as the read position crosses their boundary.
//
// Reads must be monotonically non-decreasing; limited backward reads are
// possible within the previous-bucket buffer after TriggerNewBucket.
type Manager struct {
	memorySize    uint64
	entrySize     int
	beginBits     int
	logNumBuckets int

	buckets    [][]byte
	totalBytes uint64
	count      int64

	// sort buffer holding the current sorted bucket
	memory             []byte
	finalPositionStart uint64
	finalPositionEnd   uint64
	nextBucketToSort   int

	// tail of the last bucket, kept for small backward reads
	prevBucketBuf           []byte
	prevBucketBufSize       uint64
	prevBucketPositionStart uint64

	done bool
}

// NewManager creates a sort manager. prevBucketEntries bounds how many
// entries of a finished bucket stay addressable for backward reads.
func NewManager(memorySize uint64, logNumBuckets, entrySize, beginBits int, prevBucketEntries uint64) *Manager {
	return &Manager{
		memorySize:        memorySize,
		entrySize:         entrySize,
		beginBits:         beginBits,
		logNumBuckets:     logNumBuckets,
		buckets:           make([][]byte, 1<<logNumBuckets),
		prevBucketBufSize: prevBucketEntries * uint64(entrySize),
	}
}

// AddEntry appends one entry to its bucket. Adding after reading has
// started is not allowed.
func (m *Manager) AddEntry(entry []byte) error {
	if m.done {
		return fmt.Errorf("%w: sort manager already started reading", common.ErrInvalidState)
	}
	if len(entry) != m.entrySize {
		return fmt.Errorf("%w: entry size %d, want %d", common.ErrInvalidValue, len(entry), m.entrySize)
	}
	idx := bitbuf.SliceUint64(entry, m.beginBits, m.logNumBuckets)
	m.buckets[idx] = append(m.buckets[idx], entry...)
	m.totalBytes += uint64(m.entrySize)
	m.count++
	return nil
}

// Count returns the number of entries added.
func (m *Manager) Count() int64 {
	return m.count
}

// EntrySize returns the fixed entry width in bytes.
func (m *Manager) EntrySize() int {
	return m.entrySize
}

// ReadEntry returns a view of the entry at the given byte position in the
// fully sorted stream. The view stays valid until the read window moves.
func (m *Manager) ReadEntry(position uint64) ([]byte, error) {
	if position < m.finalPositionStart {
		if position < m.prevBucketPositionStart || m.prevBucketBuf == nil {
			return nil, fmt.Errorf("%w: position %d before previous-bucket window",
				common.ErrReadOutOfWindow, position)
		}
		return m.prevBucketBuf[position-m.prevBucketPositionStart:], nil
	}
	for position >= m.finalPositionEnd {
		if err := m.sortBucket(); err != nil {
			return nil, err
		}
	}
	if position < m.finalPositionStart {
		return nil, fmt.Errorf("%w: position %d skipped a bucket boundary",
			common.ErrReadOutOfWindow, position)
	}
	return m.memory[position-m.finalPositionStart:], nil
}

// Read exposes the sorted stream with disk semantics. Only reads of at
// most one entry are supported.
func (m *Manager) Read(begin, length uint64) ([]byte, error) {
	if length > uint64(m.entrySize) {
		return nil, fmt.Errorf("%w: read of %d bytes from sort manager", common.ErrInvalidValue, length)
	}
	return m.ReadEntry(begin)
}

// Write is not supported; the manager is fed through AddEntry.
func (m *Manager) Write(uint64, []byte) error {
	return fmt.Errorf("%w: write on sort manager", common.ErrInvalidState)
}

// Truncate is only legal with size zero, releasing all memory.
func (m *Manager) Truncate(size uint64) error {
	if size != 0 {
		return fmt.Errorf("%w: truncate on sort manager", common.ErrInvalidState)
	}
	m.FreeMemory()
	return nil
}

// Size returns the total number of bytes added.
func (m *Manager) Size() uint64 {
	return m.totalBytes
}

// CloseToNewBucket reports whether the read position is near enough to
// the end of the current bucket that the caller should expect a bucket
// switch and call TriggerNewBucket.
func (m *Manager) CloseToNewBucket(position uint64) bool {
	if position > m.finalPositionEnd {
		return m.nextBucketToSort < len(m.buckets)
	}
	return position+m.prevBucketBufSize/2 >= m.finalPositionEnd &&
		m.nextBucketToSort < len(m.buckets)
}

// TriggerNewBucket sorts the next bucket into the read window, first
// saving the tail of the current one (from position on) for backward
// reads.
func (m *Manager) TriggerNewBucket(position uint64) error {
	if position > m.finalPositionEnd {
		return fmt.Errorf("%w: bucket triggered too late", common.ErrInvalidValue)
	}
	if position < m.finalPositionStart {
		return fmt.Errorf("%w: bucket triggered too early", common.ErrInvalidValue)
	}
	if m.memory != nil {
		cacheSize := m.finalPositionEnd - position
		if cacheSize > m.prevBucketBufSize {
			return fmt.Errorf("%w: %d bytes of bucket tail exceed the backward window",
				common.ErrReadOutOfWindow, cacheSize)
		}
		if m.prevBucketBuf == nil {
			m.prevBucketBuf = make([]byte, m.prevBucketBufSize+bitbuf.Headroom)
		}
		for i := range m.prevBucketBuf {
			m.prevBucketBuf[i] = 0
		}
		copy(m.prevBucketBuf, m.memory[position-m.finalPositionStart:m.finalPositionEnd-m.finalPositionStart])
	}
	if err := m.sortBucket(); err != nil {
		return err
	}
	m.prevBucketPositionStart = position
	return nil
}

// FreeMemory releases the sort buffer, the backward window and any
// unsorted buckets.
func (m *Manager) FreeMemory() {
	m.prevBucketBuf = nil
	m.memory = nil
	m.finalPositionEnd = 0
	for i := range m.buckets {
		m.buckets[i] = nil
	}
}

func (m *Manager) sortBucket() error {
	if m.memory == nil {
		m.memory = make([]byte, m.memorySize+bitbuf.Headroom)
	}
	m.done = true
	if m.nextBucketToSort >= len(m.buckets) {
		return fmt.Errorf("%w: no further bucket to sort", common.ErrInvalidValue)
	}
	b := m.buckets[m.nextBucketToSort]
	entries := int64(len(b)) / int64(m.entrySize)
	if entries > int64(m.memorySize)/int64(m.entrySize) {
		return fmt.Errorf("%w: bucket of %d entries does not fit the sort buffer",
			common.ErrInsufficientMemory, entries)
	}
	err := SortToMemory(b, m.memory[:m.memorySize], m.entrySize, entries,
		m.beginBits+m.logNumBuckets)
	if err != nil {
		return err
	}
	m.buckets[m.nextBucketToSort] = nil
	m.finalPositionStart = m.finalPositionEnd
	m.finalPositionEnd += uint64(len(b))
	m.nextBucketToSort++
	return nil
}
