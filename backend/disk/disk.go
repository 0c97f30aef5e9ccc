// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package disk provides the byte-addressable backing stores the plot
// pipeline works against: a plain in-memory vector, a buffered variant
// with a forward-sequential read-ahead window, and a filtered variant
// that remaps logical entry positions through a bitfield.
package disk

//go:generate mockgen -source disk.go -destination disk_mocks.go -package disk

import (
	"fmt"

	"github.com/0xsoniclabs/pospace/common"
	"github.com/0xsoniclabs/pospace/common/bitbuf"
	"github.com/0xsoniclabs/pospace/common/bitfield"
)

const (
	// readAhead is the size of the buffered read window.
	readAhead = 1 << 20
	// writeCache is the size of the buffered write-behind cache.
	writeCache = 1 << 20
)

// Disk is the capability surface of a backing store. Reads return a view
// that stays valid until the next operation on the same disk.
type Disk interface {
	Read(begin, length uint64) ([]byte, error)
	Write(begin uint64, data []byte) error
	Truncate(size uint64) error
	Size() uint64
	// FreeMemory drops caches and scratch buffers; the stored data, if
	// any, remains accessible.
	FreeMemory()
}

// MemDisk is a RAM-resident byte vector. Writes past the current end grow
// the vector with zero padding.
type MemDisk struct {
	data []byte
}

// NewMemDisk creates an empty in-memory disk.
func NewMemDisk() *MemDisk {
	return &MemDisk{}
}

// NewMemDiskOf wraps an existing byte run without copying it.
func NewMemDiskOf(data []byte) *MemDisk {
	return &MemDisk{data: data}
}

// Read returns a view of [begin, begin+length).
func (d *MemDisk) Read(begin, length uint64) ([]byte, error) {
	if begin+length > uint64(len(d.data)) {
		return nil, fmt.Errorf("%w: read [%d, %d) beyond size %d",
			common.ErrInvalidValue, begin, begin+length, len(d.data))
	}
	return d.data[begin : begin+length], nil
}

// Write stores data at begin, growing the vector as needed.
func (d *MemDisk) Write(begin uint64, data []byte) error {
	end := begin + uint64(len(data))
	for uint64(len(d.data)) < end {
		d.data = append(d.data, make([]byte, end-uint64(len(d.data)))...)
	}
	copy(d.data[begin:end], data)
	return nil
}

// Truncate resizes the vector.
func (d *MemDisk) Truncate(size uint64) error {
	if size <= uint64(len(d.data)) {
		d.data = d.data[:size]
		return nil
	}
	d.data = append(d.data, make([]byte, size-uint64(len(d.data)))...)
	return nil
}

// Size returns the current vector length.
func (d *MemDisk) Size() uint64 {
	return uint64(len(d.data))
}

// FreeMemory is a no-op; the vector is the payload.
func (d *MemDisk) FreeMemory() {}

// Bytes returns the underlying vector.
func (d *MemDisk) Bytes() []byte {
	return d.data
}

// BufferedDisk layers a 1 MiB forward-sequential read-ahead window and a
// 1 MiB write-behind cache over another disk. Reads that regress behind
// the window fall back to a bounded scratch copy and do not disturb it.
// Returned read views carry the bit-extraction headroom.
type BufferedDisk struct {
	underlying Disk

	readBuf      []byte
	readBufStart uint64
	readBufSize  uint64
	readValid    bool

	writeBuf      []byte
	writeBufStart uint64
	writeBufSize  uint64

	scratch [128 + bitbuf.Headroom]byte
}

// NewBufferedDisk wraps the given disk.
func NewBufferedDisk(underlying Disk) *BufferedDisk {
	return &BufferedDisk{underlying: underlying}
}

// Read returns a view of [begin, begin+length) with at least
// bitbuf.Headroom addressable bytes past the requested range.
func (d *BufferedDisk) Read(begin, length uint64) ([]byte, error) {
	if length >= readAhead {
		return nil, fmt.Errorf("%w: buffered read of %d bytes", common.ErrInvalidValue, length)
	}
	if d.readBuf == nil {
		d.readBuf = make([]byte, readAhead+bitbuf.Headroom)
		d.readValid = false
	}
	if d.readValid &&
		d.readBufStart <= begin &&
		begin+length <= d.readBufStart+d.readBufSize &&
		begin+length+bitbuf.Headroom <= d.readBufStart+readAhead {
		return d.readBuf[begin-d.readBufStart:], nil
	}
	if !d.readValid || begin >= d.readBufStart {
		// forward-sequential move of the window
		if err := d.flush(); err != nil {
			return nil, err
		}
		size := d.underlying.Size()
		if begin+length > size {
			return nil, fmt.Errorf("%w: read [%d, %d) beyond size %d",
				common.ErrInvalidValue, begin, begin+length, size)
		}
		amount := size - begin
		if amount > readAhead {
			amount = readAhead
		}
		src, err := d.underlying.Read(begin, amount)
		if err != nil {
			return nil, err
		}
		for i := range d.readBuf {
			d.readBuf[i] = 0
		}
		copy(d.readBuf, src)
		d.readBufStart = begin
		d.readBufSize = amount
		d.readValid = true
		return d.readBuf, nil
	}
	// read position regressed; serve from scratch without wiping the window
	if length > uint64(len(d.scratch)-bitbuf.Headroom) {
		return nil, fmt.Errorf("%w: backward read of %d bytes", common.ErrReadOutOfWindow, length)
	}
	if err := d.flush(); err != nil {
		return nil, err
	}
	src, err := d.underlying.Read(begin, length)
	if err != nil {
		return nil, err
	}
	for i := range d.scratch {
		d.scratch[i] = 0
	}
	copy(d.scratch[:], src)
	return d.scratch[:], nil
}

// Write stores data at begin. Contiguous sequential writes are batched in
// the write cache.
func (d *BufferedDisk) Write(begin uint64, data []byte) error {
	if d.writeBuf == nil {
		d.writeBuf = make([]byte, writeCache)
		d.writeBufSize = 0
	}
	length := uint64(len(data))
	if d.writeBufSize > 0 && begin == d.writeBufStart+d.writeBufSize {
		if d.writeBufSize+length <= writeCache {
			copy(d.writeBuf[d.writeBufSize:], data)
			d.writeBufSize += length
			return nil
		}
		if err := d.flush(); err != nil {
			return err
		}
	}
	if d.writeBufSize == 0 && length <= writeCache {
		d.writeBufStart = begin
		copy(d.writeBuf, data)
		d.writeBufSize = length
		return nil
	}
	return d.underlying.Write(begin, data)
}

// Truncate flushes pending writes and resizes the underlying disk.
func (d *BufferedDisk) Truncate(size uint64) error {
	if err := d.flush(); err != nil {
		return err
	}
	d.readValid = false
	return d.underlying.Truncate(size)
}

// Size returns the underlying size including pending cached writes.
func (d *BufferedDisk) Size() uint64 {
	size := d.underlying.Size()
	if end := d.writeBufStart + d.writeBufSize; d.writeBufSize > 0 && end > size {
		size = end
	}
	return size
}

// Flush forces pending cached writes to the underlying disk.
func (d *BufferedDisk) Flush() error {
	return d.flush()
}

// FreeMemory flushes and drops both caches.
func (d *BufferedDisk) FreeMemory() {
	_ = d.flush()
	d.readBuf = nil
	d.writeBuf = nil
	d.readValid = false
	d.readBufSize = 0
}

func (d *BufferedDisk) flush() error {
	if d.writeBufSize == 0 {
		return nil
	}
	if err := d.underlying.Write(d.writeBufStart, d.writeBuf[:d.writeBufSize]); err != nil {
		return err
	}
	d.writeBufSize = 0
	return nil
}

// FilteredDisk exposes only the entries whose bit is set in a filter,
// renumbered contiguously. It supports a single forward read pass of
// fixed-size entries and is read-only.
type FilteredDisk struct {
	filter     *bitfield.Bitfield
	underlying Disk
	entrySize  uint64

	lastPhysical uint64
	lastLogical  uint64
	lastIdx      int64
}

// NewFilteredDisk wraps the given disk. The filter must have at least one
// bit set.
func NewFilteredDisk(underlying Disk, filter *bitfield.Bitfield, entrySize uint64) *FilteredDisk {
	d := &FilteredDisk{filter: filter, underlying: underlying, entrySize: entrySize}
	for d.lastIdx < filter.Size() && !filter.Get(d.lastIdx) {
		d.lastPhysical += entrySize
		d.lastIdx++
	}
	return d
}

// Read maps the logical offset to the physical offset of the next live
// entry and reads from the underlying disk. Offsets must be entry-aligned
// and monotonically non-decreasing.
func (d *FilteredDisk) Read(begin, length uint64) ([]byte, error) {
	if begin%d.entrySize != 0 || begin < d.lastLogical {
		return nil, fmt.Errorf("%w: filtered read at %d (last %d)",
			common.ErrReadOutOfWindow, begin, d.lastLogical)
	}
	if begin > d.lastLogical {
		d.lastLogical += d.entrySize
		d.lastPhysical += d.entrySize
		d.lastIdx++
		for begin > d.lastLogical {
			if d.lastIdx >= d.filter.Size() {
				return nil, fmt.Errorf("%w: filtered read past the last live entry",
					common.ErrInvalidValue)
			}
			if d.filter.Get(d.lastIdx) {
				d.lastLogical += d.entrySize
			}
			d.lastPhysical += d.entrySize
			d.lastIdx++
		}
		for d.lastIdx < d.filter.Size() && !d.filter.Get(d.lastIdx) {
			d.lastPhysical += d.entrySize
			d.lastIdx++
		}
		if d.lastIdx >= d.filter.Size() {
			return nil, fmt.Errorf("%w: filtered read past the last live entry",
				common.ErrInvalidValue)
		}
	}
	return d.underlying.Read(d.lastPhysical, length)
}

// Write is not supported on a filtered disk.
func (d *FilteredDisk) Write(uint64, []byte) error {
	return fmt.Errorf("%w: write on read-only filtered disk", common.ErrInvalidState)
}

// Truncate is not supported on a filtered disk.
func (d *FilteredDisk) Truncate(uint64) error {
	return fmt.Errorf("%w: truncate on read-only filtered disk", common.ErrInvalidState)
}

// Size returns the underlying physical size.
func (d *FilteredDisk) Size() uint64 {
	return d.underlying.Size()
}

// FreeMemory releases the underlying caches.
func (d *FilteredDisk) FreeMemory() {
	d.underlying.FreeMemory()
}
