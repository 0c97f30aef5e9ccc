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
	"encoding/binary"

	"github.com/0xsoniclabs/pospace/backend/disk"
	"github.com/0xsoniclabs/pospace/pos"
)

// HeaderSize is the fixed size of the plot header, including the zeroed
// table-pointer block back-filled after phase 4.
//
// Layout: magic (19) | id (32) | k (1) | format description length (2) |
// format description | 10 big-endian 8-byte table pointers.
const HeaderSize = len(pos.Magic) + pos.IDLen + 1 + 2 + len(pos.FormatDescription) + 10*8

// pointerBlockOffset is the file offset of the 10-pointer block.
const pointerBlockOffset = len(pos.Magic) + pos.IDLen + 1 + 2 + len(pos.FormatDescription)

// writeHeader writes the plot header with a zeroed pointer block and
// returns the header size.
func writeHeader(d disk.Disk, k int, id []byte) (uint64, error) {
	buf := make([]byte, 0, HeaderSize)
	buf = append(buf, pos.Magic...)
	buf = append(buf, id...)
	buf = append(buf, byte(k))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(pos.FormatDescription)))
	buf = append(buf, pos.FormatDescription...)
	buf = append(buf, make([]byte, 10*8)...)
	if err := d.Write(0, buf); err != nil {
		return 0, err
	}
	return uint64(len(buf)), nil
}

// writePointers back-fills the header's pointer block. pointers[1..10]
// are used; index 0 is ignored.
func writePointers(d disk.Disk, pointers []uint64) error {
	buf := make([]byte, 10*8)
	for i := 1; i <= 10; i++ {
		binary.BigEndian.PutUint64(buf[(i-1)*8:], pointers[i])
	}
	return d.Write(uint64(pointerBlockOffset), buf)
}
