// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import "errors"

// Error kinds shared by the plot engine. Call sites wrap these with
// fmt.Errorf("...: %w", err) to add context; callers test with errors.Is.
var (
	// ErrInvalidValue indicates an out-of-range parameter or corrupt
	// on-wire data (bad k, bad bucket count, broken park).
	ErrInvalidValue = errors.New("invalid value")

	// ErrInsufficientMemory indicates the configured memory budget is
	// below the floor required by the current plot parameters.
	ErrInsufficientMemory = errors.New("insufficient memory")

	// ErrInvalidState indicates an operation that is not legal in the
	// current lifecycle state, such as writing to a read-only disk or
	// adding entries to a sort manager that already started reading.
	ErrInvalidState = errors.New("invalid state")

	// ErrWidthOverflow indicates a bit-field extraction wider than 64 bits.
	ErrWidthOverflow = errors.New("bit width overflow")

	// ErrReadOutOfWindow indicates a read outside the sequential window
	// maintained by a sort manager or buffered disk.
	ErrReadOutOfWindow = errors.New("read out of window")

	// ErrUnreachable indicates a broken internal invariant.
	ErrUnreachable = errors.New("unreachable state")
)
