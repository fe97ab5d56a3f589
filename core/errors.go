// Copyright 2026 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"errors"
	"fmt"

	"github.com/google/nandcore/internal/bbm"
	"github.com/google/nandcore/internal/coord"
	"github.com/google/nandcore/internal/pageio"
)

// Errors returned by FlashCore operations, usually wrapped in an *OpError.
// Use errors.Is to test for them.
var (
	// ErrInvalidArgument is returned for a misaligned offset or length.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfRange is returned for a request beyond the device, or
	// outside the address space available to callers.
	ErrOutOfRange = errors.New("out of range")
	// ErrEccUncorrectable is returned by reads which hit an uncorrectable
	// ECC error. The data transferred is still returned.
	ErrEccUncorrectable = pageio.ErrEccUncorrectable
	// ErrProgramFailed is returned when the chip fails to program a page.
	ErrProgramFailed = pageio.ErrProgramFailed
	// ErrEraseFailed is returned when the chip fails to erase a block.
	ErrEraseFailed = pageio.ErrEraseFailed
	// ErrDeviceTimeout is returned when the chip stays busy too long.
	ErrDeviceTimeout = coord.ErrDeviceTimeout
	// ErrResourceExhausted is returned when the reserved pool is empty.
	ErrResourceExhausted = bbm.ErrExhausted
	// ErrVerifyMismatch is returned when data read back after writing it
	// differs from what was written.
	ErrVerifyMismatch = errors.New("verify mismatch")
	// ErrBadBlock is returned for any access to a bad block which has no
	// substitute.
	ErrBadBlock = errors.New("bad block")
	// ErrCorruptMap is returned when a block cannot be resolved through the
	// bad block map.
	ErrCorruptMap = bbm.ErrCorrupt
	// ErrNotSuspended is returned by Resume when the device is not
	// suspended.
	ErrNotSuspended = coord.ErrNotSuspended
	// ErrDetached is returned by every operation after Detach.
	ErrDetached = errors.New("device detached")
)

// OpError records a failed operation and the offset at which it failed.
type OpError struct {
	Op     string
	Offset int64
	Err    error
}

// Error implements error.
func (e *OpError) Error() string {
	return fmt.Sprintf("%s at offset %#x: %v", e.Op, e.Offset, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op string, off int64, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Offset: off, Err: err}
}
