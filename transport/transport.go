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

// Package transport defines the command/data bus through which NAND chips
// are driven.
package transport

// NAND command opcodes.
const (
	CmdRead0     = 0x00
	CmdRead1     = 0x01
	CmdRndOut    = 0x05
	CmdPageProg  = 0x10
	CmdReadStart = 0x30
	CmdReadOOB   = 0x50
	CmdErase1    = 0x60
	CmdStatus    = 0x70
	CmdSeqIn     = 0x80
	CmdRndIn     = 0x85
	CmdReadID    = 0x90
	CmdErase2    = 0xd0
	CmdReset     = 0xff
)

// Status register bits.
const (
	StatusFail  = 0x01
	StatusReady = 0x40
	StatusWP    = 0x80
)

// None is passed for an absent chip, column or page argument.
const None = -1

// Transport describes a type which knows how to issue raw commands to, and
// move bytes to and from, the chips on a NAND controller.
type Transport interface {
	// Select asserts the chip enable line of the given chip, or releases
	// all chips if chip is None.
	Select(chip int)

	// Command issues cmd, followed by the column and page address cycles
	// unless they are None.
	Command(cmd byte, column, page int)

	// Read8 reads a single byte from the data bus.
	Read8() byte

	// Write8 writes a single byte to the data bus.
	Write8(b byte)

	// ReadBuf fills p from the data bus.
	ReadBuf(p []byte)

	// WriteBuf writes p to the data bus.
	WriteBuf(p []byte)
}

// ReadyChecker is implemented by controllers wired to the chip's ready/busy
// signal.
type ReadyChecker interface {
	// DeviceReady reports whether the selected chip has finished its
	// internal operation.
	DeviceReady() bool
}

// WordTransport is implemented by controllers which provide native 16-bit
// transfers.
type WordTransport interface {
	Read16() uint16
	Write16(w uint16)
}
