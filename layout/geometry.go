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

// Package layout describes the physical shape of a NAND chip: its geometry,
// and where ECC codes and user bytes live within each page's spare area.
package layout

import (
	"errors"
	"fmt"
	"math/bits"
)

// Geometry describes an identified chip. It does not change after the chip
// has been probed.
type Geometry struct {
	// PageSize is the number of main data bytes in a page.
	PageSize int
	// SpareSize is the number of out-of-band bytes following each page.
	SpareSize int
	// PagesPerBlock is the number of pages in one erase block.
	PagesPerBlock int
	// Blocks is the number of erase blocks on the chip.
	Blocks int
	// BusWidth16 is set for chips with a 16-bit data bus.
	BusWidth16 bool
	// BadBlockPos is the offset within the spare area of the factory bad
	// block marker.
	BadBlockPos int
}

// Validate checks that the geometry is self-consistent.
func (g Geometry) Validate() error {
	if g.PageSize <= 0 || g.SpareSize <= 0 || g.PagesPerBlock <= 0 || g.Blocks <= 0 {
		return fmt.Errorf("invalid geometry %+v: all sizes must be positive", g)
	}
	if bits.OnesCount(uint(g.PageSize)) != 1 {
		return fmt.Errorf("invalid geometry: page size %d is not a power of 2", g.PageSize)
	}
	if bits.OnesCount(uint(g.PagesPerBlock)) != 1 {
		return fmt.Errorf("invalid geometry: %d pages per block is not a power of 2", g.PagesPerBlock)
	}
	if g.BadBlockPos < 0 || g.BadBlockPos >= g.SpareSize {
		return fmt.Errorf("invalid geometry: bad block marker position %d outside spare area of %d bytes", g.BadBlockPos, g.SpareSize)
	}
	if g.BusWidth16 && (g.PageSize%2 != 0 || g.SpareSize%2 != 0) {
		return errors.New("invalid geometry: 16-bit bus requires even page and spare sizes")
	}
	return nil
}

// BlockSize returns the number of main data bytes in an erase block.
func (g Geometry) BlockSize() int64 {
	return int64(g.PageSize) * int64(g.PagesPerBlock)
}

// ChipSize returns the number of main data bytes on the chip.
func (g Geometry) ChipSize() int64 {
	return g.BlockSize() * int64(g.Blocks)
}

// PageShift returns log2 of the page size.
func (g Geometry) PageShift() int {
	return bits.TrailingZeros(uint(g.PageSize))
}

// BlockShift returns log2 of the number of pages per block, i.e. the number
// of page address bits which select a page within a block.
func (g Geometry) BlockShift() int {
	return bits.TrailingZeros(uint(g.PagesPerBlock))
}

// PageAddrBits returns the number of bits needed to address every page on
// the chip.
func (g Geometry) PageAddrBits() int {
	return bits.Len(uint(g.Blocks*g.PagesPerBlock - 1))
}

// Page returns the page containing the byte at offset off.
func (g Geometry) Page(off int64) int {
	return int(off >> g.PageShift())
}

// Block returns the erase block containing the byte at offset off.
func (g Geometry) Block(off int64) int {
	return int(off / g.BlockSize())
}

// BlockOffset returns the offset of the first byte of the given block.
func (g Geometry) BlockOffset(block int) int64 {
	return int64(block) * g.BlockSize()
}

// FirstPage returns the first page of the given block.
func (g Geometry) FirstPage(block int) int {
	return block << g.BlockShift()
}
