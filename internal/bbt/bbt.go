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

// Package bbt implements the bad block table: a packed table holding a
// 2-bit State for every erase block.
package bbt

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
)

// State is the usability of one erase block.
type State uint8

const (
	// Good blocks are usable.
	Good State = iota
	// WornBad blocks have failed in use.
	WornBad
	// Reserved blocks are in use as a replacement, or as the temporary copy
	// of a block being mitigated.
	Reserved
	// FactoryBad blocks were marked bad by the manufacturer. This never
	// changes.
	FactoryBad
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Good:
		return "good"
	case WornBad:
		return "worn-bad"
	case Reserved:
		return "reserved"
	case FactoryBad:
		return "factory-bad"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrTransition is returned for a state change the table does not allow.
var ErrTransition = errors.New("invalid block state transition")

// allowed lists the permitted transitions from each state.
var allowed = map[State][]State{
	Good:     {WornBad, Reserved},
	WornBad:  {Good},
	Reserved: {Good, WornBad},
}

// Table holds the state of every block on a chip.
type Table struct {
	blocks int
	bits   []byte
}

// New returns a table of the given number of blocks, all Good.
func New(blocks int) *Table {
	return &Table{
		blocks: blocks,
		bits:   make([]byte, EncodedLen(blocks)),
	}
}

// EncodedLen returns the size in bytes of the packed table.
func EncodedLen(blocks int) int {
	return (blocks + 3) / 4
}

// Len returns the number of blocks in the table.
func (t *Table) Len() int {
	return t.blocks
}

// Get returns the state of a block.
func (t *Table) Get(block int) State {
	return State(t.bits[block/4]>>(2*(block%4))) & 3
}

func (t *Table) put(block int, s State) {
	shift := 2 * (block % 4)
	t.bits[block/4] = t.bits[block/4]&^(3<<shift) | byte(s)<<shift
}

// Set changes the state of a block, enforcing the allowed transitions.
// Setting a block to its current state is a no-op. It reports whether the
// table changed.
func (t *Table) Set(block int, s State) (bool, error) {
	if block < 0 || block >= t.blocks {
		return false, fmt.Errorf("block %d out of range [0, %d)", block, t.blocks)
	}
	cur := t.Get(block)
	if cur == s {
		return false, nil
	}
	for _, to := range allowed[cur] {
		if to == s {
			t.put(block, s)
			glog.V(1).Infof("block %d: %v -> %v", block, cur, s)
			return true, nil
		}
	}
	return false, fmt.Errorf("block %d: %v -> %v: %w", block, cur, s, ErrTransition)
}

// SetFactoryBad records a block found carrying the factory bad block
// marker. It is only used while building a table from a scan.
func (t *Table) SetFactoryBad(block int) {
	t.put(block, FactoryBad)
}

// IsBad reports whether a block must not be used. Reserved blocks count as
// bad unless allowReserved is set.
func (t *Table) IsBad(block int, allowReserved bool) bool {
	switch t.Get(block) {
	case Good:
		return false
	case Reserved:
		return !allowReserved
	}
	return true
}

// Count returns the number of blocks in state s.
func (t *Table) Count(s State) int {
	n := 0
	for b := 0; b < t.blocks; b++ {
		if t.Get(b) == s {
			n++
		}
	}
	return n
}

// Clone returns an independent copy of the table.
func (t *Table) Clone() *Table {
	return &Table{
		blocks: t.blocks,
		bits:   append([]byte(nil), t.bits...),
	}
}

// MarshalBinary returns the on-flash form of the table. Each state is
// stored inverted, so an erased table reads back as all Good.
func (t *Table) MarshalBinary() ([]byte, error) {
	b := make([]byte, len(t.bits))
	for i, v := range t.bits {
		b[i] = ^v
	}
	return b, nil
}

// UnmarshalBinary replaces the contents of the table with the on-flash form
// in b.
func (t *Table) UnmarshalBinary(b []byte) error {
	if len(b) != len(t.bits) {
		return fmt.Errorf("table of %d blocks needs %d bytes, got %d", t.blocks, len(t.bits), len(b))
	}
	for i, v := range b {
		t.bits[i] = ^v
	}
	// Unused entries in the final byte stay Good.
	for blk := t.blocks; blk < len(t.bits)*4; blk++ {
		t.put(blk, Good)
	}
	return nil
}

// Scan builds a table by asking isBad about every block. Blocks for which
// it reports true become FactoryBad.
func Scan(blocks int, isBad func(block int) (bool, error)) (*Table, error) {
	t := New(blocks)
	for b := 0; b < blocks; b++ {
		bad, err := isBad(b)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block %d: %w", b, err)
		}
		if bad {
			glog.Infof("block %d is factory bad", b)
			t.SetFactoryBad(b)
		}
	}
	return t, nil
}
