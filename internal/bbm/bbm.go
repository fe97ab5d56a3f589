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

// Package bbm implements the bad block map, which records the reserved pool
// block substituting for each retired block.
package bbm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/golang/glog"
)

// NoSubstitute is the on-flash value of an entry with no substitution.
const NoSubstitute = 0xffff

var (
	// ErrExhausted is returned when the reserved pool has no usable block.
	ErrExhausted = errors.New("reserved pool exhausted")
	// ErrCorrupt is returned when resolving a block does not terminate
	// within the size of the reserved pool.
	ErrCorrupt = errors.New("bad block map does not resolve")
)

// Map records substitutions for the blocks [0, Len()). Substitutes are drawn
// from the reserved pool [PoolStart, PoolStart+PoolSize).
type Map struct {
	entries   []uint16
	poolStart int
	poolSize  int
}

// New returns an empty map over blocks blocks, with the given pool.
func New(blocks, poolStart, poolSize int) (*Map, error) {
	if poolSize < 0 || poolSize >= NoSubstitute {
		return nil, fmt.Errorf("reserved pool of %d blocks not supported", poolSize)
	}
	if poolStart < 0 || poolStart+poolSize > blocks {
		return nil, fmt.Errorf("reserved pool [%d, %d) outside blocks [0, %d)", poolStart, poolStart+poolSize, blocks)
	}
	m := &Map{
		entries:   make([]uint16, blocks),
		poolStart: poolStart,
		poolSize:  poolSize,
	}
	for i := range m.entries {
		m.entries[i] = NoSubstitute
	}
	return m, nil
}

// EncodedLen returns the size in bytes of the on-flash map.
func EncodedLen(blocks int) int {
	return 2 * blocks
}

// Len returns the number of blocks covered by the map.
func (m *Map) Len() int {
	return len(m.entries)
}

// PoolStart returns the first block of the reserved pool.
func (m *Map) PoolStart() int {
	return m.poolStart
}

// PoolSize returns the number of blocks in the reserved pool.
func (m *Map) PoolSize() int {
	return m.poolSize
}

// InPool reports whether block belongs to the reserved pool.
func (m *Map) InPool(block int) bool {
	return block >= m.poolStart && block < m.poolStart+m.poolSize
}

// Lookup returns the substitute for block, if there is one.
func (m *Map) Lookup(block int) (int, bool) {
	if block < 0 || block >= len(m.entries) || m.entries[block] == NoSubstitute {
		return 0, false
	}
	return m.poolStart + int(m.entries[block]), true
}

// Set records sub as the substitute for block.
func (m *Map) Set(block, sub int) error {
	if block < 0 || block >= len(m.entries) {
		return fmt.Errorf("block %d out of range [0, %d)", block, len(m.entries))
	}
	if !m.InPool(sub) {
		return fmt.Errorf("substitute %d for block %d is not in the reserved pool", sub, block)
	}
	if block == sub {
		return fmt.Errorf("block %d cannot substitute for itself", block)
	}
	m.entries[block] = uint16(sub - m.poolStart)
	glog.V(1).Infof("block %d -> %d", block, sub)
	return nil
}

// Clear removes any substitution for block.
func (m *Map) Clear(block int) {
	if block >= 0 && block < len(m.entries) {
		m.entries[block] = NoSubstitute
	}
}

// Entries returns every substitution, keyed by the substituted block.
func (m *Map) Entries() map[int]int {
	r := make(map[int]int)
	for b := range m.entries {
		if sub, ok := m.Lookup(b); ok {
			r[b] = sub
		}
	}
	return r
}

// Blocks returns the substituted blocks in ascending order.
func (m *Map) Blocks() []int {
	var r []int
	for b := range m.Entries() {
		r = append(r, b)
	}
	sort.Ints(r)
	return r
}

// InUse reports whether block is the substitute of some entry.
func (m *Map) InUse(block int) bool {
	if !m.InPool(block) {
		return false
	}
	want := uint16(block - m.poolStart)
	for _, e := range m.entries {
		if e == want {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the map.
func (m *Map) Clone() *Map {
	c := *m
	c.entries = append([]uint16(nil), m.entries...)
	return &c
}

// Translate resolves block through its substitutions, following them while
// the block reached is bad, and returns the last block reached. That block
// is still bad when the chain ends at a bad block with no substitution,
// which may be block itself or one of its substitutes; callers must check.
// The walk is bounded by the pool size; failing to reach a block which is
// not bad, or a block without substitute, within that many steps returns
// ErrCorrupt.
func (m *Map) Translate(block int, isBad func(int) bool) (int, error) {
	cur := block
	for i := 0; i <= m.poolSize; i++ {
		if !isBad(cur) {
			return cur, nil
		}
		sub, ok := m.Lookup(cur)
		if !ok {
			return cur, nil
		}
		cur = sub
	}
	return 0, fmt.Errorf("block %d: %w", block, ErrCorrupt)
}

// Allocate returns the first reserved pool block which usable reports as
// usable and which no entry references.
func (m *Map) Allocate(usable func(int) bool) (int, error) {
	used := make(map[uint16]bool)
	for _, e := range m.entries {
		used[e] = true
	}
	for i := 0; i < m.poolSize; i++ {
		if !used[uint16(i)] && usable(m.poolStart+i) {
			return m.poolStart + i, nil
		}
	}
	return 0, ErrExhausted
}

// MarshalBinary returns the on-flash form of the map: one little-endian
// 16-bit pool index per block, NoSubstitute for none.
func (m *Map) MarshalBinary() ([]byte, error) {
	b := make([]byte, EncodedLen(len(m.entries)))
	for i, e := range m.entries {
		binary.LittleEndian.PutUint16(b[2*i:], e)
	}
	return b, nil
}

// UnmarshalBinary replaces the contents of the map with the on-flash form
// in b.
func (m *Map) UnmarshalBinary(b []byte) error {
	if len(b) != EncodedLen(len(m.entries)) {
		return fmt.Errorf("map of %d blocks needs %d bytes, got %d", len(m.entries), EncodedLen(len(m.entries)), len(b))
	}
	entries := make([]uint16, len(m.entries))
	for i := range entries {
		e := binary.LittleEndian.Uint16(b[2*i:])
		if e != NoSubstitute && int(e) >= m.poolSize {
			return fmt.Errorf("entry for block %d refers to pool index %d, pool has %d blocks", i, e, m.poolSize)
		}
		entries[i] = e
	}
	m.entries = entries
	return nil
}
