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

// Package disturb tracks how often each block is read and erased, and
// decides which blocks need their contents refreshed before read disturb
// corrupts them.
package disturb

import (
	"fmt"
	"math"
	"sync"

	"github.com/golang/glog"
)

// Trigger is the reason a block was queued for mitigation.
type Trigger int

const (
	// BitFlip means a read of the block needed ECC correction.
	BitFlip Trigger = iota
	// ReadCount means the block's read counter reached the threshold.
	ReadCount
	// Manual means an operator asked for the block to be refreshed.
	Manual
)

// String implements fmt.Stringer.
func (t Trigger) String() string {
	switch t {
	case BitFlip:
		return "bitflip"
	case ReadCount:
		return "readcount"
	case Manual:
		return "manual"
	}
	return fmt.Sprintf("Trigger(%d)", int(t))
}

// Tracker holds the read disturb state of a set of blocks. It is safe for
// concurrent use.
type Tracker struct {
	mu        sync.Mutex
	reads     []uint32
	erases    []uint32
	threshold uint32

	// history is a ring of the most recently mitigated blocks.
	history []int
	hnext   int
	hlen    int

	pending map[int]Trigger
	order   []int
	fixing  int

	crossed chan struct{}
}

// New returns a tracker for blocks blocks. A block is queued for mitigation
// when its read counter reaches threshold; zero disables this. historySize
// is the number of recent mitigations remembered.
func New(blocks int, threshold uint32, historySize int) *Tracker {
	return &Tracker{
		reads:     make([]uint32, blocks),
		erases:    make([]uint32, blocks),
		threshold: threshold,
		history:   make([]int, historySize),
		pending:   make(map[int]Trigger),
		fixing:    -1,
		crossed:   make(chan struct{}, 1),
	}
}

// Threshold returns the read count at which blocks are queued.
func (t *Tracker) Threshold() uint32 {
	return t.threshold
}

// Read counts one page or spare read of block.
func (t *Tracker) Read(block int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reads[block] < math.MaxUint32 {
		t.reads[block]++
	}
	// A block stays queued on every read past the threshold until its
	// counter is cleared, so an aborted mitigation is retried.
	if t.threshold > 0 && t.reads[block] >= t.threshold {
		if t.reads[block] == t.threshold {
			glog.V(1).Infof("block %d reached %d reads", block, t.threshold)
		}
		t.queueLocked(block, ReadCount)
	}
}

// Erased counts an erase of block, which also clears its read counter.
func (t *Tracker) Erased(block int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.erases[block]++
	t.reads[block] = 0
}

// ResetReads clears the read counter of block.
func (t *Tracker) ResetReads(block int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads[block] = 0
}

// Counts returns the read and erase counters of block.
func (t *Tracker) Counts(block int) (reads, erases uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads[block], t.erases[block]
}

// Queue asks for block to be mitigated. A block already queued keeps its
// first trigger, and a block currently being mitigated is not queued.
func (t *Tracker) Queue(block int, trig Trigger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queueLocked(block, trig)
}

func (t *Tracker) queueLocked(block int, trig Trigger) {
	if block == t.fixing {
		return
	}
	if _, ok := t.pending[block]; ok {
		return
	}
	t.pending[block] = trig
	t.order = append(t.order, block)
	select {
	case t.crossed <- struct{}{}:
	default:
	}
}

// Crossed returns a channel which receives a value when blocks have been
// queued since it was last drained.
func (t *Tracker) Crossed() <-chan struct{} {
	return t.crossed
}

// Next removes and returns the oldest queued block.
func (t *Tracker) Next() (int, Trigger, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.order) == 0 {
		return 0, 0, false
	}
	b := t.order[0]
	t.order = t.order[1:]
	trig := t.pending[b]
	delete(t.pending, b)
	return b, trig, true
}

// Pending returns the number of queued blocks.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// Begin records that block is being mitigated, so triggers for it are
// ignored until End is called. Any queued trigger for it is dropped.
func (t *Tracker) Begin(block int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fixing = block
	if _, ok := t.pending[block]; ok {
		delete(t.pending, block)
		for i, b := range t.order {
			if b == block {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
}

// End clears the block recorded by Begin.
func (t *Tracker) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fixing = -1
}

// Recent reports whether block is in the mitigation history.
func (t *Tracker) Recent(block int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < t.hlen; i++ {
		if t.history[i] == block {
			return true
		}
	}
	return false
}

// Remember adds block to the mitigation history, displacing the oldest
// entry once the history is full.
func (t *Tracker) Remember(block int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return
	}
	t.history[t.hnext] = block
	t.hnext = (t.hnext + 1) % len(t.history)
	if t.hlen < len(t.history) {
		t.hlen++
	}
}
