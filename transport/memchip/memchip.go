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

// Package memchip provides a simple in-memory NAND controller with one or
// more chips attached, for use in tests and simulation.
//
// Pages behave like real NAND: erasing sets every bit of a block, and
// programming can only clear bits. Faults (bit flips, failed program and
// erase operations, a chip which never becomes ready) can be injected.
package memchip

import (
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"
	"github.com/google/nandcore/layout"
	"github.com/google/nandcore/transport"
)

// Entry is one transport call recorded in the command log.
type Entry struct {
	// Chip is the chip selected when the call was made, or transport.None.
	Chip int
	// Op is one of "select", "cmd", "read" or "write".
	Op string
	// Cmd is the opcode for "cmd" entries, and the chip for "select".
	Cmd  int
	Page int
}

type pageKey struct {
	chip, page int
}

// Controller is an in-memory NAND controller. It implements
// transport.Transport and transport.WordTransport. Columns are byte
// addresses on either bus width.
type Controller struct {
	mu sync.Mutex

	geo  layout.Geometry
	mem  [][]byte
	raw  int // bytes per physical page
	sel  int
	id   []byte
	ptr  int
	page int
	// buf is the page register: a program buffer after CmdSeqIn, or the
	// page being read otherwise.
	buf        []byte
	programing bool
	status     byte
	readStatus bool
	erasePage  int

	failProgram map[pageKey]bool
	failErase   map[pageKey]bool
	stuckBusy   bool
	busyPolls   int

	logging    bool
	log        []Entry
	violations int
	programs   map[pageKey]int
}

// New returns a controller with the given number of chips, all erased.
func New(geo layout.Geometry, chips int) *Controller {
	raw := geo.PageSize + geo.SpareSize
	c := &Controller{
		geo:         geo,
		raw:         raw,
		sel:         transport.None,
		id:          []byte{0xec, 0x75},
		status:      transport.StatusReady | transport.StatusWP,
		failProgram: make(map[pageKey]bool),
		failErase:   make(map[pageKey]bool),
		programs:    make(map[pageKey]int),
	}
	for i := 0; i < chips; i++ {
		m := make([]byte, geo.Blocks*geo.PagesPerBlock*raw)
		for j := range m {
			m[j] = 0xff
		}
		c.mem = append(c.mem, m)
	}
	return c
}

// Geometry returns the geometry of each chip.
func (c *Controller) Geometry() layout.Geometry {
	return c.geo
}

func (c *Controller) record(e Entry) {
	if c.logging {
		c.log = append(c.log, e)
	}
}

// Select implements transport.Transport.
func (c *Controller) Select(chip int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if chip != transport.None && c.sel != transport.None {
		// A second chip enable while a command sequence is in flight.
		c.violations++
	}
	c.sel = chip
	c.record(Entry{Chip: chip, Op: "select", Cmd: chip, Page: transport.None})
}

func (c *Controller) pageMem(page int) []byte {
	o := page * c.raw
	return c.mem[c.sel][o : o+c.raw]
}

// Command implements transport.Transport.
func (c *Controller) Command(cmd byte, column, page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Entry{Chip: c.sel, Op: "cmd", Cmd: int(cmd), Page: page})
	if c.sel == transport.None {
		glog.Warningf("memchip: command 0x%02x with no chip selected", cmd)
		return
	}
	c.readStatus = false
	switch cmd {
	case transport.CmdRead0, transport.CmdRead1, transport.CmdReadOOB:
		c.programing = false
		c.page = page
		c.buf = append(c.buf[:0], c.pageMem(page)...)
		c.ptr = max(column, 0)
		if cmd == transport.CmdReadOOB {
			c.ptr += c.geo.PageSize
		}
	case transport.CmdReadStart:
	case transport.CmdRndOut, transport.CmdRndIn:
		c.ptr = column
	case transport.CmdSeqIn:
		c.programing = true
		c.page = page
		c.buf = c.buf[:0]
		for i := 0; i < c.raw; i++ {
			c.buf = append(c.buf, 0xff)
		}
		c.ptr = max(column, 0)
	case transport.CmdPageProg:
		c.status = transport.StatusReady | transport.StatusWP
		k := pageKey{c.sel, c.page}
		if !c.programing {
			c.status |= transport.StatusFail
			return
		}
		c.programing = false
		if c.failProgram[k] {
			c.status |= transport.StatusFail
			return
		}
		m := c.pageMem(c.page)
		for i := range m {
			m[i] &= c.buf[i]
		}
		c.programs[k]++
	case transport.CmdErase1:
		c.erasePage = page
	case transport.CmdErase2:
		c.status = transport.StatusReady | transport.StatusWP
		block := c.erasePage / c.geo.PagesPerBlock
		if c.failErase[pageKey{c.sel, block}] {
			c.status |= transport.StatusFail
			return
		}
		first := block * c.geo.PagesPerBlock
		for p := first; p < first+c.geo.PagesPerBlock; p++ {
			m := c.pageMem(p)
			for i := range m {
				m[i] = 0xff
			}
			delete(c.programs, pageKey{c.sel, p})
		}
	case transport.CmdStatus:
		c.readStatus = true
	case transport.CmdReadID:
		c.buf = append(c.buf[:0], c.id...)
		c.ptr = 0
	case transport.CmdReset:
		c.programing = false
		c.status = transport.StatusReady | transport.StatusWP
	default:
		glog.Warningf("memchip: unknown command 0x%02x", cmd)
	}
}

// Read8 implements transport.Transport.
func (c *Controller) Read8() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Entry{Chip: c.sel, Op: "read", Cmd: 1, Page: c.page})
	if c.readStatus {
		return c.statusLocked()
	}
	if c.ptr >= len(c.buf) {
		return 0xff
	}
	b := c.buf[c.ptr]
	c.ptr++
	return b
}

func (c *Controller) statusLocked() byte {
	if c.stuckBusy {
		return c.status &^ transport.StatusReady
	}
	if c.busyPolls > 0 {
		c.busyPolls--
		return c.status &^ transport.StatusReady
	}
	return c.status
}

// Write8 implements transport.Transport.
func (c *Controller) Write8(b byte) {
	c.WriteBuf([]byte{b})
}

// ReadBuf implements transport.Transport.
func (c *Controller) ReadBuf(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Entry{Chip: c.sel, Op: "read", Cmd: len(p), Page: c.page})
	n := 0
	if c.ptr < len(c.buf) {
		n = copy(p, c.buf[c.ptr:])
	}
	for i := n; i < len(p); i++ {
		p[i] = 0xff
	}
	c.ptr += len(p)
}

// WriteBuf implements transport.Transport.
func (c *Controller) WriteBuf(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(Entry{Chip: c.sel, Op: "write", Cmd: len(p), Page: c.page})
	if !c.programing || c.ptr >= len(c.buf) {
		return
	}
	copy(c.buf[c.ptr:], p)
	c.ptr += len(p)
}

// Read16 implements transport.WordTransport. The low byte is the one at the
// lower column.
func (c *Controller) Read16() uint16 {
	var w [2]byte
	c.ReadBuf(w[:])
	return uint16(w[0]) | uint16(w[1])<<8
}

// Write16 implements transport.WordTransport.
func (c *Controller) Write16(w uint16) {
	c.WriteBuf([]byte{byte(w), byte(w >> 8)})
}

// WithReadyLine returns a transport for c which also implements
// transport.ReadyChecker.
func WithReadyLine(c *Controller) transport.Transport {
	return &readyLine{c}
}

type readyLine struct {
	*Controller
}

// DeviceReady implements transport.ReadyChecker.
func (r *readyLine) DeviceReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()&transport.StatusReady != 0
}

// FlipBit inverts one bit of the stored contents of a page. col addresses
// the physical page, with the spare area following the data.
func (c *Controller) FlipBit(chip, page, col int, bit uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[chip][page*c.raw+col] ^= 1 << bit
}

// PageContents returns a copy of the physical contents of a page.
func (c *Controller) PageContents(chip, page int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := page * c.raw
	return append([]byte(nil), c.mem[chip][o:o+c.raw]...)
}

// SetPageContents overwrites the physical contents of a page, bypassing
// program semantics.
func (c *Controller) SetPageContents(chip, page int, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := page * c.raw
	copy(c.mem[chip][o:o+c.raw], b)
}

// MarkFactoryBad writes the factory bad block marker into the first two
// pages of a block.
func (c *Controller) MarkFactoryBad(chip, block int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p := 0; p < 2; p++ {
		o := (block*c.geo.PagesPerBlock+p)*c.raw + c.geo.PageSize + c.geo.BadBlockPos
		c.mem[chip][o] = 0x00
		if c.geo.BusWidth16 {
			c.mem[chip][o+1] = 0x00
		}
	}
}

// FailProgram makes every future program of the page fail, or succeed again
// if fail is false.
func (c *Controller) FailProgram(chip, page int, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fail {
		c.failProgram[pageKey{chip, page}] = true
	} else {
		delete(c.failProgram, pageKey{chip, page})
	}
}

// FailErase makes every future erase of the block fail, or succeed again if
// fail is false.
func (c *Controller) FailErase(chip, block int, fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fail {
		c.failErase[pageKey{chip, block}] = true
	} else {
		delete(c.failErase, pageKey{chip, block})
	}
}

// SetStuckBusy makes the chips report busy forever.
func (c *Controller) SetStuckBusy(stuck bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stuckBusy = stuck
}

// SetBusyPolls makes the next n status reads report busy.
func (c *Controller) SetBusyPolls(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busyPolls = n
}

// Programs returns how many times the page has been programmed since it was
// last erased.
func (c *Controller) Programs(chip, page int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.programs[pageKey{chip, page}]
}

// StartLog clears the command log and starts recording.
func (c *Controller) StartLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logging = true
	c.log = nil
}

// Log returns a copy of the command log.
func (c *Controller) Log() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.log...)
}

// Violations returns the number of times a chip was selected while another
// command sequence was still in flight.
func (c *Controller) Violations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.violations
}

// Save writes the raw contents of every chip to w.
func (c *Controller) Save(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.mem {
		if _, err := w.Write(m); err != nil {
			return fmt.Errorf("failed to save chip %d: %v", i, err)
		}
	}
	return nil
}

// Load replaces the raw contents of every chip with data read from r, in
// the format written by Save.
func (c *Controller) Load(r io.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.mem {
		if _, err := io.ReadFull(r, m); err != nil {
			return fmt.Errorf("failed to load chip %d: %v", i, err)
		}
	}
	return nil
}
