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

// Package pageio transfers single pages, with their spare areas, to and from
// a NAND chip, applying ECC as described by the chip's OobLayout.
//
// An Engine is not safe for concurrent use: callers must hold the chip
// (see package coord) for the duration of every call.
package pageio

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/google/nandcore/ecc"
	"github.com/google/nandcore/internal/coord"
	"github.com/google/nandcore/layout"
	"github.com/google/nandcore/transport"
)

var (
	// ErrEccUncorrectable is returned when at least one ECC step of a page
	// could not be corrected. The data is still returned.
	ErrEccUncorrectable = errors.New("uncorrectable ECC error")
	// ErrProgramFailed is returned when the chip reports a failed program.
	ErrProgramFailed = errors.New("program failed")
	// ErrEraseFailed is returned when the chip reports a failed erase.
	ErrEraseFailed = errors.New("erase failed")
)

// SpareMode selects how spare bytes are exchanged with callers.
type SpareMode int

const (
	// Auto exposes only the free spare bytes, packed together in the order
	// of the layout's Free ranges.
	Auto SpareMode = iota
	// Raw exposes the whole spare area as stored, ECC bytes included.
	Raw
)

// String implements fmt.Stringer.
func (m SpareMode) String() string {
	if m == Raw {
		return "raw"
	}
	return "auto"
}

// Status summarises the ECC outcome of reading one page.
type Status struct {
	// Corrected is the number of bit errors fixed across all steps.
	Corrected int
	// Failed is the number of steps which could not be corrected.
	Failed int
	// Cached is set if the page was served from the page cache without
	// touching the chip.
	Cached bool
}

// Add accumulates o into s.
func (s *Status) Add(o Status) {
	s.Corrected += o.Corrected
	s.Failed += o.Failed
}

// Engine moves pages between callers and the chips on one controller.
type Engine struct {
	ops     *transport.Ops
	geo     layout.Geometry
	lay     *layout.OobLayout
	codec   ecc.Codec
	timeout time.Duration

	steps int
	cols  []int

	// Scratch buffers, reused across calls.
	page  []byte
	spare []byte
	calc  []byte
	// raw holds a whole physical page for transfers on a 16-bit bus.
	raw []byte
	// auto is the autoplacement buffer. It is refilled with 0xFF before use
	// whenever a previous call may have left bytes in it.
	auto      []byte
	autoDirty bool

	cache struct {
		valid      bool
		chip, page int
	}
	warned bool
}

// New returns an engine for chips of the given geometry and layout. codec
// may be nil, in which case pages are written without ECC.
func New(ops *transport.Ops, geo layout.Geometry, lay *layout.OobLayout, codec ecc.Codec, timeout time.Duration) (*Engine, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	if err := lay.Validate(geo); err != nil {
		return nil, err
	}
	e := &Engine{
		ops:     ops,
		geo:     geo,
		lay:     lay,
		codec:   codec,
		timeout: timeout,
		cols:    lay.SpareColumns(),
		page:    make([]byte, geo.PageSize),
		spare:   make([]byte, geo.SpareSize),
		auto:    make([]byte, geo.SpareSize),
	}
	if codec != nil {
		if geo.PageSize%codec.StepSize() != 0 {
			return nil, fmt.Errorf("page size %d is not a multiple of ecc step %d", geo.PageSize, codec.StepSize())
		}
		e.steps = geo.PageSize / codec.StepSize()
		if want := e.steps * codec.CodeSize(); len(lay.EccPos) != want {
			return nil, fmt.Errorf("layout has %d ecc positions, %d steps of %d code bytes need %d", len(lay.EccPos), e.steps, codec.CodeSize(), want)
		}
		e.calc = make([]byte, codec.CodeSize())
	}
	if ops.Bus16() {
		e.raw = make([]byte, geo.PageSize+geo.SpareSize)
	}
	e.fill(e.auto)
	return e, nil
}

// Geometry returns the chip geometry.
func (e *Engine) Geometry() layout.Geometry {
	return e.geo
}

// Layout returns the spare area layout.
func (e *Engine) Layout() *layout.OobLayout {
	return e.lay
}

// HasEcc reports whether pages are protected by ECC.
func (e *Engine) HasEcc() bool {
	return e.steps > 0
}

func (e *Engine) fill(b []byte) {
	for i := range b {
		b[i] = 0xff
	}
}

// autoBuf returns the autoplacement buffer, erased.
func (e *Engine) autoBuf() []byte {
	if e.autoDirty {
		e.fill(e.auto)
	}
	e.autoDirty = true
	return e.auto
}

// Invalidate drops the cached page if it lies on chip within [first, last].
func (e *Engine) Invalidate(chip, first, last int) {
	if e.cache.valid && e.cache.chip == chip && e.cache.page >= first && e.cache.page <= last {
		e.cache.valid = false
	}
}

// transfer walks the layout's segments in transfer order, moving data and
// spare bytes in the given direction.
func (e *Engine) transfer(data, spare []byte, write bool) {
	if e.raw != nil {
		e.transferWords(data, spare, write)
		return
	}
	d, s := 0, 0
	for _, seg := range e.lay.Segments {
		var b []byte
		if seg.Kind == layout.Data {
			b = data[d : d+seg.Len]
			d += seg.Len
		} else {
			b = spare[s : s+seg.Len]
			s += seg.Len
		}
		if write {
			e.ops.WriteBuf(b)
		} else {
			e.ops.ReadBuf(b)
		}
	}
}

// transferWords moves the whole physical page in one run. Segments of odd
// length would otherwise each be padded to a whole word on the bus.
func (e *Engine) transferWords(data, spare []byte, write bool) {
	if !write {
		e.ops.ReadBuf(e.raw)
	}
	d, s, col := 0, 0, 0
	for _, seg := range e.lay.Segments {
		var b []byte
		if seg.Kind == layout.Data {
			b = data[d : d+seg.Len]
			d += seg.Len
		} else {
			b = spare[s : s+seg.Len]
			s += seg.Len
		}
		if write {
			copy(e.raw[col:], b)
		} else {
			copy(b, e.raw[col:col+seg.Len])
		}
		col += seg.Len
	}
	if write {
		e.ops.WriteBuf(e.raw)
	}
}

// arm enables a hardware codec for the next page transfer.
func (e *Engine) arm(write bool) {
	if en, ok := e.codec.(ecc.Enabler); ok && e.steps > 0 {
		en.Enable(write)
	}
}

func (e *Engine) code(step int, spare []byte) []byte {
	n := e.codec.CodeSize()
	code := make([]byte, n)
	for i, p := range e.lay.EccPos[step*n : (step+1)*n] {
		code[i] = spare[p]
	}
	return code
}

func (e *Engine) placeCode(step int, spare, code []byte) {
	n := e.codec.CodeSize()
	for i, p := range e.lay.EccPos[step*n : (step+1)*n] {
		spare[p] = code[i]
	}
}

// correct checks and repairs every ECC step of a page just read.
func (e *Engine) correct(page int, data, spare []byte) Status {
	var st Status
	step := 0
	if e.codec != nil {
		step = e.codec.StepSize()
	}
	for i := 0; i < e.steps; i++ {
		chunk := data[i*step : (i+1)*step]
		e.codec.Calculate(chunk, e.calc)
		r := e.codec.Correct(chunk, e.code(i, spare), e.calc)
		switch {
		case r.Uncorrectable:
			st.Failed++
			glog.V(1).Infof("page %d step %d: uncorrectable", page, i)
		case r.Corrected > 0:
			st.Corrected += r.Corrected
			glog.V(1).Infof("page %d step %d: %v", page, i, r)
		}
	}
	return st
}

// copySpare moves spare bytes between the full spare area and a caller's
// buffer, starting at off within the view selected by mode. It returns the
// number of bytes copied.
func (e *Engine) copySpare(full, user []byte, off int, mode SpareMode, toUser bool) int {
	if mode == Raw {
		if off >= len(full) {
			return 0
		}
		if toUser {
			return copy(user, full[off:])
		}
		return copy(full[off:], user)
	}
	n, pos := 0, 0
	for _, r := range e.lay.Free {
		for i := r.Offset; i < r.Offset+r.Length; i++ {
			if pos >= off && n < len(user) {
				if toUser {
					user[n] = full[i]
				} else {
					full[i] = user[n]
				}
				n++
			}
			pos++
		}
	}
	return n
}

// SpareLen returns the size of the spare view for mode.
func (e *Engine) SpareLen(mode SpareMode) int {
	if mode == Raw {
		return e.geo.SpareSize
	}
	return e.lay.FreeBytes()
}

func (e *Engine) readPage(chip, page int, data, spare []byte) error {
	e.ops.Select(chip)
	defer e.ops.Select(transport.None)
	e.ops.Command(transport.CmdRead0, 0, page)
	e.ops.Command(transport.CmdReadStart, transport.None, transport.None)
	if err := coord.WaitRead(e.ops, e.timeout); err != nil {
		return err
	}
	e.arm(false)
	e.transfer(data, spare, false)
	return nil
}

// ReadPage reads one full page into data, which must be exactly one page
// long, and optionally spare bytes into spare. The page is read directly
// into data. ErrEccUncorrectable is returned alongside the data if any step
// failed.
func (e *Engine) ReadPage(chip, page int, data, spare []byte, mode SpareMode) (Status, error) {
	if len(data) != e.geo.PageSize {
		return Status{}, fmt.Errorf("read of %d bytes is not a whole page", len(data))
	}
	if err := e.readPage(chip, page, data, e.spare); err != nil {
		return Status{}, err
	}
	st := e.correct(page, data, e.spare)
	if spare != nil {
		e.copySpare(e.spare, spare, 0, mode, true)
	}
	glog.V(2).Infof("read chip %d page %d: %+v", chip, page, st)
	if st.Failed > 0 {
		return st, ErrEccUncorrectable
	}
	return st, nil
}

// ReadPartial copies len(p) bytes starting at column col of a page into p,
// through the engine's page buffer. A page which read back without
// uncorrectable errors is cached, and later partial reads of it are served
// without touching the chip.
func (e *Engine) ReadPartial(chip, page, col int, p []byte) (Status, error) {
	if col < 0 || col+len(p) > e.geo.PageSize {
		return Status{}, fmt.Errorf("read of %d bytes at column %d crosses page boundary", len(p), col)
	}
	if e.cache.valid && e.cache.chip == chip && e.cache.page == page {
		copy(p, e.page[col:])
		return Status{Cached: true}, nil
	}
	e.cache.valid = false
	if err := e.readPage(chip, page, e.page, e.spare); err != nil {
		return Status{}, err
	}
	st := e.correct(page, e.page, e.spare)
	copy(p, e.page[col:])
	if st.Failed > 0 {
		return st, ErrEccUncorrectable
	}
	e.cache.valid = true
	e.cache.chip, e.cache.page = chip, page
	return st, nil
}

// ReadSpare reads spare bytes of a page, starting at off within the view
// selected by mode, without transferring the page data. It returns the
// number of bytes read.
func (e *Engine) ReadSpare(chip, page, off int, p []byte, mode SpareMode) (int, error) {
	e.ops.Select(chip)
	defer e.ops.Select(transport.None)
	e.ops.Command(transport.CmdRead0, 0, page)
	e.ops.Command(transport.CmdReadStart, transport.None, transport.None)
	if err := coord.WaitRead(e.ops, e.timeout); err != nil {
		return 0, err
	}
	if mode == Raw && off < len(e.cols) {
		n := min(len(p), len(e.cols)-off)
		if n > 0 && e.cols[off+n-1]-e.cols[off] == n-1 {
			// The range is contiguous on the chip; fetch just that.
			col, cnt := layout.AlignRange(e.cols[off], n, e.ops.Bus16())
			buf := make([]byte, cnt)
			e.ops.Command(transport.CmdRndOut, col, transport.None)
			e.ops.ReadBuf(buf)
			return copy(p[:n], buf[e.cols[off]-col:]), nil
		}
	}
	full := e.spare
	if last := len(e.cols) - 1; e.cols[last]-e.cols[0] == last {
		col, cnt := layout.AlignRange(e.cols[0], len(full), e.ops.Bus16())
		buf := full
		if cnt != len(full) {
			buf = make([]byte, cnt)
		}
		e.ops.Command(transport.CmdRndOut, col, transport.None)
		e.ops.ReadBuf(buf)
		copy(full, buf[e.cols[0]-col:])
	} else {
		e.ops.Command(transport.CmdRndOut, 0, transport.None)
		e.transfer(make([]byte, e.geo.PageSize), full, false)
	}
	return e.copySpare(full, p, off, mode, true), nil
}
