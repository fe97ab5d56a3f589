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

package pageio

import (
	"fmt"

	"github.com/golang/glog"
	"github.com/google/nandcore/internal/coord"
	"github.com/google/nandcore/layout"
	"github.com/google/nandcore/transport"
)

// program issues the page program command for the data already loaded and
// waits for it to complete.
func (e *Engine) program(page int) error {
	e.ops.Command(transport.CmdPageProg, transport.None, transport.None)
	status, err := coord.WaitReady(e.ops, e.timeout)
	if err != nil {
		return err
	}
	if status&transport.StatusFail != 0 {
		glog.Warningf("program of page %d failed, status %02x", page, status)
		return ErrProgramFailed
	}
	return nil
}

// WritePage programs one full page. data must be exactly one page long.
// spare, if not nil, supplies spare bytes in the view selected by mode; ECC
// codes are computed over data and placed on top of them.
func (e *Engine) WritePage(chip, page int, data, spare []byte, mode SpareMode) error {
	if len(data) != e.geo.PageSize {
		return fmt.Errorf("write of %d bytes is not a whole page", len(data))
	}
	full := e.autoBuf()
	if spare != nil {
		e.copySpare(full, spare, 0, mode, false)
	}
	if e.steps == 0 {
		if !e.warned {
			glog.Warningf("writing pages without ECC")
			e.warned = true
		}
	} else {
		e.arm(true)
		step := e.codec.StepSize()
		code := make([]byte, e.codec.CodeSize())
		for i := 0; i < e.steps; i++ {
			e.codec.Calculate(data[i*step:(i+1)*step], code)
			e.placeCode(i, full, code)
		}
	}
	e.Invalidate(chip, page, page)

	e.ops.Select(chip)
	defer e.ops.Select(transport.None)
	e.ops.Command(transport.CmdSeqIn, 0, page)
	e.transfer(data, full, true)
	glog.V(2).Infof("program chip %d page %d", chip, page)
	return e.program(page)
}

// WriteSpare programs spare bytes of a page, starting at off within the
// view selected by mode, leaving the page data untouched. Spare bytes which
// are not written are left erased. It returns the number of bytes written.
func (e *Engine) WriteSpare(chip, page, off int, p []byte, mode SpareMode) (int, error) {
	full := e.autoBuf()
	n := e.copySpare(full, p, off, mode, false)
	e.Invalidate(chip, page, page)

	e.ops.Select(chip)
	defer e.ops.Select(transport.None)
	e.ops.Command(transport.CmdSeqIn, 0, page)
	for _, r := range e.spareRuns() {
		// Padding bytes are 0xFF, which programs nothing.
		col, cnt := layout.AlignRange(r.col, r.n, e.ops.Bus16())
		buf := make([]byte, cnt)
		e.fill(buf)
		copy(buf[r.col-col:], full[r.off:r.off+r.n])
		e.ops.Command(transport.CmdRndIn, col, transport.None)
		e.ops.WriteBuf(buf)
	}
	if err := e.program(page); err != nil {
		return 0, err
	}
	return n, nil
}

type spareRun struct {
	// col is the first column of the run, off the spare offset of its
	// first byte.
	col, off, n int
}

// spareRuns returns the runs of adjacent spare bytes in transfer order.
func (e *Engine) spareRuns() []spareRun {
	var runs []spareRun
	s, col := 0, 0
	for _, seg := range e.lay.Segments {
		if seg.Kind != layout.Data {
			if last := len(runs) - 1; last >= 0 && runs[last].col+runs[last].n == col {
				runs[last].n += seg.Len
			} else {
				runs = append(runs, spareRun{col: col, off: s, n: seg.Len})
			}
			s += seg.Len
		}
		col += seg.Len
	}
	return runs
}

// EraseBlock erases one block.
func (e *Engine) EraseBlock(chip, block int) error {
	first := e.geo.FirstPage(block)
	e.Invalidate(chip, first, first+e.geo.PagesPerBlock-1)

	e.ops.Select(chip)
	defer e.ops.Select(transport.None)
	e.ops.Command(transport.CmdErase1, transport.None, first)
	e.ops.Command(transport.CmdErase2, transport.None, transport.None)
	status, err := coord.WaitReady(e.ops, e.timeout)
	if err != nil {
		return err
	}
	if status&transport.StatusFail != 0 {
		glog.Warningf("erase of chip %d block %d failed, status %02x", chip, block, status)
		return ErrEraseFailed
	}
	glog.V(2).Infof("erased chip %d block %d", chip, block)
	return nil
}

// FactoryBad reports whether the factory bad block marker is set in either
// of the first two pages of a block.
func (e *Engine) FactoryBad(chip, block int) (bool, error) {
	first := e.geo.FirstPage(block)
	n := 1
	if e.geo.BusWidth16 {
		n = 2
	}
	col, cnt := layout.AlignRange(e.geo.PageSize+e.geo.BadBlockPos, n, e.ops.Bus16())
	buf := make([]byte, cnt)

	e.ops.Select(chip)
	defer e.ops.Select(transport.None)
	for page := first; page < first+2; page++ {
		e.ops.Command(transport.CmdRead0, 0, page)
		e.ops.Command(transport.CmdReadStart, transport.None, transport.None)
		if err := coord.WaitRead(e.ops, e.timeout); err != nil {
			return false, err
		}
		e.ops.Command(transport.CmdRndOut, col, transport.None)
		e.ops.ReadBuf(buf)
		off := e.geo.PageSize + e.geo.BadBlockPos - col
		for _, b := range buf[off : off+n] {
			if b != 0xff {
				return true, nil
			}
		}
	}
	return false, nil
}

// WriteBadMarker programs the bad block marker into the first two pages of
// a block, where FactoryBad looks for it.
func (e *Engine) WriteBadMarker(chip, block int) error {
	first := e.geo.FirstPage(block)
	n := 1
	if e.geo.BusWidth16 {
		n = 2
	}
	pos := e.geo.PageSize + e.geo.BadBlockPos
	col, cnt := layout.AlignRange(pos, n, e.ops.Bus16())
	buf := make([]byte, cnt)
	e.fill(buf)
	for i := pos - col; i < pos-col+n; i++ {
		buf[i] = 0
	}
	e.Invalidate(chip, first, first+1)

	e.ops.Select(chip)
	defer e.ops.Select(transport.None)
	for page := first; page < first+2; page++ {
		e.ops.Command(transport.CmdSeqIn, col, page)
		e.ops.WriteBuf(buf)
		if err := e.program(page); err != nil {
			return err
		}
	}
	return nil
}
