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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/google/nandcore/internal/coord"
	"github.com/google/nandcore/internal/disturb"
	"github.com/google/nandcore/internal/pageio"
)

// EccStatus summarises the ECC outcome of a read.
type EccStatus struct {
	// Corrected is the number of bit errors which were fixed.
	Corrected int
	// Failed is the number of ECC steps which could not be corrected.
	Failed int
}

// Clean reports whether the read needed no correction at all.
func (s EccStatus) Clean() bool {
	return s.Corrected == 0 && s.Failed == 0
}

// String implements fmt.Stringer.
func (s EccStatus) String() string {
	switch {
	case s.Failed > 0:
		return fmt.Sprintf("uncorrectable(%d)", s.Failed)
	case s.Corrected > 0:
		return fmt.Sprintf("corrected(%d)", s.Corrected)
	}
	return "clean"
}

func (s *EccStatus) add(o pageio.Status) {
	s.Corrected += o.Corrected
	s.Failed += o.Failed
}

// withChip runs fn holding the chip in state s.
func (f *FlashCore) withChip(ctx context.Context, cs *chipState, s coord.State, fn func() error) error {
	release, err := cs.acc.Get(ctx, s)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// forBlocks calls fn once for each block touched by [off, off+n), holding
// the chip in state s. fn is given the nominal block, the block currently
// holding its data, and the part of the range inside the block.
func (f *FlashCore) forBlocks(ctx context.Context, op string, off, n int64, s coord.State, fn func(cs *chipState, block, eff int, start, end int64) error) error {
	bs := f.geo.BlockSize()
	for pos := off; pos < off+n; {
		cs, block, err := f.locate(pos)
		if err != nil {
			return opError(op, pos, err)
		}
		end := min(off+n, (pos/bs+1)*bs)
		err = f.withChip(ctx, cs, s, func() error {
			eff, err := f.resolve(cs, block)
			if err != nil {
				return opError(op, pos, err)
			}
			return fn(cs, block, eff, pos, end)
		})
		if err != nil {
			return err
		}
		pos = end
	}
	return nil
}

// chipPage returns the page within block which holds the byte at off.
func (f *FlashCore) chipPage(block int, off int64) int {
	return f.geo.FirstPage(block) + int(off%f.geo.BlockSize())/f.geo.PageSize
}

// Read reads len(p) bytes at off. It returns the number of bytes read and
// the ECC outcome. Pages with uncorrectable errors are still returned, and
// the read continues past them, but the error is then ErrEccUncorrectable.
func (f *FlashCore) Read(ctx context.Context, off int64, p []byte) (int, EccStatus, error) {
	var st EccStatus
	if err := f.check(); err != nil {
		return 0, st, err
	}
	if err := f.checkRange(off, int64(len(p))); err != nil {
		return 0, st, opError("read", off, err)
	}
	defer observe("read", time.Now())

	ps := int64(f.geo.PageSize)
	var eccErr error
	n := 0
	err := f.forBlocks(ctx, "read", off, int64(len(p)), coord.Reading, func(cs *chipState, block, eff int, start, end int64) error {
		g := f.global(cs, eff)
		for pos := start; pos < end; {
			page := f.chipPage(eff, pos)
			col := int(pos % ps)
			cnt := int(min(end-pos, ps-int64(col)))
			buf := p[pos-off : pos-off+int64(cnt)]

			var pst pageio.Status
			var err error
			if col == 0 && cnt == f.geo.PageSize {
				pst, err = f.eng.ReadPage(cs.index, page, buf, nil, pageio.Auto)
			} else {
				pst, err = f.eng.ReadPartial(cs.index, page, col, buf)
			}
			if err != nil && !errors.Is(err, ErrEccUncorrectable) {
				return opError("read", pos, err)
			}
			st.add(pst)
			if !pst.Cached {
				pageReads.Inc(cs.label)
				f.dist.Read(g)
			}
			if pst.Corrected > 0 {
				eccCorrected.Add(float64(pst.Corrected), cs.label)
				glog.Warningf("chip %d: corrected %d bit(s) in page %d", cs.index, pst.Corrected, page)
				f.dist.Queue(g, disturb.BitFlip)
			}
			if err != nil {
				eccFailed.Add(float64(pst.Failed), cs.label)
				glog.Errorf("chip %d: uncorrectable ECC error in page %d", cs.index, page)
				if eccErr == nil {
					eccErr = opError("read", pos, err)
				}
			}
			n += cnt
			pos += int64(cnt)
		}
		return nil
	})
	if err != nil {
		return n, st, err
	}
	return n, st, eccErr
}

// Write writes p at off. Both must be multiples of the page size. It
// returns the number of bytes written. With AutoReplace set, a block which
// fails to program is replaced and the write carries on in its substitute.
func (f *FlashCore) Write(ctx context.Context, off int64, p []byte) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	ps := int64(f.geo.PageSize)
	if off%ps != 0 || int64(len(p))%ps != 0 {
		return 0, opError("write", off, ErrInvalidArgument)
	}
	if err := f.checkRange(off, int64(len(p))); err != nil {
		return 0, opError("write", off, err)
	}
	defer observe("write", time.Now())

	n := 0
	err := f.forBlocks(ctx, "write", off, int64(len(p)), coord.Writing, func(cs *chipState, block, eff int, start, end int64) error {
		for pos := start; pos < end; pos += ps {
			idx := int(pos%f.geo.BlockSize()) / f.geo.PageSize
			data := p[pos-off : pos-off+ps]
			for {
				err := f.eng.WritePage(cs.index, f.geo.FirstPage(eff)+idx, data, nil, pageio.Auto)
				pageWrites.Inc(cs.label)
				if err == nil {
					break
				}
				if !f.opts.AutoReplace || !errors.Is(err, ErrProgramFailed) {
					return opError("write", pos, err)
				}
				if eff, err = f.replaceLocked(cs, block, "program", idx, true); err != nil {
					return opError("write", pos, err)
				}
			}
			n += int(ps)
		}
		return nil
	})
	return n, err
}

// Erase erases length bytes at off. Both must be multiples of the block
// size. With AutoReplace set, a block which fails to erase is replaced by
// an erased substitute.
func (f *FlashCore) Erase(ctx context.Context, off, length int64) error {
	if err := f.check(); err != nil {
		return err
	}
	bs := f.geo.BlockSize()
	if off%bs != 0 || length%bs != 0 {
		return opError("erase", off, ErrInvalidArgument)
	}
	if err := f.checkRange(off, length); err != nil {
		return opError("erase", off, err)
	}
	defer observe("erase", time.Now())

	return f.forBlocks(ctx, "erase", off, length, coord.Erasing, func(cs *chipState, block, eff int, start, _ int64) error {
		err := f.eng.EraseBlock(cs.index, eff)
		blockErases.Inc(cs.label)
		if err == nil {
			f.dist.Erased(f.global(cs, eff))
			return nil
		}
		if !f.opts.AutoReplace || !errors.Is(err, ErrEraseFailed) {
			return opError("erase", start, err)
		}
		if _, err := f.replaceLocked(cs, block, "erase", -1, false); err != nil {
			return opError("erase", start, err)
		}
		return nil
	})
}

// spareRange checks a spare access of n bytes starting with the page at off,
// and returns the length of the data range of the pages it covers.
func (f *FlashCore) spareRange(op string, off int64, n int, mode SpareMode) (int64, error) {
	ps := int64(f.geo.PageSize)
	if off%ps != 0 {
		return 0, opError(op, off, ErrInvalidArgument)
	}
	sl := f.eng.SpareLen(mode)
	if sl == 0 {
		return 0, opError(op, off, ErrInvalidArgument)
	}
	length := int64((n+sl-1)/sl) * ps
	if err := f.checkRange(off, length); err != nil {
		return 0, opError(op, off, err)
	}
	return length, nil
}

// ReadSpare reads the spare areas of consecutive pages, starting with the
// page at off, in the view selected by mode. Each page contributes
// SpareLen(mode) bytes to p. It returns the number of bytes read.
func (f *FlashCore) ReadSpare(ctx context.Context, off int64, p []byte, mode SpareMode) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	length, err := f.spareRange("read spare", off, len(p), mode)
	if err != nil {
		return 0, err
	}
	sl := int64(f.eng.SpareLen(mode))
	ps := int64(f.geo.PageSize)
	n := 0
	err = f.forBlocks(ctx, "read spare", off, length, coord.Reading, func(cs *chipState, _, eff int, start, end int64) error {
		g := f.global(cs, eff)
		for pos := start; pos < end; pos += ps {
			i := (pos - off) / ps * sl
			got, err := f.eng.ReadSpare(cs.index, f.chipPage(eff, pos), 0, p[i:min(i+sl, int64(len(p)))], mode)
			n += got
			if err != nil {
				return opError("read spare", pos, err)
			}
			// Sensing the spare area disturbs the block like a page read.
			pageReads.Inc(cs.label)
			f.dist.Read(g)
		}
		return nil
	})
	return n, err
}

// WriteSpare programs the spare areas of consecutive pages, starting with
// the page at off, leaving their data untouched. Each page takes
// SpareLen(mode) bytes of p. It returns the number of bytes written.
func (f *FlashCore) WriteSpare(ctx context.Context, off int64, p []byte, mode SpareMode) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	length, err := f.spareRange("write spare", off, len(p), mode)
	if err != nil {
		return 0, err
	}
	sl := int64(f.eng.SpareLen(mode))
	ps := int64(f.geo.PageSize)
	n := 0
	err = f.forBlocks(ctx, "write spare", off, length, coord.Writing, func(cs *chipState, _, eff int, start, end int64) error {
		for pos := start; pos < end; pos += ps {
			i := (pos - off) / ps * sl
			got, err := f.eng.WriteSpare(cs.index, f.chipPage(eff, pos), 0, p[i:min(i+sl, int64(len(p)))], mode)
			pageWrites.Inc(cs.label)
			if err != nil {
				return opError("write spare", pos, err)
			}
			n += got
		}
		return nil
	})
	return n, err
}

func observe(op string, start time.Time) {
	opLatency.Observe(time.Since(start).Seconds(), op)
}
