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
	"bytes"
	"context"
	"errors"

	"github.com/golang/glog"
	"github.com/google/nandcore/internal/bbt"
	"github.com/google/nandcore/internal/coord"
	"github.com/google/nandcore/internal/pageio"
)

// IsBad reports whether the block containing off is marked bad. A block
// which has been replaced is still reported bad.
func (f *FlashCore) IsBad(ctx context.Context, off int64) (bool, error) {
	if err := f.check(); err != nil {
		return false, err
	}
	cs, block, err := f.locate(off)
	if err != nil {
		return false, opError("is bad", off, err)
	}
	var bad bool
	err = f.withChip(ctx, cs, coord.Reading, func() error {
		bad = cs.bbt.IsBad(block, false)
		if bad || !f.opts.NoTable {
			return nil
		}
		var err error
		bad, err = f.eng.FactoryBad(cs.index, block)
		return err
	})
	return bad, opError("is bad", off, err)
}

// MarkBad marks the block containing off as worn out. Its data is not
// moved; use ReplaceBlock to give it a substitute. Without a persisted
// table, the bad block marker is also written into the block itself.
func (f *FlashCore) MarkBad(ctx context.Context, off int64) error {
	if err := f.check(); err != nil {
		return err
	}
	cs, block, err := f.locate(off)
	if err != nil {
		return opError("mark bad", off, err)
	}
	err = f.withChip(ctx, cs, coord.Writing, func() error {
		if cs.bbt.IsBad(block, false) {
			return nil
		}
		if _, err := cs.bbt.Set(block, bbt.WornBad); err != nil {
			return err
		}
		glog.Warningf("chip %d: block %d marked bad", cs.index, block)
		if f.opts.NoTable {
			if err := f.eng.WriteBadMarker(cs.index, block); err != nil {
				glog.Warningf("chip %d: failed to write bad block marker into block %d: %v", cs.index, block, err)
			}
		}
		return f.persist(cs)
	})
	return opError("mark bad", off, err)
}

// ReplaceBlock gives the block containing off a substitute from the
// reserved pool, and marks it bad. The substitute is erased; data in the
// block is not carried over.
func (f *FlashCore) ReplaceBlock(ctx context.Context, off int64) error {
	if err := f.check(); err != nil {
		return err
	}
	cs, block, err := f.locate(off)
	if err != nil {
		return opError("replace", off, err)
	}
	err = f.withChip(ctx, cs, coord.Writing, func() error {
		_, err := f.replaceLocked(cs, block, "manual", -1, false)
		return err
	})
	return opError("replace", off, err)
}

// replaceLocked substitutes a reserved block for the nominal block and
// returns the substitute. If copyData is set, the pages of the block
// currently holding the data are copied over, except for skipPage. On
// failure the tables are left as they were, apart from reserved blocks
// found to be bad along the way. The chip must be held.
func (f *FlashCore) replaceLocked(cs *chipState, block int, reason string, skipPage int, copyData bool) (int, error) {
	oldBBT, oldBBM := cs.bbt.Clone(), cs.bbm.Clone()
	var retired []int
	fail := func(err error) (int, error) {
		cs.bbt, cs.bbm = oldBBT, oldBBM
		for _, b := range retired {
			_, _ = cs.bbt.Set(b, bbt.WornBad)
		}
		if len(retired) > 0 {
			cs.dirty = true
			_ = f.persist(cs)
		}
		f.updateFree(cs)
		glog.Errorf("chip %d: failed to replace block %d: %v", cs.index, block, err)
		return 0, err
	}

	src, err := cs.bbm.Translate(block, func(b int) bool { return cs.bbt.IsBad(b, true) })
	if err != nil {
		return fail(err)
	}
	var sub int
	for {
		sub, err = cs.bbm.Allocate(func(b int) bool { return cs.bbt.Get(b) == bbt.Good })
		if err != nil {
			return fail(err)
		}
		err = f.eng.EraseBlock(cs.index, sub)
		blockErases.Inc(cs.label)
		if err == nil && copyData {
			err = f.copyBlock(cs, src, sub, skipPage)
		}
		if err == nil {
			break
		}
		if !errors.Is(err, ErrEraseFailed) && !errors.Is(err, ErrProgramFailed) {
			return fail(err)
		}
		glog.Warningf("chip %d: reserved block %d is bad: %v", cs.index, sub, err)
		if _, err := cs.bbt.Set(sub, bbt.WornBad); err != nil {
			return fail(err)
		}
		retired = append(retired, sub)
	}

	if err := cs.bbm.Set(block, sub); err != nil {
		return fail(err)
	}
	if _, err := cs.bbt.Set(sub, bbt.Reserved); err != nil {
		return fail(err)
	}
	if src != block {
		// The previous substitute is no longer referenced.
		if _, err := cs.bbt.Set(src, bbt.WornBad); err != nil {
			return fail(err)
		}
	} else if cs.bbt.Get(block) == bbt.Good {
		if _, err := cs.bbt.Set(block, bbt.WornBad); err != nil {
			return fail(err)
		}
	}
	if err := f.persist(cs); err != nil {
		return fail(err)
	}
	replacements.Inc(cs.label, reason)
	f.updateFree(cs)
	glog.Warningf("chip %d: block %d replaced by %d (%s)", cs.index, block, sub, reason)
	return sub, nil
}

// copyBlock copies every programmed page of src to the erased block dst,
// with its free spare bytes, except for skipPage.
func (f *FlashCore) copyBlock(cs *chipState, src, dst, skipPage int) error {
	data := make([]byte, f.geo.PageSize)
	spare := make([]byte, f.eng.SpareLen(pageio.Auto))
	for i := 0; i < f.geo.PagesPerBlock; i++ {
		if i == skipPage {
			continue
		}
		if _, err := f.eng.ReadPage(cs.index, f.geo.FirstPage(src)+i, data, spare, pageio.Auto); err != nil {
			if !errors.Is(err, ErrEccUncorrectable) {
				return err
			}
			glog.Warningf("chip %d: copying block %d page %d with uncorrectable errors", cs.index, src, i)
		}
		if erased(data) && erased(spare) {
			continue
		}
		if err := f.eng.WritePage(cs.index, f.geo.FirstPage(dst)+i, data, spare, pageio.Auto); err != nil {
			return err
		}
		pageWrites.Inc(cs.label)
	}
	return nil
}

func erased(b []byte) bool {
	return len(bytes.Trim(b, "\xff")) == 0
}

// Translate returns the offset at which the data of off is currently
// stored. If no good block holds it, because the block or its last
// substitute is bad with no substitute of its own, off is returned
// unchanged.
func (f *FlashCore) Translate(ctx context.Context, off int64) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	cs, block, err := f.locate(off)
	if err != nil {
		return 0, opError("translate", off, err)
	}
	var eff int
	err = f.withChip(ctx, cs, coord.Reading, func() error {
		var err error
		isBad := func(b int) bool { return cs.bbt.IsBad(b, true) }
		eff, err = cs.bbm.Translate(block, isBad)
		if err == nil && isBad(eff) {
			eff = block
		}
		return err
	})
	if err != nil {
		return 0, opError("translate", off, err)
	}
	return f.offset(cs, eff) + off%f.geo.BlockSize(), nil
}
