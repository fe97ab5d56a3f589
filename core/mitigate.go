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
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/google/nandcore/internal/bbt"
	"github.com/google/nandcore/internal/coord"
	"github.com/google/nandcore/internal/pageio"
)

// Step is a stage of a read disturb mitigation run.
type Step int

const (
	StepStart Step = iota
	StepReadSource
	StepEraseReserved
	StepWriteReserved
	StepVerifyReserved
	StepUpdateBbmTemporary
	StepMarkSourceBad
	StepEraseSource
	StepRewriteSource
	StepVerifyRewrite
	StepReclaimMarkGood
	StepUpdateBbmFinal
	StepDone
	StepAborted
)

var stepNames = []string{
	"start",
	"read source",
	"erase reserved",
	"write reserved",
	"verify reserved",
	"update map (temporary)",
	"mark source bad",
	"erase source",
	"rewrite source",
	"verify rewrite",
	"reclaim source",
	"update map (final)",
	"done",
	"aborted",
}

// String implements fmt.Stringer.
func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

// mitigation is one run of the refresh procedure over a nominal block.
type mitigation struct {
	f     *FlashCore
	cs    *chipState
	block int
	g     int
	off   int64

	data  [][]byte
	spare [][]byte
	// used marks the pages which are not erased.
	used []bool

	sub     int
	retired bool
}

// Mitigate refreshes the block containing off: its contents are copied to
// a reserved block, which serves reads while the block is erased and
// rewritten, and is then released again. A block refreshed recently is
// instead retired, leaving the reserved block as its permanent substitute.
//
// The chip is held for the whole run. Only Good blocks without a
// substitute can be mitigated; others return ErrBadBlock.
func (f *FlashCore) Mitigate(ctx context.Context, off int64, trig Trigger) error {
	if err := f.check(); err != nil {
		return err
	}
	cs, block, err := f.locate(off)
	if err != nil {
		return opError("mitigate", off, err)
	}
	off = f.offset(cs, block)
	ctx = coord.WithOwner(ctx)
	release, err := cs.acc.Get(ctx, coord.Mitigating)
	if err != nil {
		return err
	}
	defer release()
	if _, ok := cs.bbm.Lookup(block); ok || cs.bbt.Get(block) != bbt.Good {
		return opError("mitigate", off, ErrBadBlock)
	}
	defer observe("mitigate", time.Now())

	m := &mitigation{
		f:     f,
		cs:    cs,
		block: block,
		g:     f.global(cs, block),
		off:   off,
		sub:   -1,
	}
	f.dist.Begin(m.g)
	defer f.dist.End()

	glog.V(1).Infof("chip %d: mitigating block %d (%v)", cs.index, block, trig)
	for _, s := range []struct {
		step Step
		fn   func(context.Context) error
	}{
		{StepStart, m.start},
		{StepReadSource, m.readSource},
		{StepEraseReserved, m.eraseReserved},
		{StepWriteReserved, m.writeReserved},
		{StepVerifyReserved, m.verifyReserved},
		{StepUpdateBbmTemporary, m.updateTemporary},
		{StepMarkSourceBad, m.markSourceBad},
		{StepEraseSource, m.eraseSource},
		{StepRewriteSource, m.rewriteSource},
		{StepVerifyRewrite, m.verifyRewrite},
		{StepReclaimMarkGood, m.reclaim},
		{StepUpdateBbmFinal, m.updateFinal},
	} {
		glog.V(2).Infof("chip %d: block %d: %v", cs.index, block, s.step)
		if err := s.fn(ctx); err != nil {
			m.abort(s.step, err)
			mitigations.Inc(trig.String(), "aborted")
			return opError("mitigate", off, err)
		}
		if h := f.opts.StepHook; h != nil {
			if err := h(off, s.step); err != nil {
				return err
			}
		}
		if m.retired {
			mitigations.Inc(trig.String(), "retired")
			return nil
		}
	}
	mitigations.Inc(trig.String(), "done")
	glog.Infof("chip %d: block %d refreshed (%v)", cs.index, block, trig)
	return nil
}

func (m *mitigation) start(context.Context) error {
	ppb := m.f.geo.PagesPerBlock
	m.data = make([][]byte, ppb)
	m.spare = make([][]byte, ppb)
	m.used = make([]bool, ppb)
	for i := range m.data {
		m.data[i] = make([]byte, m.f.geo.PageSize)
		m.spare[i] = make([]byte, m.f.eng.SpareLen(pageio.Auto))
	}
	return nil
}

// readBlock reads every page of block into data and spare.
func (m *mitigation) readBlock(ctx context.Context, block int, data, spare [][]byte) (pageio.Status, error) {
	var st pageio.Status
	err := m.f.withChip(ctx, m.cs, coord.Reading, func() error {
		first := m.f.geo.FirstPage(block)
		for i := range data {
			ps, err := m.f.eng.ReadPage(m.cs.index, first+i, data[i], spare[i], pageio.Auto)
			pageReads.Inc(m.cs.label)
			st.Add(ps)
			if err != nil {
				return fmt.Errorf("page %d of block %d: %w", i, block, err)
			}
		}
		return nil
	})
	return st, err
}

// writeBlock programs the used pages into the erased block.
func (m *mitigation) writeBlock(ctx context.Context, block int) error {
	return m.f.withChip(ctx, m.cs, coord.Writing, func() error {
		first := m.f.geo.FirstPage(block)
		for i, used := range m.used {
			if !used {
				continue
			}
			err := m.f.eng.WritePage(m.cs.index, first+i, m.data[i], m.spare[i], pageio.Auto)
			pageWrites.Inc(m.cs.label)
			if err != nil {
				return fmt.Errorf("page %d of block %d: %w", i, block, err)
			}
		}
		return nil
	})
}

func (m *mitigation) eraseBlock(ctx context.Context, block int) error {
	return m.f.withChip(ctx, m.cs, coord.Erasing, func() error {
		err := m.f.eng.EraseBlock(m.cs.index, block)
		blockErases.Inc(m.cs.label)
		if err == nil {
			m.f.dist.Erased(m.f.global(m.cs, block))
		}
		return err
	})
}

// verify reads block back and compares it with the captured contents. If
// strict is set, corrected bit errors also count as a mismatch.
func (m *mitigation) verify(ctx context.Context, block int, strict bool) error {
	n := len(m.data)
	data := make([][]byte, n)
	spare := make([][]byte, n)
	for i := range data {
		data[i] = make([]byte, len(m.data[i]))
		spare[i] = make([]byte, len(m.spare[i]))
	}
	st, err := m.readBlock(ctx, block, data, spare)
	if err != nil {
		return err
	}
	if strict && st.Corrected > 0 {
		return fmt.Errorf("block %d read back with %d corrected bits: %w", block, st.Corrected, ErrVerifyMismatch)
	}
	for i := range data {
		if !bytes.Equal(data[i], m.data[i]) || !bytes.Equal(spare[i], m.spare[i]) {
			return fmt.Errorf("page %d of block %d: %w", i, block, ErrVerifyMismatch)
		}
	}
	return nil
}

func (m *mitigation) readSource(ctx context.Context) error {
	if _, err := m.readBlock(ctx, m.block, m.data, m.spare); err != nil {
		return err
	}
	for i := range m.used {
		m.used[i] = !erased(m.data[i]) || !erased(m.spare[i])
	}
	return nil
}

// retireSub marks the reserved block in use as bad.
func (m *mitigation) retireSub() {
	cs := m.cs
	if _, err := cs.bbt.Set(m.sub, bbt.WornBad); err != nil {
		glog.Errorf("chip %d: %v", cs.index, err)
		return
	}
	glog.Warningf("chip %d: reserved block %d retired", cs.index, m.sub)
	_ = m.f.persist(cs)
	m.f.updateFree(cs)
}

func (m *mitigation) eraseReserved(ctx context.Context) error {
	cs := m.cs
	sub, err := cs.bbm.Allocate(func(b int) bool { return cs.bbt.Get(b) == bbt.Good })
	if err != nil {
		return err
	}
	m.sub = sub
	if err := m.eraseBlock(ctx, sub); err != nil {
		m.retireSub()
		return err
	}
	return nil
}

func (m *mitigation) writeReserved(ctx context.Context) error {
	if err := m.writeBlock(ctx, m.sub); err != nil {
		m.retireSub()
		return err
	}
	return nil
}

func (m *mitigation) verifyReserved(ctx context.Context) error {
	if err := m.verify(ctx, m.sub, false); err != nil {
		m.retireSub()
		return err
	}
	return nil
}

// updateTemporary points the source at the reserved block. The source is
// still Good, so reads keep going to it until it is marked bad.
func (m *mitigation) updateTemporary(context.Context) error {
	cs := m.cs
	if err := cs.bbm.Set(m.block, m.sub); err != nil {
		return err
	}
	if _, err := cs.bbt.Set(m.sub, bbt.Reserved); err != nil {
		cs.bbm.Clear(m.block)
		return err
	}
	if err := m.f.persist(cs); err != nil {
		cs.bbm.Clear(m.block)
		_, _ = cs.bbt.Set(m.sub, bbt.Good)
		return err
	}
	m.f.updateFree(cs)
	return nil
}

func (m *mitigation) markSourceBad(context.Context) error {
	cs := m.cs
	if m.f.dist.Recent(m.g) {
		glog.Warningf("chip %d: block %d needs refreshing again, retiring it", cs.index, m.block)
		m.retired = true
	} else {
		m.f.dist.Remember(m.g)
	}
	if _, err := cs.bbt.Set(m.block, bbt.WornBad); err != nil {
		return err
	}
	if err := m.f.persist(cs); err != nil {
		return err
	}
	if m.retired {
		replacements.Inc(cs.label, "retired")
	}
	return nil
}

func (m *mitigation) eraseSource(ctx context.Context) error {
	return m.eraseBlock(ctx, m.block)
}

func (m *mitigation) rewriteSource(ctx context.Context) error {
	return m.writeBlock(ctx, m.block)
}

func (m *mitigation) verifyRewrite(ctx context.Context) error {
	return m.verify(ctx, m.block, true)
}

func (m *mitigation) reclaim(context.Context) error {
	_, err := m.cs.bbt.Set(m.block, bbt.Good)
	return err
}

func (m *mitigation) updateFinal(context.Context) error {
	cs := m.cs
	cs.bbm.Clear(m.block)
	if _, err := cs.bbt.Set(m.sub, bbt.Good); err != nil {
		return err
	}
	if err := m.f.persist(cs); err != nil {
		return err
	}
	m.f.dist.ResetReads(m.g)
	m.f.updateFree(cs)
	return nil
}

// abort leaves the device consistent after a failed step. Up to the
// temporary map update the source is untouched and nothing needs undoing.
// After it, the source is retired and the reserved block keeps serving it.
func (m *mitigation) abort(step Step, err error) {
	cs := m.cs
	glog.Errorf("chip %d: mitigation of block %d aborted at %v: %v", cs.index, m.block, step, err)
	if step <= StepUpdateBbmTemporary {
		return
	}
	if _, ok := cs.bbm.Lookup(m.block); !ok {
		if err := cs.bbm.Set(m.block, m.sub); err != nil {
			glog.Errorf("chip %d: %v", cs.index, err)
			return
		}
	}
	if cs.bbt.Get(m.sub) == bbt.Good {
		_, _ = cs.bbt.Set(m.sub, bbt.Reserved)
	}
	if cs.bbt.Get(m.block) == bbt.Good {
		_, _ = cs.bbt.Set(m.block, bbt.WornBad)
	}
	if err := m.f.persist(cs); err != nil {
		glog.Errorf("chip %d: block %d left retired in memory only: %v", cs.index, m.block, err)
	}
	m.f.updateFree(cs)
	glog.Warningf("chip %d: block %d retired, served by %d", cs.index, m.block, m.sub)
}

// MitigatePending runs Mitigate for every queued block, oldest first, and
// returns the number of blocks refreshed or retired. Queued blocks which
// can no longer be mitigated are skipped.
func (f *FlashCore) MitigatePending(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		g, trig, ok := f.dist.Next()
		if !ok {
			return n, nil
		}
		chip, block := g/f.geo.Blocks, g%f.geo.Blocks
		off := f.offset(f.chips[chip], block)
		err := f.Mitigate(ctx, off, trig)
		switch {
		case errors.Is(err, ErrBadBlock), errors.Is(err, ErrOutOfRange):
			glog.V(1).Infof("chip %d: skipping mitigation of block %d: %v", chip, block, err)
			continue
		case err != nil:
			return n, err
		}
		n++
	}
}
