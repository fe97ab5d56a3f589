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

// Package core manages raw NAND flash: page reads and writes protected by
// ECC, bad block tracking and replacement from a reserved pool, and the
// refreshing of blocks at risk from read disturb.
//
// Offsets are byte offsets of page data on the device. Chip c occupies
// [c*ChipSize, (c+1)*ChipSize). Only the first NominalBlocks blocks of each
// chip are available to callers; the rest hold the reserved pool and the
// persisted tables.
//
// Every operation holds the chip it touches for its whole duration, so
// concurrent callers are served one at a time.
package core

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/golang/glog"
	"github.com/google/nandcore/internal/bbm"
	"github.com/google/nandcore/internal/bbt"
	"github.com/google/nandcore/internal/coord"
	"github.com/google/nandcore/internal/disturb"
	"github.com/google/nandcore/internal/pageio"
	"github.com/google/nandcore/internal/tablestore"
	"github.com/google/nandcore/layout"
	"github.com/google/nandcore/transport"
)

// FlashCore manages the chips on one NAND controller.
type FlashCore struct {
	opts  Options
	geo   layout.Geometry
	ops   *transport.Ops
	eng   *pageio.Engine
	ctrl  *coord.Controller
	chips []*chipState
	dist  *disturb.Tracker

	detached atomic.Bool
}

// chipState is everything known about one chip. The tables are only touched
// while acc is held.
type chipState struct {
	index int
	label string
	acc   *coord.Chip
	bbt   *bbt.Table
	bbm   *bbm.Map
	store *tablestore.Store
	// dirty is set when the tables differ from the persisted copy.
	dirty bool

	nominal   int
	poolStart int
}

// Attach takes over the chips behind t. It resets every chip, then loads the
// bad block table and map from flash, or builds them from factory markers
// if there are none yet.
func Attach(t transport.Transport, opts Options) (*FlashCore, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	once.Do(func() { setupMetrics(opts.MetricFactory) })

	geo := opts.Geometry
	ops := transport.Resolve(t, geo.BusWidth16)
	eng, err := pageio.New(ops, geo, opts.Layout, opts.Codec, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to set up page I/O: %v", err)
	}
	if opts.Codec == nil {
		glog.Warning("no ECC configured, page data is unprotected")
	}
	f := &FlashCore{
		opts: opts,
		geo:  geo,
		ops:  ops,
		eng:  eng,
		ctrl: coord.NewController(),
		dist: disturb.New(opts.Chips*geo.Blocks, opts.ReadThreshold, opts.HistorySize),
	}
	for c := 0; c < opts.Chips; c++ {
		cs, err := f.attachChip(c)
		if err != nil {
			return nil, fmt.Errorf("chip %d: %w", c, err)
		}
		f.chips = append(f.chips, cs)
	}
	glog.Infof("attached %d chip(s): %d blocks of %d bytes, %d available, %d reserved", opts.Chips, geo.Blocks, geo.BlockSize(), opts.nominalBlocks(), opts.ReservedBlocks)
	return f, nil
}

func (f *FlashCore) reset(chip int) error {
	f.ops.Select(chip)
	defer f.ops.Select(transport.None)
	f.ops.Command(transport.CmdReset, transport.None, transport.None)
	_, err := coord.WaitReady(f.ops, f.opts.Timeout)
	return err
}

func (f *FlashCore) attachChip(c int) (*chipState, error) {
	if err := f.reset(c); err != nil {
		return nil, fmt.Errorf("reset failed: %w", err)
	}
	nominal := f.opts.nominalBlocks()
	cs := &chipState{
		index:     c,
		label:     strconv.Itoa(c),
		acc:       f.ctrl.NewChip(c),
		nominal:   nominal,
		poolStart: nominal,
	}
	m, err := bbm.New(nominal+f.opts.ReservedBlocks, nominal, f.opts.ReservedBlocks)
	if err != nil {
		return nil, err
	}
	cs.bbm = m

	loaded := false
	if !f.opts.NoTable {
		cs.store, err = tablestore.Open(&tableDev{eng: f.eng, chip: c, first: f.geo.Blocks - tableBlocks})
		if err != nil {
			return nil, fmt.Errorf("failed to open table: %w", err)
		}
		if data, rev := cs.store.Data(); rev > 0 {
			if err := cs.decode(data, f.geo.Blocks); err != nil {
				return nil, fmt.Errorf("failed to load table revision %d: %w", rev, err)
			}
			glog.Infof("chip %d: loaded table revision %d", c, rev)
			loaded = true
		}
	}
	if !loaded {
		cs.bbt, err = bbt.Scan(f.geo.Blocks, func(b int) (bool, error) { return f.eng.FactoryBad(c, b) })
		if err != nil {
			return nil, err
		}
		cs.dirty = true
	}
	cs.dropStale()
	if cs.dirty {
		if err := f.persist(cs); err != nil {
			return nil, err
		}
	}
	f.updateFree(cs)
	return cs, nil
}

// decode loads the tables from their persisted form.
func (cs *chipState) decode(data []byte, blocks int) error {
	t := bbt.New(blocks)
	n := bbt.EncodedLen(blocks)
	if want := n + bbm.EncodedLen(cs.bbm.Len()); len(data) != want {
		return fmt.Errorf("table is %d bytes, want %d", len(data), want)
	}
	if err := t.UnmarshalBinary(data[:n]); err != nil {
		return err
	}
	if err := cs.bbm.UnmarshalBinary(data[n:]); err != nil {
		return err
	}
	cs.bbt = t
	return nil
}

func (cs *chipState) encode() ([]byte, error) {
	t, err := cs.bbt.MarshalBinary()
	if err != nil {
		return nil, err
	}
	m, err := cs.bbm.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(t, m...), nil
}

// dropStale removes substitutions left behind for blocks which are Good,
// and releases reserved blocks which nothing refers to. Both are left by a
// mitigation run which was interrupted before the source block was retired.
func (cs *chipState) dropStale() {
	for b, sub := range cs.bbm.Entries() {
		if cs.bbt.Get(b) == bbt.Good {
			glog.Infof("chip %d: dropping stale substitution %d -> %d", cs.index, b, sub)
			cs.bbm.Clear(b)
			cs.dirty = true
		}
	}
	for b := cs.poolStart; b < cs.poolStart+cs.bbm.PoolSize(); b++ {
		if cs.bbt.Get(b) == bbt.Reserved && !cs.bbm.InUse(b) {
			glog.Infof("chip %d: releasing unused reserved block %d", cs.index, b)
			if _, err := cs.bbt.Set(b, bbt.Good); err == nil {
				cs.dirty = true
			}
		}
	}
}

// persist writes the tables of cs to flash. The chip must be held.
func (f *FlashCore) persist(cs *chipState) error {
	if cs.store == nil {
		cs.dirty = false
		return nil
	}
	data, err := cs.encode()
	if err != nil {
		return err
	}
	if err := cs.store.Update(data); err != nil {
		cs.dirty = true
		glog.Errorf("chip %d: failed to persist tables: %v", cs.index, err)
		return fmt.Errorf("failed to persist tables: %w", err)
	}
	cs.dirty = false
	_, rev := cs.store.Data()
	glog.V(1).Infof("chip %d: persisted table revision %d", cs.index, rev)
	return nil
}

// free returns the number of reserved blocks available as substitutes.
func (cs *chipState) free() int {
	n := 0
	for b := cs.poolStart; b < cs.poolStart+cs.bbm.PoolSize(); b++ {
		if cs.bbt.Get(b) == bbt.Good && !cs.bbm.InUse(b) {
			n++
		}
	}
	return n
}

func (f *FlashCore) updateFree(cs *chipState) {
	free := cs.free()
	freeReserved.Set(float64(free), cs.label)
	if free == 0 && cs.bbm.PoolSize() > 0 {
		glog.Warningf("chip %d: reserved pool exhausted", cs.index)
	}
}

func (f *FlashCore) check() error {
	if f.detached.Load() {
		return ErrDetached
	}
	return nil
}

// Geometry returns the geometry of each chip.
func (f *FlashCore) Geometry() layout.Geometry {
	return f.geo
}

// Chips returns the number of chips.
func (f *FlashCore) Chips() int {
	return len(f.chips)
}

// NominalBlocks returns the number of blocks on each chip which are
// available to callers.
func (f *FlashCore) NominalBlocks() int {
	return f.opts.nominalBlocks()
}

// Size returns the size of the device address space.
func (f *FlashCore) Size() int64 {
	return int64(len(f.chips)) * f.geo.ChipSize()
}

// SpareLen returns the number of spare bytes per page in the given mode.
func (f *FlashCore) SpareLen(mode SpareMode) int {
	return f.eng.SpareLen(mode)
}

// locate returns the chip and chip-relative block containing off, which
// must lie in a chip's nominal area.
func (f *FlashCore) locate(off int64) (*chipState, int, error) {
	if off < 0 || off >= f.Size() {
		return nil, 0, ErrOutOfRange
	}
	c := int(off / f.geo.ChipSize())
	cs := f.chips[c]
	b := f.geo.Block(off - int64(c)*f.geo.ChipSize())
	if b >= cs.nominal {
		return nil, 0, ErrOutOfRange
	}
	return cs, b, nil
}

// checkRange checks that [off, off+n) lies in nominal areas.
func (f *FlashCore) checkRange(off, n int64) error {
	if n < 0 {
		return ErrInvalidArgument
	}
	if _, _, err := f.locate(off); err != nil {
		return err
	}
	if n > 0 {
		if _, _, err := f.locate(off + n - 1); err != nil {
			return err
		}
	}
	return nil
}

// global returns the device-wide index of a chip-relative block.
func (f *FlashCore) global(cs *chipState, block int) int {
	return cs.index*f.geo.Blocks + block
}

// offset returns the device offset of a chip-relative block.
func (f *FlashCore) offset(cs *chipState, block int) int64 {
	return int64(cs.index)*f.geo.ChipSize() + f.geo.BlockOffset(block)
}

// resolve returns the block which currently holds the data of the nominal
// block. The chip must be held.
func (f *FlashCore) resolve(cs *chipState, block int) (int, error) {
	eff, err := cs.bbm.Translate(block, func(b int) bool { return cs.bbt.IsBad(b, true) })
	if err != nil {
		glog.Errorf("chip %d: %v", cs.index, err)
		return 0, err
	}
	if cs.bbt.IsBad(eff, true) {
		return 0, ErrBadBlock
	}
	return eff, nil
}

// Sync waits until every chip is idle.
func (f *FlashCore) Sync(ctx context.Context) error {
	if err := f.check(); err != nil {
		return err
	}
	for _, cs := range f.chips {
		release, err := cs.acc.Get(ctx, coord.Syncing)
		if err != nil {
			return err
		}
		release()
	}
	return nil
}

// Suspend waits until every chip is idle, then holds them all until Resume.
func (f *FlashCore) Suspend(ctx context.Context) error {
	if err := f.check(); err != nil {
		return err
	}
	for i, cs := range f.chips {
		if err := cs.acc.Suspend(ctx); err != nil {
			for _, s := range f.chips[:i] {
				_ = s.acc.Resume()
			}
			return err
		}
	}
	glog.V(1).Info("suspended")
	return nil
}

// Resume releases the chips held by Suspend.
func (f *FlashCore) Resume() error {
	var err error
	for _, cs := range f.chips {
		if rerr := cs.acc.Resume(); rerr != nil {
			err = rerr
		}
	}
	glog.V(1).Info("resumed")
	return err
}

// Detach waits for every chip to become idle, flushes any tables which
// could not be persisted earlier, and releases the device. All later calls
// fail with ErrDetached.
func (f *FlashCore) Detach(ctx context.Context) error {
	if err := f.check(); err != nil {
		return err
	}
	for _, cs := range f.chips {
		release, err := cs.acc.Get(ctx, coord.Syncing)
		if err != nil {
			return err
		}
		if cs.dirty {
			err = f.persist(cs)
		}
		release()
		if err != nil {
			return err
		}
	}
	f.detached.Store(true)
	glog.Infof("detached")
	return nil
}

// tableDev gives a tablestore the last two blocks of a chip.
type tableDev struct {
	eng   *pageio.Engine
	chip  int
	first int
}

func (d *tableDev) PageSize() int {
	return d.eng.Geometry().PageSize
}

func (d *tableDev) PagesPerBlock() int {
	return d.eng.Geometry().PagesPerBlock
}

func (d *tableDev) page(block, page int) int {
	return d.eng.Geometry().FirstPage(d.first+block) + page
}

func (d *tableDev) ReadPage(block, page int, b []byte) error {
	_, err := d.eng.ReadPage(d.chip, d.page(block, page), b, nil, pageio.Auto)
	return err
}

func (d *tableDev) WritePage(block, page int, b []byte) error {
	return d.eng.WritePage(d.chip, d.page(block, page), b, nil, pageio.Auto)
}

func (d *tableDev) EraseBlock(block int) error {
	return d.eng.EraseBlock(d.chip, d.first+block)
}
