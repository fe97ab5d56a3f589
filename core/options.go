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
	"fmt"
	"time"

	"github.com/google/nandcore/ecc"
	"github.com/google/nandcore/internal/bbt"
	"github.com/google/nandcore/internal/disturb"
	"github.com/google/nandcore/internal/pageio"
	"github.com/google/nandcore/layout"
	"github.com/google/trillian/monitoring"
)

// DefaultTimeout bounds every wait for a chip to become ready, unless
// Options.Timeout says otherwise.
const DefaultTimeout = 50 * time.Millisecond

// tableBlocks is the number of blocks at the end of each chip holding the
// persisted bad block table and map.
const tableBlocks = 2

// SpareMode selects how spare bytes are exchanged with callers.
type SpareMode = pageio.SpareMode

const (
	// SpareAuto exposes only the free spare bytes, packed together.
	SpareAuto = pageio.Auto
	// SpareRaw exposes the whole spare area, ECC bytes included.
	SpareRaw = pageio.Raw
)

// BlockState is the bad block table state of a block.
type BlockState = bbt.State

const (
	Good       = bbt.Good
	WornBad    = bbt.WornBad
	Reserved   = bbt.Reserved
	FactoryBad = bbt.FactoryBad
)

// Trigger is the reason for a mitigation run.
type Trigger = disturb.Trigger

const (
	TriggerBitFlip   = disturb.BitFlip
	TriggerReadCount = disturb.ReadCount
	TriggerManual    = disturb.Manual
)

// Options configures a FlashCore.
type Options struct {
	// Geometry describes each chip.
	Geometry layout.Geometry
	// Chips is the number of chips on the controller. Zero means one.
	Chips int
	// Layout describes the spare area. If nil, a conventional layout is
	// chosen for the geometry and codec.
	Layout *layout.OobLayout
	// Codec protects page data. If nil, pages are written without ECC.
	Codec ecc.Codec

	// ReservedBlocks is the size of the reserved pool on each chip. The pool
	// directly precedes the table blocks at the end of the chip.
	ReservedBlocks int
	// NoTable disables the persisted bad block table. The table is then
	// rebuilt from factory markers at every attach, and MarkBad writes a
	// marker into the block itself.
	NoTable bool

	// ReadThreshold is the number of reads after which a block is queued
	// for mitigation. Zero disables count-triggered mitigation.
	ReadThreshold uint32
	// HistorySize is the number of recently mitigated blocks remembered. A
	// block needing mitigation again while still remembered is retired.
	HistorySize int
	// AutoReplace substitutes a reserved block for one which fails to
	// program or erase, and retries the operation there.
	AutoReplace bool

	// Timeout bounds every wait for a chip to become ready.
	Timeout time.Duration

	// MetricFactory creates the metrics exported by this package. It is
	// used by the first Attach only.
	MetricFactory monitoring.MetricFactory

	// StepHook, if set, is called after each mitigation step completes. If
	// it returns an error, the mitigation stops at once, without any
	// cleanup, and Mitigate returns that error.
	StepHook func(off int64, step Step) error
}

func (o Options) withDefaults() (Options, error) {
	if err := o.Geometry.Validate(); err != nil {
		return o, err
	}
	if o.Chips == 0 {
		o.Chips = 1
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MetricFactory == nil {
		o.MetricFactory = monitoring.InertMetricFactory{}
	}
	if o.Chips < 0 || o.ReservedBlocks < 0 || o.HistorySize < 0 {
		return o, fmt.Errorf("invalid options: negative chips, reserved blocks or history size")
	}
	if o.nominalBlocks() <= 0 {
		return o, fmt.Errorf("invalid options: %d blocks leave no room for callers after %d reserved and %d table blocks", o.Geometry.Blocks, o.ReservedBlocks, o.tableBlocks())
	}
	if o.Layout == nil {
		l, err := defaultLayout(o.Geometry, o.Codec)
		if err != nil {
			return o, err
		}
		o.Layout = l
	}
	return o, nil
}

func (o Options) tableBlocks() int {
	if o.NoTable {
		return 0
	}
	return tableBlocks
}

func (o Options) nominalBlocks() int {
	return o.Geometry.Blocks - o.ReservedBlocks - o.tableBlocks()
}

// defaultLayout picks the conventional layout for well known page sizes,
// and an interleaved one otherwise.
func defaultLayout(geo layout.Geometry, codec ecc.Codec) (*layout.OobLayout, error) {
	switch {
	case codec == nil:
		return layout.NoEcc(geo), nil
	case geo.PageSize == 512 && geo.SpareSize == 16 && codec.StepSize() == 256 && codec.CodeSize() == 3:
		return layout.SmallPage16(geo), nil
	case geo.PageSize == 2048 && geo.SpareSize == 64 && codec.StepSize() == 256 && codec.CodeSize() == 3:
		return layout.LargePage64(geo), nil
	}
	return layout.Interleaved(geo, codec.StepSize(), codec.CodeSize())
}
