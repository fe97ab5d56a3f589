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

	"github.com/google/nandcore/internal/bbt"
	"github.com/google/nandcore/internal/coord"
)

// BlockInfo describes one block.
type BlockInfo struct {
	// Offset is the device offset of the block.
	Offset int64 `json:"offset"`
	Chip   int   `json:"chip"`
	// Block is the index of the block on its chip.
	Block int        `json:"block"`
	State BlockState `json:"state"`
	// Substitute is the block holding the data of this one, or -1.
	Substitute int    `json:"substitute"`
	Reads      uint32 `json:"reads"`
	Erases     uint32 `json:"erases"`
}

// ChipStats summarises the blocks of one chip.
type ChipStats struct {
	Chip          int    `json:"chip"`
	NominalBlocks int    `json:"nominal_blocks"`
	Good          int    `json:"good"`
	WornBad       int    `json:"worn_bad"`
	FactoryBad    int    `json:"factory_bad"`
	Reserved      int    `json:"reserved"`
	Substituted   int    `json:"substituted"`
	FreeReserved  int    `json:"free_reserved"`
	TableRevision uint32 `json:"table_revision"`
}

// Stats summarises the device.
type Stats struct {
	Chips []ChipStats `json:"chips"`
	// PendingMitigations is the number of blocks queued for mitigation.
	PendingMitigations int `json:"pending_mitigations"`
}

// BlockInfo returns what is known about the block containing off.
func (f *FlashCore) BlockInfo(ctx context.Context, off int64) (BlockInfo, error) {
	if err := f.check(); err != nil {
		return BlockInfo{}, err
	}
	cs, block, err := f.locate(off)
	if err != nil {
		return BlockInfo{}, opError("block info", off, err)
	}
	info := BlockInfo{
		Offset:     f.offset(cs, block),
		Chip:       cs.index,
		Block:      block,
		Substitute: -1,
	}
	err = f.withChip(ctx, cs, coord.Reading, func() error {
		info.State = cs.bbt.Get(block)
		if sub, ok := cs.bbm.Lookup(block); ok {
			info.Substitute = sub
		}
		return nil
	})
	if err != nil {
		return BlockInfo{}, err
	}
	info.Reads, info.Erases = f.dist.Counts(f.global(cs, block))
	return info, nil
}

// Stats returns a summary of the device.
func (f *FlashCore) Stats(ctx context.Context) (Stats, error) {
	if err := f.check(); err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, cs := range f.chips {
		err := f.withChip(ctx, cs, coord.Reading, func() error {
			c := ChipStats{
				Chip:          cs.index,
				NominalBlocks: cs.nominal,
				Good:          cs.bbt.Count(bbt.Good),
				WornBad:       cs.bbt.Count(bbt.WornBad),
				FactoryBad:    cs.bbt.Count(bbt.FactoryBad),
				Reserved:      cs.bbt.Count(bbt.Reserved),
				Substituted:   len(cs.bbm.Entries()),
				FreeReserved:  cs.free(),
			}
			if cs.store != nil {
				_, c.TableRevision = cs.store.Data()
			}
			s.Chips = append(s.Chips, c)
			return nil
		})
		if err != nil {
			return Stats{}, err
		}
	}
	s.PendingMitigations = f.dist.Pending()
	return s, nil
}
