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

package layout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

var small = Geometry{
	PageSize:      512,
	SpareSize:     16,
	PagesPerBlock: 32,
	Blocks:        64,
	BadBlockPos:   5,
}

func TestGeometryValidate(t *testing.T) {
	for _, test := range []struct {
		name    string
		geo     Geometry
		wantErr bool
	}{
		{
			name: "small page",
			geo:  small,
		}, {
			name: "page not power of two",
			geo: Geometry{
				PageSize:      768,
				SpareSize:     16,
				PagesPerBlock: 32,
				Blocks:        4,
			},
			wantErr: true,
		}, {
			name: "marker outside spare",
			geo: Geometry{
				PageSize:      512,
				SpareSize:     16,
				PagesPerBlock: 32,
				Blocks:        4,
				BadBlockPos:   16,
			},
			wantErr: true,
		}, {
			name:    "zero blocks",
			geo:     Geometry{PageSize: 512, SpareSize: 16, PagesPerBlock: 32},
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := test.geo.Validate()
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Validate(): %v, wantErr %t", err, test.wantErr)
			}
		})
	}
}

func TestGeometryAddressing(t *testing.T) {
	if got, want := small.BlockSize(), int64(512*32); got != want {
		t.Errorf("BlockSize() = %d, want %d", got, want)
	}
	if got, want := small.ChipSize(), int64(512*32*64); got != want {
		t.Errorf("ChipSize() = %d, want %d", got, want)
	}
	off := small.BlockOffset(5) + 3*512 + 100
	if got, want := small.Block(off), 5; got != want {
		t.Errorf("Block(%d) = %d, want %d", off, got, want)
	}
	if got, want := small.Page(off), 5*32+3; got != want {
		t.Errorf("Page(%d) = %d, want %d", off, got, want)
	}
	if got, want := small.PageAddrBits(), 11; got != want {
		t.Errorf("PageAddrBits() = %d, want %d", got, want)
	}
}

func TestSmallPage16(t *testing.T) {
	l := SmallPage16(small)
	if err := l.Validate(small); err != nil {
		t.Fatalf("Validate(): %v", err)
	}
	want := []Segment{
		{Kind: Data, Len: 512},
		{Kind: Ecc, Len: 4},
		{Kind: Free, Len: 2},
		{Kind: Ecc, Len: 2},
		{Kind: Free, Len: 8},
	}
	if diff := cmp.Diff(l.Segments, want); diff != "" {
		t.Errorf("Got diff: %s", diff)
	}
	if got, want := l.FreeBytes(), 8; got != want {
		t.Errorf("FreeBytes() = %d, want %d", got, want)
	}
}

func TestInterleaved(t *testing.T) {
	l, err := Interleaved(small, 256, 3)
	if err != nil {
		t.Fatalf("Interleaved(): %v", err)
	}
	if err := l.Validate(small); err != nil {
		t.Fatalf("Validate(): %v", err)
	}
	want := []Segment{
		{Kind: Data, Len: 256},
		{Kind: Ecc, Len: 3},
		{Kind: Data, Len: 256},
		{Kind: Ecc, Len: 3},
		{Kind: Free, Len: 10},
	}
	if diff := cmp.Diff(l.Segments, want); diff != "" {
		t.Errorf("Got diff: %s", diff)
	}
	if diff := cmp.Diff(l.EccPos, []int{0, 1, 2, 3, 4, 5}); diff != "" {
		t.Errorf("Got EccPos diff: %s", diff)
	}
	// The marker at 5 is an ecc byte here, so all remaining bytes are free.
	if diff := cmp.Diff(l.Free, []Range{{Offset: 6, Length: 10}}); diff != "" {
		t.Errorf("Got Free diff: %s", diff)
	}
}

func TestSpareColumns(t *testing.T) {
	l, err := Interleaved(small, 256, 3)
	if err != nil {
		t.Fatalf("Interleaved(): %v", err)
	}
	cols := l.SpareColumns()
	if got, want := len(cols), small.SpareSize; got != want {
		t.Fatalf("len(SpareColumns()) = %d, want %d", got, want)
	}
	want := []int{256, 257, 258, 515, 516, 517, 518}
	if diff := cmp.Diff(cols[:7], want); diff != "" {
		t.Errorf("Got diff: %s", diff)
	}
	if got, want := SmallPage16(small).SpareColumns()[15], 527; got != want {
		t.Errorf("SmallPage16 column of spare byte 15 = %d, want %d", got, want)
	}
}

func TestLayoutValidateRejects(t *testing.T) {
	for _, test := range []struct {
		name string
		l    *OobLayout
	}{
		{
			name: "free overlaps ecc",
			l:    Simple(small, []int{0, 1, 2, 3, 6, 7}, []Range{{Offset: 6, Length: 4}}),
		}, {
			name: "short spare",
			l: &OobLayout{
				Segments: []Segment{{Kind: Data, Len: 512}, {Kind: Free, Len: 8}},
			},
		}, {
			name: "ecc positions disagree with segments",
			l: &OobLayout{
				Segments: []Segment{{Kind: Data, Len: 512}, {Kind: Ecc, Len: 3}, {Kind: Free, Len: 13}},
				EccPos:   []int{0, 1, 3},
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if err := test.l.Validate(small); err == nil {
				t.Fatal("Validate() succeeded, want error")
			}
		})
	}
}

func TestNoEccExcludesMarker(t *testing.T) {
	l := NoEcc(small)
	if err := l.Validate(small); err != nil {
		t.Fatalf("Validate(): %v", err)
	}
	want := []Range{{Offset: 0, Length: 5}, {Offset: 6, Length: 10}}
	if diff := cmp.Diff(l.Free, want); diff != "" {
		t.Errorf("Got diff: %s", diff)
	}
}

func TestAlignRange(t *testing.T) {
	for _, test := range []struct {
		pos, n         int
		bus16          bool
		wantPos, wantN int
	}{
		{pos: 3, n: 5, bus16: false, wantPos: 3, wantN: 5},
		{pos: 2, n: 4, bus16: true, wantPos: 2, wantN: 4},
		{pos: 3, n: 4, bus16: true, wantPos: 2, wantN: 6},
		{pos: 2, n: 3, bus16: true, wantPos: 2, wantN: 4},
		{pos: 3, n: 3, bus16: true, wantPos: 2, wantN: 4},
	} {
		gotPos, gotN := AlignRange(test.pos, test.n, test.bus16)
		if gotPos != test.wantPos || gotN != test.wantN {
			t.Errorf("AlignRange(%d, %d, %t) = (%d, %d), want (%d, %d)", test.pos, test.n, test.bus16, gotPos, gotN, test.wantPos, test.wantN)
		}
	}
}
