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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/nandcore/layout"
	"github.com/google/nandcore/transport/memchip"
)

func TestRoundTrip(t *testing.T) {
	geo16 := geo
	geo16.BusWidth16 = true
	for _, test := range []struct {
		name  string
		geo   layout.Geometry
		noEcc bool
	}{
		{name: "ecc", geo: geo},
		{name: "no ecc", geo: geo, noEcc: true},
		{name: "16-bit bus", geo: geo16},
	} {
		t.Run(test.name, func(t *testing.T) {
			opts := testOptions(t)
			opts.Geometry = test.geo
			if test.noEcc {
				opts.Codec = nil
			}
			f := attach(t, memchip.New(test.geo, 1), opts)

			off := pageOff(2, 4)
			want := pattern(3*geo.PageSize, 7)
			n, err := f.Write(context.Background(), off, want)
			if err != nil {
				t.Fatalf("Write(): %v", err)
			}
			if n != len(want) {
				t.Errorf("Write() = %d, want %d", n, len(want))
			}
			got := make([]byte, len(want))
			n, st, err := f.Read(context.Background(), off, got)
			if err != nil {
				t.Fatalf("Read(): %v", err)
			}
			if n != len(want) || !st.Clean() {
				t.Errorf("Read() = %d, %v, want %d, clean", n, st, len(want))
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Got diff: %s", diff)
			}

			// Unaligned reads, including one spanning pages.
			for _, r := range []struct{ start, n int }{{1, 10}, {500, 40}, {1024, 512}, {1300, 3}} {
				if diff := cmp.Diff(want[r.start:r.start+r.n], mustRead(t, f, off+int64(r.start), r.n)); diff != "" {
					t.Errorf("Read(%d, %d): got diff: %s", r.start, r.n, diff)
				}
			}
		})
	}
}

func TestExampleScenario(t *testing.T) {
	c := memchip.New(geo, 1)
	f := attach(t, c, testOptions(t))
	ctx := context.Background()
	off := pageOff(5, 3)
	want := bytes.Repeat([]byte{0xaa}, geo.PageSize)
	mustWrite(t, f, off, want)

	got := make([]byte, geo.PageSize)
	n, st, err := f.Read(ctx, off, got)
	if err != nil || n != geo.PageSize || !st.Clean() {
		t.Fatalf("Read() = %d, %v, %v, want %d, clean, nil", n, st, err, geo.PageSize)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("Read() returned different data")
	}

	c.FlipBit(0, geo.FirstPage(5)+3, 100, 3)
	n, st, err = f.Read(ctx, off, got)
	if err != nil {
		t.Fatalf("Read() with flipped bit: %v", err)
	}
	if diff := cmp.Diff(EccStatus{Corrected: 1}, st); diff != "" || n != geo.PageSize {
		t.Errorf("Read() = %d; got diff: %s", n, diff)
	}
	if !bytes.Equal(got, want) {
		t.Error("Read() with flipped bit returned uncorrected data")
	}

	if err := f.MarkBad(ctx, off); err != nil {
		t.Fatalf("MarkBad(): %v", err)
	}
	bad, err := f.IsBad(ctx, off)
	if err != nil || !bad {
		t.Errorf("IsBad() = %v, %v, want true", bad, err)
	}
	tr, err := f.Translate(ctx, off)
	if err != nil || tr != off {
		t.Errorf("Translate() = %#x, %v, want %#x", tr, err, off)
	}
	if _, _, err := f.Read(ctx, off, got); !errors.Is(err, ErrBadBlock) {
		t.Errorf("Read() of bad block: %v, want ErrBadBlock", err)
	}
	if err := f.Erase(ctx, blockOff(5), geo.BlockSize()); !errors.Is(err, ErrBadBlock) {
		t.Errorf("Erase() of bad block: %v, want ErrBadBlock", err)
	}
}

func TestUncorrectableRead(t *testing.T) {
	c := memchip.New(geo, 1)
	f := attach(t, c, testOptions(t))
	off := pageOff(1, 0)
	want := pattern(2*geo.PageSize, 3)
	mustWrite(t, f, off, want)
	c.FlipBit(0, geo.FirstPage(1), 10, 0)
	c.FlipBit(0, geo.FirstPage(1), 20, 1)

	got := make([]byte, len(want))
	n, st, err := f.Read(context.Background(), off, got)
	if !errors.Is(err, ErrEccUncorrectable) {
		t.Fatalf("Read() = %v, want ErrEccUncorrectable", err)
	}
	var oe *OpError
	if !errors.As(err, &oe) || oe.Offset != off {
		t.Errorf("Read() error %v, want OpError at %#x", err, off)
	}
	if n != len(want) || st.Failed != 1 {
		t.Errorf("Read() = %d, %v, want %d, 1 failed step", n, st, len(want))
	}
	// The read carries on past the failing page.
	if diff := cmp.Diff(want[geo.PageSize:], got[geo.PageSize:]); diff != "" {
		t.Errorf("Got diff: %s", diff)
	}
}

func TestArgumentChecks(t *testing.T) {
	f := attach(t, memchip.New(geo, 1), testOptions(t))
	ctx := context.Background()
	page := make([]byte, geo.PageSize)
	for _, test := range []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{
			name:    "unaligned write",
			op:      func() error { _, err := f.Write(ctx, 1, page); return err },
			wantErr: ErrInvalidArgument,
		}, {
			name:    "short write",
			op:      func() error { _, err := f.Write(ctx, 0, page[:100]); return err },
			wantErr: ErrInvalidArgument,
		}, {
			name:    "unaligned erase",
			op:      func() error { return f.Erase(ctx, int64(geo.PageSize), geo.BlockSize()) },
			wantErr: ErrInvalidArgument,
		}, {
			name:    "unaligned spare",
			op:      func() error { _, err := f.ReadSpare(ctx, 3, make([]byte, 4), SpareAuto); return err },
			wantErr: ErrInvalidArgument,
		}, {
			name:    "negative offset",
			op:      func() error { _, _, err := f.Read(ctx, -1, page); return err },
			wantErr: ErrOutOfRange,
		}, {
			name:    "reserved pool",
			op:      func() error { _, _, err := f.Read(ctx, blockOff(poolStart), page); return err },
			wantErr: ErrOutOfRange,
		}, {
			name:    "read into reserved pool",
			op:      func() error { _, _, err := f.Read(ctx, blockOff(poolStart)-10, page); return err },
			wantErr: ErrOutOfRange,
		}, {
			name:    "beyond device",
			op:      func() error { _, err := f.Write(ctx, geo.ChipSize(), page); return err },
			wantErr: ErrOutOfRange,
		}, {
			name:    "mark table block bad",
			op:      func() error { return f.MarkBad(ctx, blockOff(geo.Blocks-1)) },
			wantErr: ErrOutOfRange,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if err := test.op(); !errors.Is(err, test.wantErr) {
				t.Errorf("got %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestErase(t *testing.T) {
	f := attach(t, memchip.New(geo, 1), testOptions(t))
	mustWrite(t, f, pageOff(3, 0), pattern(geo.PageSize, 1))
	mustWrite(t, f, pageOff(4, 0), pattern(geo.PageSize, 2))
	if err := f.Erase(context.Background(), blockOff(3), 2*geo.BlockSize()); err != nil {
		t.Fatalf("Erase(): %v", err)
	}
	erased := bytes.Repeat([]byte{0xff}, geo.PageSize)
	for _, b := range []int{3, 4} {
		if diff := cmp.Diff(erased, mustRead(t, f, pageOff(b, 0), geo.PageSize)); diff != "" {
			t.Errorf("block %d: got diff: %s", b, diff)
		}
		if got := blockInfo(t, f, blockOff(b)).Erases; got != 1 {
			t.Errorf("block %d: Erases = %d, want 1", b, got)
		}
	}
}

func TestSpare(t *testing.T) {
	for _, mode := range []SpareMode{SpareAuto, SpareRaw} {
		t.Run(mode.String(), func(t *testing.T) {
			f := attach(t, memchip.New(geo, 1), testOptions(t))
			ctx := context.Background()
			sl := f.SpareLen(mode)
			want := pattern(2*sl, 9)
			n, err := f.WriteSpare(ctx, pageOff(2, 6), want, mode)
			if err != nil || n != len(want) {
				t.Fatalf("WriteSpare() = %d, %v, want %d", n, err, len(want))
			}
			got := make([]byte, len(want))
			n, err = f.ReadSpare(ctx, pageOff(2, 6), got, mode)
			if err != nil || n != len(want) {
				t.Fatalf("ReadSpare() = %d, %v, want %d", n, err, len(want))
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Got diff: %s", diff)
			}
			if mode == SpareRaw {
				return
			}
			// Page data is left alone.
			if diff := cmp.Diff(bytes.Repeat([]byte{0xff}, 8), mustRead(t, f, pageOff(2, 6), 8)); diff != "" {
				t.Errorf("page data: got diff: %s", diff)
			}
		})
	}
}

func TestSpareReadsCountTowardsThreshold(t *testing.T) {
	opts := testOptions(t)
	opts.ReadThreshold = 2
	f := attach(t, memchip.New(geo, 1), opts)
	ctx := context.Background()
	p := make([]byte, f.SpareLen(SpareAuto))
	for i := 0; i < 3; i++ {
		if _, err := f.ReadSpare(ctx, blockOff(4), p, SpareAuto); err != nil {
			t.Fatalf("ReadSpare(): %v", err)
		}
	}
	if info := blockInfo(t, f, blockOff(4)); info.Reads != 3 {
		t.Errorf("BlockInfo().Reads = %d, want 3", info.Reads)
	}
	s, err := f.Stats(ctx)
	if err != nil || s.PendingMitigations != 1 {
		t.Errorf("Stats() = %+v, %v, want 1 pending", s, err)
	}
}

func TestWordBusOddSpareSegments(t *testing.T) {
	g := geo
	g.BusWidth16 = true
	g.BadBlockPos = 14
	lay, err := layout.Interleaved(g, 256, 3)
	if err != nil {
		t.Fatalf("Interleaved(): %v", err)
	}
	opts := testOptions(t)
	opts.Geometry = g
	opts.Layout = lay
	f := attach(t, memchip.New(g, 1), opts)
	ctx := context.Background()

	want := pattern(f.SpareLen(SpareAuto), 1)
	if n, err := f.WriteSpare(ctx, pageOff(2, 0), want, SpareAuto); err != nil || n != len(want) {
		t.Fatalf("WriteSpare() = %d, %v, want %d", n, err, len(want))
	}
	got := make([]byte, len(want))
	if n, err := f.ReadSpare(ctx, pageOff(2, 0), got, SpareAuto); err != nil || n != len(want) {
		t.Fatalf("ReadSpare() = %d, %v, want %d", n, err, len(want))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("spare: got diff: %s", diff)
	}

	data := pattern(2*g.PageSize, 3)
	mustWrite(t, f, pageOff(3, 0), data)
	if diff := cmp.Diff(data, mustRead(t, f, pageOff(3, 0), len(data))); diff != "" {
		t.Errorf("data: got diff: %s", diff)
	}
}
