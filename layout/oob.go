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
	"fmt"
	"sort"
)

// Kind identifies what a Segment of a physical page holds.
type Kind int

const (
	// Data segments hold main page data.
	Data Kind = iota
	// Ecc segments hold ECC code bytes.
	Ecc
	// Free segments hold spare bytes not used for ECC.
	Free
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Data:
		return "data"
	case Ecc:
		return "ecc"
	case Free:
		return "free"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Segment is a run of bytes of a single Kind within a physical page.
type Segment struct {
	Kind Kind
	Len  int
}

// Range is a contiguous run of bytes within the spare area.
type Range struct {
	Offset int
	Length int
}

// OobLayout describes the order in which data and spare bytes are laid out
// in a physical page, and which spare bytes carry ECC codes and which are
// available to users.
type OobLayout struct {
	// Segments lists every byte of the physical page, data and spare, in
	// transfer order. Spare bytes are numbered in the order in which they
	// appear here.
	Segments []Segment
	// EccPos holds, in ascending order, the spare offsets of ECC code bytes.
	// The codes for successive ECC steps occupy successive groups of
	// positions.
	EccPos []int
	// Free lists the spare bytes which are available to users
	// ("autoplacement"). This excludes the factory bad block marker.
	Free []Range
}

// FreeBytes returns the total number of user-available spare bytes.
func (l *OobLayout) FreeBytes() int {
	n := 0
	for _, r := range l.Free {
		n += r.Length
	}
	return n
}

// Validate checks that the layout is self-consistent and fits geo.
func (l *OobLayout) Validate(geo Geometry) error {
	var data int
	var ecc []int
	spare := 0
	for _, s := range l.Segments {
		if s.Len <= 0 {
			return fmt.Errorf("invalid layout: %v segment of length %d", s.Kind, s.Len)
		}
		switch s.Kind {
		case Data:
			data += s.Len
		case Ecc:
			for i := 0; i < s.Len; i++ {
				ecc = append(ecc, spare+i)
			}
			spare += s.Len
		case Free:
			spare += s.Len
		default:
			return fmt.Errorf("invalid layout: unknown segment kind %v", s.Kind)
		}
	}
	if data != geo.PageSize {
		return fmt.Errorf("invalid layout: data segments cover %d bytes, page has %d", data, geo.PageSize)
	}
	if spare != geo.SpareSize {
		return fmt.Errorf("invalid layout: spare segments cover %d bytes, spare area has %d", spare, geo.SpareSize)
	}
	if len(ecc) != len(l.EccPos) {
		return fmt.Errorf("invalid layout: %d ecc positions but ecc segments cover %d bytes", len(l.EccPos), len(ecc))
	}
	for i, p := range l.EccPos {
		if p != ecc[i] {
			return fmt.Errorf("invalid layout: ecc position %d is %d, ecc segments place it at %d", i, p, ecc[i])
		}
	}
	isEcc := make(map[int]bool, len(l.EccPos))
	for _, p := range l.EccPos {
		isEcc[p] = true
	}
	for _, r := range l.Free {
		if r.Offset < 0 || r.Length <= 0 || r.Offset+r.Length > geo.SpareSize {
			return fmt.Errorf("invalid layout: free range %+v outside spare area", r)
		}
		for i := r.Offset; i < r.Offset+r.Length; i++ {
			if isEcc[i] {
				return fmt.Errorf("invalid layout: free range %+v overlaps ecc byte %d", r, i)
			}
		}
	}
	return nil
}

// Simple returns the layout of a chip which transfers the whole page of
// data followed by the whole spare area, with ECC codes at eccPos and user
// bytes in free.
func Simple(geo Geometry, eccPos []int, free []Range) *OobLayout {
	pos := append([]int(nil), eccPos...)
	sort.Ints(pos)
	isEcc := make(map[int]bool, len(pos))
	for _, p := range pos {
		isEcc[p] = true
	}
	l := &OobLayout{
		Segments: []Segment{{Kind: Data, Len: geo.PageSize}},
		EccPos:   pos,
		Free:     append([]Range(nil), free...),
	}
	for i := 0; i < geo.SpareSize; i++ {
		k := Free
		if isEcc[i] {
			k = Ecc
		}
		l.appendRun(k, 1)
	}
	return l
}

// Interleaved returns a syndrome-style layout in which each ECC step of data
// is immediately followed by its code. The spare bytes which remain after
// the last code are free, except for the bad block marker.
func Interleaved(geo Geometry, step, codeSize int) (*OobLayout, error) {
	if step <= 0 || geo.PageSize%step != 0 {
		return nil, fmt.Errorf("page size %d is not a multiple of ecc step %d", geo.PageSize, step)
	}
	steps := geo.PageSize / step
	if steps*codeSize > geo.SpareSize {
		return nil, fmt.Errorf("%d ecc steps of %d code bytes do not fit in %d spare bytes", steps, codeSize, geo.SpareSize)
	}
	l := &OobLayout{}
	spare := 0
	for i := 0; i < steps; i++ {
		l.appendRun(Data, step)
		l.appendRun(Ecc, codeSize)
		for j := 0; j < codeSize; j++ {
			l.EccPos = append(l.EccPos, spare+j)
		}
		spare += codeSize
	}
	if rest := geo.SpareSize - spare; rest > 0 {
		l.appendRun(Free, rest)
		l.Free = freeExcluding(spare, rest, geo.BadBlockPos, markerLen(geo))
	}
	return l, nil
}

// SmallPage16 returns the conventional layout for 512 byte pages with a 16
// byte spare area and two 256 byte Hamming steps.
func SmallPage16(geo Geometry) *OobLayout {
	return Simple(geo, []int{0, 1, 2, 3, 6, 7}, []Range{{Offset: 8, Length: 8}})
}

// LargePage64 returns the conventional layout for 2048 byte pages with a 64
// byte spare area and eight 256 byte Hamming steps.
func LargePage64(geo Geometry) *OobLayout {
	pos := make([]int, 0, 24)
	for i := 40; i < 64; i++ {
		pos = append(pos, i)
	}
	return Simple(geo, pos, []Range{{Offset: 2, Length: 38}})
}

// NoEcc returns a layout without ECC bytes. Writing through it is a
// degraded mode.
func NoEcc(geo Geometry) *OobLayout {
	return Simple(geo, nil, freeExcluding(0, geo.SpareSize, geo.BadBlockPos, markerLen(geo)))
}

func (l *OobLayout) appendRun(k Kind, n int) {
	if last := len(l.Segments) - 1; last >= 0 && l.Segments[last].Kind == k && k != Data {
		l.Segments[last].Len += n
		return
	}
	l.Segments = append(l.Segments, Segment{Kind: k, Len: n})
}

func markerLen(geo Geometry) int {
	if geo.BusWidth16 {
		return 2
	}
	return 1
}

// freeExcluding returns [off, off+n) minus the marker bytes.
func freeExcluding(off, n, marker, mlen int) []Range {
	var r []Range
	end := off + n
	if marker+mlen <= off || marker >= end {
		return []Range{{Offset: off, Length: n}}
	}
	if marker > off {
		r = append(r, Range{Offset: off, Length: marker - off})
	}
	if m := marker + mlen; m < end {
		r = append(r, Range{Offset: m, Length: end - m})
	}
	return r
}

// AlignRange widens the spare range [pos, pos+n) so that it starts and ends
// on a word boundary when the chip has a 16-bit bus: an odd start is moved
// back by one byte, and an odd length is extended by one.
func AlignRange(pos, n int, bus16 bool) (int, int) {
	if !bus16 {
		return pos, n
	}
	if pos&1 != 0 {
		pos--
		n++
	}
	if n&1 != 0 {
		n++
	}
	return pos, n
}

// SpareColumns returns, for each spare offset, the physical column at which
// that byte is transferred.
func (l *OobLayout) SpareColumns() []int {
	var cols []int
	col := 0
	for _, s := range l.Segments {
		if s.Kind != Data {
			for i := 0; i < s.Len; i++ {
				cols = append(cols, col+i)
			}
		}
		col += s.Len
	}
	return cols
}
