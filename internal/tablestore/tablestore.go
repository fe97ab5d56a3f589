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

// Package tablestore keeps a small, frequently rewritten record on raw NAND
// in a way which survives power loss at any point.
//
// Two erase blocks are used in turn. Records are appended page by page to
// the active block; when it is full, the other block is erased and becomes
// active. Opening a store scans both blocks and picks the valid record with
// the highest revision, so an interrupted write leaves the previous record
// in force.
package tablestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/glog"
)

// magic0 is the only known record header prefix.
const magic0 = "NBT0"

// headerSize is the on-flash size of a record without data.
const headerSize = 4 + 4 + 8 + 32

// PageDevice describes the two blocks of flash a Store lives in.
type PageDevice interface {
	// PageSize returns the number of data bytes in a page.
	PageSize() int

	// PagesPerBlock returns the number of pages in each block.
	PagesPerBlock() int

	// ReadPage reads page page of block block, which is 0 or 1, into b.
	ReadPage(block, page int, b []byte) error

	// WritePage programs page page of block block from b.
	WritePage(block, page int, b []byte) error

	// EraseBlock erases block block.
	EraseBlock(block int) error
}

// ErrTooLarge is returned by Update for data which does not fit in a block.
var ErrTooLarge = errors.New("record does not fit in a table block")

// Store is a power-loss safe record store. It is not safe for concurrent
// use.
type Store struct {
	dev     PageDevice
	current record
	// active is the block holding current, and next the first page of it
	// which is free to program.
	active int
	next   int
	// fresh is set when nothing is known about the state of the blocks, or
	// the page at next may not be erased. The next Update then starts over
	// on the other block.
	fresh bool
}

// record is one entry in a table block.
type record struct {
	Magic [4]byte
	// Revision is one greater for each successive record.
	Revision uint32
	// DataLen is the length in bytes of Data.
	DataLen uint64
	// DataSHA256 is the SHA256 hash of Data.
	DataSHA256 [32]byte
	Data       []byte
}

// Open returns a store for the blocks of dev, loading the newest valid
// record.
func Open(dev PageDevice) (*Store, error) {
	s := &Store{dev: dev, fresh: true}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// MaxData returns the largest record which Update accepts.
func (s *Store) MaxData() int {
	return s.dev.PageSize()*s.dev.PagesPerBlock() - headerSize
}

// Data returns the data of the newest record, and its revision. A revision
// of zero means nothing has been stored yet.
func (s *Store) Data() ([]byte, uint32) {
	return s.current.Data, s.current.Revision
}

// init scans both blocks for the newest valid record.
func (s *Store) init() error {
	for b := 0; b < 2; b++ {
		page := 0
		for page < s.dev.PagesPerBlock() {
			pr := newPageReader(s.dev, b, page)
			r, err := unmarshalRecord(pr)
			if err != nil {
				glog.V(2).Infof("table block %d page %d: %v", b, page, err)
				break
			}
			page = pr.nextPage()
			if r.Revision == s.current.Revision && r.Revision != 0 {
				return fmt.Errorf("table is corrupt: two records with revision %d", r.Revision)
			}
			if r.Revision > s.current.Revision {
				s.current = *r
				s.active = b
				s.next = page
				s.fresh = false
			}
		}
	}
	if s.fresh {
		return nil
	}
	if s.next < s.dev.PagesPerBlock() {
		erased, err := s.pageErased(s.active, s.next)
		if err != nil || !erased {
			glog.Warningf("table block %d page %d is not erased, will switch blocks", s.active, s.next)
			s.fresh = true
		}
	}
	glog.V(1).Infof("table revision %d in block %d, next page %d", s.current.Revision, s.active, s.next)
	return nil
}

func (s *Store) pageErased(block, page int) (bool, error) {
	buf := make([]byte, s.dev.PageSize())
	if err := s.dev.ReadPage(block, page, buf); err != nil {
		return false, err
	}
	for _, v := range buf {
		if v != 0xff {
			return false, nil
		}
	}
	return true, nil
}

// Update stores data as a new record, one revision on from the current
// one. The current record stays in force if Update fails.
func (s *Store) Update(data []byte) error {
	if len(data) > s.MaxData() {
		return fmt.Errorf("%d bytes: %w", len(data), ErrTooLarge)
	}
	r := record{
		Magic:      [4]byte{magic0[0], magic0[1], magic0[2], magic0[3]},
		Revision:   s.current.Revision + 1,
		DataLen:    uint64(len(data)),
		DataSHA256: sha256.Sum256(data),
		Data:       data,
	}
	buf := &bytes.Buffer{}
	if err := marshalRecord(r, buf); err != nil {
		return fmt.Errorf("failed to marshal record: %v", err)
	}
	ps := s.dev.PageSize()
	pages := (buf.Len() + ps - 1) / ps
	for buf.Len() < pages*ps {
		buf.WriteByte(0xff)
	}

	block, page := s.active, s.next
	if s.fresh || page+pages > s.dev.PagesPerBlock() {
		block, page = 1-s.active, 0
		if s.fresh && s.current.Revision == 0 {
			block = 0
		}
		if err := s.dev.EraseBlock(block); err != nil {
			return fmt.Errorf("failed to erase table block %d: %w", block, err)
		}
		glog.V(1).Infof("table switched to block %d", block)
	}
	b := buf.Bytes()
	for i := 0; i < pages; i++ {
		if err := s.dev.WritePage(block, page+i, b[i*ps:(i+1)*ps]); err != nil {
			// Whatever was programmed must not be appended to.
			s.fresh = true
			return fmt.Errorf("failed to write table block %d page %d: %w", block, page+i, err)
		}
	}
	r.Data = append([]byte(nil), data...)
	s.current = r
	s.active, s.next = block, page+pages
	s.fresh = false
	return nil
}

// unmarshalRecord reads and deserialises a record from the provided reader.
func unmarshalRecord(r io.Reader) (*record, error) {
	e := &record{}
	if err := binary.Read(r, binary.BigEndian, &e.Magic); err != nil {
		return nil, fmt.Errorf("failed to read magic: %v", err)
	}
	if string(e.Magic[:]) != magic0 {
		return nil, fmt.Errorf("invalid header magic %v", e.Magic)
	}
	if err := binary.Read(r, binary.BigEndian, &e.Revision); err != nil {
		return nil, fmt.Errorf("failed to read revision: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &e.DataLen); err != nil {
		return nil, fmt.Errorf("failed to read data length: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &e.DataSHA256); err != nil {
		return nil, fmt.Errorf("failed to read data SHA256: %v", err)
	}
	if e.DataLen > 1<<24 {
		return nil, fmt.Errorf("implausible data length %d", e.DataLen)
	}
	e.Data = make([]byte, e.DataLen)
	if _, err := io.ReadFull(r, e.Data); err != nil {
		return nil, fmt.Errorf("failed to read data: %v", err)
	}
	if h := sha256.Sum256(e.Data); !bytes.Equal(h[:], e.DataSHA256[:]) {
		return nil, fmt.Errorf("incorrect data SHA256 (%x), header claims (%x)", h, e.DataSHA256[:])
	}
	return e, nil
}

// marshalRecord serialises e and writes it to the provided writer.
func marshalRecord(e record, w io.Writer) error {
	if string(e.Magic[:]) != magic0 {
		return fmt.Errorf("invalid header magic %v", e.Magic)
	}
	for _, v := range []any{e.Magic, e.Revision, e.DataLen, e.DataSHA256} {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return fmt.Errorf("failed to write header: %v", err)
		}
	}
	if _, err := w.Write(e.Data); err != nil {
		return fmt.Errorf("failed to write data: %v", err)
	}
	return nil
}

// pageReader provides an io.Reader over consecutive pages of one block.
type pageReader struct {
	dev   PageDevice
	block int
	buf   []byte
	pos   int
}

func newPageReader(dev PageDevice, block, page int) *pageReader {
	return &pageReader{
		dev:   dev,
		block: block,
		buf:   make([]byte, dev.PageSize()),
		pos:   page * dev.PageSize(),
	}
}

// Read implements io.Reader.
func (pr *pageReader) Read(b []byte) (int, error) {
	ps := pr.dev.PageSize()
	if pr.pos >= ps*pr.dev.PagesPerBlock() {
		return 0, io.EOF
	}
	if pr.pos%ps == 0 {
		if err := pr.dev.ReadPage(pr.block, pr.pos/ps, pr.buf); err != nil {
			return 0, err
		}
	}
	l := copy(b, pr.buf[pr.pos%ps:])
	pr.pos += l
	return l, nil
}

// nextPage returns the first page not yet touched by the reader.
func (pr *pageReader) nextPage() int {
	ps := pr.dev.PageSize()
	return (pr.pos + ps - 1) / ps
}
