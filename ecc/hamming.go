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

package ecc

import (
	"fmt"
	"math/bits"
)

// hammingCodeSize is the number of code bytes produced per step.
const hammingCodeSize = 3

// Hamming is the software single-error-correcting, double-error-detecting
// code traditionally used with small page NAND.
//
// For every address bit of the byte index (the "line") and of the bit
// position within a byte (the "column") the code holds a pair of parity
// bits: one over the entries where the address bit is clear, one over the
// entries where it is set. A single flipped data bit therefore flips exactly
// one bit of every pair, and the set bits spell out its address.
//
// Codes are stored inverted so that erased (all 0xff) data has an all 0xff
// code, and freshly erased pages verify clean.
type Hamming struct {
	step     int
	lineBits int
	mask     uint32
}

// NewHamming returns a Hamming codec for steps of 256 or 512 bytes.
func NewHamming(step int) (*Hamming, error) {
	var lineBits int
	switch step {
	case 256:
		lineBits = 8
	case 512:
		lineBits = 9
	default:
		return nil, fmt.Errorf("unsupported hamming step size %d (want 256 or 512)", step)
	}
	return &Hamming{
		step:     step,
		lineBits: lineBits,
		mask:     1<<(2*(lineBits+3)) - 1,
	}, nil
}

// StepSize implements Codec.
func (h *Hamming) StepSize() int {
	return h.step
}

// CodeSize implements Codec.
func (h *Hamming) CodeSize() int {
	return hammingCodeSize
}

// parity returns the non-inverted parity pairs for data.
func (h *Hamming) parity(data []byte) uint32 {
	// lineAcc is the XOR of the indices of all bytes with odd parity, which
	// gives the "set" half of every line pair directly; the "clear" half
	// follows from the overall parity.
	var lineAcc, oddBytes int
	var col byte
	for i, b := range data[:h.step] {
		col ^= b
		if bits.OnesCount8(b)&1 == 1 {
			lineAcc ^= i
			oddBytes ^= 1
		}
	}
	var v uint32
	for j := 0; j < h.lineBits; j++ {
		set := uint32(lineAcc>>j) & 1
		v |= (uint32(oddBytes) ^ set) << (2 * j)
		v |= set << (2*j + 1)
	}
	colAcc, oddBits := 0, bits.OnesCount8(col)&1
	for b := 0; b < 8; b++ {
		if col&(1<<b) != 0 {
			colAcc ^= b
		}
	}
	for c := 0; c < 3; c++ {
		set := uint32(colAcc>>c) & 1
		pos := 2 * (h.lineBits + c)
		v |= (uint32(oddBits) ^ set) << pos
		v |= set << (pos + 1)
	}
	return v
}

// Calculate implements Codec.
func (h *Hamming) Calculate(data, code []byte) {
	v := ^h.parity(data)
	code[0] = byte(v)
	code[1] = byte(v >> 8)
	code[2] = byte(v >> 16)
}

// Correct implements Codec.
func (h *Hamming) Correct(data, stored, calc []byte) Result {
	s := (le24(stored) ^ le24(calc)) & h.mask
	if s == 0 {
		return NoError
	}
	pairs := uint32(0x555555) & h.mask
	if (s^(s>>1))&pairs == pairs {
		var byteIdx, bit int
		for j := 0; j < h.lineBits; j++ {
			byteIdx |= int(s>>(2*j+1)&1) << j
		}
		for c := 0; c < 3; c++ {
			bit |= int(s>>(2*(h.lineBits+c)+1)&1) << c
		}
		data[byteIdx] ^= 1 << bit
		return Corrected(1)
	}
	if bits.OnesCount32(s) == 1 {
		// The error is in the stored code itself; the data is good.
		return Corrected(1)
	}
	return Uncorrectable
}

func le24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
