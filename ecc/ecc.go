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

// Package ecc provides the error correcting codes used to protect NAND page
// data, and the contract through which chip-specific hardware ECC engines
// are plugged in.
package ecc

import "fmt"

// Result describes the outcome of checking one ECC step.
type Result struct {
	// Corrected is the number of bit errors which were fixed.
	Corrected int
	// Uncorrectable is set if the step contains more errors than the code
	// is able to repair. The data is left as it was read.
	Uncorrectable bool
}

// NoError is the Result for a step which read back exactly as written.
var NoError = Result{}

// Uncorrectable is the Result for a step whose errors cannot be repaired.
var Uncorrectable = Result{Uncorrectable: true}

// Corrected returns the Result for a step in which n bits were repaired.
func Corrected(n int) Result {
	return Result{Corrected: n}
}

// String implements fmt.Stringer.
func (r Result) String() string {
	switch {
	case r.Uncorrectable:
		return "uncorrectable"
	case r.Corrected > 0:
		return fmt.Sprintf("corrected(%d)", r.Corrected)
	default:
		return "ok"
	}
}

// Codec computes and checks the ECC over fixed-size chunks of page data.
type Codec interface {
	// StepSize returns the number of data bytes covered by one code.
	StepSize() int

	// CodeSize returns the number of bytes in one code.
	CodeSize() int

	// Calculate computes the code for data, which must be exactly StepSize
	// bytes long, and stores it in code.
	Calculate(data, code []byte)

	// Correct compares the code stored alongside data with the code
	// recalculated from it after reading. Correctable errors are repaired
	// in data before returning.
	Correct(data, stored, calc []byte) Result
}

// Enabler is implemented by codecs which must be armed before each page is
// transferred. Enable is called once per page: before codes are calculated
// for a write, and before the page is read from the chip.
type Enabler interface {
	Enable(write bool)
}

// Engine is implemented by chip-specific ECC hardware.
type Engine interface {
	// Enable prepares the engine for a transfer in the given direction;
	// write is false for reads.
	Enable(write bool)
	// Calculate reads back the code computed by the hardware for data,
	// one step of the page armed by the last Enable.
	Calculate(data, code []byte)
	// Correct applies the hardware's correction algorithm.
	Correct(data, stored, calc []byte) Result
}

// Hardware adapts an Engine to the Codec contract. It implements Enabler.
type Hardware struct {
	Engine Engine
	Step   int
	Bytes  int
}

// Enable implements Enabler.
func (h *Hardware) Enable(write bool) {
	h.Engine.Enable(write)
}

// StepSize implements Codec.
func (h *Hardware) StepSize() int {
	return h.Step
}

// CodeSize implements Codec.
func (h *Hardware) CodeSize() int {
	return h.Bytes
}

// Calculate implements Codec.
func (h *Hardware) Calculate(data, code []byte) {
	h.Engine.Calculate(data, code)
}

// Correct implements Codec.
func (h *Hardware) Correct(data, stored, calc []byte) Result {
	return h.Engine.Correct(data, stored, calc)
}
