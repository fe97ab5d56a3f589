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

package transport

import "time"

// DefaultReadyDelay is how long to wait after a command when the controller
// has no ready/busy line and no status register polling is possible.
const DefaultReadyDelay = 20 * time.Microsecond

// Ops is the capability set of a Transport, resolved once when a chip is
// attached. The buffer helpers honour the bus width.
type Ops struct {
	T Transport

	// Ready is nil if the controller has no ready/busy line, in which case
	// callers fall back to polling the status register.
	Ready func() bool

	bus16 bool
	words WordTransport
}

// Resolve inspects t for optional capabilities.
func Resolve(t Transport, bus16 bool) *Ops {
	o := &Ops{
		T:     t,
		bus16: bus16,
	}
	if rc, ok := t.(ReadyChecker); ok {
		o.Ready = rc.DeviceReady
	}
	if wt, ok := t.(WordTransport); ok && bus16 {
		o.words = wt
	}
	return o
}

// Bus16 reports whether transfers are made in 16-bit words.
func (o *Ops) Bus16() bool {
	return o.bus16
}

// Select forwards to the transport.
func (o *Ops) Select(chip int) {
	o.T.Select(chip)
}

// Command forwards to the transport.
func (o *Ops) Command(cmd byte, column, page int) {
	o.T.Command(cmd, column, page)
}

// Status issues a status command and returns the status register. It does
// not wait for the chip to become ready.
func (o *Ops) Status() byte {
	o.T.Command(CmdStatus, None, None)
	return o.T.Read8()
}

// ReadBuf fills p from the data bus.
func (o *Ops) ReadBuf(p []byte) {
	if o.words == nil {
		o.T.ReadBuf(p)
		return
	}
	for i := 0; i < len(p); i += 2 {
		w := o.words.Read16()
		p[i] = byte(w)
		if i+1 < len(p) {
			p[i+1] = byte(w >> 8)
		}
	}
}

// WriteBuf writes p to the data bus.
func (o *Ops) WriteBuf(p []byte) {
	if o.words == nil {
		o.T.WriteBuf(p)
		return
	}
	for i := 0; i < len(p); i += 2 {
		w := uint16(p[i]) | 0xff00
		if i+1 < len(p) {
			w = uint16(p[i]) | uint16(p[i+1])<<8
		}
		o.words.Write16(w)
	}
}
