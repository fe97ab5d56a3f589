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

// Package coord serializes access to NAND chips.
//
// Every operation against a chip first acquires it in the State describing
// the operation, and releases it when done. Only a Ready chip can be
// acquired. Chips which share a Controller additionally share a single bus,
// so only one of them may be active at any time.
//
// There is one deliberate exception to mutual exclusion: a mitigation run
// holds its chip in the Mitigating state for its whole duration, and the
// read, write and erase sub-operations it issues re-enter the chip rather
// than waiting for it. This is tied to a token carried in the run's context
// (see WithOwner), so unrelated callers still queue.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// State is the logical state of a chip.
type State int

const (
	Ready State = iota
	Reading
	Writing
	Erasing
	Syncing
	Mitigating
	Suspended
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Reading:
		return "reading"
	case Writing:
		return "writing"
	case Erasing:
		return "erasing"
	case Syncing:
		return "syncing"
	case Mitigating:
		return "mitigating"
	case Suspended:
		return "suspended"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrNotSuspended is returned by Resume for a chip which is not suspended.
var ErrNotSuspended = errors.New("chip is not suspended")

// Controller is the bus shared by one or more chips.
type Controller struct {
	mu     sync.Mutex
	active *Chip
	// wake is closed, and replaced, whenever a chip is released.
	wake chan struct{}
}

// NewController returns an idle controller.
func NewController() *Controller {
	return &Controller{wake: make(chan struct{})}
}

// Chip is the access state of one chip on a Controller.
type Chip struct {
	ctrl  *Controller
	index int
	state State
	owner *owner
}

// NewChip returns a Ready chip attached to ctrl. Index is the chip select
// number used on the bus.
func (c *Controller) NewChip(index int) *Chip {
	return &Chip{ctrl: c, index: index}
}

// Index returns the chip select number.
func (ch *Chip) Index() int {
	return ch.index
}

// State returns the current state of the chip.
func (ch *Chip) State() State {
	ch.ctrl.mu.Lock()
	defer ch.ctrl.mu.Unlock()
	return ch.state
}

type owner struct{}

type ownerKey struct{}

// WithOwner returns a context carrying a fresh mitigation owner token. A
// chip acquired as Mitigating with this context may then be re-acquired in
// any state with the same context without blocking.
func WithOwner(ctx context.Context) context.Context {
	return context.WithValue(ctx, ownerKey{}, &owner{})
}

func ownerFrom(ctx context.Context) *owner {
	o, _ := ctx.Value(ownerKey{}).(*owner)
	return o
}

func noop() {}

// Get blocks until the chip can be acquired in state s, and returns the
// function which releases it. It returns early only if ctx is done.
func (ch *Chip) Get(ctx context.Context, s State) (func(), error) {
	if s == Ready {
		return nil, fmt.Errorf("cannot acquire chip %d as %v", ch.index, s)
	}
	o := ownerFrom(ctx)
	c := ch.ctrl
	for {
		c.mu.Lock()
		switch {
		case ch.state == Mitigating && o != nil && ch.owner == o:
			c.mu.Unlock()
			glog.V(2).Infof("chip %d: %v re-entering mitigation", ch.index, s)
			return noop, nil
		case s == Suspended && ch.state == Suspended:
			c.mu.Unlock()
			return noop, nil
		case ch.state == Ready && (s == Suspended || c.active == nil || c.active == ch):
			// A suspended chip does not hold the bus.
			if s != Suspended {
				c.active = ch
			}
			ch.state = s
			if s == Mitigating {
				ch.owner = o
			}
			c.mu.Unlock()
			glog.V(2).Infof("chip %d: %v", ch.index, s)
			return ch.release, nil
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (ch *Chip) release() {
	c := ch.ctrl
	c.mu.Lock()
	defer c.mu.Unlock()
	ch.releaseLocked()
}

func (ch *Chip) releaseLocked() {
	c := ch.ctrl
	ch.state = Ready
	ch.owner = nil
	if c.active == ch {
		c.active = nil
	}
	close(c.wake)
	c.wake = make(chan struct{})
}

// Suspend waits for the chip to become idle and then holds it Suspended
// until Resume is called. Suspending a suspended chip succeeds immediately.
func (ch *Chip) Suspend(ctx context.Context) error {
	_, err := ch.Get(ctx, Suspended)
	return err
}

// Resume returns a suspended chip to Ready.
func (ch *Chip) Resume() error {
	c := ch.ctrl
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch.state != Suspended {
		return ErrNotSuspended
	}
	ch.releaseLocked()
	return nil
}
