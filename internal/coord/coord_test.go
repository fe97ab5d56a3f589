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

package coord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/nandcore/layout"
	"github.com/google/nandcore/transport"
	"github.com/google/nandcore/transport/memchip"
	"golang.org/x/sync/errgroup"
)

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestGetRelease(t *testing.T) {
	ch := NewController().NewChip(0)
	release, err := ch.Get(context.Background(), Writing)
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if got, want := ch.State(), Writing; got != want {
		t.Errorf("State() = %v, want %v", got, want)
	}
	if _, err := ch.Get(shortCtx(t), Reading); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() while busy: %v, want deadline exceeded", err)
	}
	release()
	if got, want := ch.State(), Ready; got != want {
		t.Errorf("State() after release = %v, want %v", got, want)
	}
	if _, err := ch.Get(context.Background(), Ready); err == nil {
		t.Error("Get(Ready) succeeded, want error")
	}
}

func TestWaitersAreWoken(t *testing.T) {
	ch := NewController().NewChip(0)
	release, err := ch.Get(context.Background(), Erasing)
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	got := make(chan State, 3)
	g, ctx := errgroup.WithContext(context.Background())
	for _, s := range []State{Reading, Writing, Syncing} {
		s := s
		g.Go(func() error {
			r, err := ch.Get(ctx, s)
			if err != nil {
				return err
			}
			got <- ch.State()
			r()
			return nil
		})
	}
	time.Sleep(10 * time.Millisecond)
	release()
	if err := g.Wait(); err != nil {
		t.Fatalf("Get(): %v", err)
	}
	close(got)
	n := 0
	for s := range got {
		n++
		if s == Ready || s == Erasing {
			t.Errorf("waiter observed state %v", s)
		}
	}
	if n != 3 {
		t.Errorf("%d waiters acquired the chip, want 3", n)
	}
}

func TestMitigationReentry(t *testing.T) {
	ch := NewController().NewChip(0)
	ctx := WithOwner(context.Background())
	release, err := ch.Get(ctx, Mitigating)
	if err != nil {
		t.Fatalf("Get(Mitigating): %v", err)
	}
	for _, s := range []State{Reading, Writing, Erasing} {
		r, err := ch.Get(ctx, s)
		if err != nil {
			t.Fatalf("nested Get(%v): %v", s, err)
		}
		r()
		if got, want := ch.State(), Mitigating; got != want {
			t.Errorf("State() after nested %v = %v, want %v", s, got, want)
		}
	}
	// Other callers, including other owners, queue.
	for _, other := range []context.Context{shortCtx(t), WithOwner(shortCtx(t))} {
		if _, err := ch.Get(other, Reading); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Get() by another caller: %v, want deadline exceeded", err)
		}
	}
	release()
	r, err := ch.Get(shortCtx(t), Reading)
	if err != nil {
		t.Fatalf("Get() after mitigation: %v", err)
	}
	r()
}

func TestSuspendResume(t *testing.T) {
	ch := NewController().NewChip(0)
	if err := ch.Resume(); !errors.Is(err, ErrNotSuspended) {
		t.Errorf("Resume() of ready chip: %v, want ErrNotSuspended", err)
	}
	if err := ch.Suspend(context.Background()); err != nil {
		t.Fatalf("Suspend(): %v", err)
	}
	if err := ch.Suspend(shortCtx(t)); err != nil {
		t.Errorf("second Suspend(): %v", err)
	}
	if _, err := ch.Get(shortCtx(t), Reading); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() while suspended: %v, want deadline exceeded", err)
	}
	if err := ch.Resume(); err != nil {
		t.Fatalf("Resume(): %v", err)
	}
	if got, want := ch.State(), Ready; got != want {
		t.Errorf("State() = %v, want %v", got, want)
	}
}

func TestSharedController(t *testing.T) {
	c := NewController()
	a, b := c.NewChip(0), c.NewChip(1)
	release, err := a.Get(context.Background(), Reading)
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if _, err := b.Get(shortCtx(t), Reading); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() of second chip while bus busy: %v, want deadline exceeded", err)
	}
	release()
	r, err := b.Get(shortCtx(t), Writing)
	if err != nil {
		t.Fatalf("Get() of second chip: %v", err)
	}
	r()

	// Suspended chips leave the bus free.
	if err := a.Suspend(context.Background()); err != nil {
		t.Fatalf("Suspend(): %v", err)
	}
	if err := b.Suspend(shortCtx(t)); err != nil {
		t.Errorf("Suspend() of second chip: %v", err)
	}
	for _, ch := range []*Chip{a, b} {
		if err := ch.Resume(); err != nil {
			t.Errorf("Resume(): %v", err)
		}
	}

	// Separate controllers do not contend.
	d := NewController().NewChip(0)
	r, err = a.Get(context.Background(), Reading)
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	defer r()
	r2, err := d.Get(shortCtx(t), Reading)
	if err != nil {
		t.Fatalf("Get() on another controller: %v", err)
	}
	r2()
}

var geo = layout.Geometry{
	PageSize:      512,
	SpareSize:     16,
	PagesPerBlock: 32,
	Blocks:        4,
	BadBlockPos:   5,
}

func TestWaitReady(t *testing.T) {
	for _, test := range []struct {
		name      string
		readyLine bool
		setup     func(c *memchip.Controller)
		wantErr   error
	}{
		{
			name:  "ready",
			setup: func(*memchip.Controller) {},
		}, {
			name:  "busy for a while",
			setup: func(c *memchip.Controller) { c.SetBusyPolls(3) },
		}, {
			name:      "busy for a while with ready line",
			readyLine: true,
			setup:     func(c *memchip.Controller) { c.SetBusyPolls(3) },
		}, {
			name:    "stuck",
			setup:   func(c *memchip.Controller) { c.SetStuckBusy(true) },
			wantErr: ErrDeviceTimeout,
		}, {
			name:      "stuck with ready line",
			readyLine: true,
			setup:     func(c *memchip.Controller) { c.SetStuckBusy(true) },
			wantErr:   ErrDeviceTimeout,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := memchip.New(geo, 1)
			test.setup(c)
			var tr transport.Transport = c
			if test.readyLine {
				tr = memchip.WithReadyLine(c)
			}
			ops := transport.Resolve(tr, false)
			ops.Select(0)
			defer ops.Select(transport.None)
			status, err := WaitReady(ops, 20*time.Millisecond)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("WaitReady(): %v, want %v", err, test.wantErr)
			}
			if err == nil && status&transport.StatusReady == 0 {
				t.Errorf("WaitReady() status %02x without ready bit", status)
			}
		})
	}
}

func TestWaitRead(t *testing.T) {
	c := memchip.New(geo, 1)
	if err := WaitRead(transport.Resolve(c, false), time.Millisecond); err != nil {
		t.Errorf("WaitRead() without ready line: %v", err)
	}
	c.SetStuckBusy(true)
	if err := WaitRead(transport.Resolve(memchip.WithReadyLine(c), false), 5*time.Millisecond); !errors.Is(err, ErrDeviceTimeout) {
		t.Errorf("WaitRead() of stuck chip: %v, want ErrDeviceTimeout", err)
	}
}
