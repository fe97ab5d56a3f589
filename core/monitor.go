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
	"errors"
	"time"

	"github.com/golang/glog"
)

// ThresholdCrossed returns a channel which receives a value when blocks
// have been queued for mitigation.
func (f *FlashCore) ThresholdCrossed() <-chan struct{} {
	return f.dist.Crossed()
}

// Monitor runs queued mitigations whenever blocks are queued, and every
// interval in case a signal was missed. It returns when ctx is done, or
// once the device is detached.
func (f *FlashCore) Monitor(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if f.check() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.ThresholdCrossed():
		case <-t.C:
		}
		n, err := f.MitigatePending(ctx)
		switch {
		case errors.Is(err, ErrDetached):
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case err != nil:
			glog.Warningf("Mitigation failed: %v", err)
		}
		if n > 0 {
			glog.Infof("Mitigated %d block(s)", n)
		}
	}
}
