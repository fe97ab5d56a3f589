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
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/google/nandcore/transport"
)

// ErrDeviceTimeout is returned when a chip does not become ready within the
// allowed time.
var ErrDeviceTimeout = errors.New("timed out waiting for device")

var errBusy = errors.New("device busy")

func newBackOff(timeout time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Microsecond
	bo.MaxInterval = time.Millisecond
	bo.MaxElapsedTime = timeout
	bo.Reset()
	return bo
}

// WaitReady waits for the selected chip to finish a program, erase or reset
// and returns its status register. The ready/busy line is polled if the
// controller has one, then the status register is polled until it reports
// ready. The wait ends only when the chip is ready or timeout has elapsed.
func WaitReady(ops *transport.Ops, timeout time.Duration) (byte, error) {
	var status byte
	op := func() error {
		if ops.Ready != nil && !ops.Ready() {
			return errBusy
		}
		status = ops.Status()
		if status&transport.StatusReady == 0 {
			return errBusy
		}
		return nil
	}
	if err := backoff.Retry(op, newBackOff(timeout)); err != nil {
		glog.Errorf("chip still busy after %v (status %02x)", timeout, status)
		return status, ErrDeviceTimeout
	}
	return status, nil
}

// WaitRead waits for page data to be loaded into the chip's register after
// a read command. Polling the status register would disturb the data
// output, so without a ready/busy line this is a fixed delay.
func WaitRead(ops *transport.Ops, timeout time.Duration) error {
	if ops.Ready == nil {
		time.Sleep(transport.DefaultReadyDelay)
		return nil
	}
	op := func() error {
		if !ops.Ready() {
			return errBusy
		}
		return nil
	}
	if err := backoff.Retry(op, newBackOff(timeout)); err != nil {
		glog.Errorf("chip still busy after read, waited %v", timeout)
		return ErrDeviceTimeout
	}
	return nil
}
