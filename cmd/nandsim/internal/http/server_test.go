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

package http_test

//go:generate mockgen -write_package_comment=false -self_package github.com/google/nandcore/cmd/nandsim/internal/http_test -package http_test -destination mock_device_test.go github.com/google/nandcore/cmd/nandsim/internal/http Device

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/nandcore/cmd/nandsim/internal/http"
	"github.com/google/nandcore/core"
	"github.com/gorilla/mux"
)

const blockSize = 16384

func createTestEnv(d http.Device) (*httptest.Server, func()) {
	r := mux.NewRouter()
	server := http.NewServer(d, blockSize)
	server.RegisterHandlers(r)
	ts := httptest.NewServer(r)
	return ts, ts.Close
}

func TestGetBlock(t *testing.T) {
	testCases := []struct {
		desc           string
		block          string
		info           core.BlockInfo
		err            error
		wantStatusCode int
		wantBody       string
	}{
		{
			desc:           "happy path",
			block:          "3",
			info:           core.BlockInfo{Offset: 3 * blockSize, Block: 3, State: core.WornBad, Substitute: 12, Reads: 7},
			wantStatusCode: 200,
			wantBody:       `{"offset":49152,"chip":0,"block":3,"state":"worn-bad","substitute":12,"reads":7,"erases":0}`,
		},
		{
			desc:           "out of range",
			block:          "3000",
			err:            &core.OpError{Op: "block info", Offset: 3000 * blockSize, Err: core.ErrOutOfRange},
			wantStatusCode: 404,
			wantBody:       "failed to get block info\n",
		},
		{
			desc:           "detached",
			block:          "1",
			err:            core.ErrDetached,
			wantStatusCode: 503,
			wantBody:       "failed to get block info\n",
		},
		{
			desc:           "not a number",
			block:          "x",
			wantStatusCode: 404,
			wantBody:       "404 page not found\n",
		},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			d := NewMockDevice(ctrl)
			s, close := createTestEnv(d)
			defer close()

			d.EXPECT().BlockInfo(gomock.Any(), gomock.Any()).Return(tC.info, tC.err).AnyTimes()

			resp, err := s.Client().Get(fmt.Sprintf("%s/nand/v0/blocks/%s", s.URL, tC.block))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tC.wantStatusCode {
				t.Errorf("expected %d, got %d", tC.wantStatusCode, resp.StatusCode)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Error(err)
			}
			if diff := cmp.Diff(tC.wantBody, string(body)); diff != "" {
				t.Errorf("Got diff: %s", diff)
			}
		})
	}
}

func TestBlockOps(t *testing.T) {
	testCases := []struct {
		desc           string
		op             string
		expect         func(d *MockDevice)
		wantStatusCode int
	}{
		{
			desc: "mark bad",
			op:   "markbad",
			expect: func(d *MockDevice) {
				d.EXPECT().MarkBad(gomock.Any(), gomock.Eq(int64(5*blockSize))).Return(nil)
			},
			wantStatusCode: 200,
		},
		{
			desc: "replace",
			op:   "replace",
			expect: func(d *MockDevice) {
				d.EXPECT().ReplaceBlock(gomock.Any(), gomock.Eq(int64(5*blockSize))).Return(nil)
			},
			wantStatusCode: 200,
		},
		{
			desc: "replace with empty pool",
			op:   "replace",
			expect: func(d *MockDevice) {
				d.EXPECT().ReplaceBlock(gomock.Any(), gomock.Any()).Return(fmt.Errorf("replace: %w", core.ErrResourceExhausted))
			},
			wantStatusCode: 507,
		},
		{
			desc: "mitigate",
			op:   "mitigate",
			expect: func(d *MockDevice) {
				d.EXPECT().Mitigate(gomock.Any(), gomock.Eq(int64(5*blockSize)), gomock.Eq(core.TriggerManual)).Return(nil)
			},
			wantStatusCode: 200,
		},
		{
			desc: "mitigate bad block",
			op:   "mitigate",
			expect: func(d *MockDevice) {
				d.EXPECT().Mitigate(gomock.Any(), gomock.Any(), gomock.Any()).Return(core.ErrBadBlock)
			},
			wantStatusCode: 400,
		},
		{
			desc: "mitigate fails",
			op:   "mitigate",
			expect: func(d *MockDevice) {
				d.EXPECT().Mitigate(gomock.Any(), gomock.Any(), gomock.Any()).Return(core.ErrVerifyMismatch)
			},
			wantStatusCode: 500,
		},
		{
			desc:           "unknown op",
			op:             "polish",
			expect:         func(d *MockDevice) {},
			wantStatusCode: 404,
		},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			d := NewMockDevice(ctrl)
			s, close := createTestEnv(d)
			defer close()
			tC.expect(d)

			resp, err := s.Client().Post(fmt.Sprintf("%s/nand/v0/blocks/5/%s", s.URL, tC.op), "text/plain", strings.NewReader(""))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tC.wantStatusCode {
				t.Errorf("expected %d, got %d", tC.wantStatusCode, resp.StatusCode)
			}
		})
	}
}

func TestGetStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	d := NewMockDevice(ctrl)
	s, close := createTestEnv(d)
	defer close()

	d.EXPECT().Stats(gomock.Any()).Return(core.Stats{
		Chips:              []core.ChipStats{{NominalBlocks: 10, Good: 15, FactoryBad: 1, FreeReserved: 4, TableRevision: 2}},
		PendingMitigations: 1,
	}, nil)

	resp, err := s.Client().Get(s.URL + "/nand/v0/stats")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Error(err)
	}
	want := `{"chips":[{"chip":0,"nominal_blocks":10,"good":15,"worn_bad":0,"factory_bad":1,"reserved":0,"substituted":0,"free_reserved":4,"table_revision":2}],"pending_mitigations":1}`
	if diff := cmp.Diff(want, string(body)); diff != "" {
		t.Errorf("Got diff: %s", diff)
	}
}
