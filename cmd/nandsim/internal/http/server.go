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

// Package http contains the admin API of the NAND simulator.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/golang/glog"
	"github.com/google/nandcore/core"
	"github.com/gorilla/mux"
	"google.golang.org/grpc/codes"
)

const (
	// HTTPBlock is the path of a block, formatted with its device-wide
	// index.
	HTTPBlock = "/nand/v0/blocks/%s"
	// HTTPMarkBad marks a block bad.
	HTTPMarkBad = HTTPBlock + "/markbad"
	// HTTPReplace gives a block a substitute.
	HTTPReplace = HTTPBlock + "/replace"
	// HTTPMitigate refreshes a block.
	HTTPMitigate = HTTPBlock + "/mitigate"
	// HTTPStats is the path of the device summary.
	HTTPStats = "/nand/v0/stats"
)

// Device is the managed flash being administered.
type Device interface {
	// BlockInfo returns what is known about the block containing off.
	BlockInfo(ctx context.Context, off int64) (core.BlockInfo, error)
	// Stats returns a summary of the device.
	Stats(ctx context.Context) (core.Stats, error)
	// MarkBad marks the block containing off as worn out.
	MarkBad(ctx context.Context, off int64) error
	// ReplaceBlock gives the block containing off a reserved substitute.
	ReplaceBlock(ctx context.Context, off int64) error
	// Mitigate refreshes the block containing off.
	Mitigate(ctx context.Context, off int64, trig core.Trigger) error
}

// Server serves the admin API for a Device.
type Server struct {
	d         Device
	blockSize int64
}

// NewServer creates a new server for a device with blocks of blockSize
// bytes.
func NewServer(d Device, blockSize int64) *Server {
	return &Server{
		d:         d,
		blockSize: blockSize,
	}
}

// offset returns the offset of the block named in the request.
func (s *Server) offset(r *http.Request) (int64, error) {
	b, err := strconv.ParseInt(mux.Vars(r)["block"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block: %v", err)
	}
	return b * s.blockSize, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to convert to JSON: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(b); err != nil {
		glog.Errorf("w.Write(): %v", err)
	}
}

// getBlock returns the state of one block.
func (s *Server) getBlock(w http.ResponseWriter, r *http.Request) {
	off, err := s.offset(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info, err := s.d.BlockInfo(r.Context(), off)
	if err != nil {
		glog.Warningf("failed to get block info: %v", err)
		http.Error(w, "failed to get block info", httpForCode(codeForErr(err)))
		return
	}
	writeJSON(w, info)
}

// blockOp returns a handler which applies op to the block in the request.
func (s *Server) blockOp(name string, op func(ctx context.Context, off int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		off, err := s.offset(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := op(r.Context(), off); err != nil {
			glog.Warningf("failed to %s block at %#x: %v", name, off, err)
			http.Error(w, fmt.Sprintf("failed to %s block", name), httpForCode(codeForErr(err)))
			return
		}
		glog.Infof("%s block at %#x", name, off)
	}
}

func (s *Server) mitigate(ctx context.Context, off int64) error {
	return s.d.Mitigate(ctx, off, core.TriggerManual)
}

// getStats returns the device summary.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.d.Stats(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get stats: %v", err), httpForCode(codeForErr(err)))
		return
	}
	writeJSON(w, st)
}

// RegisterHandlers registers HTTP handlers for the admin endpoints.
func (s *Server) RegisterHandlers(r *mux.Router) {
	blockStr := "{block:\\d+}"
	r.HandleFunc(fmt.Sprintf(HTTPBlock, blockStr), s.getBlock).Methods("GET")
	r.HandleFunc(fmt.Sprintf(HTTPMarkBad, blockStr), s.blockOp("mark bad", s.d.MarkBad)).Methods("POST")
	r.HandleFunc(fmt.Sprintf(HTTPReplace, blockStr), s.blockOp("replace", s.d.ReplaceBlock)).Methods("POST")
	r.HandleFunc(fmt.Sprintf(HTTPMitigate, blockStr), s.blockOp("mitigate", s.mitigate)).Methods("POST")
	r.HandleFunc(HTTPStats, s.getStats).Methods("GET")
}

// codeForErr classifies errors from the device.
func codeForErr(err error) codes.Code {
	switch {
	case errors.Is(err, core.ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrOutOfRange):
		return codes.NotFound
	case errors.Is(err, core.ErrBadBlock):
		return codes.FailedPrecondition
	case errors.Is(err, core.ErrResourceExhausted):
		return codes.ResourceExhausted
	case errors.Is(err, core.ErrDetached):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, core.ErrDeviceTimeout):
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

func httpForCode(c codes.Code) int {
	switch c {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition, codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.ResourceExhausted:
		return http.StatusInsufficientStorage
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
