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

// nandsim runs a simulated NAND device under the flash core and serves an
// admin API and metrics for it.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"
	ihttp "github.com/google/nandcore/cmd/nandsim/internal/http"
	"github.com/google/nandcore/config"
	"github.com/google/nandcore/core"
	"github.com/google/nandcore/transport/memchip"
	"github.com/google/trillian/monitoring/prometheus"
	"github.com/google/trillian/util"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var (
	addr            = flag.String("listen", ":8080", "Address to listen on")
	configFile      = flag.String("config", "", "Path to the device config file")
	image           = flag.String("image", "", "File holding the raw contents of the simulated chips; created on exit if missing")
	monitorInterval = flag.Duration("monitor_interval", time.Second, "How often pending read disturb mitigations are run")
)

func main() {
	flag.Parse()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(*configFile) == 0 {
		glog.Exitf("config is required")
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		glog.Exitf("Failed to load config: %v", err)
	}
	opts, err := cfg.Options()
	if err != nil {
		glog.Exitf("Invalid config: %v", err)
	}
	opts.MetricFactory = prometheus.MetricFactory{}

	chips := cfg.Chips
	if chips == 0 {
		chips = 1
	}
	c := memchip.New(opts.Geometry, chips)
	if len(*image) > 0 {
		if err := loadImage(c, *image); err != nil {
			glog.Exitf("Failed to load image: %v", err)
		}
	}

	f, err := core.Attach(memchip.WithReadyLine(c), opts)
	if err != nil {
		glog.Exitf("Failed to attach: %v", err)
	}

	httpListener, err := net.Listen("tcp", *addr)
	if err != nil {
		glog.Exitf("failed to listen on %q", *addr)
	}
	r := mux.NewRouter()
	s := ihttp.NewServer(f, opts.Geometry.BlockSize())
	s.RegisterHandlers(r)
	r.Handle("/metrics", promhttp.Handler())
	srv := http.Server{
		Handler: r,
	}

	go util.AwaitSignal(ctx, cancel)

	// This error group will be used to run all top level processes.
	// If any process dies, then all of them will be stopped via context cancellation.
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Info("HTTP server goroutine started")
		defer glog.Info("HTTP server goroutine done")
		if err := srv.Serve(httpListener); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// This goroutine brings down the HTTP server when ctx is done.
		glog.Info("HTTP server-shutdown goroutine started")
		defer glog.Info("HTTP server-shutdown goroutine done")
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		glog.Info("Mitigation monitor started")
		defer glog.Info("Mitigation monitor done")
		return f.Monitor(ctx, *monitorInterval)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		glog.Errorf("failed with error: %v", err)
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dcancel()
	if err := f.Detach(dctx); err != nil {
		glog.Errorf("Failed to detach: %v", err)
	}
	if len(*image) > 0 {
		if err := saveImage(c, *image); err != nil {
			glog.Errorf("Failed to save image: %v", err)
		}
	}
	glog.Flush()
}

// loadImage fills c from the image file at path, if it exists.
func loadImage(c *memchip.Controller, path string) error {
	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		glog.Infof("No image at %q, starting with blank chips", path)
		return nil
	}
	if err != nil {
		return err
	}
	defer fh.Close()
	return c.Load(fh)
}

func saveImage(c *memchip.Controller, path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.Save(fh); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}
