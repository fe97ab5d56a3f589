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

// Package config describes a NAND device and how it is managed, in a form
// which can be kept in a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/nandcore/core"
	"github.com/google/nandcore/ecc"
	"github.com/google/nandcore/layout"
	"gopkg.in/yaml.v3"
)

// Layout names accepted in Config.Layout.
const (
	LayoutDefault     = ""
	LayoutSmallPage16 = "small-page-16"
	LayoutLargePage64 = "large-page-64"
	LayoutInterleaved = "interleaved"
	LayoutNone        = "none"
)

// Chip is the geometry of one chip.
type Chip struct {
	PageSize      int `yaml:"PageSize"`
	SpareSize     int `yaml:"SpareSize"`
	PagesPerBlock int `yaml:"PagesPerBlock"`
	Blocks        int `yaml:"Blocks"`
	// BusWidth is 8 or 16. Zero means 8.
	BusWidth int `yaml:"BusWidth"`
	// BadBlockPos is the offset in the spare area of the factory bad block
	// marker.
	BadBlockPos int `yaml:"BadBlockPos"`
}

func (c Chip) geometry() layout.Geometry {
	return layout.Geometry{
		PageSize:      c.PageSize,
		SpareSize:     c.SpareSize,
		PagesPerBlock: c.PagesPerBlock,
		Blocks:        c.Blocks,
		BusWidth16:    c.BusWidth == 16,
		BadBlockPos:   c.BadBlockPos,
	}
}

// Validate checks the chip description.
func (c Chip) Validate() error {
	if c.BusWidth != 0 && c.BusWidth != 8 && c.BusWidth != 16 {
		return fmt.Errorf("invalid BusWidth %d: must be 8 or 16", c.BusWidth)
	}
	return c.geometry().Validate()
}

// Config describes a device and its management policy.
type Config struct {
	Chip Chip `yaml:"Chip"`
	// Chips is the number of chips sharing the bus. Zero means one.
	Chips int `yaml:"Chips"`
	// EccStep is the number of data bytes covered by each software ECC
	// code, 256 or 512. Zero disables ECC.
	EccStep int `yaml:"EccStep"`
	// Layout names the spare area layout. If empty, a layout is chosen to
	// suit the chip and ECC step.
	Layout string `yaml:"Layout"`

	ReservedBlocks int    `yaml:"ReservedBlocks"`
	NoTable        bool   `yaml:"NoTable"`
	ReadThreshold  uint32 `yaml:"ReadThreshold"`
	HistorySize    int    `yaml:"HistorySize"`
	AutoReplace    bool   `yaml:"AutoReplace"`
	// Timeout bounds waits for the chip, e.g. "50ms".
	Timeout time.Duration `yaml:"Timeout"`
}

// Validate checks the configuration without building anything from it.
func (c Config) Validate() error {
	if err := c.Chip.Validate(); err != nil {
		return fmt.Errorf("invalid Chip: %v", err)
	}
	if c.Chips < 0 {
		return errors.New("invalid Chips: must not be negative")
	}
	switch c.EccStep {
	case 0, 256, 512:
	default:
		return fmt.Errorf("invalid EccStep %d: must be 0, 256 or 512", c.EccStep)
	}
	switch c.Layout {
	case LayoutDefault, LayoutSmallPage16, LayoutLargePage64, LayoutInterleaved, LayoutNone:
	default:
		return fmt.Errorf("unknown Layout %q", c.Layout)
	}
	if c.Layout == LayoutNone && c.EccStep != 0 {
		return errors.New("Layout none cannot be used with ECC")
	}
	if c.Layout == LayoutInterleaved && c.EccStep == 0 {
		return errors.New("Layout interleaved needs EccStep")
	}
	if c.ReservedBlocks < 0 || c.HistorySize < 0 || c.Timeout < 0 {
		return errors.New("ReservedBlocks, HistorySize and Timeout must not be negative")
	}
	return nil
}

// Options returns the attach options described by the configuration.
func (c Config) Options() (core.Options, error) {
	if err := c.Validate(); err != nil {
		return core.Options{}, err
	}
	geo := c.Chip.geometry()
	o := core.Options{
		Geometry:       geo,
		Chips:          c.Chips,
		ReservedBlocks: c.ReservedBlocks,
		NoTable:        c.NoTable,
		ReadThreshold:  c.ReadThreshold,
		HistorySize:    c.HistorySize,
		AutoReplace:    c.AutoReplace,
		Timeout:        c.Timeout,
	}
	if c.EccStep != 0 {
		h, err := ecc.NewHamming(c.EccStep)
		if err != nil {
			return core.Options{}, err
		}
		o.Codec = h
	}
	switch c.Layout {
	case LayoutSmallPage16:
		o.Layout = layout.SmallPage16(geo)
	case LayoutLargePage64:
		o.Layout = layout.LargePage64(geo)
	case LayoutNone:
		o.Layout = layout.NoEcc(geo)
	case LayoutInterleaved:
		l, err := layout.Interleaved(geo, c.EccStep, o.Codec.CodeSize())
		if err != nil {
			return core.Options{}, err
		}
		o.Layout = l
	}
	return o, nil
}

// Parse decodes and validates a YAML configuration. Unknown fields are an
// error.
func Parse(b []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %v", err)
	}
	return Parse(b)
}
