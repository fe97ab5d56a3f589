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

package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/nandcore/layout"
)

func TestExampleConfig(t *testing.T) {
	c, err := Load("example_config.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	o, err := c.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	want := layout.Geometry{
		PageSize:      512,
		SpareSize:     16,
		PagesPerBlock: 32,
		Blocks:        4096,
		BadBlockPos:   5,
	}
	if diff := cmp.Diff(want, o.Geometry); diff != "" {
		t.Errorf("Got diff: %s", diff)
	}
	if o.Codec == nil || o.Codec.StepSize() != 256 {
		t.Errorf("Codec = %v, want 256 byte steps", o.Codec)
	}
	if got, want := o.Timeout, 50*time.Millisecond; got != want {
		t.Errorf("Timeout = %v, want %v", got, want)
	}
	if !o.AutoReplace || o.ReservedBlocks != 64 || o.HistorySize != 16 || o.ReadThreshold != 100000 {
		t.Errorf("Options() = %+v, missing policy settings", o)
	}
}

const base = `
Chip:
  PageSize: 2048
  SpareSize: 64
  PagesPerBlock: 64
  Blocks: 1024
`

func TestParse(t *testing.T) {
	for _, test := range []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, c Config)
	}{
		{
			name: "minimal",
			yaml: base,
			check: func(t *testing.T, c Config) {
				o, err := c.Options()
				if err != nil {
					t.Fatalf("Options: %v", err)
				}
				if o.Codec != nil || o.Layout != nil {
					t.Errorf("Options() = %+v, want no codec and default layout", o)
				}
			},
		}, {
			name: "interleaved layout",
			yaml: base + "EccStep: 512\nLayout: interleaved\n",
			check: func(t *testing.T, c Config) {
				o, err := c.Options()
				if err != nil {
					t.Fatalf("Options: %v", err)
				}
				if got, want := len(o.Layout.EccPos), 4*3; got != want {
					t.Errorf("%d ECC positions, want %d", got, want)
				}
			},
		}, {
			name: "16-bit bus",
			yaml: base + "  BusWidth: 16\nEccStep: 256\nLayout: large-page-64\n",
			check: func(t *testing.T, c Config) {
				o, err := c.Options()
				if err != nil {
					t.Fatalf("Options: %v", err)
				}
				if !o.Geometry.BusWidth16 {
					t.Error("Geometry.BusWidth16 not set")
				}
			},
		}, {
			name:    "duplicate key",
			yaml:    base + "Chip:\n  PageSize: 512\n",
			wantErr: true,
		}, {
			name:    "unknown field",
			yaml:    base + "Wibble: 1\n",
			wantErr: true,
		}, {
			name:    "bad bus width",
			yaml:    "Chip:\n  PageSize: 512\n  SpareSize: 16\n  PagesPerBlock: 32\n  Blocks: 8\n  BusWidth: 32\n",
			wantErr: true,
		}, {
			name:    "bad ecc step",
			yaml:    base + "EccStep: 300\n",
			wantErr: true,
		}, {
			name:    "unknown layout",
			yaml:    base + "Layout: fancy\n",
			wantErr: true,
		}, {
			name:    "interleaved without ecc",
			yaml:    base + "Layout: interleaved\n",
			wantErr: true,
		}, {
			name:    "no layout with ecc",
			yaml:    base + "EccStep: 256\nLayout: none\n",
			wantErr: true,
		}, {
			name:    "bad timeout",
			yaml:    base + "Timeout: soon\n",
			wantErr: true,
		}, {
			name:    "missing geometry",
			yaml:    "EccStep: 256\n",
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c, err := Parse([]byte(test.yaml))
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Parse() = %v, want err %t", err, test.wantErr)
			}
			if test.check != nil {
				test.check(t, c)
			}
		})
	}
}
