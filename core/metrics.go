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
	"sync"

	"github.com/google/trillian/monitoring"
)

var (
	once         sync.Once
	pageReads    monitoring.Counter   // chip => value
	pageWrites   monitoring.Counter   // chip => value
	blockErases  monitoring.Counter   // chip => value
	eccCorrected monitoring.Counter   // chip => bits
	eccFailed    monitoring.Counter   // chip => steps
	replacements monitoring.Counter   // chip, reason => value
	mitigations  monitoring.Counter   // trigger, outcome => value
	freeReserved monitoring.Gauge     // chip => value
	opLatency    monitoring.Histogram // op => seconds
)

// setupMetrics initializes all the exported metrics.
func setupMetrics(mf monitoring.MetricFactory) {
	pageReads = mf.NewCounter("nand_page_reads", "Number of pages read from the chip", "chip")
	pageWrites = mf.NewCounter("nand_page_writes", "Number of pages programmed", "chip")
	blockErases = mf.NewCounter("nand_block_erases", "Number of blocks erased", "chip")
	eccCorrected = mf.NewCounter("nand_ecc_corrected_bits", "Number of bit errors corrected by ECC", "chip")
	eccFailed = mf.NewCounter("nand_ecc_failed_steps", "Number of ECC steps which could not be corrected", "chip")
	replacements = mf.NewCounter("nand_block_replacements", "Number of blocks replaced from the reserved pool", "chip", "reason")
	mitigations = mf.NewCounter("nand_mitigations", "Number of read disturb mitigation runs", "trigger", "outcome")
	freeReserved = mf.NewGauge("nand_free_reserved_blocks", "Number of unused blocks in the reserved pool", "chip")
	opLatency = mf.NewHistogram("nand_op_latency", "Latency of operations in seconds", "op")
}
