// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package rates turns the cumulative (sum, count) pairs of latency
// counters into per-interval averages by diffing consecutive polls.
package rates

import "math"

// Key identifies one latency counter across polls. History is global
// across daemons, keyed by dataset and counter name only.
type Key struct {
	Dataset string
	Counter string
}

type sample struct {
	sum   float64
	count uint64
}

// History holds the previous poll's cumulative observation per latency
// counter. Entries are created lazily on first observation and live
// until Reset. Polling is single-flow so no locking is needed.
type History struct {
	last map[Key]sample
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{last: make(map[Key]sample)}
}

// IntervalAvg reports the average over the interval since the previous
// observation of k, and advances the stored baseline to (sum, count).
// The first observation of a key is NaN. A count that went backwards
// means the daemon restarted: the result is NaN ("unknown") but the
// baseline still advances so the next interval computes correctly. A
// zero count delta is also NaN rather than a division fault.
func (h *History) IntervalAvg(k Key, sum float64, count uint64) float64 {
	prev, ok := h.last[k]
	h.last[k] = sample{sum: sum, count: count}

	if !ok || count <= prev.count {
		return math.NaN()
	}
	return (sum - prev.sum) / float64(count-prev.count)
}

// Len reports the number of tracked counters.
func (h *History) Len() int { return len(h.last) }

// Reset drops all stored baselines.
func (h *History) Reset() {
	h.last = make(map[Key]sample)
}

// LongRunAvg reports the average since the daemon started. A zero count
// is treated as one so a fresh counter reads as zero instead of
// faulting.
func LongRunAvg(sum float64, count uint64) float64 {
	if count == 0 {
		count = 1
	}
	return sum / float64(count)
}
