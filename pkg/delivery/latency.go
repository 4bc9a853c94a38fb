// Copyright 2025 UMH Systems GmbH
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

package delivery

import (
	"sort"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
)

// Latency summarizes heartbeat round trips of the last hour in milliseconds.
type Latency struct {
	AvgMs   float64 `json:"avgMs"`
	MaxMs   float64 `json:"maxMs"`
	MinMs   float64 `json:"minMs"`
	P95Ms   float64 `json:"p95Ms"`
	P99Ms   float64 `json:"p99Ms"`
	Samples int     `json:"samples"`
}

var (
	latencies   = expiremap.NewEx[time.Time, time.Duration](time.Hour, time.Hour)
	latenciesMu sync.Mutex
)

func recordLatency(d time.Duration) {
	latenciesMu.Lock()
	defer latenciesMu.Unlock()

	key := time.Now()

	// Keys are timestamps; nudge collisions instead of overwriting.
	for {
		if _, exists := latencies.Load(key); !exists {
			break
		}

		key = key.Add(time.Nanosecond)
	}

	latencies.Set(key, d)
}

// RecentLatency returns the heartbeat latency statistics.
func RecentLatency() Latency {
	var durations []time.Duration

	latencies.Range(func(_ time.Time, value time.Duration) bool {
		durations = append(durations, value)

		return true
	})

	if len(durations) == 0 {
		return Latency{}
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	at := func(q float64) time.Duration {
		i := int(float64(len(durations)) * q)
		if i >= len(durations) {
			i = len(durations) - 1
		}

		return durations[i]
	}

	return Latency{
		AvgMs:   ms(total / time.Duration(len(durations))),
		MaxMs:   ms(durations[len(durations)-1]),
		MinMs:   ms(durations[0]),
		P95Ms:   ms(at(0.95)),
		P99Ms:   ms(at(0.99)),
		Samples: len(durations),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
