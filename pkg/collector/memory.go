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

package collector

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryProbe reports runtime and system memory pressure. The system block
// stays empty where the host does not expose memory statistics.
type MemoryProbe struct {
	// System overrides the gopsutil lookup, mainly for tests.
	System func(ctx context.Context) (SystemMemory, error)
}

func (p MemoryProbe) Collect(ctx context.Context, env HostEnvironment) (interface{}, error) {
	status := RAMStatus{
		Runtime:     runtimeMemory(),
		OPcache:     OPcacheStatus{Enabled: false},
		ObjectCache: ObjectCacheInfo{Type: "default"},
	}

	if env.ObjectCache != "" {
		status.ObjectCache.Type = env.ObjectCache
	}

	system := p.System
	if system == nil {
		system = hostMemory
	}

	if sys, err := system(ctx); err == nil {
		status.System = sys
	}

	return status, nil
}

func (MemoryProbe) Default() interface{} {
	return RAMStatus{ObjectCache: ObjectCacheInfo{Type: "default"}}
}

func runtimeMemory() RuntimeMemory {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	usage := RuntimeMemory{
		CurrentUsage: stats.HeapInuse + stats.StackInuse,
		PeakUsage:    stats.Sys,
		MemoryLimit:  -1,
	}

	// SetMemoryLimit with a negative value only reads the limit.
	limit := debug.SetMemoryLimit(-1)
	if limit > 0 && limit != math.MaxInt64 {
		usage.MemoryLimit = limit
		usage.CurrentUsagePercent = percent(usage.CurrentUsage, limit)
		usage.PeakUsagePercent = percent(usage.PeakUsage, limit)
	}

	return usage
}

func percent(used uint64, limit int64) *float64 {
	p := math.Round(float64(used)/float64(limit)*10000) / 100

	return &p
}

func hostMemory(ctx context.Context) (SystemMemory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemMemory{}, err
	}

	sys := SystemMemory{
		TotalRAM:     vm.Total,
		AvailableRAM: vm.Available,
	}

	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		sys.TotalSwap = swap.Total
		sys.FreeSwap = swap.Free
	}

	return sys, nil
}
