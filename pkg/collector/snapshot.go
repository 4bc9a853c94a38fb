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

// Snapshot is the heartbeat payload. It is built fresh for every cycle and
// discarded after delivery.
type Snapshot struct {
	InstanceID    string `json:"instanceId"`
	PluginVersion string `json:"pluginVersion"`
	SentAt        int64  `json:"sentAt"`
	Manual        bool   `json:"manual"`
	Interval      int    `json:"interval"`

	Site         Site                   `json:"site"`
	Platform     Platform               `json:"wordpress"`
	Health       map[string]interface{} `json:"health"`
	Registration Toggle                 `json:"registration"`
	Security     Security               `json:"security"`
	Inventory    map[string]interface{} `json:"inventory"`
}

type Site struct {
	HomeURL   string `json:"homeUrl"`
	SiteURL   string `json:"siteUrl"`
	AdminURL  string `json:"adminUrl"`
	Multisite bool   `json:"multisite"`
}

type Platform struct {
	Version        string          `json:"wpVersion"`
	RuntimeVersion string          `json:"phpVersion"`
	Theme          ThemeInfo       `json:"theme"`
	Comments       CommentSettings `json:"comments"`
}

// ThemeInfo fields are null when no theme is active.
type ThemeInfo struct {
	Name    *string `json:"name"`
	Version *string `json:"version"`
}

type Toggle struct {
	Enabled bool `json:"enabled"`
}

type Security struct {
	XMLRPC Toggle `json:"xmlrpc"`
}

// DBStatus is the result of the db probe.
type DBStatus struct {
	OK bool `json:"ok"`
}

// CronStatus counts overdue scheduled tasks. NextDueInSec is null when nothing is pending.
type CronStatus struct {
	Overdue      int    `json:"overdue"`
	NextDueInSec *int64 `json:"nextDueInSec"`
}

// RESTStatus is the result of the rest probe.
type RESTStatus struct {
	OK bool `json:"ok"`
}

// UpdateCounts is the number of pending updates per kind.
type UpdateCounts struct {
	Core    int `json:"core"`
	Plugins int `json:"plugins"`
	Themes  int `json:"themes"`
}

// RAMStatus is the memory pressure bundle.
type RAMStatus struct {
	Runtime     RuntimeMemory   `json:"php"`
	OPcache     OPcacheStatus   `json:"opcache"`
	ObjectCache ObjectCacheInfo `json:"objectCache"`
	System      SystemMemory    `json:"system"`
}

// RuntimeMemory describes the agent process. MemoryLimit is -1 when unlimited.
type RuntimeMemory struct {
	CurrentUsage        uint64   `json:"currentUsage"`
	PeakUsage           uint64   `json:"peakUsage"`
	MemoryLimit         int64    `json:"memoryLimit"`
	PeakUsagePercent    *float64 `json:"peakUsagePercent"`
	CurrentUsagePercent *float64 `json:"currentUsagePercent"`
}

type OPcacheStatus struct {
	Enabled bool `json:"enabled"`
}

type ObjectCacheInfo struct {
	Type string `json:"type"`
}

// SystemMemory is empty when the host does not expose memory statistics.
type SystemMemory struct {
	TotalRAM     uint64 `json:"totalRAM,omitempty"`
	AvailableRAM uint64 `json:"availableRAM,omitempty"`
	TotalSwap    uint64 `json:"totalSwap,omitempty"`
	FreeSwap     uint64 `json:"freeSwap,omitempty"`
}

// PluginInventory is the bounded active extension sample.
type PluginInventory struct {
	Count  int             `json:"count"`
	Sample []PluginSummary `json:"sample"`
}

type PluginSummary struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	File        string `json:"file"`
	Slug        string `json:"slug"`
	Author      string `json:"author"`
	Description string `json:"description"`
}
