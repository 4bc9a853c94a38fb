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
	"net/http"
	"time"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/constants"
)

// Probe names as they appear in the payload.
const (
	ProbeDB            = "db"
	ProbeCron          = "cron"
	ProbeREST          = "rest"
	ProbeUpdates       = "updates"
	ProbeRAM           = "ram"
	ProbeActivePlugins = "activePlugins"
)

// RegisterDefaults installs the standard probe set in payload order. tasks
// may be nil; the cron probe then reports its default.
func (c *Collector) RegisterDefaults(db Pinger, tasks TaskQueue) {
	c.Register(SectionHealth, ProbeDB, DBProbe{DB: db})
	c.Register(SectionHealth, ProbeCron, CronProbe{Tasks: tasks})
	c.Register(SectionHealth, ProbeREST, RESTProbe{Client: &http.Client{Timeout: 5 * time.Second}})
	c.Register(SectionHealth, ProbeUpdates, UpdatesProbe{})
	c.Register(SectionHealth, ProbeRAM, MemoryProbe{})
	c.Register(SectionInventory, ProbeActivePlugins, InventoryProbe{
		SampleSize: constants.InventorySampleSize,
		WordLimit:  constants.DescriptionWordLimit,
	})
}
