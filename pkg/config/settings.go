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

package config

import (
	"strings"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/constants"
)

// Settings is the operator-editable part of the agent configuration.
type Settings struct {
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	Token       string `yaml:"token" json:"token"`
	IntervalSec int    `yaml:"intervalSec" json:"intervalSec"`
	Pause       bool   `yaml:"pause" json:"pause"`
}

// SettingsPatch is a partial settings update. Nil fields keep the current value.
type SettingsPatch struct {
	Endpoint    *string `json:"endpoint,omitempty"`
	Token       *string `json:"token,omitempty"`
	IntervalSec *int    `json:"intervalSec,omitempty"`
	Pause       *bool   `json:"pause,omitempty"`
}

// ClampInterval bounds v to [MinIntervalSec, MaxIntervalSec].
func ClampInterval(v int) int {
	if v < constants.MinIntervalSec {
		return constants.MinIntervalSec
	}

	if v > constants.MaxIntervalSec {
		return constants.MaxIntervalSec
	}

	return v
}

// Normalize fills the default endpoint and clamps the interval. A zero
// interval means "not set" and becomes the default.
func (s Settings) Normalize() Settings {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	if s.Endpoint == "" {
		s.Endpoint = constants.DefaultEndpoint
	}

	s.Token = strings.TrimSpace(s.Token)

	if s.IntervalSec == 0 {
		s.IntervalSec = constants.DefaultIntervalSec
	}

	s.IntervalSec = ClampInterval(s.IntervalSec)

	return s
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	var out Settings
	if err := deepcopy.Copy(&out, &s); err != nil {
		return s
	}

	return out
}

// Apply merges the patch into current. Present fields win, the interval is
// clamped, and absent fields keep their current value.
func (p SettingsPatch) Apply(current Settings) Settings {
	next := current.Clone()

	if p.Endpoint != nil {
		next.Endpoint = strings.TrimSpace(*p.Endpoint)
	}

	if p.Token != nil {
		next.Token = strings.TrimSpace(*p.Token)
	}

	if p.IntervalSec != nil {
		next.IntervalSec = ClampInterval(*p.IntervalSec)
	}

	if p.Pause != nil {
		next.Pause = *p.Pause
	}

	return next.Normalize()
}
