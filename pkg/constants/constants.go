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

package constants

import "time"

// Build information.
const (
	// DefaultAppVersion is used when the binary was not built with a version ldflag.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment is the sentry environment for prerelease builds.
	DefaultDevelopmentEnvironment = "development"

	// DefaultProductionEnvironment is the sentry environment for release builds.
	DefaultProductionEnvironment = "production"

	// UserAgentPrefix is prepended to the version in outbound requests.
	UserAgentPrefix = "heartbeat-agent/"
)

// Collector endpoint and reporting interval.
const (
	// DefaultEndpoint is the collector heartbeat URL used when none is configured.
	DefaultEndpoint = "https://metric.watchmantower.com/wp/heartbeat"

	// DefaultIntervalSec is the reporting interval for a fresh install.
	DefaultIntervalSec = 600

	// MinIntervalSec and MaxIntervalSec bound every interval the agent accepts.
	MinIntervalSec = 60
	MaxIntervalSec = 3600
)

// Delivery timeouts.
const (
	HeartbeatTimeout = 12 * time.Second
	UnlinkTimeout    = 8 * time.Second

	// MaxErrorLength bounds the stored lastError text.
	MaxErrorLength = 200
)

// Scheduling.
const (
	// JitterMinSec and JitterMaxSec bound the random delay added to every regular fire.
	JitterMinSec = 30
	JitterMaxSec = 90

	// ActivationDelaySec is the delay of the first fire after start.
	ActivationDelaySec = 10

	// ConfigSavedDelaySec is the delay before the first fire after a settings change.
	ConfigSavedDelaySec = 5

	// PairingConfirmDelaySec is the delay of the accelerated run after a session token arrived.
	PairingConfirmDelaySec = 5

	// SendNowFollowUpSec is the delay of the follow-up fire after a manual send.
	SendNowFollowUpSec = 10

	// RecentlyUnlinkedWindow suppresses automatic cycles right after an unlink.
	RecentlyUnlinkedWindow = 30 * time.Second
)

// Delivery lock.
const (
	DeliveryLockKey = "heartbeat_lock"
	DeliveryLockTTL = 60 * time.Second
)

// Storage keys. The instance id lives outside the settings document so that
// clearing the pairing never touches it.
const (
	SettingsCollection = "options"
	SettingsKey        = "wthb_options"
	InstanceIDKey      = "wthb_instance_id"
	LegacyInstanceKey  = "wtm_instance_id"
)

// Inventory.
const (
	// InventorySampleSize is the number of active extensions sent with each snapshot.
	InventorySampleSize = 10

	// DescriptionWordLimit trims extension descriptions in the inventory sample.
	DescriptionWordLimit = 20
)

// Local endpoints.
const (
	DefaultMetricsAddr = ":8081"
	DefaultControlAddr = "127.0.0.1:8090"
	DefaultDataDir     = "/data/heartbeat"
	DatabaseFileName   = "heartbeat.db"
)
