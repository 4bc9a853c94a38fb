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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/collector"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/constants"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/env"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/sentry"
)

// AgentConfig is the process configuration.
type AgentConfig struct {
	// DataDir holds the SQLite database.
	DataDir     string `yaml:"dataDir"`
	MetricsAddr string `yaml:"metricsAddr"`
	ControlAddr string `yaml:"controlAddr"`
	SentryDSN   string `yaml:"sentryDsn"`
	Version     string `yaml:"version"`

	Host collector.HostEnvironment `yaml:"host"`

	// Settings only seed an empty store. Once the agent has persisted its
	// state, operator changes go through the control API.
	Settings Settings `yaml:"settings"`
}

// DatabasePath is the SQLite file inside DataDir.
func (c AgentConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, constants.DatabaseFileName)
}

// Default returns the configuration used when no file exists.
func Default() AgentConfig {
	return AgentConfig{
		DataDir:     constants.DefaultDataDir,
		MetricsAddr: constants.DefaultMetricsAddr,
		ControlAddr: constants.DefaultControlAddr,
		Version:     constants.DefaultAppVersion,
		Settings:    Settings{}.Normalize(),
	}
}

// Load reads the YAML file at path, if any, and applies environment
// overrides on top. A missing file is not an error.
//
// Precedence, highest first:
//  1. HEARTBEAT_* environment variables
//  2. values from the file
//  3. defaults
func Load(path string, log *zap.SugaredLogger) (AgentConfig, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)

		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Infof("Config file %s does not exist, using defaults", path)
		case err != nil:
			return AgentConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return AgentConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg, log)

	cfg.Settings = cfg.Settings.Normalize()

	if cfg.Version == "" {
		cfg.Version = constants.DefaultAppVersion
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *AgentConfig, log *zap.SugaredLogger) {
	overrideString := func(key string, target *string) {
		value, err := env.GetAsString(key, false, *target)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get %s: %v", key, err)

			return
		}

		*target = value
	}

	overrideString("HEARTBEAT_DATA_DIR", &cfg.DataDir)
	overrideString("HEARTBEAT_METRICS_ADDR", &cfg.MetricsAddr)
	overrideString("HEARTBEAT_CONTROL_ADDR", &cfg.ControlAddr)
	overrideString("HEARTBEAT_SENTRY_DSN", &cfg.SentryDSN)
	overrideString("HEARTBEAT_ENDPOINT", &cfg.Settings.Endpoint)
	overrideString("HEARTBEAT_INSTALL_TOKEN", &cfg.Settings.Token)
	overrideString("HEARTBEAT_HOME_URL", &cfg.Host.HomeURL)

	interval, err := env.GetAsInt("HEARTBEAT_INTERVAL_SEC", false, cfg.Settings.IntervalSec)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get HEARTBEAT_INTERVAL_SEC: %v", err)
	} else {
		cfg.Settings.IntervalSec = interval
	}

	pause, err := env.GetAsBool("HEARTBEAT_PAUSE", false, cfg.Settings.Pause)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get HEARTBEAT_PAUSE: %v", err)
	} else {
		cfg.Settings.Pause = pause
	}
}
