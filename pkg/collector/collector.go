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

// Package collector assembles the heartbeat snapshot.
//
// Identity, site and platform fields are copied from the HostEnvironment.
// Everything that has to be measured comes from probes. A probe is a named
// capability that may fail. A failed, panicking or slow probe contributes
// its default value, so one broken probe never costs the whole snapshot.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/logger"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/metrics"
)

// Section is the snapshot object a probe result is placed under.
type Section string

const (
	SectionHealth    Section = "health"
	SectionInventory Section = "inventory"
)

// Probe produces one value of the snapshot. Collect must be read-only and
// bounded. Default is used whenever Collect fails.
type Probe interface {
	Collect(ctx context.Context, env HostEnvironment) (interface{}, error)
	Default() interface{}
}

// ProbeFunc adapts a function and a default value to the Probe interface.
type ProbeFunc struct {
	Fn       func(ctx context.Context, env HostEnvironment) (interface{}, error)
	Fallback interface{}
}

func (p ProbeFunc) Collect(ctx context.Context, env HostEnvironment) (interface{}, error) {
	return p.Fn(ctx, env)
}

func (p ProbeFunc) Default() interface{} {
	return p.Fallback
}

type registeredProbe struct {
	probe   Probe
	name    string
	section Section
}

// Request carries the per-cycle identity fields of the snapshot.
type Request struct {
	InstanceID  string
	IntervalSec int
	Manual      bool
}

// Collector holds the ordered probe registry.
type Collector struct {
	now          func() time.Time
	log          *zap.SugaredLogger
	version      string
	probes       []registeredProbe
	probeTimeout time.Duration
	mu           sync.RWMutex
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock overrides the time source used for sentAt.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithProbeTimeout bounds every single probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Collector) { c.probeTimeout = d }
}

// New creates a collector without probes. version is reported as pluginVersion.
func New(version string, opts ...Option) *Collector {
	c := &Collector{
		now:          time.Now,
		log:          logger.For(logger.ComponentCollector),
		version:      version,
		probeTimeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register adds a probe, or replaces the probe registered under the same
// section and name while keeping its position.
func (c *Collector) Register(section Section, name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.probes {
		if p.section == section && p.name == name {
			c.probes[i].probe = probe

			return
		}
	}

	c.probes = append(c.probes, registeredProbe{probe: probe, name: name, section: section})
}

// Names lists the registered probes as "section.name" in registration order.
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.probes))
	for _, p := range c.probes {
		names = append(names, string(p.section)+"."+p.name)
	}

	return names
}

// Collect builds the snapshot. It never fails.
func (c *Collector) Collect(ctx context.Context, env HostEnvironment, req Request) Snapshot {
	env = env.WithDefaults()

	snapshot := Snapshot{
		InstanceID:    req.InstanceID,
		PluginVersion: c.version,
		SentAt:        c.now().Unix(),
		Manual:        req.Manual,
		Interval:      req.IntervalSec,
		Site: Site{
			HomeURL:   env.HomeURL,
			SiteURL:   env.SiteURL,
			AdminURL:  env.AdminURL,
			Multisite: env.Multisite,
		},
		Platform: Platform{
			Version:        env.PlatformVersion,
			RuntimeVersion: env.RuntimeVersion,
			Theme:          themeInfo(env.Theme),
			Comments:       env.Comments,
		},
		Health:       make(map[string]interface{}),
		Registration: Toggle{Enabled: env.RegistrationEnabled},
		Security:     Security{XMLRPC: Toggle{Enabled: env.XMLRPCEnabled}},
		Inventory:    make(map[string]interface{}),
	}

	c.mu.RLock()
	probes := make([]registeredProbe, len(c.probes))
	copy(probes, c.probes)
	c.mu.RUnlock()

	results := make([]interface{}, len(probes))

	var g errgroup.Group

	for i, p := range probes {
		i, p := i, p
		g.Go(func() error {
			results[i] = c.run(ctx, env, p)

			return nil
		})
	}

	_ = g.Wait()

	for i, p := range probes {
		switch p.section {
		case SectionInventory:
			snapshot.Inventory[p.name] = results[i]
		default:
			snapshot.Health[p.name] = results[i]
		}
	}

	return snapshot
}

func (c *Collector) run(ctx context.Context, env HostEnvironment, p registeredProbe) (value interface{}) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warnf("Probe %s.%s panicked: %v", p.section, p.name, r)
			metrics.IncProbeFailure(p.name)

			value = p.probe.Default()
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	value, err := p.probe.Collect(probeCtx, env)
	if err != nil {
		c.log.Debugf("Probe %s.%s degraded to default: %v", p.section, p.name, err)
		metrics.IncProbeFailure(p.name)

		return p.probe.Default()
	}

	if value == nil {
		return p.probe.Default()
	}

	return value
}

func themeInfo(t Theme) ThemeInfo {
	if t.Name == "" {
		return ThemeInfo{}
	}

	name := t.Name
	version := t.Version

	return ThemeInfo{Name: &name, Version: &version}
}

// ProbeError wraps the failure of a named probe.
type ProbeError struct {
	Err   error
	Probe string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Probe, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}
