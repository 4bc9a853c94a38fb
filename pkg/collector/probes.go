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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Pinger is anything that can check database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DBProbe reports whether the database answers.
type DBProbe struct {
	DB Pinger
}

func (p DBProbe) Collect(ctx context.Context, _ HostEnvironment) (interface{}, error) {
	if p.DB == nil {
		return nil, &ProbeError{Probe: "db", Err: errors.New("no database configured")}
	}

	if err := p.DB.Ping(ctx); err != nil {
		return nil, &ProbeError{Probe: "db", Err: err}
	}

	return DBStatus{OK: true}, nil
}

func (DBProbe) Default() interface{} { return DBStatus{OK: false} }

// TaskQueue exposes the due times of scheduled tasks.
type TaskQueue interface {
	DueTimes() []time.Time
}

// CronProbe counts overdue tasks and the seconds until the next one.
type CronProbe struct {
	Tasks TaskQueue
	Now   func() time.Time
}

func (p CronProbe) Collect(_ context.Context, _ HostEnvironment) (interface{}, error) {
	if p.Tasks == nil {
		return nil, &ProbeError{Probe: "cron", Err: errors.New("no task queue")}
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	current := now().Unix()
	status := CronStatus{}

	var next int64

	for _, due := range p.Tasks.DueTimes() {
		ts := due.Unix()
		if ts < current {
			status.Overdue++
		} else if next == 0 || ts < next {
			next = ts
		}
	}

	if next != 0 {
		in := next - current
		status.NextDueInSec = &in
	}

	return status, nil
}

func (CronProbe) Default() interface{} { return CronStatus{} }

// RESTProbe issues a GET against the host API root. Any 2xx is healthy.
type RESTProbe struct {
	Client *http.Client
}

func (p RESTProbe) Collect(ctx context.Context, env HostEnvironment) (interface{}, error) {
	if env.RESTURL == "" {
		return nil, &ProbeError{Probe: "rest", Err: errors.New("no REST URL")}
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.RESTURL, nil)
	if err != nil {
		return nil, &ProbeError{Probe: "rest", Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProbeError{Probe: "rest", Err: err}
	}

	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProbeError{Probe: "rest", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	return RESTStatus{OK: true}, nil
}

func (RESTProbe) Default() interface{} { return RESTStatus{OK: false} }

// UpdatesProbe counts installed components whose latest known version is
// newer than the installed one. Unparsable versions never count.
type UpdatesProbe struct{}

func (UpdatesProbe) Collect(_ context.Context, env HostEnvironment) (interface{}, error) {
	counts := UpdateCounts{}

	if newer(env.PlatformVersion, env.LatestPlatformVersion) {
		counts.Core = 1
	}

	for _, ext := range env.Extensions {
		if newer(ext.Version, ext.LatestVersion) {
			counts.Plugins++
		}
	}

	themes := env.Themes
	if env.Theme.Name != "" {
		themes = append([]Theme{env.Theme}, themes...)
	}

	seen := make(map[string]bool, len(themes))

	for _, theme := range themes {
		if seen[theme.Name] {
			continue
		}

		seen[theme.Name] = true

		if newer(theme.Version, theme.LatestVersion) {
			counts.Themes++
		}
	}

	return counts, nil
}

func (UpdatesProbe) Default() interface{} { return UpdateCounts{} }

func newer(installed string, latest string) bool {
	if installed == "" || latest == "" {
		return false
	}

	current, err := semver.NewVersion(installed)
	if err != nil {
		return false
	}

	available, err := semver.NewVersion(latest)
	if err != nil {
		return false
	}

	return available.GreaterThan(current)
}

// InventoryProbe lists the active extensions. Network-wide activations are
// listed after site activations and marked in the name.
type InventoryProbe struct {
	SampleSize int
	WordLimit  int
}

func (p InventoryProbe) Collect(_ context.Context, env HostEnvironment) (interface{}, error) {
	var active []PluginSummary

	for _, ext := range env.Extensions {
		if ext.Active {
			active = append(active, p.summary(ext, ext.Name))
		}
	}

	if env.Multisite {
		for _, ext := range env.Extensions {
			if ext.NetworkActive {
				active = append(active, p.summary(ext, ext.Name+" (Network)"))
			}
		}
	}

	sample := active
	if p.SampleSize > 0 && len(sample) > p.SampleSize {
		sample = sample[:p.SampleSize]
	}

	if sample == nil {
		sample = []PluginSummary{}
	}

	return PluginInventory{Count: len(active), Sample: sample}, nil
}

func (InventoryProbe) Default() interface{} {
	return PluginInventory{Sample: []PluginSummary{}}
}

func (p InventoryProbe) summary(ext Extension, name string) PluginSummary {
	return PluginSummary{
		Name:        name,
		Version:     ext.Version,
		File:        ext.File,
		Slug:        ext.Slug(),
		Author:      ext.Author,
		Description: trimWords(ext.Description, p.WordLimit),
	}
}

// trimWords keeps the first limit words and marks the cut with an ellipsis.
func trimWords(text string, limit int) string {
	words := strings.Fields(text)
	if limit <= 0 || len(words) <= limit {
		return strings.Join(words, " ")
	}

	return strings.Join(words[:limit], " ") + "…"
}
