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

package collector_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/collector"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeTasks []time.Time

func (f fakeTasks) DueTimes() []time.Time { return f }

var fixedNow = time.Unix(1700000000, 0)

func host() collector.HostEnvironment {
	return collector.HostEnvironment{
		HomeURL:               "https://example.org",
		PlatformVersion:       "6.4.1",
		LatestPlatformVersion: "6.5.0",
		Theme:                 collector.Theme{Name: "Twenty", Version: "1.0", LatestVersion: "1.1"},
		Comments:              collector.CommentSettings{Enabled: true, CloseAfterDays: 14},
		XMLRPCEnabled:         true,
		Extensions: []collector.Extension{
			{Name: "Akismet", Version: "5.0", LatestVersion: "5.1", File: "akismet/akismet.php", Active: true},
			{Name: "Hello", Version: "1.7", File: "hello.php", Active: true, Description: "one two three"},
			{Name: "Inactive", Version: "1.0", LatestVersion: "2.0", File: "inactive/inactive.php"},
		},
	}
}

var _ = Describe("Collector", func() {
	var c *collector.Collector

	BeforeEach(func() {
		c = collector.New("1.2.3", collector.WithClock(func() time.Time { return fixedNow }))
	})

	It("fills identity, site and platform fields from the request and host", func() {
		s := c.Collect(context.Background(), host(), collector.Request{InstanceID: "iid", IntervalSec: 600, Manual: true})

		Expect(s.InstanceID).To(Equal("iid"))
		Expect(s.PluginVersion).To(Equal("1.2.3"))
		Expect(s.SentAt).To(Equal(fixedNow.Unix()))
		Expect(s.Manual).To(BeTrue())
		Expect(s.Interval).To(Equal(600))
		Expect(s.Site.SiteURL).To(Equal("https://example.org"))
		Expect(s.Site.AdminURL).To(Equal("https://example.org/wp-admin/"))
		Expect(s.Platform.RuntimeVersion).NotTo(BeEmpty())
		Expect(*s.Platform.Theme.Name).To(Equal("Twenty"))
		Expect(s.Security.XMLRPC.Enabled).To(BeTrue())
	})

	It("serializes with the collector's field names", func() {
		c.RegisterDefaults(fakePinger{}, fakeTasks{})
		s := c.Collect(context.Background(), host(), collector.Request{InstanceID: "iid"})

		raw, err := json.Marshal(s)
		Expect(err).NotTo(HaveOccurred())

		var decoded map[string]interface{}
		Expect(json.Unmarshal(raw, &decoded)).To(Succeed())
		Expect(decoded).To(HaveKey("wordpress"))
		Expect(decoded["wordpress"]).To(HaveKey("wpVersion"))
		Expect(decoded["wordpress"]).To(HaveKey("phpVersion"))
		Expect(decoded["health"]).To(HaveKey("db"))
		Expect(decoded["health"]).To(HaveKey("cron"))
		Expect(decoded["inventory"]).To(HaveKey("activePlugins"))
		Expect(decoded["registration"]).To(HaveKeyWithValue("enabled", false))
	})

	It("keeps registration order and replaces probes in place", func() {
		c.RegisterDefaults(nil, nil)
		c.Register(collector.SectionHealth, collector.ProbeDB, collector.DBProbe{DB: fakePinger{}})

		Expect(c.Names()).To(Equal([]string{
			"health.db", "health.cron", "health.rest", "health.updates", "health.ram", "inventory.activePlugins",
		}))
	})

	It("degrades failing and panicking probes to their defaults", func() {
		c.Register(collector.SectionHealth, collector.ProbeDB, collector.DBProbe{DB: fakePinger{err: errors.New("gone")}})
		c.Register(collector.SectionHealth, "boom", collector.ProbeFunc{
			Fn:       func(context.Context, collector.HostEnvironment) (interface{}, error) { panic("probe bug") },
			Fallback: collector.RESTStatus{},
		})
		c.Register(collector.SectionHealth, collector.ProbeUpdates, collector.UpdatesProbe{})

		s := c.Collect(context.Background(), host(), collector.Request{})

		Expect(s.Health[collector.ProbeDB]).To(Equal(collector.DBStatus{OK: false}))
		Expect(s.Health["boom"]).To(Equal(collector.RESTStatus{}))
		Expect(s.Health[collector.ProbeUpdates]).To(Equal(collector.UpdateCounts{Core: 1, Plugins: 2, Themes: 1}))
	})

	It("bounds slow probes with the probe timeout", func() {
		c = collector.New("1.2.3", collector.WithProbeTimeout(50*time.Millisecond))
		c.Register(collector.SectionHealth, "slow", collector.ProbeFunc{
			Fn: func(ctx context.Context, _ collector.HostEnvironment) (interface{}, error) {
				<-ctx.Done()

				return nil, ctx.Err()
			},
			Fallback: collector.DBStatus{},
		})

		start := time.Now()
		s := c.Collect(context.Background(), host(), collector.Request{})
		Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
		Expect(s.Health["slow"]).To(Equal(collector.DBStatus{}))
	})
})

var _ = Describe("Probes", func() {
	It("reports the db as reachable when the ping succeeds", func() {
		v, err := collector.DBProbe{DB: fakePinger{}}.Collect(context.Background(), host())
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(collector.DBStatus{OK: true}))
	})

	It("counts overdue tasks and the time to the next one", func() {
		probe := collector.CronProbe{
			Tasks: fakeTasks{fixedNow.Add(-time.Minute), fixedNow.Add(-time.Hour), fixedNow.Add(90 * time.Second), fixedNow.Add(time.Hour)},
			Now:   func() time.Time { return fixedNow },
		}

		v, err := probe.Collect(context.Background(), host())
		Expect(err).NotTo(HaveOccurred())

		status := v.(collector.CronStatus)
		Expect(status.Overdue).To(Equal(2))
		Expect(*status.NextDueInSec).To(Equal(int64(90)))
	})

	It("reports a null next due time without pending tasks", func() {
		v, err := collector.CronProbe{Tasks: fakeTasks{}}.Collect(context.Background(), host())
		Expect(err).NotTo(HaveOccurred())
		Expect(v.(collector.CronStatus).NextDueInSec).To(BeNil())
	})

	It("probes the REST root", func() {
		healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer healthy.Close()

		broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer broken.Close()

		env := host()
		env.RESTURL = healthy.URL
		v, err := collector.RESTProbe{}.Collect(context.Background(), env)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(collector.RESTStatus{OK: true}))

		env.RESTURL = broken.URL
		_, err = collector.RESTProbe{}.Collect(context.Background(), env)
		Expect(err).To(MatchError(ContainSubstring("HTTP 502")))
	})

	It("samples active extensions with slugs and trimmed descriptions", func() {
		env := host()
		env.Multisite = true
		env.Extensions = append(env.Extensions, collector.Extension{Name: "Net", Version: "3", File: "net/net.php", NetworkActive: true})
		env.Extensions[1].Description = strings.Repeat("word ", 30)

		v, err := collector.InventoryProbe{SampleSize: 2, WordLimit: 20}.Collect(context.Background(), env)
		Expect(err).NotTo(HaveOccurred())

		inv := v.(collector.PluginInventory)
		Expect(inv.Count).To(Equal(3))
		Expect(inv.Sample).To(HaveLen(2))
		Expect(inv.Sample[0].Slug).To(Equal("akismet"))
		Expect(inv.Sample[1].Slug).To(Equal("hello"))
		Expect(strings.Fields(inv.Sample[1].Description)).To(HaveLen(20))
	})

	It("marks network activations", func() {
		env := host()
		env.Multisite = true
		env.Extensions = []collector.Extension{{Name: "Net", File: "net/net.php", NetworkActive: true}}

		v, _ := collector.InventoryProbe{SampleSize: 10}.Collect(context.Background(), env)
		Expect(v.(collector.PluginInventory).Sample[0].Name).To(Equal("Net (Network)"))
	})

	It("reports runtime memory and the injected system memory", func() {
		probe := collector.MemoryProbe{System: func(context.Context) (collector.SystemMemory, error) {
			return collector.SystemMemory{TotalRAM: 8 << 30, AvailableRAM: 4 << 30}, nil
		}}

		env := host()
		env.ObjectCache = "redis"

		v, err := probe.Collect(context.Background(), env)
		Expect(err).NotTo(HaveOccurred())

		ram := v.(collector.RAMStatus)
		Expect(ram.Runtime.PeakUsage).To(BeNumerically(">", 0))
		Expect(ram.ObjectCache.Type).To(Equal("redis"))
		Expect(ram.System.TotalRAM).To(Equal(uint64(8 << 30)))
		Expect(ram.OPcache.Enabled).To(BeFalse())
	})
})
