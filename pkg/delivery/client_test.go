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

package delivery_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/collector"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/delivery"
)

const (
	collectorURL = "https://collector.example"
	endpoint     = collectorURL + "/wp/heartbeat"
)

var _ = Describe("Client", func() {
	var (
		ctx        context.Context
		httpClient *http.Client
		client     *delivery.Client
		snapshot   collector.Snapshot
	)

	BeforeEach(func() {
		ctx = context.Background()
		httpClient = &http.Client{}
		gock.InterceptClient(httpClient)

		client = delivery.NewClient("1.2.3",
			delivery.WithHTTPClient(httpClient),
			delivery.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
		)
		snapshot = collector.Snapshot{InstanceID: "iid", PluginVersion: "1.2.3", Interval: 600}
	})

	AfterEach(func() {
		// Ensure that all gock mocks are turned off after each test, even the unmatched ones
		gock.RestoreClient(httpClient)
		gock.OffAll()
	})

	Describe("SendHeartbeat", func() {
		It("posts the snapshot with auth, cache busting and no-cache headers", func() {
			gock.New(collectorURL).
				Post("/wp/heartbeat").
				MatchParam("_t", "1700000000").
				MatchHeader("Authorization", "^Bearer abc$").
				MatchHeader("Content-Type", "application/json").
				MatchHeader("Accept", "application/json").
				MatchHeader("Cache-Control", "no-store").
				MatchHeader("Pragma", "no-cache").
				MatchHeader("User-Agent", "heartbeat-agent/1.2.3").
				BodyString(`"instanceId":"iid"`).
				Reply(200).
				JSON(map[string]interface{}{"agentJwt": "xyz", "desiredIntervalSec": 900, "pause": true})

			result, err := client.SendHeartbeat(ctx, endpoint, "abc", snapshot)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Kind).To(Equal(delivery.ResultSuccess))
			Expect(gock.IsDone()).To(BeTrue())

			directives, err := result.Directives()
			Expect(err).NotTo(HaveOccurred())
			Expect(directives.AgentJWT).To(Equal("xyz"))
			Expect(*directives.DesiredIntervalSec).To(Equal(900))
			Expect(*directives.Pause).To(BeTrue())
			Expect(directives.AgentJWTExpiresAt).To(BeNil())
		})

		It("appends the cache buster to an existing query", func() {
			gock.New(collectorURL).
				Post("/wp/heartbeat").
				MatchParam("site", "1").
				MatchParam("_t", "1700000000").
				Reply(204)

			result, err := client.SendHeartbeat(ctx, endpoint+"?site=1", "abc", snapshot)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Kind).To(Equal(delivery.ResultSuccess))

			directives, err := result.Directives()
			Expect(err).NotTo(HaveOccurred())
			Expect(directives).To(Equal(delivery.Directives{}))
		})

		DescribeTable("classifies HTTP answers",
			func(code int, kind delivery.ResultKind, retryable bool) {
				gock.New(collectorURL).Post("/wp/heartbeat").Reply(code).BodyString("nope")

				result, err := client.SendHeartbeat(ctx, endpoint, "abc", snapshot)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Kind).To(Equal(kind))
				Expect(result.Code).To(Equal(code))
				Expect(result.Retryable()).To(Equal(retryable))
			},
			Entry("unauthorized", 401, delivery.ResultRejected, false),
			Entry("forbidden", 403, delivery.ResultRejected, false),
			Entry("not found", 404, delivery.ResultServerError, true),
			Entry("internal error", 500, delivery.ResultServerError, true),
			Entry("bad gateway", 502, delivery.ResultServerError, true),
		)

		It("keeps only a bounded prefix of error bodies", func() {
			gock.New(collectorURL).Post("/wp/heartbeat").Reply(500).BodyString(strings.Repeat("e", 1000))

			result, err := client.SendHeartbeat(ctx, endpoint, "abc", snapshot)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.BodyPrefix).To(HaveLen(200))
			Expect(result.Detail()).To(HavePrefix("HTTP 500 eee"))
		})

		It("reports transport failures without an HTTP code", func() {
			gock.New(collectorURL).Post("/wp/heartbeat").ReplyError(errors.New("dial tcp: lookup collector.example: no such host"))

			result, err := client.SendHeartbeat(ctx, endpoint, "abc", snapshot)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Kind).To(Equal(delivery.ResultTransportError))
			Expect(result.Code).To(BeZero())
			Expect(result.Detail()).To(ContainSubstring("no such host"))
		})

		It("refuses to send without endpoint or token", func() {
			_, err := client.SendHeartbeat(ctx, "", "abc", snapshot)
			Expect(err).To(MatchError(delivery.ErrMissingCredential))

			_, err = client.SendHeartbeat(ctx, endpoint, "", snapshot)
			Expect(err).To(MatchError(delivery.ErrMissingCredential))
		})

		It("gives up after the heartbeat timeout", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			}))
			defer server.Close()

			slow := delivery.NewClient("1.2.3", delivery.WithTimeouts(50*time.Millisecond, 50*time.Millisecond))

			result, err := slow.SendHeartbeat(ctx, server.URL+"/heartbeat", "abc", snapshot)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Kind).To(Equal(delivery.ResultTransportError))
			Expect(result.Message).To(HavePrefix("request timed out"))
		})
	})

	Describe("SendUnlink", func() {
		It("posts the unlink notice to the derived endpoint", func() {
			gock.New(collectorURL).
				Post("/wp/unlink").
				MatchHeader("Authorization", "^Bearer xyz$").
				JSON(map[string]interface{}{"instanceId": "iid", "reason": "manual", "at": 1700000000}).
				Reply(200)

			ok, err := client.SendUnlink(ctx, endpoint, "xyz", "iid", "manual")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(gock.IsDone()).To(BeTrue())
		})

		It("returns false for non-2xx answers", func() {
			gock.New(collectorURL).Post("/wp/unlink").Reply(500)

			ok, err := client.SendUnlink(ctx, endpoint, "xyz", "iid", "manual")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("returns false on transport errors", func() {
			gock.New(collectorURL).Post("/wp/unlink").ReplyError(errors.New("connection reset"))

			ok, err := client.SendUnlink(ctx, endpoint, "xyz", "iid", "manual")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("refuses to send without a session token", func() {
			_, err := client.SendUnlink(ctx, endpoint, "", "iid", "manual")
			Expect(err).To(MatchError(delivery.ErrMissingCredential))
		})
	})
})

var _ = Describe("UnlinkURL", func() {
	DescribeTable("replaces the heartbeat suffix",
		func(in string, want string) {
			Expect(delivery.UnlinkURL(in)).To(Equal(want))
		},
		Entry("plain", "https://c.example/wp/heartbeat", "https://c.example/wp/unlink"),
		Entry("trailing slash", "https://c.example/wp/heartbeat/", "https://c.example/wp/unlink"),
		Entry("with query", "https://c.example/heartbeat?site=1", "https://c.example/unlink?site=1"),
		Entry("other path", "https://c.example/ingest", "https://c.example/ingest"),
	)
})
