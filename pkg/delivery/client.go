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

// Package delivery talks to the remote collector. It sends heartbeats and
// unlink notices and classifies what came back. It never retries.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/collector"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/constants"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/logger"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/metrics"
)

const maxResponseBytes = 1 << 20

var heartbeatSuffix = regexp.MustCompile(`/heartbeat/?$`)

// Client is the DeliveryClient.
type Client struct {
	http             *http.Client
	now              func() time.Time
	log              *zap.SugaredLogger
	userAgent        string
	heartbeatTimeout time.Duration
	unlinkTimeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// WithClock overrides the time source of the cache-busting parameter.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithTimeouts overrides the request timeouts.
func WithTimeouts(heartbeat time.Duration, unlink time.Duration) Option {
	return func(c *Client) {
		c.heartbeatTimeout = heartbeat
		c.unlinkTimeout = unlink
	}
}

// NewClient creates a client that identifies itself with version.
func NewClient(version string, opts ...Option) *Client {
	c := &Client{
		http:             defaultHTTPClient(),
		now:              time.Now,
		log:              logger.For(logger.ComponentDelivery),
		userAgent:        constants.UserAgentPrefix + version,
		heartbeatTimeout: constants.HeartbeatTimeout,
		unlinkTimeout:    constants.UnlinkTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// defaultHTTPClient keeps connections alive between heartbeats. Timeouts
// are applied per request through the context.
func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// SendHeartbeat posts the snapshot to endpoint. The returned error is only
// ever ErrMissingCredential or an encoding failure; everything that happens
// on the wire is reported through the Result.
func (c *Client) SendHeartbeat(ctx context.Context, endpoint string, token string, snapshot collector.Snapshot) (Result, error) {
	if strings.TrimSpace(endpoint) == "" || token == "" {
		return Result{}, ErrMissingCredential
	}

	body, err := marshal(snapshot)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.heartbeatTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, withCacheBuster(endpoint, c.now()), bytes.NewReader(body))
	if err != nil {
		return Result{Kind: ResultTransportError, Message: err.Error()}, nil
	}

	c.setHeaders(req, token)
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Expires", "0")

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)

	metrics.ObserveDelivery("heartbeat", elapsed)
	recordLatency(elapsed)

	if err != nil {
		c.log.Debugf("Heartbeat transport error: %v", err)

		return Result{Kind: ResultTransportError, Message: describeTransportError(err)}, nil
	}

	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{Kind: ResultTransportError, Message: describeTransportError(err)}, nil
	}

	result := classify(resp.StatusCode, respBody)
	c.log.Debugf("Heartbeat answered with HTTP %d (%s) in %s", resp.StatusCode, result.Kind, elapsed)

	return result, nil
}

type unlinkRequest struct {
	InstanceID string `json:"instanceId"`
	Reason     string `json:"reason"`
	At         int64  `json:"at"`
}

// SendUnlink notifies the collector that the agent unlinks itself. It
// reports true only for a 2xx answer and swallows every other failure.
func (c *Client) SendUnlink(ctx context.Context, endpoint string, token string, instanceID string, reason string) (bool, error) {
	if strings.TrimSpace(endpoint) == "" || token == "" {
		return false, ErrMissingCredential
	}

	body, err := marshal(unlinkRequest{InstanceID: instanceID, Reason: reason, At: c.now().Unix()})
	if err != nil {
		return false, fmt.Errorf("failed to encode unlink request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.unlinkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, UnlinkURL(endpoint), bytes.NewReader(body))
	if err != nil {
		c.log.Warnf("Failed to build unlink request: %v", err)

		return false, nil
	}

	c.setHeaders(req, token)

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveDelivery("unlink", time.Since(start))

	if err != nil {
		c.log.Warnf("Unlink notification failed: %s", describeTransportError(err))

		return false, nil
	}

	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		c.log.Warnf("Unlink notification answered with HTTP %d", resp.StatusCode)
	}

	return ok, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
}

// UnlinkURL derives the unlink endpoint from the heartbeat endpoint. An
// endpoint that does not end in /heartbeat is used unchanged.
func UnlinkURL(endpoint string) string {
	base, query, hasQuery := strings.Cut(endpoint, "?")

	base = heartbeatSuffix.ReplaceAllString(base, "/unlink")
	if hasQuery {
		return base + "?" + query
	}

	return base
}

// withCacheBuster appends a time based query parameter.
func withCacheBuster(endpoint string, now time.Time) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}

	return endpoint + sep + "_t=" + strconv.FormatInt(now.Unix(), 10)
}

func describeTransportError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out: " + err.Error()
	case strings.Contains(err.Error(), "connection refused"):
		return "connection refused: " + err.Error()
	default:
		return err.Error()
	}
}
