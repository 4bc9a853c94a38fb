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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/logger"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/sentry"
)

// Cycle outcomes.
const (
	OutcomeSuccess           = "success"
	OutcomeRejected          = "rejected"
	OutcomeServerError       = "server_error"
	OutcomeTransportError    = "transport_error"
	OutcomeMissingCredential = "missing_credential"
	OutcomeSkippedLocked     = "skipped_locked"
	OutcomeSkippedUnlinked   = "skipped_unlinked"
	OutcomeStorageError      = "storage_error"
)

// Component labels.
const (
	ComponentCredentialStore = "credential_store"
	ComponentCollector       = "collector"
	ComponentDelivery        = "delivery"
	ComponentEngine          = "engine"
	ComponentScheduler       = "scheduler"
	ComponentControl         = "control"
)

var (
	namespace = "heartbeat"
	subsystem = "agent"

	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycles_total",
			Help:      "Heartbeat cycles by outcome",
		},
		[]string{"outcome", "manual"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of collector requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12},
		},
		[]string{"request"},
	)

	probeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "probe_failures_total",
			Help:      "Probes that degraded to their default value",
		},
		[]string{"probe"},
	)

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	intervalSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "interval_seconds",
		Help:      "Current reporting interval",
	})

	paused = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "paused",
		Help:      "1 while reporting is paused",
	})

	connected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connected",
		Help:      "1 while the collector accepts the session token",
	})

	pairingState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pairing_state",
		Help:      "Pairing state (0=unpaired, 1=pairing, 2=paired, 3=revoked)",
	})

	nextFireSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "next_fire_timestamp_seconds",
		Help:      "Unix time of the pending heartbeat fire, 0 if none",
	})
)

func boolLabel(b bool) string {
	if b {
		return "true"
	}

	return "false"
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}

	return 0
}

// RecordCycle counts a finished heartbeat cycle.
func RecordCycle(outcome string, manual bool) {
	cyclesTotal.WithLabelValues(outcome, boolLabel(manual)).Inc()
}

// ObserveDelivery records the duration of a collector request ("heartbeat" or "unlink").
func ObserveDelivery(request string, duration time.Duration) {
	deliveryDuration.WithLabelValues(request).Observe(duration.Seconds())
}

// IncProbeFailure counts a probe that fell back to its default.
func IncProbeFailure(probe string) {
	probeFailures.WithLabelValues(probe).Inc()
}

// IncErrorCount increments the error counter of a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// IncErrorCountAndLog increments the error counter and logs the error.
func IncErrorCountAndLog(component string, err error, log *zap.SugaredLogger) {
	IncErrorCount(component)

	if log != nil {
		log.Errorf("%s: %v", component, err)
	}
}

// UpdateReportingState mirrors the persisted reporting state.
func UpdateReportingState(intervalSec int, isPaused bool, isConnected bool) {
	intervalSeconds.Set(float64(intervalSec))
	paused.Set(boolValue(isPaused))
	connected.Set(boolValue(isConnected))
}

// SetPairingState records the numeric pairing state.
func SetPairingState(state int) {
	pairingState.Set(float64(state))
}

// SetNextFire records the pending fire time; the zero time clears it.
func SetNextFire(at time.Time) {
	if at.IsZero() {
		nextFireSeconds.Set(0)

		return
	}

	nextFireSeconds.Set(float64(at.Unix()))
}

// SetupMetricsEndpoint starts an HTTP server exposing /metrics.
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For(logger.ComponentMetrics))
		}
	}()

	return server
}
