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

// Package engine runs heartbeat cycles and the unlink flow.
//
// A cycle is: acquire the delivery lock, collect a snapshot, send it, apply
// what the collector answered, release the lock. Every failure inside a
// cycle ends up in the stored last error and is never returned; the
// scheduler must always get to fire the next cycle.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/collector"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/config"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/constants"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/credentials"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/delivery"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/logger"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/metrics"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/sentry"
)

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeSuccess           Outcome = metrics.OutcomeSuccess
	OutcomeRejected          Outcome = metrics.OutcomeRejected
	OutcomeServerError       Outcome = metrics.OutcomeServerError
	OutcomeTransportError    Outcome = metrics.OutcomeTransportError
	OutcomeMissingCredential Outcome = metrics.OutcomeMissingCredential
	OutcomeSkippedLocked     Outcome = metrics.OutcomeSkippedLocked
	OutcomeSkippedUnlinked   Outcome = metrics.OutcomeSkippedUnlinked
	OutcomeStorageError      Outcome = metrics.OutcomeStorageError
)

const (
	errRecentlyUnlinked  = "recently unlinked"
	errMissingCredential = "missing endpoint or token"
)

// localWriteTimeout bounds state writes that must outlive the caller.
const localWriteTimeout = 5 * time.Second

// SnapshotCollector builds the heartbeat payload.
type SnapshotCollector interface {
	Collect(ctx context.Context, env collector.HostEnvironment, req collector.Request) collector.Snapshot
}

// Sender talks to the collector.
type Sender interface {
	SendHeartbeat(ctx context.Context, endpoint string, token string, snapshot collector.Snapshot) (delivery.Result, error)
	SendUnlink(ctx context.Context, endpoint string, token string, instanceID string, reason string) (bool, error)
}

// Locker hands out the delivery lock.
type Locker interface {
	TryAcquire(key string) (release func(), ok bool)
}

// Scheduler is what the engine needs from the scheduler.
type Scheduler interface {
	ScheduleIn(sec int)
	OnConfigSaved(previous config.Settings, current config.Settings)
	Cancel()
	NextFire() (time.Time, bool)
}

// Engine is the ReportingEngine.
type Engine struct {
	store     *credentials.Store
	collector SnapshotCollector
	sender    Sender
	lock      Locker
	scheduler Scheduler
	pairing   *pairingMachine
	now       func() time.Time
	log       *zap.SugaredLogger
	host      collector.HostEnvironment
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source of the unlink skip window.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithScheduler attaches the scheduler at construction time.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// New wires an engine. host describes the instance the agent reports on.
func New(store *credentials.Store, c SnapshotCollector, sender Sender, lock Locker, host collector.HostEnvironment, opts ...Option) *Engine {
	log := logger.For(logger.ComponentEngine)

	e := &Engine{
		store:     store,
		collector: c,
		sender:    sender,
		lock:      lock,
		host:      host,
		now:       time.Now,
		log:       log,
		pairing:   newPairingMachine(log),
		scheduler: noopScheduler{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SetScheduler attaches the scheduler. The scheduler itself drives the
// engine, so it is usually created afterwards.
func (e *Engine) SetScheduler(s Scheduler) {
	e.scheduler = s
}

// RunCycle runs one heartbeat cycle. manual marks operator triggered runs,
// which ignore the unlink skip window and never change the interval.
func (e *Engine) RunCycle(ctx context.Context, manual bool) Outcome {
	outcome := e.runCycle(ctx, manual)
	metrics.RecordCycle(string(outcome), manual)

	if outcome != OutcomeSkippedLocked {
		writeCtx, cancel := detached(ctx)
		defer cancel()

		e.refresh(writeCtx)
	}

	return outcome
}

// ScheduledFire is the entry point of the scheduler.
func (e *Engine) ScheduledFire(ctx context.Context) {
	e.RunCycle(ctx, false)
}

// ReportingState returns the stored reporting state.
func (e *Engine) ReportingState(ctx context.Context) (credentials.ReportingState, error) {
	_, state, err := e.store.Load(ctx)

	return state, err
}

func (e *Engine) runCycle(ctx context.Context, manual bool) Outcome {
	cred, _, err := e.store.Load(ctx)
	if err != nil {
		e.reportStorageError("load", err)

		return OutcomeStorageError
	}

	if !manual && e.recentlyUnlinked(cred) {
		e.log.Debugf("Skipping heartbeat, the agent was unlinked less than %s ago", constants.RecentlyUnlinkedWindow)
		e.recordError(ctx, errRecentlyUnlinked)

		return OutcomeSkippedUnlinked
	}

	release, ok := e.lock.TryAcquire(constants.DeliveryLockKey)
	if !ok {
		e.log.Debugf("Skipping heartbeat, another cycle is in flight")

		return OutcomeSkippedLocked
	}
	defer release()

	// Re-read under the lock; a cycle that just finished may have changed the state.
	cred, state, err := e.store.Load(ctx)
	if err != nil {
		e.reportStorageError("load", err)

		return OutcomeStorageError
	}

	snapshot := e.collector.Collect(ctx, e.host, collector.Request{
		InstanceID:  cred.InstanceID,
		IntervalSec: state.IntervalSec,
		Manual:      manual,
	})

	result, err := e.sender.SendHeartbeat(ctx, cred.Endpoint, cred.ActiveToken(), snapshot)

	// The outcome is recorded even if the caller went away during the request.
	ctx, cancel := detached(ctx)
	defer cancel()

	if errors.Is(err, delivery.ErrMissingCredential) {
		e.recordError(ctx, errMissingCredential)

		return OutcomeMissingCredential
	}

	if err != nil {
		e.log.Warnf("Heartbeat could not be sent: %v", err)
		e.recordError(ctx, err.Error())

		return OutcomeTransportError
	}

	switch {
	case result.Kind == delivery.ResultSuccess:
		return e.handleSuccess(ctx, result)
	case result.Kind == delivery.ResultRejected:
		return e.handleRejected(ctx, result)
	default:
		return e.handleFailure(ctx, result, manual)
	}
}

func (e *Engine) handleSuccess(ctx context.Context, result delivery.Result) Outcome {
	directives, err := result.Directives()
	if err != nil {
		e.log.Warnf("Ignoring collector directives: %v", err)
	}

	paired := false

	if directives != (delivery.Directives{}) {
		_, _, err = e.store.Update(ctx, "apply collector directives", func(c *credentials.Credential, st *credentials.ReportingState) {
			if directives.AgentJWT != "" {
				c.SessionToken = directives.AgentJWT
				c.SessionTokenExpiry = tokenExpiry(directives)
				c.Connected = true
				c.InstallToken = ""
				paired = true
			}

			if directives.DesiredIntervalSec != nil {
				st.IntervalSec = config.ClampInterval(*directives.DesiredIntervalSec)
			}

			if directives.Pause != nil {
				st.Paused = *directives.Pause
			}
		})
		if err != nil {
			e.reportStorageError("apply collector directives", err)

			return OutcomeStorageError
		}
	}

	if err := e.store.RecordSuccess(ctx); err != nil {
		e.reportStorageError("record success", err)

		return OutcomeStorageError
	}

	if paired {
		e.log.Infof("Received a session token, confirming in %ds", constants.PairingConfirmDelaySec)
		e.scheduler.ScheduleIn(constants.PairingConfirmDelaySec)
	}

	return OutcomeSuccess
}

// handleRejected soft-revokes: the token stays, only the connected flag drops.
func (e *Engine) handleRejected(ctx context.Context, result delivery.Result) Outcome {
	e.log.Warnf("Collector rejected the credential with HTTP %d", result.Code)

	if err := e.store.SetConnected(ctx, false); err != nil {
		e.reportStorageError("set connected", err)

		return OutcomeStorageError
	}

	e.recordError(ctx, result.Detail())

	return OutcomeRejected
}

func (e *Engine) handleFailure(ctx context.Context, result delivery.Result, manual bool) Outcome {
	if !manual && result.Retryable() {
		_, state, err := e.store.Update(ctx, "back off", func(_ *credentials.Credential, st *credentials.ReportingState) {
			st.IntervalSec = config.ClampInterval(st.IntervalSec * 2)
		})
		if err != nil {
			e.reportStorageError("back off", err)
		} else {
			e.log.Infof("Heartbeat failed (%s), backing off to %ds", result.Kind, state.IntervalSec)
		}
	}

	e.recordError(ctx, result.Detail())

	if result.Kind == delivery.ResultTransportError {
		return OutcomeTransportError
	}

	return OutcomeServerError
}

// Unlink notifies the collector on a best effort basis and then clears the
// pairing locally no matter what. It returns whether the collector was
// notified.
func (e *Engine) Unlink(ctx context.Context, reason string) bool {
	if reason == "" {
		reason = "manual"
	}

	remote := false

	cred, _, err := e.store.Load(ctx)
	if err != nil {
		e.reportStorageError("load", err)
	} else {
		remote, err = e.sender.SendUnlink(ctx, cred.Endpoint, cred.SessionToken, cred.InstanceID, reason)
		if err != nil {
			e.log.Infof("Collector not notified about unlink: %v", err)
		}
	}

	// A client that hung up during the remote call must not keep the agent paired.
	writeCtx, cancel := detached(ctx)
	defer cancel()

	if err := e.store.ClearPairing(writeCtx); err != nil {
		e.reportStorageError("clear pairing", err)
	}

	e.scheduler.Cancel()
	e.refresh(writeCtx)

	e.log.Infof("Unlinked (reason %q, collector notified: %t)", reason, remote)

	return remote
}

// SendNow runs a manual cycle and arms a near follow-up fire, which also
// covers the case where the manual cycle was skipped because of the lock.
func (e *Engine) SendNow(ctx context.Context) Outcome {
	outcome := e.RunCycle(ctx, true)
	e.scheduler.ScheduleIn(constants.SendNowFollowUpSec)

	return outcome
}

// SaveSettings persists an operator change and runs the configuration
// saved trigger.
func (e *Engine) SaveSettings(ctx context.Context, patch config.SettingsPatch) (config.Settings, error) {
	previous, current, err := e.store.SaveSettings(ctx, patch)
	if err != nil {
		return config.Settings{}, err
	}

	e.OnConfigurationSaved(ctx, previous, current)

	return current, nil
}

// OnConfigurationSaved reschedules shortly after any settings change. A new
// install token without a session is exchanged right away.
func (e *Engine) OnConfigurationSaved(ctx context.Context, previous config.Settings, current config.Settings) {
	e.scheduler.OnConfigSaved(previous, current)

	cred, _, err := e.store.Load(ctx)
	if err != nil {
		e.reportStorageError("load", err)

		return
	}

	if cred.InstallToken != "" && cred.SessionToken == "" {
		e.log.Infof("Install token present, pairing now")
		e.RunCycle(ctx, false)

		return
	}

	e.refresh(ctx)
}

// Status is the operator view of the agent. Tokens are reported by presence only.
type Status struct {
	Latency               delivery.Latency `json:"latency"`
	SessionTokenExpiresAt *int64           `json:"sessionTokenExpiresAt"`
	LastSuccessAt         *int64           `json:"lastSuccessAt"`
	LastUnlinkedAt        *int64           `json:"lastUnlinkedAt"`
	NextFireAt            *int64           `json:"nextFireAt"`
	InstanceID            string           `json:"instanceId"`
	State                 string           `json:"state"`
	Endpoint              string           `json:"endpoint"`
	LastError             string           `json:"lastError"`
	IntervalSec           int              `json:"intervalSec"`
	Connected             bool             `json:"connected"`
	HasInstallToken       bool             `json:"hasInstallToken"`
	HasSessionToken       bool             `json:"hasSessionToken"`
	Paused                bool             `json:"paused"`
}

// Status assembles the current status.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	cred, state, err := e.store.Load(ctx)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		InstanceID:            cred.InstanceID,
		State:                 PairingState(cred),
		Endpoint:              cred.Endpoint,
		Connected:             cred.Connected,
		HasInstallToken:       cred.InstallToken != "",
		HasSessionToken:       cred.SessionToken != "",
		SessionTokenExpiresAt: optional(cred.SessionTokenExpiry),
		LastUnlinkedAt:        optional(cred.LastUnlinkedAt),
		IntervalSec:           state.IntervalSec,
		Paused:                state.Paused,
		LastSuccessAt:         optional(state.LastSuccessAt),
		LastError:             state.LastError,
		Latency:               delivery.RecentLatency(),
	}

	if next, ok := e.scheduler.NextFire(); ok {
		status.NextFireAt = optional(next.Unix())
	}

	return status, nil
}

// Sync aligns the pairing machine and gauges with the stored state.
func (e *Engine) Sync(ctx context.Context) {
	e.refresh(ctx)
}

func (e *Engine) refresh(ctx context.Context) {
	cred, state, err := e.store.Load(ctx)
	if err != nil {
		e.log.Debugf("Could not refresh state: %v", err)

		return
	}

	e.pairing.Sync(ctx, PairingState(cred))
	metrics.UpdateReportingState(state.IntervalSec, state.Paused, cred.Connected)
}

func (e *Engine) recentlyUnlinked(cred credentials.Credential) bool {
	if cred.LastUnlinkedAt == 0 {
		return false
	}

	return e.now().Sub(time.Unix(cred.LastUnlinkedAt, 0)) < constants.RecentlyUnlinkedWindow
}

func (e *Engine) recordError(ctx context.Context, msg string) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if err := e.store.RecordError(ctx, msg); err != nil {
		e.reportStorageError("record error", err)
	}
}

func (e *Engine) reportStorageError(op string, err error) {
	metrics.IncErrorCount(metrics.ComponentEngine)
	sentry.ReportComponentError(e.log, logger.ComponentEngine, op, err)
}

// tokenExpiry prefers the expiry sent by the collector and falls back to the
// exp claim of the token. The token is not verified; the agent only needs
// the timestamp for display.
func tokenExpiry(d delivery.Directives) int64 {
	if d.AgentJWTExpiresAt != nil && *d.AgentJWTExpiresAt > 0 {
		return *d.AgentJWTExpiresAt
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(d.AgentJWT, &claims); err != nil || claims.ExpiresAt == nil {
		return 0
	}

	return claims.ExpiresAt.Unix()
}

// detached keeps the values of ctx but not its cancellation, with a short
// deadline of its own.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), localWriteTimeout)
}

func optional(v int64) *int64 {
	if v == 0 {
		return nil
	}

	return &v
}

type noopScheduler struct{}

func (noopScheduler) ScheduleIn(int)                                 {}
func (noopScheduler) OnConfigSaved(config.Settings, config.Settings) {}
func (noopScheduler) Cancel()                                        {}
func (noopScheduler) NextFire() (time.Time, bool)                    { return time.Time{}, false }
