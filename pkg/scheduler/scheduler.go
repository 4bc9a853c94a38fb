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

// Package scheduler decides when the next heartbeat fires.
//
// There is at most one pending fire. Every schedule call replaces it. A
// fire re-arms the scheduler with the stored interval before it runs the
// cycle, so a cycle that hangs cannot stop future fires.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/config"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/constants"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/credentials"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/logger"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/metrics"
)

// Target is what gets fired.
type Target interface {
	ReportingState(ctx context.Context) (credentials.ReportingState, error)
	ScheduledFire(ctx context.Context)
}

// Scheduler owns the single pending fire.
type Scheduler struct {
	target  Target
	ctx     context.Context
	timer   *time.Timer
	next    time.Time
	now     func() time.Time
	jitter  func() int
	log     *zap.SugaredLogger
	unit    time.Duration
	gen     uint64
	running sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithJitter overrides the jitter source. It returns seconds.
func WithJitter(jitter func() int) Option {
	return func(s *Scheduler) { s.jitter = jitter }
}

// WithClock overrides the time source of reported fire times.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTimeUnit changes the length of one scheduling "second".
func WithTimeUnit(unit time.Duration) Option {
	return func(s *Scheduler) { s.unit = unit }
}

// New creates a scheduler for target. Nothing is armed until Start.
func New(target Target, opts ...Option) *Scheduler {
	s := &Scheduler{
		target: target,
		ctx:    context.Background(),
		now:    time.Now,
		jitter: uniformJitter,
		log:    logger.For(logger.ComponentScheduler),
		unit:   time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func uniformJitter() int {
	return constants.JitterMinSec + rand.Intn(constants.JitterMaxSec-constants.JitterMinSec+1)
}

// Start arms the first fire unless one is already pending. Fires run with
// ctx, so cancelling it aborts in-flight requests.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.stopped = false
	pending := s.timer != nil
	s.mu.Unlock()

	if !pending {
		s.ScheduleIn(constants.ActivationDelaySec)
	}
}

// Stop cancels the pending fire and waits for a running one to return.
// Later schedule calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancelLocked()
	s.mu.Unlock()

	s.running.Wait()
}

// ScheduleNext arms a fire after intervalSec plus jitter.
func (s *Scheduler) ScheduleNext(intervalSec int) {
	s.arm(config.ClampInterval(intervalSec) + s.jitter())
}

// ScheduleIn arms a fire after sec seconds, at least one.
func (s *Scheduler) ScheduleIn(sec int) {
	s.arm(max(1, sec))
}

// OnConfigSaved reschedules shortly after every settings change.
func (s *Scheduler) OnConfigSaved(previous config.Settings, current config.Settings) {
	if previous.IntervalSec != current.IntervalSec {
		s.log.Infof("Interval changed from %ds to %ds", previous.IntervalSec, current.IntervalSec)
	}

	s.ScheduleIn(constants.ConfigSavedDelaySec)
}

// Cancel drops the pending fire.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
}

// NextFire returns the pending fire time.
func (s *Scheduler) NextFire() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.next, s.timer != nil
}

// DueTimes lists pending fires for the cron probe.
func (s *Scheduler) DueTimes() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer == nil {
		return nil
	}

	return []time.Time{s.next}
}

func (s *Scheduler) arm(sec int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	s.cancelLocked()

	delay := time.Duration(sec) * s.unit
	gen := s.gen

	s.next = s.now().Add(delay)
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })

	metrics.SetNextFire(s.next)
	s.log.Debugf("Next heartbeat in %s", delay)
}

func (s *Scheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}

	// A timer that already started firing sees a new generation and returns.
	s.gen++
	s.timer = nil
	s.next = time.Time{}

	metrics.SetNextFire(time.Time{})
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()

		return
	}

	s.timer = nil
	s.next = time.Time{}
	ctx := s.ctx
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()

	interval := constants.DefaultIntervalSec
	paused := false

	state, err := s.target.ReportingState(ctx)
	if err != nil {
		s.log.Warnf("Could not read reporting state, using the default interval: %v", err)
	} else {
		interval = state.IntervalSec
		paused = state.Paused
	}

	s.ScheduleNext(interval)

	if paused {
		s.log.Debugf("Reporting is paused, skipping this fire")

		return
	}

	s.target.ScheduledFire(ctx)
}
