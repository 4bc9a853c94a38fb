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

package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/config"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/credentials"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/scheduler"
)

type fakeTarget struct {
	sched         *scheduler.Scheduler
	block         chan struct{}
	state         credentials.ReportingState
	fires         atomic.Int32
	pendingAtFire atomic.Bool
	mu            sync.Mutex
}

func (f *fakeTarget) ReportingState(context.Context) (credentials.ReportingState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state, nil
}

func (f *fakeTarget) ScheduledFire(ctx context.Context) {
	_, pending := f.sched.NextFire()
	f.pendingAtFire.Store(pending)
	f.fires.Add(1)

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
}

func (f *fakeTarget) setState(st credentials.ReportingState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = st
}

var _ = Describe("Scheduler", func() {
	var (
		target *fakeTarget
		sched  *scheduler.Scheduler
		now    time.Time
		unit   time.Duration
	)

	BeforeEach(func() {
		now = time.Unix(1700000000, 0)
		unit = 10 * time.Millisecond
		target = &fakeTarget{state: credentials.ReportingState{IntervalSec: 600}}
		sched = scheduler.New(target,
			scheduler.WithTimeUnit(unit),
			scheduler.WithClock(func() time.Time { return now }),
			scheduler.WithJitter(func() int { return 45 }),
		)
		target.sched = sched
	})

	AfterEach(func() {
		sched.Stop()
	})

	It("arms the first fire on start", func() {
		sched.Start(context.Background())

		next, ok := sched.NextFire()
		Expect(ok).To(BeTrue())
		Expect(next).To(Equal(now.Add(10 * unit)))
	})

	It("adds the jitter to the regular interval", func() {
		sched.ScheduleNext(600)

		next, ok := sched.NextFire()
		Expect(ok).To(BeTrue())
		Expect(next).To(Equal(now.Add(645 * unit)))
	})

	It("clamps the interval of a regular fire", func() {
		sched.ScheduleNext(5)

		next, _ := sched.NextFire()
		Expect(next).To(Equal(now.Add(105 * unit)))
	})

	It("never schedules less than one second ahead", func() {
		sched.ScheduleIn(0)

		next, _ := sched.NextFire()
		Expect(next).To(Equal(now.Add(unit)))
	})

	It("keeps a single pending fire", func() {
		sched.ScheduleIn(300)
		sched.ScheduleIn(2)

		Expect(sched.DueTimes()).To(Equal([]time.Time{now.Add(2 * unit)}))
		Eventually(target.fires.Load).WithTimeout(2 * time.Second).Should(Equal(int32(1)))
		Consistently(target.fires.Load).WithTimeout(200 * time.Millisecond).Should(Equal(int32(1)))
	})

	It("reschedules shortly after a settings change", func() {
		sched.ScheduleNext(600)
		sched.OnConfigSaved(config.Settings{IntervalSec: 600}, config.Settings{IntervalSec: 900})

		next, _ := sched.NextFire()
		Expect(next).To(Equal(now.Add(5 * unit)))
	})

	It("re-arms before running the cycle", func() {
		sched.ScheduleIn(1)

		Eventually(target.fires.Load).WithTimeout(2 * time.Second).Should(Equal(int32(1)))
		Expect(target.pendingAtFire.Load()).To(BeTrue())

		next, ok := sched.NextFire()
		Expect(ok).To(BeTrue())
		Expect(next).To(Equal(now.Add(645 * unit)))
	})

	It("keeps firing while a cycle hangs", func() {
		target.block = make(chan struct{})
		defer close(target.block)

		sched.ScheduleIn(1)
		Eventually(target.fires.Load).WithTimeout(2 * time.Second).Should(Equal(int32(1)))

		_, ok := sched.NextFire()
		Expect(ok).To(BeTrue())
	})

	It("re-arms but does not run the cycle while paused", func() {
		target.setState(credentials.ReportingState{IntervalSec: 600, Paused: true})

		sched.ScheduleIn(1)

		Eventually(func() bool {
			next, ok := sched.NextFire()

			return ok && next.Equal(now.Add(645*unit))
		}).WithTimeout(2 * time.Second).Should(BeTrue())
		Expect(target.fires.Load()).To(BeZero())
	})

	It("drops the pending fire on cancel", func() {
		sched.ScheduleIn(3)
		sched.Cancel()

		_, ok := sched.NextFire()
		Expect(ok).To(BeFalse())
		Expect(sched.DueTimes()).To(BeEmpty())
		Consistently(target.fires.Load).WithTimeout(100 * time.Millisecond).Should(BeZero())
	})

	It("ignores schedule calls after stop", func() {
		sched.Stop()
		sched.ScheduleIn(1)

		_, ok := sched.NextFire()
		Expect(ok).To(BeFalse())
	})
})
