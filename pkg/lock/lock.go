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

// Package lock provides the advisory, self-expiring lock that keeps at most
// one heartbeat cycle in flight.
package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/constants"
)

type lease struct {
	expiresAt time.Time
	holder    string
}

// DeliveryLock hands out named leases with a fixed TTL. A holder that never
// releases loses its lease once the TTL has passed.
type DeliveryLock struct {
	leases *expiremap.ExpireMap[string, lease]
	now    func() time.Time
	ttl    time.Duration
	mu     sync.Mutex
}

// Option configures a DeliveryLock.
type Option func(*DeliveryLock)

// WithClock overrides the time source used for lease expiry.
func WithClock(now func() time.Time) Option {
	return func(l *DeliveryLock) { l.now = now }
}

// WithTTL overrides the lease duration.
func WithTTL(ttl time.Duration) Option {
	return func(l *DeliveryLock) { l.ttl = ttl }
}

// New creates a lock with the default 60s TTL.
func New(opts ...Option) *DeliveryLock {
	l := &DeliveryLock{
		now: time.Now,
		ttl: constants.DeliveryLockTTL,
	}

	for _, opt := range opts {
		opt(l)
	}

	// The map culls on its own schedule; expiry is decided by the lease
	// timestamp so that an injected clock is honoured.
	l.leases = expiremap.NewEx[string, lease](l.ttl, l.ttl)

	return l
}

// TryAcquire takes the lease for key if it is free or expired. It never
// waits. The returned release function is idempotent and only frees the
// lease it was handed out for.
func (l *DeliveryLock) TryAcquire(key string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if current, exists := l.leases.Load(key); exists && current.holder != "" && now.Before(current.expiresAt) {
		return nil, false
	}

	holder := uuid.NewString()
	l.leases.Set(key, lease{holder: holder, expiresAt: now.Add(l.ttl)})

	var once sync.Once

	return func() {
		once.Do(func() { l.release(key, holder) })
	}, true
}

// Held reports whether an unexpired lease exists for key.
func (l *DeliveryLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, exists := l.leases.Load(key)

	return exists && current.holder != "" && l.now().Before(current.expiresAt)
}

func (l *DeliveryLock) release(key string, holder string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, exists := l.leases.Load(key)
	if !exists || current.holder != holder {
		return
	}

	l.leases.Set(key, lease{})
}
