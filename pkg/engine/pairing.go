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

package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/credentials"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/metrics"
)

// Pairing states.
const (
	StateUnpaired = "unpaired"
	StatePairing  = "pairing"
	StatePaired   = "paired"
	StateRevoked  = "revoked"
)

// Pairing events.
const (
	EventTokenEntered = "token_entered"
	EventTokenRemoved = "token_removed"
	EventPaired       = "paired"
	EventRejected     = "rejected"
	EventCleared      = "cleared"
)

var pairingTransitions = []fsm.EventDesc{
	{Name: EventTokenEntered, Src: []string{StateUnpaired}, Dst: StatePairing},
	{Name: EventTokenRemoved, Src: []string{StatePairing}, Dst: StateUnpaired},
	{Name: EventPaired, Src: []string{StateUnpaired, StatePairing, StateRevoked}, Dst: StatePaired},
	{Name: EventRejected, Src: []string{StatePaired}, Dst: StateRevoked},
	{Name: EventCleared, Src: []string{StatePairing, StatePaired, StateRevoked}, Dst: StateUnpaired},
}

// PairingState derives the lifecycle state from a stored credential.
func PairingState(cred credentials.Credential) string {
	switch {
	case cred.SessionToken != "" && cred.Connected:
		return StatePaired
	case cred.SessionToken != "":
		return StateRevoked
	case cred.InstallToken != "":
		return StatePairing
	default:
		return StateUnpaired
	}
}

func pairingGauge(state string) int {
	switch state {
	case StatePairing:
		return 1
	case StatePaired:
		return 2
	case StateRevoked:
		return 3
	default:
		return 0
	}
}

// pairingMachine tracks the credential lifecycle. The stored credential is
// the source of truth; the machine follows it and logs every transition.
type pairingMachine struct {
	fsm *fsm.FSM
	log *zap.SugaredLogger
	mu  sync.Mutex
}

func newPairingMachine(log *zap.SugaredLogger) *pairingMachine {
	p := &pairingMachine{log: log}

	p.fsm = fsm.NewFSM(
		StateUnpaired,
		fsm.Events(pairingTransitions),
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				p.log.Infof("Pairing state changed from %s to %s (%s)", e.Src, e.Dst, e.Event)
				metrics.SetPairingState(pairingGauge(e.Dst))
			},
			"enter_" + StateRevoked: func(_ context.Context, _ *fsm.Event) {
				p.log.Warnf("Collector rejected the session token, re-pairing is required")
			},
		},
	)

	return p
}

// Sync moves the machine to target. A jump that no event describes, such
// as a session token that was replaced out of band, is applied directly.
func (p *pairingMachine) Sync(ctx context.Context, target string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.fsm.Current()
	if current == target {
		return
	}

	event := eventFor(current, target)
	if event != "" {
		err := p.fsm.Event(ctx, event)

		var noTransition fsm.NoTransitionError
		if err == nil || errors.As(err, &noTransition) {
			return
		}

		p.log.Debugf("Pairing event %s from %s failed: %v", event, current, err)
	}

	p.log.Infof("Pairing state set from %s to %s", current, target)
	p.fsm.SetState(target)
	metrics.SetPairingState(pairingGauge(target))
}

func eventFor(from string, to string) string {
	for _, t := range pairingTransitions {
		if t.Dst != to {
			continue
		}

		for _, src := range t.Src {
			if src == from {
				return t.Name
			}
		}
	}

	return ""
}
