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

// Package credentials owns the persisted identity and reporting state of the
// agent.
//
// Everything except the instance id lives in one settings document. Every
// mutation is a read-modify-write of that document under a context aware
// mutex, and fields the agent does not know about are written back
// untouched. The instance id is kept in its own document so that clearing
// the pairing can never lose it.
package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/config"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/constants"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/logger"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/persistence"
)

// Field names inside the settings document.
const (
	fieldToken            = "token"
	fieldEndpoint         = "endpoint"
	fieldIntervalSec      = "interval_sec"
	fieldPause            = "pause"
	fieldConnected        = "connected"
	fieldAgentJWT         = "agent_jwt"
	fieldAgentJWTExp      = "agent_jwt_exp"
	fieldAgentJWTInactive = "agent_jwt_inactive"
	fieldLastUnlinkedAt   = "last_unlinked_at"
	fieldLastSuccessAt    = "last_success_at"
	fieldLastError        = "last_error"

	fieldValue = "value"
)

// Credential is the identity of the agent towards the collector.
// Connected is only ever true together with a SessionToken.
type Credential struct {
	InstanceID           string
	Endpoint             string
	InstallToken         string
	SessionToken         string
	InactiveSessionToken string

	// SessionTokenExpiry and LastUnlinkedAt are unix seconds, 0 if unknown.
	SessionTokenExpiry int64
	LastUnlinkedAt     int64

	Connected bool
}

// ActiveToken returns the token used for authorization. The session token
// wins over the install token.
func (c Credential) ActiveToken() string {
	if c.SessionToken != "" {
		return c.SessionToken
	}

	return c.InstallToken
}

// ReportingState controls when and whether heartbeats are sent.
type ReportingState struct {
	LastError     string
	IntervalSec   int
	LastSuccessAt int64
	Paused        bool
}

// Store is the CredentialStore.
type Store struct {
	backend persistence.Store
	now     func() time.Time
	newID   func() string
	log     *zap.SugaredLogger
	sem     *semaphore.Weighted
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source for recorded timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides instance id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New creates a Store on top of backend and makes sure its collection exists.
func New(ctx context.Context, backend persistence.Store, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     logger.For(logger.ComponentCredentialStore),
		sem:     semaphore.NewWeighted(1),
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := backend.CreateCollection(ctx, constants.SettingsCollection); err != nil {
		return nil, &StorageError{Op: "create collection", Err: err}
	}

	return s, nil
}

// Load reads the persisted state. Missing fields get their defaults and an
// out of range interval is clamped; nothing is written back.
func (s *Store) Load(ctx context.Context) (Credential, ReportingState, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return Credential{}, ReportingState{}, err
	}

	cred, state := decode(doc)

	id, err := s.GetOrCreateInstanceID(ctx)
	if err != nil {
		return Credential{}, ReportingState{}, err
	}

	cred.InstanceID = id

	return cred, state, nil
}

// Save writes both structures in a single document write. The instance id
// is not part of the settings document and is ignored.
func (s *Store) Save(ctx context.Context, cred Credential, state ReportingState) error {
	_, _, err := s.Update(ctx, "save", func(c *Credential, st *ReportingState) {
		id := c.InstanceID
		*c = cred
		c.InstanceID = id
		*st = state
	})

	return err
}

// Update applies fn to the current state and persists the result. It
// returns the state as written.
func (s *Store) Update(ctx context.Context, op string, fn func(*Credential, *ReportingState)) (Credential, ReportingState, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Credential{}, ReportingState{}, &StorageError{Op: op, Err: err}
	}
	defer s.sem.Release(1)

	doc, err := s.read(ctx)
	if err != nil {
		return Credential{}, ReportingState{}, err
	}

	cred, state := decode(doc)
	fn(&cred, &state)

	// The interval is clamped at every boundary.
	state.IntervalSec = config.ClampInterval(state.IntervalSec)

	encode(doc, cred, state)

	if err := s.backend.Put(ctx, constants.SettingsCollection, constants.SettingsKey, doc); err != nil {
		return Credential{}, ReportingState{}, &StorageError{Op: op, Err: err}
	}

	return cred, state, nil
}

// ClearPairing retires the session token and clears the install token. The
// previous session token is kept as inactive for diagnostics. Calling it
// without a session is fine.
func (s *Store) ClearPairing(ctx context.Context) error {
	_, _, err := s.Update(ctx, "clear pairing", func(c *Credential, _ *ReportingState) {
		if c.SessionToken != "" {
			c.InactiveSessionToken = c.SessionToken
		}

		c.SessionToken = ""
		c.SessionTokenExpiry = 0
		c.Connected = false
		c.InstallToken = ""
		c.LastUnlinkedAt = s.now().Unix()
	})
	if err == nil {
		s.log.Infof("Pairing cleared")
	}

	return err
}

// SetConnected updates the connected flag only.
func (s *Store) SetConnected(ctx context.Context, connected bool) error {
	_, _, err := s.Update(ctx, "set connected", func(c *Credential, _ *ReportingState) {
		c.Connected = connected
	})

	return err
}

// RecordSuccess stamps the last success and clears the last error.
func (s *Store) RecordSuccess(ctx context.Context) error {
	_, _, err := s.Update(ctx, "record success", func(_ *Credential, st *ReportingState) {
		st.LastSuccessAt = s.now().Unix()
		st.LastError = ""
	})

	return err
}

// RecordError stores msg, truncated, as the last error.
func (s *Store) RecordError(ctx context.Context, msg string) error {
	_, _, err := s.Update(ctx, "record error", func(_ *Credential, st *ReportingState) {
		st.LastError = Truncate(msg, constants.MaxErrorLength)
	})

	return err
}

// Settings returns the operator-editable view of the stored state.
func (s *Store) Settings(ctx context.Context) (config.Settings, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return config.Settings{}, err
	}

	cred, state := decode(doc)

	return settingsOf(cred, state), nil
}

// SaveSettings applies an operator patch and returns the settings before
// and after the change.
func (s *Store) SaveSettings(ctx context.Context, patch config.SettingsPatch) (config.Settings, config.Settings, error) {
	var previous config.Settings

	cred, state, err := s.Update(ctx, "save settings", func(c *Credential, st *ReportingState) {
		previous = settingsOf(*c, *st)
		next := patch.Apply(previous)

		c.Endpoint = next.Endpoint
		c.InstallToken = next.Token
		st.IntervalSec = next.IntervalSec
		st.Paused = next.Pause
	})
	if err != nil {
		return config.Settings{}, config.Settings{}, err
	}

	return previous, settingsOf(cred, state), nil
}

// Seed writes the initial settings if nothing has been persisted yet. It
// reports whether it wrote anything.
func (s *Store) Seed(ctx context.Context, settings config.Settings) (bool, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return false, &StorageError{Op: "seed", Err: err}
	}
	defer s.sem.Release(1)

	_, err := s.backend.Get(ctx, constants.SettingsCollection, constants.SettingsKey)

	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, persistence.ErrNotFound):
		return false, &StorageError{Op: "seed", Err: err}
	}

	settings = settings.Normalize()
	doc := persistence.Document{}
	encode(doc, Credential{Endpoint: settings.Endpoint, InstallToken: settings.Token}, ReportingState{
		IntervalSec: settings.IntervalSec,
		Paused:      settings.Pause,
	})

	if err := s.backend.Put(ctx, constants.SettingsCollection, constants.SettingsKey, doc); err != nil {
		return false, &StorageError{Op: "seed", Err: err}
	}

	return true, nil
}

// GetOrCreateInstanceID returns the stable instance id. A legacy id is
// migrated by copying it to the current key and deleting the old one.
func (s *Store) GetOrCreateInstanceID(ctx context.Context) (string, error) {
	id, err := s.readValue(ctx, constants.InstanceIDKey)
	if err != nil || id != "" {
		return id, err
	}

	legacy, err := s.readValue(ctx, constants.LegacyInstanceKey)
	if err != nil {
		return "", err
	}

	if legacy != "" {
		if err := s.writeValue(ctx, constants.InstanceIDKey, legacy); err != nil {
			return "", err
		}

		if err := s.backend.Delete(ctx, constants.SettingsCollection, constants.LegacyInstanceKey); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return "", &StorageError{Op: "delete legacy instance id", Err: err}
		}

		s.log.Infof("Migrated legacy instance id")

		return legacy, nil
	}

	id = s.newID()
	if err := s.writeValue(ctx, constants.InstanceIDKey, id); err != nil {
		return "", err
	}

	s.log.Infof("Created instance id %s", id)

	return id, nil
}

func (s *Store) read(ctx context.Context) (persistence.Document, error) {
	doc, err := s.backend.Get(ctx, constants.SettingsCollection, constants.SettingsKey)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.Document{}, nil
	}

	if err != nil {
		return nil, &StorageError{Op: "read settings", Err: err}
	}

	return doc, nil
}

func (s *Store) readValue(ctx context.Context, key string) (string, error) {
	doc, err := s.backend.Get(ctx, constants.SettingsCollection, key)
	if errors.Is(err, persistence.ErrNotFound) {
		return "", nil
	}

	if err != nil {
		return "", &StorageError{Op: "read " + key, Err: err}
	}

	return doc.String(fieldValue), nil
}

func (s *Store) writeValue(ctx context.Context, key string, value string) error {
	if err := s.backend.Put(ctx, constants.SettingsCollection, key, persistence.Document{fieldValue: value}); err != nil {
		return &StorageError{Op: "write " + key, Err: err}
	}

	return nil
}

func decode(doc persistence.Document) (Credential, ReportingState) {
	cred := Credential{
		Endpoint:             doc.String(fieldEndpoint),
		InstallToken:         doc.String(fieldToken),
		SessionToken:         doc.String(fieldAgentJWT),
		InactiveSessionToken: doc.String(fieldAgentJWTInactive),
		Connected:            doc.Bool(fieldConnected),
	}

	if cred.Endpoint == "" {
		cred.Endpoint = constants.DefaultEndpoint
	}

	cred.SessionTokenExpiry, _ = doc.Int64(fieldAgentJWTExp)
	cred.LastUnlinkedAt, _ = doc.Int64(fieldLastUnlinkedAt)

	// A connected flag without a session token is an invalid state.
	if cred.SessionToken == "" {
		cred.Connected = false
	}

	state := ReportingState{
		IntervalSec: constants.DefaultIntervalSec,
		Paused:      doc.Bool(fieldPause),
		LastError:   doc.String(fieldLastError),
	}

	if interval, ok := doc.Int64(fieldIntervalSec); ok {
		state.IntervalSec = config.ClampInterval(int(interval))
	}

	state.LastSuccessAt, _ = doc.Int64(fieldLastSuccessAt)

	return cred, state
}

func encode(doc persistence.Document, cred Credential, state ReportingState) {
	doc[fieldEndpoint] = cred.Endpoint
	doc[fieldToken] = cred.InstallToken
	doc[fieldAgentJWT] = cred.SessionToken
	doc[fieldAgentJWTInactive] = cred.InactiveSessionToken
	doc[fieldConnected] = cred.Connected && cred.SessionToken != ""
	doc[fieldIntervalSec] = state.IntervalSec
	doc[fieldPause] = state.Paused
	doc[fieldLastError] = state.LastError

	putOptional(doc, fieldAgentJWTExp, cred.SessionTokenExpiry)
	putOptional(doc, fieldLastUnlinkedAt, cred.LastUnlinkedAt)
	putOptional(doc, fieldLastSuccessAt, state.LastSuccessAt)
}

func putOptional(doc persistence.Document, key string, v int64) {
	if v == 0 {
		delete(doc, key)

		return
	}

	doc[key] = v
}

func settingsOf(cred Credential, state ReportingState) config.Settings {
	return config.Settings{
		Endpoint:    cred.Endpoint,
		Token:       cred.InstallToken,
		IntervalSec: state.IntervalSec,
		Pause:       state.Paused,
	}
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
