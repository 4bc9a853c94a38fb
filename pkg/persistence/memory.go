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

package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tiendc/go-deepcopy"
)

// InMemoryStore keeps documents in process memory. Documents are deep
// copied on the way in and out so callers never share maps with the store.
type InMemoryStore struct {
	collections map[string]map[string]Document
	mu          sync.RWMutex
	closed      bool
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{collections: make(map[string]map[string]Document)}
}

func (s *InMemoryStore) CreateCollection(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, ok := s.collections[name]; !ok {
		s.collections[name] = make(map[string]Document)
	}

	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, collection string, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	coll, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", collection)
	}

	doc, ok := coll[id]
	if !ok {
		return nil, ErrNotFound
	}

	return cloneDocument(doc)
}

func (s *InMemoryStore) Put(ctx context.Context, collection string, id string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if doc == nil {
		return errors.New("document cannot be nil")
	}

	stored, err := cloneDocument(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	coll, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("collection %q does not exist", collection)
	}

	coll[id] = stored

	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, collection string, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	coll, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("collection %q does not exist", collection)
	}

	if _, ok := coll[id]; !ok {
		return ErrNotFound
	}

	delete(coll, id)

	return nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return nil
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("store already closed")
	}

	s.closed = true
	s.collections = nil

	return nil
}

func cloneDocument(doc Document) (Document, error) {
	var out Document
	if err := deepcopy.Copy(&out, doc); err != nil {
		return nil, fmt.Errorf("failed to copy document: %w", err)
	}

	return out, nil
}
