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

// Package persistence is the host settings storage the agent keeps its
// identity and reporting state in.
//
// Documents are schemaless JSON objects addressed by collection and id.
// Every Put replaces the whole document in a single write, and a Get that
// follows a successful Put observes it. There is no cache layer in front of
// the backends, so callers never need to invalidate anything.
//
// Numbers round-trip through JSON and come back as float64 from the SQLite
// backend. Readers should convert with the helpers in this package instead of
// asserting concrete types.
package persistence

import (
	"context"
	"errors"
	"regexp"
)

// Document is a single stored record.
type Document map[string]interface{}

// Store is implemented by the SQLite and in-memory backends.
type Store interface {
	// CreateCollection creates the collection if it does not exist.
	CreateCollection(ctx context.Context, name string) error

	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection string, id string) (Document, error)

	// Put inserts or replaces the document.
	Put(ctx context.Context, collection string, id string, doc Document) error

	// Delete removes the document. Deleting a missing document returns ErrNotFound.
	Delete(ctx context.Context, collection string, id string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store is closed")
)

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateCollectionName rejects names that are not plain identifiers. The
// SQLite backend interpolates them into statements.
func ValidateCollectionName(name string) error {
	if name == "" {
		return errors.New("invalid collection name: cannot be empty")
	}

	if !collectionNamePattern.MatchString(name) {
		return errors.New("invalid collection name: " + name)
	}

	return nil
}
