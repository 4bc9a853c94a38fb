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

package persistence_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/persistence"
)

func storeBehaviour(newStore func() persistence.Store) {
	var (
		ctx   context.Context
		store persistence.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newStore()
		Expect(store.CreateCollection(ctx, "options")).To(Succeed())
	})

	AfterEach(func() {
		_ = store.Close()
	})

	It("returns ErrNotFound for missing documents", func() {
		_, err := store.Get(ctx, "options", "missing")
		Expect(err).To(MatchError(persistence.ErrNotFound))
	})

	It("replaces documents on Put and reads them back", func() {
		Expect(store.Put(ctx, "options", "wthb_options", persistence.Document{"interval_sec": 600, "token": "abc"})).To(Succeed())
		Expect(store.Put(ctx, "options", "wthb_options", persistence.Document{"interval_sec": 1200})).To(Succeed())

		doc, err := store.Get(ctx, "options", "wthb_options")
		Expect(err).NotTo(HaveOccurred())

		interval, ok := doc.Int64("interval_sec")
		Expect(ok).To(BeTrue())
		Expect(interval).To(Equal(int64(1200)))
		Expect(doc.Has("token")).To(BeFalse())
	})

	It("deletes documents", func() {
		Expect(store.Put(ctx, "options", "wtm_instance_id", persistence.Document{"value": "legacy-123"})).To(Succeed())
		Expect(store.Delete(ctx, "options", "wtm_instance_id")).To(Succeed())
		Expect(store.Delete(ctx, "options", "wtm_instance_id")).To(MatchError(persistence.ErrNotFound))
	})

	It("rejects collection names that are not identifiers", func() {
		Expect(store.CreateCollection(ctx, "options; DROP TABLE x")).NotTo(Succeed())
	})

	It("pings while open and fails after Close", func() {
		Expect(store.Ping(ctx)).To(Succeed())
		Expect(store.Close()).To(Succeed())
		Expect(store.Ping(ctx)).To(MatchError(persistence.ErrClosed))
	})
}

var _ = Describe("InMemoryStore", func() {
	storeBehaviour(func() persistence.Store { return persistence.NewInMemoryStore() })

	It("does not share maps with callers", func() {
		ctx := context.Background()
		store := persistence.NewInMemoryStore()
		Expect(store.CreateCollection(ctx, "options")).To(Succeed())

		doc := persistence.Document{"token": "abc"}
		Expect(store.Put(ctx, "options", "k", doc)).To(Succeed())
		doc["token"] = "mutated"

		stored, err := store.Get(ctx, "options", "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.String("token")).To(Equal("abc"))
	})
})

var _ = Describe("SQLiteStore", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "heartbeat-sqlite-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = os.RemoveAll(dir) })
	})

	storeBehaviour(func() persistence.Store {
		store, err := persistence.NewSQLiteStore(filepath.Join(dir, "heartbeat.db"))
		Expect(err).NotTo(HaveOccurred())

		return store
	})
})

var _ = Describe("Document conversions", func() {
	It("reads numbers regardless of their decoded type", func() {
		doc := persistence.Document{"a": float64(42), "b": 7, "c": "13", "d": "x"}

		a, ok := doc.Int64("a")
		Expect(ok).To(BeTrue())
		Expect(a).To(Equal(int64(42)))

		b, _ := doc.Int64("b")
		Expect(b).To(Equal(int64(7)))

		c, _ := doc.Int64("c")
		Expect(c).To(Equal(int64(13)))

		_, ok = doc.Int64("d")
		Expect(ok).To(BeFalse())
	})

	It("reads booleans from bools, numbers and strings", func() {
		doc := persistence.Document{"a": true, "b": float64(1), "c": "true", "d": float64(0)}
		Expect(doc.Bool("a")).To(BeTrue())
		Expect(doc.Bool("b")).To(BeTrue())
		Expect(doc.Bool("c")).To(BeTrue())
		Expect(doc.Bool("d")).To(BeFalse())
		Expect(doc.Bool("missing")).To(BeFalse())
	})
})
