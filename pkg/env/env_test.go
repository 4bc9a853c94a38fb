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

package env_test

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/env"
)

var _ = Describe("Env", func() {
	const key = "HEARTBEAT_ENV_TEST"

	AfterEach(func() {
		_ = os.Unsetenv(key)
	})

	It("returns the default for unset optional variables", func() {
		v, err := env.GetAsInt(key, false, 600)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(600))
	})

	It("fails for unset required variables", func() {
		_, err := env.GetAsString(key, true, "")
		Expect(err).To(MatchError(ContainSubstring(key)))
	})

	It("falls back on malformed optional values and fails on required ones", func() {
		Expect(os.Setenv(key, "abc")).To(Succeed())

		v, err := env.GetAsInt(key, false, 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(7))

		_, err = env.GetAsInt(key, true, 7)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("GetAsBool",
		func(raw string, expected bool) {
			Expect(os.Setenv(key, raw)).To(Succeed())
			v, err := env.GetAsBool(key, true, !expected)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(expected))
		},
		Entry("yes", "yes", true),
		Entry("ON", "ON", true),
		Entry("0", "0", false),
		Entry("off", "off", false),
	)

	It("reads durations as Go durations or bare seconds", func() {
		Expect(os.Setenv(key, "90")).To(Succeed())
		v, err := env.GetAsDuration(key, true, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(90 * time.Second))

		Expect(os.Setenv(key, "2m")).To(Succeed())
		v, err = env.GetAsDuration(key, true, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(2 * time.Minute))
	})
})
