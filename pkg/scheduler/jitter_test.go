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

package scheduler

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/constants"
)

var _ = Describe("uniformJitter", func() {
	It("stays within the jitter window and reaches both ends", func() {
		seen := map[int]bool{}

		for n := 0; n < 20000; n++ {
			v := uniformJitter()
			Expect(v).To(BeNumerically(">=", constants.JitterMinSec))
			Expect(v).To(BeNumerically("<=", constants.JitterMaxSec))

			seen[v] = true
		}

		Expect(seen).To(HaveKey(constants.JitterMinSec))
		Expect(seen).To(HaveKey(constants.JitterMaxSec))
		Expect(seen).To(HaveLen(constants.JitterMaxSec - constants.JitterMinSec + 1))
	})
})
