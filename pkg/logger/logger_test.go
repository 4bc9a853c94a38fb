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

package logger

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zapcore"
)

var _ = Describe("Logger", func() {
	DescribeTable("parseLevel",
		func(in string, expected zapcore.Level) {
			Expect(parseLevel(in)).To(Equal(expected))
		},
		Entry("debug", "debug", zapcore.DebugLevel),
		Entry("warn", "WARN", zapcore.WarnLevel),
		Entry("error", "ERROR", zapcore.ErrorLevel),
		Entry("production falls back to info", "PRODUCTION", zapcore.InfoLevel),
		Entry("garbage falls back to info", "loud", zapcore.InfoLevel),
	)

	It("defaults to the console format", func() {
		Expect(parseFormat("")).To(Equal(FormatConsole))
		Expect(parseFormat("json")).To(Equal(FormatJSON))
	})

	It("returns a named logger per component", func() {
		log := For(ComponentEngine)
		Expect(log).NotTo(BeNil())
		Expect(log.Desugar().Name()).To(Equal(ComponentEngine))
	})
})
