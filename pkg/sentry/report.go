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

package sentry

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// debounceWindow limits how often a non-fatal issue of one type reaches sentry.
const debounceWindow = 2 * time.Hour

type debouncer struct {
	last time.Time
	mu   sync.Mutex
}

// allow reports whether an event may be sent now and records it if so.
func (d *debouncer) allow(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.last.IsZero() && now.Sub(d.last) < debounceWindow {
		return false
	}

	d.last = now

	return true
}

var (
	errorDebounce   = &debouncer{}
	warningDebounce = &debouncer{}
)

// ReportIssue logs err and forwards it to sentry. Fatal issues flush and panic.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with tags attached to the sentry event.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		log.Errorf("The heartbeat agent has encountered a fatal error and will now terminate: %s", err)
		log.Errorf("Stack trace: %s", string(debug.Stack()))
		send(newEvent(sentry.LevelFatal, err, context))
		sentry.Flush(5 * time.Second)
		log.Panic("Fatal error")
	case IssueTypeError:
		log.Error(err)

		if errorDebounce.allow(time.Now()) {
			send(newEvent(sentry.LevelError, err, context))
		}
	case IssueTypeWarning:
		log.Warn(err)

		if warningDebounce.allow(time.Now()) {
			send(newEvent(sentry.LevelWarning, err, context))
		}
	}
}

// ReportComponentError reports an error raised by one of the agent's components.
func ReportComponentError(log *zap.SugaredLogger, component string, operation string, err error) {
	ReportIssueWithContext(err, IssueTypeError, log, map[string]interface{}{
		"component": component,
		"operation": operation,
	})
}
