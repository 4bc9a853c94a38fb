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

package delivery

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/constants"
)

// ErrMissingCredential is returned when there is no endpoint or no token to
// authorize with. Nothing is sent.
var ErrMissingCredential = errors.New("missing endpoint or token")

// ResultKind classifies the outcome of a heartbeat request.
type ResultKind string

const (
	// ResultSuccess is any 2xx answer.
	ResultSuccess ResultKind = "success"
	// ResultRejected is a 401 or 403: the credential is not accepted.
	ResultRejected ResultKind = "rejected"
	// ResultServerError is every other HTTP status.
	ResultServerError ResultKind = "server_error"
	// ResultTransportError means no HTTP response was received at all.
	ResultTransportError ResultKind = "transport_error"
)

// Result is the classified outcome of a heartbeat request. Which fields are
// set depends on Kind.
type Result struct {
	Kind ResultKind

	// Body is the full response body of a success.
	Body []byte
	// BodyPrefix is the start of the response body of a failed request.
	BodyPrefix string
	// Message describes a transport error.
	Message string
	// Code is the HTTP status for everything but transport errors.
	Code int
}

// Detail renders the outcome for the last error field. Successes have no
// detail.
func (r Result) Detail() string {
	switch r.Kind {
	case ResultRejected, ResultServerError:
		return strings.TrimSpace(fmt.Sprintf("HTTP %d %s", r.Code, r.BodyPrefix))
	case ResultTransportError:
		return r.Message
	default:
		return ""
	}
}

// Retryable reports whether the next scheduled fire should back off.
func (r Result) Retryable() bool {
	return r.Kind == ResultServerError || r.Kind == ResultTransportError
}

func classify(code int, body []byte) Result {
	switch {
	case code >= 200 && code < 300:
		return Result{Kind: ResultSuccess, Code: code, Body: body}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Result{Kind: ResultRejected, Code: code, BodyPrefix: prefix(body)}
	default:
		return Result{Kind: ResultServerError, Code: code, BodyPrefix: prefix(body)}
	}
}

func prefix(body []byte) string {
	if len(body) > constants.MaxErrorLength {
		body = body[:constants.MaxErrorLength]
	}

	return strings.ToValidUTF8(string(body), "")
}

// Directives are the optional instructions a collector sends with a 2xx.
type Directives struct {
	AgentJWTExpiresAt  *int64 `json:"agentJwtExpiresAt,omitempty"`
	DesiredIntervalSec *int   `json:"desiredIntervalSec,omitempty"`
	Pause              *bool  `json:"pause,omitempty"`
	AgentJWT           string `json:"agentJwt,omitempty"`
}

// Directives decodes the body of a success. An empty or non-object body
// yields no directives and no error.
func (r Result) Directives() (Directives, error) {
	var d Directives

	body := strings.TrimSpace(string(r.Body))
	if r.Kind != ResultSuccess || !strings.HasPrefix(body, "{") {
		return d, nil
	}

	if err := unmarshal([]byte(body), &d); err != nil {
		return Directives{}, fmt.Errorf("failed to decode collector response: %w", err)
	}

	return d, nil
}
