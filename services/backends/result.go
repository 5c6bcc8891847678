// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backends contains the HTTP adapters for the three external data
// services the gateway talks to: the TXQL SQL-generation service, the
// AI-Voice call-analytics API, and the SQL execution service.
//
// Every adapter follows the same propagation policy: a query-level failure
// reported by the backend (4xx) is captured inside Result with Success=false,
// while infrastructure failures (connection refused, DNS, timeout, 5xx)
// are returned as a non-nil *BackendError so callers can branch on
// retryability explicitly instead of string-matching error text.
package backends

import (
	"errors"
	"fmt"
)

// Row is one record returned by the SQL executor or synthesized from
// AI-Voice call records. Column names are preserved as the backend sent them.
type Row = map[string]any

// Result is the typed outcome of a query execution.
//
// Description:
//
//	Success=false with a non-empty Error means the backend rejected the
//	query (bad SQL, auth failure); StatusCode carries the backend's HTTP
//	status in that case. Rows is nil unless Success is true.
//
// Thread Safety: Result is written once by an adapter and read-only afterward.
type Result struct {
	Success    bool   `json:"success"`
	Rows       []Row  `json:"rows,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

// ErrorClass partitions adapter failures into the fixed set of classes the
// orchestrator branches on.
type ErrorClass string

const (
	// ClassValidation marks bad input. Never retried.
	ClassValidation ErrorClass = "validation"

	// ClassUnavailable marks connection refused, DNS failure, or a 5xx.
	// Retried with backoff up to the attempt ceiling.
	ClassUnavailable ErrorClass = "unavailable"

	// ClassTimeout marks a request-level deadline expiry. Retryable, but
	// tracked separately from ClassUnavailable in metrics and logs.
	ClassTimeout ErrorClass = "timeout"

	// ClassRejected marks a 4xx from the backend. Not retried; the
	// backend's own error text is surfaced where available.
	ClassRejected ErrorClass = "rejected"

	// ClassMalformed marks a response this system cannot interpret, such
	// as a TXQL payload with no extractable SQL. Callers fall back to a
	// degraded response instead of failing the request.
	ClassMalformed ErrorClass = "malformed"
)

// BackendError carries the failure class alongside the backend name so the
// top-level handler can build a friendly message distinct from the raw detail.
type BackendError struct {
	Backend string
	Class   ErrorClass
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Retryable reports whether err is a backend failure worth retrying.
//
// Description:
//
//	Only ClassUnavailable and ClassTimeout qualify. Validation and
//	rejection errors are deterministic, so retrying them wastes the
//	attempt budget without changing the outcome.
func Retryable(err error) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	return be.Class == ClassUnavailable || be.Class == ClassTimeout
}

// ClassOf extracts the ErrorClass from err, or ClassUnavailable when err is
// not a *BackendError (unknown transport failures are treated as outages).
func ClassOf(err error) ErrorClass {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Class
	}
	return ClassUnavailable
}
