// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultExecutorTimeout = 60 * time.Second

// executorAuthHeader carries the access key expected by the execution
// service, separate from the key inside the body.
const executorAuthHeader = "X-Access-Key"

type executorRequest struct {
	Key   string `json:"key"`
	Query string `json:"query"`
}

// executorErrorBody is the best-effort shape of a 4xx response.
type executorErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// ExecutorClient runs SQL against the external query-execution service.
//
// Description:
//
//	A 4xx from the service (bad SQL, auth failure) is a query failure
//	captured inside the returned Result with the service's own error text;
//	only infrastructure failures produce a non-nil error.
//
// Thread Safety: ExecutorClient is safe for concurrent use.
type ExecutorClient struct {
	httpClient *http.Client
	baseURL    string
	accessKey  string
}

// NewExecutorClient creates an ExecutorClient from environment variables.
//
// Description:
//
//	Reads EXECUTOR_URL and EXECUTOR_KEY (both required) from the
//	environment.
//
// Outputs:
//   - *ExecutorClient: The configured client.
//   - error: Non-nil if a required variable is missing.
func NewExecutorClient() (*ExecutorClient, error) {
	baseURL := os.Getenv("EXECUTOR_URL")
	accessKey := os.Getenv("EXECUTOR_KEY")
	if baseURL == "" {
		return nil, fmt.Errorf("executor: endpoint is missing (EXECUTOR_URL)")
	}
	if accessKey == "" {
		return nil, fmt.Errorf("executor: access key is missing (EXECUTOR_KEY)")
	}
	slog.Info("Initializing SQL executor client", slog.String("url", baseURL))
	return NewExecutorClientWithConfig(baseURL, accessKey, defaultExecutorTimeout), nil
}

// NewExecutorClientWithConfig creates an ExecutorClient with explicit
// configuration. Useful for testing against httptest servers.
func NewExecutorClientWithConfig(baseURL, accessKey string, timeout time.Duration) *ExecutorClient {
	return &ExecutorClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		accessKey:  accessKey,
	}
}

// Execute runs one SQL statement and returns its rows.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - sql: The statement to execute. Callers are expected to have passed
//     it through validation and limit enforcement already.
//
// Outputs:
//   - *Result: Rows on success, or the service's error text on rejection.
//   - error: Non-nil *BackendError only for infrastructure failure.
//
// Thread Safety: This method is safe for concurrent use.
func (c *ExecutorClient) Execute(ctx context.Context, sql string) (*Result, error) {
	tracer := otel.Tracer("aleutian.chairside.backends")
	ctx, span := tracer.Start(ctx, "ExecutorClient.Execute")
	defer span.End()

	payload, err := json.Marshal(executorRequest{Key: c.accessKey, Query: sql})
	if err != nil {
		return nil, &BackendError{Backend: "executor", Class: ClassValidation, Message: "marshaling request", Err: err}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &BackendError{Backend: "executor", Class: ClassValidation, Message: "creating HTTP request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(executorAuthHeader, c.accessKey)

	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues("executor").Observe(time.Since(start).Seconds())
	if err != nil {
		class := ClassUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			class = ClassTimeout
		}
		be := &BackendError{Backend: "executor", Class: class, Message: "HTTP request failed", Err: err}
		requestErrors.WithLabelValues("executor", string(class)).Inc()
		span.RecordError(be)
		span.SetStatus(codes.Error, "executor request failed")
		return nil, be
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Backend: "executor", Class: ClassUnavailable, Message: "reading response body", Err: err}
	}

	if resp.StatusCode >= 500 {
		be := &BackendError{Backend: "executor", Class: ClassUnavailable,
			Message: fmt.Sprintf("server returned status %d", resp.StatusCode)}
		requestErrors.WithLabelValues("executor", string(ClassUnavailable)).Inc()
		span.RecordError(be)
		span.SetStatus(codes.Error, "executor server error")
		return nil, be
	}

	if resp.StatusCode >= 400 {
		var errBody executorErrorBody
		_ = json.Unmarshal(body, &errBody)
		msg := errBody.Error
		if msg == "" {
			msg = errBody.Message
		}
		if msg == "" {
			msg = errBody.Detail
		}
		if msg == "" {
			msg = truncate(string(body), 200)
		}
		slog.Warn("SQL executor rejected query",
			slog.Int("status", resp.StatusCode),
			slog.String("error", msg),
		)
		span.SetAttributes(attribute.Int("executor.status", resp.StatusCode))
		return &Result{Success: false, Error: msg, StatusCode: resp.StatusCode}, nil
	}

	rows, ok := decodeRecordList(body)
	if !ok {
		// Rows present but not shaped as objects, or an unrecognized
		// envelope. Let the formatter explain it rather than erroring.
		slog.Warn("SQL executor response rows were not object-shaped",
			slog.Int("response_len", len(body)),
		)
		return &Result{Success: true, Rows: nil, StatusCode: resp.StatusCode}, nil
	}

	span.SetAttributes(attribute.Int("executor.rows", len(rows)))
	return &Result{Success: true, Rows: rows, StatusCode: resp.StatusCode}, nil
}
