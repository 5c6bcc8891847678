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
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultTXQLTimeout  = 60 * time.Second
	txqlMaxAttempts     = 3
	txqlMaxResponseSize = 4 << 20
)

// txqlRequest is the wire payload for the SQL-generation service. LicenseKey
// selects which underlying database the service generates SQL against; it is
// omitted when the question carried no key prefix.
type txqlRequest struct {
	Question   string `json:"question"`
	SessionID  string `json:"session_id"`
	LicenseKey string `json:"license_key,omitempty"`
}

// TXQLResult is the adapter's view of a SQL-generation response.
//
// Description:
//
//	SQL is the extracted statement, empty when the service answered in
//	prose with no recoverable SQL. Raw is the best-effort text of the
//	response so the caller can pass it through when SQL is absent.
type TXQLResult struct {
	SQL string
	Raw string
}

// TXQLClient calls the external SQL-generation service using raw net/http.
//
// Description:
//
//	Implements bounded retry with exponential backoff (1s, 2s, 4s) for
//	unavailable/timeout failures. The service's response schema is loosely
//	typed, so the client defensively probes several likely shapes to
//	recover an embedded SQL string.
//
// Thread Safety: TXQLClient is safe for concurrent use.
type TXQLClient struct {
	httpClient  *http.Client
	baseURL     string
	maxAttempts int
}

// NewTXQLClient creates a TXQLClient from environment variables.
//
// Description:
//
//	Reads TXQL_URL (required) and TXQL_TIMEOUT (optional Go duration,
//	default 60s) from the environment.
//
// Outputs:
//   - *TXQLClient: The configured client.
//   - error: Non-nil if TXQL_URL is missing.
func NewTXQLClient() (*TXQLClient, error) {
	baseURL := os.Getenv("TXQL_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("txql: endpoint is missing (TXQL_URL)")
	}
	timeout := defaultTXQLTimeout
	if raw := os.Getenv("TXQL_TIMEOUT"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			slog.Warn("Invalid TXQL_TIMEOUT, using default",
				slog.String("value", raw),
				slog.Duration("default", defaultTXQLTimeout),
			)
		} else {
			timeout = parsed
		}
	}
	slog.Info("Initializing TXQL client", slog.String("url", baseURL), slog.Duration("timeout", timeout))
	return NewTXQLClientWithConfig(baseURL, timeout), nil
}

// NewTXQLClientWithConfig creates a TXQLClient with explicit configuration.
// Useful for testing against httptest servers.
func NewTXQLClientWithConfig(baseURL string, timeout time.Duration) *TXQLClient {
	return &TXQLClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		maxAttempts: txqlMaxAttempts,
	}
}

// GenerateSQL asks the SQL-generation service to turn a question into SQL.
//
// Description:
//
//	Sends the question and session correlation id, retrying on
//	infrastructure failures. A response that contains no extractable SQL
//	is not an error: the caller receives the raw answer text and decides
//	whether to pass it through or synthesize a local query.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - question: The natural-language question.
//   - sessionID: Backend correlation id from the session.
//   - licenseKey: Optional database-selection key ("" to omit).
//
// Outputs:
//   - *TXQLResult: Extracted SQL and/or raw answer text.
//   - error: Non-nil *BackendError on infrastructure failure or rejection.
//
// Thread Safety: This method is safe for concurrent use.
func (c *TXQLClient) GenerateSQL(ctx context.Context, question, sessionID, licenseKey string) (*TXQLResult, error) {
	tracer := otel.Tracer("aleutian.chairside.backends")
	ctx, span := tracer.Start(ctx, "TXQLClient.GenerateSQL")
	defer span.End()

	payload, err := json.Marshal(txqlRequest{
		Question:   question,
		SessionID:  sessionID,
		LicenseKey: licenseKey,
	})
	if err != nil {
		return nil, &BackendError{Backend: "txql", Class: ClassValidation, Message: "marshaling request", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			retriesTotal.WithLabelValues("txql").Inc()
			slog.Warn("Retrying TXQL request",
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			if err := sleepBackoff(ctx, attempt-1); err != nil {
				return nil, &BackendError{Backend: "txql", Class: ClassTimeout, Message: "cancelled during backoff", Err: err}
			}
		}

		body, doErr := c.doOnce(ctx, payload)
		if doErr == nil {
			result := &TXQLResult{Raw: strings.TrimSpace(string(body))}
			if sql, ok := ExtractSQL(body); ok {
				result.SQL = sql
			} else {
				slog.Debug("TXQL response carried no extractable SQL",
					slog.Int("response_len", len(body)),
				)
			}
			span.SetAttributes(
				attribute.Int("txql.attempts", attempt+1),
				attribute.Bool("txql.sql_extracted", result.SQL != ""),
			)
			return result, nil
		}

		lastErr = doErr
		if !Retryable(doErr) {
			break
		}
	}

	requestErrors.WithLabelValues("txql", string(ClassOf(lastErr))).Inc()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "txql request failed")
	return nil, lastErr
}

// doOnce performs a single HTTP round trip and classifies its failure mode.
func (c *TXQLClient) doOnce(ctx context.Context, payload []byte) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &BackendError{Backend: "txql", Class: ClassValidation, Message: "creating HTTP request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues("txql").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &BackendError{Backend: "txql", Class: ClassTimeout, Message: "request timed out", Err: err}
		}
		return nil, &BackendError{Backend: "txql", Class: ClassUnavailable, Message: "HTTP request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, txqlMaxResponseSize))
	if err != nil {
		return nil, &BackendError{Backend: "txql", Class: ClassUnavailable, Message: "reading response body", Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &BackendError{Backend: "txql", Class: ClassUnavailable,
			Message: fmt.Sprintf("server returned status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &BackendError{Backend: "txql", Class: ClassRejected,
			Message: fmt.Sprintf("request rejected with status %d: %s", resp.StatusCode, truncate(string(body), 200))}
	}
	return body, nil
}

// =============================================================================
// Defensive SQL Extraction
// =============================================================================

var (
	fencedSQLRE   = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	embeddedKeyRE = regexp.MustCompile(`"(?:sql|query|sqlQuery)"\s*:\s*("(?:[^"\\]|\\.)*")`)
)

// sqlFieldNames are probed in order at the top level and under "data".
var sqlFieldNames = []string{"sql", "query", "sqlQuery"}

// textFieldNames may hold prose with a fenced SQL block inside.
var textFieldNames = []string{"answer", "response", "message", "text"}

// ExtractSQL recovers a SQL string from a loosely typed TXQL response body.
//
// Description:
//
//	The service does not guarantee a single response schema, so extraction
//	probes, in order: dedicated SQL fields at the top level, the same
//	fields nested under "data", markdown-fenced code blocks inside prose
//	fields (or the raw body), and finally a JSON-stringified
//	"query":"..." substring with standard escape unescaping.
//
// Outputs:
//   - string: The extracted statement, trimmed.
//   - bool: False when nothing resembling SQL was found.
func ExtractSQL(body []byte) (string, bool) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil {
		for _, name := range sqlFieldNames {
			if sql, ok := sqlString(doc[name]); ok {
				return sql, true
			}
		}
		if data, ok := doc["data"].(map[string]any); ok {
			for _, name := range sqlFieldNames {
				if sql, ok := sqlString(data[name]); ok {
					return sql, true
				}
			}
		}
		for _, name := range textFieldNames {
			if text, ok := doc[name].(string); ok {
				if sql, ok := extractFenced(text); ok {
					return sql, true
				}
			}
		}
	}

	if sql, ok := extractFenced(string(body)); ok {
		return sql, true
	}

	// Last resort: a "query":"SELECT ..." substring inside an otherwise
	// unparseable (often double-encoded) payload.
	if m := embeddedKeyRE.FindSubmatch(body); m != nil {
		var unquoted string
		if err := json.Unmarshal(m[1], &unquoted); err == nil {
			if sql, ok := sqlString(unquoted); ok {
				return sql, true
			}
		}
	}
	return "", false
}

// extractFenced pulls the first markdown-fenced block that looks like SQL.
func extractFenced(text string) (string, bool) {
	for _, m := range fencedSQLRE.FindAllStringSubmatch(text, -1) {
		if sql, ok := sqlString(m[1]); ok {
			return sql, true
		}
	}
	return "", false
}

// sqlString accepts v only when it is a non-empty string starting with a
// SQL-ish keyword. Keeps prose fields from being mistaken for statements.
func sqlString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	upper := strings.ToUpper(s)
	for _, kw := range []string{"SELECT", "WITH", "SHOW", "DESCRIBE"} {
		if strings.HasPrefix(upper, kw) {
			return s, true
		}
	}
	return "", false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
