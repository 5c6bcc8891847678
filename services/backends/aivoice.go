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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultAIVoiceTimeout = 30 * time.Second

	// aivoicePageSize is the fixed page size requested from the API.
	aivoicePageSize = 1000

	// aivoiceMaxPages is a hard ceiling against runaway pagination when
	// the API keeps returning full pages.
	aivoiceMaxPages = 50
)

// AIVoiceClient fetches call records from the call-analytics REST API.
//
// Description:
//
//	The API is paginated; FetchCalls loops requesting subsequent pages
//	until a page comes back shorter than the page size or the page-count
//	ceiling is hit. Each page is awaited before the next is requested.
//
// Thread Safety: AIVoiceClient is safe for concurrent use.
type AIVoiceClient struct {
	httpClient        *http.Client
	baseURL           string
	token             string
	defaultLicenseKey string
}

// NewAIVoiceClient creates an AIVoiceClient from environment variables.
//
// Description:
//
//	Reads AIVOICE_URL (required), AIVOICE_TOKEN (required), and
//	AIVOICE_LICENSE_KEY (default dataset key, required) from the
//	environment.
//
// Outputs:
//   - *AIVoiceClient: The configured client.
//   - error: Non-nil if a required variable is missing.
func NewAIVoiceClient() (*AIVoiceClient, error) {
	baseURL := os.Getenv("AIVOICE_URL")
	token := os.Getenv("AIVOICE_TOKEN")
	licenseKey := os.Getenv("AIVOICE_LICENSE_KEY")
	if baseURL == "" {
		return nil, fmt.Errorf("aivoice: endpoint is missing (AIVOICE_URL)")
	}
	if token == "" {
		return nil, fmt.Errorf("aivoice: bearer token is missing (AIVOICE_TOKEN)")
	}
	if licenseKey == "" {
		return nil, fmt.Errorf("aivoice: default license key is missing (AIVOICE_LICENSE_KEY)")
	}
	slog.Info("Initializing AI-Voice client", slog.String("url", baseURL))
	return NewAIVoiceClientWithConfig(baseURL, token, licenseKey, defaultAIVoiceTimeout), nil
}

// NewAIVoiceClientWithConfig creates an AIVoiceClient with explicit
// configuration. Useful for testing against httptest servers.
func NewAIVoiceClientWithConfig(baseURL, token, defaultLicenseKey string, timeout time.Duration) *AIVoiceClient {
	return &AIVoiceClient{
		httpClient:        &http.Client{Timeout: timeout},
		baseURL:           baseURL,
		token:             token,
		defaultLicenseKey: defaultLicenseKey,
	}
}

// DefaultLicenseKey returns the dataset key used when the question carried
// no key of its own.
func (c *AIVoiceClient) DefaultLicenseKey() string { return c.defaultLicenseKey }

// FetchCalls retrieves every call record for a date range.
//
// Description:
//
//	Requests pages of aivoicePageSize records until a short page or the
//	aivoiceMaxPages ceiling. licenseKey falls back to the client's default
//	when empty; unlike TXQL, the key here filters which records the fixed
//	dataset returns, it does not select a different database.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - licenseKey: Record filter key ("" for the default).
//   - startDate, endDate: Inclusive ISO YYYY-MM-DD bounds.
//
// Outputs:
//   - []Row: All fetched call records, in API order.
//   - error: Non-nil *BackendError on failure.
//
// Thread Safety: This method is safe for concurrent use.
func (c *AIVoiceClient) FetchCalls(ctx context.Context, licenseKey, startDate, endDate string) ([]Row, error) {
	tracer := otel.Tracer("aleutian.chairside.backends")
	ctx, span := tracer.Start(ctx, "AIVoiceClient.FetchCalls")
	defer span.End()

	if licenseKey == "" {
		licenseKey = c.defaultLicenseKey
	}

	var all []Row
	for page := 1; page <= aivoiceMaxPages; page++ {
		records, err := c.fetchPage(ctx, licenseKey, startDate, endDate, page)
		if err != nil {
			requestErrors.WithLabelValues("aivoice", string(ClassOf(err))).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "aivoice fetch failed")
			return nil, err
		}
		all = append(all, records...)
		if len(records) < aivoicePageSize {
			break
		}
		if page == aivoiceMaxPages {
			slog.Warn("AI-Voice pagination ceiling reached",
				slog.Int("pages", page),
				slog.Int("records", len(all)),
			)
		}
	}

	span.SetAttributes(attribute.Int("aivoice.records", len(all)))
	slog.Debug("Fetched AI-Voice call records",
		slog.Int("records", len(all)),
		slog.String("start_date", startDate),
		slog.String("end_date", endDate),
	)
	return all, nil
}

func (c *AIVoiceClient) fetchPage(ctx context.Context, licenseKey, startDate, endDate string, page int) ([]Row, error) {
	q := url.Values{}
	q.Set("licenseKey", licenseKey)
	q.Set("startDate", startDate)
	q.Set("endDate", endDate)
	q.Set("size", strconv.Itoa(aivoicePageSize))
	q.Set("page", strconv.Itoa(page))

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &BackendError{Backend: "aivoice", Class: ClassValidation, Message: "creating HTTP request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues("aivoice").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &BackendError{Backend: "aivoice", Class: ClassTimeout, Message: "request timed out", Err: err}
		}
		return nil, &BackendError{Backend: "aivoice", Class: ClassUnavailable, Message: "HTTP request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendError{Backend: "aivoice", Class: ClassUnavailable, Message: "reading response body", Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &BackendError{Backend: "aivoice", Class: ClassUnavailable,
			Message: fmt.Sprintf("server returned status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &BackendError{Backend: "aivoice", Class: ClassRejected,
			Message: fmt.Sprintf("request rejected with status %d: %s", resp.StatusCode, truncate(string(body), 200))}
	}

	records, ok := decodeRecordList(body)
	if !ok {
		return nil, &BackendError{Backend: "aivoice", Class: ClassMalformed,
			Message: "response did not contain a call record list"}
	}
	return records, nil
}

// recordListKeys are probed when the response wraps its record array in an
// envelope object instead of returning a bare array.
var recordListKeys = []string{"calls", "data", "records", "results"}

func decodeRecordList(body []byte) ([]Row, bool) {
	var bare []Row
	if err := json.Unmarshal(body, &bare); err == nil {
		return bare, true
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false
	}
	for _, key := range recordListKeys {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var rows []Row
		if err := json.Unmarshal(raw, &rows); err == nil {
			return rows, true
		}
	}
	return nil, false
}
