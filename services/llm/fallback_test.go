// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

const toolCallResponse = `{
	"choices": [{
		"message": {
			"role": "assistant",
			"tool_calls": [{
				"id": "call_1",
				"type": "function",
				"function": {"name": "lookup_calls", "arguments": "{\"start_date\": \"2025-01-01\", \"end_date\": \"2025-01-07\"}"}
			}]
		},
		"finish_reason": "tool_calls"
	}]
}`

const textResponse = `{"choices": [{"message": {"content": "You had 3 calls that week."}, "finish_reason": "stop"}]}`

func TestFallback_Respond(t *testing.T) {
	t.Run("plain answer without tools", func(t *testing.T) {
		server := chatServerReturning(t,
			`{"choices": [{"message": {"content": "Happy to help!"}, "finish_reason": "stop"}]}`, nil)
		defer server.Close()

		f := NewFallback(NewClientWithConfig("test-key", "test-model", server.URL), nil)
		got, err := f.Respond(context.Background(), "thanks!")
		if err != nil {
			t.Fatalf("Respond failed: %v", err)
		}
		if got != "Happy to help!" {
			t.Errorf("answer = %q", got)
		}
	})

	t.Run("tool round trip", func(t *testing.T) {
		var round atomic.Int32
		var secondReq chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch round.Add(1) {
			case 1:
				_, _ = w.Write([]byte(toolCallResponse))
			default:
				if err := json.NewDecoder(r.Body).Decode(&secondReq); err != nil {
					t.Errorf("decoding second request: %v", err)
				}
				_, _ = w.Write([]byte(textResponse))
			}
		}))
		defer server.Close()

		var fetchedStart, fetchedEnd string
		fetcher := func(ctx context.Context, startDate, endDate string) ([]map[string]any, error) {
			fetchedStart, fetchedEnd = startDate, endDate
			return []map[string]any{
				{"callId": "a"}, {"callId": "b"}, {"callId": "c"},
			}, nil
		}

		f := NewFallback(NewClientWithConfig("test-key", "test-model", server.URL), fetcher)
		got, err := f.Respond(context.Background(), "how many calls last week?")
		if err != nil {
			t.Fatalf("Respond failed: %v", err)
		}
		if got != "You had 3 calls that week." {
			t.Errorf("answer = %q", got)
		}
		if fetchedStart != "2025-01-01" || fetchedEnd != "2025-01-07" {
			t.Errorf("fetcher got %s..%s", fetchedStart, fetchedEnd)
		}

		// The second request must carry the assistant tool call and the
		// tool result linked by id.
		var sawToolResult bool
		for _, m := range secondReq.Messages {
			if m.Role == "tool" && m.ToolCallID == "call_1" {
				sawToolResult = true
				if !strings.Contains(m.Content, `"total_calls":3`) {
					t.Errorf("tool result = %q", m.Content)
				}
			}
		}
		if !sawToolResult {
			t.Errorf("no tool result message in %+v", secondReq.Messages)
		}
	})

	t.Run("fetcher failure is reported to the model not the caller", func(t *testing.T) {
		var round atomic.Int32
		var secondReq chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch round.Add(1) {
			case 1:
				_, _ = w.Write([]byte(toolCallResponse))
			default:
				_ = json.NewDecoder(r.Body).Decode(&secondReq)
				_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "I could not reach the call system."}, "finish_reason": "stop"}]}`))
			}
		}))
		defer server.Close()

		fetcher := func(ctx context.Context, startDate, endDate string) ([]map[string]any, error) {
			return nil, errors.New("aivoice: HTTP request failed")
		}

		f := NewFallback(NewClientWithConfig("test-key", "test-model", server.URL), fetcher)
		got, err := f.Respond(context.Background(), "calls last week?")
		if err != nil {
			t.Fatalf("tool failure must not fail the conversation: %v", err)
		}
		if got == "" {
			t.Error("expected a conversational answer")
		}

		var sawError bool
		for _, m := range secondReq.Messages {
			if m.Role == "tool" && strings.Contains(m.Content, "error") {
				sawError = true
			}
		}
		if !sawError {
			t.Error("tool error text never reached the model")
		}
	})

	t.Run("tool loop is bounded", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(toolCallResponse))
		}))
		defer server.Close()

		fetcher := func(ctx context.Context, startDate, endDate string) ([]map[string]any, error) {
			return nil, nil
		}
		f := NewFallback(NewClientWithConfig("test-key", "test-model", server.URL), fetcher)
		_, err := f.Respond(context.Background(), "loop forever")
		if err == nil {
			t.Fatal("expected exhaustion error")
		}
		if got := calls.Load(); got != maxToolRounds {
			t.Errorf("model called %d times, want %d", got, maxToolRounds)
		}
	})

	t.Run("large record sets are sampled in the tool result", func(t *testing.T) {
		var round atomic.Int32
		var secondReq chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch round.Add(1) {
			case 1:
				_, _ = w.Write([]byte(toolCallResponse))
			default:
				_ = json.NewDecoder(r.Body).Decode(&secondReq)
				_, _ = w.Write([]byte(textResponse))
			}
		}))
		defer server.Close()

		fetcher := func(ctx context.Context, startDate, endDate string) ([]map[string]any, error) {
			records := make([]map[string]any, 100)
			for i := range records {
				records[i] = map[string]any{"n": i}
			}
			return records, nil
		}
		f := NewFallback(NewClientWithConfig("test-key", "test-model", server.URL), fetcher)
		if _, err := f.Respond(context.Background(), "calls?"); err != nil {
			t.Fatalf("Respond failed: %v", err)
		}

		for _, m := range secondReq.Messages {
			if m.Role != "tool" {
				continue
			}
			var payload struct {
				TotalCalls int              `json:"total_calls"`
				Sample     []map[string]any `json:"sample"`
			}
			if err := json.Unmarshal([]byte(m.Content), &payload); err != nil {
				t.Fatalf("tool payload did not parse: %v", err)
			}
			if payload.TotalCalls != 100 {
				t.Errorf("total_calls = %d, want 100", payload.TotalCalls)
			}
			if len(payload.Sample) != maxToolResultRecords {
				t.Errorf("sample = %d records, want %d", len(payload.Sample), maxToolResultRecords)
			}
		}
	})
}
