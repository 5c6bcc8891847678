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
	"fmt"
	"log/slog"
	"strings"
)

// maxToolRounds bounds the tool-calling loop so a model that keeps asking
// for lookups cannot spin forever.
const maxToolRounds = 3

// maxToolResultRecords caps how many call records are echoed back to the
// model per tool result; the full count is always reported.
const maxToolResultRecords = 25

// CallFetcher retrieves call records for an inclusive ISO date range. The
// gateway injects this so the llm package stays ignorant of HTTP backends.
type CallFetcher func(ctx context.Context, startDate, endDate string) ([]map[string]any, error)

const fallbackSystemPrompt = `You are a helpful assistant for a dental practice chat system.
Answer conversational questions directly and briefly in markdown.
When the user asks about phone calls for a specific period, use the
lookup_calls tool with ISO YYYY-MM-DD dates instead of guessing.
If you cannot answer, say so plainly.`

// lookupCallsTool is the single tool exposed to the conversational fallback.
var lookupCallsTool = ToolDef{
	Type: "function",
	Function: ToolFunction{
		Name:        "lookup_calls",
		Description: "Fetch call records (direction, duration, sentiment, outcome) for an inclusive date range.",
		Parameters: ToolParameters{
			Type: "object",
			Properties: map[string]ToolParamDef{
				"start_date": {Type: "string", Description: "Inclusive start date, YYYY-MM-DD."},
				"end_date":   {Type: "string", Description: "Inclusive end date, YYYY-MM-DD."},
			},
			Required: []string{"start_date", "end_date"},
		},
	},
}

type lookupCallsArgs struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Fallback answers questions the classifier could not route anywhere.
//
// Description:
//
//	Runs a bounded tool-calling conversation: the model may request call
//	lookups for date ranges, the fetched records are summarized back into
//	the conversation, and the final text answer is returned.
//
// Thread Safety: Fallback is safe for concurrent use.
type Fallback struct {
	client     *Client
	fetchCalls CallFetcher
}

// NewFallback builds a Fallback. fetchCalls may be nil, in which case the
// lookup tool is not offered and the model answers from the question alone.
func NewFallback(client *Client, fetchCalls CallFetcher) *Fallback {
	return &Fallback{client: client, fetchCalls: fetchCalls}
}

// Respond produces a conversational answer to an unclassifiable question.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - question: The user's question text.
//
// Outputs:
//   - string: The assistant's markdown answer.
//   - error: Non-nil when the model call fails or the tool loop is
//     exhausted without a text answer.
//
// Thread Safety: This method is safe for concurrent use.
func (f *Fallback) Respond(ctx context.Context, question string) (string, error) {
	messages := []Message{
		{Role: "system", Content: fallbackSystemPrompt},
		{Role: "user", Content: question},
	}
	var tools []ToolDef
	if f.fetchCalls != nil {
		tools = []ToolDef{lookupCallsTool}
	}

	temp := float32(0.7)
	maxTokens := 800
	params := GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}

	for round := 0; round < maxToolRounds; round++ {
		result, err := f.client.ChatWithTools(ctx, messages, params, tools)
		if err != nil {
			return "", err
		}
		if result.StopReason != "tool_use" {
			return strings.TrimSpace(result.Content), nil
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})
		for _, tc := range result.ToolCalls {
			messages = append(messages, Message{
				Role:       "tool",
				ToolCallID: tc.ID,
				Content:    f.runTool(ctx, tc),
			})
		}
	}
	return "", fmt.Errorf("llm: tool loop exhausted after %d rounds", maxToolRounds)
}

// runTool executes one tool call and renders its result as JSON text.
// Tool failures are reported to the model as text, never as an error, so
// the conversation can still conclude with a useful answer.
func (f *Fallback) runTool(ctx context.Context, tc ToolCall) string {
	if tc.Name != "lookup_calls" || f.fetchCalls == nil {
		return fmt.Sprintf(`{"error": "unknown tool %q"}`, tc.Name)
	}

	var args lookupCallsArgs
	if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		return fmt.Sprintf(`{"error": "invalid arguments: %s"}`, err)
	}

	slog.Debug("Fallback tool call",
		slog.String("tool", tc.Name),
		slog.String("start_date", args.StartDate),
		slog.String("end_date", args.EndDate),
	)

	records, err := f.fetchCalls(ctx, args.StartDate, args.EndDate)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}

	sample := records
	if len(sample) > maxToolResultRecords {
		sample = sample[:maxToolResultRecords]
	}
	payload, err := json.Marshal(map[string]any{
		"total_calls": len(records),
		"sample":      sample,
	})
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(payload)
}
