// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the chat-completion client used for two things only:
// note/pricing summaries and the open-ended conversational fallback with
// tool calling. Everything else in the gateway is deterministic.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// =============================================================================
// Wire Types
// =============================================================================

const defaultBaseURL = "https://api.openai.com/v1/chat/completions"

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []wireMessage `json:"messages"`
	Temperature         *float32      `json:"temperature,omitempty"`
	MaxCompletionTokens *int          `json:"max_completion_tokens,omitempty"`
	TopP                *float32      `json:"top_p,omitempty"`
	Stop                []string      `json:"stop,omitempty"`
	Tools               []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Choices []chatChoice `json:"choices"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireCallFunction `json:"function"`
}

type wireCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// =============================================================================
// Client Implementation
// =============================================================================

// GenerationParams holds optional sampling parameters for a completion.
type GenerationParams struct {
	Temperature *float32
	MaxTokens   *int
	TopP        *float32
	Stop        []string
}

// Client talks to an OpenAI-compatible chat completions endpoint using raw
// net/http.
//
// Description:
//
//	Supports text generation, multi-turn conversations, and function
//	calling against any endpoint speaking the Chat Completions REST API.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewClient creates a Client from environment variables.
//
// Description:
//
//	Reads OPENAI_API_KEY (required), LLM_MODEL (default "gpt-4o-mini"),
//	and LLM_BASE_URL (default the OpenAI chat completions endpoint) from
//	the environment.
//
// Outputs:
//   - *Client: The configured client.
//   - error: Non-nil if OPENAI_API_KEY is missing.
func NewClient() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		slog.Warn("LLM API key is empty. Summaries and conversational fallback will be degraded.")
		return nil, fmt.Errorf("llm: API key is missing (OPENAI_API_KEY)")
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("LLM_MODEL not set, defaulting to gpt-4o-mini")
	}
	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	slog.Info("Initializing LLM client", slog.String("model", model))
	return NewClientWithConfig(apiKey, model, baseURL), nil
}

// NewClientWithConfig creates a Client with explicit configuration.
//
// Description:
//
//	Creates a Client without reading environment variables. Useful for
//	testing with mock servers or when configuration comes from a source
//	other than environment variables.
func NewClientWithConfig(apiKey, model, baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// Chat sends a multi-turn conversation and returns the assistant's text.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history.
//   - params: Generation parameters.
//
// Outputs:
//   - string: The assistant's response text.
//   - error: Non-nil if the request fails.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Client) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	result, err := c.complete(ctx, messages, params, nil)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// ChatWithTools sends a chat request with tool definitions.
//
// Description:
//
//	Extends Chat to support function calling. Tool calls in the response
//	are parsed into ChatResult.ToolCalls; the caller runs the tools and
//	appends the results as "tool" role messages before calling again.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history with tool metadata.
//   - params: Generation parameters.
//   - tools: Tool definitions for function calling.
//
// Outputs:
//   - *ChatResult: Content and/or tool calls.
//   - error: Non-nil on failure.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Client) ChatWithTools(ctx context.Context, messages []Message,
	params GenerationParams, tools []ToolDef) (*ChatResult, error) {
	return c.complete(ctx, messages, params, tools)
}

func (c *Client) complete(ctx context.Context, messages []Message,
	params GenerationParams, tools []ToolDef) (*ChatResult, error) {

	slog.Debug("Chat completion request",
		slog.String("model", c.model),
		slog.Int("messages", len(messages)),
		slog.Int("tools", len(tools)),
	)

	wireMessages := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "system", "user", "assistant", "tool":
			// valid roles, keep as-is
		default:
			slog.Warn("Unknown message role, mapping to user",
				slog.String("unknown_role", role),
			)
			role = "user"
		}
		wm := wireMessage{Role: role, Content: msg.Content}
		if role == "tool" && msg.ToolCallID != "" {
			wm.ToolCallID = msg.ToolCallID
		}
		if role == "assistant" && len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: wireCallFunction{
						Name:      tc.Name,
						Arguments: tc.ArgumentsString(),
					},
				})
			}
		}
		wireMessages = append(wireMessages, wm)
	}

	reqPayload := chatRequest{
		Model:    c.model,
		Messages: wireMessages,
	}
	for _, td := range tools {
		reqPayload.Tools = append(reqPayload.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        td.Function.Name,
				Description: td.Function.Description,
				Parameters:  td.Function.Parameters,
			},
		})
	}
	if params.Temperature != nil {
		reqPayload.Temperature = params.Temperature
	}
	if params.MaxTokens != nil {
		reqPayload.MaxCompletionTokens = params.MaxTokens
	}
	if params.TopP != nil {
		reqPayload.TopP = params.TopP
	}
	if len(params.Stop) > 0 {
		reqPayload.Stop = params.Stop
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llm: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("llm: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("llm: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("llm: returned no choices")
	}

	choice := apiResp.Choices[0]
	result := &ChatResult{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(result.ToolCalls) > 0 {
		result.StopReason = "tool_use"
	} else {
		result.StopReason = "end"
	}

	slog.Debug("Chat completion response",
		slog.String("finish_reason", choice.FinishReason),
		slog.Int("response_len", len(result.Content)),
		slog.Int("tool_calls", len(result.ToolCalls)),
	)
	return result, nil
}
