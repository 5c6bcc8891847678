// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// chatRequest mirrors the gateway's POST /v1/chat body.
type chatRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id,omitempty"`
}

// chatResponse mirrors the gateway's success envelope.
type chatResponse struct {
	Success   bool            `json:"success"`
	Answer    string          `json:"answer"`
	System    string          `json:"system"`
	SessionID string          `json:"session_id"`
	Chart     json.RawMessage `json:"chart,omitempty"`
}

// chatFailure mirrors the gateway's failure envelope.
type chatFailure struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	FriendlyError string `json:"friendly_error"`
}

// runAskCommand sends a one-shot question and prints the answer.
//
// === Inputs ===
//   - args: the question, joined with spaces so quoting is optional.
func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	answer, err := sendChat(question)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	fmt.Println(answer)
}

// runChatCommand runs the interactive loop. Type exit, quit, or q to
// leave. The server keys the session by --user, so reconnecting with
// the same flag resumes the same conversation window.
func runChatCommand(cmd *cobra.Command, args []string) {
	fmt.Println("Chairside interactive chat")
	fmt.Printf("Gateway: %s\n", getGatewayBaseURL())
	if userIDFlag != "" {
		fmt.Printf("User: %s\n", userIDFlag)
	}
	fmt.Println("Type 'exit', 'quit', or 'q' to leave.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		switch strings.ToLower(question) {
		case "exit", "quit", "q":
			fmt.Println("Goodbye.")
			return
		}

		answer, err := sendChat(question)
		if err != nil {
			fmt.Printf("Error: %v\n\n", err)
			continue
		}
		fmt.Printf("\n%s\n\n", answer)
	}
}

// sendChat posts the question to the gateway and renders the reply.
//
// === Outputs ===
//   - string: the formatted answer plus a trailer naming the system that
//     produced it.
//   - error: connection failures or non-2xx responses.
func sendChat(question string) (string, error) {
	body, err := json.Marshal(chatRequest{Question: question, UserID: userIDFlag})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	done := make(chan bool)
	go showSpinner("Thinking", done)

	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(getGatewayBaseURL()+"/v1/chat", "application/json", bytes.NewReader(body))
	done <- true
	if err != nil {
		return "", fmt.Errorf("cannot reach the gateway (is the server running?): %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Error("Failed to close response body", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var failure chatFailure
		if json.Unmarshal(raw, &failure) == nil && failure.FriendlyError != "" {
			return "", fmt.Errorf("%s", failure.FriendlyError)
		}
		var gateErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &gateErr) == nil && gateErr.Error != "" {
			return "", fmt.Errorf("%s", gateErr.Error)
		}
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var reply chatResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	var out strings.Builder
	out.WriteString(reply.Answer)
	out.WriteString(fmt.Sprintf("\n\n[system: %s | session: %s]", reply.System, reply.SessionID))
	if len(reply.Chart) > 0 {
		out.WriteString("\n[chart data available]")
	}
	return out.String(), nil
}

// runSessionShowCommand fetches and prints a user's session history.
func runSessionShowCommand(cmd *cobra.Command, args []string) {
	resp, err := http.Get(getGatewayBaseURL() + "/v1/sessions/" + args[0])
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Error("Failed to close response body", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		fmt.Printf("No session for user %q\n", args[0])
		return
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Gateway returned status %d", resp.StatusCode)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(pretty.String())
}

// runSessionDropCommand deletes a user's session on the server.
func runSessionDropCommand(cmd *cobra.Command, args []string) {
	req, err := http.NewRequest(http.MethodDelete, getGatewayBaseURL()+"/v1/sessions/"+args[0], nil)
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Error("Failed to close response body", "error", cerr)
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		fmt.Printf("Session for user %q deleted\n", args[0])
	case http.StatusNotFound:
		fmt.Printf("No session for user %q\n", args[0])
	default:
		log.Fatalf("Gateway returned status %d", resp.StatusCode)
	}
}
