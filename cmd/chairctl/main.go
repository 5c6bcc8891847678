// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command chairctl is the terminal client for the Chairside gateway.
//
// Usage:
//
//	chairctl ask "how many inbound calls today?"
//	chairctl chat
//	chairctl session show frontdesk
//	chairctl session drop frontdesk
//
// The gateway address defaults to http://localhost:8080 and can be
// overridden with CHAIRSIDE_URL.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// userIDFlag is sent as user_id so the server keeps one session per
	// operator across invocations.
	userIDFlag string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chairctl",
		Short: "Chat with the Chairside gateway from the terminal",
	}
	rootCmd.PersistentFlags().StringVar(&userIDFlag, "user", "", "User id for session continuity (default: anonymous)")

	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Run:   runChatCommand,
	}

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or drop server-side sessions",
	}
	sessionCmd.AddCommand(&cobra.Command{
		Use:   "show [user-id]",
		Short: "Print a user's conversation history",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionShowCommand,
	})
	sessionCmd.AddCommand(&cobra.Command{
		Use:   "drop [user-id]",
		Short: "Delete a user's session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionDropCommand,
	})

	rootCmd.AddCommand(askCmd, chatCmd, sessionCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// getGatewayBaseURL resolves the server address.
func getGatewayBaseURL() string {
	if url := os.Getenv("CHAIRSIDE_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

// showSpinner displays a small progress animation until done is signalled.
func showSpinner(msg string, done chan bool) {
	chars := []string{"▖", "▘", "▝", "▗"}
	i := 0

	fmt.Print("\033[?25l")
	defer fmt.Print("\033[?25h")

	for {
		select {
		case <-done:
			fmt.Print("\r\033[K")
			return
		default:
			fmt.Printf("\r%s  %s... \033[K", chars[i%len(chars)], msg)
			i++
			time.Sleep(100 * time.Millisecond)
		}
	}
}
