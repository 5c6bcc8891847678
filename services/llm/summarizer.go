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
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// SummaryMode selects which system prompt the note summarizer uses.
type SummaryMode string

const (
	// SummaryGeneral produces a clinical overview of the note text.
	SummaryGeneral SummaryMode = "general"

	// SummaryPricing focuses the summary on fees, quotes, and payment
	// discussions found in the notes.
	SummaryPricing SummaryMode = "pricing"
)

const (
	// maxNotesPerSummary caps how many notes are batched into one prompt.
	maxNotesPerSummary = 100

	// maxSummaryInputChars caps the total note text sent to the model.
	maxSummaryInputChars = 12000
)

const generalSummaryPrompt = `You are a dental practice assistant summarizing clinical and communication notes.
Write a concise markdown summary of the notes provided. Group related notes,
call out dates and recurring themes, and keep patient-facing language neutral.
Do not invent information that is not in the notes.`

const pricingSummaryPrompt = `You are a dental practice assistant summarizing notes about pricing, fees, and payments.
From the notes provided, extract every mention of a price, quote, fee discussion,
payment arrangement, or insurance conversation. Present them as a markdown list
with dates where available, followed by a one-paragraph overview.
Do not invent amounts that are not in the notes.`

// Summarizer turns note rows into a free-text markdown summary.
//
// Thread Safety: Summarizer is safe for concurrent use.
type Summarizer struct {
	client *Client
}

// NewSummarizer wraps a chat client for note summarization.
func NewSummarizer(client *Client) *Summarizer {
	return &Summarizer{client: client}
}

// SummarizeNotes produces a markdown summary of the note text in rows.
//
// Description:
//
//	Collects note text from every column whose name contains "note",
//	batches it into a single user message (bounded by maxNotesPerSummary
//	and maxSummaryInputChars), and asks the model for a summary using the
//	prompt variant selected by mode.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - question: The user's original question, given to the model for focus.
//   - rows: Query result rows expected to carry note columns.
//   - mode: Prompt variant (general or pricing).
//
// Outputs:
//   - string: The markdown summary.
//   - error: Non-nil when no note text was found or the model call failed.
//     Callers fall back to the table formatter on error.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Summarizer) SummarizeNotes(ctx context.Context, question string, rows []map[string]any, mode SummaryMode) (string, error) {
	notes := CollectNoteText(rows)
	if len(notes) == 0 {
		return "", fmt.Errorf("llm: no note text found in %d rows", len(rows))
	}

	var b strings.Builder
	count := 0
	for _, note := range notes {
		if count >= maxNotesPerSummary || b.Len()+len(note) > maxSummaryInputChars {
			break
		}
		fmt.Fprintf(&b, "--- Note %d ---\n%s\n", count+1, note)
		count++
	}

	systemPrompt := generalSummaryPrompt
	if mode == SummaryPricing {
		systemPrompt = pricingSummaryPrompt
	}

	slog.Debug("Summarizing notes",
		slog.String("mode", string(mode)),
		slog.Int("notes", count),
		slog.Int("input_chars", b.Len()),
	)

	temp := float32(0.3)
	maxTokens := 1000
	summary, err := s.client.Chat(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question: %s\n\nNotes (%d of %d shown):\n%s", question, count, len(notes), b.String())},
	}, GenerationParams{Temperature: &temp, MaxTokens: &maxTokens})
	if err != nil {
		return "", fmt.Errorf("llm: summarizing notes: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// CollectNoteText pulls non-empty note strings out of result rows.
//
// Description:
//
//	A column counts as a note column when its lowercased name contains
//	"note". Row order is preserved; within a row, the "Note" column is
//	preferred over secondary columns like "NoteType".
func CollectNoteText(rows []map[string]any) []string {
	var notes []string
	for _, row := range rows {
		if text, ok := row["Note"].(string); ok && strings.TrimSpace(text) != "" {
			notes = append(notes, strings.TrimSpace(text))
			continue
		}
		cols := make([]string, 0, len(row))
		for col := range row {
			if col != "NoteType" && strings.Contains(strings.ToLower(col), "note") {
				cols = append(cols, col)
			}
		}
		sort.Strings(cols)
		for _, col := range cols {
			if text, ok := row[col].(string); ok && strings.TrimSpace(text) != "" {
				notes = append(notes, strings.TrimSpace(text))
				break
			}
		}
	}
	return notes
}
