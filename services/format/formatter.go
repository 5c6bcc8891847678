// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package format renders query results as chat-friendly markdown, choosing
// between cards, tables, AI note summaries, payment analysis reports, and
// chart payloads based on the question and the shape of the result set.
package format

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/chairside/services/backends"
	"github.com/AleutianAI/chairside/services/llm"
	"github.com/AleutianAI/chairside/services/nlq/config"
)

var formatTracer = otel.Tracer("aleutian.chairside.format")

// Reply is the formatter's single output shape. Chart is nil unless chart
// detection matched.
type Reply struct {
	Text  string     `json:"text"`
	Chart *ChartData `json:"chart,omitempty"`
}

// Formatter selects and renders the response shape for a query result.
//
// Description:
//
//	Decision order: execution failure, empty or malformed rows, AI note
//	summary, payment analysis, chart, then cards/table. The formatter
//	never fails the request: summarizer errors fall back to the table
//	rendering, and every other branch is deterministic.
//
// Thread Safety: Formatter is safe for concurrent use.
type Formatter struct {
	rules      *config.KeywordRules
	summarizer *llm.Summarizer
}

// NewFormatter builds a Formatter. summarizer may be nil (no LLM
// credentials); the note-summary branch then falls through to tables.
func NewFormatter(rules *config.KeywordRules, summarizer *llm.Summarizer) *Formatter {
	return &Formatter{rules: rules, summarizer: summarizer}
}

// Format renders a query result for the user.
//
// Inputs:
//   - ctx: Context for cancellation; carries the request trace.
//   - result: The execution outcome. May be nil on a pure backend failure.
//   - sql: The statement that produced the result, echoed in error and
//     summary renderings ("" when no SQL was involved).
//   - question: The user's original question text.
//
// Outputs:
//   - Reply: Markdown text plus an optional chart payload.
//   - error: Always nil today; kept so the summarizer path can surface
//     hard failures later without changing call sites.
//
// Thread Safety: This method is safe for concurrent use.
func (f *Formatter) Format(ctx context.Context, result *backends.Result, sql, question string) (Reply, error) {
	ctx, span := formatTracer.Start(ctx, "Formatter.Format")
	defer span.End()

	path, reply := f.format(ctx, result, sql, question)
	span.SetAttributes(
		attribute.String("format.path", path),
		attribute.Bool("format.chart", reply.Chart != nil),
	)
	formatPathTotal.WithLabelValues(path).Inc()
	return reply, nil
}

func (f *Formatter) format(ctx context.Context, result *backends.Result, sql, question string) (string, Reply) {
	if result == nil || !result.Success {
		return "error", Reply{Text: renderFailure(result, sql)}
	}

	if result.Rows == nil {
		return "malformed", Reply{Text: renderNoRows(sql, true)}
	}
	if len(result.Rows) == 0 {
		return "empty", Reply{Text: renderNoRows(sql, false)}
	}

	if mode := f.noteSummaryMode(question); mode != "" && hasNoteColumns(result.Rows) {
		if text, ok := f.summarizeNotes(ctx, question, result.Rows, sql, mode); ok {
			return "note_summary", Reply{Text: text}
		}
		// Summarizer unavailable or failed; the raw rows are still useful.
		return "note_summary_fallback", Reply{Text: renderRows(result.Rows)}
	}

	if f.wantsPaymentAnalysis(question) && hasFinancialColumns(result.Rows) {
		return "payment_analysis", Reply{Text: AnalyzePayments(result.Rows).Render()}
	}

	if chart := DetectChart(result.Rows); chart != nil {
		return "chart", Reply{Text: renderTable(result.Rows), Chart: chart}
	}

	return "rows", Reply{Text: renderRows(result.Rows)}
}

// noteSummaryMode returns the summary variant the question asks for, or ""
// when it is not a note-summary request. Pricing triggers are checked first
// because they are the more specific phrasing.
func (f *Formatter) noteSummaryMode(question string) llm.SummaryMode {
	lower := strings.ToLower(question)
	for _, trigger := range f.rules.NoteTriggers.Pricing {
		if strings.Contains(lower, trigger) {
			return llm.SummaryPricing
		}
	}
	for _, trigger := range f.rules.NoteTriggers.General {
		if strings.Contains(lower, trigger) {
			return llm.SummaryGeneral
		}
	}
	return ""
}

func (f *Formatter) wantsPaymentAnalysis(question string) bool {
	lower := strings.ToLower(question)
	for _, kw := range f.rules.PaymentAnalysisKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// summarizeNotes runs the LLM summary and wraps it with the raw notes and
// the SQL used. Returns ok=false so the caller can fall back when the
// summarizer is missing or errors.
func (f *Formatter) summarizeNotes(ctx context.Context, question string, rows []backends.Row, sql string, mode llm.SummaryMode) (string, bool) {
	if f.summarizer == nil {
		slog.Debug("Note summary requested but no summarizer configured")
		return "", false
	}
	summary, err := f.summarizer.SummarizeNotes(ctx, question, rows, mode)
	if err != nil {
		slog.Warn("Note summarization failed, falling back to table rendering",
			slog.String("error", err.Error()),
		)
		return "", false
	}

	var b strings.Builder
	b.WriteString("## Note Summary\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n<details>\n<summary>Raw notes (")
	notes := llm.CollectNoteText(rows)
	fmt.Fprintf(&b, "%d)</summary>\n\n", len(notes))
	for i, note := range notes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, sanitizeCell(note))
	}
	b.WriteString("\n</details>\n")
	if sql != "" {
		fmt.Fprintf(&b, "\n*Query used:* `%s`\n", sql)
	}
	return b.String(), true
}

// renderFailure produces the structured error markdown for an execution
// failure. Includes troubleshooting tips rather than a bare error string.
func renderFailure(result *backends.Result, sql string) string {
	var b strings.Builder
	b.WriteString("## Query Failed\n\n")
	if result != nil && result.Error != "" {
		fmt.Fprintf(&b, "The data service reported: `%s`\n\n", sanitizeCell(result.Error))
	} else {
		b.WriteString("The data service could not be reached or returned no usable response.\n\n")
	}
	if result != nil && result.StatusCode > 0 {
		fmt.Fprintf(&b, "Status code: %d\n\n", result.StatusCode)
	}
	b.WriteString("Things to try:\n")
	b.WriteString("- Rephrase the question with more specific terms\n")
	b.WriteString("- Narrow the date range\n")
	b.WriteString("- If you referenced a patient, include their PatNum\n")
	if sql != "" {
		fmt.Fprintf(&b, "\n*Query attempted:* `%s`\n", sql)
	}
	return b.String()
}

// renderNoRows explains an empty result, distinguishing zero rows from a
// response whose rows were not shaped as records.
func renderNoRows(sql string, malformed bool) string {
	var b strings.Builder
	if malformed {
		b.WriteString("The query ran, but the results were not in a recognizable record format, so there is nothing to display.\n")
	} else {
		b.WriteString("**0 records found.** The query ran successfully but matched nothing.\n\nTry widening the date range or removing filters.\n")
	}
	if sql != "" {
		fmt.Fprintf(&b, "\n*Query used:* `%s`\n", sql)
	}
	return b.String()
}

// hasNoteColumns reports whether the rows carry note data: a "Note" or
// "NoteType" column, or any column name containing "note".
func hasNoteColumns(rows []backends.Row) bool {
	if len(rows) == 0 {
		return false
	}
	for col := range rows[0] {
		if col == "Note" || col == "NoteType" || strings.Contains(strings.ToLower(col), "note") {
			return true
		}
	}
	return false
}
