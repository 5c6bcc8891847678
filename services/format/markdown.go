// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package format

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/chairside/services/backends"
)

const (
	// cardRowThreshold is the largest row count rendered as cards;
	// anything bigger becomes a markdown table.
	cardRowThreshold = 5

	// maxCellLength caps rendered cell text so one long note cannot
	// blow up a table row.
	maxCellLength = 100
)

// columnsOf returns the union of column names across rows in sorted order.
// Go maps carry no column order from the JSON decoder, so sorted order is
// the deterministic stand-in for "first column".
func columnsOf(rows []backends.Row) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			seen[col] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for col := range seen {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// sanitizeCell renders a value as single-line markdown-safe text.
//
// Description:
//
//	Newlines are collapsed to spaces and pipes replaced so a cell can
//	never break table syntax; text longer than maxCellLength is truncated
//	with an ellipsis.
func sanitizeCell(v any) string {
	s := formatValue(v)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "|", "/")
	s = strings.TrimSpace(s)
	if len(s) > maxCellLength {
		// Back off to a rune boundary so a multi-byte character is
		// never split mid-sequence.
		cut := maxCellLength - 3
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	if s == "" {
		return "-"
	}
	return s
}

// formatValue renders a decoded JSON value without the float noise
// encoding/json gives integers (42 decodes as float64).
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderCards renders a small row set as one markdown card per record.
func renderCards(rows []backends.Row) string {
	cols := columnsOf(rows)
	var b strings.Builder
	fmt.Fprintf(&b, "Found **%d** record(s):\n", len(rows))
	for i, row := range rows {
		fmt.Fprintf(&b, "\n**Record %d**\n", i+1)
		for _, col := range cols {
			v, ok := row[col]
			if !ok || v == nil {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", col, sanitizeCell(v))
		}
	}
	return b.String()
}

// renderTable renders rows as a markdown table with a header row.
func renderTable(rows []backends.Row) string {
	cols := columnsOf(rows)
	var b strings.Builder
	fmt.Fprintf(&b, "Found **%d** record(s):\n\n", len(rows))
	b.WriteString("| " + strings.Join(cols, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, col := range cols {
			cells[i] = sanitizeCell(row[col])
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

// renderRows picks cards for small result sets and a table otherwise.
func renderRows(rows []backends.Row) string {
	if len(rows) <= cardRowThreshold {
		return renderCards(rows)
	}
	return renderTable(rows)
}
