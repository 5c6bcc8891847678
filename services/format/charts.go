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
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/chairside/services/backends"
)

const (
	// barMinCategories and barMaxCategories bound the distinct-value count
	// for a column to qualify as a bar chart axis.
	barMinCategories = 2
	barMaxCategories = 20

	// pieMaxRows is the largest row set rendered as a pie chart.
	pieMaxRows = 10

	// chartMaxRows is the ceiling above which chart detection gives up.
	// Result sets are LIMIT-capped upstream, so full-column scans below
	// this bound are affordable and stricter than sampling.
	chartMaxRows = 1000
)

var dateLikeRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// ChartData is the structured chart payload returned next to the textual
// rendering so a client can draw the result instead of reading a table.
type ChartData struct {
	// Type is "line", "bar", or "pie".
	Type string `json:"type"`

	// Labels are the x-axis labels (line), category names (bar), or
	// slice labels (pie), in render order.
	Labels []string `json:"labels"`

	// Values align 1:1 with Labels.
	Values []float64 `json:"values"`

	// LabelColumn and ValueColumn name the source columns.
	LabelColumn string `json:"label_column"`
	ValueColumn string `json:"value_column"`
}

// DetectChart classifies a row set as a chart, or nil when tabular text is
// the better rendering.
//
// Description:
//
//	Classification order: a date-like column plus a numeric column makes a
//	time series (line); a low-cardinality categorical column plus a
//	numeric column makes a bar chart with values summed per category; a
//	small row set with any numeric column makes a pie chart labeled by the
//	first non-numeric column. Column checks scan full columns rather than
//	sampling.
//
// Outputs:
//   - *ChartData: The chart payload, or nil when no shape applies.
func DetectChart(rows []backends.Row) *ChartData {
	if len(rows) == 0 || len(rows) > chartMaxRows {
		return nil
	}
	cols := columnsOf(rows)

	numericCol := ""
	dateCol := ""
	for _, col := range cols {
		if numericCol == "" && isNumericColumn(rows, col) {
			numericCol = col
		}
		if dateCol == "" && isDateColumn(rows, col) {
			dateCol = col
		}
	}
	if numericCol == "" {
		return nil
	}

	if dateCol != "" && dateCol != numericCol {
		chart := &ChartData{Type: "line", LabelColumn: dateCol, ValueColumn: numericCol}
		for _, row := range rows {
			chart.Labels = append(chart.Labels, formatValue(row[dateCol]))
			chart.Values = append(chart.Values, numericField(row, numericCol))
		}
		return chart
	}

	for _, col := range cols {
		if col == numericCol || isNumericColumn(rows, col) || isDateColumn(rows, col) {
			continue
		}
		if n := distinctCount(rows, col); n >= barMinCategories && n <= barMaxCategories {
			return barChart(rows, col, numericCol)
		}
	}

	if len(rows) <= pieMaxRows {
		labelCol := ""
		for _, col := range cols {
			if col != numericCol && !isNumericColumn(rows, col) {
				labelCol = col
				break
			}
		}
		if labelCol != "" {
			chart := &ChartData{Type: "pie", LabelColumn: labelCol, ValueColumn: numericCol}
			for _, row := range rows {
				chart.Labels = append(chart.Labels, formatValue(row[labelCol]))
				chart.Values = append(chart.Values, numericField(row, numericCol))
			}
			return chart
		}
	}
	return nil
}

// barChart sums the numeric column per category, categories ordered by
// first appearance so identical inputs chart identically.
func barChart(rows []backends.Row, labelCol, valueCol string) *ChartData {
	chart := &ChartData{Type: "bar", LabelColumn: labelCol, ValueColumn: valueCol}
	index := make(map[string]int)
	for _, row := range rows {
		label := formatValue(row[labelCol])
		i, ok := index[label]
		if !ok {
			i = len(chart.Labels)
			index[label] = i
			chart.Labels = append(chart.Labels, label)
			chart.Values = append(chart.Values, 0)
		}
		chart.Values[i] += numericField(row, valueCol)
	}
	return chart
}

func isNumericColumn(rows []backends.Row, col string) bool {
	found := false
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			found = true
		case string:
			if _, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err != nil {
				return false
			}
			found = true
		default:
			return false
		}
	}
	return found
}

func isDateColumn(rows []backends.Row, col string) bool {
	found := false
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		s, isString := v.(string)
		if !isString || !dateLikeRE.MatchString(s) {
			return false
		}
		found = true
	}
	return found
}

func distinctCount(rows []backends.Row, col string) int {
	seen := make(map[string]bool)
	for _, row := range rows {
		seen[formatValue(row[col])] = true
	}
	return len(seen)
}
