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
	"testing"

	"github.com/AleutianAI/chairside/services/backends"
)

func TestDetectChart_Line(t *testing.T) {
	rows := []backends.Row{
		{"ProcDate": "2025-01-01", "Revenue": float64(1200)},
		{"ProcDate": "2025-01-02", "Revenue": float64(900)},
		{"ProcDate": "2025-01-03", "Revenue": float64(1500)},
	}
	chart := DetectChart(rows)
	if chart == nil {
		t.Fatal("expected a chart")
	}
	if chart.Type != "line" {
		t.Errorf("Type = %q, want line", chart.Type)
	}
	if chart.LabelColumn != "ProcDate" || chart.ValueColumn != "Revenue" {
		t.Errorf("columns = %s/%s", chart.LabelColumn, chart.ValueColumn)
	}
	if len(chart.Labels) != 3 || chart.Labels[0] != "2025-01-01" {
		t.Errorf("Labels = %v", chart.Labels)
	}
	if chart.Values[2] != 1500 {
		t.Errorf("Values = %v", chart.Values)
	}
}

func TestDetectChart_DatetimeValuesStillDateLike(t *testing.T) {
	rows := []backends.Row{
		{"AptDateTime": "2025-01-01T08:30:00", "Count": float64(4)},
		{"AptDateTime": "2025-01-02T09:00:00", "Count": float64(6)},
	}
	chart := DetectChart(rows)
	if chart == nil || chart.Type != "line" {
		t.Fatalf("chart = %+v, want line", chart)
	}
}

func TestDetectChart_Bar(t *testing.T) {
	rows := []backends.Row{
		{"ProcCode": "D0120", "ProcFee": float64(50)},
		{"ProcCode": "D0120", "ProcFee": float64(60)},
		{"ProcCode": "D2740", "ProcFee": float64(1200)},
		{"ProcCode": "D0120", "ProcFee": float64(55)},
		{"ProcCode": "D1110", "ProcFee": float64(95)},
		{"ProcCode": "D2740", "ProcFee": float64(1150)},
		{"ProcCode": "D1110", "ProcFee": float64(90)},
		{"ProcCode": "D0120", "ProcFee": float64(52)},
		{"ProcCode": "D1110", "ProcFee": float64(88)},
		{"ProcCode": "D2740", "ProcFee": float64(1180)},
		{"ProcCode": "D0120", "ProcFee": float64(58)},
	}
	chart := DetectChart(rows)
	if chart == nil {
		t.Fatal("expected a chart")
	}
	if chart.Type != "bar" {
		t.Fatalf("Type = %q, want bar", chart.Type)
	}
	// Categories appear in first-appearance order with summed values.
	if len(chart.Labels) != 3 {
		t.Fatalf("Labels = %v", chart.Labels)
	}
	if chart.Labels[0] != "D0120" || chart.Labels[1] != "D2740" || chart.Labels[2] != "D1110" {
		t.Errorf("category order = %v, want first-appearance", chart.Labels)
	}
	if chart.Values[0] != 50+60+55+52+58 {
		t.Errorf("D0120 sum = %v", chart.Values[0])
	}
	if chart.Values[1] != 1200+1150+1180 {
		t.Errorf("D2740 sum = %v", chart.Values[1])
	}
}

func TestDetectChart_Pie(t *testing.T) {
	rows := []backends.Row{
		{"Carrier": "Delta Dental", "Claims": float64(12)},
		{"Carrier": "MetLife", "Claims": float64(8)},
		{"Carrier": "Cigna", "Claims": float64(5)},
	}
	// Three distinct categories also qualifies as a bar chart; bar wins
	// because it is checked first.
	chart := DetectChart(rows)
	if chart == nil || chart.Type != "bar" {
		t.Fatalf("chart = %+v", chart)
	}

	// A single-category small set cannot be a bar chart, so it falls to pie.
	rows = []backends.Row{
		{"Carrier": "Delta Dental", "Claims": float64(12)},
	}
	chart = DetectChart(rows)
	if chart == nil {
		t.Fatal("expected a chart")
	}
	if chart.Type != "pie" {
		t.Errorf("Type = %q, want pie", chart.Type)
	}
	if chart.LabelColumn != "Carrier" || chart.ValueColumn != "Claims" {
		t.Errorf("columns = %s/%s", chart.LabelColumn, chart.ValueColumn)
	}
}

func TestDetectChart_NoChart(t *testing.T) {
	t.Run("no numeric column", func(t *testing.T) {
		rows := []backends.Row{
			{"LName": "Smith", "FName": "John"},
			{"LName": "Jones", "FName": "Mary"},
		}
		if chart := DetectChart(rows); chart != nil {
			t.Errorf("chart = %+v, want nil", chart)
		}
	})

	t.Run("mixed type column is not numeric", func(t *testing.T) {
		rows := []backends.Row{
			{"LName": "Smith", "Val": "12"},
			{"LName": "Jones", "Val": "n/a"},
			{"LName": "Adams", "Val": "30"},
		}
		if chart := DetectChart(rows); chart != nil {
			t.Errorf("chart = %+v, want nil (one bad value disqualifies the column)", chart)
		}
	})

	t.Run("too many categories for bar and too many rows for pie", func(t *testing.T) {
		rows := make([]backends.Row, 30)
		for i := range rows {
			rows[i] = backends.Row{"Code": fmt.Sprintf("D%04d", i), "Fee": float64(i)}
		}
		if chart := DetectChart(rows); chart != nil {
			t.Errorf("chart = %+v, want nil", chart)
		}
	})

	t.Run("empty rows", func(t *testing.T) {
		if chart := DetectChart(nil); chart != nil {
			t.Errorf("chart = %+v, want nil", chart)
		}
	})

	t.Run("oversized row set", func(t *testing.T) {
		rows := make([]backends.Row, chartMaxRows+1)
		for i := range rows {
			rows[i] = backends.Row{"ProcDate": "2025-01-01", "Fee": float64(i)}
		}
		if chart := DetectChart(rows); chart != nil {
			t.Errorf("chart = %+v, want nil above the row ceiling", chart)
		}
	})
}

func TestDetectChart_Deterministic(t *testing.T) {
	rows := []backends.Row{
		{"ProcCode": "A", "Region": "North", "Fee": float64(10)},
		{"ProcCode": "B", "Region": "South", "Fee": float64(20)},
		{"ProcCode": "A", "Region": "South", "Fee": float64(30)},
		{"ProcCode": "B", "Region": "North", "Fee": float64(40)},
		{"ProcCode": "A", "Region": "North", "Fee": float64(50)},
		{"ProcCode": "B", "Region": "South", "Fee": float64(60)},
		{"ProcCode": "A", "Region": "South", "Fee": float64(70)},
		{"ProcCode": "B", "Region": "North", "Fee": float64(80)},
		{"ProcCode": "A", "Region": "North", "Fee": float64(90)},
		{"ProcCode": "B", "Region": "South", "Fee": float64(100)},
		{"ProcCode": "A", "Region": "South", "Fee": float64(110)},
	}
	first := DetectChart(rows)
	if first == nil {
		t.Fatal("expected a chart")
	}
	for i := 0; i < 20; i++ {
		got := DetectChart(rows)
		if got == nil || got.Type != first.Type || got.LabelColumn != first.LabelColumn {
			t.Fatalf("iteration %d: %+v vs %+v", i, got, first)
		}
		for j := range first.Labels {
			if got.Labels[j] != first.Labels[j] || got.Values[j] != first.Values[j] {
				t.Fatalf("iteration %d: labels/values diverged", i)
			}
		}
	}
}
