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
	"strconv"
	"strings"

	"github.com/AleutianAI/chairside/services/backends"
)

// financialColumns are the fields the payment analyzer needs. A result set
// qualifies for analysis when at least ProcFee is present.
var financialColumns = []string{"ProcFee", "InsPayAmt", "WriteOff", "Adjustments", "Payments"}

// Coverage thresholds for the fixed recommendation rules.
const (
	lowCoveragePercent  = 50.0
	goodCoveragePercent = 80.0
)

// YearSummary is the per-year rollup inside a PaymentReport.
type YearSummary struct {
	Year          int
	Procedures    int
	TotalBilled   float64
	InsurancePaid float64
	PatientPaid   float64
}

// PaymentReport is the aggregate financial analysis of a procedure row set.
//
// Description:
//
//	The four status buckets are mutually exclusive and exhaustive: every
//	analyzed row lands in exactly one of ZeroCharge, FullyPaid,
//	PartiallyPaid, or Unpaid. CoveragePercent is a fixed two-decimal
//	string, "N/A" when nothing was billed.
//
// Thread Safety: PaymentReport is written once by AnalyzePayments and
// read-only afterward.
type PaymentReport struct {
	Records         int
	TotalBilled     float64
	InsurancePaid   float64
	PatientPaid     float64
	WriteOffs       float64
	Adjustments     float64
	Outstanding     float64
	CoveragePercent string

	ZeroCharge    int
	FullyPaid     int
	PartiallyPaid int
	Unpaid        int

	Years           []YearSummary
	Recommendations []string
}

// AnalyzePayments computes a PaymentReport from procedure rows.
//
// Description:
//
//	Per record, remaining balance = fee - insurance - writeOff -
//	adjustments - patient payments. Bucket precedence: a zero fee is
//	ZeroCharge regardless of payments; a non-positive remaining balance is
//	FullyPaid; any partial payment activity (insurance, patient, or
//	write-off) is PartiallyPaid; otherwise Unpaid. Pure function: identical
//	inputs always produce identical report text.
//
// Inputs:
//   - rows: Result rows carrying the financial columns. Missing or
//     non-numeric fields are read as zero.
//
// Outputs:
//   - *PaymentReport: The aggregate analysis. Never nil.
func AnalyzePayments(rows []backends.Row) *PaymentReport {
	report := &PaymentReport{Records: len(rows)}
	years := make(map[int]*YearSummary)

	for _, row := range rows {
		fee := numericField(row, "ProcFee")
		insurance := numericField(row, "InsPayAmt")
		writeOff := numericField(row, "WriteOff")
		adjustments := numericField(row, "Adjustments")
		patientPaid := numericField(row, "Payments")
		remaining := fee - insurance - writeOff - adjustments - patientPaid

		report.TotalBilled += fee
		report.InsurancePaid += insurance
		report.PatientPaid += patientPaid
		report.WriteOffs += writeOff
		report.Adjustments += adjustments
		if remaining > 0 {
			report.Outstanding += remaining
		}

		switch {
		case fee == 0:
			report.ZeroCharge++
		case remaining <= 0:
			report.FullyPaid++
		case insurance > 0 || patientPaid > 0 || writeOff > 0:
			report.PartiallyPaid++
		default:
			report.Unpaid++
		}

		if year := yearOf(row["ProcDate"]); year > 0 {
			ys, ok := years[year]
			if !ok {
				ys = &YearSummary{Year: year}
				years[year] = ys
			}
			ys.Procedures++
			ys.TotalBilled += fee
			ys.InsurancePaid += insurance
			ys.PatientPaid += patientPaid
		}
	}

	if report.TotalBilled > 0 {
		pct := report.InsurancePaid / report.TotalBilled * 100
		report.CoveragePercent = fmt.Sprintf("%.2f", pct)
		if pct < lowCoveragePercent {
			report.Recommendations = append(report.Recommendations,
				"Insurance coverage is below 50% of billed fees. Review claim submissions and outstanding pre-authorizations.")
		}
		if pct >= goodCoveragePercent {
			report.Recommendations = append(report.Recommendations,
				"Insurance coverage is at or above 80% of billed fees. Collections are in good shape.")
		}
	} else {
		report.CoveragePercent = "N/A"
	}
	if report.Unpaid > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d procedure(s) have no payment activity. Consider patient billing follow-up.", report.Unpaid))
	}
	if report.Outstanding > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("Outstanding balance across all procedures: $%.2f.", report.Outstanding))
	}

	for _, ys := range years {
		report.Years = append(report.Years, *ys)
	}
	sort.Slice(report.Years, func(i, j int) bool { return report.Years[i].Year < report.Years[j].Year })

	return report
}

// Render formats the report as a markdown document.
func (r *PaymentReport) Render() string {
	var b strings.Builder
	b.WriteString("## Payment Analysis\n\n")
	fmt.Fprintf(&b, "Analyzed **%d** procedure record(s).\n\n", r.Records)

	b.WriteString("### Totals\n")
	fmt.Fprintf(&b, "- Total billed: $%.2f\n", r.TotalBilled)
	fmt.Fprintf(&b, "- Insurance paid: $%.2f\n", r.InsurancePaid)
	fmt.Fprintf(&b, "- Patient paid: $%.2f\n", r.PatientPaid)
	fmt.Fprintf(&b, "- Write-offs: $%.2f\n", r.WriteOffs)
	fmt.Fprintf(&b, "- Adjustments: $%.2f\n", r.Adjustments)
	fmt.Fprintf(&b, "- Outstanding balance: $%.2f\n", r.Outstanding)
	if r.CoveragePercent == "N/A" {
		b.WriteString("- Insurance coverage: N/A (nothing billed)\n")
	} else {
		fmt.Fprintf(&b, "- Insurance coverage: %s%%\n", r.CoveragePercent)
	}

	b.WriteString("\n### Payment Status\n")
	fmt.Fprintf(&b, "- Fully paid: %d\n", r.FullyPaid)
	fmt.Fprintf(&b, "- Partially paid: %d\n", r.PartiallyPaid)
	fmt.Fprintf(&b, "- Unpaid: %d\n", r.Unpaid)
	fmt.Fprintf(&b, "- Zero charge: %d\n", r.ZeroCharge)

	if len(r.Years) > 0 {
		b.WriteString("\n### By Year\n")
		for _, ys := range r.Years {
			fmt.Fprintf(&b, "- %d: %d procedure(s), $%.2f billed, $%.2f insurance, $%.2f patient\n",
				ys.Year, ys.Procedures, ys.TotalBilled, ys.InsurancePaid, ys.PatientPaid)
		}
	}

	if len(r.Recommendations) > 0 {
		b.WriteString("\n### Recommendations\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}
	return b.String()
}

// hasFinancialColumns reports whether the row set carries the fields the
// analyzer needs. ProcFee is mandatory; one other financial field must
// also appear so a bare fee list is not mistaken for payment data.
func hasFinancialColumns(rows []backends.Row) bool {
	if len(rows) == 0 {
		return false
	}
	first := rows[0]
	if _, ok := first["ProcFee"]; !ok {
		return false
	}
	for _, col := range financialColumns[1:] {
		if _, ok := first[col]; ok {
			return true
		}
	}
	return false
}

// numericField reads a float from a row, accepting JSON numbers and
// numeric strings. Anything else is zero.
func numericField(row backends.Row, col string) float64 {
	switch v := row[col].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(v), "$"), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// yearOf extracts a four-digit year from a date-like value such as
// "2024-03-15" or "2024-03-15T00:00:00Z". Returns 0 when absent.
func yearOf(v any) int {
	s, ok := v.(string)
	if !ok || len(s) < 4 {
		return 0
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil || year < 1900 || year > 2200 {
		return 0
	}
	return year
}
