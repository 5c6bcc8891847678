// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlshape

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/chairside/services/nlq"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var splicesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chairside",
	Subsystem: "sqlshape",
	Name:      "splices_total",
	Help:      "Total augmentation splices applied by rule",
}, []string{"rule"})

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultAugmentLimit is the LIMIT applied during entity-driven
	// augmentation when the user gave no explicit row cap.
	DefaultAugmentLimit = 100

	// DefaultSafetyLimit is the LIMIT applied by the raw EnsureLimit
	// safety net on TXQL- or fallback-generated SQL.
	DefaultSafetyLimit = 1000
)

var (
	isActiveRefRE  = regexp.MustCompile(`(?i)isactive`)
	patStatusRefRE = regexp.MustCompile(`(?i)patstatus`)
	patientTableRE = regexp.MustCompile(`(?i)\b(?:from|join)\s+patient\b`)
)

// Augmenter splices safety and semantic clauses into SQL text.
//
// Description:
//
//	Rules are applied in fixed order, each a textual splice:
//	 1. LIMIT injection (skipped when the user asked for all results).
//	 2. IsActive = 1 when only active records were requested.
//	 3. (PatStatus != 2) on patient-table statements unless deleted rows
//	    were explicitly requested.
//	 4. DATE(<col>) BETWEEN range, against the first candidate date
//	    column the statement already references.
//	 5. State = '<state>'.
//
//	Statements containing UNION or nested SELECTs (locally-synthesized
//	note queries are built with UNION ALL) receive only the LIMIT rule;
//	clause injection is skipped because the first WHERE/ORDER BY token
//	found may belong to an inner query.
//
// Thread Safety: Safe for concurrent use (all state is read-only after
// construction).
type Augmenter struct {
	dateColumns []string
}

// NewAugmenter creates an Augmenter with the candidate date-column list.
//
// Inputs:
//
//	dateColumns - Ordered candidate date-column names
//	              (AptDateTime, ProcDate, DateEntry, ...).
//
// Outputs:
//
//	*Augmenter - The constructed augmenter.
func NewAugmenter(dateColumns []string) *Augmenter {
	return &Augmenter{dateColumns: dateColumns}
}

// Augment applies the entity-driven splice rules to a statement.
//
// Description:
//
//	Idempotent with respect to every rule: a clause already present is
//	never injected twice, and in particular calling Augment twice never
//	produces two LIMIT clauses.
//
// Inputs:
//
//	sql - The statement text.
//	entities - Extracted question signals driving the rules.
//
// Outputs:
//
//	string - The augmented statement. A trailing semicolon is stripped
//	         and never re-appended.
//
// Thread Safety: Safe for concurrent use.
func (a *Augmenter) Augment(sql string, entities nlq.Entities) string {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimSuffix(sql, ";")

	compound := isCompound(sql)

	if !compound {
		if entities.IsActiveOnly && !isActiveRefRE.MatchString(sql) {
			sql = spliceCondition(sql, "IsActive = 1")
			splicesTotal.WithLabelValues("is_active").Inc()
		}

		if !entities.IncludeDeleted && patientTableRE.MatchString(sql) && !patStatusRefRE.MatchString(sql) {
			sql = spliceCondition(sql, "(PatStatus != 2)")
			splicesTotal.WithLabelValues("pat_status").Inc()
		}

		if entities.DateRange != nil {
			if col := a.referencedDateColumn(sql); col != "" {
				cond := fmt.Sprintf("DATE(%s) BETWEEN '%s' AND '%s'",
					col, entities.DateRange.StartDate, entities.DateRange.EndDate)
				sql = spliceCondition(sql, cond)
				splicesTotal.WithLabelValues("date_range").Inc()
			}
		}

		if entities.State != "" {
			sql = spliceCondition(sql, fmt.Sprintf("State = '%s'", escapeSingleQuotes(entities.State)))
			splicesTotal.WithLabelValues("state").Inc()
		}
	}

	if !HasLimit(sql) && (entities.NeedsAutoLimit || entities.ResultLimit > 0) {
		limit := entities.ResultLimit
		if limit <= 0 {
			limit = DefaultAugmentLimit
		}
		sql = fmt.Sprintf("%s LIMIT %d", sql, limit)
		splicesTotal.WithLabelValues("limit").Inc()
	}

	return sql
}

// EnsureLimit is the raw safety net for TXQL- and fallback-generated SQL.
//
// Description:
//
//	Appends LIMIT n when the statement lacks one. A trailing semicolon is
//	stripped first and never re-appended. Pass n <= 0 for the default.
func EnsureLimit(sql string, n int) string {
	sql = strings.TrimSpace(sql)
	sql = strings.TrimSuffix(sql, ";")
	if HasLimit(sql) {
		return sql
	}
	if n <= 0 {
		n = DefaultSafetyLimit
	}
	splicesTotal.WithLabelValues("safety_limit").Inc()
	return fmt.Sprintf("%s LIMIT %d", sql, n)
}

// referencedDateColumn returns the first candidate date column the
// statement already mentions, or "".
func (a *Augmenter) referencedDateColumn(sql string) string {
	lower := strings.ToLower(sql)
	for _, col := range a.dateColumns {
		if strings.Contains(lower, strings.ToLower(col)) {
			return col
		}
	}
	return ""
}

// spliceCondition inserts a condition into a statement.
//
// Description:
//
//	The single splice primitive shared by every rule:
//	 - an existing WHERE gets the condition prepended with AND,
//	 - otherwise a new WHERE is inserted just before a trailing
//	   ORDER BY / LIMIT clause,
//	 - otherwise a new WHERE is appended at the very end.
func spliceCondition(sql, cond string) string {
	if loc := whereRE.FindStringIndex(sql); loc != nil {
		return sql[:loc[1]] + " " + cond + " AND" + sql[loc[1]:]
	}

	tailIdx := -1
	if loc := orderByRE.FindStringIndex(sql); loc != nil {
		tailIdx = loc[0]
	}
	if loc := limitClauseRE.FindStringIndex(sql); loc != nil && (tailIdx == -1 || loc[0] < tailIdx) {
		tailIdx = loc[0]
	}

	if tailIdx >= 0 {
		return strings.TrimRight(sql[:tailIdx], " ") + " WHERE " + cond + " " + sql[tailIdx:]
	}
	return sql + " WHERE " + cond
}

// escapeSingleQuotes doubles single quotes for safe literal embedding.
func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
