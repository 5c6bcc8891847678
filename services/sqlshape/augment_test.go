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
	"strings"
	"testing"

	"github.com/AleutianAI/chairside/services/nlq"
)

var testDateColumns = []string{"AptDateTime", "ProcDate", "DateEntry", "CreatedDate", "ModifiedDate", "CommDateTime"}

func newTestAugmenter() *Augmenter {
	return NewAugmenter(testDateColumns)
}

func TestAugmenter_Augment(t *testing.T) {
	a := newTestAugmenter()

	t.Run("active patient query gets one WHERE and a limit", func(t *testing.T) {
		entities := nlq.Entities{IsActiveOnly: true, NeedsAutoLimit: true}
		got := a.Augment("SELECT * FROM patient", entities)
		want := "SELECT * FROM patient WHERE (PatStatus != 2) AND IsActive = 1 LIMIT 100"
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		if strings.Count(got, "WHERE") != 1 {
			t.Errorf("expected exactly one WHERE, got %q", got)
		}
	})

	t.Run("include deleted skips the PatStatus guard", func(t *testing.T) {
		entities := nlq.Entities{IncludeDeleted: true, NeedsAutoLimit: true}
		got := a.Augment("SELECT * FROM patient", entities)
		if strings.Contains(got, "PatStatus") {
			t.Errorf("PatStatus guard injected despite IncludeDeleted: %q", got)
		}
	})

	t.Run("existing PatStatus reference is not duplicated", func(t *testing.T) {
		entities := nlq.Entities{NeedsAutoLimit: true}
		got := a.Augment("SELECT * FROM patient WHERE PatStatus = 0", entities)
		if strings.Count(got, "PatStatus") != 1 {
			t.Errorf("PatStatus duplicated: %q", got)
		}
	})

	t.Run("date range targets a referenced date column only", func(t *testing.T) {
		entities := nlq.Entities{
			NeedsAutoLimit: true,
			DateRange:      &nlq.DateRange{StartDate: "2025-01-01", EndDate: "2025-01-31"},
		}

		got := a.Augment("SELECT AptDateTime FROM appointment", entities)
		if !strings.Contains(got, "DATE(AptDateTime) BETWEEN '2025-01-01' AND '2025-01-31'") {
			t.Errorf("date clause missing: %q", got)
		}

		got = a.Augment("SELECT LName FROM appointment", entities)
		if strings.Contains(got, "BETWEEN") {
			t.Errorf("date clause injected without a referenced date column: %q", got)
		}
	})

	t.Run("first referenced date column wins", func(t *testing.T) {
		entities := nlq.Entities{
			NeedsAutoLimit: true,
			DateRange:      &nlq.DateRange{StartDate: "2025-01-01", EndDate: "2025-01-31"},
		}
		got := a.Augment("SELECT ProcDate, DateEntry FROM procedurelog", entities)
		if !strings.Contains(got, "DATE(ProcDate) BETWEEN") {
			t.Errorf("expected ProcDate (first candidate), got %q", got)
		}
	})

	t.Run("state literal is quoted and escaped", func(t *testing.T) {
		entities := nlq.Entities{NeedsAutoLimit: true, State: "O'Brien"}
		got := a.Augment("SELECT * FROM clinic", entities)
		if !strings.Contains(got, "State = 'O''Brien'") {
			t.Errorf("state literal not escaped: %q", got)
		}
	})

	t.Run("explicit result limit wins over default", func(t *testing.T) {
		entities := nlq.Entities{NeedsAutoLimit: true, ResultLimit: 5}
		got := a.Augment("SELECT * FROM procedurelog", entities)
		if !strings.HasSuffix(got, "LIMIT 5") {
			t.Errorf("expected LIMIT 5 suffix, got %q", got)
		}
	})

	t.Run("all results requested means no limit", func(t *testing.T) {
		entities := nlq.Entities{NeedsAutoLimit: false}
		got := a.Augment("SELECT * FROM payment", entities)
		if HasLimit(got) {
			t.Errorf("limit injected despite all-results request: %q", got)
		}
	})

	t.Run("existing limit is preserved", func(t *testing.T) {
		entities := nlq.Entities{NeedsAutoLimit: true}
		got := a.Augment("SELECT * FROM payment LIMIT 20", entities)
		if strings.Count(strings.ToUpper(got), "LIMIT") != 1 {
			t.Errorf("duplicate LIMIT: %q", got)
		}
		if !strings.Contains(got, "LIMIT 20") {
			t.Errorf("original limit lost: %q", got)
		}
	})

	t.Run("augment is idempotent", func(t *testing.T) {
		entities := nlq.Entities{IsActiveOnly: true, NeedsAutoLimit: true}
		once := a.Augment("SELECT * FROM patient", entities)
		twice := a.Augment(once, entities)
		if once != twice {
			t.Errorf("second pass changed output:\nonce:  %q\ntwice: %q", once, twice)
		}
	})

	t.Run("where inserted before trailing order by", func(t *testing.T) {
		entities := nlq.Entities{IsActiveOnly: true, NeedsAutoLimit: true}
		got := a.Augment("SELECT LName FROM provider ORDER BY LName", entities)
		whereIdx := strings.Index(got, "WHERE")
		orderIdx := strings.Index(got, "ORDER BY")
		if whereIdx == -1 || orderIdx == -1 || whereIdx > orderIdx {
			t.Errorf("WHERE not placed before ORDER BY: %q", got)
		}
	})

	t.Run("trailing semicolon stripped and not re-appended", func(t *testing.T) {
		entities := nlq.Entities{NeedsAutoLimit: true}
		got := a.Augment("SELECT * FROM payment;", entities)
		if strings.Contains(got, ";") {
			t.Errorf("semicolon survived: %q", got)
		}
	})

	t.Run("compound statements only get the limit rule", func(t *testing.T) {
		entities := nlq.Entities{
			IsActiveOnly:   true,
			NeedsAutoLimit: true,
			DateRange:      &nlq.DateRange{StartDate: "2025-01-01", EndDate: "2025-01-31"},
		}
		sql := "SELECT NoteText, DateEntry FROM commlog UNION ALL SELECT Note, ProcDate FROM procnote"
		got := a.Augment(sql, entities)
		if strings.Contains(got, "IsActive") || strings.Contains(got, "BETWEEN") {
			t.Errorf("clause injected into compound statement: %q", got)
		}
		if !HasLimit(got) {
			t.Errorf("limit rule skipped on compound statement: %q", got)
		}
	})
}

func TestEnsureLimit(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		n    int
		want string
	}{
		{
			name: "appends default limit",
			sql:  "SELECT * FROM patient",
			n:    0,
			want: "SELECT * FROM patient LIMIT 1000",
		},
		{
			name: "appends explicit limit",
			sql:  "SELECT * FROM patient",
			n:    50,
			want: "SELECT * FROM patient LIMIT 50",
		},
		{
			name: "existing limit untouched",
			sql:  "SELECT * FROM patient LIMIT 10",
			n:    50,
			want: "SELECT * FROM patient LIMIT 10",
		},
		{
			name: "strips trailing semicolon",
			sql:  "SELECT * FROM patient;",
			n:    0,
			want: "SELECT * FROM patient LIMIT 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnsureLimit(tt.sql, tt.n); got != tt.want {
				t.Errorf("EnsureLimit(%q, %d) = %q, want %q", tt.sql, tt.n, got, tt.want)
			}
		})
	}
}
