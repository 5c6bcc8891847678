// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nlq

import (
	"regexp"
	"strings"
	"time"
)

const isoDateLayout = "2006-01-02"

var isoDateRE = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)

// ResolveDateRange parses relative or absolute date expressions from a
// question into an inclusive DateRange.
//
// Description:
//
//	Evaluates in fixed priority order, first match wins:
//	 1. Explicit YYYY-MM-DD tokens. One token → same start and end; two →
//	    emitted in question order without re-sorting; more than two →
//	    first and last. Tokens that fail round-trip validation (like
//	    2024-02-30) are discarded before counting.
//	 2. Keyword phrases as plain substring checks: "today", "yesterday",
//	    "this week" (Sunday through today), "last week" (the seven days
//	    ending the Saturday before this week), "this month", "last month".
//	 3. No match → nil.
//
// Inputs:
//
//	question - The raw question text.
//	now - The current time, already in the configured practice timezone.
//	      All "today" arithmetic derives from this value, never from the
//	      host clock, to avoid off-by-one-day errors across zones.
//
// Outputs:
//
//	*DateRange - The resolved range, or nil when nothing matched.
//
// Thread Safety: Pure function; safe for concurrent use.
func ResolveDateRange(question string, now time.Time) *DateRange {
	if dates := validISODates(question); len(dates) > 0 {
		switch len(dates) {
		case 1:
			return &DateRange{StartDate: dates[0], EndDate: dates[0]}
		case 2:
			return &DateRange{StartDate: dates[0], EndDate: dates[1]}
		default:
			return &DateRange{StartDate: dates[0], EndDate: dates[len(dates)-1]}
		}
	}

	q := strings.ToLower(question)
	today := now.Format(isoDateLayout)

	switch {
	case strings.Contains(q, "today"):
		return &DateRange{StartDate: today, EndDate: today}

	case strings.Contains(q, "yesterday"):
		y := now.AddDate(0, 0, -1).Format(isoDateLayout)
		return &DateRange{StartDate: y, EndDate: y}

	case strings.Contains(q, "this week"):
		weekStart := now.AddDate(0, 0, -int(now.Weekday()))
		return &DateRange{
			StartDate: weekStart.Format(isoDateLayout),
			EndDate:   today,
		}

	case strings.Contains(q, "last week"):
		// The seven days ending the Saturday before this week's Sunday.
		end := now.AddDate(0, 0, -int(now.Weekday())-1)
		start := end.AddDate(0, 0, -6)
		return &DateRange{
			StartDate: start.Format(isoDateLayout),
			EndDate:   end.Format(isoDateLayout),
		}

	case strings.Contains(q, "this month"):
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return &DateRange{
			StartDate: monthStart.Format(isoDateLayout),
			EndDate:   today,
		}

	case strings.Contains(q, "last month"):
		thisMonthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		lastMonthStart := thisMonthStart.AddDate(0, -1, 0)
		lastMonthEnd := thisMonthStart.AddDate(0, 0, -1)
		return &DateRange{
			StartDate: lastMonthStart.Format(isoDateLayout),
			EndDate:   lastMonthEnd.Format(isoDateLayout),
		}
	}

	return nil
}

// ValidISODate reports whether s is a real calendar date in YYYY-MM-DD form.
//
// Description:
//
//	Re-parses the string and confirms the year/month/day round-trip exactly.
//	This guards against silently-normalized invalid dates: time.Parse
//	rejects 2024-02-30 outright, and the round-trip check additionally
//	rejects anything a lenient parser would have normalized.
func ValidISODate(s string) bool {
	t, err := time.Parse(isoDateLayout, s)
	if err != nil {
		return false
	}
	return t.Format(isoDateLayout) == s
}

// validISODates returns all valid YYYY-MM-DD tokens in question order.
func validISODates(question string) []string {
	matches := isoDateRE.FindAllString(question, -1)
	if len(matches) == 0 {
		return nil
	}
	valid := make([]string, 0, len(matches))
	for _, m := range matches {
		if ValidISODate(m) {
			valid = append(valid, m)
		}
	}
	return valid
}
