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
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/chairside/services/nlq/config"
)

// =============================================================================
// Compiled Probe Patterns
// =============================================================================

var (
	patNumRE       = regexp.MustCompile(`(?i)patnum\s*=?\s*(\d+)`)
	patientNameRE  = regexp.MustCompile(`(?:for|patient|of)\s+([A-Z][a-z]+\s+[A-Z][a-z]+)`)
	possessiveRE   = regexp.MustCompile(`\b([A-Z][a-z]+)'s\b`)
	licenseKeyRE   = regexp.MustCompile(`[A-Za-z0-9+/=]{20,}`)
	keyPrefixRE    = regexp.MustCompile(`(?i)^\s*in\s+([A-Za-z0-9+/=]{30,})\s+(.+)$`)
	durationGtRE   = regexp.MustCompile(`(?i)longer than\s+(\d+(?:\.\d+)?)`)
	durationLtRE   = regexp.MustCompile(`(?i)shorter than\s+(\d+(?:\.\d+)?)`)
	costGtRE       = regexp.MustCompile(`(?i)more than\s+\$?(\d+(?:\.\d+)?)`)
	costLtRE       = regexp.MustCompile(`(?i)less than\s+\$?(\d+(?:\.\d+)?)`)
	resultLimitRE  = regexp.MustCompile(`(?i)\b(?:top|first|limit)\s+(\d+)`)
	allResultsRE   = regexp.MustCompile(`(?i)\b(?:all (?:results|records|rows|of them)|everything|no limit|without (?:a )?limit)\b`)
	activeOnlyRE   = regexp.MustCompile(`(?i)\b(?:only active|active only|active\b)`)
	inactiveRE     = regexp.MustCompile(`(?i)\binactive\b`)
	withDeletedRE  = regexp.MustCompile(`(?i)\b(?:includ\w+|with|show)\s+deleted\b`)
	stateAbbrevSep = regexp.MustCompile(`\b[A-Z]{2}\b`)
)

// tableHintOrder fixes the probe order so hint selection is deterministic
// regardless of map iteration.
var tableHintOrder = []string{"patient", "appointment", "payment", "procedure", "note"}

// =============================================================================
// Extractor
// =============================================================================

// Extractor pulls structured signals out of raw question text.
//
// Description:
//
//	A composition of independent regex/keyword probes. Probes are
//	order-independent, default to zero values on no match, and never fail.
//	Conflicting date signals (both "today" and an explicit date) resolve
//	by ResolveDateRange's fixed priority, not here.
//
// Thread Safety: Safe for concurrent use (all state is read-only after
// construction).
type Extractor struct {
	rules *config.KeywordRules
}

// NewExtractor creates an Extractor bound to the given rule tables.
//
// Inputs:
//
//	rules - Keyword rule tables. Must not be nil.
//
// Outputs:
//
//	*Extractor - The constructed extractor.
func NewExtractor(rules *config.KeywordRules) *Extractor {
	return &Extractor{rules: rules}
}

// Extract runs every probe against the question.
//
// Inputs:
//
//	question - The raw question text.
//	now - Current time in the configured practice timezone (for the date probe).
//
// Outputs:
//
//	Entities - The extracted signals. NeedsAutoLimit defaults to true.
//
// Thread Safety: Safe for concurrent use.
func (e *Extractor) Extract(question string, now time.Time) Entities {
	out := Entities{NeedsAutoLimit: true}

	if m := patNumRE.FindStringSubmatch(question); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out.PatientNumber = n
		}
	}

	out.PatientName = extractPatientName(question)
	out.LicenseKey = extractLicenseKey(question)
	out.DateRange = ResolveDateRange(question, now)
	out.State = e.extractState(question)
	out.TableHint = e.extractTableHint(question)

	if activeOnlyRE.MatchString(question) && !inactiveRE.MatchString(question) {
		out.IsActiveOnly = true
	}
	if withDeletedRE.MatchString(question) {
		out.IncludeDeleted = true
	}

	if m := durationGtRE.FindStringSubmatch(question); m != nil {
		out.DurationFilter = parseComparison(">", m[1])
	} else if m := durationLtRE.FindStringSubmatch(question); m != nil {
		out.DurationFilter = parseComparison("<", m[1])
	}

	if m := costGtRE.FindStringSubmatch(question); m != nil {
		out.CostFilter = parseComparison(">", m[1])
	} else if m := costLtRE.FindStringSubmatch(question); m != nil {
		out.CostFilter = parseComparison("<", m[1])
	}

	if allResultsRE.MatchString(question) {
		out.NeedsAutoLimit = false
	} else if m := resultLimitRE.FindStringSubmatch(question); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			out.ResultLimit = n
		}
	}

	return out
}

// SplitLicenseKeyPrefix splits an "In <key> <query>" prefixed question.
//
// Description:
//
//	This is a distinct preprocessing step from generic license-key
//	detection: it requires 30+ base64-alphabet characters anchored right
//	after the literal word "In" at the start of the string, and it
//	changes what text every downstream stage sees. Callers must try this
//	before any other probe or routing check.
//
// Outputs:
//
//	key - The extracted license key.
//	remainder - The query text after the key.
//	ok - True when the prefix form matched.
func SplitLicenseKeyPrefix(question string) (key, remainder string, ok bool) {
	m := keyPrefixRE.FindStringSubmatch(question)
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}

// extractPatientName finds a Title-Case two-word name following
// for/patient/of, falling back to a possessive "Name's" form.
func extractPatientName(question string) string {
	if m := patientNameRE.FindStringSubmatch(question); m != nil {
		return m[1]
	}
	if m := possessiveRE.FindStringSubmatch(question); m != nil {
		return m[1]
	}
	return ""
}

// extractLicenseKey returns the longest run of 20+ base64-alphabet
// characters anywhere in the text.
func extractLicenseKey(question string) string {
	matches := licenseKeyRE.FindAllString(question, -1)
	longest := ""
	for _, m := range matches {
		if len(m) > len(longest) {
			longest = m
		}
	}
	return longest
}

// extractState matches the 50 US state full names, then the abbreviation
// whitelist as standalone uppercase tokens.
func (e *Extractor) extractState(question string) string {
	q := strings.ToLower(question)
	for _, name := range e.rules.States.Names {
		if strings.Contains(q, strings.ToLower(name)) {
			return name
		}
	}
	for _, token := range stateAbbrevSep.FindAllString(question, -1) {
		for _, abbrev := range e.rules.States.Abbreviations {
			if token == abbrev {
				return abbrev
			}
		}
	}
	return ""
}

// extractTableHint returns the first matching table category.
func (e *Extractor) extractTableHint(question string) string {
	q := strings.ToLower(question)
	for _, category := range tableHintOrder {
		for _, kw := range e.rules.TableHints[category] {
			if strings.Contains(q, strings.ToLower(kw)) {
				return category
			}
		}
	}
	return ""
}

func parseComparison(op, raw string) *ComparisonFilter {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &ComparisonFilter{Op: op, Value: v}
}
