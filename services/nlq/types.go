// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nlq implements the natural-language query pipeline: date
// resolution, entity extraction, intent classification, and route
// selection. Everything here is deterministic keyword/regex scoring
// over raw question text: no tokenizer, no model, no confidence
// calibration. The keyword tables live in services/nlq/config as data.
package nlq

import "fmt"

// Intent is the classified purpose of a question.
type Intent string

const (
	// IntentNone means no intent keyword matched; the question falls
	// through to the conversational LLM.
	IntentNone Intent = ""

	// IntentCount covers statistics questions ("how many", "total").
	IntentCount Intent = "count"

	// IntentFilter covers listing/filtering questions ("show", "top").
	IntentFilter Intent = "filter"

	// IntentContent covers content retrieval ("what did they say").
	IntentContent Intent = "content"

	// IntentAnalysis covers analytical questions ("trend", "compare").
	IntentAnalysis Intent = "analysis"
)

// Backend identifies which external data source serves a question.
type Backend string

const (
	// BackendTXQL is the SQL-generation service.
	BackendTXQL Backend = "txql"

	// BackendAIVoice is the call-analytics REST API.
	BackendAIVoice Backend = "aivoice"
)

// RouteKind is the short-circuit category a question falls into.
type RouteKind string

const (
	// RouteGreeting means the question is a greeting; answered locally.
	RouteGreeting RouteKind = "greeting"

	// RouteDirection means the call-direction fast path applies.
	RouteDirection RouteKind = "direction"

	// RouteLicenseKey means the question carried an "In <key> ..." prefix.
	RouteLicenseKey RouteKind = "license_key"

	// RouteBackend means normal backend keyword scoring decided the route.
	RouteBackend RouteKind = "backend"
)

// RouteDecision is the output of route selection.
//
// Description:
//
//	Kind is always set. Backend is set for RouteBackend and
//	RouteLicenseKey (the backend the remainder query would hit).
//	LicenseKey and Remainder are set only for RouteLicenseKey.
type RouteDecision struct {
	Kind       RouteKind `json:"kind"`
	Backend    Backend   `json:"backend,omitempty"`
	LicenseKey string    `json:"license_key,omitempty"`
	Remainder  string    `json:"remainder,omitempty"`
}

// DateRange is an inclusive ISO date pair.
//
// Description:
//
//	Both fields are YYYY-MM-DD. Either both are valid dates or the whole
//	value is absent (nil), never partially populated. The pair is emitted
//	in question order and deliberately not re-sorted: a user who supplies
//	the dates reversed gets a reversed range.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ComparisonFilter is a numeric threshold extracted from phrasing like
// "longer than 120" or "more than $50".
type ComparisonFilter struct {
	// Op is ">" or "<".
	Op string `json:"op"`

	// Value is the threshold.
	Value float64 `json:"value"`
}

// Entities is the flat record of optional signals pulled from one question.
//
// Description:
//
//	Produced once per question by the Extractor and read-only afterward.
//	Every probe defaults to its zero value on no match; probes never fail.
type Entities struct {
	// PatientNumber is the PatNum if one was written out (0 = absent).
	PatientNumber int `json:"patient_number,omitempty"`

	// PatientName is a Title-Case name if one was detected.
	PatientName string `json:"patient_name,omitempty"`

	// DateRange is the resolved date window, nil when no date phrasing.
	DateRange *DateRange `json:"date_range,omitempty"`

	// LicenseKey is a detected practice license key (20+ base64 chars).
	LicenseKey string `json:"license_key,omitempty"`

	// State is a detected US state name or whitelisted abbreviation.
	State string `json:"state,omitempty"`

	// IsActiveOnly is true when the question asks for active records only.
	IsActiveOnly bool `json:"is_active_only,omitempty"`

	// IncludeDeleted is true when the question explicitly wants deleted rows.
	IncludeDeleted bool `json:"include_deleted,omitempty"`

	// ResultLimit is an explicit row cap ("top 5"); 0 = none requested.
	ResultLimit int `json:"result_limit,omitempty"`

	// NeedsAutoLimit is false only when the user asked for all results.
	NeedsAutoLimit bool `json:"needs_auto_limit"`

	// DurationFilter is a call-duration threshold in seconds.
	DurationFilter *ComparisonFilter `json:"duration_filter,omitempty"`

	// CostFilter is a dollar-amount threshold.
	CostFilter *ComparisonFilter `json:"cost_filter,omitempty"`

	// TableHint is the first matching table category
	// (patient, appointment, payment, procedure, note).
	TableHint string `json:"table_hint,omitempty"`
}

// String renders a compact summary for logging.
func (e Entities) String() string {
	return fmt.Sprintf("Entities{patnum=%d name=%q range=%v key_len=%d state=%q active=%v deleted=%v limit=%d auto=%v hint=%q}",
		e.PatientNumber, e.PatientName, e.DateRange, len(e.LicenseKey), e.State,
		e.IsActiveOnly, e.IncludeDeleted, e.ResultLimit, e.NeedsAutoLimit, e.TableHint)
}
