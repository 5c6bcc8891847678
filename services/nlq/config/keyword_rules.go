// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the keyword rule tables that drive intent
// classification, backend routing, and entity extraction. The tables are
// embedded YAML so they can be unit-tested and extended as data rather
// than code.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Keyword Rules
// =============================================================================

//go:embed keyword_rules.yaml
var defaultKeywordRulesYAML []byte

var keywordRulesTracer = otel.Tracer("aleutian.chairside.nlq.config")

// MaxYAMLFileSize is the maximum accepted rule file size in bytes.
const MaxYAMLFileSize = 1 << 20

// =============================================================================
// Keyword Rule Types
// =============================================================================

// KeywordRules is the full rule table for the NLQ pipeline.
//
// Description:
//
//	Contains intent keyword lists with priorities, backend routing keyword
//	lists, greeting phrases and responses, call-direction keywords, table
//	hints, note-summary triggers, US state tables, and the candidate
//	date-column list used by SQL augmentation.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type KeywordRules struct {
	// Intents lists the intent definitions in declaration order.
	Intents []IntentRule `yaml:"intents"`

	// Backends holds the keyword-overlap routing tables.
	Backends BackendRules `yaml:"backends"`

	// Greetings holds greeting detection phrases and canned responses.
	Greetings GreetingRules `yaml:"greetings"`

	// DirectionKeywords trigger the call-direction fast path.
	DirectionKeywords []string `yaml:"direction_keywords"`

	// TableHints maps a table category to its trigger keywords.
	TableHints map[string][]string `yaml:"table_hints"`

	// PaymentAnalysisKeywords select the payment analyzer when the result
	// columns carry the known financial fields.
	PaymentAnalysisKeywords []string `yaml:"payment_analysis_keywords"`

	// NoteTriggers holds the phrases that select the note-summary path.
	NoteTriggers NoteTriggerRules `yaml:"note_triggers"`

	// States holds US state names and the accepted abbreviation whitelist.
	States StateRules `yaml:"states"`

	// DateColumns is the candidate date-column list for date-range splicing.
	DateColumns []string `yaml:"date_columns"`
}

// IntentRule defines one intent's keyword list and tie-break priority.
type IntentRule struct {
	// Name is the intent name ("count", "filter", "content", "analysis").
	Name string `yaml:"name"`

	// Priority breaks score ties; higher wins.
	Priority int `yaml:"priority"`

	// Keywords are substring patterns; patterns containing ".*" are regex.
	Keywords []string `yaml:"keywords"`
}

// BackendRules holds the two keyword lists used for backend selection.
type BackendRules struct {
	AIVoiceKeywords []string `yaml:"aivoice_keywords"`
	TXQLKeywords    []string `yaml:"txql_keywords"`
}

// GreetingRules holds greeting phrases and the responses drawn for them.
type GreetingRules struct {
	Phrases   []string `yaml:"phrases"`
	Responses []string `yaml:"responses"`
}

// NoteTriggerRules holds the phrases that dispatch the note summarizer.
type NoteTriggerRules struct {
	// General triggers select the general note-summary prompt.
	General []string `yaml:"general"`

	// Pricing triggers select the pricing-focused prompt variant.
	Pricing []string `yaml:"pricing"`
}

// StateRules holds the state matching tables.
type StateRules struct {
	// Abbreviations is the short whitelist of accepted two-letter codes.
	Abbreviations []string `yaml:"abbreviations"`

	// Names lists the 50 US state full names.
	Names []string `yaml:"names"`
}

// =============================================================================
// Singleton Keyword Rules
// =============================================================================

var (
	keywordRulesMu      sync.RWMutex
	keywordRulesOnce    sync.Once
	cachedKeywordRules  *KeywordRules
	keywordRulesLoadErr error
)

// GetKeywordRules returns the cached keyword rule tables.
//
// Description:
//
//	Loads the embedded rules on first call and caches for subsequent calls.
//	Uses sync.Once for thread-safe initialization.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*KeywordRules - The loaded rules. Never nil on success.
//	error - Non-nil if loading or validation failed.
//
// Thread Safety: Safe for concurrent use via sync.Once.
func GetKeywordRules(ctx context.Context) (*KeywordRules, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetKeywordRules: ctx must not be nil")
	}

	keywordRulesMu.RLock()
	if cachedKeywordRules != nil || keywordRulesLoadErr != nil {
		rules, err := cachedKeywordRules, keywordRulesLoadErr
		keywordRulesMu.RUnlock()
		return rules, err
	}
	keywordRulesMu.RUnlock()

	keywordRulesMu.Lock()
	defer keywordRulesMu.Unlock()

	if cachedKeywordRules != nil || keywordRulesLoadErr != nil {
		return cachedKeywordRules, keywordRulesLoadErr
	}

	keywordRulesOnce.Do(func() {
		cachedKeywordRules, keywordRulesLoadErr = LoadKeywordRules(ctx, defaultKeywordRulesYAML)
	})

	return cachedKeywordRules, keywordRulesLoadErr
}

// ResetKeywordRules resets the cached rules for testing.
//
// Thread Safety: Safe for concurrent use.
func ResetKeywordRules() {
	keywordRulesMu.Lock()
	defer keywordRulesMu.Unlock()
	cachedKeywordRules = nil
	keywordRulesLoadErr = nil
	keywordRulesOnce = sync.Once{}
}

// LoadKeywordRules loads and validates KeywordRules from YAML bytes.
//
// Description:
//
//	Parses the YAML and validates the tables for consistency: every intent
//	needs a name, a positive priority, and at least one keyword; both
//	backend lists must be non-empty; greeting responses must exist.
//
// Inputs:
//
//	ctx - Context for tracing.
//	data - Raw YAML bytes to parse.
//
// Outputs:
//
//	*KeywordRules - The validated rules.
//	error - Non-nil if parsing or validation fails.
func LoadKeywordRules(ctx context.Context, data []byte) (*KeywordRules, error) {
	_, span := keywordRulesTracer.Start(ctx, "config.LoadKeywordRules")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadKeywordRules: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadKeywordRules: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	var rules KeywordRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("LoadKeywordRules: parsing YAML: %w", err)
	}

	if err := rules.validate(); err != nil {
		return nil, fmt.Errorf("LoadKeywordRules: %w", err)
	}

	return &rules, nil
}

// validate checks the rule tables for structural consistency.
func (r *KeywordRules) validate() error {
	if len(r.Intents) == 0 {
		return fmt.Errorf("no intents defined")
	}
	seen := make(map[string]bool, len(r.Intents))
	for i, intent := range r.Intents {
		if intent.Name == "" {
			return fmt.Errorf("intent %d: empty name", i)
		}
		if seen[intent.Name] {
			return fmt.Errorf("intent %q: duplicate definition", intent.Name)
		}
		seen[intent.Name] = true
		if intent.Priority <= 0 {
			return fmt.Errorf("intent %q: priority must be positive", intent.Name)
		}
		if len(intent.Keywords) == 0 {
			return fmt.Errorf("intent %q: no keywords", intent.Name)
		}
	}

	if len(r.Backends.AIVoiceKeywords) == 0 {
		return fmt.Errorf("backends: empty aivoice_keywords")
	}
	if len(r.Backends.TXQLKeywords) == 0 {
		return fmt.Errorf("backends: empty txql_keywords")
	}
	if len(r.Greetings.Phrases) == 0 || len(r.Greetings.Responses) == 0 {
		return fmt.Errorf("greetings: phrases and responses must be non-empty")
	}
	if len(r.DateColumns) == 0 {
		return fmt.Errorf("date_columns: must be non-empty")
	}
	return nil
}
