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
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/chairside/services/nlq/config"
)

// compiledPattern holds a pattern string alongside its pre-compiled regex
// (nil for substring-only patterns).
type compiledPattern struct {
	raw   string
	regex *regexp.Regexp
}

// compilePatterns pre-compiles a list of patterns, treating ".*" patterns as regex.
func compilePatterns(patterns []string, logger *slog.Logger) []compiledPattern {
	result := make([]compiledPattern, len(patterns))
	for i, pattern := range patterns {
		patternLower := strings.ToLower(pattern)
		cp := compiledPattern{raw: patternLower}
		if strings.Contains(patternLower, ".*") {
			re, err := regexp.Compile("(?i)" + patternLower)
			if err != nil {
				logger.Warn("nlq: invalid regex pattern, will skip",
					slog.String("pattern", pattern),
					slog.String("error", err.Error()),
				)
			} else {
				cp.regex = re
			}
		}
		result[i] = cp
	}
	return result
}

// matchCompiledPattern checks if a lowercased query matches a pre-compiled pattern.
func matchCompiledPattern(queryLower string, cp compiledPattern) bool {
	if cp.regex != nil {
		return cp.regex.MatchString(queryLower)
	}
	return strings.Contains(queryLower, cp.raw)
}

// countMatches returns how many patterns match the lowercased query.
func countMatches(queryLower string, patterns []compiledPattern) int {
	count := 0
	for _, cp := range patterns {
		if matchCompiledPattern(queryLower, cp) {
			count++
		}
	}
	return count
}

// =============================================================================
// Classifier
// =============================================================================

// Classifier assigns one discrete intent to a question using weighted
// keyword scoring with tie-break priority.
//
// Description:
//
//	Each intent owns a fixed keyword list and a numeric priority
//	(count=4, filter=3, content=2, analysis=1). Score = number of
//	keywords present. Selection sorts by (score desc, priority desc);
//	a top score of zero returns IntentNone. The priority order encodes
//	that statistics questions are the most specific signal: "how many"
//	must never lose to "filter" just because the question also contains
//	a generic verb like "show".
//
// Thread Safety: Safe for concurrent use (all state is read-only after
// construction).
type Classifier struct {
	rules    *config.KeywordRules
	logger   *slog.Logger
	compiled [][]compiledPattern
}

// NewClassifier creates a Classifier from the rule tables.
//
// Inputs:
//
//	rules - Keyword rule tables. Must not be nil.
//	logger - Logger for structured output. May be nil (slog.Default).
//
// Outputs:
//
//	*Classifier - The constructed classifier.
func NewClassifier(rules *config.KeywordRules, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{rules: rules, logger: logger}
	c.compiled = make([][]compiledPattern, len(rules.Intents))
	for i, intent := range rules.Intents {
		c.compiled[i] = compilePatterns(intent.Keywords, logger)
	}
	return c
}

// Classify returns the intent for a question, or IntentNone.
//
// Thread Safety: Safe for concurrent use.
func (c *Classifier) Classify(question string) Intent {
	queryLower := strings.ToLower(question)

	type scored struct {
		name     string
		score    int
		priority int
	}
	candidates := make([]scored, 0, len(c.rules.Intents))
	for i, intent := range c.rules.Intents {
		candidates = append(candidates, scored{
			name:     intent.Name,
			score:    countMatches(queryLower, c.compiled[i]),
			priority: intent.Priority,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].priority > candidates[j].priority
	})

	top := candidates[0]
	if top.score == 0 {
		return IntentNone
	}

	intentTotal.WithLabelValues(top.name).Inc()
	return Intent(top.name)
}
