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
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/chairside/services/nlq/config"
)

var routerTracer = otel.Tracer("aleutian.chairside.nlq.router")

// Router decides how a question is served: answered locally as a
// greeting, fast-pathed as a call-direction query, scoped by a license
// key, or routed to one of the two backends by keyword-overlap scoring.
//
// Description:
//
//	Checks run in fixed order and the first match short-circuits:
//	 1. License-key prefix ("In <key> <query>"), tried first because it
//	    rewrites the text every later stage sees.
//	 2. Greeting: exact phrase match or a bare ≤3-letter alphabetic token.
//	 3. Call-direction keywords.
//	 4. Backend keyword scoring; strictly more AI-Voice matches routes to
//	    aivoice, everything else (tie or zero-zero included) defaults to
//	    txql. The tie default is a hard contract, covered by tests.
//
//	This is a heuristic, not a guarantee: a question containing both
//	"patient" and "call" resolves purely by raw keyword count.
//
// Thread Safety: Safe for concurrent use (all state is read-only after
// construction).
type Router struct {
	rules            *config.KeywordRules
	logger           *slog.Logger
	aivoicePatterns  []compiledPattern
	txqlPatterns     []compiledPattern
	directionPattern []compiledPattern
}

// NewRouter creates a Router from the rule tables.
//
// Inputs:
//
//	rules - Keyword rule tables. Must not be nil.
//	logger - Logger for structured output. May be nil (slog.Default).
//
// Outputs:
//
//	*Router - The constructed router.
func NewRouter(rules *config.KeywordRules, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		rules:            rules,
		logger:           logger,
		aivoicePatterns:  compilePatterns(rules.Backends.AIVoiceKeywords, logger),
		txqlPatterns:     compilePatterns(rules.Backends.TXQLKeywords, logger),
		directionPattern: compilePatterns(rules.DirectionKeywords, logger),
	}
}

// Route classifies a question into a RouteDecision.
//
// Thread Safety: Safe for concurrent use.
func (r *Router) Route(ctx context.Context, question string) RouteDecision {
	_, span := routerTracer.Start(ctx, "nlq.Router.Route")
	defer span.End()

	// License-key prefix first: it changes the text downstream stages see.
	if key, remainder, ok := SplitLicenseKeyPrefix(question); ok {
		backend := r.scoreBackends(remainder)
		decision := RouteDecision{
			Kind:       RouteLicenseKey,
			Backend:    backend,
			LicenseKey: key,
			Remainder:  remainder,
		}
		r.record(span, decision, question)
		return decision
	}

	if r.isGreeting(question) {
		decision := RouteDecision{Kind: RouteGreeting}
		r.record(span, decision, question)
		return decision
	}

	if countMatches(strings.ToLower(question), r.directionPattern) > 0 {
		decision := RouteDecision{Kind: RouteDirection, Backend: BackendAIVoice}
		r.record(span, decision, question)
		return decision
	}

	decision := RouteDecision{Kind: RouteBackend, Backend: r.scoreBackends(question)}
	r.record(span, decision, question)
	return decision
}

// GreetingResponse returns a canned greeting reply.
//
// Description:
//
//	Response text selection is explicitly randomized; everything else
//	about routing is deterministic.
func (r *Router) GreetingResponse() string {
	responses := r.rules.Greetings.Responses
	return responses[rand.Intn(len(responses))]
}

// isGreeting reports an exact phrase match or a bare short alphabetic token.
func (r *Router) isGreeting(question string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(question))
	trimmed = strings.TrimRight(trimmed, "!.?")
	for _, phrase := range r.rules.Greetings.Phrases {
		if trimmed == strings.ToLower(phrase) {
			return true
		}
	}
	if len(trimmed) > 0 && len(trimmed) <= 3 {
		for _, ch := range trimmed {
			if !unicode.IsLetter(ch) {
				return false
			}
		}
		return true
	}
	return false
}

// scoreBackends routes to whichever keyword list has strictly more
// matches; ties and zero-zero default to txql.
func (r *Router) scoreBackends(question string) Backend {
	queryLower := strings.ToLower(question)
	aivoiceScore := countMatches(queryLower, r.aivoicePatterns)
	txqlScore := countMatches(queryLower, r.txqlPatterns)

	if aivoiceScore > txqlScore {
		return BackendAIVoice
	}
	return BackendTXQL
}

// record emits the routing metric, span attributes, and log line.
func (r *Router) record(span oteltrace.Span, decision RouteDecision, question string) {
	routeDecisionsTotal.WithLabelValues(string(decision.Kind), string(decision.Backend)).Inc()
	span.SetAttributes(
		attribute.String("route.kind", string(decision.Kind)),
		attribute.String("route.backend", string(decision.Backend)),
	)
	r.logger.Debug("route selected",
		slog.String("kind", string(decision.Kind)),
		slog.String("backend", string(decision.Backend)),
		slog.String("query_preview", truncateForLog(question, 80)),
	)
}

// truncateForLog shortens a string for log output.
func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
