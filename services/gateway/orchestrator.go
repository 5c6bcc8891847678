// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway wires the question pipeline into HTTP: route selection,
// classification, backend calls, response formatting, and per-user session
// bookkeeping.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/chairside/services/backends"
	"github.com/AleutianAI/chairside/services/format"
	"github.com/AleutianAI/chairside/services/nlq"
	"github.com/AleutianAI/chairside/services/nlq/config"
	"github.com/AleutianAI/chairside/services/sqlshape"
)

var gatewayTracer = otel.Tracer("aleutian.chairside.gateway")

// noteQueryLimit caps locally synthesized note queries.
const noteQueryLimit = 200

// SQLGenerator turns a question into SQL via the external TXQL service.
type SQLGenerator interface {
	GenerateSQL(ctx context.Context, question, sessionID, licenseKey string) (*backends.TXQLResult, error)
}

// CallFetcher retrieves call records from the AI-Voice API.
type CallFetcher interface {
	FetchCalls(ctx context.Context, licenseKey, startDate, endDate string) ([]backends.Row, error)
	DefaultLicenseKey() string
}

// SQLExecutor runs SQL against the external execution service.
type SQLExecutor interface {
	Execute(ctx context.Context, sql string) (*backends.Result, error)
}

// Responder answers open-ended questions conversationally. May be absent.
type Responder interface {
	Respond(ctx context.Context, question string) (string, error)
}

// ChatReply is the orchestrator's answer to one question.
type ChatReply struct {
	// Answer is the markdown answer text.
	Answer string

	// System names the subsystem that produced the answer:
	// greeting, direction, txql, aivoice, or llm.
	System string

	// SessionID is the caller's session identifier.
	SessionID string

	// Chart is the optional chart payload from the formatter.
	Chart *format.ChartData
}

// Orchestrator glues the pipeline into one request/response cycle.
//
// Description:
//
//	Per question: split any license-key prefix, select a route, classify
//	intent and extract entities from the working text, call the chosen
//	backend (through SQL augmentation for TXQL), format the result, and
//	record the turn on the session.
//
// Thread Safety: Orchestrator is safe for concurrent use; all mutable
// state lives behind the SessionStore.
type Orchestrator struct {
	rules      *config.KeywordRules
	router     *nlq.Router
	classifier *nlq.Classifier
	extractor  *nlq.Extractor
	augmenter  *sqlshape.Augmenter
	formatter  *format.Formatter
	sessions   SessionStore

	txql     SQLGenerator
	aivoice  CallFetcher
	executor SQLExecutor
	fallback Responder

	location *time.Location
}

// OrchestratorConfig carries the orchestrator's collaborators.
type OrchestratorConfig struct {
	Rules     *config.KeywordRules
	Formatter *format.Formatter
	Sessions  SessionStore
	TXQL      SQLGenerator
	AIVoice   CallFetcher
	Executor  SQLExecutor

	// Fallback may be nil when no LLM credentials are configured.
	Fallback Responder

	// Location is the practice timezone; all relative date phrases
	// ("today", "last week") resolve against it, never host local time.
	Location *time.Location
}

// NewOrchestrator builds an Orchestrator from its collaborators.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := slog.Default()
	return &Orchestrator{
		rules:      cfg.Rules,
		router:     nlq.NewRouter(cfg.Rules, logger),
		classifier: nlq.NewClassifier(cfg.Rules, logger),
		extractor:  nlq.NewExtractor(cfg.Rules),
		augmenter:  sqlshape.NewAugmenter(cfg.Rules.DateColumns),
		formatter:  cfg.Formatter,
		sessions:   cfg.Sessions,
		txql:       cfg.TXQL,
		aivoice:    cfg.AIVoice,
		executor:   cfg.Executor,
		fallback:   cfg.Fallback,
		location:   cfg.Location,
	}
}

// HandleQuestion runs one question through the full pipeline.
//
// Inputs:
//   - ctx: Context for cancellation; carries the request trace.
//   - question: The raw question text. Must be non-empty.
//   - userID: The caller's user key ("" maps to "anonymous").
//
// Outputs:
//   - *ChatReply: The answer, the answering subsystem, and the session id.
//   - error: Non-nil on backend failure; the handler converts it to a 500
//     with a friendly message.
//
// Thread Safety: This method is safe for concurrent use.
func (o *Orchestrator) HandleQuestion(ctx context.Context, question, userID string) (*ChatReply, error) {
	ctx, span := gatewayTracer.Start(ctx, "Orchestrator.HandleQuestion")
	defer span.End()
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &backends.BackendError{Backend: "gateway", Class: backends.ClassValidation, Message: "question is required"}
	}
	if userID == "" {
		userID = "anonymous"
	}

	sess := o.sessions.GetOrCreate(userID)
	now := time.Now().In(o.location)

	decision := o.router.Route(ctx, question)
	span.SetAttributes(
		attribute.String("route.kind", string(decision.Kind)),
		attribute.String("route.backend", string(decision.Backend)),
	)

	// The license-key prefix rewrites the question every later stage sees.
	working := question
	licenseKey := ""
	if decision.Kind == nlq.RouteLicenseKey {
		working = decision.Remainder
		licenseKey = decision.LicenseKey
	}

	reply, err := o.dispatch(ctx, decision, working, licenseKey, sess, now)
	chatDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		chatRequestsTotal.WithLabelValues(reply.System, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "question handling failed")
		return nil, err
	}

	reply.SessionID = sess.ID
	o.sessions.AppendTurn(userID, Turn{
		Question:  question,
		System:    reply.System,
		Answer:    reply.Answer,
		Timestamp: time.Now(),
	})
	chatRequestsTotal.WithLabelValues(reply.System, "ok").Inc()
	slog.Info("Answered question",
		slog.String("user_id", userID),
		slog.String("system", reply.System),
		slog.Duration("took", time.Since(start)),
	)
	return reply, nil
}

// dispatch routes the working question to the right subsystem. The returned
// reply always carries a System name, even on error, for metrics.
func (o *Orchestrator) dispatch(ctx context.Context, decision nlq.RouteDecision, working, licenseKey string, sess Session, now time.Time) (*ChatReply, error) {
	switch decision.Kind {
	case nlq.RouteGreeting:
		return &ChatReply{Answer: o.router.GreetingResponse(), System: "greeting"}, nil

	case nlq.RouteDirection:
		reply, err := o.handleDirection(ctx, working, licenseKey, now)
		if err != nil {
			return &ChatReply{System: "direction"}, err
		}
		return reply, nil

	case nlq.RouteLicenseKey:
		// The remainder may itself be a direction query; the fast path
		// still applies with the key carried forward.
		sub := o.router.Route(ctx, working)
		if sub.Kind == nlq.RouteDirection {
			reply, err := o.handleDirection(ctx, working, licenseKey, now)
			if err != nil {
				return &ChatReply{System: "direction"}, err
			}
			return reply, nil
		}
		fallthrough

	default:
		if decision.Backend == nlq.BackendAIVoice {
			reply, err := o.handleAIVoice(ctx, working, licenseKey, now)
			if err != nil {
				// A handler that fell through to the language model
				// reports its own system; keep that label intact.
				if reply == nil {
					reply = &ChatReply{System: "aivoice"}
				}
				return reply, err
			}
			return reply, nil
		}
		reply, err := o.handleTXQL(ctx, working, licenseKey, sess, now)
		if err != nil {
			if reply == nil {
				reply = &ChatReply{System: "txql"}
			}
			return reply, err
		}
		return reply, nil
	}
}

// =============================================================================
// TXQL Path
// =============================================================================

func (o *Orchestrator) handleTXQL(ctx context.Context, question, licenseKey string, sess Session, now time.Time) (*ChatReply, error) {
	entities := o.extractor.Extract(question, now)
	intent := o.classifier.Classify(question)
	slog.Debug("TXQL path",
		slog.String("intent", string(intent)),
		slog.String("entities", entities.String()),
	)

	// Note-summary questions with a patient number never go to TXQL: the
	// note query is synthesized locally over commlog and procnote.
	if mode := o.noteMode(question); mode != "" && entities.PatientNumber > 0 {
		sql := buildNoteQuery(entities.PatientNumber, mode == "pricing")
		return o.executeAndFormat(ctx, sql, question)
	}

	res, err := o.txql.GenerateSQL(ctx, question, sess.ID, licenseKey)
	if err != nil {
		return nil, err
	}

	if res.SQL == "" {
		// No SQL extractable. Degrade rather than fail: pass the
		// service's own prose through, or hand the question to the LLM.
		if res.Raw != "" {
			return &ChatReply{Answer: res.Raw, System: "txql"}, nil
		}
		return o.handleFallback(ctx, question)
	}

	sql := o.augmenter.Augment(res.SQL, entities)
	if err := sqlshape.Validate(sql); err != nil {
		slog.Warn("Generated SQL failed validation",
			slog.String("error", err.Error()),
		)
		return &ChatReply{
			Answer: fmt.Sprintf("The generated query did not pass validation (%s). Try rephrasing the question.", err),
			System: "txql",
		}, nil
	}
	// The raw safety net never overrides an explicit "all results"
	// request; suppression via phrasing wins over the default cap.
	if entities.NeedsAutoLimit {
		sql = sqlshape.EnsureLimit(sql, 0)
	}

	return o.executeAndFormat(ctx, sql, question)
}

// executeAndFormat runs SQL and renders the result. Query-level failures
// come back inside the Result and are rendered, not returned as errors.
func (o *Orchestrator) executeAndFormat(ctx context.Context, sql, question string) (*ChatReply, error) {
	result, err := o.executor.Execute(ctx, sql)
	if err != nil {
		return nil, err
	}
	rendered, err := o.formatter.Format(ctx, result, sql, question)
	if err != nil {
		return nil, err
	}
	return &ChatReply{Answer: rendered.Text, System: "txql", Chart: rendered.Chart}, nil
}

// noteMode returns "pricing", "general", or "" for the question.
func (o *Orchestrator) noteMode(question string) string {
	lower := strings.ToLower(question)
	for _, trigger := range o.rules.NoteTriggers.Pricing {
		if strings.Contains(lower, trigger) {
			return "pricing"
		}
	}
	for _, trigger := range o.rules.NoteTriggers.General {
		if strings.Contains(lower, trigger) {
			return "general"
		}
	}
	return ""
}

// buildNoteQuery synthesizes the note lookup for one patient across the
// commlog and procnote tables. The UNION ALL shape is deliberate: the
// augmenter skips clause splicing on compound statements, so the WHERE
// clauses here are written out in full.
func buildNoteQuery(patNum int, pricingOnly bool) string {
	pricingFilter := ""
	if pricingOnly {
		pricingFilter = " AND (Note LIKE '%$%' OR Note LIKE '%price%' OR Note LIKE '%quote%' OR Note LIKE '%fee%' OR Note LIKE '%cost%')"
	}
	return fmt.Sprintf(
		"SELECT 'CommLog' AS NoteSource, Note, CommDateTime AS DateEntry FROM commlog WHERE PatNum = %d%s "+
			"UNION ALL "+
			"SELECT 'ProcNote' AS NoteSource, Note, EntryDateTime AS DateEntry FROM procnote WHERE PatNum = %d%s "+
			"ORDER BY DateEntry DESC LIMIT %d",
		patNum, pricingFilter, patNum, pricingFilter, noteQueryLimit)
}

// =============================================================================
// AI-Voice Path
// =============================================================================

func (o *Orchestrator) handleAIVoice(ctx context.Context, question, licenseKey string, now time.Time) (*ChatReply, error) {
	entities := o.extractor.Extract(question, now)
	intent := o.classifier.Classify(question)
	slog.Debug("AI-Voice path",
		slog.String("intent", string(intent)),
		slog.String("entities", entities.String()),
	)

	// No intent keyword matched: the question is open-ended, so it goes
	// to the conversational fallback instead of a canned rendering.
	if intent == nlq.IntentNone {
		return o.handleFallback(ctx, question)
	}

	startDate, endDate := dateWindow(entities.DateRange, now)
	calls, err := o.aivoice.FetchCalls(ctx, licenseKey, startDate, endDate)
	if err != nil {
		return nil, err
	}
	calls = filterByDuration(calls, entities.DurationFilter)

	if intent == nlq.IntentCount {
		return &ChatReply{Answer: renderCallCounts(calls, startDate, endDate), System: "aivoice"}, nil
	}

	result := &backends.Result{Success: true, Rows: calls}
	if result.Rows == nil {
		result.Rows = []backends.Row{}
	}
	rendered, err := o.formatter.Format(ctx, result, "", question)
	if err != nil {
		return nil, err
	}
	return &ChatReply{Answer: rendered.Text, System: "aivoice", Chart: rendered.Chart}, nil
}

// handleDirection answers call-direction questions without touching the
// intent classifier or the LLM.
func (o *Orchestrator) handleDirection(ctx context.Context, question, licenseKey string, now time.Time) (*ChatReply, error) {
	dateRange := nlq.ResolveDateRange(question, now)
	startDate, endDate := dateWindow(dateRange, now)

	calls, err := o.aivoice.FetchCalls(ctx, licenseKey, startDate, endDate)
	if err != nil {
		return nil, err
	}

	inbound, outbound, other := 0, 0, 0
	for _, call := range calls {
		switch callDirection(call) {
		case "inbound":
			inbound++
		case "outbound":
			outbound++
		default:
			other++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Call Direction (%s to %s)\n\n", startDate, endDate)
	fmt.Fprintf(&b, "- Total calls: %d\n", len(calls))
	fmt.Fprintf(&b, "- Inbound: %d\n", inbound)
	fmt.Fprintf(&b, "- Outbound: %d\n", outbound)
	if other > 0 {
		fmt.Fprintf(&b, "- Unclassified: %d\n", other)
	}
	return &ChatReply{Answer: b.String(), System: "direction"}, nil
}

func (o *Orchestrator) handleFallback(ctx context.Context, question string) (*ChatReply, error) {
	if o.fallback == nil {
		return &ChatReply{
			Answer: "I couldn't classify that question, and no language model is configured to help with open-ended ones. Try asking about patients, appointments, payments, or calls.",
			System: "llm",
		}, nil
	}
	answer, err := o.fallback.Respond(ctx, question)
	if err != nil {
		return &ChatReply{System: "llm"}, err
	}
	return &ChatReply{Answer: answer, System: "llm"}, nil
}

// =============================================================================
// Call Record Helpers
// =============================================================================

// dateWindow returns the range to query: the extracted range, or today.
func dateWindow(dr *nlq.DateRange, now time.Time) (string, string) {
	if dr != nil {
		return dr.StartDate, dr.EndDate
	}
	today := now.Format("2006-01-02")
	return today, today
}

// callDirection normalizes a record's direction field to inbound/outbound.
func callDirection(call backends.Row) string {
	for _, field := range []string{"direction", "Direction", "callDirection", "call_direction"} {
		s, ok := call[field].(string)
		if !ok {
			continue
		}
		switch lower := strings.ToLower(s); {
		case strings.HasPrefix(lower, "in"):
			return "inbound"
		case strings.HasPrefix(lower, "out"):
			return "outbound"
		}
	}
	return ""
}

// filterByDuration drops calls outside the extracted duration threshold.
// Records without a readable duration field are kept.
func filterByDuration(calls []backends.Row, f *nlq.ComparisonFilter) []backends.Row {
	if f == nil {
		return calls
	}
	out := make([]backends.Row, 0, len(calls))
	for _, call := range calls {
		d, ok := callDurationSeconds(call)
		if !ok {
			out = append(out, call)
			continue
		}
		if (f.Op == ">" && d > f.Value) || (f.Op == "<" && d < f.Value) {
			out = append(out, call)
		}
	}
	return out
}

func callDurationSeconds(call backends.Row) (float64, bool) {
	for _, field := range []string{"duration", "Duration", "durationSeconds", "duration_seconds"} {
		switch v := call[field].(type) {
		case float64:
			return v, true
		case string:
			var d float64
			if _, err := fmt.Sscanf(v, "%f", &d); err == nil {
				return d, true
			}
		}
	}
	return 0, false
}

// renderCallCounts renders the count-intent summary for call records.
func renderCallCounts(calls []backends.Row, startDate, endDate string) string {
	inbound, outbound := 0, 0
	var totalDuration float64
	withDuration := 0
	sentiments := map[string]int{}
	for _, call := range calls {
		switch callDirection(call) {
		case "inbound":
			inbound++
		case "outbound":
			outbound++
		}
		if d, ok := callDurationSeconds(call); ok {
			totalDuration += d
			withDuration++
		}
		for _, field := range []string{"sentiment", "Sentiment"} {
			if s, ok := call[field].(string); ok && s != "" {
				sentiments[strings.ToLower(s)]++
				break
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Call Summary (%s to %s)\n\n", startDate, endDate)
	fmt.Fprintf(&b, "- Total calls: %d\n", len(calls))
	fmt.Fprintf(&b, "- Inbound: %d, Outbound: %d\n", inbound, outbound)
	if withDuration > 0 {
		fmt.Fprintf(&b, "- Average duration: %.0f seconds\n", totalDuration/float64(withDuration))
	}
	for _, sentiment := range []string{"Positive", "Neutral", "Negative"} {
		if n := sentiments[strings.ToLower(sentiment)]; n > 0 {
			fmt.Fprintf(&b, "- %s calls: %d\n", sentiment, n)
		}
	}
	return b.String()
}
