// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/chairside/services/backends"
	"github.com/AleutianAI/chairside/services/format"
	"github.com/AleutianAI/chairside/services/nlq"
	"github.com/AleutianAI/chairside/services/nlq/config"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeTXQL struct {
	result *backends.TXQLResult
	err    error

	calls         int
	lastQuestion  string
	lastSessionID string
	lastKey       string
}

func (f *fakeTXQL) GenerateSQL(ctx context.Context, question, sessionID, licenseKey string) (*backends.TXQLResult, error) {
	f.calls++
	f.lastQuestion = question
	f.lastSessionID = sessionID
	f.lastKey = licenseKey
	return f.result, f.err
}

type fakeAIVoice struct {
	rows []backends.Row
	err  error

	calls     int
	lastKey   string
	lastStart string
	lastEnd   string
}

func (f *fakeAIVoice) FetchCalls(ctx context.Context, licenseKey, startDate, endDate string) ([]backends.Row, error) {
	f.calls++
	f.lastKey = licenseKey
	f.lastStart = startDate
	f.lastEnd = endDate
	return f.rows, f.err
}

func (f *fakeAIVoice) DefaultLicenseKey() string { return "default-license-key" }

type fakeExecutor struct {
	result *backends.Result
	err    error

	calls   int
	lastSQL string
}

func (f *fakeExecutor) Execute(ctx context.Context, sql string) (*backends.Result, error) {
	f.calls++
	f.lastSQL = sql
	return f.result, f.err
}

type fakeResponder struct {
	answer string
	err    error

	calls        int
	lastQuestion string
}

func (f *fakeResponder) Respond(ctx context.Context, question string) (string, error) {
	f.calls++
	f.lastQuestion = question
	return f.answer, f.err
}

// =============================================================================
// Helpers
// =============================================================================

func testGatewayRules(t *testing.T) *config.KeywordRules {
	t.Helper()
	rules, err := config.GetKeywordRules(context.Background())
	if err != nil {
		t.Fatalf("GetKeywordRules: %v", err)
	}
	return rules
}

type orchestratorFixture struct {
	orch     *Orchestrator
	store    *MemorySessionStore
	txql     *fakeTXQL
	aivoice  *fakeAIVoice
	executor *fakeExecutor
	fallback *fakeResponder
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	rules := testGatewayRules(t)
	fix := &orchestratorFixture{
		store:    NewMemorySessionStore(),
		txql:     &fakeTXQL{result: &backends.TXQLResult{}},
		aivoice:  &fakeAIVoice{},
		executor: &fakeExecutor{result: &backends.Result{Success: true, Rows: []backends.Row{}}},
		fallback: &fakeResponder{answer: "Here is what I can tell you."},
	}
	fix.orch = NewOrchestrator(OrchestratorConfig{
		Rules:     rules,
		Formatter: format.NewFormatter(rules, nil),
		Sessions:  fix.store,
		TXQL:      fix.txql,
		AIVoice:   fix.aivoice,
		Executor:  fix.executor,
		Fallback:  fix.fallback,
		Location:  time.UTC,
	})
	return fix
}

const testLicenseKey = "abcdefghijklmnopqrstuvwxyz1234567890"

// =============================================================================
// Tests
// =============================================================================

func TestHandleQuestion_Validation(t *testing.T) {
	fix := newOrchestratorFixture(t)

	for _, question := range []string{"", "   ", "\n\t"} {
		if _, err := fix.orch.HandleQuestion(context.Background(), question, "u1"); err == nil {
			t.Errorf("question %q: expected an error", question)
		} else if backends.ClassOf(err) != backends.ClassValidation {
			t.Errorf("question %q: class = %v, want validation", question, backends.ClassOf(err))
		}
	}
	if fix.txql.calls+fix.aivoice.calls+fix.executor.calls != 0 {
		t.Error("validation failures should not reach any backend")
	}
}

func TestHandleQuestion_Greeting(t *testing.T) {
	fix := newOrchestratorFixture(t)
	rules := testGatewayRules(t)

	reply, err := fix.orch.HandleQuestion(context.Background(), "hello", "dr-lee")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	if reply.System != "greeting" {
		t.Errorf("System = %q, want greeting", reply.System)
	}
	found := false
	for _, resp := range rules.Greetings.Responses {
		if reply.Answer == resp {
			found = true
		}
	}
	if !found {
		t.Errorf("Answer %q is not a configured greeting response", reply.Answer)
	}
	if fix.txql.calls+fix.aivoice.calls+fix.executor.calls+fix.fallback.calls != 0 {
		t.Error("greetings should be answered locally")
	}

	sess, ok := fix.store.Get("dr-lee")
	if !ok {
		t.Fatal("expected a session")
	}
	if reply.SessionID != sess.ID {
		t.Errorf("SessionID = %q, want %q", reply.SessionID, sess.ID)
	}
	if len(sess.Turns) != 1 || sess.Turns[0].System != "greeting" || sess.Turns[0].Question != "hello" {
		t.Errorf("recorded turn = %+v", sess.Turns)
	}
}

func TestHandleQuestion_TXQLFlow(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.txql.result = &backends.TXQLResult{SQL: "SELECT * FROM patient"}
	fix.executor.result = &backends.Result{Success: true, Rows: []backends.Row{
		{"LName": "Smith", "FName": "John"},
	}}

	reply, err := fix.orch.HandleQuestion(context.Background(), "show me patients from last week", "dr-lee")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	if reply.System != "txql" {
		t.Errorf("System = %q, want txql", reply.System)
	}
	if !strings.Contains(reply.Answer, "Smith") {
		t.Errorf("Answer missing rows:\n%s", reply.Answer)
	}

	want := "SELECT * FROM patient WHERE (PatStatus != 2) LIMIT 100"
	if fix.executor.lastSQL != want {
		t.Errorf("executed SQL = %q, want %q", fix.executor.lastSQL, want)
	}
	if fix.txql.lastSessionID != reply.SessionID {
		t.Errorf("generator session id = %q, want %q", fix.txql.lastSessionID, reply.SessionID)
	}
	if fix.txql.lastQuestion != "show me patients from last week" {
		t.Errorf("generator question = %q", fix.txql.lastQuestion)
	}
}

func TestHandleQuestion_AllResultsSuppressesLimit(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.txql.result = &backends.TXQLResult{SQL: "SELECT * FROM patient"}

	_, err := fix.orch.HandleQuestion(context.Background(), "show all patients, no limit", "u1")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	want := "SELECT * FROM patient WHERE (PatStatus != 2)"
	if fix.executor.lastSQL != want {
		t.Errorf("executed SQL = %q, want %q", fix.executor.lastSQL, want)
	}
	if strings.Contains(fix.executor.lastSQL, "LIMIT") {
		t.Errorf("explicit all-results phrasing must suppress the limit: %q", fix.executor.lastSQL)
	}
}

func TestHandleQuestion_TXQLRawPassthrough(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.txql.result = &backends.TXQLResult{Raw: "I need a date range to answer that."}

	reply, err := fix.orch.HandleQuestion(context.Background(), "show me patients", "u1")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	if reply.System != "txql" || reply.Answer != "I need a date range to answer that." {
		t.Errorf("reply = %+v", reply)
	}
	if fix.executor.calls != 0 {
		t.Error("nothing should be executed without SQL")
	}
}

func TestHandleQuestion_TXQLEmptyGoesToFallback(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.txql.result = &backends.TXQLResult{}

	reply, err := fix.orch.HandleQuestion(context.Background(), "show me patients", "u1")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	if reply.System != "llm" {
		t.Errorf("System = %q, want llm", reply.System)
	}
	if reply.Answer != "Here is what I can tell you." {
		t.Errorf("Answer = %q", reply.Answer)
	}
	if fix.fallback.lastQuestion != "show me patients" {
		t.Errorf("fallback question = %q", fix.fallback.lastQuestion)
	}
}

func TestHandleQuestion_InvalidGeneratedSQL(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.txql.result = &backends.TXQLResult{SQL: "SELECT * WHERE PatNum = 1"}

	reply, err := fix.orch.HandleQuestion(context.Background(), "show me patients", "u1")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	if reply.System != "txql" {
		t.Errorf("System = %q, want txql", reply.System)
	}
	if !strings.Contains(reply.Answer, "did not pass validation") {
		t.Errorf("Answer = %q", reply.Answer)
	}
	if fix.executor.calls != 0 {
		t.Error("invalid SQL must never reach the executor")
	}
}

func TestHandleQuestion_NoteQuery(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.executor.result = &backends.Result{Success: true, Rows: []backends.Row{
		{"NoteSource": "ProcNote", "Note": "Quoted $950 for crown.", "DateEntry": "2025-03-01"},
	}}

	t.Run("general", func(t *testing.T) {
		reply, err := fix.orch.HandleQuestion(context.Background(), "summarize the notes for patnum 42", "u1")
		if err != nil {
			t.Fatalf("HandleQuestion: %v", err)
		}
		if reply.System != "txql" {
			t.Errorf("System = %q, want txql", reply.System)
		}
		if fix.txql.calls != 0 {
			t.Error("note queries are synthesized locally, not generated")
		}
		sql := fix.executor.lastSQL
		for _, want := range []string{"commlog", "procnote", "PatNum = 42", "UNION ALL", "LIMIT 200"} {
			if !strings.Contains(sql, want) {
				t.Errorf("note SQL missing %q: %s", want, sql)
			}
		}
		if strings.Contains(sql, "LIKE") {
			t.Errorf("general mode should not filter by pricing terms: %s", sql)
		}
	})

	t.Run("pricing", func(t *testing.T) {
		if _, err := fix.orch.HandleQuestion(context.Background(), "fee summary for patnum 7", "u1"); err != nil {
			t.Fatalf("HandleQuestion: %v", err)
		}
		sql := fix.executor.lastSQL
		if !strings.Contains(sql, "PatNum = 7") || !strings.Contains(sql, "Note LIKE '%price%'") {
			t.Errorf("pricing note SQL = %s", sql)
		}
	})

	t.Run("empty result explains itself instead of summarizing", func(t *testing.T) {
		fix.executor.result = &backends.Result{Success: true, Rows: []backends.Row{}}

		reply, err := fix.orch.HandleQuestion(context.Background(), "summarize notes for patnum = 4521", "u1")
		if err != nil {
			t.Fatalf("HandleQuestion: %v", err)
		}
		if !strings.Contains(reply.Answer, "**0 records found.**") {
			t.Errorf("Answer:\n%s", reply.Answer)
		}
		if !strings.Contains(reply.Answer, "PatNum = 4521") {
			t.Errorf("Answer should echo the query used:\n%s", reply.Answer)
		}
	})
}

func TestHandleQuestion_AIVoiceCount(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.aivoice.rows = []backends.Row{
		{"direction": "inbound", "duration": float64(60), "sentiment": "positive"},
		{"direction": "Inbound", "duration": float64(120), "sentiment": "positive"},
		{"direction": "outbound", "sentiment": "negative"},
	}

	reply, err := fix.orch.HandleQuestion(context.Background(), "how many calls did we get today", "u1")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	if reply.System != "aivoice" {
		t.Errorf("System = %q, want aivoice", reply.System)
	}
	for _, want := range []string{
		"## Call Summary",
		"- Total calls: 3",
		"- Inbound: 2, Outbound: 1",
		"- Average duration: 90 seconds",
		"- Positive calls: 2",
		"- Negative calls: 1",
	} {
		if !strings.Contains(reply.Answer, want) {
			t.Errorf("Answer missing %q:\n%s", want, reply.Answer)
		}
	}

	today := time.Now().UTC().Format("2006-01-02")
	if fix.aivoice.lastStart != today || fix.aivoice.lastEnd != today {
		t.Errorf("date window = %s..%s, want %s", fix.aivoice.lastStart, fix.aivoice.lastEnd, today)
	}
	if fix.aivoice.lastKey != "" {
		t.Errorf("license key = %q, want empty (client default applies)", fix.aivoice.lastKey)
	}
}

func TestHandleQuestion_AIVoiceDurationFilter(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.aivoice.rows = []backends.Row{
		{"caller": "555-0101", "duration": float64(200)},
		{"caller": "555-0102", "duration": float64(60)},
		{"caller": "555-0103"},
	}

	reply, err := fix.orch.HandleQuestion(context.Background(), "show calls longer than 120 seconds", "u1")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	if reply.System != "aivoice" {
		t.Errorf("System = %q, want aivoice", reply.System)
	}
	// The 60-second call is dropped; the call without a duration is kept.
	if !strings.Contains(reply.Answer, "Found **2** record(s):") {
		t.Errorf("Answer:\n%s", reply.Answer)
	}
	if strings.Contains(reply.Answer, "555-0102") {
		t.Errorf("filtered call leaked into the answer:\n%s", reply.Answer)
	}
}

func TestHandleQuestion_AIVoiceOpenEnded(t *testing.T) {
	fix := newOrchestratorFixture(t)

	reply, err := fix.orch.HandleQuestion(context.Background(), "anything interesting about our calls lately", "u1")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	if reply.System != "llm" {
		t.Errorf("System = %q, want llm", reply.System)
	}
	if fix.aivoice.calls != 0 {
		t.Error("open-ended questions bypass the call fetch")
	}
}

func TestHandleQuestion_Direction(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.aivoice.rows = []backends.Row{
		{"direction": "inbound"},
		{"direction": "outbound"},
		{"direction": "inbound"},
		{"status": "missed"},
	}

	reply, err := fix.orch.HandleQuestion(context.Background(), "how many inbound calls today", "u1")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	if reply.System != "direction" {
		t.Errorf("System = %q, want direction", reply.System)
	}
	for _, want := range []string{
		"## Call Direction",
		"- Total calls: 4",
		"- Inbound: 2",
		"- Outbound: 1",
		"- Unclassified: 1",
	} {
		if !strings.Contains(reply.Answer, want) {
			t.Errorf("Answer missing %q:\n%s", want, reply.Answer)
		}
	}
}

func TestHandleQuestion_LicenseKeyPrefix(t *testing.T) {
	t.Run("aivoice remainder", func(t *testing.T) {
		fix := newOrchestratorFixture(t)
		fix.aivoice.rows = []backends.Row{{"direction": "inbound"}}

		reply, err := fix.orch.HandleQuestion(context.Background(),
			"In "+testLicenseKey+" how many calls today", "u1")
		if err != nil {
			t.Fatalf("HandleQuestion: %v", err)
		}
		if reply.System != "aivoice" {
			t.Errorf("System = %q, want aivoice", reply.System)
		}
		if fix.aivoice.lastKey != testLicenseKey {
			t.Errorf("license key = %q, want %q", fix.aivoice.lastKey, testLicenseKey)
		}
	})

	t.Run("direction remainder keeps the fast path", func(t *testing.T) {
		fix := newOrchestratorFixture(t)

		reply, err := fix.orch.HandleQuestion(context.Background(),
			"In "+testLicenseKey+" inbound calls this week", "u1")
		if err != nil {
			t.Fatalf("HandleQuestion: %v", err)
		}
		if reply.System != "direction" {
			t.Errorf("System = %q, want direction", reply.System)
		}
		if fix.aivoice.lastKey != testLicenseKey {
			t.Errorf("license key = %q, want %q", fix.aivoice.lastKey, testLicenseKey)
		}
	})

	t.Run("txql remainder forwards the key", func(t *testing.T) {
		fix := newOrchestratorFixture(t)
		fix.txql.result = &backends.TXQLResult{SQL: "SELECT COUNT(*) AS N FROM patient"}
		fix.executor.result = &backends.Result{Success: true, Rows: []backends.Row{{"N": float64(12)}}}

		reply, err := fix.orch.HandleQuestion(context.Background(),
			"In "+testLicenseKey+" how many patients are active", "u1")
		if err != nil {
			t.Fatalf("HandleQuestion: %v", err)
		}
		if reply.System != "txql" {
			t.Errorf("System = %q, want txql", reply.System)
		}
		if fix.txql.lastKey != testLicenseKey {
			t.Errorf("generator key = %q, want %q", fix.txql.lastKey, testLicenseKey)
		}
		if fix.txql.lastQuestion != "how many patients are active" {
			t.Errorf("generator question = %q, want the prefix stripped", fix.txql.lastQuestion)
		}
	})
}

func TestHandleQuestion_BackendFailure(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.txql.result = nil
	fix.txql.err = &backends.BackendError{
		Backend: "txql",
		Class:   backends.ClassUnavailable,
		Message: "HTTP request failed",
		Err:     errors.New("connection refused"),
	}

	_, err := fix.orch.HandleQuestion(context.Background(), "show me patients", "dr-lee")
	if err == nil {
		t.Fatal("expected the backend error to propagate")
	}
	if !backends.Retryable(err) {
		t.Errorf("error should stay classified through the orchestrator: %v", err)
	}

	// Failed exchanges are not recorded on the session.
	sess, ok := fix.store.Get("dr-lee")
	if !ok {
		t.Fatal("session should still exist")
	}
	if len(sess.Turns) != 0 {
		t.Errorf("Turns = %d, want 0", len(sess.Turns))
	}
}

func TestDispatch_KeepsFallbackSystemOnError(t *testing.T) {
	fix := newOrchestratorFixture(t)
	// An empty TXQL result with no SQL hands the question to the
	// language model, whose failure must stay labeled as such.
	fix.txql.result = &backends.TXQLResult{}
	fix.fallback.err = errors.New("model timed out")

	decision := nlq.RouteDecision{Kind: nlq.RouteBackend, Backend: nlq.BackendTXQL}
	reply, err := fix.orch.dispatch(context.Background(), decision,
		"tell me about gum disease", "", Session{ID: "s1"}, time.Now())
	if err == nil {
		t.Fatal("expected the responder error to propagate")
	}
	if reply == nil {
		t.Fatal("errored dispatch must still return a reply for metrics")
	}
	if reply.System != "llm" {
		t.Errorf("System = %q, want %q", reply.System, "llm")
	}
}

func TestHandleQuestion_QueryFailureIsRendered(t *testing.T) {
	fix := newOrchestratorFixture(t)
	fix.txql.result = &backends.TXQLResult{SQL: "SELECT * FROM patient"}
	fix.executor.result = &backends.Result{
		Success:    false,
		Error:      "Unknown column 'Foo'",
		StatusCode: 422,
	}

	reply, err := fix.orch.HandleQuestion(context.Background(), "show me patients", "u1")
	if err != nil {
		t.Fatalf("query failures must not surface as errors: %v", err)
	}
	if !strings.Contains(reply.Answer, "Unknown column 'Foo'") {
		t.Errorf("Answer:\n%s", reply.Answer)
	}
}

func TestHandleQuestion_NoFallbackConfigured(t *testing.T) {
	rules := testGatewayRules(t)
	store := NewMemorySessionStore()
	orch := NewOrchestrator(OrchestratorConfig{
		Rules:     rules,
		Formatter: format.NewFormatter(rules, nil),
		Sessions:  store,
		TXQL:      &fakeTXQL{result: &backends.TXQLResult{}},
		AIVoice:   &fakeAIVoice{},
		Executor:  &fakeExecutor{},
		Location:  time.UTC,
	})

	reply, err := orch.HandleQuestion(context.Background(), "show me patients", "u1")
	if err != nil {
		t.Fatalf("HandleQuestion: %v", err)
	}
	if reply.System != "llm" {
		t.Errorf("System = %q, want llm", reply.System)
	}
	if !strings.Contains(reply.Answer, "no language model is configured") {
		t.Errorf("Answer = %q", reply.Answer)
	}
}
