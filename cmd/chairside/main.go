// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command chairside starts the Chairside chat gateway server.
//
// Chairside routes natural-language questions to one of two data sources,
// a SQL-generation service (TXQL) or a call-analytics API (AI-Voice),
// executes the resulting query, and formats the results as chat-friendly
// markdown.
//
// Usage:
//
//	go run ./cmd/chairside
//	go run ./cmd/chairside -port 9090
//
// Required environment:
//
//	TXQL_URL, EXECUTOR_URL, EXECUTOR_KEY,
//	AIVOICE_URL, AIVOICE_TOKEN, AIVOICE_LICENSE_KEY
//
// Optional environment:
//
//	OPENAI_API_KEY (note summaries and conversational fallback)
//	LLM_MODEL, LLM_BASE_URL
//	CHAIRSIDE_TIMEZONE (default America/New_York)
//	SESSION_TTL (default 30m)
//	TXQL_TIMEOUT (default 60s)
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/health
//
//	# Ask a question
//	curl -X POST http://localhost:8080/v1/chat \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "how many inbound calls today?", "user_id": "frontdesk"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AleutianAI/chairside/services/backends"
	"github.com/AleutianAI/chairside/services/format"
	"github.com/AleutianAI/chairside/services/gateway"
	"github.com/AleutianAI/chairside/services/llm"
	"github.com/AleutianAI/chairside/services/nlq/config"
)

const defaultTimezone = "America/New_York"

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so trace context flows from incoming
	// HTTP headers through every handler and backend call.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rules, err := config.GetKeywordRules(ctx)
	if err != nil {
		slog.Error("Failed to load keyword rules", slog.String("error", err.Error()))
		os.Exit(1)
	}

	location := loadLocation()
	sessionTTL := loadSessionTTL()

	txqlClient, err := backends.NewTXQLClient()
	if err != nil {
		slog.Error("TXQL backend unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}
	executorClient, err := backends.NewExecutorClient()
	if err != nil {
		slog.Error("SQL executor unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}
	aivoiceClient, err := backends.NewAIVoiceClient()
	if err != nil {
		slog.Error("AI-Voice backend unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// The LLM is optional: without it, note summaries fall back to tables
	// and unclassifiable questions get a canned explanation.
	var summarizer *llm.Summarizer
	var fallback gateway.Responder
	llmEnabled := false
	if llmClient, err := llm.NewClient(); err != nil {
		slog.Warn("LLM disabled", slog.String("reason", err.Error()))
	} else {
		summarizer = llm.NewSummarizer(llmClient)
		fallback = llm.NewFallback(llmClient, func(ctx context.Context, startDate, endDate string) ([]map[string]any, error) {
			return aivoiceClient.FetchCalls(ctx, "", startDate, endDate)
		})
		llmEnabled = true
	}

	sessions := gateway.NewMemorySessionStore()
	sessions.StartSweeper(ctx, sessionTTL)

	orchestrator := gateway.NewOrchestrator(gateway.OrchestratorConfig{
		Rules:     rules,
		Formatter: format.NewFormatter(rules, summarizer),
		Sessions:  sessions,
		TXQL:      txqlClient,
		AIVoice:   aivoiceClient,
		Executor:  executorClient,
		Fallback:  fallback,
		Location:  location,
	})
	handlers := gateway.NewHandlers(orchestrator, sessions)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chairside"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	gateway.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(*port, llmEnabled)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down Chairside server")
		cancel()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Chairside server",
		slog.String("address", addr),
		slog.String("timezone", location.String()),
		slog.Duration("session_ttl", sessionTTL),
	)
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadLocation resolves CHAIRSIDE_TIMEZONE. Relative dates ("today") must
// resolve in the practice's zone, never host local time.
func loadLocation() *time.Location {
	name := os.Getenv("CHAIRSIDE_TIMEZONE")
	if name == "" {
		name = defaultTimezone
	}
	location, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("Invalid CHAIRSIDE_TIMEZONE, using default",
			slog.String("value", name),
			slog.String("default", defaultTimezone),
		)
		location, err = time.LoadLocation(defaultTimezone)
		if err != nil {
			return time.UTC
		}
	}
	return location
}

func loadSessionTTL() time.Duration {
	raw := os.Getenv("SESSION_TTL")
	if raw == "" {
		return gateway.DefaultSessionTTL
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		slog.Warn("Invalid SESSION_TTL, using default",
			slog.String("value", raw),
			slog.Duration("default", gateway.DefaultSessionTTL),
		)
		return gateway.DefaultSessionTTL
	}
	return ttl
}

func printBanner(port int, llmEnabled bool) {
	llmStatus := "DISABLED (set OPENAI_API_KEY to enable)"
	if llmEnabled {
		llmStatus = "ENABLED"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                        CHAIRSIDE GATEWAY                          ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Natural-language chat over practice data and call analytics.     ║
║  LLM summaries/fallback: %-39s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/health                    │  ║
║  │                                                             │  ║
║  │ # Ask a question                                            │  ║
║  │ curl -X POST http://localhost:%d/v1/chat \            │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"question": "show me patients in California"}'       │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── POST /v1/chat                                                ║
║  ├── GET/DELETE /v1/sessions/:id                                  ║
║  ├── GET /v1/health, /v1/ready                                    ║
║  └── GET /metrics                                                 ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, llmStatus, port, port)
}
