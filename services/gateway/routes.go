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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the gateway endpoints with the router group.
//
// Description:
//
//	Registers all /v1 endpoints. The group should already carry any
//	required middleware.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/chat - Ask a question
//	GET  /v1/sessions/:id - Inspect a user's session
//	DELETE /v1/sessions/:id - Drop a user's session
//	GET  /v1/health - Health check
//	GET  /v1/ready - Readiness check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.POST("/chat", handlers.HandleChat)

	rg.GET("/sessions/:id", handlers.HandleGetSession)
	rg.DELETE("/sessions/:id", handlers.HandleDeleteSession)

	rg.GET("/health", handlers.HandleHealth)
	rg.GET("/ready", handlers.HandleReady)
}
