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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	routeDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chairside",
		Subsystem: "nlq",
		Name:      "route_decisions_total",
		Help:      "Total routing decisions by kind and backend",
	}, []string{"kind", "backend"})

	intentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chairside",
		Subsystem: "nlq",
		Name:      "intent_total",
		Help:      "Total classified intents by name",
	}, []string{"intent"})
)
