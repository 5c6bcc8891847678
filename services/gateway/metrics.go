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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chairside",
		Subsystem: "gateway",
		Name:      "chat_requests_total",
		Help:      "Chat requests by the subsystem that answered them.",
	}, []string{"system", "status"})

	chatDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chairside",
		Subsystem: "gateway",
		Name:      "chat_duration_seconds",
		Help:      "End-to-end chat request latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chairside",
		Subsystem: "gateway",
		Name:      "sessions_active",
		Help:      "Sessions currently held in memory.",
	})
)
