// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backends

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chairside",
		Subsystem: "backends",
		Name:      "request_duration_seconds",
		Help:      "Latency of outbound backend requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend"})

	requestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chairside",
		Subsystem: "backends",
		Name:      "request_errors_total",
		Help:      "Outbound backend failures by error class.",
	}, []string{"backend", "class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chairside",
		Subsystem: "backends",
		Name:      "retries_total",
		Help:      "Retry attempts against outbound backends.",
	}, []string{"backend"})
)
