// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry records classification and authorization activity.
//
// Two sinks are fed from the same call sites:
//
//   - Prometheus counters registered with promauto on the default registerer,
//     scraped by whatever process embeds frozen.
//   - OpenTelemetry spans and counters obtained from the global providers.
//     Without an installed SDK these are no-ops.
//
// # Thread Safety
//
// All functions are safe for concurrent use.
package telemetry

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of authorization spans.
const TracerName = "frozen.capability"

// Lookup results reported by the classifier.
const (
	LookupHit        = "hit"
	LookupMiss       = "miss"
	LookupUnresolved = "unresolved"
)

// Authorization outcomes.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
)

// =============================================================================
// Prometheus
// =============================================================================

var (
	authorizationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frozen_authorization_decisions_total",
		Help: "Capability decisions by aspect and outcome",
	}, []string{"aspect", "outcome"})

	classifierLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frozen_classifier_lookups_total",
		Help: "Call-frame classification lookups by result",
	}, []string{"result"})

	guardFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frozen_guard_failures_total",
		Help: "Guarded method calls rejected by an aspect",
	}, []string{"aspect", "kind"})
)

// =============================================================================
// OpenTelemetry
// =============================================================================

var (
	meter = otel.Meter("frozen")

	otelDecisions metric.Int64Counter
	otelLookups   metric.Int64Counter
	otelFailures  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the otel instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		otelDecisions, err = meter.Int64Counter(
			"frozen.authorization.decisions",
			metric.WithDescription("Capability decisions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		otelLookups, err = meter.Int64Counter(
			"frozen.classifier.lookups",
			metric.WithDescription("Call-frame classification lookups"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		otelFailures, err = meter.Int64Counter(
			"frozen.guard.failures",
			metric.WithDescription("Guarded calls rejected by an aspect"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// Tracer returns the tracer used for authorization spans. It is resolved on
// every call so tests can install a provider with otel.SetTracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// RecordAuthorization counts one capability decision.
func RecordAuthorization(ctx context.Context, aspect string, allowed bool) {
	outcome := OutcomeDenied
	if allowed {
		outcome = OutcomeAllowed
	}
	authorizationDecisions.WithLabelValues(aspect, outcome).Inc()

	if err := initMetrics(); err != nil {
		return
	}
	otelDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("aspect", aspect),
		attribute.String("outcome", outcome),
	))
}

// RecordLookup counts one classifier lookup. result is one of LookupHit,
// LookupMiss or LookupUnresolved.
func RecordLookup(ctx context.Context, result string) {
	classifierLookups.WithLabelValues(result).Inc()

	if err := initMetrics(); err != nil {
		return
	}
	otelLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordGuardFailure counts one rejected guarded call.
func RecordGuardFailure(ctx context.Context, aspect, kind string) {
	guardFailures.WithLabelValues(aspect, kind).Inc()

	if err := initMetrics(); err != nil {
		return
	}
	otelFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("aspect", aspect),
		attribute.String("kind", kind),
	))
}

// StartAuthorization opens a span for one capability decision.
func StartAuthorization(ctx context.Context, aspect string, groups []string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "capability.Authorize",
		trace.WithAttributes(
			attribute.String("frozen.aspect", aspect),
			attribute.StringSlice("frozen.groups", groups),
		),
	)
}

// EndAuthorization records the decision on span and ends it. caller is empty
// when no frame could be classified.
func EndAuthorization(span trace.Span, allowed, explicit bool, caller string) {
	span.SetAttributes(
		attribute.Bool("frozen.allowed", allowed),
		attribute.Bool("frozen.explicit", explicit),
		attribute.String("frozen.caller", caller),
	)
	if !allowed {
		span.SetStatus(codes.Error, "caller not authorized")
	}
	span.End()
}
