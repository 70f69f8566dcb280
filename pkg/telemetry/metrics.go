// SPDX-License-Identifier: Apache-2.0
// Package telemetry provides observability for the Warden service: OTel
// tracing/metrics setup, trace-aware slog configuration, and the request
// metrics recorded by the HTTP surface.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wardenhq/warden/pkg/errors"
)

// RequestMetrics tracks inbound request rates, latency, and error codes
// for production monitoring.
type RequestMetrics struct {
	// requestCounter tracks total requests by route and status class
	requestCounter metric.Int64Counter

	// requestDuration tracks request latency in milliseconds
	requestDuration metric.Float64Histogram

	// errorCounter tracks errors by code and route
	errorCounter metric.Int64Counter
}

// NewRequestMetrics creates a request metrics tracker with OTEL meters.
func NewRequestMetrics() (*RequestMetrics, error) {
	meter := otel.Meter("warden/httpapi")

	requestCounter, err := meter.Int64Counter(
		"warden.http.requests",
		metric.WithDescription("Total HTTP requests by route and status"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"warden.http.duration_ms",
		metric.WithDescription("HTTP request latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"warden.http.errors",
		metric.WithDescription("Request errors by code and route"),
	)
	if err != nil {
		return nil, err
	}

	return &RequestMetrics{
		requestCounter:  requestCounter,
		requestDuration: requestDuration,
		errorCounter:    errorCounter,
	}, nil
}

// RecordRequest records one completed request.
func (rm *RequestMetrics) RecordRequest(ctx context.Context, route string, status int, elapsed time.Duration) {
	if rm == nil {
		return
	}
	rm.requestCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("route", route),
			attribute.Int("status", status),
		),
	)
	rm.requestDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(
			attribute.String("route", route),
		),
	)
}

// RecordError records a request failure by error code. Non-Warden errors
// are recorded under INTERNAL_ERROR.
func (rm *RequestMetrics) RecordError(ctx context.Context, route string, err error) {
	if rm == nil || err == nil {
		return
	}
	we := errors.AsWardenError(err)
	rm.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(we.Code)),
			attribute.String("route", route),
			attribute.Bool("recoverable", we.Recoverable),
		),
	)
}
