//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the OpenTelemetry handles used across the engine.
// Both default to no-op implementations; callers opt in by installing real
// providers at startup.
package telemetry

import (
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "trpc.group/trpc-go/trpc-flow-go"

// TracerProvider is the global tracer provider.
var TracerProvider trace.TracerProvider = tracenoop.NewTracerProvider()

// Tracer is the global tracer instance.
var Tracer trace.Tracer = TracerProvider.Tracer(instrumentationName)

// MeterProvider is the global meter provider.
var MeterProvider metric.MeterProvider = metricnoop.NewMeterProvider()

// Meter is the global meter instance.
var Meter metric.Meter = MeterProvider.Meter(instrumentationName)

// SetTracerProvider installs a tracer provider for the engine's spans.
func SetTracerProvider(tp trace.TracerProvider) {
	TracerProvider = tp
	Tracer = tp.Tracer(instrumentationName)
}

// SetMeterProvider installs a meter provider for the engine's counters.
func SetMeterProvider(mp metric.MeterProvider) {
	MeterProvider = mp
	Meter = mp.Meter(instrumentationName)
}
