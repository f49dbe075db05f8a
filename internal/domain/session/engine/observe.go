// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// observeDispatch records one dispatched command on the OpenTelemetry meter.
// The provider is looked up at call time so the daemon can install it after
// engines already exist; with the noop provider this is free.
func observeDispatch(msgType string) {
	meter := otel.GetMeterProvider().Meter("gridjam.engine")
	dispatched, err := meter.Int64Counter("gridjam_engine_dispatch_total",
		metric.WithDescription("Total commands dispatched by session engines"))
	if err != nil {
		return
	}
	dispatched.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", msgType),
	))
}
