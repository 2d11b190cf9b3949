package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer used for valuation spans
const TracerName = "stock-valuation"

// Span attribute keys for valuation operations
const (
	SpanAttrCompanyID   = "valuation.company_id"
	SpanAttrProductID   = "valuation.product_id"
	SpanAttrWarehouseID = "valuation.warehouse_id"
	SpanAttrMovementID  = "valuation.movement_id"
	SpanAttrQuantity    = "valuation.quantity"
	SpanAttrDryRun      = "valuation.dry_run"
)

// StartSpan starts an internal span on the valuation tracer. The caller ends it.
//
//	ctx, span := telemetry.StartSpan(ctx, "valuation.consume",
//	    attribute.String(telemetry.SpanAttrProductID, productID.String()))
//	defer span.End()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err (if any) and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// GetTraceID returns the trace ID from ctx, or "" when there is no valid span.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
