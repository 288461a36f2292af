package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fsm"

// startCommandSpan opens the span covering one command. The caller ends it
// with endCommandSpan.
//
//nolint:spancheck // Span lifecycle managed by caller
func startCommandSpan(ctx context.Context, spanName, engineName, commandType, entityID string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName)

	span.SetAttributes(
		attribute.String("engine", engineName),
		attribute.String("command_type", commandType),
	)

	if entityID != "" {
		span.SetAttributes(attribute.String("entity_id_hash", hashID(entityID)))
	}

	return ctx, span
}

func endCommandSpan(span trace.Span, res Result, outcome string) {
	span.SetAttributes(attribute.String("outcome", outcome))

	if res.EntityID != "" {
		span.SetAttributes(attribute.String("entity_id_hash", hashID(res.EntityID)))
	}

	if res.Event != nil {
		span.SetAttributes(
			attribute.String("event_type", string(res.Event.EventType())),
			attribute.String("new_state", string(res.Event.NewState())),
		)
	}

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// hashID creates a short hash of an id for span attributes.
func hashID(id string) string {
	h := sha256.Sum256([]byte(id))

	return hex.EncodeToString(h[:4])
}
