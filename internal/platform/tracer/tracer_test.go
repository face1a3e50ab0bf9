package tracer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"kcc-issuer/internal/platform/tracer"
)

func TestNoopTracer_Start(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanIssue,
		tracer.String(tracer.AttrIssuerDID, "did:jwk:abc"),
		tracer.Bool("init.joined", true),
	)

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.SetAttributes(tracer.Int(tracer.AttrAttempt, 2))
	span.AddEvent("retry", tracer.Duration("backoff_ms", 200*time.Millisecond))
	span.End(errors.New("stage failed"))
}

func TestOTelTracer_WithInjectedTracer(t *testing.T) {
	tr := tracer.NewOTel(tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	ctx, span := tr.Start(context.Background(), tracer.SpanAuthorize,
		tracer.String(tracer.AttrIssuerDID, "did:jwk:abc"),
		tracer.Int(tracer.AttrAttempt, 2),
	)
	require.NotNil(t, ctx)
	assert.NotPanics(t, func() {
		span.SetAttributes(tracer.String(tracer.AttrRecordID, "rec-1"))
		span.AddEvent("denied")
		span.End(errors.New("forbidden"))
	})
}

func TestOTelTracer_DefaultsToGlobalProvider(t *testing.T) {
	tr := tracer.NewOTel()
	_, span := tr.Start(context.Background(), tracer.SpanSign)
	assert.NotPanics(t, func() { span.End(nil) })
}

func TestHashDID(t *testing.T) {
	assert.Empty(t, tracer.HashDID(""))
	h := tracer.HashDID("did:example:abc")
	assert.Len(t, h, 16)
	assert.Equal(t, h, tracer.HashDID("did:example:abc"))
	assert.NotEqual(t, h, tracer.HashDID("did:example:abd"))
}
