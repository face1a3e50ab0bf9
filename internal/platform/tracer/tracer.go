// Package tracer provides a lightweight tracing abstraction for the issuance pipeline.
//
// The service depends on the Tracer interface rather than on OpenTelemetry directly.
// Implementations:
//   - NoopTracer: for tests
//   - OTelTracer: OpenTelemetry adapter for production
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks it failed.
	// End must be called exactly once, typically via defer.
	End(err error)

	SetAttributes(attrs ...Attribute)

	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a new span; the returned context carries it to child operations.
	//
	// Example:
	//   ctx, span := t.Start(ctx, tracer.SpanAuthorize,
	//       tracer.String(tracer.AttrIssuerDID, did),
	//   )
	//   defer span.End(err)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int creates an integer attribute.
func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: int64(value)}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashDID returns a short SHA-256 prefix of a subject DID so traces correlate
// without carrying the identifier itself.
func HashDID(did string) string {
	if did == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(did))
	return hex.EncodeToString(hash[:8])
}

// Span names used by the issuance pipeline.
const (
	SpanIssue     = "issuer.issue"
	SpanConnect   = "issuer.connect"
	SpanProvision = "issuer.provision"
	SpanSign      = "issuer.sign"
	SpanAuthorize = "issuer.authorize"
	SpanPersist   = "issuer.persist"
	SpanVerify    = "issuer.verify"
)

// Attribute keys used by the issuance pipeline.
const (
	AttrIssuerDID   = "issuer.did"
	AttrSubjectHash = "subject.hash"
	AttrRecordID    = "record.id"
	AttrAttempt     = "attempt"
)
