package audit

import (
	"context"
	"log/slog"

	"kcc-issuer/internal/platform/privacy"
	"kcc-issuer/pkg/requestcontext"
)

// Emitter is the interface for audit event emission.
// Satisfied by publisher.Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Enrich copies request correlation data from ctx onto the event.
// Fields already set on the event win.
func Enrich(ctx context.Context, event Event) Event {
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientDevice == "" {
		event.ClientDevice = requestcontext.ClientDevice(ctx)
	}
	if event.ClientIP == "" {
		if ip := requestcontext.ClientIP(ctx); ip != "" {
			event.ClientIP = privacy.AnonymizeIP(ip)
		}
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	return event
}

// Logger writes audit events to the structured log and optionally emits them.
// Use this in services to standardize audit logging patterns.
type Logger struct {
	textLogger *slog.Logger
	emitter    Emitter
}

// NewLogger creates an audit logger. Either argument may be nil.
func NewLogger(textLogger *slog.Logger, emitter Emitter) *Logger {
	return &Logger{
		textLogger: textLogger,
		emitter:    emitter,
	}
}

// Log enriches the event, writes it as an audit log line and emits it.
// Emission failures are logged and never returned: the ledger must not break issuance.
func (l *Logger) Log(ctx context.Context, event Event) {
	if l == nil {
		return
	}
	event = Enrich(ctx, event)

	if l.textLogger != nil {
		attrs := []any{
			"event", string(event.Action),
			"log_type", "audit",
			"outcome", string(event.Outcome),
			"request_id", event.RequestID,
		}
		if event.IssuerDID != "" {
			attrs = append(attrs, "issuer_did", event.IssuerDID)
		}
		if event.SubjectDID != "" {
			attrs = append(attrs, "subject_did", privacy.TruncateDID(event.SubjectDID))
		}
		if event.RecordID != "" {
			attrs = append(attrs, "record_id", event.RecordID)
		}
		if event.Stage != "" {
			attrs = append(attrs, "stage", event.Stage, "error_code", event.ErrorCode)
		}
		l.textLogger.InfoContext(ctx, string(event.Action), attrs...)
	}

	if l.emitter == nil {
		return
	}
	if err := l.emitter.Emit(ctx, event); err != nil && l.textLogger != nil {
		l.textLogger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"event", string(event.Action),
		)
	}
}
