package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcc-issuer/pkg/requestcontext"
)

type recordingEmitter struct {
	events []Event
	err    error
}

func (e *recordingEmitter) Emit(_ context.Context, event Event) error {
	e.events = append(e.events, event)
	return e.err
}

func requestCtx() context.Context {
	ctx := requestcontext.WithRequestID(context.Background(), "req-123")
	ctx = requestcontext.WithClientMetadata(ctx, "192.168.1.47", "curl/8.4.0", "curl")
	return requestcontext.WithTime(ctx, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestEnrich(t *testing.T) {
	event := Enrich(requestCtx(), Event{Action: ActionCredentialIssued})

	assert.Equal(t, "req-123", event.RequestID)
	assert.Equal(t, "192.168.1.0", event.ClientIP)
	assert.Equal(t, "curl", event.ClientDevice)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), event.Timestamp)
}

func TestEnrich_KeepsExplicitFields(t *testing.T) {
	event := Enrich(requestCtx(), Event{RequestID: "explicit", ClientDevice: "worker"})

	assert.Equal(t, "explicit", event.RequestID)
	assert.Equal(t, "worker", event.ClientDevice)
}

func TestLogger_LogsAndEmits(t *testing.T) {
	var buf bytes.Buffer
	emitter := &recordingEmitter{}
	l := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)), emitter)

	l.Log(requestCtx(), Event{
		Action:     ActionIssuanceFailed,
		Outcome:    OutcomeFailure,
		SubjectDID: "did:example:abc",
		Stage:      "authorize",
		ErrorCode:  "authorization_failed",
	})

	require.Len(t, emitter.events, 1)
	assert.Equal(t, "req-123", emitter.events[0].RequestID)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit", line["log_type"])
	assert.Equal(t, "authorize", line["stage"])
	assert.Equal(t, "did:example:abc", line["subject_did"])
}

func TestLogger_SwallowsEmitErrors(t *testing.T) {
	var buf bytes.Buffer
	emitter := &recordingEmitter{err: errors.New("store down")}
	l := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)), emitter)

	l.Log(context.Background(), Event{Action: ActionCredentialIssued})

	assert.Contains(t, buf.String(), "failed to emit audit event")
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Log(context.Background(), Event{}) })
	assert.NotPanics(t, func() { NewLogger(nil, nil).Log(context.Background(), Event{}) })
}
