package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names what happened. Stored verbatim in the ledger and on the stream.
type Action string

const (
	ActionIssuerConnected    Action = "issuer_connected"
	ActionProtocolInstalled  Action = "protocol_installed"
	ActionCredentialIssued   Action = "credential_issued"
	ActionIssuanceFailed     Action = "credential_issuance_failed"
	ActionCredentialVerified Action = "credential_verified"
)

// Outcome is the coarse result recorded with each event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is emitted from the issuance pipeline to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Timestamp time.Time
	Action    Action
	Outcome   Outcome

	IssuerDID  string
	SubjectDID string
	RecordID   string

	// Stage and ErrorCode are set on failures only.
	Stage     string
	ErrorCode string
	Reason    string

	RequestID    string
	ClientIP     string // anonymized before it reaches the event
	ClientDevice string
}

// Store persists events. Append must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subjectDID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Sink receives a copy of every event after it has been stored.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}
