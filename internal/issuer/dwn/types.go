// Package dwn talks to a decentralized web node.
//
// Only the two operations the issuer needs are modelled: installing a protocol
// and writing a record. Replies are returned as values, never as errors, so callers
// decide what an unexpected status code means. Errors are reserved for failures to
// obtain a reply at all.
package dwn

import (
	"context"

	"kcc-issuer/internal/issuer/identity"
)

// Status is the node's verdict on a message.
type Status struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

// RecordHandle identifies a record the node stored.
type RecordHandle struct {
	ID        string `json:"recordId"`
	ContextID string `json:"contextId,omitempty"`
}

// Reply is the outcome of a node operation. Record is nil when nothing was stored.
type Reply struct {
	Status Status
	Record *RecordHandle
}

// Accepted reports whether the reply carries exactly the expected status code.
func (r Reply) Accepted(code int) bool {
	return r.Status.Code == code
}

// Succeeded reports whether the status code is in the 2xx range.
func (r Reply) Succeeded() bool {
	return r.Status.Code >= 200 && r.Status.Code < 300
}

// RecordID returns the stored record id, or false when the reply has no record.
func (r Reply) RecordID() (string, bool) {
	if r.Record == nil || r.Record.ID == "" {
		return "", false
	}
	return r.Record.ID, true
}

// ActionRule grants an actor a set of actions on a protocol path.
type ActionRule struct {
	Who string   `json:"who"`
	Can []string `json:"can"`
}

// ProtocolType describes a record type a protocol admits.
type ProtocolType struct {
	Schema      string   `json:"schema"`
	DataFormats []string `json:"dataFormats"`
}

// ProtocolRule is the rule set for one protocol path.
type ProtocolRule struct {
	Actions []ActionRule `json:"$actions"`
}

// ProtocolDefinition is installed on the node to govern access to records.
type ProtocolDefinition struct {
	Protocol  string                  `json:"protocol"`
	Published bool                    `json:"published"`
	Types     map[string]ProtocolType `json:"types"`
	Structure map[string]ProtocolRule `json:"structure"`
}

// RecordWrite is a record-create request.
type RecordWrite struct {
	Data         []byte
	Schema       string
	DataFormat   string
	Published    bool
	Protocol     string
	ProtocolPath string
	Recipient    string
}

// Node is a decentralized web node the issuer writes to.
type Node interface {
	ConfigureProtocol(ctx context.Context, author *identity.Identity, def ProtocolDefinition) (Reply, error)
	CreateRecord(ctx context.Context, author *identity.Identity, rec RecordWrite) (Reply, error)
}
