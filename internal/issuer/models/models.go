package models

import (
	"time"

	dErrors "kcc-issuer/pkg/domain-errors"
	s "kcc-issuer/pkg/string"
	"kcc-issuer/pkg/validation"
)

// Status values reported to callers.
const (
	StatusSuccess   = "success"
	StatusConnected = "connected"
	StatusError     = "error"
)

// CustomerCredential is the caller-supplied data placed in the credential subject.
type CustomerCredential struct {
	CountryOfResidence string        `json:"countryOfResidence" validate:"required,country"`
	Tier               string        `json:"tier,omitempty"`
	Jurisdiction       *Jurisdiction `json:"jurisdiction,omitempty"`
}

// Jurisdiction names the regulatory jurisdiction the customer was checked under.
type Jurisdiction struct {
	Country string `json:"country" validate:"required,country"`
}

// Sanitize trims free-text fields. Country codes are left untouched so that
// padded values fail validation instead of being silently repaired.
func (c *CustomerCredential) Sanitize() {
	if c == nil {
		return
	}
	s.TrimStrings(&c.Tier)
}

// Validate enforces the country code pattern on the residence and, when present,
// on the jurisdiction.
func (c *CustomerCredential) Validate() error {
	if c == nil {
		return dErrors.New(dErrors.CodeValidation, "credentialData is required")
	}
	return validation.Validate(c)
}

// IssueResult is returned for a stored credential.
type IssueResult struct {
	IssuerDID     string
	CredentialJWT string
	RecordID      string
	Status        string
}

// StatusResult reports whether the issuer identity is established.
// Status is StatusConnected or StatusError; Message is set on error.
type StatusResult struct {
	Status    string
	IssuerDID string
	Message   string
}

// Connected reports whether the status is a success.
func (r StatusResult) Connected() bool {
	return r.Status == StatusConnected
}

// EvidenceCheck records a verification performed before issuance.
type EvidenceCheck struct {
	Kind   string   `json:"kind"`
	Checks []string `json:"checks"`
}

// CredentialSchema references the JSON schema the credential subject conforms to.
type CredentialSchema struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// DefaultEvidence is attached to every issued credential.
func DefaultEvidence() []EvidenceCheck {
	return []EvidenceCheck{
		{Kind: "document_verification", Checks: []string{"passport", "utility_bill"}},
		{Kind: "sanction_screening", Checks: []string{"PEP"}},
	}
}

// VerifiedCredential is a credential whose signature checked out.
type VerifiedCredential struct {
	ID             string
	IssuerDID      string
	SubjectDID     string
	IssuanceDate   time.Time
	ExpirationDate time.Time
	Expired        bool
	Subject        CustomerCredential
	Schema         CredentialSchema
	Evidence       []EvidenceCheck
}
