package handler

import (
	"kcc-issuer/internal/issuer/models"
	dErrors "kcc-issuer/pkg/domain-errors"
	s "kcc-issuer/pkg/string"
)

// IssueRequest is the body of POST /issue-credential.
type IssueRequest struct {
	CustomerDID    string                     `json:"customerDid"`
	CredentialData *models.CustomerCredential `json:"credentialData"`
}

func (r *IssueRequest) Sanitize() {
	s.TrimStrings(&r.CustomerDID)
	r.CredentialData.Sanitize()
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	CredentialJWT string `json:"credentialJwt"`
}

func (r *VerifyRequest) Sanitize() {
	s.TrimStrings(&r.CredentialJWT)
}

func (r *VerifyRequest) Validate() error {
	if r.CredentialJWT == "" {
		return dErrors.New(dErrors.CodeBadRequest, "credentialJwt is required")
	}
	return nil
}
