package handler

import (
	"time"

	"kcc-issuer/internal/issuer/models"
)

type IssueResponse struct {
	IssuerDID     string `json:"issuerDid"`
	CredentialJWT string `json:"credentialJwt"`
	RecordID      string `json:"recordId"`
	Status        string `json:"status"`
}

type StatusResponse struct {
	Status    string `json:"status"`
	IssuerDID string `json:"issuerDid"`
}

type VerifyResponse struct {
	Valid          bool                      `json:"valid"`
	Expired        bool                      `json:"expired"`
	ID             string                    `json:"id"`
	Issuer         string                    `json:"issuer"`
	Subject        string                    `json:"subject"`
	IssuanceDate   string                    `json:"issuanceDate,omitempty"`
	ExpirationDate string                    `json:"expirationDate,omitempty"`
	Credential     models.CustomerCredential `json:"credential"`
	Schema         models.CredentialSchema   `json:"credentialSchema"`
	Evidence       []models.EvidenceCheck    `json:"evidence"`
}

func toVerifyResponse(v *models.VerifiedCredential) VerifyResponse {
	return VerifyResponse{
		Valid:          true,
		Expired:        v.Expired,
		ID:             v.ID,
		Issuer:         v.IssuerDID,
		Subject:        v.SubjectDID,
		IssuanceDate:   formatDate(v.IssuanceDate),
		ExpirationDate: formatDate(v.ExpirationDate),
		Credential:     v.Subject,
		Schema:         v.Schema,
		Evidence:       v.Evidence,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
