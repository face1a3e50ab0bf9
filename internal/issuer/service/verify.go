package service

import (
	"context"
	"strings"

	"kcc-issuer/internal/issuer/models"
	"kcc-issuer/internal/platform/tracer"
	dErrors "kcc-issuer/pkg/domain-errors"
	"kcc-issuer/pkg/platform/audit"
)

const (
	verifyValid   = "valid"
	verifyExpired = "expired"
	verifyInvalid = "invalid"
)

// Verify checks that a VC-JWT was issued by this issuer. Expired credentials
// verify; the result reports the expiry.
func (s *Service) Verify(ctx context.Context, token string) (*models.VerifiedCredential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "credentialJwt is required")
	}

	issuer, err := s.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, tracer.SpanVerify)
	verified, err := s.builder.Verify(ctx, issuer, token)
	span.End(err)
	if err != nil {
		s.metrics.IncrementVerifications(verifyInvalid)
		s.logger.InfoContext(ctx, "credential verification rejected", "error", err)
		return nil, err
	}

	result := verifyValid
	if verified.Expired {
		result = verifyExpired
	}
	s.metrics.IncrementVerifications(result)
	s.auditor.Log(ctx, audit.Event{
		Action:     audit.ActionCredentialVerified,
		Outcome:    audit.OutcomeSuccess,
		IssuerDID:  verified.IssuerDID,
		SubjectDID: verified.SubjectDID,
		Reason:     result,
	})
	return verified, nil
}
