package service

import (
	"context"
	"strings"

	"kcc-issuer/internal/issuer/identity"
	"kcc-issuer/internal/issuer/models"
	"kcc-issuer/internal/platform/tracer"
	dErrors "kcc-issuer/pkg/domain-errors"
	"kcc-issuer/pkg/platform/audit"
	"kcc-issuer/pkg/validation"
)

// IssueCredential validates the request, then initializes the issuer, installs the
// protocol, signs, authorizes and stores the credential, in that order. The first
// failing stage aborts the pipeline and nothing is rolled back.
func (s *Service) IssueCredential(ctx context.Context, subjectDID string, data *models.CustomerCredential) (*models.IssueResult, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanIssue, tracer.String(tracer.AttrSubjectHash, tracer.HashDID(subjectDID)))

	result, stage, err := s.issue(ctx, strings.TrimSpace(subjectDID), data)
	if err != nil {
		span.End(err)
		s.metrics.IncrementIssuance(models.StatusError)
		s.logger.ErrorContext(ctx, "credential issuance failed",
			"stage", stage,
			"error_code", string(dErrors.CodeOf(err)),
			"error", err,
		)
		issuerDID, _ := s.IssuerDID()
		s.auditor.Log(context.WithoutCancel(ctx), audit.Event{
			Action:     audit.ActionIssuanceFailed,
			Outcome:    audit.OutcomeFailure,
			IssuerDID:  issuerDID,
			SubjectDID: subjectDID,
			Stage:      string(stage),
			ErrorCode:  string(dErrors.CodeOf(err)),
			Reason:     err.Error(),
		})
		return nil, err
	}

	span.SetAttributes(tracer.String(tracer.AttrRecordID, result.RecordID))
	span.End(nil)
	s.metrics.IncrementIssuance(models.StatusSuccess)
	s.auditor.Log(ctx, audit.Event{
		Action:     audit.ActionCredentialIssued,
		Outcome:    audit.OutcomeSuccess,
		IssuerDID:  result.IssuerDID,
		SubjectDID: subjectDID,
		RecordID:   result.RecordID,
	})
	return result, nil
}

func (s *Service) issue(ctx context.Context, subjectDID string, data *models.CustomerCredential) (*models.IssueResult, Stage, error) {
	if subjectDID == "" || data == nil {
		return nil, StageValidate, dErrors.New(dErrors.CodeBadRequest, "customerDid and credentialData are required")
	}
	if !validation.IsDID(subjectDID) {
		return nil, StageValidate, dErrors.New(dErrors.CodeValidation, "customerDid must be a DID")
	}
	request := *data
	request.Sanitize()
	if err := request.Validate(); err != nil {
		return nil, StageValidate, err
	}

	issuer, err := s.Initialize(ctx)
	if err != nil {
		return nil, StageInitialize, err
	}

	err = s.runStage(ctx, StageProvision, false, func(ctx context.Context) error {
		return s.provisioner.EnsureInstalled(ctx, issuer)
	})
	if err != nil {
		return nil, StageProvision, stageError(StageProvision, err, "protocol provisioning failed")
	}

	var token string
	err = s.runStage(ctx, StageSign, false, func(ctx context.Context) error {
		signed, err := s.builder.BuildAndSign(ctx, issuer, subjectDID, request)
		token = signed
		return err
	})
	if err != nil {
		return nil, StageSign, stageError(StageSign, err, "credential signing failed")
	}

	err = s.runStage(ctx, StageAuthorize, true, func(ctx context.Context) error {
		grant, err := s.authorizer.Authorize(ctx, issuer.URI)
		if err == nil && grant != nil {
			s.logger.DebugContext(ctx, "authorization granted", "issuer_did", issuer.URI, "status", grant.StatusCode)
		}
		return err
	})
	if err != nil {
		return nil, StageAuthorize, stageError(StageAuthorize, err, "authorization failed")
	}

	recordID, err := s.persist(ctx, issuer, token, subjectDID)
	if err != nil {
		return nil, StagePersist, stageError(StagePersist, err, "credential storage failed")
	}

	return &models.IssueResult{
		IssuerDID:     issuer.URI,
		CredentialJWT: token,
		RecordID:      recordID,
		Status:        models.StatusSuccess,
	}, StagePersist, nil
}

func (s *Service) persist(ctx context.Context, issuer *identity.Identity, token, subjectDID string) (string, error) {
	var recordID string
	err := s.runStage(ctx, StagePersist, true, func(ctx context.Context) error {
		id, err := s.store.Persist(ctx, issuer, token, subjectDID)
		if err != nil {
			return err
		}
		recordID = id
		return nil
	})
	return recordID, err
}
