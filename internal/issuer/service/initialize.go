package service

import (
	"context"
	"errors"
	"time"

	"kcc-issuer/internal/issuer/identity"
	"kcc-issuer/internal/issuer/models"
	"kcc-issuer/internal/platform/tracer"
	dErrors "kcc-issuer/pkg/domain-errors"
	"kcc-issuer/pkg/platform/audit"
)

// Initialize returns the issuer identity, connecting on first use. Concurrent
// callers share a single in-flight connect and observe the same identity or the
// same failure. A failed connect leaves the service uninitialized so a later call
// tries again.
func (s *Service) Initialize(ctx context.Context) (*identity.Identity, error) {
	if id := s.issuer.Load(); id != nil {
		return id, nil
	}

	ch := s.connects.DoChan(connectKey, func() (any, error) {
		return s.connect(ctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*identity.Identity), nil
	case <-ctx.Done():
		// Only this waiter gives up; the shared connect keeps running for the others.
		return nil, stageError(StageInitialize, ctx.Err(), "issuer initialization interrupted")
	}
}

// connect runs once per flight. It is detached from the first caller's
// cancellation so one impatient caller cannot fail everyone else.
func (s *Service) connect(parent context.Context) (*identity.Identity, error) {
	if id := s.issuer.Load(); id != nil {
		return id, nil
	}
	s.connecting.Store(true)
	defer s.connecting.Store(false)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.stageTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, tracer.SpanConnect)

	start := time.Now()
	s.metrics.IncrementConnects()
	id, err := s.identities.Connect(ctx)
	if err == nil && id.IsZero() {
		err = errors.New("identity provider returned an empty identity")
	}
	s.metrics.ObserveStage(string(StageInitialize), start, err)
	if err != nil {
		err = stageError(StageInitialize, err, "failed to initialize issuer identity")
		span.End(err)
		s.logger.ErrorContext(ctx, "issuer initialization failed", "stage", StageInitialize, "error", err)
		return nil, err
	}

	s.issuer.Store(id)
	s.metrics.SetReady(true)
	span.SetAttributes(tracer.String(tracer.AttrIssuerDID, id.URI))
	span.End(nil)
	s.logger.InfoContext(ctx, "issuer identity established", "issuer_did", id.URI)
	s.auditor.Log(ctx, audit.Event{
		Action:    audit.ActionIssuerConnected,
		Outcome:   audit.OutcomeSuccess,
		IssuerDID: id.URI,
	})
	return id, nil
}

// IssuerDID returns the issuer DID once initialized. It never connects.
func (s *Service) IssuerDID() (string, error) {
	id := s.issuer.Load()
	if id == nil {
		return "", dErrors.New(dErrors.CodeNotInitialized, "issuer is not initialized")
	}
	return id.URI, nil
}

// Status initializes the issuer if needed. Failures are reported in the result,
// never returned.
func (s *Service) Status(ctx context.Context) models.StatusResult {
	id, err := s.Initialize(ctx)
	if err != nil {
		return models.StatusResult{
			Status:  models.StatusError,
			Message: err.Error(),
		}
	}
	return models.StatusResult{
		Status:    models.StatusConnected,
		IssuerDID: id.URI,
	}
}
