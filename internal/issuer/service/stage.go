package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kcc-issuer/internal/platform/tracer"
	dErrors "kcc-issuer/pkg/domain-errors"
	"kcc-issuer/pkg/platform/sentinel"
)

// Stage names a step of the issuance pipeline.
type Stage string

const (
	StageValidate   Stage = "validate"
	StageInitialize Stage = "initialize"
	StageProvision  Stage = "provision"
	StageSign       Stage = "sign"
	StageAuthorize  Stage = "authorize"
	StagePersist    Stage = "persist"
)

var stageCodes = map[Stage]dErrors.Code{
	StageValidate:   dErrors.CodeValidation,
	StageInitialize: dErrors.CodeInitialization,
	StageProvision:  dErrors.CodeProvisioning,
	StageSign:       dErrors.CodeSigning,
	StageAuthorize:  dErrors.CodeAuthorization,
	StagePersist:    dErrors.CodeStorage,
}

var stageSpans = map[Stage]string{
	StageInitialize: tracer.SpanConnect,
	StageProvision:  tracer.SpanProvision,
	StageSign:       tracer.SpanSign,
	StageAuthorize:  tracer.SpanAuthorize,
	StagePersist:    tracer.SpanPersist,
}

// Code returns the error code reported when the stage fails.
func (st Stage) Code() dErrors.Code {
	if code, ok := stageCodes[st]; ok {
		return code
	}
	return dErrors.CodeInternal
}

// stageError labels err with the stage's code. A deadline is kept visible in the
// chain as a timeout error so errors.Is(err, context.DeadlineExceeded) holds.
func stageError(stage Stage, err error, msg string) error {
	code := stage.Code()
	if errors.Is(err, context.DeadlineExceeded) {
		timeout := dErrors.WrapAs(err, dErrors.CodeTimeout, fmt.Sprintf("%s stage timed out", stage))
		return dErrors.WrapAs(timeout, code, fmt.Sprintf("%s: stage timed out", msg))
	}
	if dErrors.HasCode(err, code) {
		return err
	}
	return dErrors.WrapAs(err, code, fmt.Sprintf("%s: %s", msg, err.Error()))
}

// runStage executes fn under the stage timeout with tracing and metrics. When
// retryable is set and retries are configured, failures wrapping
// sentinel.ErrUnavailable are retried with exponential backoff; each attempt gets
// its own timeout.
func (s *Service) runStage(ctx context.Context, stage Stage, retryable bool, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, stageSpans[stage])
	start := time.Now()

	attempts := 0
	attempt := func() error {
		attempts++
		if attempts > 1 {
			s.metrics.IncrementRetries(string(stage))
		}
		actx, cancel := context.WithTimeout(ctx, s.stageTimeout)
		defer cancel()
		return fn(actx)
	}

	var err error
	if retryable && s.retryMax > 0 {
		err = backoff.Retry(func() error {
			if err := attempt(); err != nil {
				if !errors.Is(err, sentinel.ErrUnavailable) {
					return backoff.Permanent(err)
				}
				s.logger.WarnContext(ctx, "stage attempt failed", "stage", stage, "attempt", attempts, "error", err)
				return err
			}
			return nil
		}, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.retryMax)), ctx))
	} else {
		err = attempt()
	}

	span.SetAttributes(tracer.Int(tracer.AttrAttempt, attempts))
	s.metrics.ObserveStage(string(stage), start, err)
	span.End(err)
	return err
}

func (s *Service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInitial
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
