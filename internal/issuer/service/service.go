// Package service coordinates credential issuance: issuer bootstrap, protocol
// provisioning, signing, authorization and storage on the node.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"kcc-issuer/internal/issuer/authorization"
	"kcc-issuer/internal/issuer/identity"
	"kcc-issuer/internal/issuer/models"
	"kcc-issuer/internal/platform/metrics"
	"kcc-issuer/internal/platform/tracer"
	"kcc-issuer/pkg/platform/audit"
)

// IdentityProvider establishes the issuer identity.
type IdentityProvider interface {
	Connect(ctx context.Context) (*identity.Identity, error)
}

// Provisioner makes sure the access-control protocol is installed for the issuer.
type Provisioner interface {
	EnsureInstalled(ctx context.Context, issuer *identity.Identity) error
}

// CredentialBuilder signs and verifies credentials.
type CredentialBuilder interface {
	BuildAndSign(ctx context.Context, issuer *identity.Identity, subjectDID string, data models.CustomerCredential) (string, error)
	Verify(ctx context.Context, issuer *identity.Identity, token string) (*models.VerifiedCredential, error)
}

// Authorizer obtains write authorization for the issuer.
type Authorizer interface {
	Authorize(ctx context.Context, issuerDID string) (*authorization.Grant, error)
}

// CredentialStore persists a signed credential and returns its record id.
type CredentialStore interface {
	Persist(ctx context.Context, issuer *identity.Identity, token, subjectDID string) (string, error)
}

const (
	defaultStageTimeout = 10 * time.Second
	defaultRetryInitial = 200 * time.Millisecond
	connectKey          = "connect"
)

// State is the issuer initialization state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Service is safe for concurrent use. The issuer identity is established once,
// on first use, and reused for the life of the process.
type Service struct {
	identities  IdentityProvider
	provisioner Provisioner
	builder     CredentialBuilder
	authorizer  Authorizer
	store       CredentialStore

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
	emitter audit.Emitter
	auditor *audit.Logger

	stageTimeout time.Duration
	retryMax     int
	retryInitial time.Duration

	issuer     atomic.Pointer[identity.Identity]
	connecting atomic.Bool
	connects   singleflight.Group
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics instance for the service
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithAuditor emits issuance events through the given emitter.
func WithAuditor(emitter audit.Emitter) Option {
	return func(s *Service) {
		s.emitter = emitter
	}
}

// WithStageTimeout bounds each pipeline stage. Non-positive values keep the default.
func WithStageTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stageTimeout = d
		}
	}
}

// WithRetry retries authorize and persist up to maxRetries extra times when the
// collaborator reports itself unavailable. Zero disables retries.
func WithRetry(maxRetries int, initialInterval time.Duration) Option {
	return func(s *Service) {
		if maxRetries > 0 {
			s.retryMax = maxRetries
		}
		if initialInterval > 0 {
			s.retryInitial = initialInterval
		}
	}
}

func New(
	identities IdentityProvider,
	provisioner Provisioner,
	builder CredentialBuilder,
	authorizer Authorizer,
	store CredentialStore,
	opts ...Option,
) *Service {
	s := &Service{
		identities:   identities,
		provisioner:  provisioner,
		builder:      builder,
		authorizer:   authorizer,
		store:        store,
		logger:       slog.Default(),
		tracer:       tracer.NewNoop(),
		stageTimeout: defaultStageTimeout,
		retryInitial: defaultRetryInitial,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.auditor = audit.NewLogger(s.logger, s.emitter)
	return s
}

// State reports the initialization state.
func (s *Service) State() State {
	switch {
	case s.issuer.Load() != nil:
		return StateReady
	case s.connecting.Load():
		return StateInitializing
	default:
		return StateUninitialized
	}
}
