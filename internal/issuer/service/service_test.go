package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kcc-issuer/internal/issuer/authorization"
	"kcc-issuer/internal/issuer/credential"
	"kcc-issuer/internal/issuer/dwn"
	"kcc-issuer/internal/issuer/identity"
	"kcc-issuer/internal/issuer/models"
	"kcc-issuer/internal/issuer/protocol"
	"kcc-issuer/internal/issuer/record"
	"kcc-issuer/internal/issuer/service/mocks"
	"kcc-issuer/internal/platform/metrics"
	dErrors "kcc-issuer/pkg/domain-errors"
	"kcc-issuer/pkg/platform/audit"
	"kcc-issuer/pkg/platform/audit/publisher"
	auditmemory "kcc-issuer/pkg/platform/audit/store/memory"
	"kcc-issuer/pkg/platform/sentinel"
	pkgtestutil "kcc-issuer/pkg/testutil"
)

const (
	subjectDID = "did:example:customer-123"
	tokenValue = "header.payload.signature"
)

type ServiceSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	identities  *mocks.MockIdentityProvider
	provisioner *mocks.MockProvisioner
	builder     *mocks.MockCredentialBuilder
	authorizer  *mocks.MockAuthorizer
	store       *mocks.MockCredentialStore
	auditStore  *auditmemory.InMemoryStore
	metrics     *metrics.Metrics
	issuer      *identity.Identity
	service     *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func newIssuer(t require.TestingT) *identity.Identity {
	key, err := identity.DeriveKey("service-test")
	require.NoError(t, err)
	id, err := identity.New(key)
	require.NoError(t, err)
	return id
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.identities = mocks.NewMockIdentityProvider(s.ctrl)
	s.provisioner = mocks.NewMockProvisioner(s.ctrl)
	s.builder = mocks.NewMockCredentialBuilder(s.ctrl)
	s.authorizer = mocks.NewMockAuthorizer(s.ctrl)
	s.store = mocks.NewMockCredentialStore(s.ctrl)
	s.auditStore = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.issuer = newIssuer(s.T())
	s.service = s.newService()
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithLogger(discardLogger()),
		WithMetrics(s.metrics),
		WithAuditor(publisher.NewPublisher(s.auditStore)),
	}
	return New(s.identities, s.provisioner, s.builder, s.authorizer, s.store, append(base, opts...)...)
}

func validRequest() *models.CustomerCredential {
	return &models.CustomerCredential{
		CountryOfResidence: "US",
		Tier:               "Gold",
		Jurisdiction:       &models.Jurisdiction{Country: "US"},
	}
}

func (s *ServiceSuite) auditActions() []audit.Action {
	events, err := s.auditStore.ListRecent(context.Background(), 0)
	s.Require().NoError(err)
	actions := make([]audit.Action, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		actions = append(actions, events[i].Action)
	}
	return actions
}

// =============================================================================
// Initialize
// =============================================================================

func (s *ServiceSuite) TestInitialize_RepeatedCallsConnectOnce() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil).Times(1)

	s.Equal(StateUninitialized, s.service.State())
	for range 3 {
		id, err := s.service.Initialize(context.Background())
		s.Require().NoError(err)
		s.Equal(s.issuer.URI, id.URI)
	}
	s.Equal(StateReady, s.service.State())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.IssuerConnects))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.IssuerReady))
	s.Equal([]audit.Action{audit.ActionIssuerConnected}, s.auditActions())
}

func (s *ServiceSuite) TestInitialize_ConcurrentCallersShareOneConnect() {
	release := make(chan struct{})
	started := make(chan struct{})
	s.identities.EXPECT().Connect(gomock.Any()).DoAndReturn(func(context.Context) (*identity.Identity, error) {
		close(started)
		<-release
		return s.issuer, nil
	}).Times(1)

	const callers = 20
	uris := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-started
		s.Equal(StateInitializing, s.service.State())
		close(release)
	}()

	result := pkgtestutil.RunConcurrent(callers, func(i int) error {
		id, err := s.service.Initialize(context.Background())
		if err != nil {
			return err
		}
		uris[i] = id.URI
		return nil
	})
	wg.Wait()

	s.Equal(int32(callers), result.Successes)
	for _, uri := range uris {
		s.Equal(s.issuer.URI, uri)
	}
}

func (s *ServiceSuite) TestInitialize_ConcurrentCallersShareFailure() {
	boom := errors.New("key store down")
	release := make(chan struct{})
	s.identities.EXPECT().Connect(gomock.Any()).DoAndReturn(func(context.Context) (*identity.Identity, error) {
		<-release
		return nil, boom
	}).Times(1)

	var errs [5]error
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.service.Initialize(context.Background())
		}()
	}
	// Give every caller time to join the in-flight connect before it fails.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInitialization))
		s.ErrorIs(err, boom)
	}
}

func (s *ServiceSuite) TestInitialize_FailureLeavesUninitialized() {
	gomock.InOrder(
		s.identities.EXPECT().Connect(gomock.Any()).Return(nil, errors.New("unreachable")),
		s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil),
	)

	_, err := s.service.Initialize(context.Background())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInitialization))
	s.Equal(StateUninitialized, s.service.State())

	_, err = s.service.IssuerDID()
	s.True(dErrors.HasCode(err, dErrors.CodeNotInitialized))

	id, err := s.service.Initialize(context.Background())
	s.Require().NoError(err)
	s.Equal(s.issuer.URI, id.URI)

	did, err := s.service.IssuerDID()
	s.Require().NoError(err)
	s.Equal(s.issuer.URI, did)
}

func (s *ServiceSuite) TestInitialize_EmptyIdentityIsFailure() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(&identity.Identity{}, nil)

	_, err := s.service.Initialize(context.Background())
	s.True(dErrors.HasCode(err, dErrors.CodeInitialization))
	s.Equal(StateUninitialized, s.service.State())
}

func (s *ServiceSuite) TestInitialize_CancelledWaiterDoesNotCancelConnect() {
	release := make(chan struct{})
	s.identities.EXPECT().Connect(gomock.Any()).DoAndReturn(func(ctx context.Context) (*identity.Identity, error) {
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return s.issuer, nil
	}).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.service.Initialize(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	s.True(dErrors.HasCode(err, dErrors.CodeInitialization))
	s.ErrorIs(err, context.Canceled)

	close(release)
	s.Eventually(func() bool { return s.service.State() == StateReady }, time.Second, 5*time.Millisecond)
}

func (s *ServiceSuite) TestInitialize_Timeout() {
	svc := s.newService(WithStageTimeout(20 * time.Millisecond))
	s.identities.EXPECT().Connect(gomock.Any()).DoAndReturn(func(ctx context.Context) (*identity.Identity, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := svc.Initialize(context.Background())
	s.True(dErrors.HasCode(err, dErrors.CodeInitialization))
	s.ErrorIs(err, context.DeadlineExceeded)
	s.ErrorIs(err, &dErrors.Error{Code: dErrors.CodeTimeout})
}

// =============================================================================
// Status
// =============================================================================

func (s *ServiceSuite) TestStatus_Connected() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil)

	status := s.service.Status(context.Background())
	s.True(status.Connected())
	s.Equal(models.StatusResult{Status: models.StatusConnected, IssuerDID: s.issuer.URI}, status)
}

func (s *ServiceSuite) TestStatus_FailingConnectIsReportedNotReturned() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(nil, errors.New("dwn unreachable"))

	status := s.service.Status(context.Background())
	s.False(status.Connected())
	s.Equal(models.StatusError, status.Status)
	s.Empty(status.IssuerDID)
	s.Contains(status.Message, "dwn unreachable")
}

// =============================================================================
// IssueCredential
// =============================================================================

func (s *ServiceSuite) TestIssueCredential_Success() {
	gomock.InOrder(
		s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil),
		s.provisioner.EXPECT().EnsureInstalled(gomock.Any(), s.issuer).Return(nil),
		s.builder.EXPECT().BuildAndSign(gomock.Any(), s.issuer, subjectDID, *validRequest()).Return(tokenValue, nil),
		s.authorizer.EXPECT().Authorize(gomock.Any(), s.issuer.URI).Return(&authorization.Grant{StatusCode: 200}, nil),
		s.store.EXPECT().Persist(gomock.Any(), s.issuer, tokenValue, subjectDID).Return("record-1", nil),
	)

	result, err := s.service.IssueCredential(context.Background(), subjectDID, validRequest())
	s.Require().NoError(err)
	s.Equal(&models.IssueResult{
		IssuerDID:     s.issuer.URI,
		CredentialJWT: tokenValue,
		RecordID:      "record-1",
		Status:        models.StatusSuccess,
	}, result)

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.IssuanceTotal.WithLabelValues(models.StatusSuccess)))
	s.Equal([]audit.Action{audit.ActionIssuerConnected, audit.ActionCredentialIssued}, s.auditActions())

	events, err := s.auditStore.ListBySubject(context.Background(), subjectDID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal("record-1", events[0].RecordID)
}

func (s *ServiceSuite) TestIssueCredential_SecondIssuanceSkipsConnect() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil).Times(1)
	s.provisioner.EXPECT().EnsureInstalled(gomock.Any(), s.issuer).Return(nil).Times(2)
	s.builder.EXPECT().BuildAndSign(gomock.Any(), s.issuer, subjectDID, gomock.Any()).Return(tokenValue, nil).Times(2)
	s.authorizer.EXPECT().Authorize(gomock.Any(), s.issuer.URI).Return(&authorization.Grant{}, nil).Times(2)
	s.store.EXPECT().Persist(gomock.Any(), s.issuer, tokenValue, subjectDID).Return("record-1", nil).Times(2)

	for range 2 {
		_, err := s.service.IssueCredential(context.Background(), subjectDID, validRequest())
		s.Require().NoError(err)
	}
}

func (s *ServiceSuite) TestIssueCredential_MissingInputsShortCircuit() {
	// No expectations: any collaborator call fails the test.
	tests := []struct {
		name    string
		subject string
		data    *models.CustomerCredential
	}{
		{name: "missing subject", subject: "", data: validRequest()},
		{name: "blank subject", subject: "   ", data: validRequest()},
		{name: "missing data", subject: subjectDID, data: nil},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.IssueCredential(context.Background(), tt.subject, tt.data)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		})
	}
	s.Equal(StateUninitialized, s.service.State())
}

func (s *ServiceSuite) TestIssueCredential_ValidationFailsBeforeAnyExternalCall() {
	tests := []struct {
		name    string
		subject string
		data    *models.CustomerCredential
		want    string
	}{
		{name: "lowercase residence", subject: subjectDID, data: &models.CustomerCredential{CountryOfResidence: "us"}, want: "countryOfResidence"},
		{name: "three letter residence", subject: subjectDID, data: &models.CustomerCredential{CountryOfResidence: "USA"}, want: "countryOfResidence"},
		{name: "bad jurisdiction", subject: subjectDID, data: &models.CustomerCredential{CountryOfResidence: "US", Jurisdiction: &models.Jurisdiction{Country: "u1"}}, want: "jurisdiction.country"},
		{name: "subject is not a DID", subject: "customer-123", data: validRequest(), want: "customerDid"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.IssueCredential(context.Background(), tt.subject, tt.data)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
			s.Contains(err.Error(), tt.want)
		})
	}
	s.Equal(StateUninitialized, s.service.State())
}

func (s *ServiceSuite) TestIssueCredential_ProvisioningNotAcceptedStopsPipeline() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil)
	s.provisioner.EXPECT().EnsureInstalled(gomock.Any(), s.issuer).
		Return(dErrors.New(dErrors.CodeProvisioning, "protocol installation not accepted: 500 boom"))

	_, err := s.service.IssueCredential(context.Background(), subjectDID, validRequest())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeProvisioning))
	s.Contains(err.Error(), "not accepted: 500")
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.StageFailures.WithLabelValues(string(StageProvision))))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.IssuanceTotal.WithLabelValues(models.StatusError)))

	events, err := s.auditStore.ListBySubject(context.Background(), subjectDID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(audit.ActionIssuanceFailed, events[0].Action)
	s.Equal(string(StageProvision), events[0].Stage)
	s.Equal(string(dErrors.CodeProvisioning), events[0].ErrorCode)
}

func (s *ServiceSuite) TestIssueCredential_SigningFailure() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil)
	s.provisioner.EXPECT().EnsureInstalled(gomock.Any(), s.issuer).Return(nil)
	s.builder.EXPECT().BuildAndSign(gomock.Any(), s.issuer, subjectDID, gomock.Any()).Return("", errors.New("hsm offline"))

	_, err := s.service.IssueCredential(context.Background(), subjectDID, validRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeSigning))
	s.Contains(err.Error(), "hsm offline")
}

func (s *ServiceSuite) TestIssueCredential_ForbiddenAuthorizationSkipsStorage() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil)
	s.provisioner.EXPECT().EnsureInstalled(gomock.Any(), s.issuer).Return(nil)
	s.builder.EXPECT().BuildAndSign(gomock.Any(), s.issuer, subjectDID, gomock.Any()).Return(tokenValue, nil)
	s.authorizer.EXPECT().Authorize(gomock.Any(), s.issuer.URI).
		Return(nil, dErrors.New(dErrors.CodeAuthorization, "authorization failed: Forbidden")).Times(1)

	svc := s.newService(WithRetry(3, time.Millisecond))
	_, err := svc.IssueCredential(context.Background(), subjectDID, validRequest())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuthorization))
	s.Equal("authorization failed: Forbidden", err.Error())
	s.Equal(float64(0), testutil.ToFloat64(s.metrics.StageRetries.WithLabelValues(string(StageAuthorize))))
}

func (s *ServiceSuite) TestIssueCredential_StorageFailure() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil)
	s.provisioner.EXPECT().EnsureInstalled(gomock.Any(), s.issuer).Return(nil)
	s.builder.EXPECT().BuildAndSign(gomock.Any(), s.issuer, subjectDID, gomock.Any()).Return(tokenValue, nil)
	s.authorizer.EXPECT().Authorize(gomock.Any(), s.issuer.URI).Return(&authorization.Grant{}, nil)
	s.store.EXPECT().Persist(gomock.Any(), s.issuer, tokenValue, subjectDID).
		Return("", dErrors.New(dErrors.CodeStorage, "failed to create record: 401 Unauthorized"))

	_, err := s.service.IssueCredential(context.Background(), subjectDID, validRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeStorage))
}

func (s *ServiceSuite) TestIssueCredential_InitializationFailure() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(nil, errors.New("no key store"))

	_, err := s.service.IssueCredential(context.Background(), subjectDID, validRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeInitialization))
}

func (s *ServiceSuite) TestIssueCredential_StageTimeout() {
	svc := s.newService(WithStageTimeout(20 * time.Millisecond))
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil)
	s.provisioner.EXPECT().EnsureInstalled(gomock.Any(), s.issuer).Return(nil)
	s.builder.EXPECT().BuildAndSign(gomock.Any(), s.issuer, subjectDID, gomock.Any()).Return(tokenValue, nil)
	s.authorizer.EXPECT().Authorize(gomock.Any(), s.issuer.URI).DoAndReturn(func(ctx context.Context, _ string) (*authorization.Grant, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := svc.IssueCredential(context.Background(), subjectDID, validRequest())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeAuthorization))
	s.ErrorIs(err, context.DeadlineExceeded)
	s.ErrorIs(err, &dErrors.Error{Code: dErrors.CodeTimeout})
}

func (s *ServiceSuite) TestIssueCredential_RetriesUnavailableCollaborators() {
	unavailable := dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeAuthorization, "authorization failed: Service Unavailable")

	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil)
	s.provisioner.EXPECT().EnsureInstalled(gomock.Any(), s.issuer).Return(nil)
	s.builder.EXPECT().BuildAndSign(gomock.Any(), s.issuer, subjectDID, gomock.Any()).Return(tokenValue, nil)
	gomock.InOrder(
		s.authorizer.EXPECT().Authorize(gomock.Any(), s.issuer.URI).Return(nil, unavailable).Times(2),
		s.authorizer.EXPECT().Authorize(gomock.Any(), s.issuer.URI).Return(&authorization.Grant{}, nil),
	)
	gomock.InOrder(
		s.store.EXPECT().Persist(gomock.Any(), s.issuer, tokenValue, subjectDID).Return("", sentinel.ErrUnavailable),
		s.store.EXPECT().Persist(gomock.Any(), s.issuer, tokenValue, subjectDID).Return("record-9", nil),
	)

	svc := s.newService(WithRetry(2, time.Millisecond))
	result, err := svc.IssueCredential(context.Background(), subjectDID, validRequest())
	s.Require().NoError(err)
	s.Equal("record-9", result.RecordID)
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.StageRetries.WithLabelValues(string(StageAuthorize))))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.StageRetries.WithLabelValues(string(StagePersist))))
}

func (s *ServiceSuite) TestIssueCredential_RetriesAreBounded() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil)
	s.provisioner.EXPECT().EnsureInstalled(gomock.Any(), s.issuer).Return(nil)
	s.builder.EXPECT().BuildAndSign(gomock.Any(), s.issuer, subjectDID, gomock.Any()).Return(tokenValue, nil)
	s.authorizer.EXPECT().Authorize(gomock.Any(), s.issuer.URI).Return(&authorization.Grant{}, nil)
	s.store.EXPECT().Persist(gomock.Any(), s.issuer, tokenValue, subjectDID).Return("", sentinel.ErrUnavailable).Times(3)

	svc := s.newService(WithRetry(2, time.Millisecond))
	_, err := svc.IssueCredential(context.Background(), subjectDID, validRequest())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStorage))
	s.ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *ServiceSuite) TestIssueCredential_NoRetryByDefault() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil)
	s.provisioner.EXPECT().EnsureInstalled(gomock.Any(), s.issuer).Return(nil)
	s.builder.EXPECT().BuildAndSign(gomock.Any(), s.issuer, subjectDID, gomock.Any()).Return(tokenValue, nil)
	s.authorizer.EXPECT().Authorize(gomock.Any(), s.issuer.URI).Return(nil, sentinel.ErrUnavailable).Times(1)

	_, err := s.service.IssueCredential(context.Background(), subjectDID, validRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeAuthorization))
}

// =============================================================================
// Verify
// =============================================================================

func (s *ServiceSuite) TestVerify() {
	s.identities.EXPECT().Connect(gomock.Any()).Return(s.issuer, nil)
	verified := &models.VerifiedCredential{IssuerDID: s.issuer.URI, SubjectDID: subjectDID, Expired: true}
	s.builder.EXPECT().Verify(gomock.Any(), s.issuer, tokenValue).Return(verified, nil)
	s.builder.EXPECT().Verify(gomock.Any(), s.issuer, "bad").Return(nil, dErrors.New(dErrors.CodeInvalidInput, "invalid credential"))

	got, err := s.service.Verify(context.Background(), " "+tokenValue+" ")
	s.Require().NoError(err)
	s.Same(verified, got)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Verifications.WithLabelValues(verifyExpired)))

	_, err = s.service.Verify(context.Background(), "bad")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.service.Verify(context.Background(), "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

// =============================================================================
// Full pipeline over the in-memory node
// =============================================================================

func TestIssueCredential_EndToEndWithMemoryNode(t *testing.T) {
	var authorizedDID string
	authority := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorizedDID = r.URL.Query().Get("issuerDid")
		_, _ = w.Write([]byte(`{"authorized":true}`))
	}))
	defer authority.Close()

	node := dwn.NewMemoryNode()
	builder := credential.NewBuilder("https://vc.schemas.host/kcc.schema.json", time.Now().Add(time.Hour))
	svc := New(
		identity.NewProvider(identity.NewMemoryKeyStore(), identity.WithSeed("e2e")),
		protocol.NewProvisioner(node, http.StatusAccepted),
		builder,
		authorization.NewClient(authority.URL),
		record.NewStore(node),
		WithLogger(discardLogger()),
	)

	result, err := svc.IssueCredential(context.Background(), subjectDID, validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, result.IssuerDID, authorizedDID)

	records := node.QueryRecords(result.IssuerDID, dwn.RecordFilter{Recipient: subjectDID})
	require.Len(t, records, 1)
	assert.Equal(t, result.RecordID, records[0].ID)
	assert.Equal(t, result.CredentialJWT, string(records[0].Write.Data))

	verified, err := svc.Verify(context.Background(), result.CredentialJWT)
	require.NoError(t, err)
	assert.Equal(t, subjectDID, verified.SubjectDID)
	assert.Equal(t, *validRequest(), verified.Subject)
	assert.False(t, verified.Expired)
}

func TestIssueCredential_ForbiddenAuthorityStoresNothing(t *testing.T) {
	authority := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer authority.Close()

	node := dwn.NewMemoryNode()
	svc := New(
		identity.NewProvider(nil),
		protocol.NewProvisioner(node, http.StatusAccepted),
		credential.NewBuilder("https://vc.schemas.host/kcc.schema.json", time.Time{}),
		authorization.NewClient(authority.URL),
		record.NewStore(node),
		WithLogger(discardLogger()),
	)

	_, err := svc.IssueCredential(context.Background(), subjectDID, validRequest())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAuthorization))
	assert.Contains(t, err.Error(), "Forbidden")

	did, err := svc.IssuerDID()
	require.NoError(t, err)
	assert.Empty(t, node.QueryRecords(did, dwn.RecordFilter{}))
}

func TestStageError(t *testing.T) {
	t.Run("keeps an error already carrying the stage code", func(t *testing.T) {
		original := dErrors.New(dErrors.CodeStorage, "failed to create record: 500 boom")
		assert.Same(t, original, stageError(StagePersist, original, "credential storage failed"))
	})

	t.Run("relabels other codes", func(t *testing.T) {
		err := stageError(StageSign, dErrors.New(dErrors.CodeInvalidInput, "bad key"), "credential signing failed")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeSigning))
		assert.Equal(t, "credential signing failed: bad key", err.Error())
	})

	t.Run("deadline becomes a timeout in the chain", func(t *testing.T) {
		err := stageError(StageProvision, context.DeadlineExceeded, "protocol provisioning failed")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeProvisioning))
		assert.ErrorIs(t, err, &dErrors.Error{Code: dErrors.CodeTimeout})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "ready", StateReady.String())
}
