package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/httpapi/mocks"
	"activity_ingest/internal/jobs"
	"activity_ingest/internal/jobs/jobstest"
	"activity_ingest/internal/provider"
	"activity_ingest/internal/service"
)

type signedHook struct{}

func (signedHook) Identifier() string                   { return "signed" }
func (signedHook) DisplayName() string                  { return "Signed" }
func (signedHook) Capability() provider.Capability      { return provider.CapabilityWebhook }
func (signedHook) ConfigurationSchema() provider.Schema { return provider.Schema{} }
func (signedHook) InstanceTypes() []string              { return []string{"documents"} }
func (signedHook) SignatureSupported() bool             { return true }

func (signedHook) VerifyWebhookSignature(header http.Header, body []byte, secret string, _ time.Time) error {
	return provider.VerifyHMACSHA256(secret, body, header.Get("X-Signature"))
}

func (signedHook) SplitWebhookData(body []byte) ([]json.RawMessage, error) {
	return []json.RawMessage{body}, nil
}

func (signedHook) ConvertData(context.Context, *domain.Integration, json.RawMessage) (*domain.Converted, error) {
	return &domain.Converted{}, nil
}

type unsignedHook struct{ signedHook }

func (unsignedHook) Identifier() string       { return "unsigned" }
func (unsignedHook) SignatureSupported() bool { return false }

type ServerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	targets      *mocks.MockWebhookTargets
	events       *mocks.MockEventService
	integrations *mocks.MockIntegrationService
	oauth        *mocks.MockOAuthFlow
	queue        *jobstest.Queue
	router       http.Handler
}

func (s *ServerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.targets = mocks.NewMockWebhookTargets(s.ctrl)
	s.events = mocks.NewMockEventService(s.ctrl)
	s.integrations = mocks.NewMockIntegrationService(s.ctrl)
	s.oauth = mocks.NewMockOAuthFlow(s.ctrl)
	s.queue = jobstest.NewQueue()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	registry := provider.NewRegistry(signedHook{}, unsignedHook{})
	srv := NewServer(Config{OwnerUserID: "owner-1", SessionCookie: "sid"}, registry,
		s.targets, s.events, s.integrations, s.oauth, s.queue, logger)
	s.router = srv.Router()
}

func (s *ServerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func hookIntegration(service, account string) *domain.Integration {
	return &domain.Integration{ID: "int-1", Service: service, InstanceType: "documents", AccountID: &account}
}

func (s *ServerTestSuite) TestWebhook_ValidSignatureEnqueues() {
	body := []byte(`{"event":"documents.update"}`)
	s.targets.EXPECT().FindByServiceAndAccount(gomock.Any(), "signed", "sekret").
		Return(hookIntegration("signed", "sekret"), nil)

	before := time.Now().UTC()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/signed/sekret", bytes.NewReader(body))
	req.Header.Set("X-Signature", provider.SignHMACSHA256("sekret", body))
	rec := s.do(req)

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"success"}`, rec.Body.String())

	queued := s.queue.Kind(jobs.KindWebhook)
	s.Require().Len(queued, 1)
	var payload jobs.WebhookPayload
	s.Require().NoError(queued[0].Decode(&payload))
	s.Equal(body, payload.Body)
	s.Equal("int-1", queued[0].IntegrationID)
	s.WithinRange(payload.ReceivedAt, before, time.Now().UTC())
}

func (s *ServerTestSuite) TestWebhook_InvalidSignatureIs401WithoutWork() {
	body := []byte(`{"event":"documents.update"}`)
	s.targets.EXPECT().FindByServiceAndAccount(gomock.Any(), "signed", "sekret").
		Return(hookIntegration("signed", "sekret"), nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/signed/sekret", bytes.NewReader(body))
	req.Header.Set("X-Signature", provider.SignHMACSHA256("other", body))
	rec := s.do(req)

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Contains(rec.Body.String(), `"error"`)
	s.Zero(s.queue.Len())
}

func (s *ServerTestSuite) TestWebhook_UnsignedProviderAcceptsWithoutHeader() {
	s.targets.EXPECT().FindByServiceAndAccount(gomock.Any(), "unsigned", "acc").
		Return(hookIntegration("unsigned", "acc"), nil)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/webhooks/unsigned/acc", strings.NewReader(`{}`)))

	s.Equal(http.StatusOK, rec.Code)
	s.Equal(1, s.queue.Len())
}

func (s *ServerTestSuite) TestWebhook_UnknownServiceIs404() {
	rec := s.do(httptest.NewRequest(http.MethodPost, "/webhooks/nope/acc", strings.NewReader(`{}`)))
	s.Equal(http.StatusNotFound, rec.Code)
	s.Zero(s.queue.Len())
}

func (s *ServerTestSuite) TestWebhook_UnknownSecretIs404() {
	s.targets.EXPECT().FindByServiceAndAccount(gomock.Any(), "signed", "guess").
		Return(nil, fmt.Errorf("integration: %w", domain.ErrNotFound))

	rec := s.do(httptest.NewRequest(http.MethodPost, "/webhooks/signed/guess", strings.NewReader(`{}`)))
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestWebhook_EnqueueFailureIs500() {
	s.queue.Err = errors.New("redis down")
	s.targets.EXPECT().FindByServiceAndAccount(gomock.Any(), "unsigned", "acc").
		Return(hookIntegration("unsigned", "acc"), nil)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/webhooks/unsigned/acc", strings.NewReader(`{}`)))

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.NotContains(rec.Body.String(), "redis")
}

func (s *ServerTestSuite) TestOAuthStart_RedirectsAndSetsCookies() {
	group := &domain.IntegrationGroup{ID: "grp-1", UserID: "owner-1", Service: "signed"}
	s.integrations.EXPECT().InitializeGroup(gomock.Any(), "owner-1", "signed").Return(group, nil)
	s.oauth.EXPECT().GetOAuthURL(gomock.Any(), gomock.Not(""), group).Return("https://provider.test/authorize?state=x", nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/integrations/signed/oauth", nil))

	s.Equal(http.StatusFound, rec.Code)
	s.Equal("https://provider.test/authorize?state=x", rec.Header().Get("Location"))
	cookies := map[string]string{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c.Value
	}
	s.NotEmpty(cookies["sid"])
	s.Equal("grp-1", cookies[groupCookie])
}

func (s *ServerTestSuite) TestOAuthCallback_CreatesPrimaryInstance() {
	group := &domain.IntegrationGroup{ID: "grp-1", UserID: "owner-1", Service: "signed"}
	s.oauth.EXPECT().HandleOAuthCallback(gomock.Any(), "session-1", "grp-1", "the-code", "blob").Return(group, nil)
	s.integrations.EXPECT().CreateInstance(gomock.Any(), service.CreateInstanceRequest{
		UserID: "owner-1", GroupID: "grp-1", Service: "signed",
	}).Return(&domain.Integration{ID: "int-9"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/integrations/signed/oauth/callback?code=the-code&state=blob", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "session-1"})
	req.AddCookie(&http.Cookie{Name: groupCookie, Value: "grp-1"})
	rec := s.do(req)

	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"connected","group_id":"grp-1","integration_id":"int-9"}`, rec.Body.String())
}

func (s *ServerTestSuite) TestOAuthCallback_BadStateIs400() {
	s.oauth.EXPECT().HandleOAuthCallback(gomock.Any(), "session-1", "grp-1", "c", "tampered").
		Return(nil, fmt.Errorf("%w: csrf mismatch", domain.ErrInvalidState))

	req := httptest.NewRequest(http.MethodGet, "/integrations/signed/oauth/callback?code=c&state=tampered", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "session-1"})
	req.AddCookie(&http.Cookie{Name: groupCookie, Value: "grp-1"})
	rec := s.do(req)

	s.Equal(http.StatusBadRequest, rec.Code)
	s.NotContains(rec.Body.String(), "csrf")
}

func (s *ServerTestSuite) TestOAuthCallback_WithoutGroupCookieIs400() {
	req := httptest.NewRequest(http.MethodGet, "/integrations/signed/oauth/callback?code=c&state=s", nil)
	rec := s.do(req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestListEvents_ParsesFilter() {
	s.events.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, f domain.EventFilter) ([]domain.Event, error) {
			s.Equal("github", f.Service)
			s.Equal(maxPerPage, f.PerPage)
			s.Equal(2, f.Page)
			s.Require().NotNil(f.From)
			s.Equal(2024, f.From.Year())
			return []domain.Event{{ID: "ev-1"}}, nil
		})

	rec := s.do(httptest.NewRequest(http.MethodGet,
		"/api/events?service=github&per_page=10000&page=2&from=2024-01-01T00:00:00Z", nil))

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"ev-1"`)
}

func (s *ServerTestSuite) TestListEvents_BadTimeIs400() {
	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/events?from=yesterday", nil))
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestGetEvent_NotFound() {
	s.events.EXPECT().Get(gomock.Any(), "missing").Return(nil, domain.ErrNotFound)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/events/missing", nil))
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestCreateEvent_Inserted() {
	s.events.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req service.CreateEventRequest) (*domain.Event, domain.WriteOutcome, error) {
			s.Equal("int-1", req.IntegrationID)
			s.Equal("commit", req.Event.Action)
			return &domain.Event{ID: "ev-1"}, domain.Inserted, nil
		})

	body := `{"integration_id":"int-1","event":{"action":"commit"}}`
	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body)))

	s.Equal(http.StatusCreated, rec.Code)
	s.Contains(rec.Body.String(), `"outcome":"inserted"`)
}

func (s *ServerTestSuite) TestCreateEvent_MalformedBody() {
	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{`)))
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestDeleteEvent() {
	s.events.EXPECT().Delete(gomock.Any(), "ev-1").Return(nil)

	rec := s.do(httptest.NewRequest(http.MethodDelete, "/api/events/ev-1", nil))
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *ServerTestSuite) TestTrigger() {
	s.integrations.EXPECT().Trigger(gomock.Any(), "int-1").Return(nil)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/integrations/int-1/trigger", nil))
	s.Equal(http.StatusAccepted, rec.Code)
}

func (s *ServerTestSuite) TestTrigger_Unsupported() {
	s.integrations.EXPECT().Trigger(gomock.Any(), "int-1").Return(fmt.Errorf("outline: %w", domain.ErrUnsupported))

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/integrations/int-1/trigger", nil))
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestManual() {
	s.integrations.EXPECT().Manual(gomock.Any(), "manual", "", map[string]any{"amount": "4.50", "merchant": "Cafe"}).
		Return(&domain.ProcessStats{New: 1}, nil)

	body := `{"data":{"amount":"4.50","merchant":"Cafe"}}`
	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/integrations/manual/manual", strings.NewReader(body)))
	s.Equal(http.StatusOK, rec.Code)
}

func (s *ServerTestSuite) TestCreateIntegration() {
	s.integrations.EXPECT().CreateInstance(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req service.CreateInstanceRequest) (*domain.Integration, error) {
			s.Equal("owner-1", req.UserID)
			s.Equal("unsigned", req.Service)
			s.Equal("acc", req.AccountID)
			return &domain.Integration{ID: "int-2"}, nil
		})

	body := `{"service":"unsigned","account_id":"acc"}`
	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/integrations", strings.NewReader(body)))
	s.Equal(http.StatusCreated, rec.Code)
}

func (s *ServerTestSuite) TestHealthz() {
	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	s.Equal(http.StatusOK, rec.Code)
}
