// Package httpapi serves the webhook endpoint, the OAuth connect flow and the
// public data API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/jobs"
	"activity_ingest/internal/provider"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Addr          string
	SessionCookie string
	OwnerUserID   string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration

	// WebhookSecrets holds provider-wide signing secrets by service.
	WebhookSecrets map[string]string
}

type Server struct {
	cfg          Config
	registry     *provider.Registry
	targets      WebhookTargets
	events       EventService
	integrations IntegrationService
	oauth        OAuthFlow
	queue        jobs.Queue
	logger       *slog.Logger
}

func NewServer(
	cfg Config,
	registry *provider.Registry,
	targets WebhookTargets,
	events EventService,
	integrations IntegrationService,
	oauth OAuthFlow,
	queue jobs.Queue,
	logger *slog.Logger,
) *Server {
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = "ingest_session"
	}
	return &Server{
		cfg:          cfg,
		registry:     registry,
		targets:      targets,
		events:       events,
		integrations: integrations,
		oauth:        oauth,
		queue:        queue,
		logger:       logger.With("component", "http"),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/webhooks/{service}/{secret}", s.handleWebhook).Methods(http.MethodPost)

	r.HandleFunc("/integrations/{service}/oauth", s.withSession(s.handleOAuthStart)).Methods(http.MethodGet)
	r.HandleFunc("/integrations/{service}/oauth/callback", s.withSession(s.handleOAuthCallback)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleCreateEvent).Methods(http.MethodPost)
	api.HandleFunc("/events/{id}", s.handleGetEvent).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", s.handleDeleteEvent).Methods(http.MethodDelete)
	api.HandleFunc("/integrations", s.handleCreateIntegration).Methods(http.MethodPost)
	api.HandleFunc("/integrations/{id}/trigger", s.handleTrigger).Methods(http.MethodPost)
	api.HandleFunc("/integrations/{service}/manual", s.handleManual).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type sessionKey struct{}

// withSession makes sure the caller carries a session cookie.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := ""
		if c, err := r.Cookie(s.cfg.SessionCookie); err == nil && c.Value != "" {
			session = c.Value
		} else {
			session = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     s.cfg.SessionCookie,
				Value:    session,
				Path:     "/",
				HttpOnly: true,
				Secure:   isSecure(r),
				SameSite: http.SameSiteLaxMode,
			})
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	}
}

func sessionFrom(ctx context.Context) string {
	s, _ := ctx.Value(sessionKey{}).(string)
	return s
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err to a status and a generic message; the detail only goes to the log.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrMalformedPayload):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrUnsupported):
		status, msg = http.StatusBadRequest, "not supported"
	case errors.Is(err, domain.ErrInvalidState):
		status, msg = http.StatusBadRequest, "invalid oauth state"
	case errors.Is(err, domain.ErrInvalidSignature):
		status, msg = http.StatusUnauthorized, "invalid signature"
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	writeError(w, status, msg)
}

func decodeBody(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Join(domain.ErrMalformedPayload, err)
	}
	return nil
}
