package httpapi

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/jobs"
	"activity_ingest/internal/provider"
)

// handleWebhook authenticates a push delivery and hands it to a webhook job. Nothing is
// written before the signature checks out.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	service, secret := vars["service"], vars["secret"]
	logger := s.logger.With("service", service)

	receiver, err := s.registry.WebhookReceiver(service)
	if err != nil {
		logger.Warn("webhook for unknown service")
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	integration, err := s.targets.FindByServiceAndAccount(r.Context(), service, secret)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !matchesAccount(integration, secret)) {
		logger.Warn("webhook with unknown secret")
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	logger = logger.With("integration_id", integration.ID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("failed to read webhook body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	receivedAt := time.Now().UTC()
	if receiver.SignatureSupported() {
		key := provider.WebhookSecret(integration, s.cfg.WebhookSecrets[service])
		if err := receiver.VerifyWebhookSignature(r.Header, body, key, receivedAt); err != nil {
			logger.Warn("webhook signature rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	env, err := jobs.NewWebhook(integration, jobs.WebhookPayload{
		Body:       body,
		Header:     r.Header.Clone(),
		ReceivedAt: receivedAt,
	})
	if err == nil {
		err = s.queue.Enqueue(r.Context(), env, 0)
	}
	if err != nil {
		logger.Error("failed to enqueue webhook", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	logger.Info("webhook accepted", "bytes", len(body))
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func matchesAccount(integration *domain.Integration, secret string) bool {
	if integration == nil || integration.AccountID == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*integration.AccountID), []byte(secret)) == 1
}
