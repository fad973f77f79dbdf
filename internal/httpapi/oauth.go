package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/service"
)

const groupCookie = "oauth_group"

// handleOAuthStart creates a fresh group for the provider and redirects to its consent page.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc := mux.Vars(r)["service"]

	group, err := s.integrations.InitializeGroup(ctx, s.cfg.OwnerUserID, svc)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	url, err := s.oauth.GetOAuthURL(ctx, sessionFrom(ctx), group)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     groupCookie,
		Value:    group.ID,
		Path:     "/integrations/" + svc,
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})
	http.Redirect(w, r, url, http.StatusFound)
}

// handleOAuthCallback finishes the exchange and creates the group's primary instance.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc := mux.Vars(r)["service"]
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		s.logger.Warn("oauth consent denied", "service", svc, "reason", e)
		writeError(w, http.StatusBadRequest, "authorization was not granted")
		return
	}

	cookie, err := r.Cookie(groupCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     groupCookie,
		Value:    "",
		Path:     "/integrations/" + svc,
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	group, err := s.oauth.HandleOAuthCallback(ctx, sessionFrom(ctx), cookie.Value, code, q.Get("state"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if group.Service != svc {
		s.fail(w, r, fmt.Errorf("%w: group %s belongs to %s", domain.ErrInvalidState, group.ID, group.Service))
		return
	}

	integration, err := s.integrations.CreateInstance(ctx, service.CreateInstanceRequest{
		UserID:  group.UserID,
		GroupID: group.ID,
		Service: group.Service,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "connected",
		"group_id":       group.ID,
		"integration_id": integration.ID,
	})
}
