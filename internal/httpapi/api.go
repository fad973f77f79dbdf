package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/service"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	events, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":     events,
		"page":     filter.Page,
		"per_page": filter.PerPage,
	})
}

func parseFilter(q url.Values) (domain.EventFilter, error) {
	filter := domain.EventFilter{
		IntegrationID: q.Get("integration_id"),
		Service:       q.Get("service"),
		Domain:        q.Get("domain"),
		Action:        q.Get("action"),
		PerPage:       defaultPerPage,
		Page:          1,
	}

	var err error
	if filter.PerPage, err = intParam(q, "per_page", defaultPerPage); err != nil {
		return filter, err
	}
	filter.PerPage = min(max(filter.PerPage, 1), maxPerPage)
	if filter.Page, err = intParam(q, "page", 1); err != nil {
		return filter, err
	}
	filter.Page = max(filter.Page, 1)

	if filter.From, err = timeParam(q, "from", "from_date"); err != nil {
		return filter, err
	}
	if filter.To, err = timeParam(q, "to", "to_date"); err != nil {
		return filter, err
	}
	return filter, nil
}

func intParam(q url.Values, name string, fallback int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidConfig, name)
	}
	return n, nil
}

// timeParam reads the first of names that is set. Plain dates are accepted as midnight UTC.
func timeParam(q url.Values, names ...string) (*time.Time, error) {
	for _, name := range names {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			if t, err = time.Parse(time.DateOnly, v); err != nil {
				return nil, fmt.Errorf("%w: %s must be a date or RFC 3339 time", domain.ErrInvalidConfig, name)
			}
		}
		return &t, nil
	}
	return nil, nil
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.events.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req service.CreateEventRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.IntegrationID == "" {
		writeError(w, http.StatusBadRequest, "integration_id is required")
		return
	}

	event, outcome, err := s.events.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	status := http.StatusOK
	if outcome == domain.Inserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"data": event, "outcome": outcome})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.events.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createIntegrationRequest struct {
	GroupID                string          `json:"group_id"`
	Service                string          `json:"service"`
	InstanceType           string          `json:"instance_type"`
	Name                   string          `json:"name"`
	Configuration          domain.Metadata `json:"configuration"`
	AccountID              string          `json:"account_id"`
	UpdateFrequencyMinutes int             `json:"update_frequency_minutes"`
}

// handleCreateIntegration adds an instance for API-key, webhook and manual providers, or an
// extra instance type to an existing OAuth group.
func (s *Server) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	var req createIntegrationRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Service == "" {
		writeError(w, http.StatusBadRequest, "service is required")
		return
	}

	integration, err := s.integrations.CreateInstance(r.Context(), service.CreateInstanceRequest{
		UserID:          s.cfg.OwnerUserID,
		GroupID:         req.GroupID,
		Service:         req.Service,
		InstanceType:    req.InstanceType,
		Name:            req.Name,
		Configuration:   req.Configuration,
		AccountID:       req.AccountID,
		UpdateFrequency: time.Duration(req.UpdateFrequencyMinutes) * time.Minute,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": integration})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.integrations.Trigger(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "integration_id": id})
}

type manualRequest struct {
	IntegrationID string         `json:"integration_id"`
	Data          map[string]any `json:"data"`
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := decodeBody(r, w, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	stats, err := s.integrations.Manual(r.Context(), mux.Vars(r)["service"], req.IntegrationID, req.Data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "stats": stats})
}
