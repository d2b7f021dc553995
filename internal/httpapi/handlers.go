package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"listing_watcher/internal/domain"
	"listing_watcher/internal/notify"
	"listing_watcher/internal/webhook"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code     int    `json:"code"`
	TextCode string `json:"text_code,omitempty"`
	Message  string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.HTTPStatus(err)
	body := errorBody{
		Code:     status,
		TextCode: domain.TextCode(err),
		Message:  domain.Message(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	writeJSON(w, status, map[string]errorBody{"error": body})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return domain.NewBadInput("invalid JSON body", map[string]any{"cause": err.Error()})
	}
	return nil
}

func watchID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewBadInput("invalid watch id", map[string]any{"id": raw})
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == domain.HealthUnavailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

type urlPayload struct {
	URL string `json:"url"`
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	var p urlPayload
	if err := decodeBody(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	watch, err := s.watches.AddWatch(r.Context(), p.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, watch)
}

func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	watches, err := s.watches.ListWatches(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if watches == nil {
		watches = []domain.Watch{}
	}
	writeJSON(w, http.StatusOK, watches)
}

func (s *Server) handleGetWatch(w http.ResponseWriter, r *http.Request) {
	id, err := watchID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	watch, err := s.watches.GetWatch(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, watch)
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	id, err := watchID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.watches.RemoveWatch(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := watchID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var p urlPayload
	if err := decodeBody(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.watches.SetWebhook(r.Context(), id, p.URL); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := watchID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.watches.ClearWebhook(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	id, err := watchID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	listings, err := s.watches.Listings(r.Context(), id, includeInactive)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) handleRescrape(w http.ResponseWriter, r *http.Request) {
	id, err := watchID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.watches.GetWatch(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	job, err := s.jobs.Submit(domain.JobTypeRescrape, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Cancel(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type webhookTestPayload struct {
	URL     string `json:"url"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	var p webhookTestPayload
	if err := decodeBody(w, r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		s.writeError(w, r, domain.NewBadInput("invalid webhook url", map[string]any{"url": p.URL}))
		return
	}

	opts := s.hookOpts
	if p.Kind != "" {
		kind := webhook.Kind(p.Kind)
		if !kind.Valid() {
			s.writeError(w, r, domain.NewBadInput("unknown webhook kind", map[string]any{"kind": p.Kind}))
			return
		}
		opts.Kind = kind
	}

	message := p.Message
	if message == "" {
		message = notify.FormatMessage(notify.EventInfo, map[string]any{
			"message": "Webhook test from listing-watcher",
		})
	}

	outcome := s.hooks.DeliverWithOutcome(r.Context(), p.URL, message, opts)

	status := http.StatusOK
	if !outcome.Success {
		status = http.StatusBadGateway
	}
	resp := map[string]any{
		"success":     outcome.Success,
		"attempts":    outcome.Attempts,
		"status_code": outcome.StatusCode,
	}
	if outcome.Err != nil {
		resp["error"] = outcome.Err.Error()
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleWebhookTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]webhook.Kind{"types": webhook.Kinds()})
}
