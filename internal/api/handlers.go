package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/medpost/internal/auth"
	"github.com/digkill/medpost/internal/models"
	"github.com/digkill/medpost/internal/pipeline"
	"github.com/digkill/medpost/internal/repository"
	"github.com/digkill/medpost/internal/service"
)

// profile resolves the caller. Anonymous callers get the basic profile.
func (s *Server) profile(r *http.Request) (*models.Profile, error) {
	claims := auth.FromContext(r.Context())
	if claims == nil {
		return s.svc.Profiles.Current(r.Context(), "", "")
	}
	return s.svc.Profiles.Current(r.Context(), claims.Subject, claims.Email)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req repository.ProfileDetails
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.svc.Profiles.UpdateDetails(r.Context(), p.ID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	capability, err := models.ParseCapability(chi.URLParam(r, "capability"))
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.Catalog.Models(r.Context(), p.Plan, capability))
}

type authEventRequest struct {
	Event string `json:"event"`
}

// handleAuthEvent receives session events from the identity provider's
// client. Signing out discards the generator session.
func (s *Server) handleAuthEvent(w http.ResponseWriter, r *http.Request) {
	var req authEventRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	if !strings.EqualFold(req.Event, "SIGNED_OUT") {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.svc.Generation.Reset(r.Context(), p); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.svc.Generation.Session(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, service.Outcome{Session: sess})
}

// transition runs a free pipeline event built from the request.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, event pipeline.Event) {
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.svc.Generation.Apply(r.Context(), p, event)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, service.Outcome{Session: sess})
}

func (s *Server) handleUpdateInfo(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ProfessionalInfo
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	s.transition(w, r, pipeline.UpdateInfo{Info: req})
}

type themeRequest struct {
	Theme   string `json:"theme"`
	Confirm bool   `json:"confirm"`
}

func (s *Server) handleSelectTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var sess pipeline.Session
	if req.Theme != "" || !req.Confirm {
		if sess, err = s.svc.Generation.Apply(r.Context(), p, pipeline.SelectTheme{Theme: req.Theme}); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.Confirm {
		if sess, err = s.svc.Generation.Apply(r.Context(), p, pipeline.ConfirmTheme{}); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, service.Outcome{Session: sess})
}

func (s *Server) handleSelectModels(w http.ResponseWriter, r *http.Request) {
	var req pipeline.GenerationConfig
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.svc.Generation.SelectModels(r.Context(), p, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, service.Outcome{Session: sess})
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, pipeline.Back{})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.svc.Generation.Reset(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, service.Outcome{Session: sess})
}

type paidAction func(r *http.Request, p *models.Profile) (service.Outcome, error)

// paid runs a charged step and reports it with its warnings.
func (s *Server) paid(action paidAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.profile(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out, err := action(r, p)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	s.paid(func(r *http.Request, p *models.Profile) (service.Outcome, error) {
		return s.svc.Generation.SuggestServices(r.Context(), p)
	})(w, r)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.paid(func(r *http.Request, p *models.Profile) (service.Outcome, error) {
		return s.svc.Generation.AnalyzeMarket(r.Context(), p)
	})(w, r)
}

func (s *Server) handleGenerateText(w http.ResponseWriter, r *http.Request) {
	s.paid(func(r *http.Request, p *models.Profile) (service.Outcome, error) {
		return s.svc.Generation.GenerateText(r.Context(), p)
	})(w, r)
}

func (s *Server) handleGenerateMedia(w http.ResponseWriter, r *http.Request) {
	capability := models.Capability(strings.ToLower(chi.URLParam(r, "type")))
	s.paid(func(r *http.Request, p *models.Profile) (service.Outcome, error) {
		return s.svc.Generation.GenerateMedia(r.Context(), p, capability)
	})(w, r)
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.badRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.svc.Content.List(r.Context(), p.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Content.Delete(r.Context(), p.ID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPlatform(w http.ResponseWriter, r *http.Request) {
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.svc.Platform.Get(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdatePlatform(w http.ResponseWriter, r *http.Request) {
	var req service.UpdatePlatformInput
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	p, err := s.profile(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.svc.Platform.Update(r.Context(), p, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}
