// Package api is the HTTP management surface: competition creation,
// read access by join code, results export, and the health endpoint.
// The realtime path lives in the gateway; nothing here touches a
// websocket.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/neeru24/typing-comp/internal/auth"
	"github.com/neeru24/typing-comp/internal/competition/store"
	"github.com/neeru24/typing-comp/internal/models"
	"github.com/rs/zerolog/log"
)

// codeRetries bounds join-code generation against unique collisions.
const codeRetries = 5

type Server struct {
	store store.Store
	clock clockwork.Clock

	// stats is wired to the connection manager; nil means no gateway.
	stats func() (connections, rooms int)
}

func NewServer(st store.Store, clock clockwork.Clock, stats func() (int, int)) *Server {
	return &Server{store: st, clock: clock, stats: stats}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/competitions", s.handleCreate)
	mux.HandleFunc("GET /api/competitions/{code}", s.handleGet)
	mux.HandleFunc("GET /api/competitions/{code}/export", s.handleExport)
	mux.HandleFunc("GET /health", s.handleHealth)
}

type createRoundRequest struct {
	Text     string `json:"text"`
	Duration int    `json:"duration"` // seconds
}

type createRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Organizer   string               `json:"organizer"`
	Rounds      []createRoundRequest `json:"rounds"`
}

type createResponse struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	OrganizerToken string `json:"organizer_token"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || len(req.Rounds) == 0 {
		httpError(w, http.StatusBadRequest, "name and at least one round are required")
		return
	}
	for _, round := range req.Rounds {
		if round.Text == "" || round.Duration <= 0 {
			httpError(w, http.StatusBadRequest, "every round needs text and a positive duration")
			return
		}
	}
	if req.Organizer == "" {
		req.Organizer = "Admin"
	}

	now := s.clock.Now()
	comp := &models.Competition{
		ID:           uuid.New(),
		Name:         req.Name,
		Description:  req.Description,
		Organizer:    req.Organizer,
		Status:       models.CompetitionStatusPending,
		CurrentRound: -1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, round := range req.Rounds {
		comp.Rounds = append(comp.Rounds, models.Round{
			Number:   i + 1,
			Text:     round.Text,
			Duration: round.Duration,
			Status:   models.RoundStatusPending,
		})
	}

	// Join codes collide rarely; retry with a fresh code instead of
	// failing the create.
	var created bool
	for attempt := 0; attempt < codeRetries && !created; attempt++ {
		code, err := auth.NewCode()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal error")
			return
		}
		comp.Code = code
		if err := s.store.CreateCompetition(r.Context(), comp); err != nil {
			log.Warn().Err(err).Str("code", code).Msg("competition create failed, retrying with new code")
			continue
		}
		created = true
	}
	if !created {
		httpError(w, http.StatusInternalServerError, "could not allocate a join code")
		return
	}

	token, err := auth.NewToken()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.store.IssueOrganizerToken(r.Context(), token, comp.ID, now.Add(auth.TokenTTL)); err != nil {
		log.Error().Err(err).Str("competition_id", comp.ID.String()).Msg("failed to issue organizer token")
		httpError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Info().
		Str("competition_id", comp.ID.String()).
		Str("code", comp.Code).
		Int("rounds", len(comp.Rounds)).
		Msg("competition created")

	writeJSON(w, http.StatusCreated, createResponse{
		ID:             comp.ID.String(),
		Code:           comp.Code,
		OrganizerToken: token,
	})
}

// publicRound hides round text until the round has started so joiners
// cannot pre-read the exercise.
type publicRound struct {
	Number   int                  `json:"number"`
	Duration int                  `json:"duration"`
	Status   models.RoundStatus   `json:"status"`
	Text     string               `json:"text,omitempty"`
	Results  []models.RoundResult `json:"results,omitempty"`
}

type publicCompetition struct {
	ID            string                   `json:"id"`
	Name          string                   `json:"name"`
	Code          string                   `json:"code"`
	Description   string                   `json:"description"`
	Status        models.CompetitionStatus `json:"status"`
	CurrentRound  int                      `json:"current_round"`
	Rounds        []publicRound            `json:"rounds"`
	Participants  []models.Participant     `json:"participants"`
	FinalRankings []models.FinalRanking    `json:"final_rankings,omitempty"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	comp, ok := s.loadByCode(w, r)
	if !ok {
		return
	}

	out := publicCompetition{
		ID:            comp.ID.String(),
		Name:          comp.Name,
		Code:          comp.Code,
		Description:   comp.Description,
		Status:        comp.Status,
		CurrentRound:  comp.CurrentRound,
		Participants:  comp.Participants,
		FinalRankings: comp.FinalRankings,
	}
	for _, round := range comp.Rounds {
		pr := publicRound{
			Number:   round.Number,
			Duration: round.Duration,
			Status:   round.Status,
			Results:  round.Results,
		}
		if round.StartedAt != nil {
			pr.Text = round.Text
		}
		out.Rounds = append(out.Rounds, pr)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"time":   s.clock.Now().UTC(),
	}
	if s.stats != nil {
		connections, rooms := s.stats()
		resp["connections"] = connections
		resp["rooms"] = rooms
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loadByCode(w http.ResponseWriter, r *http.Request) (*models.Competition, bool) {
	code := r.PathValue("code")
	comp, err := s.store.GetByCode(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "competition not found")
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to load competition")
		httpError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return comp, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
