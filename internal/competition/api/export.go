package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/neeru24/typing-comp/internal/models"
	"github.com/rs/zerolog/log"
)

type exportRound struct {
	Round    int                  `json:"round"`
	Duration int                  `json:"duration"`
	Results  []models.RoundResult `json:"results"`
}

type exportDocument struct {
	Competition   string                `json:"competition"`
	Code          string                `json:"code"`
	Status        string                `json:"status"`
	Rounds        []exportRound         `json:"rounds"`
	FinalRankings []models.FinalRanking `json:"final_rankings,omitempty"`
}

// handleExport streams the full results of a competition, as JSON by
// default or CSV with ?format=csv.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	comp, ok := s.loadByCode(w, r)
	if !ok {
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		doc := exportDocument{
			Competition:   comp.Name,
			Code:          comp.Code,
			Status:        string(comp.Status),
			FinalRankings: comp.FinalRankings,
		}
		for _, round := range comp.Rounds {
			if round.EndedAt == nil {
				continue
			}
			doc.Rounds = append(doc.Rounds, exportRound{
				Round:    round.Number,
				Duration: round.Duration,
				Results:  round.Results,
			})
		}
		writeJSON(w, http.StatusOK, doc)
	case "csv":
		s.exportCSV(w, comp)
	default:
		httpError(w, http.StatusBadRequest, "format must be json or csv")
	}
}

func (s *Server) exportCSV(w http.ResponseWriter, comp *models.Competition) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", comp.Code+"-results.csv"))

	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"round", "rank", "participant", "wpm", "accuracy",
		"correct_chars", "total_chars", "errors", "backspaces", "typing_time_sec"}
	if err := cw.Write(header); err != nil {
		log.Error().Err(err).Msg("csv export write failed")
		return
	}

	for _, round := range comp.Rounds {
		if round.EndedAt == nil {
			continue
		}
		for _, res := range round.Results {
			record := []string{
				strconv.Itoa(round.Number),
				strconv.Itoa(res.Rank),
				res.ParticipantName,
				strconv.Itoa(res.WPM),
				strconv.Itoa(res.Accuracy),
				strconv.Itoa(res.CorrectChars),
				strconv.Itoa(res.TotalChars),
				strconv.Itoa(res.Errors),
				strconv.Itoa(res.Backspaces),
				strconv.Itoa(res.TypingTime),
			}
			if err := cw.Write(record); err != nil {
				log.Error().Err(err).Msg("csv export write failed")
				return
			}
		}
	}
}
