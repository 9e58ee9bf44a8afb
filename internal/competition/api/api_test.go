package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/neeru24/typing-comp/internal/competition/store"
	"github.com/neeru24/typing-comp/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	store.Store

	created *models.Competition
	tokens  map[string]uuid.UUID
	byCode  map[string]*models.Competition
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens: make(map[string]uuid.UUID),
		byCode: make(map[string]*models.Competition),
	}
}

func (f *fakeStore) CreateCompetition(ctx context.Context, comp *models.Competition) error {
	cp := *comp
	f.created = &cp
	f.byCode[comp.Code] = &cp
	return nil
}

func (f *fakeStore) GetByCode(ctx context.Context, code string) (*models.Competition, error) {
	if comp, ok := f.byCode[code]; ok {
		return comp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) IssueOrganizerToken(ctx context.Context, token string, competitionID uuid.UUID, expiresAt time.Time) error {
	f.tokens[token] = competitionID
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeStore, *http.ServeMux) {
	t.Helper()
	st := newFakeStore()
	srv := NewServer(st, clockwork.NewFakeClock(), func() (int, int) { return 3, 1 })
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return srv, st, mux
}

func TestCreateCompetition(t *testing.T) {
	_, st, mux := newTestServer(t)

	body := `{"name":"friday sprint","organizer":"meg","rounds":[{"text":"hello typing world","duration":60}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/competitions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Code, 5)
	require.Len(t, resp.OrganizerToken, 64)
	require.NotEmpty(t, resp.ID)

	require.NotNil(t, st.created)
	require.Equal(t, "friday sprint", st.created.Name)
	require.Equal(t, -1, st.created.CurrentRound)
	require.Len(t, st.created.Rounds, 1)
	require.Contains(t, st.tokens, resp.OrganizerToken)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"rounds":[{"text":"abc","duration":60}]}`},
		{"no rounds", `{"name":"x","rounds":[]}`},
		{"round without text", `{"name":"x","rounds":[{"text":"","duration":60}]}`},
		{"non-positive duration", `{"name":"x","rounds":[{"text":"abc","duration":0}]}`},
		{"garbage body", `{`},
	}

	_, _, mux := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/competitions", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetHidesUnstartedText(t *testing.T) {
	_, st, mux := newTestServer(t)

	started := time.Now()
	st.byCode["AB12C"] = &models.Competition{
		ID:     uuid.New(),
		Name:   "sprint",
		Code:   "AB12C",
		Status: models.CompetitionStatusOngoing,
		Rounds: []models.Round{
			{Number: 1, Text: "already running text", Duration: 60, Status: models.RoundStatusRunning, StartedAt: &started},
			{Number: 2, Text: "still secret text", Duration: 60, Status: models.RoundStatusPending},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/competitions/AB12C", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp publicCompetition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rounds, 2)
	require.Equal(t, "already running text", resp.Rounds[0].Text)
	require.Empty(t, resp.Rounds[1].Text)
}

func TestGetUnknownCode(t *testing.T) {
	_, _, mux := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/competitions/ZZZZZ", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportCSV(t *testing.T) {
	_, st, mux := newTestServer(t)

	started := time.Now().Add(-2 * time.Minute)
	ended := time.Now().Add(-time.Minute)
	st.byCode["AB12C"] = &models.Competition{
		ID:     uuid.New(),
		Name:   "sprint",
		Code:   "AB12C",
		Status: models.CompetitionStatusCompleted,
		Rounds: []models.Round{{
			Number:    1,
			Text:      "text",
			Duration:  60,
			Status:    models.RoundStatusEnded,
			StartedAt: &started,
			EndedAt:   &ended,
			Results: []models.RoundResult{{
				ParticipantID:   uuid.New(),
				ParticipantName: "alice",
				WPM:             62,
				Accuracy:        97,
				CorrectChars:    310,
				TotalChars:      320,
				Rank:            1,
			}},
		}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/competitions/AB12C/export?format=csv", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], "alice")
	require.Contains(t, lines[1], "62")
}

func TestExportSkipsUnfinishedRounds(t *testing.T) {
	_, st, mux := newTestServer(t)

	st.byCode["AB12C"] = &models.Competition{
		ID:     uuid.New(),
		Code:   "AB12C",
		Status: models.CompetitionStatusOngoing,
		Rounds: []models.Round{{Number: 1, Text: "t", Duration: 60, Status: models.RoundStatusPending}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/competitions/AB12C/export", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc exportDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Empty(t, doc.Rounds)
}

func TestHealth(t *testing.T) {
	_, _, mux := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])
	require.EqualValues(t, 3, resp["connections"])
}
