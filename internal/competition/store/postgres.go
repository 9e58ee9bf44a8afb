package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neeru24/typing-comp/internal/models"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) CreateCompetition(ctx context.Context, comp *models.Competition) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin create competition: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO competitions (id, name, code, description, organizer, status, current_round, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		comp.ID, comp.Name, comp.Code, comp.Description, comp.Organizer,
		comp.Status, comp.CurrentRound, comp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert competition: %w", err)
	}

	for i, r := range comp.Rounds {
		_, err = tx.Exec(ctx, `
			INSERT INTO rounds (competition_id, round_index, text, duration_sec, status)
			VALUES ($1, $2, $3, $4, $5)`,
			comp.ID, i, r.Text, r.Duration, r.Status)
		if err != nil {
			return fmt.Errorf("failed to insert round %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit create competition: %w", err)
	}
	return nil
}

func (p *Postgres) GetByCode(ctx context.Context, code string) (*models.Competition, error) {
	return p.getCompetition(ctx, "code = $1", code)
}

func (p *Postgres) GetByID(ctx context.Context, id uuid.UUID) (*models.Competition, error) {
	return p.getCompetition(ctx, "id = $1", id)
}

func (p *Postgres) getCompetition(ctx context.Context, where string, arg any) (*models.Competition, error) {
	var (
		comp     models.Competition
		rankings []byte
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, code, description, organizer, status, current_round,
		       final_rankings, started_at, completed_at, created_at, updated_at
		FROM competitions WHERE `+where,
		arg).Scan(
		&comp.ID, &comp.Name, &comp.Code, &comp.Description, &comp.Organizer,
		&comp.Status, &comp.CurrentRound, &rankings,
		&comp.StartedAt, &comp.CompletedAt, &comp.CreatedAt, &comp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get competition: %w", err)
	}

	if len(rankings) > 0 {
		if err := json.Unmarshal(rankings, &comp.FinalRankings); err != nil {
			return nil, fmt.Errorf("failed to decode final rankings: %w", err)
		}
		// Persisted trimmed; list order carries the rank.
		for i := range comp.FinalRankings {
			comp.FinalRankings[i].Rank = i + 1
		}
	}
	if err := p.loadRounds(ctx, &comp); err != nil {
		return nil, err
	}
	if err := p.loadParticipants(ctx, &comp); err != nil {
		return nil, err
	}
	return &comp, nil
}

func (p *Postgres) loadRounds(ctx context.Context, comp *models.Competition) error {
	rows, err := p.pool.Query(ctx, `
		SELECT round_index, text, duration_sec, status, started_at, ended_at
		FROM rounds WHERE competition_id = $1 ORDER BY round_index`,
		comp.ID)
	if err != nil {
		return fmt.Errorf("failed to load rounds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idx int
			r   models.Round
		)
		if err := rows.Scan(&idx, &r.Text, &r.Duration, &r.Status, &r.StartedAt, &r.EndedAt); err != nil {
			return fmt.Errorf("failed to scan round: %w", err)
		}
		r.Number = idx + 1
		comp.Rounds = append(comp.Rounds, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed reading rounds: %w", err)
	}

	for i := range comp.Rounds {
		results, err := p.loadResults(ctx, comp.ID, i)
		if err != nil {
			return err
		}
		comp.Rounds[i].Results = results
	}
	return nil
}

func (p *Postgres) loadResults(ctx context.Context, compID uuid.UUID, roundIndex int) ([]models.RoundResult, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT participant_id, participant_name, wpm, accuracy, correct_chars,
		       total_chars, errors, backspaces, typing_time_sec, rank
		FROM round_results WHERE competition_id = $1 AND round_index = $2 ORDER BY rank`,
		compID, roundIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to load round results: %w", err)
	}
	defer rows.Close()

	var results []models.RoundResult
	for rows.Next() {
		var r models.RoundResult
		if err := rows.Scan(&r.ParticipantID, &r.ParticipantName, &r.WPM, &r.Accuracy,
			&r.CorrectChars, &r.TotalChars, &r.Errors, &r.Backspaces, &r.TypingTime, &r.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan round result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (p *Postgres) loadParticipants(ctx context.Context, comp *models.Competition) error {
	rows, err := p.pool.Query(ctx, `
		SELECT participant_id, name, joined_at
		FROM participants WHERE competition_id = $1 ORDER BY joined_at`,
		comp.ID)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pt models.Participant
		if err := rows.Scan(&pt.ParticipantID, &pt.Name, &pt.JoinedAt); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		comp.Participants = append(comp.Participants, pt)
	}
	return rows.Err()
}

func (p *Postgres) ListOngoing(ctx context.Context) ([]*models.Competition, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM competitions WHERE status = $1`, models.CompetitionStatusOngoing)
	if err != nil {
		return nil, fmt.Errorf("failed to list ongoing competitions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan competition id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading ongoing competitions: %w", err)
	}

	comps := make([]*models.Competition, 0, len(ids))
	for _, id := range ids {
		comp, err := p.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		comps = append(comps, comp)
	}
	return comps, nil
}

func (p *Postgres) InsertParticipant(ctx context.Context, competitionID uuid.UUID, pt models.Participant) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO participants (competition_id, participant_id, name, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (competition_id, participant_id) DO NOTHING`,
		competitionID, pt.ParticipantID, pt.Name, pt.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

// StartRound is the arbiter for concurrent starts: only the writer that
// finds started_at still NULL, with no other round of the competition in
// flight, wins. Everyone else gets ErrConflict.
func (p *Postgres) StartRound(ctx context.Context, competitionID uuid.UUID, roundIndex int, startedAt time.Time) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin start round: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE rounds SET status = $1, started_at = $2
		WHERE competition_id = $3 AND round_index = $4 AND started_at IS NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM rounds r
		      WHERE r.competition_id = $3 AND r.started_at IS NOT NULL AND r.ended_at IS NULL)`,
		models.RoundStatusRunning, startedAt, competitionID, roundIndex)
	if err != nil {
		return fmt.Errorf("failed to start round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	_, err = tx.Exec(ctx, `
		UPDATE competitions
		SET status = $1, current_round = $2,
		    started_at = COALESCE(started_at, $3), updated_at = $3
		WHERE id = $4`,
		models.CompetitionStatusOngoing, roundIndex, startedAt, competitionID)
	if err != nil {
		return fmt.Errorf("failed to mark competition ongoing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit start round: %w", err)
	}
	return nil
}

func (p *Postgres) FinishRound(ctx context.Context, competitionID uuid.UUID, roundIndex int, endedAt time.Time, results []models.RoundResult) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin finish round: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE rounds SET status = $1, ended_at = $2
		WHERE competition_id = $3 AND round_index = $4 AND ended_at IS NULL`,
		models.RoundStatusEnded, endedAt, competitionID, roundIndex)
	if err != nil {
		return fmt.Errorf("failed to finish round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	for _, r := range results {
		_, err = tx.Exec(ctx, `
			INSERT INTO round_results (competition_id, round_index, participant_id, participant_name,
			                           wpm, accuracy, correct_chars, total_chars, errors, backspaces,
			                           typing_time_sec, rank)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (competition_id, round_index, participant_id) DO NOTHING`,
			competitionID, roundIndex, r.ParticipantID, r.ParticipantName,
			r.WPM, r.Accuracy, r.CorrectChars, r.TotalChars, r.Errors, r.Backspaces,
			r.TypingTime, r.Rank)
		if err != nil {
			return fmt.Errorf("failed to insert round result: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `UPDATE competitions SET updated_at = $1 WHERE id = $2`, endedAt, competitionID)
	if err != nil {
		return fmt.Errorf("failed to touch competition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit finish round: %w", err)
	}
	return nil
}

func (p *Postgres) ShiftRoundStart(ctx context.Context, competitionID uuid.UUID, roundIndex int, delta time.Duration) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE rounds SET started_at = started_at + $1
		WHERE competition_id = $2 AND round_index = $3 AND started_at IS NOT NULL AND ended_at IS NULL`,
		delta, competitionID, roundIndex)
	if err != nil {
		return fmt.Errorf("failed to shift round start: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// persistedRanking is the durable subset of a final ranking. The
// averages are recomputable from round_results, so only identity and
// participation survive; list order carries the rank.
type persistedRanking struct {
	ParticipantID   uuid.UUID `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	RoundsCompleted int       `json:"rounds_completed"`
}

func trimRankings(rankings []models.FinalRanking) []persistedRanking {
	trimmed := make([]persistedRanking, 0, len(rankings))
	for _, r := range rankings {
		trimmed = append(trimmed, persistedRanking{
			ParticipantID:   r.ParticipantID,
			ParticipantName: r.ParticipantName,
			RoundsCompleted: r.RoundsCompleted,
		})
	}
	return trimmed
}

func (p *Postgres) CompleteCompetition(ctx context.Context, competitionID uuid.UUID, completedAt time.Time, rankings []models.FinalRanking) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin complete competition: %w", err)
	}
	defer tx.Rollback(ctx)

	trimmed := trimRankings(rankings)
	encoded, err := json.Marshal(trimmed)
	if err != nil {
		return fmt.Errorf("failed to encode final rankings: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE competitions
		SET status = $1, final_rankings = $2, completed_at = $3, updated_at = $3
		WHERE id = $4 AND status <> $1`,
		models.CompetitionStatusCompleted, encoded, completedAt, competitionID)
	if err != nil {
		return fmt.Errorf("failed to complete competition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	for i, r := range trimmed {
		_, err = tx.Exec(ctx, `
			INSERT INTO final_rankings (competition_id, participant_id, participant_name,
			                            rounds_completed, rank)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (competition_id, participant_id) DO NOTHING`,
			competitionID, r.ParticipantID, r.ParticipantName, r.RoundsCompleted, i+1)
		if err != nil {
			return fmt.Errorf("failed to insert final ranking: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit complete competition: %w", err)
	}
	return nil
}

func (p *Postgres) IssueOrganizerToken(ctx context.Context, token string, competitionID uuid.UUID, expiresAt time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO organizer_tokens (token, competition_id, used, expires_at)
		VALUES ($1, $2, FALSE, $3)`,
		token, competitionID, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to issue organizer token: %w", err)
	}
	return nil
}

func (p *Postgres) ConsumeOrganizerToken(ctx context.Context, token string, now time.Time) (uuid.UUID, error) {
	var competitionID uuid.UUID
	err := p.pool.QueryRow(ctx, `
		UPDATE organizer_tokens SET used = TRUE
		WHERE token = $1 AND used = FALSE AND expires_at > $2
		RETURNING competition_id`,
		token, now).Scan(&competitionID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either unknown, expired, or already burned. Tell them apart so
		// the caller can log a reuse attempt distinctly.
		var exists bool
		if lookupErr := p.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM organizer_tokens WHERE token = $1)`, token).Scan(&exists); lookupErr != nil {
			return uuid.Nil, fmt.Errorf("failed to look up organizer token: %w", lookupErr)
		}
		if !exists {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, ErrConflict
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to consume organizer token: %w", err)
	}
	return competitionID, nil
}
