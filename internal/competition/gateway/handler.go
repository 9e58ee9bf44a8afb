package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/neeru24/typing-comp/internal/competition/engine"
	"github.com/neeru24/typing-comp/internal/competition/scoring"
	"github.com/neeru24/typing-comp/internal/competition/session"
	"github.com/rs/zerolog/log"
)

// requestTimeout bounds the store work behind a single client frame.
const requestTimeout = 10 * time.Second

// clientFrame is the inbound message envelope.
type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// serverFrame is the direct (non-broadcast) reply envelope.
type serverFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type joinRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type organizerJoinRequest struct {
	Token string `json:"token"`
}

type roundRequest struct {
	Round int `json:"round"`
}

type progressRequest struct {
	CorrectChars int   `json:"correct_chars"`
	TotalChars   int   `json:"total_chars"`
	Cursor       int   `json:"cursor"`
	ElapsedMS    int64 `json:"elapsed_ms"`
	Errors       int   `json:"errors"`
	Backspaces   int   `json:"backspaces"`
	WPM          int   `json:"wpm"`
}

type joinReply struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	Reconnected   bool   `json:"reconnected"`

	CompetitionID   string `json:"competition_id"`
	CompetitionName string `json:"competition_name"`
	Status          string `json:"status"`
	RoundCount      int    `json:"round_count"`

	RoundActive    bool              `json:"round_active"`
	RoundIndex     int               `json:"round_index,omitempty"`
	RoundText      string            `json:"round_text,omitempty"`
	RoundDuration  int               `json:"round_duration,omitempty"`
	RoundStartedAt *time.Time        `json:"round_started_at,omitempty"`
	Snapshot       *session.Snapshot `json:"snapshot,omitempty"`
}

type organizerReply struct {
	CompetitionID   string `json:"competition_id"`
	CompetitionName string `json:"competition_name"`
	Code            string `json:"code"`
	Status          string `json:"status"`
	CurrentRound    int    `json:"current_round"`
	RoundCount      int    `json:"round_count"`
	Participants    int    `json:"participants"`
}

type errorReply struct {
	Message string `json:"message"`
}

// Handler routes websocket frames into the engine.
type Handler struct {
	cm     *ConnectionManager
	engine *engine.Engine
}

func NewHandler(cm *ConnectionManager, eng *engine.Engine) *Handler {
	h := &Handler{cm: cm, engine: eng}
	cm.OnMessage = h.dispatch
	cm.OnDisconnect = h.disconnected
	return h
}

// ServeWS upgrades the connection. Everything else happens over frames.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cm.Upgrade(w, r); err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.ServeWS)
}

func (h *Handler) dispatch(c *Connection, data []byte) {
	var frame clientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.SendJSON(serverFrame{Type: "error", Data: errorReply{Message: "malformed frame"}})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch frame.Type {
	case "join":
		h.handleJoin(ctx, c, frame.Data, false)
	case "rejoin":
		h.handleJoin(ctx, c, frame.Data, true)
	case "organizerJoin":
		h.handleOrganizerJoin(ctx, c, frame.Data)
	case "startRound":
		h.handleRound(ctx, c, frame.Data, h.engine.StartRound)
	case "pauseRound":
		h.handleRound(ctx, c, frame.Data, h.engine.PauseRound)
	case "resumeRound":
		h.handleRound(ctx, c, frame.Data, h.engine.ResumeRound)
	case "progress":
		h.handleProgress(ctx, c, frame.Data)
	default:
		c.SendJSON(serverFrame{Type: "error", Data: errorReply{Message: "unknown message type"}})
	}
}

func (h *Handler) handleJoin(ctx context.Context, c *Connection, data []byte, rejoin bool) {
	var req joinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Code == "" || req.Name == "" {
		c.SendJSON(serverFrame{Type: "error", Data: errorReply{Message: "code and name are required"}})
		return
	}

	var (
		res *engine.JoinResult
		err error
	)
	if rejoin {
		res, err = h.engine.Rejoin(ctx, req.Code, req.Name, c.ID)
	} else {
		res, err = h.engine.Join(ctx, req.Code, req.Name, c.ID)
	}
	if err != nil {
		c.SendJSON(serverFrame{Type: "error", Data: errorReply{Message: clientMessage(err)}})
		return
	}

	c.Bind(res.Competition.ID, false)

	reply := joinReply{
		ParticipantID:   res.Participant.ParticipantID.String(),
		Name:            res.Participant.Name,
		Reconnected:     res.Reconnected,
		CompetitionID:   res.Competition.ID.String(),
		CompetitionName: res.Competition.Name,
		Status:          string(res.Competition.Status),
		RoundCount:      len(res.Competition.Rounds),
		RoundActive:     res.RoundActive,
	}
	if res.RoundActive {
		reply.RoundIndex = res.RoundIndex
		reply.RoundText = res.RoundText
		reply.RoundDuration = res.RoundDuration
		startedAt := res.RoundStartedAt
		reply.RoundStartedAt = &startedAt
		reply.Snapshot = res.Snapshot
	}
	c.SendJSON(serverFrame{Type: "joinSuccess", Data: reply})
}

func (h *Handler) handleOrganizerJoin(ctx context.Context, c *Connection, data []byte) {
	var req organizerJoinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Token == "" {
		c.SendJSON(serverFrame{Type: "error", Data: errorReply{Message: "token is required"}})
		return
	}

	comp, err := h.engine.OrganizerAttach(ctx, req.Token)
	if err != nil {
		c.SendJSON(serverFrame{Type: "error", Data: errorReply{Message: clientMessage(err)}})
		return
	}

	c.Bind(comp.ID, true)
	c.SendJSON(serverFrame{Type: "organizerSuccess", Data: organizerReply{
		CompetitionID:   comp.ID.String(),
		CompetitionName: comp.Name,
		Code:            comp.Code,
		Status:          string(comp.Status),
		CurrentRound:    comp.CurrentRound,
		RoundCount:      len(comp.Rounds),
		Participants:    len(comp.Participants),
	}})
}

type roundOp func(ctx context.Context, competitionID uuid.UUID, roundIndex int, organizer bool) error

func (h *Handler) handleRound(ctx context.Context, c *Connection, data []byte, op roundOp) {
	competitionID, bound, organizer := c.Binding()
	if !bound {
		c.SendJSON(serverFrame{Type: "error", Data: errorReply{Message: "join a competition first"}})
		return
	}

	var req roundRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.SendJSON(serverFrame{Type: "error", Data: errorReply{Message: "round index is required"}})
		return
	}

	if err := op(ctx, competitionID, req.Round, organizer); err != nil {
		c.SendJSON(serverFrame{Type: "error", Data: errorReply{Message: clientMessage(err)}})
	}
}

func (h *Handler) handleProgress(ctx context.Context, c *Connection, data []byte) {
	competitionID, bound, _ := c.Binding()
	if !bound {
		return
	}

	var req progressRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	h.engine.Progress(ctx, competitionID, c.ID, scoring.Report{
		CorrectChars: req.CorrectChars,
		TotalChars:   req.TotalChars,
		Cursor:       req.Cursor,
		ElapsedMS:    req.ElapsedMS,
		Errors:       req.Errors,
		Backspaces:   req.Backspaces,
		WPM:          req.WPM,
	})
}

func (h *Handler) disconnected(c *Connection) {
	competitionID, bound, organizer := c.Binding()
	if !bound || organizer {
		return
	}
	h.engine.Disconnect(competitionID, c.ID)
}

// clientMessage maps expected operation errors to client-safe text.
// Unexpected errors are logged and reported generically.
func clientMessage(err error) string {
	for _, known := range []error{
		engine.ErrCompetitionNotFound,
		engine.ErrCompetitionCompleted,
		engine.ErrUnauthorized,
		engine.ErrInvalidRound,
		engine.ErrRoundAlreadyStarted,
		engine.ErrRoundInProgress,
		engine.ErrRoundNotActive,
		engine.ErrNoParticipants,
		engine.ErrUnknownParticipant,
		engine.ErrInvalidToken,
		engine.ErrTokenUsed,
		session.ErrSessionFull,
		session.ErrAlreadyPaused,
		session.ErrNotPaused,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	log.Error().Err(err).Msg("internal error on client request")
	return "internal error"
}
