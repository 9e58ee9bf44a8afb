package engine

import "errors"

// Operation errors reported back to the requesting client. Anything not
// in this list is an internal fault and surfaces as a generic failure.
var (
	ErrCompetitionNotFound  = errors.New("competition not found")
	ErrCompetitionCompleted = errors.New("competition already completed")
	ErrUnauthorized         = errors.New("organizer privileges required")
	ErrInvalidRound         = errors.New("round index out of range")
	ErrRoundAlreadyStarted  = errors.New("round already started")
	ErrRoundInProgress      = errors.New("another round is still in progress")
	ErrRoundNotActive       = errors.New("no round in progress")
	ErrNoParticipants       = errors.New("cannot start a round with no participants")
	ErrUnknownParticipant   = errors.New("unknown participant")
	ErrInvalidToken         = errors.New("invalid organizer token")
	ErrTokenUsed            = errors.New("organizer token already used")
)
