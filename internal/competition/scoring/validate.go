package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Physical plausibility bounds for progress reports. Sustained 200 wpm
// is beyond competitive human typing; anything above is flagged.
const (
	MaxPlausibleWPM = 200

	// WPMTolerance is the allowed gap between the wpm a client claims
	// and the wpm its own character/elapsed figures imply.
	WPMTolerance = 40

	// ClockSlack is how far a reported elapsed time may exceed the
	// server's own measurement before the report is treated as clock
	// manipulation and dropped.
	ClockSlack = 2 * time.Second
)

// ErrOutOfBounds marks a progress report whose fields are physically
// impossible for the round. Such reports are dropped without reply.
var ErrOutOfBounds = errors.New("progress report out of bounds")

// Report is an inbound progress message after JSON decoding. WPM is the
// client's own claim and is used only for plausibility checks; the
// server never stores it.
type Report struct {
	CorrectChars int
	TotalChars   int
	Cursor       int
	ElapsedMS    int64
	Errors       int
	Backspaces   int
	WPM          int
}

// CheckBounds validates a report against the round text and the
// server's own elapsed measurement. A non-nil error means the message
// must be silently discarded: no state mutation, no broadcast.
func CheckBounds(r Report, textLen int, serverElapsed time.Duration) error {
	if r.CorrectChars < 0 || r.TotalChars < 0 || r.Cursor < 0 || r.Errors < 0 || r.Backspaces < 0 || r.ElapsedMS < 0 {
		return fmt.Errorf("%w: negative field", ErrOutOfBounds)
	}
	if r.CorrectChars > textLen || r.TotalChars > textLen || r.Cursor > textLen {
		return fmt.Errorf("%w: exceeds text length %d", ErrOutOfBounds, textLen)
	}
	if r.CorrectChars > r.TotalChars {
		return fmt.Errorf("%w: correct %d > total %d", ErrOutOfBounds, r.CorrectChars, r.TotalChars)
	}
	if time.Duration(r.ElapsedMS)*time.Millisecond > serverElapsed+ClockSlack {
		return fmt.Errorf("%w: reported elapsed %dms ahead of server clock", ErrOutOfBounds, r.ElapsedMS)
	}
	return nil
}

// PlausibilityFlags inspects a bounds-valid report for superhuman
// claims. Flags do not block by default; the engine's policy decides
// whether to reject or only log them.
func PlausibilityFlags(r Report) []string {
	var flags []string
	if r.WPM > MaxPlausibleWPM {
		flags = append(flags, fmt.Sprintf("wpm %d exceeds ceiling %d", r.WPM, MaxPlausibleWPM))
	}
	if r.CorrectChars > 10 && r.ElapsedMS < 1000 {
		flags = append(flags, fmt.Sprintf("%d chars in %dms", r.CorrectChars, r.ElapsedMS))
	}
	if r.ElapsedMS > 0 {
		expected := WPM(r.CorrectChars, time.Duration(r.ElapsedMS)*time.Millisecond)
		if math.Abs(float64(r.WPM-expected)) > WPMTolerance {
			flags = append(flags, fmt.Sprintf("claimed wpm %d, expected %d", r.WPM, expected))
		}
	}
	return flags
}
