package scoring

import (
	"errors"
	"testing"
	"time"
)

func TestCheckBounds(t *testing.T) {
	tests := []struct {
		name          string
		report        Report
		textLen       int
		serverElapsed time.Duration
		wantDrop      bool
	}{
		{
			name:          "valid report",
			report:        Report{CorrectChars: 20, TotalChars: 25, Cursor: 25, ElapsedMS: 10_000},
			textLen:       50,
			serverElapsed: 11 * time.Second,
		},
		{
			name:          "correct chars beyond text",
			report:        Report{CorrectChars: 1000, TotalChars: 1000, ElapsedMS: 10_000},
			textLen:       50,
			serverElapsed: 11 * time.Second,
			wantDrop:      true,
		},
		{
			name:          "negative cursor",
			report:        Report{Cursor: -1},
			textLen:       50,
			serverElapsed: time.Second,
			wantDrop:      true,
		},
		{
			name:          "correct exceeds total",
			report:        Report{CorrectChars: 30, TotalChars: 20, ElapsedMS: 5_000},
			textLen:       50,
			serverElapsed: 6 * time.Second,
			wantDrop:      true,
		},
		{
			name:          "clock running ahead of server",
			report:        Report{CorrectChars: 10, TotalChars: 10, ElapsedMS: 30_000},
			textLen:       50,
			serverElapsed: 10 * time.Second,
			wantDrop:      true,
		},
		{
			name:          "elapsed within slack",
			report:        Report{CorrectChars: 10, TotalChars: 10, ElapsedMS: 11_000},
			textLen:       50,
			serverElapsed: 10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckBounds(tt.report, tt.textLen, tt.serverElapsed)
			if tt.wantDrop && !errors.Is(err, ErrOutOfBounds) {
				t.Fatalf("expected ErrOutOfBounds, got %v", err)
			}
			if !tt.wantDrop && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestPlausibilityFlags(t *testing.T) {
	tests := []struct {
		name      string
		report    Report
		wantFlags int
	}{
		{
			name:   "honest report",
			report: Report{CorrectChars: 100, TotalChars: 110, ElapsedMS: 60_000, WPM: 20},
		},
		{
			name:      "above hard ceiling",
			report:    Report{CorrectChars: 1200, TotalChars: 1200, ElapsedMS: 60_000, WPM: 240},
			wantFlags: 1, // figures are self-consistent, only the ceiling trips
		},
		{
			name:      "burst faster than humanly possible",
			report:    Report{CorrectChars: 50, TotalChars: 50, ElapsedMS: 500, WPM: 120},
			wantFlags: 2, // burst plus tolerance (expected 1200 at 500ms)
		},
		{
			name:      "claimed wpm disagrees with own figures",
			report:    Report{CorrectChars: 50, TotalChars: 50, ElapsedMS: 60_000, WPM: 120},
			wantFlags: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := PlausibilityFlags(tt.report)
			if len(flags) != tt.wantFlags {
				t.Fatalf("got %d flags %v, want %d", len(flags), flags, tt.wantFlags)
			}
		})
	}
}
