// Package auth generates the organizer credentials: the one-time
// organizer token handed out at creation time and the short join code
// participants type in. Consumption and storage live in the store.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// TokenTTL is how long an unused organizer token stays valid.
const TokenTTL = 24 * time.Hour

// codeAlphabet deliberately drops 0/O and 1/I so codes survive being
// read out loud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the join code length shown to participants.
const CodeLength = 5

// NewToken returns a 64-character hex organizer token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewCode returns a random join code.
func NewCode() (string, error) {
	out := make([]byte, CodeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		out[i] = codeAlphabet[n.Int64()]
	}
	return string(out), nil
}
