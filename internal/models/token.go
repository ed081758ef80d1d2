package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const TokenPrefix = "T-"

// Token is the queue ticket handed to a patient, formatted as T-<n>.
type Token string

type TokenStatus string

const (
	TokenCreated TokenStatus = "created"
	TokenQueued  TokenStatus = "queued"
	TokenDone    TokenStatus = "done"
)

var ErrInvalidToken = errors.New("invalid token")

func FormatToken(n int64) Token {
	return Token(TokenPrefix + strconv.FormatInt(n, 10))
}

func ParseToken(raw string) (Token, error) {
	raw = strings.TrimSpace(raw)
	if _, err := tokenNumber(raw); err != nil {
		return "", err
	}
	return Token(raw), nil
}

// Number returns the numeric suffix of the token.
func (t Token) Number() (int64, bool) {
	n, err := tokenNumber(string(t))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (t Token) String() string {
	return string(t)
}

func tokenNumber(raw string) (int64, error) {
	if !strings.HasPrefix(raw, TokenPrefix) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidToken, raw)
	}
	digits := strings.TrimPrefix(raw, TokenPrefix)
	if digits == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidToken, raw)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidToken, raw)
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidToken, raw)
	}
	return n, nil
}
