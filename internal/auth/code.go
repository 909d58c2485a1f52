package auth

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	minCodeLen = 8
	maxCodeLen = 64
)

// CodeGenerator produces opaque login codes.
type CodeGenerator func() (string, error)

// RandomCode returns 32 lowercase hex characters (122 random bits) taken from a v4 UUID.
// The result is a valid Telegram deep-link start parameter.
func RandomCode() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("auth: generate code: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// plausibleCode rejects payloads that could never have been issued, so they
// are answered with the greeting without a store lookup.
func plausibleCode(code string) bool {
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return false
	}
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
