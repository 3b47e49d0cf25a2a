// Package store holds helpers shared by the invoice store implementations.
package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ReferenceAttempts bounds how many fresh references Create tries before
// giving up on a unique-reference collision.
const ReferenceAttempts = 3

// NewReference returns a 16 character hex reference from 8 random bytes.
func NewReference() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("store: generate reference: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
