// Package id generates URL-safe opaque identifiers.
//
// Identifiers are UUIDv4 bytes encoded as unpadded lowercase base32
// (RFC 4648): 26 characters, safe for URLs and for dotted routing keys,
// which reserve "." and "-" as structural separators.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a fresh 26-character identifier.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// Valid reports whether s looks like an identifier produced by NewID.
func Valid(s string) bool {
	if len(s) != 26 {
		return false
	}
	_, err := encoding.DecodeString(strings.ToUpper(s))
	return err == nil
}
