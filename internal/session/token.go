package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// idBytes is the amount of entropy behind every session id (256 bits).
const idBytes = 32

// IDLength is the length of an encoded session id (unpadded base64).
const IDLength = (4*idBytes + 2) / 3

// NewID generates an opaque, URL-safe session id from crypto/rand.
// Ids are not checked for collisions before use.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidID reports whether id has the shape of an id produced by NewID.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
