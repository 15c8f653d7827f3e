package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateAPIKey returns a fresh, high-entropy raw module API key
// (§6's X-API-Key). Only its SHA-256 hash is ever persisted.
func GenerateAPIKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return "sjk_" + hex.EncodeToString(buf)
}
