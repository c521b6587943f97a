// Package util holds small helpers shared across the engine.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 128-bit hex id, optionally prefixed ("proj_…").
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
