// Package cache provides answer caching so repeated research queries skip
// the search and foundation-model round trip.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// AnswerKey generates a cache key from a query and an options fingerprint.
// Queries differing only in retrieval options must not share an entry.
func AnswerKey(query, fingerprint string) string {
	hash := sha256.Sum256([]byte(query + "\x00" + fingerprint))
	return "docent:v1:" + hex.EncodeToString(hash[:])
}
