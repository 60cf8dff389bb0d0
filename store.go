package rescache

import (
	"context"
	"crypto/cipher"
	"log/slog"
	"time"
)

// Store is the external (key → bytes, ttl) cache this middleware wraps.
// It is the only collaborator the core treats as out of scope: a byte
// store, not an HTTP abstraction. Concurrency: Store is a monotonic
// key/value service — concurrent Sets to the same key race to
// last-writer-wins, Get may return any consistent value seen so far, and
// no transactional guarantees are assumed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// getEntry fetches and decodes an entry. Any Store error, any decryption
// failure, or any codec failure, is reported as a plain miss — it is
// logged but never propagated as a request failure, per the §7 error
// taxonomy (StoreTransientError / DeserializationError both degrade to
// miss). gcm is nil unless WithEncryption was configured.
func getEntry(ctx context.Context, s Store, key string, gcm cipher.AEAD, log *slog.Logger) any {
	data, ok, err := s.Get(ctx, key)
	if err != nil {
		log.Warn("store get failed, treating as miss", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	plain, err := decryptPayload(gcm, data)
	if err != nil {
		log.Warn("store entry failed to decrypt, treating as miss", "key", key, "error", err)
		return nil
	}
	entry := Deserialize(plain)
	if entry == nil && plain != nil {
		log.Warn("store entry failed to deserialize, treating as miss", "key", key)
	}
	return entry
}

// setEntry encodes and stores an entry. A write failure is logged and
// swallowed (StoreWriteError): the user response was already served.
func setEntry(ctx context.Context, s Store, key string, entry any, ttl time.Duration, gcm cipher.AEAD, log *slog.Logger) {
	data, err := Serialize(entry)
	if err != nil {
		log.Warn("failed to serialize cache entry, skipping store", "key", key, "error", err)
		return
	}
	cipherText, err := encryptPayload(gcm, data)
	if err != nil {
		log.Warn("failed to encrypt cache entry, skipping store", "key", key, "error", err)
		return
	}
	if err := s.Set(ctx, key, cipherText, ttl); err != nil {
		log.Warn("store set failed", "key", key, "error", err)
	}
}
