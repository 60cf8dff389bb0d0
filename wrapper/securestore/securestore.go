// Package securestore wraps a rescache.Store to add SHA-256 key hashing
// (always enabled) and optional AES-256-GCM payload encryption. The
// Middleware's WithEncryption option encrypts payloads only and does not
// hash keys.
package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/scrypt"

	"github.com/sandrolain/rescache"
)

const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = 32
	nonceSize = 12
)

// Config holds the configuration for creating a secure Store.
type Config struct {
	// Store is the underlying Store implementation to wrap.
	Store rescache.Store

	// Passphrase is the secret used to encrypt/decrypt cached data.
	// If empty, only key hashing is performed (no encryption).
	Passphrase string
}

// store wraps an existing Store to add key hashing and optional payload
// encryption.
type store struct {
	store rescache.Store
	gcm   cipher.AEAD
}

// New creates a new Store that wraps config.Store. Keys are always
// hashed with SHA-256. If a passphrase is provided, stored values are
// encrypted with AES-256-GCM.
func New(config Config) (*store, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("securestore: store cannot be nil")
	}

	s := &store{store: config.Store}

	if config.Passphrase != "" {
		gcm, err := newGCM(config.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("securestore: failed to initialize encryption: %w", err)
		}
		s.gcm = gcm
	}

	return s, nil
}

func newGCM(passphrase string) (cipher.AEAD, error) {
	salt := sha256.Sum256([]byte("rescache-securestore-salt-v1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func (s *store) encrypt(data []byte) ([]byte, error) {
	if s.gcm == nil {
		return data, nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, data, nil), nil
}

func (s *store) decrypt(data []byte) ([]byte, error) {
	if s.gcm == nil {
		return data, nil
	}
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return s.gcm.Open(nil, nonce, ciphertext, nil)
}

// Get retrieves a stored value. The key is hashed with SHA-256 before
// lookup, and the retrieved data is decrypted if encryption is enabled.
func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := s.store.Get(ctx, hashKey(key))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	plaintext, err := s.decrypt(data)
	if err != nil {
		return nil, false, fmt.Errorf("securestore: failed to decrypt: %w", err)
	}
	return plaintext, true, nil
}

// Set stores a value under key. The key is hashed with SHA-256 before
// storage, and the value is encrypted if encryption is enabled.
func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	toStore, err := s.encrypt(value)
	if err != nil {
		return fmt.Errorf("securestore: failed to encrypt: %w", err)
	}
	return s.store.Set(ctx, hashKey(key), toStore, ttl)
}

// IsEncrypted returns true if this Store is configured with encryption.
func (s *store) IsEncrypted() bool {
	return s.gcm != nil
}

var _ rescache.Store = (*store)(nil)
