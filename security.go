package rescache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = 32
	nonceSize = 12
)

// hashKey converts an opaque cache key into its SHA-256 hash
// representation, hex-encoded.
func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// newGCM derives an AES-256-GCM cipher from passphrase via scrypt.
func newGCM(passphrase string) (cipher.AEAD, error) {
	salt := sha256.Sum256([]byte("rescache-encryption-salt-v1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("rescache: failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("rescache: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("rescache: failed to create GCM: %w", err)
	}

	return gcm, nil
}

// encryptPayload encrypts data using AES-256-GCM, prepending the nonce.
func encryptPayload(gcm cipher.AEAD, data []byte) ([]byte, error) {
	if gcm == nil {
		return data, nil
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rescache: failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, data, nil)
	return ciphertext, nil
}

// decryptPayload decrypts data using AES-256-GCM, expecting a prepended nonce.
func decryptPayload(gcm cipher.AEAD, data []byte) ([]byte, error) {
	if gcm == nil {
		return data, nil
	}

	if len(data) < nonceSize {
		return nil, fmt.Errorf("rescache: ciphertext too short")
	}

	nonce := data[:nonceSize]
	ciphertext := data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("rescache: failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// randomKeyPrefix generates an opaque, globally-unique, collision-
// resistant id suitable for VaryKeyPrefix/BodyKeyPrefix: 128 bits of
// crypto/rand, hex-encoded.
func randomKeyPrefix() (string, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("rescache: failed to generate key prefix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
