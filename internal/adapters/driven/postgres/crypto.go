package postgres

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// blobVersion prefixes every sealed secret so the format can change later
	blobVersion = 0x01

	nonceSize = 12
	keySize   = 32

	// keyInfo binds derived keys to this use
	keyInfo = "ledgersync credential encryption v1"
)

var (
	ErrInvalidKeySize     = errors.New("encryption key must be 32 bytes")
	ErrEmptySecret        = errors.New("encryption secret must not be empty")
	ErrInvalidBlobSize    = errors.New("sealed secret is too small")
	ErrUnsupportedVersion = errors.New("unsupported sealed secret version")
	ErrDecryptionFailed   = errors.New("failed to open sealed secret")
)

// DeriveKey stretches an operator-supplied secret into an AES-256 key with HKDF-SHA256.
func DeriveKey(secret, salt string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// SecretSealer encrypts credential fields with AES-256-GCM.
// Sealed format: version(1) || nonce(12) || ciphertext.
// The field name is bound as additional data so blobs cannot be swapped between columns.
type SecretSealer struct {
	gcm cipher.AEAD
}

// NewSecretSealer creates a sealer from a 32-byte key.
func NewSecretSealer(key []byte) (*SecretSealer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &SecretSealer{gcm: gcm}, nil
}

// Seal encrypts plaintext for field. An empty plaintext seals to nil.
func (s *SecretSealer) Seal(field, plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	blob := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+s.gcm.Overhead())
	blob[0] = blobVersion
	copy(blob[1:], nonce)
	return s.gcm.Seal(blob, nonce, []byte(plaintext), []byte(field)), nil
}

// Open decrypts a blob sealed for field. A nil blob opens to "".
func (s *SecretSealer) Open(field string, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	if len(blob) < 1+nonceSize+s.gcm.Overhead() {
		return "", ErrInvalidBlobSize
	}
	if blob[0] != blobVersion {
		return "", fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, blob[0])
	}

	plaintext, err := s.gcm.Open(nil, blob[1:1+nonceSize], blob[1+nonceSize:], []byte(field))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
