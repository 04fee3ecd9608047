package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const sealVersion = "v1"

// Sealer encrypts secrets with AES-256-GCM. The owner id is bound as
// additional data so a sealed value cannot be moved to another owner row.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer accepts a base64 encoded or raw 32 byte master key.
func NewSealer(masterKey string) (*Sealer, error) {
	keyBytes := []byte(masterKey)
	if decoded, err := base64.StdEncoding.DecodeString(masterKey); err == nil {
		keyBytes = decoded
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("invalid master key length: must be 32 bytes for AES-256, got %d", len(keyBytes))
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal returns "v1:" followed by base64(nonce || ciphertext).
func (s *Sealer) Seal(ownerID, plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("plaintext cannot be empty")
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(ownerID))
	return sealVersion + ":" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal for the same owner id.
func (s *Sealer) Open(ownerID, sealed string) (string, error) {
	version, encoded, ok := strings.Cut(sealed, ":")
	if !ok || version != sealVersion {
		return "", errors.New("unsupported sealed secret format")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	nonceSize := s.aead.NonceSize()
	if len(decoded) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, body := decoded[:nonceSize], decoded[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, body, []byte(ownerID))
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// GenerateMasterKey returns a fresh base64 encoded 32 byte key.
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
