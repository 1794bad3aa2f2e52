package security

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Sealer encrypts small secrets (provider credentials, webhook secrets) for storage.
// Output is base64url(nonce || ciphertext) using XChaCha20-Poly1305.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates an XChaCha20-Poly1305 sealer. The key must be 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("sealer key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerFromBase64 accepts standard or URL-safe base64, padded or not.
func NewSealerFromBase64(encoded string) (*Sealer, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.New("sealer key is required")
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(encoded); err == nil {
			return NewSealer(key)
		}
	}
	return nil, errors.New("sealer key is not valid base64")
}

// Seal encrypts plaintext and returns it base64 encoded with the nonce prefixed.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// SealString is Seal for string secrets. The empty string seals to the empty string.
func (s *Sealer) SealString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return s.Seal([]byte(plaintext))
}

// OpenString is Open for string payloads.
func (s *Sealer) OpenString(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	b, err := s.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SealMap serializes a key/value credential set and seals it.
func (s *Sealer) SealMap(values map[string]string) (string, error) {
	payload, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return s.Seal(payload)
}

// OpenMap decrypts a sealed JSON object of strings.
func (s *Sealer) OpenMap(sealed string) (map[string]string, error) {
	payload, err := s.Open(sealed)
	if err != nil {
		return nil, err
	}
	values := map[string]string{}
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return values, nil
}
