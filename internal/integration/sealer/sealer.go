package sealer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/smallbiznis/mordomozap/internal/config"
	"github.com/smallbiznis/mordomozap/internal/integration/domain"
)

const sealedPrefix = "v1:"

type aesSealer struct {
	key []byte
}

// New derives an AES-256 key from the configured secret. Without a secret,
// tokens are stored as given.
func New(cfg config.Config) domain.Sealer {
	return NewWithSecret(cfg.Integration.TokenSecret)
}

func NewWithSecret(secret string) domain.Sealer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &aesSealer{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &aesSealer{key: sum[:]}
}

func (s *aesSealer) Seal(token string) (string, error) {
	if token == "" || len(s.key) == 0 {
		return token, nil
	}
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(token), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open returns the plain token. Values without the sealed prefix were stored
// before a secret was configured and are returned unchanged.
func (s *aesSealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if len(s.key) == 0 {
		return "", domain.ErrSealKeyMissing
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", domain.ErrSealedTokenInvalid
	}
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", domain.ErrSealedTokenInvalid
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", domain.ErrSealedTokenInvalid
	}
	return string(plain), nil
}

func (s *aesSealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
