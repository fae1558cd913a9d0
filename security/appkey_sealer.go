package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-subsync/core"
)

type Option func(*AppKeySealer)

// AppKeySealer encrypts shared secrets at rest with an application key so
// configuration files never hold verification secrets in clear text.
type AppKeySealer struct {
	key     []byte
	keyID   string
	version int
}

func WithKeyID(id string) Option {
	return func(sealer *AppKeySealer) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			sealer.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(sealer *AppKeySealer) {
		if version > 0 {
			sealer.version = version
		}
	}
}

func NewAppKeySealer(keyMaterial []byte, opts ...Option) (*AppKeySealer, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	sealer := &AppKeySealer{
		key:     normalizeKey(key),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(sealer)
	}
	return sealer, nil
}

func NewAppKeySealerFromString(key string, opts ...Option) (*AppKeySealer, error) {
	return NewAppKeySealer([]byte(key), opts...)
}

func (s *AppKeySealer) Seal(_ context.Context, plaintext []byte) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("security: sealer is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	return encodeEnvelope(envelope{
		KeyID:      s.keyID,
		Version:    s.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	})
}

func (s *AppKeySealer) Open(_ context.Context, sealed []byte) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("security: sealer is nil")
	}
	parsed, err := decodeEnvelope(sealed)
	if err != nil {
		return nil, err
	}
	if parsed.Algorithm != "" && parsed.Algorithm != envelopeAlgorithm {
		return nil, fmt.Errorf("security: unsupported envelope algorithm %q", parsed.Algorithm)
	}
	if parsed.KeyID != "" && parsed.KeyID != s.keyID {
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", parsed.KeyID, s.keyID)
	}
	if parsed.Version > 0 && parsed.Version != s.version {
		return nil, fmt.Errorf("security: key version mismatch: got %d want %d", parsed.Version, s.version)
	}
	nonce, err := decodeEnvelopeField("nonce", parsed.Nonce)
	if err != nil {
		return nil, err
	}
	payload, err := decodeEnvelopeField("ciphertext", parsed.Ciphertext)
	if err != nil {
		return nil, err
	}
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (s *AppKeySealer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.keyID
}

func (s *AppKeySealer) Version() int {
	if s == nil {
		return 0
	}
	return s.version
}

func (s *AppKeySealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

// SecretOpener decrypts sealed secret values.
type SecretOpener interface {
	Open(ctx context.Context, sealed []byte) ([]byte, error)
}

// OpenSecretSet returns set with every sealed value decrypted. A sealed value
// without an opener is an error; plain values pass through.
func OpenSecretSet(ctx context.Context, set core.SecretSet, opener SecretOpener) (core.SecretSet, error) {
	secrets := set.Secrets()
	for i, secret := range secrets {
		if !IsSealed(secret.Value) {
			continue
		}
		if opener == nil {
			return core.SecretSet{}, fmt.Errorf("security: secret %q is sealed but no opener is configured", secretLabel(secret, i))
		}
		plaintext, err := opener.Open(ctx, secret.Value)
		if err != nil {
			return core.SecretSet{}, fmt.Errorf("security: open secret %q: %w", secretLabel(secret, i), err)
		}
		secrets[i].Value = plaintext
	}
	return core.NewSecretSet(secrets...), nil
}

// SecretsFromConfig builds a rotating secret store seeded with the configured
// secrets, opening sealed values with opener.
func SecretsFromConfig(ctx context.Context, cfg core.Config, opener SecretOpener) (*RotatingSecrets, error) {
	set, err := cfg.SecretSet()
	if err != nil {
		return nil, err
	}
	opened, err := OpenSecretSet(ctx, set, opener)
	if err != nil {
		return nil, err
	}
	return NewRotatingSecrets(opened), nil
}

func secretLabel(secret core.Secret, index int) string {
	if secret.Version != "" {
		return secret.Version
	}
	return fmt.Sprintf("#%d", index)
}

var _ SecretOpener = (*AppKeySealer)(nil)
