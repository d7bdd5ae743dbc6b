// Package kms derives and rotates the data-encryption key used to seal
// CredentialState before it reaches a StateStore.
//
// Key sourcing is grounded on plaenen-eventstore/pkg/security/credentials/provider.go's
// SecretProvider, which resolves a URL-scheme-selected gocloud.dev/secrets
// Keeper (awskms://, gcpkms://, azurekeyvault://, hashivault://, file://,
// base64key://) behind a cached, auto-refreshing accessor. The AES-GCM
// sealing itself is grounded on pkg/auth/security.go's
// EncryptSensitiveData/DecryptSensitiveData, with the key derivation
// upgraded from that file's placeholder SHA-256/XOR mixing to a real
// golang.org/x/crypto/pbkdf2 derivation — DeriveKey's own comment there says
// as much ("In a production environment, you would use crypto/pbkdf2 or
// argon2").
package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"gocloud.dev/secrets"
	_ "gocloud.dev/secrets/localsecrets"
)

const (
	pbkdf2Iterations = 100_000
	keyLength        = 32 // AES-256
)

// KeySource resolves the current master key material. Concrete sources:
// inline (a fixed passphrase), env (read from an environment variable at
// open time), or a gocloud.dev/secrets Keeper URL (KMS-backed), matching
// the configured master_key_source enumeration.
type KeySource struct {
	keeper *secrets.Keeper
	salt   []byte

	mu        sync.RWMutex
	cachedKey []byte
}

// Open resolves keeperURL via gocloud.dev/secrets.OpenKeeper, matching
// plaenen-eventstore's URL-scheme dispatch. This package links only the
// localsecrets driver, so "base64key://" is the one scheme it registers;
// other schemes (e.g. "awskms://...", "gcpkms://...") open only when the
// program also imports the matching gocloud.dev/secrets driver package.
func Open(ctx context.Context, keeperURL string, salt []byte) (*KeySource, error) {
	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return nil, fmt.Errorf("kms: open keeper %q: %w", keeperURL, err)
	}
	return &KeySource{keeper: keeper, salt: salt}, nil
}

// FromPassphrase builds a KeySource over a fixed passphrase (the "inline"
// or "env var" shapes of master_key_source collapse to this once the
// caller has resolved the literal value).
func FromPassphrase(passphrase string, salt []byte) *KeySource {
	return &KeySource{cachedKey: deriveKey([]byte(passphrase), salt)}
}

// Key returns the 32-byte AES-256 key currently in effect, decrypting the
// keeper-backed secret (if any) and deriving it via PBKDF2-HMAC-SHA256.
func (s *KeySource) Key(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	if s.cachedKey != nil {
		defer s.mu.RUnlock()
		return s.cachedKey, nil
	}
	s.mu.RUnlock()

	if s.keeper == nil {
		return nil, fmt.Errorf("kms: no key source configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cachedKey != nil {
		return s.cachedKey, nil
	}

	secret, err := s.keeper.Decrypt(ctx, []byte(""))
	if err != nil {
		return nil, fmt.Errorf("kms: resolve master key: %w", err)
	}
	s.cachedKey = deriveKey(secret, s.salt)
	return s.cachedKey, nil
}

// Rotate replaces the cached key, forcing the next Key call to re-derive.
// A passphrase-backed source has nothing to re-derive from, so its key is
// left in place. Records sealed under a replaced key are not re-encrypted
// by this package or by the manager; unsealing them under the new key
// fails.
func (s *KeySource) Rotate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keeper == nil {
		return
	}
	s.cachedKey = nil
}

// Close releases the underlying keeper, if any.
func (s *KeySource) Close() error {
	if s.keeper == nil {
		return nil
	}
	return s.keeper.Close()
}

// Cipher binds a KeySource to the Seal/Unseal operations, giving the
// manager a single capability that resolves the active key and applies it,
// without the manager needing to know this package derives keys via PBKDF2
// or fetches them from a gocloud.dev/secrets Keeper. Satisfies the
// credential.Sealer shape by structural typing (pkg/credential does not
// import this package, to keep the dependency one-directional).
type Cipher struct {
	source *KeySource
}

// NewCipher wraps source as a Cipher.
func NewCipher(source *KeySource) *Cipher {
	return &Cipher{source: source}
}

func (c *Cipher) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	key, err := c.source.Key(ctx)
	if err != nil {
		return nil, err
	}
	return Seal(key, plaintext)
}

func (c *Cipher) Unseal(ctx context.Context, sealed []byte) ([]byte, error) {
	key, err := c.source.Key(ctx)
	if err != nil {
		return nil, err
	}
	return Unseal(key, sealed)
}

func deriveKey(secret, salt []byte) []byte {
	if len(salt) == 0 {
		salt = defaultSalt(secret)
	}
	return pbkdf2.Key(secret, salt, pbkdf2Iterations, keyLength, sha256.New)
}

// defaultSalt derives a stable per-secret salt when the caller supplies
// none, so two KeySources over the same secret agree without needing to
// exchange an explicit salt out of band.
func defaultSalt(secret []byte) []byte {
	sum := sha256.Sum256(append([]byte("credential-kit/kms/salt:"), secret...))
	return sum[:]
}

// Seal encrypts plaintext with AES-256-GCM under key, returning
// nonce||ciphertext, matching pkg/auth/security.go's EncryptSensitiveData
// layout.
func Seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("kms: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Unseal decrypts a nonce||ciphertext blob produced by Seal.
func Unseal(key, sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, fmt.Errorf("kms: sealed data is empty")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("kms: sealed data too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt: %w", err)
	}
	return plaintext, nil
}
