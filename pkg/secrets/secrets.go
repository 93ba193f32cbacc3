// Package secrets encrypts tenant-scoped credentials at rest.
//
// Every tenant gets its own AES-256-GCM key derived with HKDF-SHA256 from the
// application master key and the tenant identifier, so a ciphertext copied
// between tenants fails to decrypt.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the required master key length (AES-256).
const KeySize = 32

const derivationInfo = "lexbilling-tenant-credentials-v1"

var (
	ErrInvalidMasterKey  = errors.New("invalid master key: must be 32 bytes")
	ErrEncryptionFailed  = errors.New("encryption failed")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
)

// Box seals and opens tenant secrets with keys derived from one master key.
type Box struct {
	master []byte
}

// NewBox validates the master key and returns a Box.
func NewBox(masterKey []byte) (*Box, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidMasterKey
	}
	key := make([]byte, KeySize)
	copy(key, masterKey)
	return &Box{master: key}, nil
}

// NewBoxFromBase64 decodes a standard base64 master key, the form it takes in
// the BILLING_ENCRYPTION_KEY variable.
func NewBoxFromBase64(encoded string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Join(ErrInvalidMasterKey, err)
	}
	return NewBox(key)
}

// Seal encrypts plaintext for the tenant and returns base64(nonce|ciphertext|tag).
func (b *Box) Seal(tenantID uuid.UUID, plaintext string) (string, error) {
	aead, err := b.aead(tenantID)
	if err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), tenantID[:])
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (b *Box) Open(tenantID uuid.UUID, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.Join(ErrInvalidCiphertext, err)
	}

	aead, err := b.aead(tenantID)
	if err != nil {
		return "", errors.Join(ErrDecryptionFailed, err)
	}

	if len(raw) < aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, body := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, body, tenantID[:])
	if err != nil {
		return "", errors.Join(ErrDecryptionFailed, err)
	}
	return string(plain), nil
}

func (b *Box) aead(tenantID uuid.UUID) (cipher.AEAD, error) {
	key := make([]byte, KeySize)
	defer clear(key)

	r := hkdf.New(sha256.New, b.master, tenantID[:], []byte(derivationInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// GenerateKey returns a random master key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
