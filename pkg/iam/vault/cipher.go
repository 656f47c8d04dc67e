package vault

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher seals and opens secret values with XChaCha20-Poly1305. The nonce
// is random per encryption and stored as the ciphertext prefix.
type Cipher struct {
	key []byte
}

// NewCipher validates and wraps the 32-byte process-wide key.
func NewCipher(key string) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrBadKey().WithDetail("length", len(key))
	}
	return &Cipher{key: []byte(key)}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts nonce||ciphertext produced by Seal.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrDecryptFailed()
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed()
	}
	return plaintext, nil
}
