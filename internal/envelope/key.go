package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Key is a symmetric AES-GCM key used for the Sealed and Chunked variants.
type Key struct {
	aead cipher.AEAD
}

// NewKey imports raw key material (16, 24 or 32 bytes).
func NewKey(raw []byte) (*Key, error) {
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("could not create new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("could not create GCM: %w", err)
	}
	return &Key{aead: gcm}, nil
}

func (k *Key) seal(plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, k.aead.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("could not generate nonce: %w", err)
	}
	return nonce, k.aead.Seal(nil, nonce, plaintext, aad), nil
}

func (k *Key) open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != k.aead.NonceSize() {
		return nil, fmt.Errorf("nonce length %d, want %d", len(nonce), k.aead.NonceSize())
	}
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("could not decrypt ciphertext: %w", err)
	}
	return plaintext, nil
}

// sealPacked returns nonce||ciphertext.
func (k *Key) sealPacked(plaintext, aad []byte) ([]byte, error) {
	nonce, ct, err := k.seal(plaintext, aad)
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

func (k *Key) openPacked(packed, aad []byte) ([]byte, error) {
	nonceSize := k.aead.NonceSize()
	if len(packed) < nonceSize {
		return nil, fmt.Errorf("encrypted data too short")
	}
	return k.open(packed[:nonceSize], packed[nonceSize:], aad)
}
