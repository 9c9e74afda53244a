// Package crypto implements the payload cipher: AES-256-CBC with a random
// IV prefixed to each ciphertext and a key derived from a shared password.
// The protocol layer treats Seal/Open as opaque transforms — a cipher
// failure never perturbs sequence or acknowledgment bookkeeping.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Cipher seals and opens chat payloads. Both peers must be constructed
// from the same password; there is no key exchange.
type Cipher struct {
	key [sha256.Size]byte
}

// New derives an AES-256 key from the shared password (SHA-256 of the
// password bytes) and returns a ready Cipher.
func New(password string) *Cipher {
	return &Cipher{key: sha256.Sum256([]byte(password))}
}

// Seal encrypts plaintext and returns IV || ciphertext. The output grows by
// at most one AES block of padding plus the 16-byte IV.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// Open decrypts IV || ciphertext produced by Seal. It fails on truncated
// input, misaligned ciphertext, or invalid padding (a wrong password
// typically surfaces as a padding error).
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < aes.BlockSize {
		return nil, fmt.Errorf("sealed message too short: %d bytes", len(sealed))
	}
	iv, ciphertext := sealed[:aes.BlockSize], sealed[aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}

	block, err := aes.NewCipher(c.key[:])
	if err != nil {
		return nil, err
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	return unpad(plain, aes.BlockSize)
}

// pad applies PKCS#7 padding.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad removes and validates PKCS#7 padding.
func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
