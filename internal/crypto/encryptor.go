package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log"
)

// EncryptedField is one confidential value encrypted under the symmetric
// key. The IV is not secret but must travel with the ciphertext and must
// never repeat for a given key.
type EncryptedField struct {
	CiphertextHex string
	IVHex         string
}

// Encryptor encrypts confidential payment instrument fields before they are
// persisted. There is intentionally no decrypt path in the payment flow:
// stored card data is a write-only compliance artifact.
type Encryptor struct {
	key     []byte
	verbose bool
}

// NewEncryptor creates an encryptor using the given 32-byte AES key.
func NewEncryptor(key []byte, verbose bool) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: expected 32 bytes, got %d", len(key))
	}

	return &Encryptor{
		key:     key,
		verbose: verbose,
	}, nil
}

// Encrypt encrypts plaintext with AES-256-CBC under a fresh random 16-byte
// IV and returns hex-encoded ciphertext and IV. The plaintext is never
// logged.
func (e *Encryptor) Encrypt(plaintext string) (*EncryptedField, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %v", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %v", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	if e.verbose {
		log.Printf("[CRYPTO] Encrypted confidential field (%d bytes ciphertext)", len(ciphertext))
	}

	return &EncryptedField{
		CiphertextHex: hex.EncodeToString(ciphertext),
		IVHex:         hex.EncodeToString(iv),
	}, nil
}

// pkcs7Pad pads data to a multiple of blockSize.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}
