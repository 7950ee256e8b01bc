// Package secrets encrypts and decrypts credential payloads under
// per-transaction keys. AES-256-CBC with a random IV prepended to the
// ciphertext, everything base64 on the wire, matching blobs produced by
// earlier versions of the platform.
package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sitetrade/backend/internal/errs"
)

const keySize = 32 // AES-256

// ErrMalformedPayload means the ciphertext decrypted fine but the plaintext
// is not the expected JSON object.
var ErrMalformedPayload = fmt.Errorf("%w: malformed payload", errs.ErrDecryption)

// GenerateKey returns 32 cryptographically random bytes, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrEncryption, err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// ValidateKey reports whether k base64-decodes to exactly 32 bytes.
func ValidateKey(k string) bool {
	raw, err := base64.StdEncoding.DecodeString(k)
	return err == nil && len(raw) == keySize
}

// NormalizeKey converts historical key encodings to canonical base64.
// Transactions created under older code paths stored keys as 64-char hex
// strings or as 32-char strings used byte-for-byte as the key; both must
// keep decrypting. Rejected only if no interpretation yields 32 key bytes.
func NormalizeKey(k string) (string, error) {
	if raw, err := base64.StdEncoding.DecodeString(k); err == nil && len(raw) == keySize {
		return k, nil
	}
	if len(k) == 2*keySize {
		if raw, err := hex.DecodeString(k); err == nil && len(raw) == keySize {
			return base64.StdEncoding.EncodeToString(raw), nil
		}
	}
	if len(k) == keySize {
		return base64.StdEncoding.EncodeToString([]byte(k)), nil
	}
	return "", fmt.Errorf("%w: key is not 32 bytes under base64, hex or raw form", errs.ErrEncryption)
}

// Encrypt serializes fields to JSON and encrypts with AES-256-CBC under a
// fresh random IV. Returns base64(iv || ciphertext).
func Encrypt(fields map[string]any, key string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrEncryption, err)
	}
	return encryptWithIV(fields, key, iv)
}

// encryptWithIV is the deterministic seam; tests inject a fixed IV here.
func encryptWithIV(fields map[string]any, key string, iv []byte) (string, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return "", err
	}
	plain, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrEncryption, err)
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrEncryption, err)
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	out := make([]byte, 0, len(iv)+len(ct))
	out = append(out, iv...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt is the inverse of Encrypt: splits the fixed-length IV from the
// ciphertext, decrypts and parses the JSON payload.
func Decrypt(blob, key string) (map[string]any, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid key", errs.ErrDecryption)
	}
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: blob is not base64", errs.ErrDecryption)
	}
	if len(data) < aes.BlockSize || (len(data)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: truncated ciphertext", errs.ErrDecryption)
	}
	iv, ct := data[:aes.BlockSize], data[aes.BlockSize:]
	if len(ct) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", errs.ErrDecryption)
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecryption, err)
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecryption, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(plain, &fields); err != nil {
		return nil, ErrMalformedPayload
	}
	return fields, nil
}

func decodeKey(key string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != keySize {
		return nil, fmt.Errorf("%w: key must be base64 of 32 bytes", errs.ErrEncryption)
	}
	return raw, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(b))
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return b[:len(b)-n], nil
}
