package secrets

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/sitetrade/backend/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyIsValid(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.True(t, ValidateKey(key))

	other, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	payload := map[string]any{
		"email":       "seller@example.com",
		"password":    "hunter2",
		"channel_url": "https://youtube.com/@channel",
		"_category":   "youtube",
	}

	blob, err := Encrypt(payload, key)
	require.NoError(t, err)

	got, err := Decrypt(blob, key)
	require.NoError(t, err)
	assert.Equal(t, "seller@example.com", got["email"])
	assert.Equal(t, "hunter2", got["password"])
	assert.Equal(t, "youtube", got["_category"])
}

func TestNormalizeKeyForms(t *testing.T) {
	// The same 32 bytes under three historical encodings must normalize
	// to one canonical base64 key.
	raw := "0123456789abcdefghijklmnopqrstuv" // 32 chars, used byte-for-byte
	hexForm := hex.EncodeToString([]byte(raw))
	b64Form := base64.StdEncoding.EncodeToString([]byte(raw))

	fromRaw, err := NormalizeKey(raw)
	require.NoError(t, err)
	fromHex, err := NormalizeKey(hexForm)
	require.NoError(t, err)
	fromB64, err := NormalizeKey(b64Form)
	require.NoError(t, err)

	assert.Equal(t, b64Form, fromRaw)
	assert.Equal(t, fromRaw, fromHex)
	assert.Equal(t, fromRaw, fromB64)
}

func TestNormalizedFormsDecryptEachOther(t *testing.T) {
	raw := "abcdefghijklmnopqrstuvwxyz012345"
	hexForm := hex.EncodeToString([]byte(raw))

	keyA, err := NormalizeKey(raw)
	require.NoError(t, err)
	keyB, err := NormalizeKey(hexForm)
	require.NoError(t, err)

	blob, err := Encrypt(map[string]any{"domain_registrar": "example"}, keyA)
	require.NoError(t, err)

	got, err := Decrypt(blob, keyB)
	require.NoError(t, err)
	assert.Equal(t, "example", got["domain_registrar"])
}

func TestNormalizeKeyRejectsGarbage(t *testing.T) {
	for _, k := range []string{
		"",
		"short",
		"not-base64-not-hex-and-not-32-bytes-long-at-all!!",
		base64.StdEncoding.EncodeToString([]byte("only-sixteen-byt")),
	} {
		_, err := NormalizeKey(k)
		assert.Error(t, err, "key %q", k)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	keyA, err := GenerateKey()
	require.NoError(t, err)
	keyB, err := GenerateKey()
	require.NoError(t, err)

	blob, err := Encrypt(map[string]any{"password": "hunter2"}, keyA)
	require.NoError(t, err)

	_, err = Decrypt(blob, keyB)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrDecryption)
}

func TestDecryptRejectsBadBlobs(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name string
		blob string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"too short for iv", base64.StdEncoding.EncodeToString([]byte("tiny"))},
		{"iv only", base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"unaligned ciphertext", base64.StdEncoding.EncodeToString(make([]byte, 16+7))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.blob, key)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrDecryption)
		})
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	blob, err := Encrypt(map[string]any{"password": "hunter2"}, key)
	require.NoError(t, err)

	data, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(data)

	_, err = Decrypt(tampered, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrDecryption)
}

func TestEncryptWithFixedIVIsDeterministic(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	iv := make([]byte, 16)
	for i := range iv {
		iv[i] = byte(i)
	}
	payload := map[string]any{"username": "admin"}

	a, err := encryptWithIV(payload, key, iv)
	require.NoError(t, err)
	b, err := encryptWithIV(payload, key, iv)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// A fresh random IV must change the blob.
	c, err := Encrypt(payload, key)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
