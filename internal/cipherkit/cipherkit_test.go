package cipherkit

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSessionKey(t *testing.T) {
	k1, err := GenerateSessionKey()
	require.NoError(t, err)
	require.Len(t, k1, SessionKeySize)

	k2, err := GenerateSessionKey()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2, "two generated keys must differ")
}

func TestEncryptSessionKey_RoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	sessionKey, err := GenerateSessionKey()
	require.NoError(t, err)

	encrypted, err := EncryptSessionKey(&priv.PublicKey, sessionKey)
	require.NoError(t, err)
	assert.Len(t, encrypted, priv.PublicKey.Size(), "ciphertext length equals modulus size")

	decrypted, err := rsa.DecryptOAEP(sha1.New(), nil, priv, encrypted, nil)
	require.NoError(t, err)
	assert.Equal(t, sessionKey, decrypted)
}

func TestParsePublicKey_PKCS1WithPadding(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	der := x509.MarshalPKCS1PublicKey(&priv.PublicKey)

	// The wire field is fixed-size; shorter keys arrive zero-padded.
	padded := make([]byte, len(der)+12)
	copy(padded, der)

	parsed, err := ParsePublicKey(padded)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(&priv.PublicKey))
}

func TestParsePublicKey_PKIX(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	parsed, err := ParsePublicKey(der)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(&priv.PublicKey))
}

func TestParsePublicKey_Garbage(t *testing.T) {
	_, err := ParsePublicKey(bytes.Repeat([]byte{0x5A}, 160))
	assert.Error(t, err)
}

// encryptCBC mirrors the client side: AES-CBC with the protocol's implicit
// all-zero IV over the whole plaintext at once.
func encryptCBC(t *testing.T, key, plaintext []byte) []byte {
	t.Helper()
	require.Zero(t, len(plaintext)%aes.BlockSize)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, plaintext)
	return out
}

func TestStreamDecrypter_MatchesWholeStreamDecryption(t *testing.T) {
	key, err := GenerateSessionKey()
	require.NoError(t, err)

	// Larger than one chunk and not a chunk multiple, so the decrypter
	// crosses chunk boundaries and finishes with a short chunk.
	plaintext := make([]byte, 3*UploadChunkSize+256)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)

	ciphertext := encryptCBC(t, key, plaintext)

	dec, err := NewStreamDecrypter(key)
	require.NoError(t, err)

	var got bytes.Buffer
	n, err := dec.Copy(&got, bytes.NewReader(ciphertext), int64(len(ciphertext)))
	require.NoError(t, err)
	assert.EqualValues(t, len(plaintext), n)
	assert.Equal(t, plaintext, got.Bytes(), "chunked decryption must carry CBC state across chunks")
}

func TestStreamDecrypter_RejectsPartialBlocks(t *testing.T) {
	key, err := GenerateSessionKey()
	require.NoError(t, err)

	dec, err := NewStreamDecrypter(key)
	require.NoError(t, err)

	_, err = dec.Copy(&bytes.Buffer{}, bytes.NewReader(make([]byte, 100)), 100)
	assert.Error(t, err)
}

func TestStreamDecrypter_ShortStream(t *testing.T) {
	key, err := GenerateSessionKey()
	require.NoError(t, err)

	dec, err := NewStreamDecrypter(key)
	require.NoError(t, err)

	// Declared size exceeds what the peer sends: the read must fail, not
	// hang on a silent short frame.
	_, err = dec.Copy(&bytes.Buffer{}, bytes.NewReader(make([]byte, 16)), 32)
	assert.Error(t, err)
}

func TestChecksum_KnownValue(t *testing.T) {
	// Standard CRC-32 check value for "123456789".
	sum, err := Checksum(bytes.NewReader([]byte("123456789")))
	require.NoError(t, err)
	assert.EqualValues(t, 0xCBF43926, sum)
}

func TestChecksum_Deterministic(t *testing.T) {
	data := make([]byte, 8192)
	_, err := rand.Read(data)
	require.NoError(t, err)

	s1, err := Checksum(bytes.NewReader(data))
	require.NoError(t, err)
	s2, err := Checksum(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	data[4000] ^= 0x01
	s3, err := Checksum(bytes.NewReader(data))
	require.NoError(t, err)
	assert.NotEqual(t, s1, s3, "a single flipped byte must change the checksum")
}

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte("123456789"), 0o644))

	sum, err := FileChecksum(path)
	require.NoError(t, err)
	assert.EqualValues(t, 0xCBF43926, sum)

	_, err = FileChecksum(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
