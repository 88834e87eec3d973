package cipherkit

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// UploadChunkSize is the unit in which upload ciphertext is read from the
// connection and decrypted. It must be a multiple of the AES block size so
// that every chunk decrypts on a block boundary with CBC state carried
// across chunks.
const UploadChunkSize = 1024

// StreamDecrypter decrypts an upload ciphertext stream incrementally.
//
// The cipher is AES-128-CBC initialized with an all-zero IV: transfer
// clients encrypt with the same implicit-IV convention, and reproducing it
// bit-for-bit is required for wire compatibility. Carrying an explicit IV
// would need a protocol version bump.
type StreamDecrypter struct {
	mode cipher.BlockMode
}

// NewStreamDecrypter creates a decrypter for one upload stream. A fresh
// decrypter is required per upload; CBC state is stateful across chunks.
func NewStreamDecrypter(sessionKey []byte) (*StreamDecrypter, error) {
	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, fmt.Errorf("init upload cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	return &StreamDecrypter{mode: cipher.NewCBCDecrypter(block, iv)}, nil
}

// Copy reads exactly n ciphertext bytes from src in fixed-size chunks,
// decrypts each chunk as it arrives, and writes the plaintext to dst. It
// never buffers the whole stream: the declared size governs how many bytes
// are consumed from the connection.
//
// Returns the number of plaintext bytes written. n must be a multiple of the
// cipher block size (CBC ciphertext always is).
func (d *StreamDecrypter) Copy(dst io.Writer, src io.Reader, n int64) (int64, error) {
	if n%aes.BlockSize != 0 {
		return 0, fmt.Errorf("ciphertext size %d is not a multiple of the cipher block size", n)
	}

	buf := make([]byte, UploadChunkSize)
	var written int64

	for remaining := n; remaining > 0; {
		chunk := buf
		if remaining < int64(len(buf)) {
			chunk = buf[:remaining]
		}

		if _, err := io.ReadFull(src, chunk); err != nil {
			return written, fmt.Errorf("read upload stream: %w", err)
		}

		d.mode.CryptBlocks(chunk, chunk)

		wrote, err := dst.Write(chunk)
		written += int64(wrote)
		if err != nil {
			return written, fmt.Errorf("write decrypted chunk: %w", err)
		}

		remaining -= int64(len(chunk))
	}

	return written, nil
}
