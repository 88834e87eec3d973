// Package cipherkit implements the cryptographic operations of the transfer
// protocol: session key generation, RSA-OAEP key wrapping, streaming AES-CBC
// decryption of uploads, and the CRC-32 integrity checksum.
package cipherkit

import (
	"crypto/rand"
	"fmt"
)

// SessionKeySize is the fixed size of the per-session AES key. It is a
// protocol constant, not negotiated.
const SessionKeySize = 16

// GenerateSessionKey returns a fresh uniformly random session key. A new key
// is generated on every key exchange and replaces any previous one.
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return key, nil
}
