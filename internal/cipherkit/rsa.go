package cipherkit

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"fmt"
)

// ParsePublicKey parses a client-supplied RSA public key from the fixed-size
// wire field. The blob is DER, either PKIX (SubjectPublicKeyInfo) or PKCS#1;
// keys shorter than the field arrive right-padded with zeros, so parsing is
// retried with trailing zeros stripped.
func ParsePublicKey(blob []byte) (*rsa.PublicKey, error) {
	candidates := [][]byte{blob}
	if trimmed := bytes.TrimRight(blob, "\x00"); len(trimmed) != len(blob) {
		candidates = append(candidates, trimmed)
	}

	for _, der := range candidates {
		if key, err := x509.ParsePKIXPublicKey(der); err == nil {
			rsaKey, ok := key.(*rsa.PublicKey)
			if !ok {
				return nil, fmt.Errorf("public key is %T, want RSA", key)
			}
			return rsaKey, nil
		}
		if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
			return key, nil
		}
	}

	return nil, fmt.Errorf("public key blob is not a DER-encoded RSA key")
}

// EncryptSessionKey wraps a session key under the client's public key using
// RSA-OAEP with SHA-1, the scheme transfer clients expect. The ciphertext
// length equals the key's modulus size; callers propagate it to the response
// encoder explicitly.
func EncryptSessionKey(pub *rsa.PublicKey, sessionKey []byte) ([]byte, error) {
	encrypted, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt session key: %w", err)
	}
	return encrypted, nil
}
