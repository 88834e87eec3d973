package cipherkit

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Checksum computes the streaming CRC-32 (IEEE polynomial, zlib-compatible)
// over r. The same algorithm runs client-side to validate the transfer, so
// it must stay byte-for-byte deterministic.
func Checksum(r io.Reader) (uint32, error) {
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, r); err != nil {
		return 0, fmt.Errorf("checksum stream: %w", err)
	}
	return h.Sum32(), nil
}

// FileChecksum computes the CRC-32 of a stored file by re-reading it from
// disk, so the reported value covers exactly what was durably written.
func FileChecksum(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("checksum %s: %w", path, err)
	}
	defer f.Close()

	return Checksum(bufio.NewReader(f))
}
