package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// ReadRequestHeader reads and parses the fixed 23-byte request header.
//
// EOF is returned unwrapped when the peer closes the connection cleanly on
// the frame boundary (zero bytes read), so callers can distinguish a normal
// disconnect from a truncated header (io.ErrUnexpectedEOF).
func ReadRequestHeader(r io.Reader) (*RequestHeader, error) {
	var buf [RequestHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read request header: %w", err)
	}

	id, err := uuid.FromBytes(buf[0:ClientIDSize])
	if err != nil {
		return nil, fmt.Errorf("parse client id: %w", err)
	}

	code, err := ParseRequestCode(binary.LittleEndian.Uint16(buf[17:19]))
	if err != nil {
		return nil, err
	}

	return &RequestHeader{
		ClientID:    id,
		Version:     buf[16],
		Code:        code,
		PayloadSize: binary.LittleEndian.Uint32(buf[19:23]),
	}, nil
}

// ReadPayload reads the fixed-layout payload associated with the given
// request code. The mapping from code to payload shape is closed; every
// recognized code has exactly one shape.
func ReadPayload(r io.Reader, code RequestCode) (Payload, error) {
	switch code {
	case CodeRegister:
		return readRegisterPayload(r)
	case CodeKeyExchange:
		return readKeyExchangePayload(r)
	case CodeUploadFile:
		return readUploadPayload(r)
	case CodeValidChecksum, CodeInvalidChecksumRetry, CodeInvalidChecksumAbort:
		return readChecksumPayload(r)
	default:
		return nil, fmt.Errorf("no payload shape for request code %d", uint16(code))
	}
}

func readRegisterPayload(r io.Reader) (Payload, error) {
	name, err := readNameField(r)
	if err != nil {
		return nil, fmt.Errorf("register payload: %w", err)
	}
	return RegisterPayload{Name: name}, nil
}

func readKeyExchangePayload(r io.Reader) (Payload, error) {
	name, err := readNameField(r)
	if err != nil {
		return nil, fmt.Errorf("key exchange payload: %w", err)
	}

	key := make([]byte, PublicKeyFieldSize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key exchange payload: read public key: %w", err)
	}

	return KeyExchangePayload{Name: name, PublicKey: key}, nil
}

func readUploadPayload(r io.Reader) (Payload, error) {
	var idBuf [ClientIDSize]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return nil, fmt.Errorf("upload payload: read client id: %w", err)
	}
	id, err := uuid.FromBytes(idBuf[:])
	if err != nil {
		return nil, fmt.Errorf("upload payload: parse client id: %w", err)
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, fmt.Errorf("upload payload: read file size: %w", err)
	}

	name, err := readNameField(r)
	if err != nil {
		return nil, fmt.Errorf("upload payload: %w", err)
	}

	return UploadPayload{
		ClientID: id,
		FileSize: binary.LittleEndian.Uint32(sizeBuf[:]),
		FileName: name,
	}, nil
}

func readChecksumPayload(r io.Reader) (Payload, error) {
	name, err := readNameField(r)
	if err != nil {
		return nil, fmt.Errorf("checksum payload: %w", err)
	}
	return ChecksumPayload{FileName: name}, nil
}

// readNameField reads a fixed 255-byte NUL-padded text field and truncates
// at the first NUL. The conversion is byte-preserving: every byte value
// 0x01-0xFF round-trips, nothing is validated as UTF-8.
func readNameField(r io.Reader) (string, error) {
	buf := make([]byte, NameFieldSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read name field: %w", err)
	}
	return string(truncateAtNul(buf)), nil
}

// truncateAtNul cuts the buffer at the first NUL byte, discarding the
// terminator and anything after it.
func truncateAtNul(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
