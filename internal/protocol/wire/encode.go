package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// ============================================================================
// Response frames (server → client)
// ============================================================================

// RegisterSuccessFrame builds a RegisterSuccess response carrying the newly
// assigned client id.
func RegisterSuccessFrame(id uuid.UUID) []byte {
	return responseFrame(CodeRegisterSuccess, id[:])
}

// RegistrationFailedFrame builds the empty-payload RegistrationFailed response.
func RegistrationFailedFrame() []byte {
	return responseFrame(CodeRegistrationFailed, nil)
}

// ExchangeAESFrame builds an ExchangeAES response carrying the requesting
// client's id and the RSA-encrypted session key.
//
// The encrypted blob's length depends on the client key's modulus size, so
// the caller must pass it explicitly; the codec never guesses lengths from
// the data it is handed.
func ExchangeAESFrame(id uuid.UUID, encryptedKey []byte, keyLen int) ([]byte, error) {
	if len(encryptedKey) != keyLen {
		return nil, fmt.Errorf("encrypted key is %d bytes, declared %d", len(encryptedKey), keyLen)
	}

	payload := make([]byte, 0, ClientIDSize+keyLen)
	payload = append(payload, id[:]...)
	payload = append(payload, encryptedKey...)

	return responseFrame(CodeExchangeAES, payload), nil
}

// FileUploadedFrame builds a FileUploaded response carrying the client id,
// the stored byte count, the file name and the CRC-32 of the stored bytes.
func FileUploadedFrame(id uuid.UUID, size uint32, fileName string, checksum uint32) ([]byte, error) {
	nameField, err := encodeNameField(fileName)
	if err != nil {
		return nil, fmt.Errorf("file uploaded frame: %w", err)
	}

	payload := make([]byte, 0, ClientIDSize+4+NameFieldSize+4)
	payload = append(payload, id[:]...)
	payload = binary.LittleEndian.AppendUint32(payload, size)
	payload = append(payload, nameField...)
	payload = binary.LittleEndian.AppendUint32(payload, checksum)

	return responseFrame(CodeFileUploaded, payload), nil
}

// MessageOKFrame builds the empty-payload MessageOK response.
func MessageOKFrame() []byte {
	return responseFrame(CodeMessageOK, nil)
}

// responseFrame prefixes the payload with a response header whose payload
// size field is computed from the encoded payload.
func responseFrame(code ResponseCode, payload []byte) []byte {
	frame := make([]byte, 0, ResponseHeaderSize+len(payload))
	frame = append(frame, ProtocolVersion)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(code))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	return frame
}

// ============================================================================
// Request frames (client → server; used by tests and client tooling)
// ============================================================================

// RegisterRequestFrame builds a Register request frame.
func RegisterRequestFrame(id uuid.UUID, name string) ([]byte, error) {
	nameField, err := encodeNameField(name)
	if err != nil {
		return nil, err
	}
	return requestFrame(id, CodeRegister, nameField), nil
}

// KeyExchangeRequestFrame builds a KeyExchange request frame. The public key
// blob is right-padded with zeros to the fixed field size.
func KeyExchangeRequestFrame(id uuid.UUID, name string, publicKey []byte) ([]byte, error) {
	if len(publicKey) > PublicKeyFieldSize {
		return nil, fmt.Errorf("public key is %d bytes, field holds %d", len(publicKey), PublicKeyFieldSize)
	}
	nameField, err := encodeNameField(name)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, NameFieldSize+PublicKeyFieldSize)
	payload = append(payload, nameField...)
	payload = append(payload, publicKey...)
	payload = append(payload, make([]byte, PublicKeyFieldSize-len(publicKey))...)

	return requestFrame(id, CodeKeyExchange, payload), nil
}

// UploadRequestFrame builds an UploadFile request frame. The payload repeats
// the client id ahead of the size and name, matching the client's layout.
// The encrypted file bytes themselves follow the frame on the connection and
// are not part of it.
func UploadRequestFrame(id uuid.UUID, fileSize uint32, fileName string) ([]byte, error) {
	nameField, err := encodeNameField(fileName)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, ClientIDSize+4+NameFieldSize)
	payload = append(payload, id[:]...)
	payload = binary.LittleEndian.AppendUint32(payload, fileSize)
	payload = append(payload, nameField...)

	return requestFrame(id, CodeUploadFile, payload), nil
}

// ChecksumRequestFrame builds one of the three checksum-verdict request
// frames (ValidChecksum, InvalidChecksumRetry, InvalidChecksumAbort).
func ChecksumRequestFrame(id uuid.UUID, code RequestCode, fileName string) ([]byte, error) {
	switch code {
	case CodeValidChecksum, CodeInvalidChecksumRetry, CodeInvalidChecksumAbort:
	default:
		return nil, fmt.Errorf("request code %d is not a checksum verdict", uint16(code))
	}

	nameField, err := encodeNameField(fileName)
	if err != nil {
		return nil, err
	}
	return requestFrame(id, code, nameField), nil
}

func requestFrame(id uuid.UUID, code RequestCode, payload []byte) []byte {
	frame := make([]byte, 0, RequestHeaderSize+len(payload))
	frame = append(frame, id[:]...)
	frame = append(frame, ProtocolVersion)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(code))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	return frame
}

// encodeNameField encodes a name into the fixed 255-byte NUL-padded field.
// The name is written byte-for-byte; a name longer than the field (or one
// that would not round-trip because it embeds a NUL) is rejected.
func encodeNameField(name string) ([]byte, error) {
	if len(name) > NameFieldSize {
		return nil, fmt.Errorf("name is %d bytes, field holds %d", len(name), NameFieldSize)
	}
	if bytes.IndexByte([]byte(name), 0) >= 0 {
		return nil, fmt.Errorf("name contains a NUL byte")
	}

	field := make([]byte, NameFieldSize)
	copy(field, name)
	return field, nil
}
