// Package wire implements the fixed-layout binary protocol spoken between
// droplock clients and the server.
//
// All multi-byte integers are little-endian with fixed widths. Text fields
// are fixed-size buffers right-padded with NUL bytes; decoding truncates at
// the first NUL and preserves every other byte value verbatim (names are
// client-controlled and may contain arbitrary bytes).
package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// ProtocolVersion is the protocol version byte carried in every header.
const ProtocolVersion = 3

// Fixed field sizes on the wire.
const (
	ClientIDSize       = 16  // 128-bit client identifier
	NameFieldSize      = 255 // user and file name fields, NUL-padded
	PublicKeyFieldSize = 160 // DER-encoded RSA public key blob

	RequestHeaderSize  = ClientIDSize + 1 + 2 + 4 // id + version + code + payload size
	ResponseHeaderSize = 1 + 2 + 4                // version + code + payload size
)

// RequestCode identifies a client request type.
type RequestCode uint16

const (
	CodeRegister             RequestCode = 1100
	CodeKeyExchange          RequestCode = 1101
	CodeUploadFile           RequestCode = 1103
	CodeValidChecksum        RequestCode = 1104
	CodeInvalidChecksumRetry RequestCode = 1105
	CodeInvalidChecksumAbort RequestCode = 1106
)

// String returns the request code name for logging.
func (c RequestCode) String() string {
	switch c {
	case CodeRegister:
		return "REGISTER"
	case CodeKeyExchange:
		return "KEY_EXCHANGE"
	case CodeUploadFile:
		return "UPLOAD_FILE"
	case CodeValidChecksum:
		return "VALID_CHECKSUM"
	case CodeInvalidChecksumRetry:
		return "INVALID_CHECKSUM_RETRY"
	case CodeInvalidChecksumAbort:
		return "INVALID_CHECKSUM_ABORT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(c))
	}
}

// ParseRequestCode validates a raw code value against the closed set of
// recognized request codes. An unrecognized value is malformed input and
// must never silently become a default variant.
func ParseRequestCode(v uint16) (RequestCode, error) {
	switch c := RequestCode(v); c {
	case CodeRegister, CodeKeyExchange, CodeUploadFile,
		CodeValidChecksum, CodeInvalidChecksumRetry, CodeInvalidChecksumAbort:
		return c, nil
	default:
		return 0, fmt.Errorf("unrecognized request code %d", v)
	}
}

// ResponseCode identifies a server response type.
type ResponseCode uint16

const (
	CodeRegisterSuccess    ResponseCode = 2100
	CodeRegistrationFailed ResponseCode = 2101
	CodeExchangeAES        ResponseCode = 2102
	CodeFileUploaded       ResponseCode = 2103
	CodeMessageOK          ResponseCode = 2104
)

// String returns the response code name for logging.
func (c ResponseCode) String() string {
	switch c {
	case CodeRegisterSuccess:
		return "REGISTER_SUCCESS"
	case CodeRegistrationFailed:
		return "REGISTRATION_FAILED"
	case CodeExchangeAES:
		return "EXCHANGE_AES"
	case CodeFileUploaded:
		return "FILE_UPLOADED"
	case CodeMessageOK:
		return "MESSAGE_OK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(c))
	}
}

// RequestHeader is the fixed 23-byte header preceding every request payload.
type RequestHeader struct {
	ClientID    uuid.UUID
	Version     uint8
	Code        RequestCode
	PayloadSize uint32
}

// Payload is the closed set of request payload shapes. Exactly one payload
// type exists per request code; the compiler enforces exhaustive handling
// at the dispatch boundary via type switches over this interface.
type Payload interface {
	isPayload()
}

// RegisterPayload carries the display name for a registration request.
type RegisterPayload struct {
	Name string
}

// KeyExchangePayload carries the echoed display name and the client's
// DER-encoded RSA public key.
type KeyExchangePayload struct {
	Name      string
	PublicKey []byte
}

// UploadPayload declares the size and name of the encrypted file stream
// that immediately follows it on the connection. The client id repeats the
// one in the request header; the header copy is authoritative.
type UploadPayload struct {
	ClientID uuid.UUID
	FileSize uint32
	FileName string
}

// ChecksumPayload identifies the file a checksum verdict refers to. It is
// shared by the ValidChecksum, InvalidChecksumRetry and InvalidChecksumAbort
// codes, which differ only in their header code.
type ChecksumPayload struct {
	FileName string
}

func (RegisterPayload) isPayload()    {}
func (KeyExchangePayload) isPayload() {}
func (UploadPayload) isPayload()      {}
func (ChecksumPayload) isPayload()    {}
