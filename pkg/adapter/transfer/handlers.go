package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/gxav/droplock/internal/cipherkit"
	"github.com/gxav/droplock/internal/logger"
	"github.com/gxav/droplock/internal/protocol/wire"
	"github.com/gxav/droplock/pkg/registry"
)

// handleRegister creates a new user for the requested display name.
//
// A taken name is a recoverable condition: the client receives
// RegistrationFailed and may retry on the same connection with another name.
func (s *session) handleRegister(ctx context.Context, p wire.RegisterPayload) (string, error) {
	user, err := s.server.store.RegisterUser(ctx, p.Name)
	if err != nil {
		if errors.Is(err, registry.ErrNameTaken) {
			logger.Info("Registration rejected, name taken", "name", p.Name)
			s.server.metrics.RecordRegistration(false)
			return "rejected", s.writeFrame(wire.RegistrationFailedFrame())
		}
		return "", fmt.Errorf("register user: %w", err)
	}

	logger.Info("User registered", "name", user.Name, "client_id", user.ID)
	s.server.metrics.RecordRegistration(true)

	return "ok", s.writeFrame(wire.RegisterSuccessFrame(user.ID))
}

// handleKeyExchange parses the client's RSA public key, generates a fresh
// session key, stores both, and returns the session key encrypted under the
// public key. Each exchange invalidates the previous session key.
func (s *session) handleKeyExchange(ctx context.Context, clientID uuid.UUID, p wire.KeyExchangePayload) (string, error) {
	pub, err := cipherkit.ParsePublicKey(p.PublicKey)
	if err != nil {
		return "", fmt.Errorf("parse public key: %w", err)
	}

	sessionKey, err := cipherkit.GenerateSessionKey()
	if err != nil {
		return "", fmt.Errorf("generate session key: %w", err)
	}

	// The key is durable before the client can learn it: a crash after this
	// point never leaves the client holding a key the server forgot.
	if err := s.server.store.SetKeys(ctx, clientID, p.PublicKey, sessionKey); err != nil {
		return "", fmt.Errorf("store keys: %w", err)
	}

	encrypted, err := cipherkit.EncryptSessionKey(pub, sessionKey)
	if err != nil {
		return "", fmt.Errorf("encrypt session key: %w", err)
	}

	frame, err := wire.ExchangeAESFrame(clientID, encrypted, pub.Size())
	if err != nil {
		return "", err
	}

	logger.Info("Session key issued", "client_id", clientID, "name", p.Name)
	return "ok", s.writeFrame(frame)
}

// handleUpload consumes the declared ciphertext stream, decrypting it chunk
// by chunk into the user's storage slot, then reports the CRC-32 of the
// stored bytes for the client-side integrity comparison.
//
// An upload without a prior key exchange is fatal: the stream cannot be
// decrypted and there is no protocol frame to refuse it with.
func (s *session) handleUpload(ctx context.Context, clientID uuid.UUID, p wire.UploadPayload) (string, error) {
	store := s.server.store

	if p.ClientID != clientID {
		// The payload repeats the id for wire-layout compatibility only; the
		// header copy is authoritative.
		logger.Debug("Upload payload id differs from header",
			"header_id", clientID, "payload_id", p.ClientID)
	}

	sessionKey, err := store.SessionKey(ctx, clientID)
	if err != nil {
		return "", fmt.Errorf("upload of %q: %w", p.FileName, err)
	}

	// The slot lock serializes this write against a concurrent delete or
	// replacement of the same user's file from another connection.
	unlock := store.LockSlot(clientID)
	defer unlock()

	path, err := store.FilePath(clientID, p.FileName)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}

	written, err := s.receiveFile(sessionKey, path, int64(p.FileSize))
	if err != nil {
		return "", fmt.Errorf("receive %q: %w", p.FileName, err)
	}

	// Record the slot as unverified until the client confirms the checksum.
	// A re-upload of any name replaces the slot entirely.
	if err := store.PutFile(ctx, &registry.File{
		OwnerID:     clientID,
		FileName:    p.FileName,
		StoragePath: path,
	}); err != nil {
		return "", fmt.Errorf("record file slot: %w", err)
	}

	// The checksum is recomputed from the stored file, not the in-flight
	// stream, so the reported value covers exactly what landed on disk.
	sum, err := cipherkit.FileChecksum(path)
	if err != nil {
		return "", fmt.Errorf("checksum stored file: %w", err)
	}

	s.server.metrics.RecordUploadBytes(uint64(p.FileSize), uint64(written))
	logger.Info("File uploaded",
		"client_id", clientID,
		"file", p.FileName,
		"bytes", written,
		"crc32", fmt.Sprintf("0x%08x", sum))

	frame, err := wire.FileUploadedFrame(clientID, uint32(written), p.FileName, sum)
	if err != nil {
		return "", err
	}
	return "ok", s.writeFrame(frame)
}

// receiveFile streams ciphertext off the connection into path, decrypting in
// fixed-size chunks. On any failure the partial file is removed; the slot
// never points at truncated bytes.
func (s *session) receiveFile(sessionKey []byte, path string, ciphertextSize int64) (int64, error) {
	dec, err := cipherkit.NewStreamDecrypter(sessionKey)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	written, err := dec.Copy(f, s.reader, ciphertextSize)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return written, err
	}

	// Durable before the response: a FileUploaded answer must survive a
	// crash immediately after it is sent.
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return written, fmt.Errorf("sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return written, fmt.Errorf("close file: %w", err)
	}

	return written, nil
}

// handleChecksumVerdict applies the client's integrity verdict to its file
// slot. All three verdicts acknowledge with MessageOK; verdicts against an
// empty slot are no-ops rather than errors, since an abort may race a
// replacement upload from another connection.
func (s *session) handleChecksumVerdict(ctx context.Context, clientID uuid.UUID, code wire.RequestCode, p wire.ChecksumPayload) (string, error) {
	store := s.server.store

	// Verdicts mutate the same slot an upload writes into. Holding the slot
	// lock queues an abort behind an in-flight upload for the same user on
	// another connection instead of unlinking the file under it.
	unlock := store.LockSlot(clientID)
	defer unlock()

	switch code {
	case wire.CodeValidChecksum:
		s.server.metrics.RecordChecksumVerdict("valid")
		err := store.MarkFileVerified(ctx, clientID)
		switch {
		case errors.Is(err, registry.ErrNoFile):
			logger.Debug("Checksum confirmation for empty slot ignored",
				"client_id", clientID, "file", p.FileName)
		case err != nil:
			return "", fmt.Errorf("mark verified: %w", err)
		default:
			logger.Info("File verified", "client_id", clientID, "file", p.FileName)
		}

	case wire.CodeInvalidChecksumRetry:
		// The client re-sends the upload; the unverified slot stays as-is
		// and the retry replaces it.
		s.server.metrics.RecordChecksumVerdict("retry")
		logger.Info("Checksum mismatch, client retrying",
			"client_id", clientID, "file", p.FileName)

	case wire.CodeInvalidChecksumAbort:
		s.server.metrics.RecordChecksumVerdict("abort")
		if err := store.DeleteFile(ctx, clientID); err != nil {
			return "", fmt.Errorf("delete aborted file: %w", err)
		}
		logger.Info("Transfer aborted by client",
			"client_id", clientID, "file", p.FileName)

	default:
		return "", fmt.Errorf("request code %s is not a checksum verdict", code)
	}

	return "ok", s.writeFrame(wire.MessageOKFrame())
}
