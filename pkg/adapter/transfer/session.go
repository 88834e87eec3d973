package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gxav/droplock/internal/logger"
	"github.com/gxav/droplock/internal/protocol/wire"
)

// session serves one client connection. Requests on a connection are
// strictly sequential: the next header is not read until the previous
// request's response has been written, matching the client's lockstep
// request/response model.
//
// Sessions hold no user state between requests. Every request is resolved
// against the registry by the client id in its header, so a user's state is
// consistent even when the client reconnects mid-conversation.
type session struct {
	server *Adapter
	conn   net.Conn
	reader *bufio.Reader
}

func newSession(server *Adapter, conn net.Conn) *session {
	return &session{
		server: server,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// Serve processes requests until the client disconnects, a fatal protocol
// error occurs, or the context is cancelled.
func (s *session) Serve(ctx context.Context) {
	remote := s.conn.RemoteAddr().String()

	defer func() {
		if err := s.conn.Close(); err != nil {
			logger.Debug("Error closing connection", "address", remote, "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Connection closed by shutdown", "address", remote)
			return
		default:
		}

		// Idle deadline covers the wait for the next request header.
		if idle := s.server.config.Timeouts.Idle; idle > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				logger.Warn("Failed to set idle deadline", "address", remote, "error", err)
			}
		}

		header, err := wire.ReadRequestHeader(s.reader)
		if err != nil {
			switch {
			case err == io.EOF:
				logger.Debug("Connection closed by client", "address", remote)
			case isTimeout(err):
				logger.Debug("Connection idle timeout", "address", remote)
			default:
				logger.Warn("Malformed request header, closing connection",
					"address", remote, "error", err)
			}
			return
		}

		if err := s.handleRequest(ctx, header); err != nil {
			logger.Warn("Request failed, closing connection",
				"address", remote,
				"client_id", header.ClientID,
				"code", header.Code.String(),
				"error", err)
			return
		}
	}
}

// handleRequest reads the request payload and dispatches it. A returned
// error is fatal to this connection only; the registry and other sessions
// are unaffected.
func (s *session) handleRequest(ctx context.Context, header *wire.RequestHeader) error {
	code := header.Code.String()
	start := time.Now()

	s.server.metrics.RecordRequestStart(code)
	defer s.server.metrics.RecordRequestEnd(code)

	if header.Version != wire.ProtocolVersion {
		// Old clients are tolerated; responses always carry the server's
		// own version byte.
		logger.Debug("Client version differs from server",
			"client_id", header.ClientID, "client_version", header.Version)
	}

	// Everything except registration addresses an existing user. An unknown
	// id means a client the server has no record of; there is no meaningful
	// response frame for it, so the connection terminates.
	if header.Code != wire.CodeRegister {
		if _, err := s.server.store.GetUser(ctx, header.ClientID); err != nil {
			s.server.metrics.RecordRequest(code, time.Since(start), "error")
			return fmt.Errorf("resolve user: %w", err)
		}
		if err := s.server.store.TouchLastSeen(ctx, header.ClientID, time.Now()); err != nil {
			logger.Debug("Failed to record activity", "client_id", header.ClientID, "error", err)
		}
	}

	// Payload reads get the read timeout; the idle deadline only covers the
	// gap between requests.
	if read := s.server.config.Timeouts.Read; read > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(read)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	payload, err := wire.ReadPayload(s.reader, header.Code)
	if err != nil {
		s.server.metrics.RecordRequest(code, time.Since(start), "error")
		return err
	}

	var outcome string
	switch p := payload.(type) {
	case wire.RegisterPayload:
		outcome, err = s.handleRegister(ctx, p)
	case wire.KeyExchangePayload:
		outcome, err = s.handleKeyExchange(ctx, header.ClientID, p)
	case wire.UploadPayload:
		outcome, err = s.handleUpload(ctx, header.ClientID, p)
	case wire.ChecksumPayload:
		outcome, err = s.handleChecksumVerdict(ctx, header.ClientID, header.Code, p)
	default:
		err = fmt.Errorf("no handler for payload %T", payload)
	}

	if err != nil {
		outcome = "error"
	}
	s.server.metrics.RecordRequest(code, time.Since(start), outcome)

	return err
}

// writeFrame sends one response frame under the write timeout.
func (s *session) writeFrame(frame []byte) error {
	if write := s.server.config.Timeouts.Write; write > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(write)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
